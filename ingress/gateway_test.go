package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/c360/twinflow/config"
	"github.com/c360/twinflow/dispatch"
	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/metric"
	"github.com/c360/twinflow/twin"
)

type fakeTransport struct {
	mu           sync.Mutex
	handler      func(context.Context, *nats.Msg)
	subject      string
	queue        string
	published    []*nats.Msg
	subscribeErr error
}

func (f *fakeTransport) QueueSubscribeMsg(_ context.Context, subject, queue string, handler func(context.Context, *nats.Msg)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subject, f.queue, f.handler = subject, queue, handler
	return nil
}

func (f *fakeTransport) PublishMsg(_ context.Context, msg *nats.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeTransport) deliver(t *testing.T, reply string, payload any, header nats.Header) {
	t.Helper()

	data, ok := payload.([]byte)
	if !ok {
		var err error
		data, err = json.Marshal(payload)
		require.NoError(t, err)
	}

	f.mu.Lock()
	handler := f.handler
	subject := f.subject
	f.mu.Unlock()
	require.NotNil(t, handler, "gateway not subscribed")

	handler(context.Background(), &nats.Msg{Subject: subject, Reply: reply, Data: data, Header: header})
}

func (f *fakeTransport) replies(t *testing.T, subject string) []Reply {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Reply
	for _, msg := range f.published {
		if msg.Subject != subject {
			continue
		}
		var r Reply
		require.NoError(t, json.Unmarshal(msg.Data, &r))
		out = append(out, r)
	}
	return out
}

func (f *fakeTransport) waitReply(t *testing.T, subject string) Reply {
	t.Helper()
	var got []Reply
	require.Eventually(t, func() bool {
		got = f.replies(t, subject)
		return len(got) > 0
	}, 5*time.Second, 5*time.Millisecond, "no reply on %s", subject)
	return got[0]
}

func (f *fakeTransport) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Dispatch.Lanes = 2
	cfg.Limiter.MaxElements = 1000
	return cfg
}

func startGateway(t *testing.T, cfg *config.Config, store *twin.Store, opts ...Option) (*Gateway, *fakeTransport) {
	t.Helper()

	transport := &fakeTransport{}
	opts = append([]Option{WithClock(testclock.NewFakeClock(time.Now()))}, opts...)
	gw, err := NewGateway(cfg, transport, store, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, gw.Start(ctx))
	t.Cleanup(func() {
		_ = gw.Stop(5 * time.Second)
		cancel()
	})

	assert.Equal(t, cfg.NATS.Subject, transport.subject)
	assert.Equal(t, cfg.NATS.QueueGroup, transport.queue)
	return gw, transport
}

func TestGateway_ModifyThenRetrieve(t *testing.T) {
	store := twin.NewStore(nil)
	_, transport := startGateway(t, testConfig(), store)

	transport.deliver(t, "_INBOX.1", twin.Command{
		Op:         twin.OpModify,
		ThingID:    "pump-1",
		Attributes: map[string]any{"rpm": 100},
	}, nil)
	transport.deliver(t, "_INBOX.2", twin.Command{
		Op:            twin.OpRetrieve,
		ThingID:       "pump-1",
		CorrelationID: "c-42",
	}, nil)

	modified := transport.waitReply(t, "_INBOX.1")
	assert.Equal(t, StatusOK, modified.Status)
	assert.Equal(t, int64(1), modified.Revision)
	assert.Equal(t, "pump-1", modified.ThingID)
	_, err := uuid.Parse(modified.CorrelationID)
	assert.NoError(t, err, "generated correlation id")

	retrieved := transport.waitReply(t, "_INBOX.2")
	assert.Equal(t, StatusOK, retrieved.Status)
	assert.Equal(t, "c-42", retrieved.CorrelationID)
	require.NotNil(t, retrieved.Thing)
	assert.Equal(t, float64(100), retrieved.Thing.Attributes["rpm"])
}

func TestGateway_Headers(t *testing.T) {
	store := twin.NewStore(nil)
	_, transport := startGateway(t, testConfig(), store)

	header := nats.Header{}
	header.Set(HeaderEntityID, "valve-9")
	header.Set(HeaderSpecialLane, "true")
	transport.deliver(t, "_INBOX.a", twin.Command{Op: twin.OpModify, ThingID: "ignored"}, header)

	reply := transport.waitReply(t, "_INBOX.a")
	assert.Equal(t, StatusOK, reply.Status)
	assert.Equal(t, "valve-9", reply.ThingID)

	_, ok := store.Get("valve-9")
	assert.True(t, ok)
	_, ok = store.Get("ignored")
	assert.False(t, ok)

	bad := nats.Header{}
	bad.Set(HeaderSpecialLane, "maybe")
	transport.deliver(t, "_INBOX.b", twin.Command{Op: twin.OpModify, ThingID: "x"}, bad)

	reply = transport.waitReply(t, "_INBOX.b")
	assert.Equal(t, StatusInvalid, reply.Status)
	assert.Contains(t, reply.Error, HeaderSpecialLane)
}

func TestGateway_MalformedPayload(t *testing.T) {
	store := twin.NewStore(nil)
	gw, transport := startGateway(t, testConfig(), store)

	transport.deliver(t, "_INBOX.m", []byte("{not json"), nil)
	reply := transport.waitReply(t, "_INBOX.m")
	assert.Equal(t, StatusInvalid, reply.Status)
	assert.Contains(t, reply.Error, errors.ErrInvalidData.Error())

	transport.deliver(t, "", []byte("{not json"), nil)
	assert.Equal(t, 1, transport.publishedCount(), "no reply subject, no reply")
	assert.Equal(t, int64(0), gw.Stats().Engine.Received, "never submitted")
}

func TestGateway_DomainErrorsAreReplies(t *testing.T) {
	gw, transport := startGateway(t, testConfig(), twin.NewStore(nil))

	transport.deliver(t, "_INBOX.nf", twin.Command{Op: twin.OpRetrieve, ThingID: "ghost"}, nil)
	transport.deliver(t, "_INBOX.op", twin.Command{Op: "explode", ThingID: "ghost"}, nil)

	notFound := transport.waitReply(t, "_INBOX.nf")
	assert.Equal(t, StatusInvalid, notFound.Status)
	assert.Contains(t, notFound.Error, twin.ErrThingNotFound.Error())

	badOp := transport.waitReply(t, "_INBOX.op")
	assert.Equal(t, StatusInvalid, badOp.Status)

	assert.Equal(t, int64(0), gw.Stats().Engine.LaneFailures)
}

func TestGateway_FireAndForget(t *testing.T) {
	store := twin.NewStore(nil)
	results := make(chan Result, 1)
	_, transport := startGateway(t, testConfig(), store, WithResultObserver(func(r Result) {
		results <- r
	}))

	transport.deliver(t, "", twin.Command{Op: twin.OpModify, ThingID: "lamp"}, nil)

	select {
	case r := <-results:
		require.NoError(t, r.Err)
		assert.Equal(t, int64(1), r.Thing.Revision)
	case <-time.After(5 * time.Second):
		t.Fatal("no result")
	}
	assert.Equal(t, 0, transport.publishedCount())
}

func TestGateway_RateLimitedCommandsAreAnswered(t *testing.T) {
	cfg := testConfig()
	cfg.Dispatch.Lanes = 1
	cfg.Limiter.Window = config.Duration(time.Minute)
	cfg.Limiter.MaxElements = 2

	store := twin.NewStore(nil)
	gw, transport := startGateway(t, cfg, store)

	for i := 0; i < 4; i++ {
		transport.deliver(t, fmt.Sprintf("_INBOX.%d", i), twin.Command{Op: twin.OpModify, ThingID: "pump"}, nil)
	}

	for i := 0; i < 4; i++ {
		reply := transport.waitReply(t, fmt.Sprintf("_INBOX.%d", i))
		if i < 2 {
			assert.Equal(t, StatusOK, reply.Status, "command %d", i)
			continue
		}
		assert.Equal(t, StatusRateLimited, reply.Status, "command %d", i)
		assert.Equal(t, int64(60000), reply.RetryAfterMS)
	}

	thing, ok := store.Get("pump")
	require.True(t, ok)
	assert.Equal(t, int64(2), thing.Revision)

	stats := gw.Stats()
	assert.Equal(t, int64(2), stats.Allowed)
	assert.Equal(t, int64(2), stats.Rejected)
	assert.Equal(t, int64(4), stats.Buffer.Admitted)
}

func TestGateway_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	results := make(chan Result, 1)
	_, transport := startGateway(t, testConfig(), twin.NewStore(nil),
		WithMetrics(registry),
		WithResultObserver(func(r Result) { results <- r }))

	transport.deliver(t, "_INBOX.x", twin.Command{Op: twin.OpModify, ThingID: "fan"}, nil)
	select {
	case <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("no result")
	}

	core := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(core.RepliesSent.WithLabelValues("ingress", StatusOK)))
	assert.Equal(t, 1, testutil.CollectAndCount(core.ProcessingDuration))
}

func TestGateway_LifecycleAndHealth(t *testing.T) {
	transport := &fakeTransport{}
	gw, err := NewGateway(testConfig(), transport, twin.NewStore(nil))
	require.NoError(t, err)

	assert.True(t, gw.Health(context.Background()).IsUnhealthy(), "not started")

	require.NoError(t, gw.Start(context.Background()))
	assert.True(t, gw.Health(context.Background()).IsHealthy())

	require.NoError(t, gw.Stop(5*time.Second))
	assert.True(t, gw.Health(context.Background()).IsUnhealthy())

	outcome := gw.Submit(twin.Command{Op: twin.OpModify, ThingID: "late"}, nil)
	assert.Equal(t, dispatch.Failed, outcome.Admission)
	assert.ErrorIs(t, outcome.Cause, errors.ErrQueueClosed)
}

func TestGateway_SubscribeFailureStopsEngine(t *testing.T) {
	transport := &fakeTransport{subscribeErr: errors.ErrNoConnection}
	gw, err := NewGateway(testConfig(), transport, twin.NewStore(nil))
	require.NoError(t, err)

	err = gw.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoConnection)
	assert.True(t, gw.Health(context.Background()).IsUnhealthy())
}

func TestNewGateway_Validation(t *testing.T) {
	store := twin.NewStore(nil)
	transport := &fakeTransport{}

	_, err := NewGateway(nil, transport, store)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewGateway(testConfig(), nil, store)
	assert.True(t, errors.IsInvalid(err))

	bad := testConfig()
	bad.Buffer.MaxSize = 0
	_, err = NewGateway(bad, transport, store)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
