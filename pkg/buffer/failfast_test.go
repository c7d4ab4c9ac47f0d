package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/twinflow/envelope"
	"github.com/c360/twinflow/errors"
	"github.com/c360/twinflow/metric"
	"github.com/c360/twinflow/stream"
)

type tooManyRequests struct {
	id string
}

func overloadFor(env envelope.Envelope[string]) any {
	return tooManyRequests{id: env.Message()}
}

// fakePorts records what the logic asks of its ports.
type fakePorts struct {
	pulls          int
	available      bool
	upstreamClosed bool
	pushed         []envelope.Envelope[string]
	completed      bool
}

func (f *fakePorts) Pull()                  { f.pulls++ }
func (f *fakePorts) HasBeenPulled() bool    { return false }
func (f *fakePorts) IsUpstreamClosed() bool { return f.upstreamClosed }
func (f *fakePorts) IsAvailable() bool      { return f.available }
func (f *fakePorts) Complete()              { f.completed = true }
func (f *fakePorts) Push(env envelope.Envelope[string]) {
	f.pushed = append(f.pushed, env)
	f.available = false
}

func (f *fakePorts) messages() []string {
	out := make([]string, 0, len(f.pushed))
	for _, env := range f.pushed {
		out = append(out, env.Message())
	}
	return out
}

func newTestFailFast(t *testing.T, maxSize int, opts ...Option) *FailFast[string] {
	t.Helper()
	ff, err := NewFailFast[string](maxSize, overloadFor, opts...)
	require.NoError(t, err)
	return ff
}

func TestNewFailFast_Validation(t *testing.T) {
	_, err := NewFailFast[string](0, overloadFor)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewFailFast[string](1, nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestFailFastLogic_NotifiesExactlyAtMaxSize(t *testing.T) {
	ff := newTestFailFast(t, 2)
	logic := ff.newLogic(context.Background())
	ports := &fakePorts{}
	replies := make(envelope.ChanRecipient, 10)

	logic.OnStart(ports)
	require.Equal(t, 1, ports.pulls)

	logic.OnPush(envelope.Of("m1", replies), ports)
	logic.OnPush(envelope.Of("m2", replies), ports)
	assert.Empty(t, replies, "below the threshold nobody is told")

	logic.OnPush(envelope.Of("m3", replies), ports)
	require.Len(t, replies, 1)
	assert.Equal(t, tooManyRequests{id: "m3"}, <-replies)

	logic.OnPush(envelope.Of("m4", replies), ports)
	assert.Empty(t, replies, "only the element arriving at exactly maxSize is told")

	assert.Equal(t, 5, ports.pulls, "producer is pulled after every element")
	assert.Equal(t, 4, logic.queue.Len(), "overloaded elements are still admitted")
	assert.Equal(t, int64(1), ff.Stats().Overloads())
	assert.Equal(t, int64(4), ff.Stats().HighWater())

	for i := 0; i < 4; i++ {
		ports.available = true
		logic.OnPull(ports)
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ports.messages())
	assert.False(t, ports.completed)

	ports.upstreamClosed = true
	logic.OnUpstreamFinish(ports)
	assert.True(t, ports.completed)
}

func TestFailFastLogic_FireAndForgetIsNotNotified(t *testing.T) {
	ff := newTestFailFast(t, 1)
	logic := ff.newLogic(context.Background())
	ports := &fakePorts{}

	logic.OnPush(envelope.Of("a", nil), ports)
	logic.OnPush(envelope.Of("b", nil), ports)

	assert.Equal(t, int64(0), ff.Stats().Overloads())
	assert.Equal(t, 2, logic.queue.Len())
}

func TestFailFastLogic_WaitingConsumerBypassesQueue(t *testing.T) {
	ff := newTestFailFast(t, 1)
	logic := ff.newLogic(context.Background())
	ports := &fakePorts{}

	logic.OnPull(&fakePorts{}) // empty queue, consumer waits
	ports.available = true
	logic.OnPush(envelope.Of("direct", nil), ports)

	assert.Equal(t, []string{"direct"}, ports.messages())
	assert.Equal(t, 0, logic.queue.Len())
	assert.Equal(t, int64(0), ff.Stats().CurrentSize())
}

func TestFailFastLogic_FlushesOnUpstreamFinish(t *testing.T) {
	ff := newTestFailFast(t, 8)
	logic := ff.newLogic(context.Background())
	ports := &fakePorts{}

	logic.OnPush(envelope.Of("a", nil), ports)
	logic.OnPush(envelope.Of("b", nil), ports)

	ports.upstreamClosed = true
	logic.OnUpstreamFinish(ports)
	assert.False(t, ports.completed, "buffered elements must be flushed first")

	ports.available = true
	logic.OnPull(ports)
	assert.False(t, ports.completed)

	ports.available = true
	logic.OnPull(ports)
	assert.True(t, ports.completed)
	assert.Equal(t, []string{"a", "b"}, ports.messages())
}

func TestFailFast_FlowPreservesOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ff := newTestFailFast(t, 2)
	replies := make(envelope.ChanRecipient, 100)

	input := make([]envelope.Envelope[string], 0, 50)
	want := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		msg := string(rune('A' + i%26))
		input = append(input, envelope.Of(msg, replies))
		want = append(want, msg)
	}

	out, err := stream.Collect(ctx, ff.Flow()(ctx, stream.FromSlice(ctx, input)))
	require.NoError(t, err)

	got := make([]string, 0, len(out))
	for _, env := range out {
		got = append(got, env.Message())
	}
	assert.Equal(t, want, got, "no element is dropped or reordered")
	assert.Equal(t, int64(50), ff.Stats().Delivered())
}

func TestFailFast_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	ff := newTestFailFast(t, 1, WithMetrics(registry, "commands"))

	logic := ff.newLogic(context.Background())
	ports := &fakePorts{}
	replies := make(envelope.ChanRecipient, 1)

	logic.OnPush(envelope.Of("a", replies), ports)
	logic.OnPush(envelope.Of("b", replies), ports)
	ports.available = true
	logic.OnPull(ports)

	assert.Equal(t, 2.0, testutil.ToFloat64(ff.metrics.admitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(ff.metrics.delivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(ff.metrics.overloads))
	assert.Equal(t, 1.0, testutil.ToFloat64(ff.metrics.size))

	_, err := NewFailFast[string](1, overloadFor, WithMetrics(registry, "commands"))
	assert.Error(t, err, "second registration under the same prefix must fail")
}

func TestFailFast_TellErrorIsCounted(t *testing.T) {
	ff := newTestFailFast(t, 1)
	logic := ff.newLogic(context.Background())
	ports := &fakePorts{}

	refusing := envelope.RecipientFunc(func(context.Context, any) error {
		return errors.ErrNoConnection
	})

	logic.OnPush(envelope.Of("a", refusing), ports)
	logic.OnPush(envelope.Of("b", refusing), ports)

	assert.Equal(t, int64(1), ff.Stats().Overloads())
	assert.Equal(t, int64(1), ff.Stats().TellErrors())
	assert.Equal(t, 2, logic.queue.Len(), "a refused notification does not affect admission")
}
