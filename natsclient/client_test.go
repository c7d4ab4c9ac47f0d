package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/c360/twinflow/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.Backoff())
	assert.Nil(t, client.Conn())
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	fakeClock := testclock.NewFakeClock(time.Now())
	client, err := NewClient("nats://invalid:4222",
		WithCircuitBreakerThreshold(3),
		WithClock(fakeClock),
	)
	require.NoError(t, err)

	client.recordFailure()
	client.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(3), client.Failures())
	assert.Equal(t, 2*time.Second, client.Backoff())

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)

	assert.True(t, fakeClock.HasWaiters())
	fakeClock.Step(time.Second)
	assert.Equal(t, StatusDisconnected, client.Status(), "circuit half-opens after the backoff")
}

func TestCircuitBreaker_BackoffIsCapped(t *testing.T) {
	client, err := NewClient("nats://invalid:4222",
		WithCircuitBreakerThreshold(1),
		WithMaxBackoff(4*time.Second),
		WithClock(testclock.NewFakeClock(time.Now())),
	)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, time.Second, client.Backoff())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestConnect_UnreachableServer(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(200*time.Millisecond),
		WithCircuitBreakerThreshold(2),
		WithClock(testclock.NewFakeClock(time.Now())),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StatusDisconnected, client.Status())

	err = client.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, client.GetStatus().LastFailureTime.IsZero())
}

func TestNotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "a", nil), ErrNotConnected)
	assert.ErrorIs(t, client.PublishMsg(ctx, nats.NewMsg("a")), ErrNotConnected)
	assert.ErrorIs(t, client.Subscribe(ctx, "a", func(context.Context, []byte) {}), ErrNotConnected)
	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, client.Close(ctx))
	assert.NoError(t, client.Close(ctx), "close is idempotent")
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, client.WaitForConnection(ctx), context.DeadlineExceeded)
}

func TestMetrics_ConnectionStatus(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	client, err := NewClient("nats://localhost:4222", WithMetrics(registry))
	require.NoError(t, err)

	client.setStatus(StatusConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().NATSConnected))

	client.handleReconnect(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().NATSReconnects))

	client.handleClosed(nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(registry.CoreMetrics().NATSConnected))
}

func TestCallbacks(t *testing.T) {
	var (
		mu      sync.Mutex
		changes []bool
	)
	reconnected := make(chan struct{}, 1)

	client, err := NewClient("nats://localhost:4222",
		WithHealthChangeCallback(func(healthy bool) {
			mu.Lock()
			changes = append(changes, healthy)
			mu.Unlock()
		}),
		WithReconnectCallback(func() { reconnected <- struct{}{} }),
	)
	require.NoError(t, err)

	client.handleReconnect(nil)
	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("reconnect callback not called")
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 1 && changes[0]
	}, time.Second, 10*time.Millisecond)
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}

	tc := NewTestClient(t)
	ctx := context.Background()

	received := make(chan *nats.Msg, 1)
	require.NoError(t, tc.Client.QueueSubscribeMsg(ctx, "twin.test", "workers",
		func(_ context.Context, msg *nats.Msg) {
			received <- msg
		}))

	msg := nats.NewMsg("twin.test")
	msg.Header.Set("Twin-Entity-Id", "org.eclipse:thing-1")
	msg.Data = []byte(`{"op":"retrieve"}`)
	require.NoError(t, tc.Client.PublishMsg(ctx, msg))

	select {
	case got := <-received:
		assert.Equal(t, "org.eclipse:thing-1", got.Header.Get("Twin-Entity-Id"))
		assert.JSONEq(t, `{"op":"retrieve"}`, string(got.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Positive(t, rtt)
}
