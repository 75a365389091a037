package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/metrics"
)

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	sub       chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, sub: make(chan []byte, 8)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.sub, nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	return b.Publish(context.Background(), stream, payload)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, bus domain.SignalBus, cfg Config) (*Hub, *httptest.Server, *metrics.Metrics) {
	t.Helper()
	hub := NewHub(bus, cfg, testLogger())
	m := metrics.New()
	hub.SetMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv, m
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) domain.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestConnectedAckThenSignalsInOrder(t *testing.T) {
	hub, srv, m := startHub(t, nil, Config{})
	conn := dial(t, srv)

	ack := readEnvelope(t, conn)
	assert.Equal(t, domain.MessageConnected, ack.Type)
	var payload domain.ConnectedAck
	require.NoError(t, json.Unmarshal(ack.Data, &payload))
	assert.NotEmpty(t, payload.ClientID)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSClients))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, hub.PublishSignal(context.Background(), domain.Signal{ID: id, SignalType: "custom"}))
	}
	for _, want := range []string{"a", "b", "c"} {
		env := readEnvelope(t, conn)
		require.Equal(t, domain.MessageNewSignal, env.Type)
		var sig domain.Signal
		require.NoError(t, json.Unmarshal(env.Data, &sig))
		assert.Equal(t, want, sig.ID)
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	hub, srv, _ := startHub(t, nil, Config{})
	a, b := dial(t, srv), dial(t, srv)
	readEnvelope(t, a)
	readEnvelope(t, b)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.PublishSignal(context.Background(), domain.Signal{ID: "x"}))
	assert.Equal(t, domain.MessageNewSignal, readEnvelope(t, a).Type)
	assert.Equal(t, domain.MessageNewSignal, readEnvelope(t, b).Type)
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, srv, m := startHub(t, nil, Config{})
	conn := dial(t, srv)
	readEnvelope(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WSClients))
}

func TestRelayFromBus(t *testing.T) {
	bus := newFakeBus()
	hub, srv, _ := startHub(t, bus, Config{Channel: "ch:signal"})
	conn := dial(t, srv)
	readEnvelope(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	data, err := encodeSignal(domain.Signal{ID: "relayed"})
	require.NoError(t, err)
	bus.sub <- data

	env := readEnvelope(t, conn)
	var sig domain.Signal
	require.NoError(t, json.Unmarshal(env.Data, &sig))
	assert.Equal(t, "relayed", sig.ID)
}

// flakyBus fails the first Subscribe call.
type flakyBus struct {
	*fakeBus
	calls atomic.Int32
}

func (b *flakyBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if b.calls.Add(1) == 1 {
		return nil, errors.New("redis: connection refused")
	}
	return b.fakeBus.Subscribe(ctx, channel)
}

func TestRelayResubscribesAfterFailure(t *testing.T) {
	bus := &flakyBus{fakeBus: newFakeBus()}
	hub, srv, _ := startHub(t, bus, Config{Channel: "ch:signal", ResubscribeDelay: 10 * time.Millisecond})
	conn := dial(t, srv)
	readEnvelope(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return bus.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	data, err := encodeSignal(domain.Signal{ID: "after-retry"})
	require.NoError(t, err)
	bus.sub <- data

	env := readEnvelope(t, conn)
	var sig domain.Signal
	require.NoError(t, json.Unmarshal(env.Data, &sig))
	assert.Equal(t, "after-retry", sig.ID)
}

func TestOriginCheck(t *testing.T) {
	_, srv, _ := startHub(t, nil, Config{AllowedOrigins: []string{"https://app.example"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBusPublisher(t *testing.T) {
	bus := newFakeBus()
	p := NewBusPublisher(bus, "ch:signal", "stream:signals", testLogger())

	require.NoError(t, p.PublishSignal(context.Background(), domain.Signal{ID: "s1"}))

	require.Len(t, bus.published["ch:signal"], 1)
	require.Len(t, bus.published["stream:signals"], 1)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(bus.published["ch:signal"][0], &env))
	assert.Equal(t, domain.MessageNewSignal, env.Type)
}
