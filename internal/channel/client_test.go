package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

const testDelay = 30 * time.Millisecond

type testServer struct {
	*httptest.Server
	conns atomic.Int32
	// dropFirst makes the server kill the first connection after sending.
	dropFirst bool
}

func newTestServer(t *testing.T, dropFirst bool) *testServer {
	t.Helper()
	ts := &testServer{dropFirst: dropFirst}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := ts.conns.Add(1)

		send := func(msgType string, data any) {
			env, _ := domain.NewEnvelope(msgType, data)
			raw, _ := json.Marshal(env)
			_ = conn.WriteMessage(websocket.TextMessage, raw)
		}
		send(domain.MessageConnected, domain.ConnectedAck{ClientID: "c1"})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery","data":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		send(domain.MessageNewSignal, domain.Signal{ID: "sig-1", InstrumentName: "BTC/USD", SignalType: "ema_crossover_bullish", Price: 101.5})

		if ts.dropFirst && n == 1 {
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func (l *stateLog) count(s State) int {
	n := 0
	for _, st := range l.snapshot() {
		if st == s {
			n++
		}
	}
	return n
}

func TestDispatchesKnownTypesAndIgnoresOthers(t *testing.T) {
	ts := newTestServer(t, false)
	signals := make(chan domain.Signal, 1)
	var acks atomic.Int32

	c := New(ts.wsURL(), WithReconnectDelay(testDelay))
	c.Handle(domain.MessageConnected, func(json.RawMessage) { acks.Add(1) })
	c.OnSignal(func(sig domain.Signal) { signals <- sig })
	c.Start(context.Background())
	defer c.Close()

	select {
	case sig := <-signals:
		assert.Equal(t, "sig-1", sig.ID)
		assert.Equal(t, 101.5, sig.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("no signal received")
	}
	assert.Equal(t, int32(1), acks.Load())
	assert.Equal(t, StateOpen, c.State())
}

func TestUncleanCloseSchedulesReconnect(t *testing.T) {
	ts := newTestServer(t, true)
	log := &stateLog{}
	var chErr atomic.Value

	c := New(ts.wsURL(),
		WithReconnectDelay(testDelay),
		WithStateFunc(log.record),
		WithErrorFunc(func(err error) { chErr.Store(err) }),
	)
	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool { return ts.conns.Load() == 2 && c.State() == StateOpen },
		2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{
		StateConnecting, StateOpen,
		StateClosed, StateReconnecting,
		StateConnecting, StateOpen,
	}, log.snapshot())

	err, _ := chErr.Load().(error)
	var ce *ChannelError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "read", ce.Op)
}

func TestCleanCloseDoesNotReconnect(t *testing.T) {
	ts := newTestServer(t, false)
	log := &stateLog{}
	c := New(ts.wsURL(), WithReconnectDelay(testDelay), WithStateFunc(log.record))
	c.Start(context.Background())

	require.Eventually(t, func() bool { return c.State() == StateOpen }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	time.Sleep(5 * testDelay)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, int32(1), ts.conns.Load())
	assert.Equal(t, 0, log.count(StateReconnecting))
	<-c.Done()
}

func TestContextCancelIsClean(t *testing.T) {
	ts := newTestServer(t, false)
	c := New(ts.wsURL(), WithReconnectDelay(testDelay))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.State() == StateOpen }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	time.Sleep(5 * testDelay)
	assert.Equal(t, int32(1), ts.conns.Load())
	assert.Equal(t, StateClosed, c.State())
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ts.Close()

	log := &stateLog{}
	c := New(url, WithReconnectDelay(100*time.Millisecond), WithStateFunc(log.record))
	c.Start(context.Background())

	require.Eventually(t, func() bool { return c.State() == StateReconnecting }, 2*time.Second, 2*time.Millisecond)
	require.NoError(t, c.Close())

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, log.count(StateConnecting), "no attempt may follow Close")
	assert.Equal(t, StateClosed, c.State())
}
