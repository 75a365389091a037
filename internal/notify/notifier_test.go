package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalboard/internal/crypto"
	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/metrics"
)

type fakeSender struct {
	name string
	err  error

	mu    sync.Mutex
	calls int
	last  string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = title + "|" + message
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{RatePerSecond: 1000, Burst: 100, SendTimeout: time.Second}
}

func goldenCross() domain.Signal {
	return domain.Signal{
		ID:             "sig-1",
		StrategyID:     "st-1",
		StrategyName:   "Golden cross",
		InstrumentID:   "btc",
		InstrumentName: "BTC/USD",
		Timeframe:      domain.Timeframe5m,
		SignalType:     "golden_cross",
		Price:          64250.5,
		Timestamp:      time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
	}
}

func TestFormatSignal(t *testing.T) {
	title, msg := FormatSignal(goldenCross())
	assert.Equal(t, "golden cross: BTC/USD", title)
	assert.Contains(t, msg, "Golden cross")
	assert.Contains(t, msg, "64250.50")
	assert.Contains(t, msg, "5m")
}

func TestDeliverReportsStatus(t *testing.T) {
	ok := &fakeSender{name: "ok"}
	bad := &fakeSender{name: "bad", err: errors.New("boom")}

	m := metrics.New()
	statuses := map[string]domain.SignalStatus{}
	n := NewNotifier([]Sender{ok}, nil, fastConfig(), testLogger())
	n.SetMetrics(m)
	n.SetStatusFunc(func(_ context.Context, id string, st domain.SignalStatus) { statuses[id] = st })

	n.deliver(context.Background(), goldenCross(), true)
	assert.Equal(t, domain.SignalStatusNotified, statuses["sig-1"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifySent.WithLabelValues("ok")))

	n2 := NewNotifier([]Sender{ok, bad}, nil, fastConfig(), testLogger())
	n2.SetMetrics(m)
	n2.SetStatusFunc(func(_ context.Context, id string, st domain.SignalStatus) { statuses[id] = st })
	n2.deliver(context.Background(), goldenCross(), true)

	assert.Equal(t, domain.SignalStatusNotifyFailed, statuses["sig-1"])
	assert.Equal(t, 2, ok.count(), "a failing sender must not block the others")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyFailures.WithLabelValues("bad")))
}

func TestUnpersistedSignalSkipsStatus(t *testing.T) {
	s := &fakeSender{name: "s"}
	n := NewNotifier([]Sender{s}, nil, fastConfig(), testLogger())
	calls := 0
	n.SetStatusFunc(func(context.Context, string, domain.SignalStatus) { calls++ })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.True(t, n.Enqueue(goldenCross(), false))
	require.Eventually(t, func() bool { return s.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Zero(t, calls, "no row exists to update")
}

func TestEventFilter(t *testing.T) {
	s := &fakeSender{name: "s"}
	n := NewNotifier([]Sender{s}, []string{"death_cross"}, fastConfig(), testLogger())

	n.deliver(context.Background(), goldenCross(), true)
	assert.Equal(t, 0, s.count())

	sig := goldenCross()
	sig.SignalType = "death_cross"
	n.deliver(context.Background(), sig, true)
	assert.Equal(t, 1, s.count())
}

func TestEnqueueNeverBlocks(t *testing.T) {
	cfg := fastConfig()
	cfg.QueueSize = 2
	n := NewNotifier(nil, nil, cfg, testLogger())

	assert.True(t, n.Enqueue(goldenCross(), true))
	assert.True(t, n.Enqueue(goldenCross(), true))
	assert.False(t, n.Enqueue(goldenCross(), true))
}

func TestRunDrainsQueue(t *testing.T) {
	s := &fakeSender{name: "s"}
	n := NewNotifier([]Sender{s}, nil, fastConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.True(t, n.Enqueue(goldenCross(), true))
	assert.Eventually(t, func() bool { return s.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("down")}
	cfg := fastConfig()
	cfg.BreakerFailures = 2
	cfg.BreakerCooldown = time.Hour
	n := NewNotifier([]Sender{bad}, nil, cfg, testLogger())

	for i := 0; i < 5; i++ {
		require.Error(t, n.Notify(context.Background(), "t", "m"))
	}
	assert.Equal(t, 2, bad.count(), "open breaker must short-circuit further sends")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")
}

func TestDiscordSenderSignalEmbed(t *testing.T) {
	var got struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sig := goldenCross()
	sig.Direction = domain.DirectionBullish
	require.NoError(t, NewDiscordSender(srv.URL).SendSignal(context.Background(), sig))
	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, "golden cross: BTC/USD", e.Title)
	assert.Equal(t, discordGreen, e.Color)
	assert.Equal(t, "2026-03-01T12:05:00Z", e.Timestamp)
	require.Len(t, e.Fields, 3)
	assert.Equal(t, "64250.5000", e.Fields[0].Value)
	assert.Equal(t, "5m", e.Fields[1].Value)
	assert.Equal(t, "bullish", e.Fields[2].Value)
}

func TestWebhookSenderSignsEnvelope(t *testing.T) {
	signer := crypto.WebhookSigner{Secret: "s3cret"}
	var env domain.Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		err = signer.Verify(body,
			r.Header.Get("X-Signalboard-Timestamp"),
			r.Header.Get("X-Signalboard-Signature"),
			time.Minute, time.Now())
		assert.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &env))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSender(srv.URL, "s3cret").SendSignal(context.Background(), goldenCross()))
	assert.Equal(t, domain.MessageNewSignal, env.Type)

	var sig domain.Signal
	require.NoError(t, json.Unmarshal(env.Data, &sig))
	assert.Equal(t, "sig-1", sig.ID)
}
