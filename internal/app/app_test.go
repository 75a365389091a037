package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalboard/internal/config"
	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/notify"
)

func testApp() *App {
	cfg := config.Defaults()
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestBuildSenders(t *testing.T) {
	assert.Empty(t, buildSenders(config.NotifyConfig{}))

	senders := buildSenders(config.NotifyConfig{
		TelegramToken:     "t",
		TelegramChatID:    "c",
		DiscordWebhookURL: "https://discord.example/hook",
		WebhookURL:        "https://hooks.example/in",
		WebhookSecret:     "s",
	})
	require.Len(t, senders, 3)
	names := []string{senders[0].Name(), senders[1].Name(), senders[2].Name()}
	assert.Equal(t, []string{"telegram", "discord", "webhook"}, names)
	_, ok := senders[2].(notify.SignalSender)
	assert.True(t, ok, "webhook sender receives structured signals")
}

func TestEveryRetriesAfterFailure(t *testing.T) {
	a := testApp()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- a.every(ctx, 5*time.Millisecond, "test", func(context.Context) error {
			if calls.Add(1) >= 3 {
				cancel()
			}
			return errors.New("boom")
		})
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("every did not stop after cancel")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestEveryDisabledForNonPositiveInterval(t *testing.T) {
	a := testApp()
	err := a.every(context.Background(), 0, "off", func(context.Context) error {
		t.Fatal("must not run")
		return nil
	})
	assert.NoError(t, err)
}

func TestWaitReady(t *testing.T) {
	ready := make(chan struct{})
	close(ready)
	assert.True(t, waitReady(context.Background(), ready))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, waitReady(ctx, make(chan struct{})))
}

type fakeLocker struct {
	held     bool
	released int
}

func (f *fakeLocker) TryLock(context.Context, string, time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return func() { f.released++ }, nil
}

type fakeArchiver struct {
	calls  int
	before time.Time
	err    error
}

func (f *fakeArchiver) ArchiveSignals(_ context.Context, before time.Time) (int64, error) {
	f.calls++
	f.before = before
	return 4, f.err
}

func TestArchiveOnceUsesRetention(t *testing.T) {
	a := testApp()
	arch := &fakeArchiver{}
	deps := &Dependencies{Archiver: arch}

	require.NoError(t, a.archiveOnce(context.Background(), deps, 48*time.Hour))
	assert.Equal(t, 1, arch.calls)
	assert.WithinDuration(t, time.Now().Add(-48*time.Hour), arch.before, time.Minute)
}

func TestArchiveOnceSkipsWhenLockHeld(t *testing.T) {
	a := testApp()
	arch := &fakeArchiver{}
	deps := &Dependencies{Archiver: arch, Locks: &fakeLocker{held: true}}

	require.NoError(t, a.archiveOnce(context.Background(), deps, time.Hour))
	assert.Zero(t, arch.calls)
}

func TestArchiveOnceReleasesLockOnlyOnFailure(t *testing.T) {
	a := testApp()
	lock := &fakeLocker{}
	arch := &fakeArchiver{}
	deps := &Dependencies{Archiver: arch, Locks: lock}

	require.NoError(t, a.archiveOnce(context.Background(), deps, time.Hour))
	assert.Zero(t, lock.released)

	arch.err = errors.New("s3 down")
	assert.Error(t, a.archiveOnce(context.Background(), deps, time.Hour))
	assert.Equal(t, 1, lock.released)
}
