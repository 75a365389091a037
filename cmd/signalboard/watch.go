package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/signalboard/internal/channel"
	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/notify"
)

var (
	watchAddr   string
	watchAPIKey string
	watchLimit  int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live signals from a running server",
	Long: `Connect to a signalboard server's websocket, print a notification for
every new signal and refresh the recent signal list on every (re)connect and
after every push. Unclean disconnects are retried every few seconds.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runWatch(ctx, cmd.OutOrStdout())
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "http://localhost:8000", "server base URL")
	watchCmd.Flags().StringVar(&watchAPIKey, "api-key", os.Getenv("SIGNALBOARD_API_KEY"), "API key sent as X-API-Key")
	watchCmd.Flags().IntVar(&watchLimit, "limit", 10, "signals to list on each refresh")
}

func runWatch(ctx context.Context, out io.Writer) error {
	lister := &signalLister{
		base:   strings.TrimRight(watchAddr, "/"),
		apiKey: watchAPIKey,
		limit:  watchLimit,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	wsURL, err := websocketURL(lister.base)
	if err != nil {
		return err
	}

	header := http.Header{}
	if watchAPIKey != "" {
		header.Set("X-API-Key", watchAPIKey)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Fetches run off the client's callback goroutine so a slow API never
	// delays message dispatch.
	refresh := make(chan struct{}, 1)
	trigger := func() {
		select {
		case refresh <- struct{}{}:
		default:
		}
	}

	c := channel.New(wsURL,
		channel.WithHeader(header),
		channel.WithLogger(logger),
		channel.WithStateFunc(func(s channel.State) {
			fmt.Fprintf(out, "-- %s\n", s)
			if s == channel.StateOpen {
				trigger()
			}
		}),
		channel.WithErrorFunc(func(err error) {
			fmt.Fprintf(out, "-- %v\n", err)
		}),
	)
	c.OnSignal(func(sig domain.Signal) {
		title, msg := notify.FormatSignal(sig)
		fmt.Fprintf(out, "\n%s\n%s\n", title, msg)
		trigger()
	})

	go func() {
		for {
			select {
			case <-c.Done():
				return
			case <-refresh:
				lister.print(ctx, out)
			}
		}
	}()

	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// websocketURL maps an http(s) base URL to the server's /ws endpoint.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse addr %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("addr %q: unsupported scheme %q", base, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// signalLister fetches the recent signal listing over the REST API.
type signalLister struct {
	base   string
	apiKey string
	limit  int
	client *http.Client
}

func (l *signalLister) fetch(ctx context.Context) ([]domain.Signal, error) {
	u := fmt.Sprintf("%s/api/signals?limit=%d", l.base, l.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if l.apiKey != "" {
		req.Header.Set("X-API-Key", l.apiKey)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list signals: status %d", resp.StatusCode)
	}
	var body struct {
		Signals []domain.Signal `json:"signals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("list signals: decode: %w", err)
	}
	return body.Signals, nil
}

func (l *signalLister) print(ctx context.Context, out io.Writer) {
	signals, err := l.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			fmt.Fprintf(out, "-- %v\n", err)
		}
		return
	}
	fmt.Fprintf(out, "-- %d recent signals\n", len(signals))
	for _, s := range signals {
		fmt.Fprintf(out, "%s  %-24s %-10s %-4s %-22s %.2f\n",
			s.Timestamp.Format(time.RFC3339), s.StrategyName, s.InstrumentName, s.Timeframe, s.SignalType, s.Price)
	}
}
