// Package channel is the client side of the delivery channel: a websocket
// connection that dispatches {type, data} envelopes to registered handlers
// and reconnects after a fixed delay whenever it was not closed on purpose.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// DefaultReconnectDelay is the fixed wait between an unclean close and the
// next connection attempt.
const DefaultReconnectDelay = 3 * time.Second

// State is the lifecycle state of a Client.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ChannelError is a transport fault on the channel. It never stops the
// client; it only triggers a reconnect.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string { return "channel: " + e.Op + ": " + e.Err.Error() }

func (e *ChannelError) Unwrap() error { return e.Err }

// HandlerFunc receives the data of one envelope.
type HandlerFunc func(data json.RawMessage)

// Option configures a Client.
type Option func(*Client)

// WithReconnectDelay overrides DefaultReconnectDelay.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.delay = d }
}

// WithHeader sets headers sent on every handshake.
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithStateFunc registers a callback invoked on every state transition.
func WithStateFunc(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

// WithErrorFunc registers a callback for channel errors.
func WithErrorFunc(fn func(error)) Option {
	return func(c *Client) { c.onError = fn }
}

// Client maintains one delivery channel connection.
type Client struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	delay   time.Duration
	logger  *slog.Logger
	onState func(State)
	onError func(error)

	handlers map[string]HandlerFunc

	// cbMu keeps state callbacks in transition order. Callbacks may call
	// State but must not call Close.
	cbMu    sync.Mutex
	stateMu sync.Mutex
	state   State

	mu       sync.Mutex
	conn     *websocket.Conn
	timer    *time.Timer
	started  bool
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

// New creates a Client for url. Call Handle to register message handlers
// before Start.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:      url,
		dialer:   websocket.DefaultDialer,
		delay:    DefaultReconnectDelay,
		logger:   slog.Default(),
		handlers: make(map[string]HandlerFunc),
		state:    StateClosed,
		finished: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With(slog.String("component", "channel"))
	return c
}

// Handle registers fn for envelopes of msgType. Envelopes without a
// handler are ignored.
func (c *Client) Handle(msgType string, fn HandlerFunc) {
	c.handlers[msgType] = fn
}

// OnSignal registers a typed handler for new_signal envelopes.
func (c *Client) OnSignal(fn func(domain.Signal)) {
	c.Handle(domain.MessageNewSignal, func(data json.RawMessage) {
		var sig domain.Signal
		if err := json.Unmarshal(data, &sig); err != nil {
			c.logger.Warn("malformed signal payload", slog.String("error", err.Error()))
			return
		}
		fn(sig)
	})
}

// State returns the current state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.stateMu.Lock()
	prev := c.state
	c.state = s
	c.stateMu.Unlock()
	if prev == s {
		return
	}
	c.logger.Debug("state changed", slog.String("from", prev.String()), slog.String("to", s.String()))
	if c.onState != nil {
		c.onState(s)
	}
}

// Start begins connecting in the background. Cancelling ctx closes the
// client cleanly.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go func() {
		<-c.ctx.Done()
		_ = c.Close()
	}()
	go c.connect()
}

// Run starts the client and blocks until ctx is cancelled or Close is
// called.
func (c *Client) Run(ctx context.Context) error {
	c.Start(ctx)
	select {
	case <-ctx.Done():
		<-c.finished
		return ctx.Err()
	case <-c.finished:
		return nil
	}
}

// Done is closed once the client has closed for good.
func (c *Client) Done() <-chan struct{} { return c.finished }

// Close shuts the client down cleanly: it cancels any scheduled reconnect
// and closes the connection with a normal closure. No reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = conn.Close()
	}
	c.setState(StateClosed)
	close(c.finished)
	return err
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.timer = nil
	c.mu.Unlock()

	c.setState(StateConnecting)
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		c.fail(&ChannelError{Op: "dial", Err: err})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		c.setState(StateClosed)
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.setState(StateOpen)
	c.logger.Info("connected", slog.String("url", c.url))
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close()
			if current {
				c.fail(&ChannelError{Op: "read", Err: err})
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("ignoring malformed message", slog.String("error", err.Error()))
		return
	}
	fn, ok := c.handlers[env.Type]
	if !ok {
		c.logger.Debug("ignoring message", slog.String("type", env.Type))
		return
	}
	fn(env.Data)
}

// fail records an unclean closure and schedules the next attempt.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.setState(StateClosed)
		return
	}
	c.mu.Unlock()

	if !errors.Is(err, io.EOF) {
		c.logger.Warn("channel error", slog.String("error", err.Error()))
	}
	if c.onError != nil {
		c.onError(err)
	}
	c.setState(StateClosed)
	c.setState(StateReconnecting)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.setState(StateClosed)
		return
	}
	c.timer = time.AfterFunc(c.delay, c.connect)
	c.mu.Unlock()
}
