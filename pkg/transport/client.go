// Package transport maintains the live streaming channel to a session
// endpoint: it frames outbound commands, decodes inbound events, and
// recovers from connection loss with bounded exponential backoff.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agentdeck/pkg/protocol"
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	// StateFailed is terminal: the retry budget is exhausted and no
	// further automatic reconnection will happen.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by Send after an explicit Disconnect.
var ErrClosed = errors.New("transport: client closed")

// Handlers receives decoded server events. Every event arrives on the
// read-loop goroutine, in wire order.
type Handlers struct {
	// OnEvent is called for each decoded inbound event.
	OnEvent func(ev *protocol.Event)

	// OnDisconnect is called once when the connection is terminally
	// down: either Disconnect was called or the retry budget ran out.
	// The error is nil for an explicit disconnect.
	OnDisconnect func(err error)
}

// Config holds transport tuning. Zero values pick the defaults.
type Config struct {
	// BaseURL is the platform's HTTP base, e.g. "http://localhost:8000".
	// The streaming endpoint is derived from it.
	BaseURL string

	// BackoffBase is the first reconnect delay; it doubles per attempt.
	BackoffBase time.Duration

	// BackoffCap bounds a single reconnect delay.
	BackoffCap time.Duration

	// MaxRetries bounds consecutive failed reconnect attempts before
	// the client settles into StateFailed.
	MaxRetries int

	// DialTimeout bounds a single dial.
	DialTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// Client owns a single persistent connection to a session endpoint.
// It never reaches into conversation state; decoded events flow out
// through the Handlers contract only.
type Client struct {
	cfg Config

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	sessionID string
	handlers  Handlers
	queue     []protocol.Frame
	retries   int
	timer     *time.Timer
	lastErr   error
	closed    bool

	// gen increments on every Connect/Disconnect so goroutines and
	// timers from a torn-down connection cannot act on the new one.
	gen int
}

// New creates a transport client for the given platform base URL.
func New(cfg Config) *Client {
	cfg.withDefaults()
	return &Client{cfg: cfg, state: StateIdle}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session the client is associated with.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connect associates the client with a session and starts connecting.
// Any prior connection is torn down first; the retry counter resets.
// Establishment is asynchronous: failures feed the backoff machinery
// and surface through OnDisconnect only after the budget is spent.
func (c *Client) Connect(sessionID string, h Handlers) error {
	if sessionID == "" {
		return errors.New("transport: empty session id")
	}

	c.mu.Lock()
	c.teardownLocked()
	c.gen++
	gen := c.gen
	c.sessionID = sessionID
	c.handlers = h
	c.retries = 0
	c.lastErr = nil
	c.closed = false
	c.state = StateConnecting
	c.mu.Unlock()

	go c.attempt(gen)
	return nil
}

// Send transmits a user message, or queues it in FIFO order while the
// channel is down. Queued messages flush the moment it reopens.
func (c *Client) Send(content string) error {
	if content == "" {
		return errors.New("transport: empty message")
	}
	frame := protocol.MessageFrame(content)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state == StateOpen && c.conn != nil {
		return c.writeLocked(frame)
	}
	c.queue = append(c.queue, frame)
	slog.Debug("Queued message while disconnected", "queueLen", len(c.queue))
	return nil
}

// Cancel asks the backend to stop the in-progress turn. There is
// nothing to cancel on a closed channel, so this is a no-op unless
// the connection is open.
func (c *Client) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.conn == nil {
		return
	}
	if err := c.writeLocked(protocol.CancelFrame()); err != nil {
		slog.Error("Failed to send cancel", "error", err)
	}
}

// Ping sends a liveness probe when the connection is open.
func (c *Client) Ping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.conn == nil {
		return
	}
	if err := c.writeLocked(protocol.PingFrame(time.Now().UnixMilli())); err != nil {
		slog.Error("Failed to send ping", "error", err)
	}
}

// QueueLen reports the number of commands waiting for the channel to
// reopen.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Disconnect closes the channel, discards the outbound queue, clears
// handlers, and suppresses any pending reconnection. The client can be
// reused with a fresh Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.closed = true
	c.teardownLocked()
	c.queue = nil
	c.sessionID = ""
	c.state = StateIdle
	h := c.handlers
	c.handlers = Handlers{}
	c.mu.Unlock()

	if h.OnDisconnect != nil {
		h.OnDisconnect(nil)
	}
}

// teardownLocked stops the reconnect timer and closes the socket.
func (c *Client) teardownLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) writeLocked(f protocol.Frame) error {
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(f)
}

// endpoint derives the streaming URL for the current session.
func (c *Client) endpoint(sessionID string) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/chat/" + sessionID
	return u.String(), nil
}

// attempt dials once. On success it drains the queue and starts the
// read loop; on failure it schedules the next backoff attempt.
func (c *Client) attempt(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	c.state = StateConnecting
	c.mu.Unlock()

	addr, err := c.endpoint(sessionID)
	if err != nil {
		c.connFailed(gen, err)
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.Dial(addr, nil)
	if err != nil {
		slog.Warn("Dial failed", "addr", addr, "error", err)
		c.connFailed(gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.retries = 0
	c.lastErr = nil

	// Flush commands queued while disconnected, in original order.
	pending := c.queue
	c.queue = nil
	for i, f := range pending {
		if err := c.writeLocked(f); err != nil {
			// Re-queue what did not make it and let the read loop
			// notice the broken connection.
			c.queue = append(c.queue, pending[i:]...)
			slog.Error("Failed to flush queued command", "error", err)
			break
		}
	}
	c.mu.Unlock()

	slog.Info("Connected", "sessionID", sessionID)
	go c.readLoop(conn, gen)
}

// readLoop decodes inbound frames until the connection breaks. A
// malformed frame is dropped with a diagnostic; it never terminates
// the loop or the connection.
func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.connFailed(gen, err)
			return
		}

		ev, err := protocol.Decode(raw)
		if err != nil {
			slog.Warn("Dropping malformed frame", "error", err)
			continue
		}
		if ev == nil {
			// Unknown frame type: ignore for forward compatibility.
			continue
		}

		c.mu.Lock()
		stale := gen != c.gen
		h := c.handlers
		c.mu.Unlock()
		if stale {
			return
		}
		if h.OnEvent != nil {
			h.OnEvent(ev)
		}
	}
}

// connFailed records a connection loss and schedules the next attempt,
// or settles into StateFailed once the budget is spent.
func (c *Client) connFailed(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.lastErr = err
	c.retries++

	if c.retries > c.cfg.MaxRetries {
		c.state = StateFailed
		h := c.handlers
		last := c.lastErr
		c.mu.Unlock()
		slog.Error("Reconnect budget exhausted", "error", last)
		if h.OnDisconnect != nil {
			h.OnDisconnect(last)
		}
		return
	}

	c.state = StateClosed
	attempt := c.retries
	delay := c.backoff(attempt)
	c.timer = time.AfterFunc(delay, func() { c.attempt(gen) })
	c.mu.Unlock()
	slog.Info("Reconnecting", "attempt", attempt, "delay", delay)
}

// backoff returns the delay before the nth attempt: base doubled per
// attempt, bounded by the cap.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.BackoffCap {
			return c.cfg.BackoffCap
		}
	}
	if d > c.cfg.BackoffCap {
		return c.cfg.BackoffCap
	}
	return d
}
