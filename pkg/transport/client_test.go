package transport

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"agentdeck/pkg/mockbackend"
	"agentdeck/pkg/protocol"
)

// collector gathers handler callbacks for assertions.
type collector struct {
	mu          sync.Mutex
	events      []*protocol.Event
	disconnects []error
}

func (c *collector) handlers() Handlers {
	return Handlers{
		OnEvent: func(ev *protocol.Event) {
			c.mu.Lock()
			c.events = append(c.events, ev)
			c.mu.Unlock()
		},
		OnDisconnect: func(err error) {
			c.mu.Lock()
			c.disconnects = append(c.disconnects, err)
			c.mu.Unlock()
		},
	}
}

func (c *collector) snapshot() []*protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.Event(nil), c.events...)
}

func (c *collector) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.disconnects)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func (c *collector) hasEvent(typ protocol.EventType) func() bool {
	return func() bool {
		for _, ev := range c.snapshot() {
			if ev.Type == typ {
				return true
			}
		}
		return false
	}
}

func newTestBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(mockbackend.New(mockbackend.EchoScript()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := New(Config{
		BaseURL:     baseURL,
		BackoffBase: 10 * time.Millisecond,
		BackoffCap:  50 * time.Millisecond,
		MaxRetries:  3,
		DialTimeout: time.Second,
	})
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnectAndStream(t *testing.T) {
	srv := newTestBackend(t)
	c := newTestClient(t, srv.URL)
	col := &collector{}

	if err := c.Connect("sess-1", col.handlers()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, 2*time.Second, col.hasEvent(protocol.EventConnected), "connected event")

	if st := c.State(); st != StateOpen {
		t.Errorf("State = %v, want open", st)
	}

	if err := c.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, 2*time.Second, col.hasEvent(protocol.EventComplete), "complete event")

	// Reassemble the streamed reply and check the full event sequence.
	var content string
	sawStart, sawStep := false, false
	for _, ev := range col.snapshot() {
		switch ev.Type {
		case protocol.EventStart:
			sawStart = true
		case protocol.EventStep:
			sawStep = true
		case protocol.EventToken:
			content += ev.Token
		}
	}
	if !sawStart || !sawStep {
		t.Errorf("missing events: start=%v step=%v", sawStart, sawStep)
	}
	if content != "You said: hello" {
		t.Errorf("streamed content = %q, want %q", content, "You said: hello")
	}
}

func TestSendQueuesWhileDisconnected(t *testing.T) {
	srv := newTestBackend(t)
	c := newTestClient(t, srv.URL)
	col := &collector{}

	// Queue before any connection exists.
	if err := c.Send("first"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.Send("second"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := c.QueueLen(); n != 2 {
		t.Fatalf("QueueLen = %d, want 2", n)
	}

	if err := c.Connect("sess-q", col.handlers()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		n := 0
		for _, ev := range col.snapshot() {
			if ev.Type == protocol.EventComplete {
				n++
			}
		}
		return n == 2
	}, "both queued turns to complete")

	if n := c.QueueLen(); n != 0 {
		t.Errorf("QueueLen = %d after flush, want 0", n)
	}

	// Token order must follow queue order.
	var content string
	for _, ev := range col.snapshot() {
		if ev.Type == protocol.EventToken {
			content += ev.Token
		}
	}
	want := "You said: firstYou said: second"
	if content != want {
		t.Errorf("replies = %q, want %q", content, want)
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	srv := newTestBackend(t)
	c := newTestClient(t, srv.URL)
	col := &collector{}

	if err := c.Connect("sess-r", col.handlers()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, 2*time.Second, col.hasEvent(protocol.EventConnected), "first connect")

	before := len(col.snapshot())

	// Kill the live socket. The listener keeps serving, so the next
	// backoff attempt lands on a fresh connection.
	srv.CloseClientConnections()

	waitFor(t, 3*time.Second, func() bool {
		evs := col.snapshot()
		for _, ev := range evs[min(before, len(evs)):] {
			if ev.Type == protocol.EventConnected {
				return true
			}
		}
		return false
	}, "reconnect")

	if st := c.State(); st != StateOpen {
		t.Errorf("State = %v after reconnect, want open", st)
	}
	if n := col.disconnectCount(); n != 0 {
		t.Errorf("OnDisconnect fired %d times during a recoverable drop", n)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	// Point at a server that is already gone.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	col := &collector{}
	if err := c.Connect("sess-f", col.handlers()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		return c.State() == StateFailed
	}, "StateFailed")

	if n := col.disconnectCount(); n != 1 {
		t.Errorf("OnDisconnect fired %d times, want exactly 1", n)
	}
	col.mu.Lock()
	err := col.disconnects[0]
	col.mu.Unlock()
	if err == nil {
		t.Error("terminal OnDisconnect carried a nil error")
	}

	// Give the machinery a beat: no further attempts may fire.
	time.Sleep(200 * time.Millisecond)
	if n := col.disconnectCount(); n != 1 {
		t.Errorf("OnDisconnect fired again after StateFailed (%d total)", n)
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{
		BaseURL:     url,
		BackoffBase: time.Hour, // a pending timer we expect to be cancelled
		MaxRetries:  5,
		DialTimeout: time.Second,
	})
	col := &collector{}
	if err := c.Connect("sess-d", col.handlers()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return c.State() == StateClosed
	}, "first dial failure")

	c.Disconnect()
	if st := c.State(); st != StateIdle {
		t.Errorf("State = %v after Disconnect, want idle", st)
	}
	if n := col.disconnectCount(); n != 1 {
		t.Errorf("OnDisconnect fired %d times, want 1", n)
	}
	col.mu.Lock()
	err := col.disconnects[0]
	col.mu.Unlock()
	if err != nil {
		t.Errorf("explicit disconnect carried error %v, want nil", err)
	}

	if err := c.Send("late"); err != ErrClosed {
		t.Errorf("Send after Disconnect = %v, want ErrClosed", err)
	}
}

func TestMalformedFrameDoesNotKillReadLoop(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteJSON(protocol.ConnectedFrame("sess-m", "agent"))
		ws.WriteMessage(websocket.TextMessage, []byte("{{{ not json"))
		ws.WriteJSON(protocol.TokenFrame("still alive"))
		// Hold the socket open until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	col := &collector{}
	if err := c.Connect("sess-m", col.handlers()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, 2*time.Second, col.hasEvent(protocol.EventToken), "token after malformed frame")
	if st := c.State(); st != StateOpen {
		t.Errorf("State = %v, want open", st)
	}
}

func TestPingPong(t *testing.T) {
	srv := newTestBackend(t)
	c := newTestClient(t, srv.URL)
	col := &collector{}

	if err := c.Connect("sess-p", col.handlers()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, 2*time.Second, col.hasEvent(protocol.EventConnected), "connected event")

	c.Ping()
	waitFor(t, 2*time.Second, col.hasEvent(protocol.EventPong), "pong")
}

func TestEndpointDerivation(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws/chat/s1"},
		{"https://deck.example.com", "wss://deck.example.com/ws/chat/s1"},
		{"ws://localhost:8000", "ws://localhost:8000/ws/chat/s1"},
	}
	for _, tc := range cases {
		c := New(Config{BaseURL: tc.base})
		got, err := c.endpoint("s1")
		if err != nil {
			t.Errorf("endpoint(%q): %v", tc.base, err)
			continue
		}
		if got != tc.want {
			t.Errorf("endpoint(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}

	c := New(Config{BaseURL: "ftp://nope"})
	if _, err := c.endpoint("s1"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestBackoffSchedule(t *testing.T) {
	c := New(Config{
		BaseURL:     "http://localhost",
		BackoffBase: time.Second,
		BackoffCap:  30 * time.Second,
	})
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for i, w := range want {
		if got := c.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestConnectRejectsEmptySession(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:8000"})
	if err := c.Connect("", Handlers{}); err == nil {
		t.Error("expected error for empty session id")
	}
}
