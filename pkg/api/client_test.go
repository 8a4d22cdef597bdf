package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"agentdeck/pkg/mockbackend"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := httptest.NewServer(mockbackend.New(mockbackend.EchoScript()).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestChat(t *testing.T) {
	c := newTestClient(t)

	resp, err := c.Chat(context.Background(), ChatRequest{Content: "hello"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message != "You said: hello" {
		t.Errorf("Message = %q, want %q", resp.Message, "You said: hello")
	}
	if !resp.Success {
		t.Error("Success = false, want true")
	}
	if resp.SessionID == "" {
		t.Error("SessionID is empty")
	}
	if len(resp.Steps) != 1 {
		t.Errorf("len(Steps) = %d, want 1", len(resp.Steps))
	}
}

func TestChatEmptyContent(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Error("expected error for empty content")
	}
}

func TestSessionLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	resp, err := c.Chat(ctx, ChatRequest{Content: "hi", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.SessionID != "sess-1" {
		t.Fatalf("SessionID = %q, want sess-1", resp.SessionID)
	}

	sessions, err := c.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "sess-1" {
		t.Errorf("sessions = %+v, want single sess-1", sessions)
	}
	if sessions[0].MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", sessions[0].MessageCount)
	}

	detail, err := c.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(detail.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(detail.Messages))
	}
	if detail.Messages[0].Content != "hi" || detail.Messages[1].Content != "You said: hi" {
		t.Errorf("messages = %+v", detail.Messages)
	}

	if err := c.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := c.GetSession(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession after delete = %v, want ErrNotFound", err)
	}
}

func TestNotFound(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if _, err := c.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession = %v, want ErrNotFound", err)
	}
	if err := c.DeleteSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteSession = %v, want ErrNotFound", err)
	}
	if _, err := c.SessionArtifacts(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SessionArtifacts = %v, want ErrNotFound", err)
	}
}

func TestListTools(t *testing.T) {
	c := newTestClient(t)

	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if tools.AgentName != "GeneralAgent" {
		t.Errorf("AgentName = %q, want GeneralAgent", tools.AgentName)
	}
}

func TestCheckHealth(t *testing.T) {
	c := newTestClient(t)

	h, err := c.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if h.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", h.Status)
	}
}

func TestErrorDetail(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"detail":"session not found"}`, "session not found"},
		{`{"error":"boom"}`, "boom"},
		{`plain text`, "plain text"},
		{``, "no error detail"},
	}
	for _, tc := range cases {
		if got := errorDetail(strings.NewReader(tc.body)); got != tc.want {
			t.Errorf("errorDetail(%q) = %q, want %q", tc.body, got, tc.want)
		}
	}
}
