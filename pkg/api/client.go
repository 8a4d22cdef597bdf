// Package api is the request/response client for the platform's REST
// surface. It covers single-shot chat exchanges and session/artifact
// inspection when the streaming channel is unavailable or unwanted.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"agentdeck/pkg/domain"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("api: not found")

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Content   string         `json:"content"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// ChatResponse is the backend's single-shot chat reply.
type ChatResponse struct {
	SessionID  string                 `json:"session_id"`
	Message    string                 `json:"message"`
	Success    bool                   `json:"success"`
	Artifacts  []domain.Artifact      `json:"artifacts"`
	Steps      []domain.ExecutionStep `json:"steps"`
	DurationMS int64                  `json:"duration_ms"`
}

// SessionMessage is one history entry inside a session detail.
type SessionMessage struct {
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
}

// SessionDetail is the full server-side view of one session.
type SessionDetail struct {
	ID           string            `json:"id"`
	CreatedAt    string            `json:"created_at"`
	LastActivity string            `json:"last_activity"`
	Messages     []SessionMessage  `json:"messages"`
	Artifacts    []domain.Artifact `json:"artifacts"`
}

// ToolFunction describes one callable within a toolkit.
type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Toolkit groups the functions a tool exposes.
type Toolkit struct {
	Name      string         `json:"name"`
	Functions []ToolFunction `json:"functions"`
}

// ToolList is the response of GET /api/tools.
type ToolList struct {
	AgentName string    `json:"agent_name"`
	Tools     []Toolkit `json:"tools"`
}

// Health is the response of GET /health.
type Health struct {
	Status         string   `json:"status"`
	Model          string   `json:"model,omitempty"`
	MaxIterations  int      `json:"max_iterations,omitempty"`
	ToolsAvailable []string `json:"tools_available,omitempty"`
}

// Client talks to the platform over plain HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a REST client for the given base URL, e.g.
// "http://localhost:8000".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

// Chat sends one message and waits for the full agent response.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Content == "" {
		return nil, errors.New("api: empty message content")
	}
	var out ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns summaries of all active sessions.
func (c *Client) ListSessions(ctx context.Context) ([]domain.SessionInfo, error) {
	var out []domain.SessionInfo
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession returns one session's detail including message history.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionDetail, error) {
	var out SessionDetail
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a session server-side.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+id, nil, nil)
}

// SessionArtifacts returns all artifacts generated within a session.
func (c *Client) SessionArtifacts(ctx context.Context, id string) ([]domain.Artifact, error) {
	var out []domain.Artifact
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+id+"/artifacts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetArtifact returns a single artifact by ID.
func (c *Client) GetArtifact(ctx context.Context, sessionID, artifactID string) (*domain.Artifact, error) {
	var out domain.Artifact
	path := "/api/sessions/" + sessionID + "/artifacts/" + artifactID
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTools returns the agent's available toolkits.
func (c *Client) ListTools(ctx context.Context) (*ToolList, error) {
	var out ToolList
	if err := c.do(ctx, http.MethodGet, "/api/tools", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckHealth probes the backend.
func (c *Client) CheckHealth(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, errorDetail(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorDetail extracts the server's error message from a failure body.
// The platform reports either {"detail": ...} or {"error": ...}.
func errorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return string(raw)
}
