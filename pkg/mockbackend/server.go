// Package mockbackend is a scripted stand-in for the agent platform.
// It speaks the full REST and streaming protocol so the client, the
// TUI, and the transport tests can run against a real socket without
// a live agent. Turns are produced by a Script instead of an LLM.
package mockbackend

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agentdeck/pkg/domain"
	"agentdeck/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Turn is one scripted agent response.
type Turn struct {
	// Steps are emitted before the reply tokens, in order.
	Steps []domain.ExecutionStep

	// Reply is streamed as token events, then recorded as the final
	// assistant message.
	Reply string

	// Artifacts are emitted after the reply tokens.
	Artifacts []domain.Artifact

	// Fail, when non-empty, replaces the complete event with an error
	// event carrying this message.
	Fail string
}

// Script produces a Turn for each user message.
type Script struct {
	AgentName string
	Respond   func(content string) Turn

	// TokenSize controls how the reply is chunked into token events.
	TokenSize int

	// TokenDelay paces token emission. Zero streams as fast as the
	// socket allows.
	TokenDelay time.Duration
}

// EchoScript returns the default script: a thought step followed by an
// echo of the user message.
func EchoScript() Script {
	return Script{
		AgentName: "GeneralAgent",
		Respond: func(content string) Turn {
			return Turn{
				Steps: []domain.ExecutionStep{{
					ID:        uuid.New().String(),
					Kind:      domain.StepThought,
					Content:   "Analyzing request: " + content,
					Timestamp: domain.Now(),
				}},
				Reply: "You said: " + content,
			}
		},
	}
}

type sessionState struct {
	ID           string            `json:"id"`
	CreatedAt    string            `json:"created_at"`
	LastActivity string            `json:"last_activity"`
	Messages     []storedMsg       `json:"messages"`
	Artifacts    []domain.Artifact `json:"artifacts"`
}

type storedMsg struct {
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
}

// Server implements the platform's HTTP surface with scripted turns.
type Server struct {
	script Script

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates a mock backend driven by the given script.
func New(script Script) *Server {
	if script.Respond == nil {
		script = EchoScript()
	}
	if script.TokenSize <= 0 {
		script.TokenSize = 4
	}
	return &Server{
		script:   script,
		sessions: make(map[string]*sessionState),
	}
}

// Handler returns the HTTP handler covering the REST and streaming
// endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/artifacts", s.handleSessionArtifacts)
	mux.HandleFunc("GET /api/sessions/{id}/artifacts/{artifactID}", s.handleGetArtifact)
	mux.HandleFunc("GET /api/tools", s.handleListTools)
	mux.HandleFunc("/ws/chat/{id}", s.handleChatWebSocket)

	return mux
}

// Start serves on addr until the listener fails.
func (s *Server) Start(addr string) error {
	slog.Info("Starting mock backend", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// --- REST handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"model":           "scripted",
		"tools_available": []string{},
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content   string `json:"content"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.Content == "" {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("empty message"))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	start := time.Now()
	turn := s.script.Respond(req.Content)
	s.recordTurn(sessionID, req.Content, turn)

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"session_id":  sessionID,
		"message":     turn.Reply,
		"success":     turn.Fail == "",
		"artifacts":   turn.Artifacts,
		"steps":       turn.Steps,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []map[string]any{}
	for _, sess := range s.sessions {
		out = append(out, map[string]any{
			"session_id":    sess.ID,
			"created_at":    sess.CreatedAt,
			"message_count": len(sess.Messages),
			"last_activity": sess.LastActivity,
		})
	}
	s.jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[r.PathValue("id")]
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("session not found"))
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("session not found"))
		return
	}
	delete(s.sessions, id)
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}

func (s *Server) handleSessionArtifacts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[r.PathValue("id")]
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("session not found"))
		return
	}
	arts := sess.Artifacts
	if arts == nil {
		arts = []domain.Artifact{}
	}
	s.jsonResponse(w, http.StatusOK, arts)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[r.PathValue("id")]
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("session not found"))
		return
	}
	for _, a := range sess.Artifacts {
		if a.ID == r.PathValue("artifactID") {
			s.jsonResponse(w, http.StatusOK, a)
			return
		}
	}
	s.errorResponse(w, http.StatusNotFound, fmt.Errorf("artifact not found"))
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"agent_name": s.script.AgentName,
		"tools":      []any{},
	})
}

// --- Streaming handler ---

func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	s.ensureSession(sessionID)

	if err := ws.WriteJSON(protocol.ConnectedFrame(sessionID, s.script.AgentName)); err != nil {
		return
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read ended", "error", err)
			}
			return
		}

		var f protocol.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			ws.WriteJSON(protocol.ErrorFrame("Invalid JSON format"))
			continue
		}

		switch f.Type {
		case protocol.TypeMessage:
			if f.Content == "" {
				ws.WriteJSON(protocol.ErrorFrame("Empty message"))
				continue
			}
			if err := s.streamTurn(ws, sessionID, f.Content); err != nil {
				slog.Debug("Stream turn aborted", "error", err)
				return
			}
		case protocol.TypePing:
			ws.WriteJSON(protocol.PongFrame(f.Timestamp))
		case protocol.TypeCancel:
			ws.WriteJSON(protocol.CancelledFrame())
		}
	}
}

// streamTurn plays one scripted turn over the socket: start, steps,
// tokens, artifacts, final answer, complete (or error).
func (s *Server) streamTurn(ws *websocket.Conn, sessionID, content string) error {
	started := time.Now()
	turn := s.script.Respond(content)
	s.recordTurn(sessionID, content, turn)

	if err := ws.WriteJSON(protocol.StartFrame(sessionID)); err != nil {
		return err
	}

	for _, step := range turn.Steps {
		frame, err := protocol.StepFrame(step)
		if err != nil {
			return err
		}
		if err := ws.WriteJSON(frame); err != nil {
			return err
		}
	}

	for _, chunk := range chunks(turn.Reply, s.script.TokenSize) {
		if s.script.TokenDelay > 0 {
			time.Sleep(s.script.TokenDelay)
		}
		if err := ws.WriteJSON(protocol.TokenFrame(chunk)); err != nil {
			return err
		}
	}

	if turn.Fail != "" {
		return ws.WriteJSON(protocol.ErrorFrame(turn.Fail))
	}

	for _, a := range turn.Artifacts {
		frame, err := protocol.ArtifactFrame(a)
		if err != nil {
			return err
		}
		if err := ws.WriteJSON(frame); err != nil {
			return err
		}
	}

	final, err := protocol.StepFrame(domain.ExecutionStep{
		ID:        uuid.New().String(),
		Kind:      domain.StepFinalAnswer,
		Content:   turn.Reply,
		Timestamp: domain.Now(),
	})
	if err != nil {
		return err
	}
	if err := ws.WriteJSON(final); err != nil {
		return err
	}

	return ws.WriteJSON(protocol.CompleteFrame(true, time.Since(started).Milliseconds()))
}

// --- session bookkeeping ---

func (s *Server) ensureSession(id string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureSessionLocked(id)
}

func (s *Server) ensureSessionLocked(id string) *sessionState {
	sess, ok := s.sessions[id]
	if !ok {
		now := time.Now().UTC().Format(time.RFC3339)
		sess = &sessionState{ID: id, CreatedAt: now, LastActivity: now}
		s.sessions[id] = sess
	}
	return sess
}

func (s *Server) recordTurn(sessionID, content string, turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.ensureSessionLocked(sessionID)
	now := time.Now().UTC().Format(time.RFC3339)
	sess.Messages = append(sess.Messages,
		storedMsg{Role: domain.RoleUser, Content: content, Timestamp: now},
		storedMsg{Role: domain.RoleAssistant, Content: turn.Reply, Timestamp: now},
	)
	sess.Artifacts = append(sess.Artifacts, turn.Artifacts...)
	sess.LastActivity = now
}

func chunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var out []string
	for len(runes) > size {
		out = append(out, string(runes[:size]))
		runes = runes[size:]
	}
	return append(out, string(runes))
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	s.jsonResponse(w, status, map[string]string{"detail": err.Error()})
}
