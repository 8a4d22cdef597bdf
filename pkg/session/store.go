// Package session holds the client-side view of one conversation: the
// ordered message list, streamed step/artifact accumulation, and the
// reconciler that maps decoded server events onto it.
package session

import (
	"sync"

	"github.com/google/uuid"

	"agentdeck/pkg/domain"
)

// Store is the single source of truth for the active conversation.
// All mutation is synchronous behind a mutex: the transport read loop
// and the UI goroutine both touch it. Readers receive copies.
type Store struct {
	mu               sync.RWMutex
	sessionID        string
	agentName        string
	messages         []domain.Message
	artifacts        []domain.Artifact
	artifactIndex    map[string]int
	selectedArtifact string
	loading          bool
}

// MessagePatch is a partial-field merge applied to a message by ID.
// Nil fields are left untouched.
type MessagePatch struct {
	Content    *string
	InProgress *bool
	IsError    *bool
}

// NewStore creates a store for a fresh conversation with a generated
// session identifier. The server may replace it on first contact via
// AdoptSessionID.
func NewStore() *Store {
	return &Store{
		sessionID:     uuid.New().String(),
		artifactIndex: make(map[string]int),
	}
}

// SessionID returns the current session identifier.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// SetSessionID replaces the session identifier unconditionally.
func (s *Store) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

// AdoptSessionID sets the server-provided identifier only when the
// store has none yet. A reconnection must not look like a new
// conversation, so an existing identifier is never overwritten.
func (s *Store) AdoptSessionID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != "" || id == "" {
		return false
	}
	s.sessionID = id
	return true
}

// SetAgentName records the agent name reported by the connected event.
func (s *Store) SetAgentName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentName = name
}

// AgentName returns the agent name reported by the backend, if any.
func (s *Store) AgentName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentName
}

// AddMessage appends a message. If the new message is in-progress, any
// previously in-progress message is finalized first: exactly one
// message may be in-progress at a time.
func (s *Store) AddMessage(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.InProgress {
		for i := range s.messages {
			s.messages[i].InProgress = false
		}
	}
	s.messages = append(s.messages, m)
}

// indexOf returns the index of the message with the given ID. The
// caller must hold the mutex.
func (s *Store) indexOf(id string) (int, bool) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

// UpdateMessage merges the patch into the message with the given ID.
// An unknown ID is a no-op, not an error: late events referencing a
// since-cleared session must not corrupt state.
func (s *Store) UpdateMessage(id string, patch MessagePatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.indexOf(id)
	if !ok {
		return false
	}
	if patch.Content != nil {
		s.messages[i].Content = *patch.Content
	}
	if patch.InProgress != nil {
		s.messages[i].InProgress = *patch.InProgress
	}
	if patch.IsError != nil {
		s.messages[i].IsError = *patch.IsError
	}
	return true
}

// AppendContent appends streamed text to the message with the given ID.
func (s *Store) AppendContent(id, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.indexOf(id)
	if !ok {
		return false
	}
	s.messages[i].Content += text
	return true
}

// AppendStep appends a step to the message's trace, in arrival order.
func (s *Store) AppendStep(id string, step domain.ExecutionStep) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.indexOf(id)
	if !ok {
		return false
	}
	s.messages[i].Steps = append(s.messages[i].Steps, step)
	return true
}

// AttachArtifact records the artifact on the message and in the
// session-wide collection. Duplicate IDs replace content and metadata
// in place (last write wins) without growing either list.
func (s *Store) AttachArtifact(id string, a domain.Artifact) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.indexOf(id)
	if !ok {
		return false
	}
	replaced := false
	for j := range s.messages[i].Artifacts {
		if s.messages[i].Artifacts[j].ID == a.ID {
			s.messages[i].Artifacts[j] = a
			replaced = true
			break
		}
	}
	if !replaced {
		s.messages[i].Artifacts = append(s.messages[i].Artifacts, a)
	}
	s.addArtifactLocked(a)
	return true
}

// AddArtifact records an artifact in the session-wide collection only.
func (s *Store) AddArtifact(a domain.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addArtifactLocked(a)
}

func (s *Store) addArtifactLocked(a domain.Artifact) {
	if j, ok := s.artifactIndex[a.ID]; ok {
		s.artifacts[j] = a
		return
	}
	s.artifactIndex[a.ID] = len(s.artifacts)
	s.artifacts = append(s.artifacts, a)
}

// SetLoading sets the flag marking an actively streaming turn.
func (s *Store) SetLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = v
}

// Loading reports whether a turn is actively streaming.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// SetSelectedArtifact selects the artifact shown in the detail panel.
// Selecting an unknown ID is a no-op.
func (s *Store) SetSelectedArtifact(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifactIndex[id]; !ok {
		return false
	}
	s.selectedArtifact = id
	return true
}

// ClearSelectedArtifact closes the detail panel.
func (s *Store) ClearSelectedArtifact() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedArtifact = ""
}

// SelectedArtifact returns the currently selected artifact, if any.
func (s *Store) SelectedArtifact() (domain.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.artifactIndex[s.selectedArtifact]
	if !ok {
		return domain.Artifact{}, false
	}
	return s.artifacts[j], true
}

// InProgressID returns the ID of the message currently accumulating
// streamed content, if any.
func (s *Store) InProgressID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].InProgress {
			return s.messages[i].ID, true
		}
	}
	return "", false
}

// Messages returns a copy of the ordered message list.
func (s *Store) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m
		out[i].Steps = append([]domain.ExecutionStep(nil), m.Steps...)
		out[i].Artifacts = append([]domain.Artifact(nil), m.Artifacts...)
	}
	return out
}

// Artifacts returns a copy of the session-wide artifact collection in
// creation order.
func (s *Store) Artifacts() []domain.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Artifact(nil), s.artifacts...)
}

// ClearChat resets the conversation: messages and artifacts emptied,
// selection cleared, loading off, and a freshly generated session
// identifier assigned. Returns the new identifier so the caller can
// re-associate the transport.
func (s *Store) ClearChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.artifacts = nil
	s.artifactIndex = make(map[string]int)
	s.selectedArtifact = ""
	s.loading = false
	s.sessionID = uuid.New().String()
	return s.sessionID
}
