package session

import (
	"log/slog"

	"agentdeck/pkg/domain"
	"agentdeck/pkg/protocol"
)

// Reconciler maps decoded server events onto store mutations. It is
// deliberately deterministic and total: every event either applies
// cleanly or is logged and discarded, so a misbehaving stream can
// never corrupt conversation history.
type Reconciler struct {
	store *Store
}

// NewReconciler creates a reconciler bound to the given store.
func NewReconciler(store *Store) *Reconciler {
	return &Reconciler{store: store}
}

// Apply dispatches one decoded event. Events the reconciler does not
// own (pong, cancelled) are ignored here; the transport surfaces them
// to interested callers directly.
func (r *Reconciler) Apply(ev *protocol.Event) {
	switch ev.Type {
	case protocol.EventConnected:
		r.connected(ev.SessionID, ev.AgentName)
	case protocol.EventStart:
		r.start()
	case protocol.EventToken:
		r.token(ev.Token)
	case protocol.EventStep:
		r.step(*ev.Step)
	case protocol.EventArtifact:
		r.artifact(*ev.Artifact)
	case protocol.EventComplete:
		r.complete(*ev.Result)
	case protocol.EventError:
		r.failure(ev.Message)
	}
}

// connected adopts the server-provided session identifier when the
// store has none. On reconnection the identifier already matches and
// nothing changes: resumed transport, not a new conversation.
func (r *Reconciler) connected(sessionID, agentName string) {
	if r.store.AdoptSessionID(sessionID) {
		slog.Debug("Adopted server session id", "sessionID", sessionID)
	}
	if agentName != "" {
		r.store.SetAgentName(agentName)
	}
}

// start opens a new turn: loading on, fresh in-progress assistant
// message appended. Tokens and steps that follow accumulate onto it.
func (r *Reconciler) start() {
	r.store.SetLoading(true)
	r.store.AddMessage(domain.Message{
		Role:       domain.RoleAssistant,
		Timestamp:  domain.Now().Time,
		InProgress: true,
	})
}

func (r *Reconciler) token(text string) {
	id, ok := r.store.InProgressID()
	if !ok {
		slog.Warn("Discarding token with no in-progress message", "len", len(text))
		return
	}
	r.store.AppendContent(id, text)
}

func (r *Reconciler) step(step domain.ExecutionStep) {
	id, ok := r.store.InProgressID()
	if !ok {
		slog.Warn("Discarding step with no in-progress message", "kind", step.Kind)
		return
	}
	r.store.AppendStep(id, step)
}

func (r *Reconciler) artifact(a domain.Artifact) {
	id, ok := r.store.InProgressID()
	if !ok {
		// Still keep it in the session collection: an artifact is
		// session-scoped even when its parent turn is already closed.
		slog.Warn("Artifact arrived with no in-progress message", "artifactID", a.ID)
		r.store.AddArtifact(a)
		return
	}
	r.store.AttachArtifact(id, a)
}

// complete finalizes the in-progress message. Partial text and steps
// streamed before an unsuccessful completion are kept as-is: there is
// no rollback.
func (r *Reconciler) complete(result domain.TurnResult) {
	defer r.store.SetLoading(false)
	id, ok := r.store.InProgressID()
	if !ok {
		slog.Warn("Complete event with no in-progress message")
		return
	}
	done := false
	r.store.UpdateMessage(id, MessagePatch{InProgress: &done})
}

// failure finalizes the in-progress message as a user-visible error.
// It never erases partial output that already streamed; the failure
// description is appended below it.
func (r *Reconciler) failure(message string) {
	defer r.store.SetLoading(false)
	id, ok := r.store.InProgressID()
	if !ok {
		slog.Warn("Error event with no in-progress message", "message", message)
		return
	}

	content := "Error: " + message
	for _, m := range r.store.Messages() {
		if m.ID == id && m.Content != "" {
			content = m.Content + "\n\n" + content
			break
		}
	}
	done, failed := false, true
	r.store.UpdateMessage(id, MessagePatch{
		Content:    &content,
		InProgress: &done,
		IsError:    &failed,
	})
}
