// Package history persists finished conversation turns locally so a
// transcript survives client restarts. Only finalized messages are
// recorded; in-flight streaming state never touches disk.
package history

import (
	"context"
	"time"

	"agentdeck/pkg/domain"
)

// SessionRecord summarizes one locally recorded session.
type SessionRecord struct {
	ID           string
	AgentName    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// Store manages the local transcript archive.
type Store interface {
	// SaveSession creates the session record if absent and refreshes
	// its agent name and updated-at time otherwise.
	SaveSession(ctx context.Context, id, agentName string) error

	// AppendMessage records a finalized message, including its step
	// trace and attached artifacts, at the end of the session's
	// transcript.
	AppendMessage(ctx context.Context, sessionID string, m domain.Message) error

	// Messages returns the session's transcript in recorded order.
	Messages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// Artifacts returns every artifact recorded for the session, in
	// creation order.
	Artifacts(ctx context.Context, sessionID string) ([]domain.Artifact, error)

	// ListSessions returns all recorded sessions, most recent first.
	ListSessions(ctx context.Context) ([]SessionRecord, error)

	// DeleteSession removes a session and everything recorded under it.
	DeleteSession(ctx context.Context, id string) error

	// Close releases the underlying storage.
	Close() error
}
