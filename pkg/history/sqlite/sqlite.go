// Package sqlite implements the history store on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"agentdeck/pkg/domain"
	"agentdeck/pkg/history"
)

// Store implements history.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ history.Store = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs
// migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		is_error INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		seq INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS steps (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_name TEXT NOT NULL DEFAULT '',
		tool_input TEXT NOT NULL DEFAULT '',
		tool_output TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		duration_ms INTEGER,
		seq INTEGER NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_steps_message_seq ON steps(message_id, seq);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) SaveSession(ctx context.Context, id, agentName string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_name, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET agent_name=excluded.agent_name, updated_at=excluded.updated_at`,
		id, agentName, now, now,
	)
	return err
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, m domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxSeq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id=?`, sessionID,
	).Scan(&maxSeq)
	if err != nil {
		return err
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, is_error, timestamp, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, sessionID, m.Role, m.Content, m.IsError, m.Timestamp, maxSeq+1,
	)
	if err != nil {
		return err
	}

	for i, step := range m.Steps {
		input := ""
		if step.ToolInput != nil {
			raw, err := json.Marshal(step.ToolInput)
			if err != nil {
				return fmt.Errorf("encode tool input: %w", err)
			}
			input = string(raw)
		}
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO steps (id, message_id, kind, content, tool_name, tool_input, tool_output, timestamp, duration_ms, seq)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			step.ID, m.ID, step.Kind, step.Content, step.ToolName, input,
			step.ToolOutput, step.Timestamp.Time, step.DurationMS, i+1,
		)
		if err != nil {
			return err
		}
	}

	for _, a := range m.Artifacts {
		meta := ""
		if a.Metadata != nil {
			raw, err := json.Marshal(a.Metadata)
			if err != nil {
				return fmt.Errorf("encode artifact metadata: %w", err)
			}
			meta = string(raw)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO artifacts (id, session_id, message_id, type, title, content, language, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET title=excluded.title, content=excluded.content,
			   language=excluded.language, metadata=excluded.metadata`,
			a.ID, sessionID, m.ID, a.Type, a.Title, a.Content, a.Language, meta, a.CreatedAt.Time,
		)
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE sessions SET updated_at=? WHERE id=?`, time.Now().UTC(), sessionID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) Messages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, is_error, timestamp FROM messages
		 WHERE session_id=? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.IsError, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range msgs {
		steps, err := s.stepsFor(ctx, msgs[i].ID)
		if err != nil {
			return nil, err
		}
		msgs[i].Steps = steps

		arts, err := s.artifactsFor(ctx, msgs[i].ID)
		if err != nil {
			return nil, err
		}
		msgs[i].Artifacts = arts
	}
	return msgs, nil
}

func (s *Store) stepsFor(ctx context.Context, messageID string) ([]domain.ExecutionStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, content, tool_name, tool_input, tool_output, timestamp, duration_ms
		 FROM steps WHERE message_id=? ORDER BY seq ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.ExecutionStep
	for rows.Next() {
		var step domain.ExecutionStep
		var input string
		var ts time.Time
		if err := rows.Scan(&step.ID, &step.Kind, &step.Content, &step.ToolName,
			&input, &step.ToolOutput, &ts, &step.DurationMS); err != nil {
			return nil, err
		}
		step.Timestamp = domain.Timestamp{Time: ts}
		if input != "" {
			if err := json.Unmarshal([]byte(input), &step.ToolInput); err != nil {
				return nil, fmt.Errorf("decode tool input: %w", err)
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *Store) artifactsFor(ctx context.Context, messageID string) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, title, content, language, metadata, created_at
		 FROM artifacts WHERE message_id=? ORDER BY created_at ASC, id ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

func (s *Store) Artifacts(ctx context.Context, sessionID string) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, title, content, language, metadata, created_at
		 FROM artifacts WHERE session_id=? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

func scanArtifacts(rows *sql.Rows) ([]domain.Artifact, error) {
	var arts []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var meta string
		var created time.Time
		if err := rows.Scan(&a.ID, &a.Type, &a.Title, &a.Content, &a.Language, &meta, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = domain.Timestamp{Time: created}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode artifact metadata: %w", err)
			}
		}
		arts = append(arts, a)
	}
	return arts, rows.Err()
}

func (s *Store) ListSessions(ctx context.Context) ([]history.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.agent_name, s.created_at, s.updated_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		 FROM sessions s ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []history.SessionRecord
	for rows.Next() {
		var r history.SessionRecord
		if err := rows.Scan(&r.ID, &r.AgentName, &r.CreatedAt, &r.UpdatedAt, &r.MessageCount); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}
