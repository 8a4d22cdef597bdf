package domain

import "time"

// Message represents a single conversational turn in a session.
type Message struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Steps     []ExecutionStep `json:"steps,omitempty"`
	Artifacts []Artifact      `json:"artifacts,omitempty"`

	// InProgress marks the assistant message currently accumulating
	// streamed tokens. At most one message per session carries it.
	InProgress bool `json:"in_progress,omitempty"`

	// IsError marks a message whose content is a failure description
	// rather than normal assistant output.
	IsError bool `json:"is_error,omitempty"`
}

// ExecutionStep is one unit of the agent's visible reasoning/tool-use
// trace. Steps are append-only and render in arrival order.
type ExecutionStep struct {
	ID         string         `json:"id"`
	Kind       StepKind       `json:"type"`
	Content    string         `json:"content"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolOutput string         `json:"tool_output,omitempty"`
	Timestamp  Timestamp      `json:"timestamp"`

	// DurationMS is nil while the step is still in flight.
	DurationMS *int64 `json:"duration_ms,omitempty"`
}

// Artifact is a generated content object produced during a turn.
// Artifacts are immutable once created and identified by ID.
type Artifact struct {
	ID        string         `json:"id"`
	Type      ArtifactType   `json:"type"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Language  string         `json:"language,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt Timestamp      `json:"created_at"`
}

// SessionInfo is the summary the backend returns when listing sessions.
type SessionInfo struct {
	SessionID    string `json:"session_id"`
	CreatedAt    string `json:"created_at"`
	MessageCount int    `json:"message_count"`
	LastActivity string `json:"last_activity"`
}

// TurnResult is the aggregate outcome of one completed turn, as reported
// by the backend's complete event or the request/response endpoint.
type TurnResult struct {
	Success    bool
	DurationMS int64
}
