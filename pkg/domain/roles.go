package domain

// Role defines the sender of a message.
type Role string

const (
	// RoleUser indicates a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message produced by the agent.
	RoleAssistant Role = "assistant"
	// RoleSystem indicates a client- or platform-generated notice.
	RoleSystem Role = "system"
)

// StepKind tags one unit of the agent's reasoning trace.
type StepKind string

const (
	StepThought     StepKind = "thought"
	StepAction      StepKind = "action"
	StepObservation StepKind = "observation"
	StepFinalAnswer StepKind = "final_answer"
	StepError       StepKind = "error"
)

// Visible reports whether the step belongs in a rendered trace.
// Final-answer steps are recorded but excluded from display; their
// content is already carried by the streamed message body.
func (k StepKind) Visible() bool {
	return k != StepFinalAnswer
}

// ArtifactType tags a generated content object.
type ArtifactType string

const (
	ArtifactCode     ArtifactType = "code"
	ArtifactDocument ArtifactType = "document"
	ArtifactChart    ArtifactType = "chart"
	ArtifactTable    ArtifactType = "table"
	ArtifactHTML     ArtifactType = "html"
	ArtifactImage    ArtifactType = "image"
	ArtifactText     ArtifactType = "text"
)
