// Package protocol defines the wire frames exchanged over the streaming
// chat channel. Both directions share the same envelope; payloads are
// carried in the data field for server events that have one.
package protocol

import (
	"encoding/json"
	"fmt"

	"agentdeck/pkg/domain"
)

// Frame types sent by the client.
const (
	TypeMessage = "message"
	TypePing    = "ping"
	TypeCancel  = "cancel"
)

// Frame types sent by the server.
const (
	TypeConnected = "connected"
	TypeStart     = "start"
	TypeStep      = "step"
	TypeToken     = "token"
	TypeArtifact  = "artifact"
	TypeComplete  = "complete"
	TypeError     = "error"
	TypePong      = "pong"
	TypeCancelled = "cancelled"
)

// Frame is the wire envelope for both directions.
type Frame struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	AgentName string          `json:"agent_name,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventType identifies a decoded server event.
type EventType string

const (
	EventConnected EventType = TypeConnected
	EventStart     EventType = TypeStart
	EventStep      EventType = TypeStep
	EventToken     EventType = TypeToken
	EventArtifact  EventType = TypeArtifact
	EventComplete  EventType = TypeComplete
	EventError     EventType = TypeError
	EventPong      EventType = TypePong
	EventCancelled EventType = TypeCancelled
)

// Event is a decoded server frame. Exactly the fields relevant to its
// Type are populated.
type Event struct {
	Type      EventType
	SessionID string
	AgentName string
	Token     string
	Step      *domain.ExecutionStep
	Artifact  *domain.Artifact
	Result    *domain.TurnResult
	Message   string
	Timestamp int64
}

// Payload shapes inside the data field. The server wraps the original
// event object, so the payload carries its own type tag alongside the
// fields we care about.
type stepPayload struct {
	Step domain.ExecutionStep `json:"step"`
}

type tokenPayload struct {
	Content string `json:"content"`
}

type artifactPayload struct {
	Artifact domain.Artifact `json:"artifact"`
}

type completePayload struct {
	Success         bool  `json:"success"`
	TotalDurationMS int64 `json:"total_duration_ms"`
}

// Decode parses a raw inbound frame. Unknown frame types decode to
// (nil, nil) so callers can skip them; a malformed envelope or payload
// returns an error and the frame should be dropped.
func Decode(raw []byte) (*Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	ev := &Event{Type: EventType(f.Type)}
	switch f.Type {
	case TypeConnected:
		if f.SessionID == "" {
			return nil, fmt.Errorf("connected frame missing session_id")
		}
		ev.SessionID = f.SessionID
		ev.AgentName = f.AgentName

	case TypeStart:
		// No payload the client needs beyond the type itself.

	case TypeStep:
		var p stepPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode step payload: %w", err)
		}
		ev.Step = &p.Step

	case TypeToken:
		var p tokenPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode token payload: %w", err)
		}
		ev.Token = p.Content

	case TypeArtifact:
		var p artifactPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode artifact payload: %w", err)
		}
		ev.Artifact = &p.Artifact

	case TypeComplete:
		var p completePayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode complete payload: %w", err)
		}
		ev.Result = &domain.TurnResult{Success: p.Success, DurationMS: p.TotalDurationMS}

	case TypeError:
		ev.Message = f.Message

	case TypePong:
		ev.Timestamp = f.Timestamp

	case TypeCancelled:
		ev.Message = f.Message

	default:
		// Forward compatibility: unrecognized types are skipped, not errors.
		return nil, nil
	}
	return ev, nil
}

// MessageFrame builds the outbound user-message command.
func MessageFrame(content string) Frame {
	return Frame{Type: TypeMessage, Content: content}
}

// PingFrame builds the outbound liveness probe.
func PingFrame(timestamp int64) Frame {
	return Frame{Type: TypePing, Timestamp: timestamp}
}

// CancelFrame builds the outbound cancellation request.
func CancelFrame() Frame {
	return Frame{Type: TypeCancel}
}

// Server-side frame constructors, used by the scripted backend and by
// transport tests.

func ConnectedFrame(sessionID, agentName string) Frame {
	return Frame{Type: TypeConnected, SessionID: sessionID, AgentName: agentName}
}

func StartFrame(sessionID string) Frame {
	data, _ := json.Marshal(map[string]string{"type": TypeStart, "session_id": sessionID})
	return Frame{Type: TypeStart, Data: data}
}

func StepFrame(step domain.ExecutionStep) (Frame, error) {
	data, err := json.Marshal(stepPayload{Step: step})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: TypeStep, Data: data}, nil
}

func TokenFrame(content string) Frame {
	data, _ := json.Marshal(tokenPayload{Content: content})
	return Frame{Type: TypeToken, Data: data}
}

func ArtifactFrame(a domain.Artifact) (Frame, error) {
	data, err := json.Marshal(artifactPayload{Artifact: a})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: TypeArtifact, Data: data}, nil
}

func CompleteFrame(success bool, totalDurationMS int64) Frame {
	data, _ := json.Marshal(completePayload{Success: success, TotalDurationMS: totalDurationMS})
	return Frame{Type: TypeComplete, Data: data}
}

func ErrorFrame(message string) Frame {
	return Frame{Type: TypeError, Message: message}
}

func PongFrame(timestamp int64) Frame {
	return Frame{Type: TypePong, Timestamp: timestamp}
}

func CancelledFrame() Frame {
	return Frame{Type: TypeCancelled, Message: "Operation cancelled"}
}
