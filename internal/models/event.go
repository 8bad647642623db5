package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies what happened. Each type has a concrete payload shape.
type EventType string

const (
	EventTaskCreated       EventType = "task.created"
	EventTaskDecomposed    EventType = "task.decomposed"
	EventTaskQueued        EventType = "task.queued"
	EventTaskStarted       EventType = "task.started"
	EventTaskProgress      EventType = "task.progress"
	EventTaskNeedsInput    EventType = "task.needs_input"
	EventTaskInputReceived EventType = "task.input_received"
	EventTaskCompleted     EventType = "task.completed"
	EventTaskFailed        EventType = "task.failed"
	EventTaskCancelled     EventType = "task.cancelled"
)

// SourceKind identifies who produced an event.
type SourceKind string

const (
	SourceUser     SourceKind = "user"
	SourceJarvis   SourceKind = "jarvis"
	SourceExecutor SourceKind = "executor"
	SourceSystem   SourceKind = "system"
)

// Event is an immutable record of a state transition. Events are append-only
// and ordered by timestamp; the per-task sequence is the authoritative history.
type Event struct {
	ID            string       `json:"id"`
	Timestamp     time.Time    `json:"timestamp"`
	SourceKind    SourceKind   `json:"source_kind"`
	SourceID      string       `json:"source_id,omitempty"`
	Type          EventType    `json:"type"`
	TaskID        string       `json:"task_id,omitempty"`
	UserID        string       `json:"user_id"`
	Payload       EventPayload `json:"payload"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	ParentEventID string       `json:"parent_event_id,omitempty"`
}

// EventPayload is the tagged union of per-type payload shapes. Consumers
// switch on the concrete type instead of probing optional fields.
type EventPayload interface {
	EventType() EventType
}

// CreatedPayload accompanies task.created on a dispatch root.
type CreatedPayload struct {
	Description string       `json:"description"`
	Priority    TaskPriority `json:"priority,omitempty"`
}

func (CreatedPayload) EventType() EventType { return EventTaskCreated }

// DecomposedPayload accompanies task.decomposed on the parent task.
type DecomposedPayload struct {
	SubtaskCount int      `json:"subtask_count"`
	SubtaskIDs   []string `json:"subtask_ids"`
	Reasoning    string   `json:"reasoning,omitempty"`
}

func (DecomposedPayload) EventType() EventType { return EventTaskDecomposed }

// QueuedPayload accompanies task.queued.
type QueuedPayload struct{}

func (QueuedPayload) EventType() EventType { return EventTaskQueued }

// StartedPayload accompanies task.started from an executor.
type StartedPayload struct {
	ExecutorType ExecutorType `json:"executor_type"`
	SessionID    string       `json:"session_id,omitempty"`
}

func (StartedPayload) EventType() EventType { return EventTaskStarted }

// ProgressPayload accompanies task.progress.
type ProgressPayload struct {
	Message string `json:"message"`
}

func (ProgressPayload) EventType() EventType { return EventTaskProgress }

// NeedsInputPayload accompanies task.needs_input.
type NeedsInputPayload struct {
	Question string        `json:"question"`
	Options  []InputOption `json:"options,omitempty"`
}

func (NeedsInputPayload) EventType() EventType { return EventTaskNeedsInput }

// InputReceivedPayload accompanies task.input_received.
type InputReceivedPayload struct {
	Response string `json:"response"`
}

func (InputReceivedPayload) EventType() EventType { return EventTaskInputReceived }

// CompletedPayload accompanies task.completed. Summary is truncated for the
// event log; the full result lives on the task record.
type CompletedPayload struct {
	Summary    string  `json:"summary,omitempty"`
	TokensUsed int64   `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}

func (CompletedPayload) EventType() EventType { return EventTaskCompleted }

// FailedPayload accompanies task.failed.
type FailedPayload struct {
	Error       string `json:"error"`
	Recoverable bool   `json:"recoverable"`
}

func (FailedPayload) EventType() EventType { return EventTaskFailed }

// CancelledPayload accompanies task.cancelled.
type CancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (CancelledPayload) EventType() EventType { return EventTaskCancelled }

// UnknownPayload preserves payloads of types this build does not know.
type UnknownPayload struct {
	Kind EventType       `json:"-"`
	Raw  json.RawMessage `json:"-"`
}

func (p UnknownPayload) EventType() EventType { return p.Kind }

// MarshalJSON emits the raw payload bytes unchanged.
func (p UnknownPayload) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("{}"), nil
	}
	return p.Raw, nil
}

// DecodePayload decodes raw payload JSON into the concrete shape for typ.
func DecodePayload(typ EventType, raw []byte) (EventPayload, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var (
		payload EventPayload
		err     error
	)
	switch typ {
	case EventTaskCreated:
		p := CreatedPayload{}
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventTaskDecomposed:
		p := DecomposedPayload{}
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventTaskQueued:
		p := QueuedPayload{}
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventTaskStarted:
		p := StartedPayload{}
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventTaskProgress:
		p := ProgressPayload{}
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventTaskNeedsInput:
		p := NeedsInputPayload{}
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventTaskInputReceived:
		p := InputReceivedPayload{}
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventTaskCompleted:
		p := CompletedPayload{}
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventTaskFailed:
		p := FailedPayload{}
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventTaskCancelled:
		p := CancelledPayload{}
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return UnknownPayload{Kind: typ, Raw: append([]byte(nil), raw...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", typ, err)
	}
	return payload, nil
}

// UnmarshalJSON decodes an event, routing the payload through DecodePayload
// so consumers always see the concrete shape.
func (e *Event) UnmarshalJSON(data []byte) error {
	type wireEvent struct {
		ID            string          `json:"id"`
		Timestamp     time.Time       `json:"timestamp"`
		SourceKind    SourceKind      `json:"source_kind"`
		SourceID      string          `json:"source_id"`
		Type          EventType       `json:"type"`
		TaskID        string          `json:"task_id"`
		UserID        string          `json:"user_id"`
		Payload       json.RawMessage `json:"payload"`
		CorrelationID string          `json:"correlation_id"`
		ParentEventID string          `json:"parent_event_id"`
	}

	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	payload, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}

	*e = Event{
		ID:            w.ID,
		Timestamp:     w.Timestamp,
		SourceKind:    w.SourceKind,
		SourceID:      w.SourceID,
		Type:          w.Type,
		TaskID:        w.TaskID,
		UserID:        w.UserID,
		Payload:       payload,
		CorrelationID: w.CorrelationID,
		ParentEventID: w.ParentEventID,
	}
	return nil
}
