package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind classifies a progress event.
type EventKind string

// Persisted event kinds.
const (
	EventStart        EventKind = "start"
	EventPhaseChange  EventKind = "phase-change"
	EventItemProgress EventKind = "item-progress"
	EventChunk        EventKind = "chunk"
	EventItemComplete EventKind = "item-complete"
	EventItemFailed   EventKind = "item-failed"
	EventComplete     EventKind = "complete"
	EventError        EventKind = "error"
)

// Stream-only kinds, never written to the progress log.
const (
	EventConnected          EventKind = "connected"
	EventHistoricalProgress EventKind = "historical_progress"
	EventHeartbeat          EventKind = "heartbeat"
)

// ProgressEvent is one append-only record of task progress. Seq is assigned
// by the progress log and increases with emission order.
type ProgressEvent struct {
	TaskID    string          `json:"task_id"`
	Seq       int64           `json:"seq"`
	Kind      EventKind       `json:"event_type"`
	Item      string          `json:"item,omitempty"`
	Phase     string          `json:"phase,omitempty"`
	Payload   json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"timestamp"`
}

// NewProgressEvent builds an event with a JSON encoded payload.
func NewProgressEvent(taskID string, kind EventKind, item, phase string, payload any) (*ProgressEvent, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: task ID cannot be empty", ErrValidation)
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
		}
		raw = data
	}

	return &ProgressEvent{
		TaskID:    taskID,
		Kind:      kind,
		Item:      item,
		Phase:     phase,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}
