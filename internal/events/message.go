package events

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/phrazzld/signal-api/internal/domain"
)

// Message is one frame of a task's live stream.
type Message struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	TaskID    string          `json:"task_id"`
	Seq       int64           `json:"seq,omitempty"`
	Item      string          `json:"item,omitempty"`
	Phase     string          `json:"phase,omitempty"`
}

var emptyObject = json.RawMessage(`{}`)

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return emptyObject
	}
	return data
}

// liveMessage wraps a persisted event for delivery as it happens.
func liveMessage(e *domain.ProgressEvent) Message {
	data := e.Payload
	if len(data) == 0 {
		data = emptyObject
	}
	return Message{
		Event:     string(e.Kind),
		Data:      data,
		Timestamp: e.CreatedAt,
		TaskID:    e.TaskID,
		Seq:       e.Seq,
		Item:      e.Item,
		Phase:     e.Phase,
	}
}

// historicalMessage wraps a replayed event. The original event, including
// its kind and sequence, travels in Data.
func historicalMessage(e *domain.ProgressEvent) Message {
	return Message{
		Event:     string(domain.EventHistoricalProgress),
		Data:      mustJSON(e),
		Timestamp: e.CreatedAt,
		TaskID:    e.TaskID,
		Seq:       e.Seq,
	}
}

func connectedMessage(taskID, clientID string, now time.Time) Message {
	return Message{
		Event: string(domain.EventConnected),
		Data: mustJSON(map[string]string{
			"message":   "connected to task progress stream",
			"task_id":   taskID,
			"client_id": clientID,
		}),
		Timestamp: now,
		TaskID:    taskID,
	}
}

func heartbeatMessage(taskID string, now time.Time) Message {
	return Message{
		Event:     string(domain.EventHeartbeat),
		Data:      mustJSON(map[string]time.Time{"timestamp": now}),
		Timestamp: now,
		TaskID:    taskID,
	}
}

// WriteSSE writes m as one server-sent event frame.
func WriteSSE(w io.Writer, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode stream message: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.Event, data); err != nil {
		return fmt.Errorf("failed to write stream message: %w", err)
	}
	return nil
}
