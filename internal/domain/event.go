package domain

import "time"

// EventType identifies what happened.
type EventType string

const (
	EventTypeRunSubmitted   EventType = "run.submitted"
	EventTypeRunStarted     EventType = "run.started"
	EventTypeRunSucceeded   EventType = "run.succeeded"
	EventTypeRunFailed      EventType = "run.failed"
	EventTypeRunCancelled   EventType = "run.cancelled"
	EventTypeStageDispatch  EventType = "stage.dispatch"
	EventTypeStageStarted   EventType = "stage.started"
	EventTypeStageSucceeded EventType = "stage.succeeded"
	EventTypeStageFailed    EventType = "stage.failed"
	EventTypeStageCancelled EventType = "stage.cancelled"
	EventTypeStageSkipped   EventType = "stage.skipped"
)

// Event is the unit exchanged on the event bus. Workers report stage results
// as events; the coordination loop is the only writer of run state.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id"`
	Stage     string                 `json:"stage,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
