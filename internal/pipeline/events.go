package pipeline

import (
	"time"

	"github.com/jonathan/animation-agent/internal/rendering"
)

// Event kinds streamed to clients.
const (
	EventContent   = "RunContent"
	EventHeartbeat = "RunHeartbeat"
	EventError     = "RunError"
	EventCompleted = "RunCompleted"
)

// Event is one streamed progress update of a run.
type Event struct {
	Event          string            `json:"event"`
	Content        string            `json:"content"`
	CreatedAt      int64             `json:"created_at"`
	RunID          string            `json:"run_id"`
	SessionID      string            `json:"session_id,omitempty"`
	Images         []rendering.Image `json:"images,omitempty"`
	Videos         []rendering.Video `json:"videos,omitempty"`
	AllowLLMFix    *bool             `json:"allow_llm_fix,omitempty"`
	ElapsedSeconds int               `json:"elapsed_seconds,omitempty"`
}

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool {
	return e.Event == EventCompleted
}

// Emitter receives the events of a run in order. The orchestrator calls it
// from a single goroutine per run.
type Emitter func(Event)

func newEvent(kind, runID, sessionID, content string) Event {
	return Event{
		Event:     kind,
		Content:   content,
		CreatedAt: time.Now().Unix(),
		RunID:     runID,
		SessionID: sessionID,
	}
}
