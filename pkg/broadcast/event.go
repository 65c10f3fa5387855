package broadcast

// EventType tags a pipeline lifecycle event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event is the JSON message pushed to observers:
// {type: "progress", progress: N} | {type: "done"} | {type: "error", message}.
type Event struct {
	Type     EventType `json:"type"`
	Progress *int      `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Progress returns a progress event.
func Progress(percent int) Event {
	return Event{Type: EventProgress, Progress: &percent}
}

// Done returns the success event.
func Done() Event {
	return Event{Type: EventDone}
}

// Error returns a failure event.
func Error(message string) Event {
	return Event{Type: EventError, Message: message}
}
