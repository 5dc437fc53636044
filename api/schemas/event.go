package schemas

import "time"

// EventKind classifies a buffered event.
type EventKind string

const (
	EventNavigation EventKind = "navigation"
	EventRequest    EventKind = "request"
	EventResponse   EventKind = "response"
	EventLog        EventKind = "log"
	EventWarning    EventKind = "warning"
	EventError      EventKind = "error"
)

// IsConsole reports whether the event came from the page console.
func (k EventKind) IsConsole() bool {
	return k == EventLog || k == EventWarning || k == EventError
}

// Event is a network, navigation or console event recorded during a run.
// It is immutable once the collector has stopped.
type Event struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Kind      EventKind `json:"kind"`

	URL     string `json:"url,omitempty"`
	Method  string `json:"method,omitempty"`
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	ErrorText   string `json:"error_text,omitempty"`
	// Body holds the parsed structured body (JSON value or XML tree as map).
	Body any `json:"body,omitempty"`
	// RawBody is the truncated text body when parsing was not possible or not attempted.
	RawBody    string `json:"raw_body,omitempty"`
	ParseError string `json:"parse_error,omitempty"`

	// StepIndex is the step whose time window contains the event, -1 for none.
	StepIndex int `json:"step_index"`
}

// ConsoleKind maps a console level onto an event kind.
func ConsoleKind(level string) EventKind {
	switch level {
	case "error", "assert":
		return EventError
	case "warning", "warn":
		return EventWarning
	default:
		return EventLog
	}
}
