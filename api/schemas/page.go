package schemas

import (
	"context"
	"time"
)

// -- Browser Collaborator Contract --

// ElementHandle is an opaque reference to a DOM element owned by a Page.
// Handles are only valid for the step that obtained them.
type ElementHandle interface {
	// String describes the element for logs (tag, id, classes).
	String() string
}

// SignalKind is a class of page signal the collector can subscribe to.
type SignalKind string

const (
	SignalNavigation SignalKind = "navigation"
	SignalRequest    SignalKind = "request"
	SignalResponse   SignalKind = "response"
	SignalConsole    SignalKind = "console"
)

// AllSignals lists every signal kind in subscription order.
var AllSignals = []SignalKind{SignalNavigation, SignalRequest, SignalResponse, SignalConsole}

// BodyLoader fetches a response body after the response signal fired.
type BodyLoader func(ctx context.Context) ([]byte, error)

// Signal is the raw notification a Page delivers to subscribers.
type Signal struct {
	Kind      SignalKind
	Timestamp time.Time

	// navigation, request, response
	URL    string
	Method string

	// response
	Status      int
	ContentType string
	// ErrorText is set when the request failed before a response arrived.
	ErrorText string
	Body      BodyLoader

	// console
	Level   string
	Message string
}

// Page is the minimal browser capability set the engine depends on.
// Implementations must be safe for Subscribe callbacks running on another
// goroutine than the caller of the action methods.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// FindAll returns all elements matching selector in document order.
	FindAll(ctx context.Context, selector string) ([]ElementHandle, error)
	IsVisible(ctx context.Context, h ElementHandle) (bool, error)
	Fill(ctx context.Context, h ElementHandle, text string) error
	Click(ctx context.Context, h ElementHandle) error
	// Subscribe registers fn for signals of the given kind and returns a function
	// that removes the subscription.
	Subscribe(kind SignalKind, fn func(Signal)) (unsubscribe func())
	Now() time.Time
}
