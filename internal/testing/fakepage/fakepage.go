// Package fakepage provides a scriptable in-memory schemas.Page for unit tests.
// Elements match queries by exact string, which keeps tests independent of a
// CSS engine; the static page adapter covers real selector semantics.
package fakepage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

// ErrDetached is returned when acting on an element flagged Detached.
var ErrDetached = errors.New("node is detached from document")

// Element is a fake DOM node.
type Element struct {
	Name     string
	Matches  []string
	Hidden   bool
	Detached bool
}

func (e *Element) String() string { return e.Name }

func (e *Element) matches(query string) bool {
	for _, m := range e.Matches {
		if m == query {
			return true
		}
	}
	return false
}

type subscription struct {
	id int
	fn func(schemas.Signal)
}

// Page is a fake page. Its exported fields may be set before use; the
// recorded slices are safe to read after the run finished.
type Page struct {
	mu       sync.Mutex
	elements []*Element
	subs     map[schemas.SignalKind][]subscription
	nextSub  int

	// Clock overrides Now when set.
	Clock func() time.Time
	// NavigateDelay blocks Navigate (honoring ctx) to simulate slow pages.
	NavigateDelay time.Duration
	NavigateErr   error
	// QueryErrs makes FindAll fail for specific queries.
	QueryErrs map[string]error
	// OnClick runs after a successful click on the named element.
	OnClick map[string]func(p *Page)

	Navigations []string
	Fills       map[string]string
	Clicks      []string
	FindCalls   int
}

// New returns a page holding the given elements in document order.
func New(elements ...*Element) *Page {
	return &Page{
		elements: elements,
		subs:     make(map[schemas.SignalKind][]subscription),
		Fills:    make(map[string]string),
	}
}

// Add appends elements to the document.
func (p *Page) Add(elements ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = append(p.elements, elements...)
}

// Remove deletes the named element.
func (p *Page) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.elements[:0]
	for _, e := range p.elements {
		if e.Name != name {
			kept = append(kept, e)
		}
	}
	p.elements = kept
}

// Emit delivers a signal synchronously to current subscribers.
func (p *Page) Emit(sig schemas.Signal) {
	if sig.Timestamp.IsZero() {
		sig.Timestamp = p.Now()
	}
	p.mu.Lock()
	subs := append([]subscription(nil), p.subs[sig.Kind]...)
	p.mu.Unlock()
	for _, s := range subs {
		s.fn(sig)
	}
}

// Subscribers returns the number of active subscriptions for kind.
func (p *Page) Subscribers(kind schemas.SignalKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[kind])
}

// -- schemas.Page --

func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.NavigateDelay > 0 {
		select {
		case <-time.After(p.NavigateDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.mu.Lock()
	p.Navigations = append(p.Navigations, url)
	p.mu.Unlock()
	p.Emit(schemas.Signal{Kind: schemas.SignalNavigation, URL: url})
	return nil
}

func (p *Page) FindAll(ctx context.Context, selector string) ([]schemas.ElementHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FindCalls++
	if err, ok := p.QueryErrs[selector]; ok {
		return nil, err
	}
	var out []schemas.ElementHandle
	for _, e := range p.elements {
		if e.matches(selector) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (p *Page) IsVisible(ctx context.Context, h schemas.ElementHandle) (bool, error) {
	e, err := p.element(h)
	if err != nil {
		return false, err
	}
	return !e.Hidden, nil
}

func (p *Page) Fill(ctx context.Context, h schemas.ElementHandle, text string) error {
	e, err := p.element(h)
	if err != nil {
		return err
	}
	if e.Detached {
		return ErrDetached
	}
	p.mu.Lock()
	p.Fills[e.Name] = text
	p.mu.Unlock()
	return nil
}

func (p *Page) Click(ctx context.Context, h schemas.ElementHandle) error {
	e, err := p.element(h)
	if err != nil {
		return err
	}
	if e.Detached {
		return ErrDetached
	}
	p.mu.Lock()
	p.Clicks = append(p.Clicks, e.Name)
	hook := p.OnClick[e.Name]
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Subscribe(kind schemas.SignalKind, fn func(schemas.Signal)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSub++
	id := p.nextSub
	p.subs[kind] = append(p.subs[kind], subscription{id: id, fn: fn})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		kept := p.subs[kind][:0]
		for _, s := range p.subs[kind] {
			if s.id != id {
				kept = append(kept, s)
			}
		}
		p.subs[kind] = kept
	}
}

func (p *Page) Now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

func (p *Page) element(h schemas.ElementHandle) (*Element, error) {
	e, ok := h.(*Element)
	if !ok {
		return nil, fmt.Errorf("foreign element handle %T", h)
	}
	return e, nil
}

// JSONResponse builds a response signal with a static JSON body.
func JSONResponse(url string, status int, body string) schemas.Signal {
	return schemas.Signal{
		Kind:        schemas.SignalResponse,
		URL:         url,
		Method:      "GET",
		Status:      status,
		ContentType: "application/json; charset=utf-8",
		Body: func(context.Context) ([]byte, error) {
			return []byte(body), nil
		},
	}
}
