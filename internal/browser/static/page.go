// Package static implements schemas.Page over a parsed HTML document. It has
// no script engine: fills and clicks change the DOM attributes the way a form
// would, and navigation only reloads the original document. It backs offline
// dry runs of scenarios and selector tests against real markup.
package static

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

var (
	ErrNotEditable = errors.New("element is not editable")
	ErrDisabled    = errors.New("element is disabled")
	ErrStale       = errors.New("element no longer attached to the document")
)

// Action is a recorded fill or click.
type Action struct {
	Kind    string // "fill" or "click"
	Element string
	Text    string
}

type subscription struct {
	id int
	fn func(schemas.Signal)
}

// Page is a static DOM page. It is safe for concurrent use.
type Page struct {
	source string
	clock  func() time.Time

	mu      sync.Mutex
	doc     *goquery.Document
	url     string
	actions []Action
	subs    map[schemas.SignalKind][]subscription
	nextSub int
}

// Option configures a Page.
type Option func(*Page)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(p *Page) { p.clock = clock }
}

// New parses markup into a page.
func New(markup string, opts ...Option) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("could not parse document: %w", err)
	}
	p := &Page{
		source: markup,
		clock:  time.Now,
		doc:    doc,
		subs:   make(map[schemas.SignalKind][]subscription),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Open reads and parses an HTML file.
func Open(path string, opts ...Option) (*Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}
	return New(string(b), opts...)
}

// Actions returns the fills and clicks performed so far.
func (p *Page) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.actions...)
}

// URL returns the last navigated URL.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// HTML renders the current document.
func (p *Page) HTML() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return goquery.OuterHtml(p.doc.Selection)
}

// -- schemas.Page --

// Navigate reloads the original document and reports a navigation to url.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.source))
	if err != nil {
		return fmt.Errorf("could not reload document: %w", err)
	}
	p.mu.Lock()
	p.doc = doc
	p.url = url
	p.mu.Unlock()

	p.emit(schemas.Signal{Kind: schemas.SignalNavigation, URL: url, Method: "GET"})
	return nil
}

// FindAll supports CSS selectors with an optional trailing :has-text() filter.
func (p *Page) FindAll(ctx context.Context, selector string) ([]schemas.ElementHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	css, text, err := schemas.SplitTextFilter(selector)
	if err != nil {
		return nil, err
	}
	if _, err := cascadia.ParseGroup(css); err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", css, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	sel := p.doc.Find(css)
	if text != "" {
		needle := normalizeSpace(strings.ToLower(text))
		sel = sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.Contains(normalizeSpace(strings.ToLower(textOf(s))), needle)
		})
	}
	out := make([]schemas.ElementHandle, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, &element{node: n})
	}
	return out, nil
}

// IsVisible approximates rendering: hidden attributes, inline display:none or
// visibility:hidden on the element or an ancestor, and non-rendered tags.
func (p *Page) IsVisible(ctx context.Context, h schemas.ElementHandle) (bool, error) {
	el, err := p.element(h)
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.attached(el.node) {
		return false, ErrStale
	}
	if el.node.Data == "input" && strings.EqualFold(attr(el.node, "type"), "hidden") {
		return false, nil
	}
	for n := el.node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		switch n.Data {
		case "head", "script", "style", "template", "noscript":
			return false, nil
		}
		if hasAttr(n, "hidden") {
			return false, nil
		}
		style := strings.ReplaceAll(strings.ToLower(attr(n, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false, nil
		}
	}
	return true, nil
}

func (p *Page) Fill(ctx context.Context, h schemas.ElementHandle, text string) error {
	el, err := p.element(h)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.attached(el.node) {
		return ErrStale
	}
	if hasAttr(el.node, "disabled") || hasAttr(el.node, "readonly") {
		return fmt.Errorf("%w: %s", ErrDisabled, el)
	}
	sel := p.doc.FindNodes(el.node)
	switch {
	case el.node.Data == "textarea":
		sel.SetText(text)
	case el.node.Data == "input" && !isToggle(el.node):
		sel.SetAttr("value", text)
	case strings.EqualFold(attr(el.node, "contenteditable"), "true"):
		sel.SetText(text)
	default:
		return fmt.Errorf("%w: %s", ErrNotEditable, el)
	}
	p.actions = append(p.actions, Action{Kind: "fill", Element: el.String(), Text: text})
	return nil
}

// Click records the click; checkboxes toggle and radios select.
func (p *Page) Click(ctx context.Context, h schemas.ElementHandle) error {
	el, err := p.element(h)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.attached(el.node) {
		return ErrStale
	}
	if hasAttr(el.node, "disabled") {
		return fmt.Errorf("%w: %s", ErrDisabled, el)
	}
	if isToggle(el.node) {
		sel := p.doc.FindNodes(el.node)
		if hasAttr(el.node, "checked") && strings.EqualFold(attr(el.node, "type"), "checkbox") {
			sel.RemoveAttr("checked")
		} else {
			sel.SetAttr("checked", "checked")
		}
	}
	p.actions = append(p.actions, Action{Kind: "click", Element: el.String()})
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

func (p *Page) Now() time.Time { return p.clock() }

func (p *Page) emit(sig schemas.Signal) {
	sig.Timestamp = p.clock()
	p.mu.Lock()
	subs := append([]subscription(nil), p.subs[sig.Kind]...)
	p.mu.Unlock()
	for _, s := range subs {
		s.fn(sig)
	}
}

// attached reports whether n still belongs to the current document. Caller holds mu.
func (p *Page) attached(n *html.Node) bool {
	root := p.doc.Get(0)
	for ; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

func (p *Page) element(h schemas.ElementHandle) (*element, error) {
	el, ok := h.(*element)
	if !ok {
		return nil, fmt.Errorf("element handle %T does not belong to a static page", h)
	}
	return el, nil
}

// -- Elements --

type element struct {
	node *html.Node
}

// String renders tag#id.class1.class2 for logs.
func (e *element) String() string {
	var b strings.Builder
	b.WriteString(e.node.Data)
	if id := attr(e.node, "id"); id != "" {
		b.WriteString("#" + id)
	}
	for _, c := range strings.Fields(attr(e.node, "class")) {
		b.WriteString("." + c)
	}
	if name := attr(e.node, "name"); name != "" {
		fmt.Fprintf(&b, "[name=%s]", name)
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func isToggle(n *html.Node) bool {
	if n.Data != "input" {
		return false
	}
	t := strings.ToLower(attr(n, "type"))
	return t == "checkbox" || t == "radio"
}

// textOf is the element text as a user would read it; button-like inputs
// contribute their value.
func textOf(s *goquery.Selection) string {
	if n := s.Get(0); n != nil && n.Data == "input" {
		return attr(n, "value")
	}
	return s.Text()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
