// Package cdp implements schemas.Page over a Chrome tab driven by chromedp.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

var (
	ErrNotEditable = errors.New("element is not editable")
	ErrDisabled    = errors.New("element is disabled")
)

const defaultScreenshotQuality = 90

// -- JS predicates, called with `this` bound to the node --

const jsHasText = `function(needle) {
	const norm = s => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
	const text = this.tagName === 'INPUT' ? this.value : (this.innerText || this.textContent);
	return norm(text).includes(norm(needle));
}`

const jsIsVisible = `function() {
	if (!this.isConnected) return false;
	const style = window.getComputedStyle(this);
	if (style.display === 'none' || style.visibility === 'hidden') return false;
	const rect = this.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
}`

const jsClearField = `function() {
	if (this.disabled || this.readOnly) return 'disabled';
	if (this.isContentEditable) { this.textContent = ''; return 'ok'; }
	if (this.tagName === 'TEXTAREA' || (this.tagName === 'INPUT' && !['checkbox', 'radio', 'submit', 'button'].includes(this.type))) {
		this.value = '';
		return 'ok';
	}
	return 'not-editable';
}`

const jsDispatchChange = `function() {
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

type subscription struct {
	id int
	fn func(schemas.Signal)
}

// Page is one browser tab.
type Page struct {
	logger     *zap.Logger
	tabCtx     context.Context
	tabCancel  context.CancelFunc
	navTimeout time.Duration

	mu      sync.Mutex
	subs    map[schemas.SignalKind][]subscription
	nextSub int

	reqMu    sync.Mutex
	requests map[network.RequestID]*request
}

// Option configures a Page.
type Option func(*Page)

// WithNavigationTimeout bounds each Navigate call in addition to the caller's context.
func WithNavigationTimeout(d time.Duration) Option {
	return func(p *Page) { p.navTimeout = d }
}

// New opens a tab in the browser behind parent (a chromedp context) and
// starts listening for its events.
func New(parent context.Context, logger *zap.Logger, opts ...Option) (*Page, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tabCtx, tabCancel := chromedp.NewContext(parent)
	p := &Page{
		logger:    logger.Named("cdp_page"),
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		subs:      make(map[schemas.SignalKind][]subscription),
		requests:  make(map[network.RequestID]*request),
	}
	for _, opt := range opts {
		opt(p)
	}

	chromedp.ListenTarget(tabCtx, p.handleEvent)
	if err := chromedp.Run(tabCtx,
		network.Enable(),
		runtime.Enable(),
		log.Enable(),
		page.Enable(),
	); err != nil {
		tabCancel()
		return nil, fmt.Errorf("could not enable CDP domains: %w", err)
	}
	p.logger.Debug("Tab opened and listening for events.")
	return p, nil
}

// Close closes the tab.
func (p *Page) Close() error {
	err := chromedp.Cancel(p.tabCtx)
	p.tabCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("could not close tab: %w", err)
	}
	return nil
}

// Screenshot captures the full page as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, defaultScreenshotQuality)); err != nil {
		return nil, fmt.Errorf("could not capture screenshot: %w", err)
	}
	return buf, nil
}

// -- schemas.Page --

func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.navTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.navTimeout)
		defer cancel()
	}
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// FindAll runs the CSS part of selector with querySelectorAll and applies the
// optional :has-text() filter in the page.
func (p *Page) FindAll(ctx context.Context, selector string) ([]schemas.ElementHandle, error) {
	css, text, err := schemas.SplitTextFilter(selector)
	if err != nil {
		return nil, err
	}

	var out []schemas.ElementHandle
	err = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(css, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)).Do(ctx); err != nil {
			return err
		}
		for _, n := range nodes {
			if text != "" {
				var ok bool
				if err := callOnNode(ctx, n, jsHasText, &ok, text); err != nil {
					return err
				}
				if !ok {
					continue
				}
			}
			out = append(out, &element{node: n})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	return out, nil
}

func (p *Page) IsVisible(ctx context.Context, h schemas.ElementHandle) (bool, error) {
	el, err := asElement(h)
	if err != nil {
		return false, err
	}
	var visible bool
	err = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return callOnNode(ctx, el.node, jsIsVisible, &visible)
	}))
	return visible, err
}

// Fill clears the field, focuses it and inserts text as a single input event.
func (p *Page) Fill(ctx context.Context, h schemas.ElementHandle, text string) error {
	el, err := asElement(h)
	if err != nil {
		return err
	}
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var state string
		if err := callOnNode(ctx, el.node, jsClearField, &state); err != nil {
			return err
		}
		switch state {
		case "ok":
		case "disabled":
			return fmt.Errorf("%w: %s", ErrDisabled, el)
		default:
			return fmt.Errorf("%w: %s", ErrNotEditable, el)
		}
		if err := dom.Focus().WithNodeID(el.node.NodeID).Do(ctx); err != nil {
			return err
		}
		if err := input.InsertText(text).Do(ctx); err != nil {
			return err
		}
		var dispatched bool
		return callOnNode(ctx, el.node, jsDispatchChange, &dispatched)
	}))
}

// Click scrolls the element into view and clicks its center.
func (p *Page) Click(ctx context.Context, h schemas.ElementHandle) error {
	el, err := asElement(h)
	if err != nil {
		return err
	}
	return p.run(ctx, chromedp.MouseClickNode(el.node))
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

// Now is wall time; signals are stamped on receipt with the same clock.
func (p *Page) Now() time.Time { return time.Now() }

func (p *Page) emit(sig schemas.Signal) {
	sig.Timestamp = p.Now()
	p.mu.Lock()
	subs := append([]subscription(nil), p.subs[sig.Kind]...)
	p.mu.Unlock()
	for _, s := range subs {
		s.fn(sig)
	}
}

// run executes actions on the tab, bounded by ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combine(p.tabCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// callOnNode calls the JS function fn with `this` bound to node and decodes
// its return value into res. It must run inside a chromedp action.
func callOnNode(ctx context.Context, node *cdp.Node, fn string, res interface{}, args ...interface{}) error {
	obj, err := dom.ResolveNode().WithNodeID(node.NodeID).Do(ctx)
	if err != nil {
		return fmt.Errorf("could not resolve node %d: %w", node.NodeID, err)
	}
	defer func() {
		_ = runtime.ReleaseObject(obj.ObjectID).Do(ctx)
	}()

	params, err := nodeCall(fn, obj.ObjectID, args...)
	if err != nil {
		return err
	}
	v, exp, err := params.Do(ctx)
	if err != nil {
		return err
	}
	return decodeCallResult(v, exp, res)
}

// nodeCall builds the Runtime.callFunctionOn request for a resolved node.
// Arguments are passed by value as JSON.
func nodeCall(fn string, objectID runtime.RemoteObjectID, args ...interface{}) (*runtime.CallFunctionOnParams, error) {
	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for _, arg := range args {
		raw, err := jsoniter.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("could not encode call argument: %w", err)
		}
		callArgs = append(callArgs, &runtime.CallArgument{Value: raw})
	}
	return runtime.CallFunctionOn(fn).
		WithObjectID(objectID).
		WithArguments(callArgs).
		WithReturnByValue(true).
		WithSilent(true), nil
}

func decodeCallResult(v *runtime.RemoteObject, exp *runtime.ExceptionDetails, res interface{}) error {
	if exp != nil {
		text := exp.Text
		if exp.Exception != nil && exp.Exception.Description != "" {
			text = exp.Exception.Description
		}
		return fmt.Errorf("page script threw: %s", text)
	}
	if res == nil {
		return nil
	}
	if v == nil || len(v.Value) == 0 {
		return fmt.Errorf("page script returned no value")
	}
	if err := jsoniter.Unmarshal([]byte(v.Value), res); err != nil {
		return fmt.Errorf("could not decode page script result: %w", err)
	}
	return nil
}

// -- Elements --

type element struct {
	node *cdp.Node
}

// String renders tag#id.class for logs.
func (e *element) String() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(e.node.LocalName))
	if id := e.node.AttributeValue("id"); id != "" {
		b.WriteString("#" + id)
	}
	for _, c := range strings.Fields(e.node.AttributeValue("class")) {
		b.WriteString("." + c)
	}
	if name := e.node.AttributeValue("name"); name != "" {
		fmt.Fprintf(&b, "[name=%s]", name)
	}
	return b.String()
}

func asElement(h schemas.ElementHandle) (*element, error) {
	el, ok := h.(*element)
	if !ok {
		return nil, fmt.Errorf("element handle %T does not belong to a browser tab", h)
	}
	return el, nil
}
