package cdp

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

// request is what we remember about an in-flight request until it finishes.
type request struct {
	method      string
	url         string
	status      int
	contentType string
}

// handleEvent translates CDP target events into page signals. It runs on the
// chromedp event goroutine and must not call chromedp.Run.
func (p *Page) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		p.emit(schemas.Signal{Kind: schemas.SignalNavigation, URL: e.Frame.URL + e.Frame.URLFragment, Method: "GET"})

	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		if e.RedirectResponse != nil {
			if prev := p.untrack(e.RequestID); prev != nil {
				p.emit(schemas.Signal{
					Kind:        schemas.SignalResponse,
					URL:         prev.url,
					Method:      prev.method,
					Status:      int(e.RedirectResponse.Status),
					ContentType: e.RedirectResponse.MimeType,
				})
			}
		}
		p.track(e.RequestID, &request{method: e.Request.Method, url: e.Request.URL})
		p.emit(schemas.Signal{Kind: schemas.SignalRequest, URL: e.Request.URL, Method: e.Request.Method})

	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		p.reqMu.Lock()
		if r, ok := p.requests[e.RequestID]; ok {
			r.status = int(e.Response.Status)
			r.contentType = e.Response.MimeType
		}
		p.reqMu.Unlock()

	case *network.EventLoadingFinished:
		r := p.untrack(e.RequestID)
		if r == nil {
			return
		}
		p.emit(schemas.Signal{
			Kind:        schemas.SignalResponse,
			URL:         r.url,
			Method:      r.method,
			Status:      r.status,
			ContentType: r.contentType,
			Body:        p.bodyLoader(e.RequestID),
		})

	case *network.EventLoadingFailed:
		r := p.untrack(e.RequestID)
		if r == nil {
			return
		}
		p.emit(schemas.Signal{
			Kind:        schemas.SignalResponse,
			URL:         r.url,
			Method:      r.method,
			Status:      r.status,
			ContentType: r.contentType,
			ErrorText:   e.ErrorText,
		})

	case *runtime.EventConsoleAPICalled:
		p.emit(schemas.Signal{Kind: schemas.SignalConsole, Level: string(e.Type), Message: consoleText(e.Args)})

	case *log.EventEntryAdded:
		if e.Entry == nil {
			return
		}
		p.emit(schemas.Signal{Kind: schemas.SignalConsole, Level: string(e.Entry.Level), Message: e.Entry.Text})

	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails == nil {
			return
		}
		text := e.ExceptionDetails.Text
		if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
			text = e.ExceptionDetails.Exception.Description
		}
		p.emit(schemas.Signal{Kind: schemas.SignalConsole, Level: "error", Message: text})
	}
}

func (p *Page) track(id network.RequestID, r *request) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	p.requests[id] = r
}

func (p *Page) untrack(id network.RequestID) *request {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	r, ok := p.requests[id]
	if !ok {
		return nil
	}
	delete(p.requests, id)
	return r
}

// bodyLoader fetches the body on the tab. The caller's context bounds the
// fetch; the step that triggered the response may be long gone by then.
func (p *Page) bodyLoader(id network.RequestID) schemas.BodyLoader {
	return func(ctx context.Context) ([]byte, error) {
		runCtx, cancel := combine(p.tabCtx, ctx)
		defer cancel()

		var body []byte
		err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		if err != nil {
			p.logger.Debug("Failed to fetch response body.", zap.String("request_id", string(id)), zap.Error(err))
			return nil, fmt.Errorf("could not fetch body of request %s: %w", id, err)
		}
		return body, nil
	}
}

// consoleText joins console arguments the way devtools prints them.
func consoleText(args []*runtime.RemoteObject) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteString(" ")
		}
		var val interface{}
		switch {
		case len(arg.Value) > 0 && jsoniter.Unmarshal([]byte(arg.Value), &val) == nil:
			fmt.Fprintf(&b, "%v", val)
		case arg.Description != "":
			b.WriteString(arg.Description)
		default:
			fmt.Fprintf(&b, "[%s]", arg.Type)
		}
	}
	return b.String()
}
