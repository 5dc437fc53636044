package cdp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

// newDetachedPage builds a Page without a browser so event translation can be
// driven directly.
func newDetachedPage(t *testing.T) (*Page, *[]schemas.Signal) {
	t.Helper()
	p := &Page{
		logger:   zaptest.NewLogger(t),
		tabCtx:   context.Background(),
		subs:     make(map[schemas.SignalKind][]subscription),
		requests: make(map[network.RequestID]*request),
	}
	var got []schemas.Signal
	for _, kind := range schemas.AllSignals {
		p.Subscribe(kind, func(s schemas.Signal) { got = append(got, s) })
	}
	return p, &got
}

func TestHandleEvent_Navigation(t *testing.T) {
	p, got := newDetachedPage(t)

	p.handleEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "sub", ParentID: "main", URL: "https://ads.test/frame"}})
	p.handleEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "main", URL: "https://blog.test/post/1", URLFragment: "#comments"}})

	require.Len(t, *got, 1, "only the main frame counts")
	assert.Equal(t, schemas.SignalNavigation, (*got)[0].Kind)
	assert.Equal(t, "https://blog.test/post/1#comments", (*got)[0].URL)
	assert.False(t, (*got)[0].Timestamp.IsZero())
}

func TestHandleEvent_NetworkLifecycle(t *testing.T) {
	p, got := newDetachedPage(t)

	p.handleEvent(&network.EventRequestWillBeSent{
		RequestID: "1",
		Request:   &network.Request{Method: "POST", URL: "https://blog.test/api/comments.ajax"},
	})
	p.handleEvent(&network.EventResponseReceived{
		RequestID: "1",
		Response:  &network.Response{Status: 201, MimeType: "application/json"},
	})
	p.handleEvent(&network.EventLoadingFinished{RequestID: "1"})

	require.Len(t, *got, 2)
	req, resp := (*got)[0], (*got)[1]
	assert.Equal(t, schemas.SignalRequest, req.Kind)
	assert.Equal(t, "POST", req.Method)

	assert.Equal(t, schemas.SignalResponse, resp.Kind)
	assert.Equal(t, "https://blog.test/api/comments.ajax", resp.URL)
	assert.Equal(t, "POST", resp.Method)
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.NotNil(t, resp.Body)
	assert.Empty(t, p.requests, "finished requests are forgotten")

	// A second finish for the same id is ignored.
	p.handleEvent(&network.EventLoadingFinished{RequestID: "1"})
	assert.Len(t, *got, 2)
}

func TestHandleEvent_FailedAndRedirected(t *testing.T) {
	p, got := newDetachedPage(t)

	p.handleEvent(&network.EventRequestWillBeSent{RequestID: "f", Request: &network.Request{Method: "GET", URL: "https://blog.test/api/like"}})
	p.handleEvent(&network.EventLoadingFailed{RequestID: "f", ErrorText: "net::ERR_CONNECTION_RESET"})

	require.Len(t, *got, 2)
	failed := (*got)[1]
	assert.Equal(t, schemas.SignalResponse, failed.Kind)
	assert.Equal(t, "net::ERR_CONNECTION_RESET", failed.ErrorText)
	assert.Zero(t, failed.Status)
	assert.Nil(t, failed.Body)

	*got = nil
	p.handleEvent(&network.EventRequestWillBeSent{RequestID: "r", Request: &network.Request{Method: "GET", URL: "http://blog.test/post"}})
	p.handleEvent(&network.EventRequestWillBeSent{
		RequestID:        "r",
		Request:          &network.Request{Method: "GET", URL: "https://blog.test/post"},
		RedirectResponse: &network.Response{Status: 301},
	})

	require.Len(t, *got, 3)
	assert.Equal(t, schemas.SignalResponse, (*got)[1].Kind)
	assert.Equal(t, "http://blog.test/post", (*got)[1].URL)
	assert.Equal(t, 301, (*got)[1].Status)
	assert.Equal(t, "https://blog.test/post", (*got)[2].URL)
	assert.Equal(t, "https://blog.test/post", p.requests["r"].url)
}

func TestHandleEvent_Console(t *testing.T) {
	p, got := newDetachedPage(t)

	p.handleEvent(&runtime.EventConsoleAPICalled{
		Type: runtime.APITypeWarning,
		Args: []*runtime.RemoteObject{
			{Type: runtime.TypeString, Value: []byte(`"comment posted"`)},
			{Type: runtime.TypeNumber, Value: []byte(`3`)},
			{Type: runtime.TypeObject, Description: "HTMLDivElement"},
			{Type: runtime.TypeFunction},
		},
	})
	p.handleEvent(&log.EventEntryAdded{Entry: &log.Entry{Level: log.LevelError, Text: "Failed to load resource"}})
	p.handleEvent(&runtime.EventExceptionThrown{ExceptionDetails: &runtime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &runtime.RemoteObject{Description: "TypeError: x is undefined"},
	}})
	p.handleEvent(&log.EventEntryAdded{})

	require.Len(t, *got, 3)
	assert.Equal(t, "warning", (*got)[0].Level)
	assert.Equal(t, "comment posted 3 HTMLDivElement [function]", (*got)[0].Message)
	assert.Equal(t, schemas.EventWarning, schemas.ConsoleKind((*got)[0].Level))
	assert.Equal(t, "error", (*got)[1].Level)
	assert.Equal(t, "Failed to load resource", (*got)[1].Message)
	assert.Equal(t, "TypeError: x is undefined", (*got)[2].Message)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	p, got := newDetachedPage(t)
	var mine int
	unsubscribe := p.Subscribe(schemas.SignalConsole, func(schemas.Signal) { mine++ })

	p.handleEvent(&log.EventEntryAdded{Entry: &log.Entry{Level: log.LevelInfo, Text: "a"}})
	unsubscribe()
	p.handleEvent(&log.EventEntryAdded{Entry: &log.Entry{Level: log.LevelInfo, Text: "b"}})

	assert.Equal(t, 1, mine)
	assert.Len(t, *got, 2)
}

func TestElementString(t *testing.T) {
	el := &element{node: &cdp.Node{
		LocalName:  "textarea",
		Attributes: []string{"id", "reply", "class", "box  wide", "name", "comment"},
	}}
	assert.Equal(t, "textarea#reply.box.wide[name=comment]", el.String())

	_, err := asElement(nil)
	assert.Error(t, err)
}

func TestNodeCall(t *testing.T) {
	t.Run("has-text passes the needle by value", func(t *testing.T) {
		params, err := nodeCall(jsHasText, "obj-7", "Post  Comment")
		require.NoError(t, err)

		assert.Equal(t, jsHasText, params.FunctionDeclaration)
		assert.Equal(t, runtime.RemoteObjectID("obj-7"), params.ObjectID)
		assert.True(t, params.ReturnByValue)
		require.Len(t, params.Arguments, 1)
		assert.JSONEq(t, `"Post  Comment"`, string(params.Arguments[0].Value))
	})

	t.Run("visibility takes no arguments", func(t *testing.T) {
		params, err := nodeCall(jsIsVisible, "obj-8")
		require.NoError(t, err)
		assert.Equal(t, runtime.RemoteObjectID("obj-8"), params.ObjectID)
		assert.Empty(t, params.Arguments)
		assert.Zero(t, params.ExecutionContextID, "the object id selects the context")
	})
}

func TestDecodeCallResult(t *testing.T) {
	t.Run("visibility result", func(t *testing.T) {
		var visible bool
		require.NoError(t, decodeCallResult(&runtime.RemoteObject{Type: runtime.TypeBoolean, Value: []byte(`true`)}, nil, &visible))
		assert.True(t, visible)
	})

	t.Run("clear field state", func(t *testing.T) {
		var state string
		require.NoError(t, decodeCallResult(&runtime.RemoteObject{Type: runtime.TypeString, Value: []byte(`"disabled"`)}, nil, &state))
		assert.Equal(t, "disabled", state)
	})

	t.Run("thrown exception", func(t *testing.T) {
		var ok bool
		err := decodeCallResult(nil, &runtime.ExceptionDetails{
			Text:      "Uncaught",
			Exception: &runtime.RemoteObject{Description: "TypeError: this.getBoundingClientRect is not a function"},
		}, &ok)
		assert.ErrorContains(t, err, "getBoundingClientRect")
	})

	t.Run("undefined result", func(t *testing.T) {
		var ok bool
		assert.Error(t, decodeCallResult(&runtime.RemoteObject{Type: runtime.TypeUndefined}, nil, &ok))
		assert.NoError(t, decodeCallResult(&runtime.RemoteObject{Type: runtime.TypeUndefined}, nil, nil))
	})

	t.Run("wrong result type", func(t *testing.T) {
		var ok bool
		assert.Error(t, decodeCallResult(&runtime.RemoteObject{Type: runtime.TypeString, Value: []byte(`"ok"`)}, nil, &ok))
	})
}

func TestNodeFunctionsBindThis(t *testing.T) {
	for name, fn := range map[string]string{
		"has-text": jsHasText,
		"visible":  jsIsVisible,
		"clear":    jsClearField,
		"change":   jsDispatchChange,
	} {
		assert.True(t, strings.HasPrefix(fn, "function("), name)
		assert.Contains(t, fn, "this", name)
	}
	assert.Contains(t, jsHasText, "function(needle)")
}

func TestCombine(t *testing.T) {
	type key struct{}
	tab := context.WithValue(context.Background(), key{}, "tab")

	t.Run("operation cancel ends the combined context", func(t *testing.T) {
		op, cancelOp := context.WithCancel(context.Background())
		ctx, cancel := combine(tab, op)
		defer cancel()

		assert.Equal(t, "tab", ctx.Value(key{}))
		cancelOp()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context was not cancelled")
		}
		assert.NoError(t, tab.Err(), "the tab outlives the operation")
	})

	t.Run("operation deadline is inherited", func(t *testing.T) {
		op, cancelOp := context.WithTimeout(context.Background(), time.Hour)
		defer cancelOp()
		ctx, cancel := combine(tab, op)
		defer cancel()

		want, _ := op.Deadline()
		got, ok := ctx.Deadline()
		require.True(t, ok)
		assert.Equal(t, want, got)
	})
}
