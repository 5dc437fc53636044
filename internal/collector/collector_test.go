package collector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
	"github.com/xkilldash9x/widgetprobe/internal/testing/fakepage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestCollector(t *testing.T, mutate func(*Config)) *Collector {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return New(zaptest.NewLogger(t), cfg)
}

func stop(t *testing.T, c *Collector) []schemas.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Stop(ctx)
}

func TestCollector_FiltersAPIPair(t *testing.T) {
	page := fakepage.New()
	c := newTestCollector(t, nil)
	require.NoError(t, c.Start(page, []string{"/api/"}))

	page.Emit(schemas.Signal{Kind: schemas.SignalRequest, URL: "https://site.test/static/app.js", Method: "GET"})
	page.Emit(schemas.Signal{Kind: schemas.SignalRequest, URL: "https://site.test/api/comments", Method: "POST"})
	page.Emit(schemas.Signal{Kind: schemas.SignalResponse, URL: "https://site.test/static/app.js", Status: 200})
	page.Emit(schemas.Signal{Kind: schemas.SignalResponse, URL: "https://site.test/api/comments", Method: "POST", Status: 201})

	events := stop(t, c)
	require.Len(t, events, 2)
	assert.Equal(t, schemas.EventRequest, events[0].Kind)
	assert.Equal(t, schemas.EventResponse, events[1].Kind)
	for i, ev := range events {
		assert.Equal(t, i, ev.Seq)
		assert.Equal(t, -1, ev.StepIndex)
		assert.Contains(t, ev.URL, "/api/")
	}
	assert.Equal(t, 201, events[1].Status)
	assert.Zero(t, page.Subscribers(schemas.SignalResponse), "stop must unsubscribe")
}

func TestCollector_ConsoleFiltering(t *testing.T) {
	page := fakepage.New()
	c := newTestCollector(t, nil)
	require.NoError(t, c.Start(page, []string{"comment"}))

	page.Emit(schemas.Signal{Kind: schemas.SignalConsole, Level: "log", Message: "page ready"})
	page.Emit(schemas.Signal{Kind: schemas.SignalConsole, Level: "log", Message: "comment posted"})
	page.Emit(schemas.Signal{Kind: schemas.SignalConsole, Level: "error", Message: "Module not found"})
	page.Emit(schemas.Signal{Kind: schemas.SignalConsole, Level: "warning", Message: "deprecated api"})

	events := stop(t, c)
	require.Len(t, events, 2)
	assert.Equal(t, schemas.EventLog, events[0].Kind)
	assert.Equal(t, "comment posted", events[0].Message)
	assert.Equal(t, schemas.EventError, events[1].Kind, "error level bypasses the filter")
}

func TestCollector_NoPatternsKeepsEverything(t *testing.T) {
	page := fakepage.New()
	c := newTestCollector(t, nil)
	require.NoError(t, c.Start(page, nil))

	page.Emit(schemas.Signal{Kind: schemas.SignalNavigation, URL: "https://site.test/"})
	page.Emit(schemas.Signal{Kind: schemas.SignalRequest, URL: "https://cdn.test/x.css"})
	page.Emit(schemas.Signal{Kind: schemas.SignalConsole, Level: "info", Message: "hello"})

	events := stop(t, c)
	require.Len(t, events, 3)
	assert.Equal(t, []schemas.EventKind{schemas.EventNavigation, schemas.EventRequest, schemas.EventLog},
		[]schemas.EventKind{events[0].Kind, events[1].Kind, events[2].Kind})
}

func TestCollector_Bodies(t *testing.T) {
	page := fakepage.New()
	c := newTestCollector(t, func(cfg *Config) { cfg.MaxBodyBytes = 8 })
	require.NoError(t, c.Start(page, nil))

	page.Emit(fakepage.JSONResponse("https://site.test/api/comments", 200, `{"count":3,"items":["a"]}`))
	page.Emit(fakepage.JSONResponse("https://site.test/api/broken", 200, `{"count":`))

	xml := fakepage.JSONResponse("https://site.test/feed", 200, `<feed version="2"><entry>hi</entry></feed>`)
	xml.ContentType = "application/xml"
	page.Emit(xml)

	failing := fakepage.JSONResponse("https://site.test/api/gone", 200, "")
	failing.Body = func(context.Context) ([]byte, error) { return nil, errors.New("no resource with given identifier") }
	page.Emit(failing)

	events := stop(t, c)
	require.Len(t, events, 4)

	body, ok := events[0].Body.(map[string]any)
	require.True(t, ok, "json body should decode into a map, got %T", events[0].Body)
	assert.Equal(t, float64(3), body["count"])
	assert.Empty(t, events[0].ParseError)

	assert.Nil(t, events[1].Body)
	assert.Equal(t, `{"count"`, events[1].RawBody, "raw body is truncated to the limit")
	assert.Contains(t, events[1].ParseError, schemas.ErrCollectorParse.Error())

	feed, ok := events[2].Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "feed", feed["tag"])
	assert.Equal(t, map[string]string{"version": "2"}, feed["attrs"])

	assert.Nil(t, events[3].Body)
	assert.Empty(t, events[3].ParseError, "a missing body is not a parse error")
}

func TestCollector_StopBoundedByContext(t *testing.T) {
	page := fakepage.New()
	// The abandoned load finishes after the test returns, so it must not log through t.
	c := New(zap.NewNop(), DefaultConfig())
	require.NoError(t, c.Start(page, nil))

	slow := fakepage.JSONResponse("https://site.test/api/slow", 200, "")
	slow.Body = func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	page.Emit(slow)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	events := c.Stop(ctx)
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Body)
}

func TestCollector_Lifecycle(t *testing.T) {
	page := fakepage.New()
	c := newTestCollector(t, nil)

	_, err := c.WaitFor(context.Background(), "x", time.Time{})
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, c.Start(page, nil))
	assert.ErrorIs(t, c.Start(page, nil), ErrAlreadyStarted)

	page.Emit(schemas.Signal{Kind: schemas.SignalNavigation, URL: "https://site.test/"})
	first := stop(t, c)
	page.Emit(schemas.Signal{Kind: schemas.SignalNavigation, URL: "https://site.test/late"})
	second := stop(t, c)
	assert.Equal(t, first, second)
	assert.Len(t, second, 1)
}

func TestCollector_WaitFor(t *testing.T) {
	page := fakepage.New()
	c := newTestCollector(t, nil)
	require.NoError(t, c.Start(page, []string{"/analytics/"}))
	defer stop(t, c)

	t.Run("sees signals the filter drops", func(t *testing.T) {
		since := time.Now()
		go func() {
			time.Sleep(10 * time.Millisecond)
			page.Emit(schemas.Signal{Kind: schemas.SignalResponse, URL: "https://site.test/api/comments.ajax?page=1", Status: 200})
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		url, err := c.WaitFor(ctx, "**/api/comments.ajax**", since)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(url, "page=1"))
	})

	t.Run("ignores signals before since", func(t *testing.T) {
		page.Emit(schemas.Signal{Kind: schemas.SignalResponse, URL: "https://site.test/api/old"})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := c.WaitFor(ctx, "/api/old", time.Now().Add(time.Second))
		assert.ErrorIs(t, err, schemas.ErrSignalTimeout)
	})

	t.Run("requests do not satisfy a wait", func(t *testing.T) {
		since := time.Now()
		page.Emit(schemas.Signal{Kind: schemas.SignalRequest, URL: "https://site.test/api/pending"})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := c.WaitFor(ctx, "/api/pending", since)
		assert.ErrorIs(t, err, schemas.ErrSignalTimeout)
	})
	t.Run("console messages satisfy a wait", func(t *testing.T) {
		since := time.Now()
		page.Emit(schemas.Signal{Kind: schemas.SignalConsole, Level: "log", Message: "comment posted"})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		msg, err := c.WaitFor(ctx, "comment posted", since)
		require.NoError(t, err)
		assert.Equal(t, "comment posted", msg)
	})

	t.Run("console waits match the message, not the level", func(t *testing.T) {
		since := time.Now()
		page.Emit(schemas.Signal{Kind: schemas.SignalConsole, Level: "warning", Message: "rate limited"})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := c.WaitFor(ctx, "warning", since)
		assert.ErrorIs(t, err, schemas.ErrSignalTimeout)
	})

	t.Run("failed loads do not satisfy a wait", func(t *testing.T) {
		since := time.Now()
		page.Emit(schemas.Signal{Kind: schemas.SignalResponse, URL: "https://site.test/api/like", ErrorText: "net::ERR_CONNECTION_RESET"})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := c.WaitFor(ctx, "/api/like", since)
		assert.ErrorIs(t, err, schemas.ErrSignalTimeout)

		go func() {
			time.Sleep(10 * time.Millisecond)
			page.Emit(schemas.Signal{Kind: schemas.SignalResponse, URL: "https://site.test/api/like", Status: 200})
		}()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel2()
		url, err := c.WaitFor(ctx2, "/api/like", since)
		require.NoError(t, err, "a later successful response still counts")
		assert.Equal(t, "https://site.test/api/like", url)
	})
}

func TestPatternMatching(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		pattern, input string
		expected       bool
	}{
		{"/api/", "https://a.test/api/comments", true},
		{"/api/", "https://a.test/static/app.js", false},
		{"**/api/comments.ajax**", "https://a.test/api/comments.ajax?x=1", true},
		{"**/api/comments.ajax**", "https://a.test/api/commentsXajax", false},
		{"https://a.test/*.js", "https://a.test/app.js", true},
		{"https://a.test/*.js", "https://a.test/js/app.js", false},
		{"https://a.test/**.js", "https://a.test/js/app.js", true},
	}
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.pattern+"|"+tt.input, func(t *testing.T) {
			t.Parallel()
			m, err := compilePattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m.match(tt.input))
		})
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "评", truncate([]byte("评论"), 4))
	assert.Equal(t, "abc", truncate([]byte("abc"), 10))
}
