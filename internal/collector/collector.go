// Package collector records navigation, network and console activity of a
// page while a scenario runs.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

const (
	DefaultMaxBodyBytes = 64 * 1024
	DefaultBodyTimeout  = 10 * time.Second

	// maxSightings bounds the unfiltered signal history kept for WaitFor.
	maxSightings = 2048
)

// Config controls what the collector keeps.
type Config struct {
	// Patterns is the default interest list used when Start gets none.
	Patterns []string
	// AlwaysKeepLevels lists console levels that bypass pattern filtering.
	AlwaysKeepLevels []string
	MaxBodyBytes     int
	BodyTimeout      time.Duration
	CaptureBodies    bool
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		AlwaysKeepLevels: []string{"error"},
		MaxBodyBytes:     DefaultMaxBodyBytes,
		BodyTimeout:      DefaultBodyTimeout,
		CaptureBodies:    true,
	}
}

var (
	ErrAlreadyStarted = errors.New("collector already started")
	ErrNotStarted     = errors.New("collector not started")
)

// sighting is an unfiltered record of a signal. text is the URL, or the
// message for console signals.
type sighting struct {
	kind   schemas.SignalKind
	text   string
	at     time.Time
	failed bool
}

// Collector buffers events for one run. Signal callbacks may arrive on any
// goroutine; all state is guarded by mu.
type Collector struct {
	logger *zap.Logger
	cfg    Config
	keep   map[string]bool

	// bodyCtx bounds background body loads; cancelled by Stop.
	bodyCtx    context.Context
	bodyCancel context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	matchers  []matcher
	events    []schemas.Event
	sightings []sighting
	// sightingBase counts sightings discarded from the front of the slice.
	sightingBase int
	changed      chan struct{}
	unsubs       []func()
	started      bool
	stopped      bool
	dropped      int
}

// New creates an idle collector.
func New(logger *zap.Logger, cfg Config) *Collector {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.BodyTimeout <= 0 {
		cfg.BodyTimeout = DefaultBodyTimeout
	}
	keep := make(map[string]bool, len(cfg.AlwaysKeepLevels))
	for _, l := range cfg.AlwaysKeepLevels {
		keep[strings.ToLower(l)] = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		logger:     logger.Named("collector"),
		cfg:        cfg,
		keep:       keep,
		bodyCtx:    ctx,
		bodyCancel: cancel,
		changed:    make(chan struct{}),
	}
}

// Start subscribes to every signal kind of page. A nil or empty patterns
// falls back to the configured defaults; no patterns at all keeps everything.
func (c *Collector) Start(page schemas.Page, patterns []string) error {
	if len(patterns) == 0 {
		patterns = c.cfg.Patterns
	}
	ms, err := compilePatterns(patterns)
	if err != nil {
		return fmt.Errorf("invalid collector pattern: %w", err)
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.matchers = ms
	c.mu.Unlock()

	unsubs := make([]func(), 0, len(schemas.AllSignals))
	for _, kind := range schemas.AllSignals {
		unsubs = append(unsubs, page.Subscribe(kind, c.handle))
	}

	c.mu.Lock()
	c.unsubs = unsubs
	c.mu.Unlock()

	c.logger.Debug("Collector started.", zap.Strings("patterns", patterns))
	return nil
}

// Stop unsubscribes, waits for pending body loads (bounded by ctx) and returns
// the buffered events in firing order. Later calls return the same events.
func (c *Collector) Stop(ctx context.Context) []schemas.Event {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	alreadyStopped := c.stopped
	c.stopped = true
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}

	if !alreadyStopped {
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			c.logger.Warn("Collector stop interrupted before all bodies were loaded.", zap.Error(ctx.Err()))
		}
		c.bodyCancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !alreadyStopped {
		c.logger.Debug("Collector stopped.", zap.Int("events", len(c.events)), zap.Int("dropped", c.dropped))
	}
	out := make([]schemas.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Events returns a snapshot of the events captured so far.
func (c *Collector) Events() []schemas.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schemas.Event, len(c.events))
	copy(out, c.events)
	return out
}

// WaitFor blocks until a navigation, completed response or console message
// matching pattern has been observed at or after since. URLs are matched for
// network signals and message text for console signals. Requests and failed
// loads never satisfy a wait. It sees signals the interest patterns filtered
// out. It returns the matched URL or message, or an error wrapping
// schemas.ErrSignalTimeout when ctx ends first.
func (c *Collector) WaitFor(ctx context.Context, pattern string, since time.Time) (string, error) {
	m, err := compilePattern(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid wait pattern %q: %w", pattern, err)
	}
	checked := 0
	for {
		c.mu.Lock()
		if !c.started {
			c.mu.Unlock()
			return "", ErrNotStarted
		}
		if checked < c.sightingBase {
			checked = c.sightingBase
		}
		for ; checked-c.sightingBase < len(c.sightings); checked++ {
			s := c.sightings[checked-c.sightingBase]
			if s.kind == schemas.SignalRequest || s.failed || s.at.Before(since) {
				continue
			}
			if m.match(s.text) {
				c.mu.Unlock()
				return s.text, nil
			}
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %s: %v", schemas.ErrSignalTimeout, pattern, ctx.Err())
		}
	}
}

// -- Signal Handling --

func (c *Collector) handle(sig schemas.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	c.recordSighting(sig)
	if !c.wanted(sig) {
		c.dropped++
		return
	}

	ev := schemas.Event{
		Seq:       len(c.events),
		Timestamp: sig.Timestamp,
		URL:       sig.URL,
		Method:    sig.Method,
		StepIndex: -1,
	}
	switch sig.Kind {
	case schemas.SignalNavigation:
		ev.Kind = schemas.EventNavigation
	case schemas.SignalRequest:
		ev.Kind = schemas.EventRequest
	case schemas.SignalResponse:
		ev.Kind = schemas.EventResponse
		ev.Status = sig.Status
		ev.ContentType = sig.ContentType
		ev.ErrorText = sig.ErrorText
	case schemas.SignalConsole:
		ev.Kind = schemas.ConsoleKind(strings.ToLower(sig.Level))
		ev.Level = sig.Level
		ev.Message = sig.Message
	default:
		return
	}
	c.events = append(c.events, ev)

	if ev.Kind == schemas.EventResponse && sig.Body != nil && c.cfg.CaptureBodies && classify(sig.ContentType) != formatSkip {
		c.wg.Add(1)
		go c.loadBody(ev.Seq, sig.Body)
	}
}

// wanted applies the interest filter. Caller holds mu.
func (c *Collector) wanted(sig schemas.Signal) bool {
	if sig.Kind == schemas.SignalConsole {
		if c.keep[strings.ToLower(sig.Level)] {
			return true
		}
		return len(c.matchers) == 0 || matchAny(c.matchers, sig.Message)
	}
	return len(c.matchers) == 0 || matchAny(c.matchers, sig.URL)
}

// recordSighting notes a signal for WaitFor and wakes waiters. Caller holds mu.
func (c *Collector) recordSighting(sig schemas.Signal) {
	if len(c.sightings) >= maxSightings {
		half := len(c.sightings) / 2
		n := copy(c.sightings, c.sightings[half:])
		c.sightings = c.sightings[:n]
		c.sightingBase += half
	}
	text := sig.URL
	if sig.Kind == schemas.SignalConsole {
		text = sig.Message
	}
	c.sightings = append(c.sightings, sighting{
		kind:   sig.Kind,
		text:   text,
		at:     sig.Timestamp,
		failed: sig.ErrorText != "",
	})
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Collector) loadBody(seq int, load schemas.BodyLoader) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(c.bodyCtx, c.cfg.BodyTimeout)
	defer cancel()

	body, err := load(ctx)
	if err != nil {
		c.logger.Debug("Response body unavailable.", zap.Int("seq", seq), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq >= len(c.events) {
		return
	}
	ev := &c.events[seq]
	applyBody(ev, body, c.cfg.MaxBodyBytes)
	if ev.ParseError != "" {
		c.logger.Debug("Response body could not be parsed.", zap.String("url", ev.URL), zap.String("error", ev.ParseError))
	}
}
