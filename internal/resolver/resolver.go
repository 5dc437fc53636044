// Package resolver turns ranked selector candidates into a single visible element.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

// DefaultPollInterval paces repeated passes over the candidate list while an
// element has not rendered yet.
const DefaultPollInterval = 100 * time.Millisecond

// Resolver finds elements using ordered selector candidates. It never mutates
// the page and keeps no state between calls.
type Resolver struct {
	logger       *zap.Logger
	pollInterval time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPollInterval overrides the delay between resolution passes.
func WithPollInterval(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// New creates a resolver.
func New(logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		logger:       logger.Named("resolver"),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve tries the candidates strictly in order and returns the first one
// whose selected element is visible. The selected element is the first match
// in document order, or the last one when the candidate asks for it.
//
// Passes repeat until timeout elapses; a non-positive timeout means a single
// pass. When nothing matches the returned error wraps schemas.ErrElementNotFound.
// Cancellation of ctx itself is returned as the context error.
func (r *Resolver) Resolve(ctx context.Context, page schemas.Page, candidates []schemas.SelectorCandidate, timeout time.Duration) (*schemas.ResolvedElement, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no selector candidates given", schemas.ErrElementNotFound)
	}

	if timeout <= 0 {
		el, err := r.pass(ctx, page, candidates)
		if err != nil {
			return nil, err
		}
		if el == nil {
			return nil, schemas.NotFoundError(candidates)
		}
		return el, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(r.pollInterval), 1)
	attempts := 0
	for {
		if err := limiter.Wait(opCtx); err != nil {
			// Either our deadline would pass before the next attempt, or ctx ended.
			break
		}
		attempts++
		el, err := r.pass(opCtx, page, candidates)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			break
		}
		if el != nil {
			r.logger.Debug("Element resolved.",
				zap.String("candidate", el.Candidate.String()),
				zap.Int("rank", el.Rank),
				zap.Int("attempts", attempts))
			return el, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.logger.Debug("No candidate resolved within timeout.",
		zap.Int("candidates", len(candidates)),
		zap.Duration("timeout", timeout),
		zap.Int("attempts", attempts))
	return nil, schemas.NotFoundError(candidates)
}

// pass runs one ordered sweep. A nil element with a nil error means no match.
// Only context errors are returned; page errors for a single candidate (for
// example a selector the page rejects) just disqualify that candidate.
func (r *Resolver) pass(ctx context.Context, page schemas.Page, candidates []schemas.SelectorCandidate) (*schemas.ResolvedElement, error) {
	for rank, c := range candidates {
		handles, err := page.FindAll(ctx, c.Query)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.Debug("Candidate query rejected.", zap.String("candidate", c.Query), zap.Error(err))
			continue
		}
		if len(handles) == 0 {
			continue
		}

		h := handles[0]
		if c.Last {
			h = handles[len(handles)-1]
		}

		visible, err := page.IsVisible(ctx, h)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.Debug("Visibility check failed.", zap.String("candidate", c.Query), zap.Error(err))
			continue
		}
		if !visible {
			continue
		}
		return &schemas.ResolvedElement{Handle: h, Candidate: c, Rank: rank, Visible: true}, nil
	}
	return nil, nil
}

// ErrAllQueriesFailed is returned by Count when the page rejected every candidate.
var ErrAllQueriesFailed = errors.New("every candidate query failed")

// Count returns the number of elements matched by the first candidate with a
// non-zero match count. Zero is a valid result. Visibility is not considered.
func (r *Resolver) Count(ctx context.Context, page schemas.Page, candidates []schemas.SelectorCandidate) (int, *schemas.SelectorCandidate, error) {
	var lastErr error
	failures := 0
	for i := range candidates {
		c := candidates[i]
		handles, err := page.FindAll(ctx, c.Query)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, nil, ctxErr
			}
			failures++
			lastErr = err
			continue
		}
		if len(handles) > 0 {
			return len(handles), &c, nil
		}
	}
	if len(candidates) > 0 && failures == len(candidates) {
		return 0, nil, fmt.Errorf("%w: %v", ErrAllQueriesFailed, lastErr)
	}
	return 0, nil, nil
}
