package cdp

import "context"

// combine returns a context that carries the values of tab (the chromedp
// target) and is cancelled when either tab or op is done. Cancelling the
// result never closes the tab itself.
func combine(tab, op context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(tab)
	if deadline, ok := op.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
		inner := cancel
		cancel = func() {
			cancelDeadline()
			inner()
		}
	}
	stop := context.AfterFunc(op, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
