// File: internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext creates a new context derived from ctx1 (the session
// context, which carries the CDP connection values) that is canceled when
// either ctx1 or ctx2 (the operational context carrying the deadline) is
// canceled. chromedp resolves its target from context values, so deriving
// from ctx2 instead would sever the connection.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
			// Already canceled via ctx1 or a direct call, just exit.
		}
	}()

	return combinedCtx, cancel
}

// valueOnlyContext inherits values but not cancellation. Used for cleanup
// that must still reach the browser after the operational context died.
type valueOnlyContext struct{ context.Context }

func (valueOnlyContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}       { return nil }
func (valueOnlyContext) Err() error                  { return nil }
