package schemas

import "context"

// -- Environment Capability Interfaces --

// BrowserSession is the narrow capability surface the agent core drives. It
// is deliberately dumb: resolution and fallback strategy live above it, the
// session only navigates, inspects and dispatches input.
type BrowserSession interface {
	// ID returns the unique identifier for the session.
	ID() string
	// Navigate loads the given URL in the active tab and waits for it to settle.
	Navigate(ctx context.Context, url string) error
	// WaitForLoad blocks until the active document is ready and briefly quiet.
	WaitForLoad(ctx context.Context) error
	// NewTab opens a tab, optionally navigating it, and makes it active.
	NewTab(ctx context.Context, url string) error
	// SwitchTab activates the tab at the given inventory index.
	SwitchTab(ctx context.Context, index int) error
	// ListTabs returns the read-only tab inventory plus the active index.
	ListTabs(ctx context.Context) ([]TabInfo, int, error)
	// Inspect runs the perception script against the active tab.
	Inspect(ctx context.Context) (*PageScan, error)
	// Scroll moves the viewport one step up or down.
	Scroll(ctx context.Context, direction ScrollDirection) error
	// ExecuteScript evaluates JS in the active document, optionally
	// unmarshalling the result into out.
	ExecuteScript(ctx context.Context, script string, out any) error
	// ClickSelector clicks the first match using native input simulation.
	ClickSelector(ctx context.Context, selector string) error
	// ForceClickSelector clicks at the element's box-model center with raw
	// mouse events, bypassing actionability waits.
	ForceClickSelector(ctx context.Context, selector string) error
	// TypeIntoSelector clears the matched field, then types text with native
	// key events.
	TypeIntoSelector(ctx context.Context, selector, text string) error
	// Close tears the session down.
	Close(ctx context.Context) error
}

// -- Decision Oracle Interfaces --

// Oracle is the external black-box that chooses the next action. It receives
// the full ordered transcript and the fixed tool catalog and answers with
// exactly one chosen action or plain text.
type Oracle interface {
	Decide(ctx context.Context, transcript []Turn, tools []ToolSpec) (*Decision, error)
	// Close releases any underlying transport resources.
	Close() error
}

// -- Confirmation Interface --

// Confirmer asks an external authority to approve a destructive action. A nil
// Confirmer means destructive actions proceed unconfirmed.
type Confirmer interface {
	Confirm(ctx context.Context, description string) (bool, error)
}

// -- Archive Interface --

// Repository archives finished runs. Archiving is best-effort: failures are
// logged by callers, never fatal to the run outcome.
type Repository interface {
	SaveRun(ctx context.Context, rec *RunRecord) error
	Close()
}
