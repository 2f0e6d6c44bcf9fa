// File: internal/interact/resolver.go
package interact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser"
)

// markerAttribute is stamped onto the resolved node so every subsequent
// strategy addresses the exact same element, even if the descriptor's query
// would match something else by the time the action runs.
const markerAttribute = "data-wp-target"

const markerCleanupTimeout = 2 * time.Second

// ErrNoMatch reports that a selector descriptor resolved to nothing on the
// live page.
var ErrNoMatch = errors.New("no element matches the selector")

// Resolution addresses a single live DOM node through its marker attribute.
type Resolution struct {
	// Selector is an attribute query that matches exactly the marked node.
	Selector string
	// Disabled reflects the node's state at resolution time, which may have
	// changed since the snapshot was taken.
	Disabled bool
}

type markResult struct {
	Found    bool   `json:"found"`
	Disabled bool   `json:"disabled"`
	Reason   string `json:"reason,omitempty"`
}

// markScript pins down one element for a descriptor and tags it. A non empty
// text qualifier wins over the index: indexes go stale as soon as the page
// inserts a sibling, normalized text rarely does.
const markScript = `(function() {
	var query = %s;
	var index = %d;
	var text = %s;
	var marker = %s;
	var list;
	try {
		list = document.querySelectorAll(query);
	} catch (e) {
		return { found: false, reason: 'invalid query: ' + e.message };
	}
	if (list.length === 0) {
		return { found: false, reason: 'no matches for query' };
	}
	var norm = function(s) { return (s || '').replace(/\s+/g, ' ').trim(); };
	var el = null;
	if (text !== '') {
		var want = norm(text);
		for (var i = 0; i < list.length; i++) {
			if (norm(list[i].textContent).indexOf(want) === 0) { el = list[i]; break; }
		}
		if (el === null && list.length === 1) { el = list[0]; }
		if (el === null) {
			return { found: false, reason: 'text qualifier matched nothing' };
		}
	} else {
		if (index < 0) { index = 0; }
		if (index >= list.length) {
			return { found: false, reason: 'index out of range' };
		}
		el = list[index];
	}
	document.querySelectorAll('[data-wp-target]').forEach(function(n) {
		n.removeAttribute('data-wp-target');
	});
	el.setAttribute('data-wp-target', marker);
	var disabled = !!(el.disabled || el.getAttribute('aria-disabled') === 'true');
	return { found: true, disabled: disabled };
})()`

const removeMarkersScript = `(function() {
	document.querySelectorAll('[data-wp-target]').forEach(function(n) {
		n.removeAttribute('data-wp-target');
	});
	return true;
})()`

// Resolver turns selector descriptors into marked, directly addressable nodes.
type Resolver struct {
	logger *zap.Logger
}

func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger.Named("resolver")}
}

// Resolve marks the element the descriptor describes and returns a selector
// for the marked node plus a cleanup function that removes the marker. The
// cleanup function is non nil only on success.
func (r *Resolver) Resolve(ctx context.Context, sess schemas.BrowserSession, desc schemas.SelectorDescriptor) (*Resolution, func(), error) {
	marker := uuid.NewString()
	text := ""
	if desc.Kind == schemas.SelectorTextQualified {
		text = desc.Text
	}
	script := fmt.Sprintf(markScript, jsString(desc.Query), desc.Index, jsString(text), jsString(marker))

	var res markResult
	if err := sess.ExecuteScript(ctx, script, &res); err != nil {
		return nil, nil, fmt.Errorf("selector resolution failed: %w", err)
	}
	if !res.Found {
		return nil, nil, fmt.Errorf("%w (%s: %s)", ErrNoMatch, desc.Query, res.Reason)
	}

	cleanup := func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), markerCleanupTimeout)
		defer cancel()
		if err := sess.ExecuteScript(cleanupCtx, removeMarkersScript, nil); err != nil && !browser.IsContextDestroyed(err) {
			r.logger.Debug("Failed to remove interaction marker.", zap.Error(err))
		}
	}
	return &Resolution{
		Selector: fmt.Sprintf(`[%s=%q]`, markerAttribute, marker),
		Disabled: res.Disabled,
	}, cleanup, nil
}

// jsString renders s as a JavaScript string literal. JSON string encoding is
// a strict subset of JS, so the output is safe to splice into a script.
func jsString(s string) string {
	out, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(out)
}
