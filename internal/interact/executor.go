// File: internal/interact/executor.go

// Package interact executes page actions against elements captured in a
// snapshot. Every action resolves its target to a marked live node first,
// then walks an ordered list of strategies until one lands, so a stale
// snapshot or a stubborn widget degrades into a fallback rather than a
// hard failure.
package interact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// ErrElementDisabled reports an action against a control that cannot accept
// it in its current state.
var ErrElementDisabled = errors.New("element is disabled")

type scriptOutcome struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// clickScript is the last-resort click path. When the marked node has
// vanished (the page re-rendered with new node identities) it scans for a
// link/button whose visible text or href still carries the captured text
// hint. Wrapper hits are steered to an interactive descendant or ancestor
// before the full pointer/mouse/click sequence fires at the node's center.
const clickScript = `(function() {
	var el = document.querySelector(%s);
	var hint = %s;
	var norm = function(s) {
		return (s || '').toLowerCase().replace(/\s+/g, ' ').trim();
	};
	if (!el && hint !== '') {
		var want = norm(hint);
		var pool = document.querySelectorAll('a, button, [role]');
		for (var i = 0; i < pool.length; i++) {
			var c = pool[i];
			var href = c.getAttribute ? (c.getAttribute('href') || '') : '';
			if (norm(c.innerText || c.textContent).indexOf(want) !== -1 ||
				href.toLowerCase().indexOf(want) !== -1) {
				el = c;
				break;
			}
		}
	}
	if (!el) return { ok: false, reason: 'gone' };
	var interactive = function(n) {
		if (!n || !n.tagName) { return false; }
		switch (n.tagName) {
		case 'A': case 'BUTTON': case 'INPUT': case 'SELECT': case 'TEXTAREA':
			return true;
		}
		return false;
	};
	if (!interactive(el)) {
		var inner = el.querySelector('a[href], button, input, [role="button"], [role="link"]');
		if (inner) {
			el = inner;
		} else if (el.closest) {
			var outer = el.closest('a[href], button');
			if (outer) { el = outer; }
		}
	}
	var r = el.getBoundingClientRect();
	var opts = {
		bubbles: true, cancelable: true, view: window,
		clientX: r.left + r.width / 2, clientY: r.top + r.height / 2
	};
	el.dispatchEvent(new PointerEvent('pointerdown', opts));
	el.dispatchEvent(new MouseEvent('mousedown', opts));
	el.dispatchEvent(new PointerEvent('pointerup', opts));
	el.dispatchEvent(new MouseEvent('mouseup', opts));
	el.click();
	return { ok: true };
})()`

// typeScript writes through the prototype value setter so framework managed
// inputs observe the change, then raises the events a keyboard would.
const typeScript = `(function() {
	var el = document.querySelector(%s);
	if (!el) return { ok: false, reason: 'gone' };
	var value = %s;
	el.focus();
	if (el.isContentEditable) {
		el.textContent = value;
	} else {
		var proto = el.tagName === 'TEXTAREA'
			? window.HTMLTextAreaElement.prototype
			: window.HTMLInputElement.prototype;
		var desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) {
			desc.set.call(el, value);
		} else {
			el.value = value;
		}
	}
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return { ok: true };
})()`

const typeActiveScript = `(function() {
	var el = document.activeElement;
	if (!el || el === document.body || el === document.documentElement) {
		return { ok: false, reason: 'nothing is focused' };
	}
	var value = %s;
	if (el.isContentEditable) {
		el.textContent = value;
	} else if (el.tagName === 'INPUT' || el.tagName === 'TEXTAREA') {
		var proto = el.tagName === 'TEXTAREA'
			? window.HTMLTextAreaElement.prototype
			: window.HTMLInputElement.prototype;
		var desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) {
			desc.set.call(el, value);
		} else {
			el.value = value;
		}
	} else {
		return { ok: false, reason: 'focused element accepts no text' };
	}
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return { ok: true };
})()`

const selectScript = `(function() {
	var el = document.querySelector(%s);
	if (!el) return { ok: false, reason: 'gone' };
	if (el.tagName !== 'SELECT') return { ok: false, reason: 'not a select' };
	var want = %s;
	var hit = -1;
	for (var i = 0; i < el.options.length; i++) {
		if (el.options[i].value === want) { hit = i; break; }
	}
	if (hit < 0) {
		var norm = function(s) { return (s || '').replace(/\s+/g, ' ').trim(); };
		for (var j = 0; j < el.options.length; j++) {
			if (norm(el.options[j].label || el.options[j].text) === norm(want)) { hit = j; break; }
		}
	}
	if (hit < 0) return { ok: false, reason: 'no option matched' };
	if (el.selectedIndex !== hit) {
		el.selectedIndex = hit;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
	}
	return { ok: true };
})()`

const checkScript = `(function() {
	var el = document.querySelector(%s);
	if (!el) return { ok: false, reason: 'gone' };
	var want = %t;
	if (el.checked === want) return { ok: true };
	el.checked = want;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return { ok: true };
})()`

// tier is one attempt strategy for an action.
type tier struct {
	name string
	run  func(ctx context.Context) error
}

// Executor performs snapshot element actions against a live session.
type Executor struct {
	logger   *zap.Logger
	cfg      config.BrowserConfig
	resolver *Resolver
}

func NewExecutor(cfg config.BrowserConfig, logger *zap.Logger) *Executor {
	return &Executor{
		logger:   logger.Named("executor"),
		cfg:      cfg,
		resolver: NewResolver(logger),
	}
}

// Click activates the element. Natively interactive tags try a real CDP
// click first; wrapper nodes such as clickable cards respond more reliably
// to a synthetic click, so for those the script strategy leads.
func (e *Executor) Click(ctx context.Context, sess schemas.BrowserSession, el *schemas.Element) error {
	return e.perform(ctx, sess, el, func(sel string) []tier {
		native := tier{"native click", func(ctx context.Context) error {
			return sess.ClickSelector(ctx, sel)
		}}
		forced := tier{"forced click", func(ctx context.Context) error {
			return sess.ForceClickSelector(ctx, sel)
		}}
		hint := schemas.Head(schemas.CollapseSpace(el.Text), 40)
		script := tier{"script click", func(ctx context.Context) error {
			return e.runScript(ctx, sess, fmt.Sprintf(clickScript, jsString(sel), jsString(hint)))
		}}
		if isWrapperTag(el.Tag) {
			// The fallbacks aim at the real control inside the card. Clicking
			// the wrapper box itself often lands between its children.
			inner := innerHandleSelector(sel)
			nativeInner := tier{"native click (inner handle)", func(ctx context.Context) error {
				return sess.ClickSelector(ctx, inner)
			}}
			forcedInner := tier{"forced click (inner handle)", func(ctx context.Context) error {
				return sess.ForceClickSelector(ctx, inner)
			}}
			return []tier{script, nativeInner, forcedInner}
		}
		return []tier{native, forced, script}
	})
}

// Type replaces the element's current value with text.
func (e *Executor) Type(ctx context.Context, sess schemas.BrowserSession, el *schemas.Element, text string) error {
	return e.perform(ctx, sess, el, func(sel string) []tier {
		return []tier{
			{"native type", func(ctx context.Context) error {
				return sess.TypeIntoSelector(ctx, sel, text)
			}},
			{"script type", func(ctx context.Context) error {
				return e.runScript(ctx, sess, fmt.Sprintf(typeScript, jsString(sel), jsString(text)))
			}},
		}
	})
}

// TypeActive replaces the value of whichever element currently holds focus.
// Used when the oracle types without naming a target, e.g. right after a
// click focused a field.
func (e *Executor) TypeActive(ctx context.Context, sess schemas.BrowserSession, text string) error {
	if err := e.runScript(ctx, sess, fmt.Sprintf(typeActiveScript, jsString(text))); err != nil {
		return err
	}
	return e.settle(ctx)
}

// SelectOption chooses a dropdown entry by value, falling back to the
// normalized visible label when no value matches.
func (e *Executor) SelectOption(ctx context.Context, sess schemas.BrowserSession, el *schemas.Element, value string) error {
	return e.perform(ctx, sess, el, func(sel string) []tier {
		return []tier{
			{"script select", func(ctx context.Context) error {
				return e.runScript(ctx, sess, fmt.Sprintf(selectScript, jsString(sel), jsString(value)))
			}},
		}
	})
}

// SetChecked drives a checkbox or radio to the requested state. Already
// matching state is a no-op, not an error.
func (e *Executor) SetChecked(ctx context.Context, sess schemas.BrowserSession, el *schemas.Element, checked bool) error {
	return e.perform(ctx, sess, el, func(sel string) []tier {
		return []tier{
			{"script check", func(ctx context.Context) error {
				return e.runScript(ctx, sess, fmt.Sprintf(checkScript, jsString(sel), checked))
			}},
		}
	})
}

func (e *Executor) perform(ctx context.Context, sess schemas.BrowserSession, el *schemas.Element, build func(sel string) []tier) error {
	if el.Disabled {
		return fmt.Errorf("element %d: %w", el.ID, ErrElementDisabled)
	}

	res, cleanup, err := e.resolver.Resolve(ctx, sess, el.Selector)
	if err != nil && browser.IsContextDestroyed(err) {
		// The page was mid navigation when we arrived. Let it finish and
		// resolve once more against the settled document.
		e.logger.Debug("Resolution hit a navigating page, retrying.", zap.Int("element_id", el.ID))
		if loadErr := sess.WaitForLoad(ctx); loadErr != nil {
			return fmt.Errorf("selector resolution failed: %w", err)
		}
		res, cleanup, err = e.resolver.Resolve(ctx, sess, el.Selector)
	}
	if err != nil {
		return err
	}
	defer cleanup()

	if res.Disabled {
		return fmt.Errorf("element %d: %w", el.ID, ErrElementDisabled)
	}

	if err := e.runTiers(ctx, el, build(res.Selector)); err != nil {
		if browser.IsContextDestroyed(err) {
			// The action tore down the document, which means it landed and
			// triggered a navigation. Wait for the new page and call it done.
			e.logger.Debug("Action triggered navigation.", zap.Int("element_id", el.ID))
			if loadErr := sess.WaitForLoad(ctx); loadErr != nil {
				e.logger.Debug("Post-action load wait failed.", zap.Error(loadErr))
			}
			return e.settle(ctx)
		}
		return err
	}
	return e.settle(ctx)
}

func (e *Executor) runTiers(ctx context.Context, el *schemas.Element, tiers []tier) error {
	var lastErr error
	for _, t := range tiers {
		err := t.run(ctx)
		if err == nil {
			e.logger.Debug("Action strategy succeeded.",
				zap.Int("element_id", el.ID),
				zap.String("strategy", t.name))
			return nil
		}
		if browser.IsContextDestroyed(err) || ctx.Err() != nil {
			return err
		}
		e.logger.Debug("Action strategy failed, trying next.",
			zap.Int("element_id", el.ID),
			zap.String("strategy", t.name),
			zap.Error(err))
		lastErr = err
	}
	return fmt.Errorf("all strategies failed: %w", lastErr)
}

func (e *Executor) runScript(ctx context.Context, sess schemas.BrowserSession, script string) error {
	var out scriptOutcome
	if err := sess.ExecuteScript(ctx, script, &out); err != nil {
		return err
	}
	if !out.OK {
		if out.Reason == "gone" {
			return fmt.Errorf("%w (marked element vanished from the page)", ErrNoMatch)
		}
		return fmt.Errorf("script action refused: %s", out.Reason)
	}
	return nil
}

// settle gives the page's event handlers a beat to react before the next
// perception pass captures the result.
func (e *Executor) settle(ctx context.Context) error {
	if e.cfg.SettleDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(e.cfg.SettleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// innerHandleSelector narrows a marked wrapper to the interactive handle
// nested inside it.
func innerHandleSelector(sel string) string {
	return fmt.Sprintf(`%[1]s a[href], %[1]s button, %[1]s [role="button"], %[1]s [role="link"]`, sel)
}

// isWrapperTag reports whether tag is a generic container that only became
// interactive through a handler or role, rather than a native control.
func isWrapperTag(tag string) bool {
	switch tag {
	case "div", "span", "li", "td", "tr", "article", "section":
		return true
	}
	return false
}
