// File: internal/browser/dispatch.go
package browser

import (
	"context"
	"fmt"
	"math"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// ClickSelector clicks the first match using chromedp's native input
// simulation, which waits for visibility and scrolls the node into view.
func (s *Session) ClickSelector(ctx context.Context, selector string) error {
	actCtx, cancel := context.WithTimeout(ctx, s.cfg.Browser.ActionTimeout)
	defer cancel()
	return s.runActions(actCtx, chromedp.Click(selector, chromedp.ByQuery))
}

// ForceClickSelector clicks at the element's content-quad center with raw
// mouse events. It skips actionability waits, so the click lands even when
// another element technically overlaps the target.
func (s *Session) ForceClickSelector(ctx context.Context, selector string) error {
	actCtx, cancel := context.WithTimeout(ctx, s.cfg.Browser.ActionTimeout)
	defer cancel()

	var nodes []*cdp.Node
	return s.runActions(actCtx,
		chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(1)),
		chromedp.ActionFunc(func(c context.Context) error {
			if len(nodes) == 0 {
				return fmt.Errorf("no node found for selector %q", selector)
			}
			node := nodes[0]
			if err := dom.ScrollIntoViewIfNeeded().WithNodeID(node.NodeID).Do(c); err != nil {
				s.logger.Debug("ScrollIntoViewIfNeeded failed before forced click.", zap.Error(err))
			}
			quads, err := dom.GetContentQuads().WithNodeID(node.NodeID).Do(c)
			if err != nil {
				return fmt.Errorf("failed to get content quads: %w", err)
			}
			x, y, ok := quadCenter(quads)
			if !ok {
				return fmt.Errorf("element %q has no visible layout box", selector)
			}
			return chromedp.MouseClickXY(x, y).Do(c)
		}),
	)
}

// quadCenter returns the center of the first quad with a real area. Quads
// are flat [x1,y1,...,x4,y4] slices in viewport coordinates.
func quadCenter(quads []dom.Quad) (float64, float64, bool) {
	for _, q := range quads {
		if len(q) != 8 {
			continue
		}
		area := 0.5 * math.Abs(
			q[0]*q[3]-q[2]*q[1]+
				q[2]*q[5]-q[4]*q[3]+
				q[4]*q[7]-q[6]*q[5]+
				q[6]*q[1]-q[0]*q[7])
		if area < 1 {
			continue
		}
		x := (q[0] + q[2] + q[4] + q[6]) / 4
		y := (q[1] + q[3] + q[5] + q[7]) / 4
		return x, y, true
	}
	return 0, 0, false
}

// TypeIntoSelector clears the matched field, then types text with native key
// events so per-keystroke handlers fire.
func (s *Session) TypeIntoSelector(ctx context.Context, selector, text string) error {
	actCtx, cancel := context.WithTimeout(ctx, s.cfg.Browser.ActionTimeout)
	defer cancel()
	return s.runActions(actCtx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// Scroll moves the viewport one step, 80% of the window height, in the given
// direction.
func (s *Session) Scroll(ctx context.Context, direction schemas.ScrollDirection) error {
	factor := 0.8
	if direction == schemas.ScrollUp {
		factor = -0.8
	}
	script := fmt.Sprintf("window.scrollBy({top: window.innerHeight * %.1f, left: 0, behavior: 'instant'})", factor)

	actCtx, cancel := context.WithTimeout(ctx, s.cfg.Browser.ActionTimeout)
	defer cancel()
	return s.runActions(actCtx, chromedp.Evaluate(script, nil))
}
