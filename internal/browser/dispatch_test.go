// File: internal/browser/dispatch_test.go
package browser

import (
	"errors"
	"fmt"
	"testing"

	"github.com/chromedp/cdproto/dom"
	"github.com/stretchr/testify/assert"
)

func TestQuadCenter(t *testing.T) {
	testCases := []struct {
		name  string
		quads []dom.Quad
		wantX float64
		wantY float64
		ok    bool
	}{
		{
			name:  "axis aligned box",
			quads: []dom.Quad{{10, 20, 110, 20, 110, 70, 10, 70}},
			wantX: 60, wantY: 45, ok: true,
		},
		{
			name:  "degenerate quad skipped in favor of second",
			quads: []dom.Quad{{5, 5, 5, 5, 5, 5, 5, 5}, {0, 0, 10, 0, 10, 10, 0, 10}},
			wantX: 5, wantY: 5, ok: true,
		},
		{
			name:  "no quads",
			quads: nil,
			ok:    false,
		},
		{
			name:  "malformed quad",
			quads: []dom.Quad{{1, 2, 3}},
			ok:    false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			x, y, ok := quadCenter(tc.quads)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.wantX, x, 0.001)
				assert.InDelta(t, tc.wantY, y, 0.001)
			}
		})
	}
}

func TestIsContextDestroyed(t *testing.T) {
	assert.False(t, IsContextDestroyed(nil))
	assert.False(t, IsContextDestroyed(errors.New("net::ERR_NAME_NOT_RESOLVED")))
	assert.False(t, IsContextDestroyed(errors.New("context deadline exceeded")))

	assert.True(t, IsContextDestroyed(errors.New("Cannot find context with specified id (-32000)")))
	assert.True(t, IsContextDestroyed(errors.New("Execution context was destroyed.")))
	assert.True(t, IsContextDestroyed(fmt.Errorf("click failed: %w", errors.New("inspected target navigated or closed"))))
}
