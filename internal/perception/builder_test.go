// File: internal/perception/builder_test.go
package perception

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

func testPerceptionConfig() config.PerceptionConfig {
	return config.PerceptionConfig{
		MaxElements:   200,
		MaxHeadings:   24,
		ExcerptBudget: 2800,
		TextBudget:    120,
		MaxOptions:    12,
		OptionBudget:  48,
	}
}

func newTestBuilder(t *testing.T, mutators ...func(*config.PerceptionConfig)) *Builder {
	t.Helper()
	cfg := testPerceptionConfig()
	for _, m := range mutators {
		m(&cfg)
	}
	return NewBuilder(cfg, zaptest.NewLogger(t))
}

// rawNode builds a minimal candidate; y spaces the nodes apart so they do
// not collapse as co-located duplicates.
func rawNode(tag, text string, y float64) schemas.RawNode {
	return schemas.RawNode{
		Tag:        tag,
		Role:       "button",
		Text:       text,
		Attrs:      map[string]string{},
		Rect:       schemas.Rect{X: 10, Y: y, W: 100, H: 20},
		Query:      tag,
		MatchCount: 1,
	}
}

func scanOf(nodes ...schemas.RawNode) *schemas.PageScan {
	return &schemas.PageScan{
		URL:   "https://shop.example/cart",
		Title: "Cart",
		Nodes: nodes,
	}
}

func TestBuildAssignsDenseIDs(t *testing.T) {
	b := newTestBuilder(t)
	snap := b.Build(scanOf(
		rawNode("button", "One", 10),
		rawNode("button", "Two", 40),
		rawNode("button", "Three", 70),
	), nil, 0)

	require.Len(t, snap.Elements, 3)
	for i, el := range snap.Elements {
		assert.Equal(t, i+1, el.ID)
	}
	got, ok := snap.ElementByID(2)
	require.True(t, ok)
	assert.Equal(t, "Two", got.Text)

	_, ok = snap.ElementByID(99)
	assert.False(t, ok)

	assert.Equal(t, "https://shop.example/cart", snap.URL)
	assert.Equal(t, "Cart", snap.Title)
	assert.WithinDuration(t, time.Now().UTC(), snap.CapturedAt, time.Minute)
}

func TestBuildSuppressesCollocatedDuplicates(t *testing.T) {
	b := newTestBuilder(t)

	dup := rawNode("a", "Read more", 10)
	dup.Attrs["href"] = "https://shop.example/a"
	elsewhere := dup
	elsewhere.Rect.Y = 300

	snap := b.Build(scanOf(dup, dup, elsewhere), nil, 0)

	// The stacked duplicate is dropped, the same link further down stays.
	require.Len(t, snap.Elements, 2)
}

func TestBuildElementCapPrefersDialog(t *testing.T) {
	b := newTestBuilder(t, func(c *config.PerceptionConfig) { c.MaxElements = 3 })

	nodes := []schemas.RawNode{
		rawNode("button", "Page A", 10),
		rawNode("button", "Page B", 40),
		rawNode("button", "Page C", 70),
	}
	confirm := rawNode("button", "Confirm", 100)
	confirm.InDialog = true
	cancel := rawNode("button", "Cancel", 130)
	cancel.InDialog = true
	nodes = append(nodes, confirm, cancel)

	snap := b.Build(scanOf(nodes...), nil, 0)

	require.Len(t, snap.Elements, 3)
	assert.True(t, snap.Elements[0].InDialog)
	assert.True(t, snap.Elements[1].InDialog)
	assert.Equal(t, "Confirm", snap.Elements[0].Text)
	assert.Equal(t, "Page A", snap.Elements[2].Text)
	for i, el := range snap.Elements {
		assert.Equal(t, i+1, el.ID)
	}
}

func TestDeriveSelector(t *testing.T) {
	testCases := []struct {
		name     string
		node     schemas.RawNode
		wantKind schemas.SelectorKind
		check    func(t *testing.T, sel schemas.SelectorDescriptor)
	}{
		{
			name:     "unique match is plain",
			node:     schemas.RawNode{Query: "#login", MatchCount: 1, MatchIndex: 0, Text: "Login"},
			wantKind: schemas.SelectorPlain,
		},
		{
			name:     "multi match without text is indexed",
			node:     schemas.RawNode{Query: "input[type=\"text\"]", MatchCount: 4, MatchIndex: 2},
			wantKind: schemas.SelectorIndexed,
			check: func(t *testing.T, sel schemas.SelectorDescriptor) {
				assert.Equal(t, 2, sel.Index)
			},
		},
		{
			name:     "multi match with text is text qualified",
			node:     schemas.RawNode{Query: "button", MatchCount: 3, MatchIndex: 1, Text: "Add to cart"},
			wantKind: schemas.SelectorTextQualified,
			check: func(t *testing.T, sel schemas.SelectorDescriptor) {
				assert.Equal(t, "Add to cart", sel.Text)
			},
		},
		{
			name:     "qualifier text is a bounded raw prefix",
			node:     schemas.RawNode{Query: "button", MatchCount: 2, MatchIndex: 0, Text: strings.Repeat("x", 90)},
			wantKind: schemas.SelectorTextQualified,
			check: func(t *testing.T, sel schemas.SelectorDescriptor) {
				assert.Equal(t, strings.Repeat("x", 40), sel.Text)
			},
		},
		{
			name:     "negative match index clamps to zero",
			node:     schemas.RawNode{Query: "button", MatchCount: 2, MatchIndex: -1},
			wantKind: schemas.SelectorIndexed,
			check: func(t *testing.T, sel schemas.SelectorDescriptor) {
				assert.Equal(t, 0, sel.Index)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sel := deriveSelector(&tc.node)
			assert.Equal(t, tc.wantKind, sel.Kind)
			assert.Equal(t, tc.node.Query, sel.Query)
			if tc.check != nil {
				tc.check(t, sel)
			}
		})
	}
}

func TestBuildDisplayTextPriority(t *testing.T) {
	testCases := []struct {
		name  string
		attrs map[string]string
		text  string
		want  string
	}{
		{"own text wins", map[string]string{"aria-label": "Close dialog"}, "X", "X"},
		{"aria-label next", map[string]string{"aria-label": "Close dialog", "title": "close"}, "", "Close dialog"},
		{"title next", map[string]string{"title": "Settings"}, "", "Settings"},
		{"value before placeholder", map[string]string{"value": "Search", "placeholder": "type here"}, "", "Search"},
		{"placeholder before href", map[string]string{"placeholder": "you@example.com", "href": "https://x"}, "", "you@example.com"},
		{"label last", map[string]string{"label": "Email address"}, "", "Email address"},
		{"nothing yields empty", map[string]string{}, "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBuilder(t)
			n := rawNode("button", tc.text, 10)
			n.Attrs = tc.attrs
			snap := b.Build(scanOf(n), nil, 0)
			require.Len(t, snap.Elements, 1)
			assert.Equal(t, tc.want, snap.Elements[0].Text)
		})
	}
}

func TestBuildEnforcesTextBudget(t *testing.T) {
	b := newTestBuilder(t, func(c *config.PerceptionConfig) { c.TextBudget = 20 })

	n := rawNode("button", strings.Repeat("long ", 30), 10)
	snap := b.Build(scanOf(n), nil, 0)

	require.Len(t, snap.Elements, 1)
	text := snap.Elements[0].Text
	assert.LessOrEqual(t, len([]rune(text)), 20)
	assert.True(t, strings.HasSuffix(text, "..."))
}

func TestBuildCapsOptionsAndHeadings(t *testing.T) {
	b := newTestBuilder(t, func(c *config.PerceptionConfig) {
		c.MaxOptions = 3
		c.OptionBudget = 10
		c.MaxHeadings = 2
	})

	sel := rawNode("select", "", 10)
	for i := 0; i < 6; i++ {
		sel.Options = append(sel.Options, schemas.OptionInfo{
			Value: strings.Repeat("v", 30),
			Label: strings.Repeat("l", 30),
		})
	}
	scan := scanOf(sel)
	scan.Headings = []schemas.Heading{
		{Level: 1, Text: "First"},
		{Level: 2, Text: "Second"},
		{Level: 2, Text: "Third"},
	}

	snap := b.Build(scan, nil, 0)

	require.Len(t, snap.Elements, 1)
	require.Len(t, snap.Elements[0].Options, 3)
	opt := snap.Elements[0].Options[0]
	// Labels are display text and get clipped; values are matched exactly
	// by select_option and stay whole.
	assert.LessOrEqual(t, len([]rune(opt.Label)), 10)
	assert.Equal(t, strings.Repeat("v", 30), opt.Value)

	require.Len(t, snap.Headings, 2)
	assert.Equal(t, "Second", snap.Headings[1].Text)
}

func TestBuildExcerpt(t *testing.T) {
	t.Run("converts main content to markdown", func(t *testing.T) {
		b := newTestBuilder(t)
		scan := scanOf()
		scan.ContentHTML = "<h1>Welcome</h1><p>Some <strong>bold</strong> words.</p>"

		snap := b.Build(scan, nil, 0)

		assert.Contains(t, snap.Excerpt, "Welcome")
		assert.Contains(t, snap.Excerpt, "**bold**")
	})

	t.Run("budget bounds the excerpt", func(t *testing.T) {
		b := newTestBuilder(t, func(c *config.PerceptionConfig) { c.ExcerptBudget = 15 })
		scan := scanOf()
		scan.ContentHTML = "<p>" + strings.Repeat("words and more ", 50) + "</p>"

		snap := b.Build(scan, nil, 0)

		assert.LessOrEqual(t, len([]rune(snap.Excerpt)), 15)
		assert.True(t, strings.HasSuffix(snap.Excerpt, "..."))
	})

	t.Run("zero budget disables the excerpt", func(t *testing.T) {
		b := newTestBuilder(t, func(c *config.PerceptionConfig) { c.ExcerptBudget = 0 })
		scan := scanOf()
		scan.ContentHTML = "<p>anything</p>"

		snap := b.Build(scan, nil, 0)
		assert.Empty(t, snap.Excerpt)
	})
}

func TestExtractText(t *testing.T) {
	got := extractText("<div><script>var x = 1;</script><p>Visible</p><style>.a{}</style> text</div>")
	assert.Equal(t, "Visible text", got)
}

func TestBuildCarriesTabInventory(t *testing.T) {
	b := newTestBuilder(t)
	tabs := []schemas.TabInfo{
		{Index: 0, URL: "https://a.example", Title: "A"},
		{Index: 1, URL: "https://b.example", Title: "B"},
	}

	snap := b.Build(scanOf(), tabs, 1)

	assert.Equal(t, tabs, snap.Tabs)
	assert.Equal(t, 1, snap.ActiveTab)
}

func TestBuildIsDeterministicForUnchangedPage(t *testing.T) {
	b := newTestBuilder(t)

	sel := rawNode("select", "Size", 10)
	sel.Role = "combobox"
	sel.Options = []schemas.OptionInfo{
		{Value: "s", Label: "S"},
		{Value: "m", Label: "M"},
		{Value: "l", Label: "L"},
	}
	scan := scanOf(
		rawNode("button", "Add to cart", 40),
		rawNode("button", "Add to cart", 70),
		sel,
	)
	scan.Headings = []schemas.Heading{{Level: 1, Text: "Cart"}}
	scan.ContentHTML = "<p>Three sizes available.</p>"
	tabs := []schemas.TabInfo{{Index: 0, URL: "https://shop.example/cart", Title: "Cart"}}

	first := b.Build(scan, tabs, 0)
	second := b.Build(scan, tabs, 0)

	ignoreCaptureTime := cmpopts.IgnoreFields(schemas.Snapshot{}, "CapturedAt")
	if diff := cmp.Diff(first, second, ignoreCaptureTime); diff != "" {
		t.Errorf("rebuild of an unchanged page diverged (-first +second):\n%s", diff)
	}
}
