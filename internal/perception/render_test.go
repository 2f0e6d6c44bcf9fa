// File: internal/perception/render_test.go
package perception

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

func renderFixture() *schemas.Snapshot {
	return &schemas.Snapshot{
		CapturedAt: time.Date(2025, 11, 2, 12, 0, 0, 0, time.UTC),
		URL:        "https://shop.example/cart",
		Title:      "Your Cart",
		Elements: []schemas.Element{
			{
				ID:       1,
				Role:     "link",
				Tag:      "a",
				Text:     "Home",
				Href:     "https://shop.example/",
				Selector: schemas.PlainSelector("a[href=\"/\"]"),
			},
			{
				ID:          2,
				Role:        "textbox",
				Tag:         "input",
				Type:        "email",
				Placeholder: "you@example.com",
				Selector:    schemas.PlainSelector("input[name=\"email\"]"),
			},
			{
				ID:       3,
				Role:     "combobox",
				Tag:      "select",
				Selector: schemas.PlainSelector("select[name=\"qty\"]"),
				Options: []schemas.OptionInfo{
					{Value: "1", Label: "One"},
					{Value: "2", Label: "Two"},
				},
			},
			{
				ID:       4,
				Role:     "button",
				Tag:      "button",
				Text:     "Checkout",
				Disabled: true,
				InDialog: true,
				Selector: schemas.PlainSelector("#checkout"),
			},
		},
		Headings: []schemas.Heading{
			{Level: 1, Text: "Your Cart"},
			{Level: 2, Text: "Items"},
		},
		Excerpt:   "# Your Cart\n\n2 items ready.",
		Tabs:      []schemas.TabInfo{{Index: 0, URL: "https://shop.example/cart", Title: "Your Cart"}},
		ActiveTab: 0,
	}
}

func TestRender(t *testing.T) {
	out := Render(renderFixture())

	assert.Contains(t, out, "URL: https://shop.example/cart")
	assert.Contains(t, out, "Title: Your Cart")

	// Outline mirrors heading depth.
	assert.Contains(t, out, "# Your Cart")
	assert.Contains(t, out, "## Items")

	assert.Contains(t, out, `[1] link "Home" (https://shop.example/)`)
	assert.Contains(t, out, `[2] textbox type=email placeholder="you@example.com"`)
	assert.Contains(t, out, "[3] combobox options: 1=One; 2=Two")
	assert.Contains(t, out, `[4] button "Checkout"`)
	assert.Contains(t, out, "[disabled]")
	assert.Contains(t, out, "[in dialog]")

	assert.Contains(t, out, "Page content (markdown):")
	assert.Contains(t, out, "2 items ready.")

	// A single tab is not worth a section.
	assert.NotContains(t, out, "Open tabs")
}

func TestRenderTabSection(t *testing.T) {
	snap := renderFixture()
	snap.Tabs = append(snap.Tabs, schemas.TabInfo{Index: 1, URL: "https://shop.example/help", Title: "Help"})
	snap.ActiveTab = 1

	out := Render(snap)

	assert.Contains(t, out, "Open tabs (* = active):")
	assert.Contains(t, out, "  [0] Your Cart (https://shop.example/cart)")
	assert.Contains(t, out, "* [1] Help (https://shop.example/help)")
}

func TestRenderEmptySnapshot(t *testing.T) {
	out := Render(&schemas.Snapshot{URL: "about:blank", Title: ""})

	assert.Contains(t, out, "URL: about:blank")
	assert.Contains(t, out, "none visible")
	assert.NotContains(t, out, "Outline:")
	assert.NotContains(t, out, "Page content")
}

func TestRenderIsDeterministic(t *testing.T) {
	a := Render(renderFixture())
	b := Render(renderFixture())
	assert.Equal(t, a, b)
}
