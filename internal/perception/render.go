// File: internal/perception/render.go
package perception

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Render produces the textual page state handed to the oracle. This string
// is the oracle's entire view of the environment: anything not rendered here
// does not exist as far as the decision step is concerned.
func Render(s *schemas.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", s.URL)
	fmt.Fprintf(&b, "Title: %s\n", s.Title)

	if len(s.Tabs) > 1 {
		b.WriteString("\nOpen tabs (* = active):\n")
		for _, tb := range s.Tabs {
			marker := "  "
			if tb.Index == s.ActiveTab {
				marker = "* "
			}
			fmt.Fprintf(&b, "%s[%d] %s (%s)\n", marker, tb.Index, tb.Title, tb.URL)
		}
	}

	if len(s.Headings) > 0 {
		b.WriteString("\nOutline:\n")
		for _, h := range s.Headings {
			fmt.Fprintf(&b, "%s %s\n", strings.Repeat("#", h.Level), h.Text)
		}
	}

	if len(s.Elements) > 0 {
		b.WriteString("\nInteractive elements (refer to them by [id]):\n")
		for i := range s.Elements {
			b.WriteString(renderElement(&s.Elements[i]))
			b.WriteByte('\n')
		}
	} else {
		b.WriteString("\nInteractive elements: none visible\n")
	}

	if s.Excerpt != "" {
		b.WriteString("\nPage content (markdown):\n")
		b.WriteString(s.Excerpt)
		b.WriteByte('\n')
	}
	return b.String()
}

func renderElement(el *schemas.Element) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d] %s", el.ID, el.Role)
	if el.Text != "" {
		fmt.Fprintf(&sb, " %q", el.Text)
	}
	if el.Tag == "input" && el.Type != "" && el.Type != "text" {
		fmt.Fprintf(&sb, " type=%s", el.Type)
	}
	if el.Placeholder != "" && el.Placeholder != el.Text {
		fmt.Fprintf(&sb, " placeholder=%q", el.Placeholder)
	}
	if el.Value != "" && el.Value != el.Text {
		fmt.Fprintf(&sb, " value=%q", el.Value)
	}
	if el.Href != "" && el.Href != el.Text {
		fmt.Fprintf(&sb, " (%s)", el.Href)
	}
	if len(el.Options) > 0 {
		sb.WriteString(" options:")
		for i, o := range el.Options {
			if i > 0 {
				sb.WriteByte(';')
			}
			if o.Value != "" && o.Value != o.Label {
				fmt.Fprintf(&sb, " %s=%s", o.Value, o.Label)
			} else {
				fmt.Fprintf(&sb, " %s", o.Label)
			}
		}
	}
	if el.Disabled {
		sb.WriteString(" [disabled]")
	}
	if el.InDialog {
		sb.WriteString(" [in dialog]")
	}
	return sb.String()
}
