// File: internal/perception/builder.go

// Package perception folds a raw page scan into the bounded snapshot the
// decision step reads. Everything the oracle knows about a page passes
// through here: deduplication, caps, display-text selection, selector
// descriptor derivation and the markdown excerpt.
package perception

import (
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// Builder assembles snapshots under the configured caps.
type Builder struct {
	cfg    config.PerceptionConfig
	logger *zap.Logger
}

func NewBuilder(cfg config.PerceptionConfig, logger *zap.Logger) *Builder {
	return &Builder{cfg: cfg, logger: logger.Named("perception")}
}

// dedupKey identifies co-located identical controls, the usual symptom of
// stacked duplicate DOM. Coordinates are already rounded by the scanner.
type dedupKey struct {
	tag  string
	text string
	href string
	top  int
	left int
}

// Build folds one raw scan plus the tab inventory into an immutable
// snapshot. Element ids are dense 1..N; when the element cap bites,
// candidates inside an open dialog win over the rest.
func (b *Builder) Build(scan *schemas.PageScan, tabs []schemas.TabInfo, activeTab int) *schemas.Snapshot {
	snap := &schemas.Snapshot{
		CapturedAt: time.Now().UTC(),
		URL:        scan.URL,
		Title:      scan.Title,
		Tabs:       tabs,
		ActiveTab:  activeTab,
	}

	kept := b.dedupe(scan.Nodes)
	if len(kept) > b.cfg.MaxElements {
		b.logger.Debug("Element cap reached, trimming.",
			zap.Int("candidates", len(kept)), zap.Int("cap", b.cfg.MaxElements))
		kept = b.trimToCap(kept)
	}

	snap.Elements = make([]schemas.Element, 0, len(kept))
	for i, n := range kept {
		snap.Elements = append(snap.Elements, b.buildElement(n, i+1))
	}

	snap.Headings = b.buildHeadings(scan.Headings)
	snap.Excerpt = b.buildExcerpt(scan.ContentHTML)
	return snap
}

func (b *Builder) dedupe(nodes []schemas.RawNode) []*schemas.RawNode {
	seen := make(map[dedupKey]struct{}, len(nodes))
	kept := make([]*schemas.RawNode, 0, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		key := dedupKey{
			tag:  n.Tag,
			text: schemas.Head(schemas.CollapseSpace(n.Text), 50),
			href: n.Attr("href"),
			top:  int(n.Rect.Y),
			left: int(n.Rect.X),
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, n)
	}
	return kept
}

// trimToCap keeps in-dialog candidates first so a modal never loses its
// controls to a busy page underneath it.
func (b *Builder) trimToCap(nodes []*schemas.RawNode) []*schemas.RawNode {
	kept := make([]*schemas.RawNode, 0, b.cfg.MaxElements)
	for _, n := range nodes {
		if n.InDialog {
			kept = append(kept, n)
			if len(kept) == b.cfg.MaxElements {
				return kept
			}
		}
	}
	for _, n := range nodes {
		if !n.InDialog {
			kept = append(kept, n)
			if len(kept) == b.cfg.MaxElements {
				break
			}
		}
	}
	return kept
}

func (b *Builder) buildElement(n *schemas.RawNode, id int) schemas.Element {
	el := schemas.Element{
		ID:          id,
		Role:        n.Role,
		Tag:         n.Tag,
		Text:        schemas.Truncate(b.displayText(n), b.cfg.TextBudget),
		Placeholder: schemas.Truncate(n.Attr("placeholder"), b.cfg.TextBudget),
		Href:        n.Attr("href"),
		Value:       schemas.Truncate(n.Attr("value"), b.cfg.TextBudget),
		Type:        n.Attr("type"),
		Label:       schemas.Truncate(n.Attr("label"), b.cfg.TextBudget),
		Title:       schemas.Truncate(n.Attr("title"), b.cfg.TextBudget),
		InDialog:    n.InDialog,
		Disabled:    n.Disabled,
	}
	el.Selector = deriveSelector(n)
	el.Options = b.buildOptions(n.Options)
	return el
}

// displayText picks the first non-empty naming source for an element.
func (b *Builder) displayText(n *schemas.RawNode) string {
	candidates := []string{
		schemas.CollapseSpace(n.Text),
		n.Attr("aria-label"),
		n.Attr("title"),
		n.Attr("value"),
		n.Attr("placeholder"),
		n.Attr("href"),
		n.Attr("label"),
	}
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return ""
}

// deriveSelector picks the cheapest descriptor able to re-locate the node: a
// plain query when it matched uniquely, an index among the matches for
// text-less nodes, a text-qualified query otherwise. The text filter beats
// the index because indexes go stale the moment the page inserts a sibling.
func deriveSelector(n *schemas.RawNode) schemas.SelectorDescriptor {
	if n.MatchCount <= 1 {
		return schemas.PlainSelector(n.Query)
	}
	ownText := schemas.CollapseSpace(n.Text)
	if ownText == "" {
		idx := n.MatchIndex
		if idx < 0 {
			idx = 0
		}
		return schemas.IndexedSelector(n.Query, idx)
	}
	return schemas.TextQualifiedSelector(n.Query, ownText)
}

func (b *Builder) buildOptions(opts []schemas.OptionInfo) []schemas.OptionInfo {
	if len(opts) == 0 {
		return nil
	}
	if len(opts) > b.cfg.MaxOptions {
		opts = opts[:b.cfg.MaxOptions]
	}
	out := make([]schemas.OptionInfo, len(opts))
	for i, o := range opts {
		// Values stay untruncated: select_option matches on them exactly.
		out[i] = schemas.OptionInfo{Value: o.Value, Label: schemas.Truncate(o.Label, b.cfg.OptionBudget)}
	}
	return out
}

func (b *Builder) buildHeadings(headings []schemas.Heading) []schemas.Heading {
	if len(headings) == 0 {
		return nil
	}
	if len(headings) > b.cfg.MaxHeadings {
		headings = headings[:b.cfg.MaxHeadings]
	}
	out := make([]schemas.Heading, len(headings))
	for i, h := range headings {
		out[i] = schemas.Heading{Level: h.Level, Text: schemas.Truncate(h.Text, b.cfg.TextBudget)}
	}
	return out
}

// buildExcerpt converts the main-content HTML to markdown so the oracle can
// read page prose, falling back to bare text extraction when the converter
// chokes on the markup.
func (b *Builder) buildExcerpt(contentHTML string) string {
	if b.cfg.ExcerptBudget <= 0 || strings.TrimSpace(contentHTML) == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(contentHTML)
	if err != nil {
		b.logger.Debug("Markdown conversion failed, extracting plain text instead.", zap.Error(err))
		md = extractText(contentHTML)
	}
	return clip(md, b.cfg.ExcerptBudget)
}

// clip caps s at n runes, marking the cut. Unlike schemas.Truncate it keeps
// line structure, which carries the markdown's meaning.
func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// extractText walks the parsed fragment and concatenates its text nodes,
// skipping script and style subtrees.
func extractText(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return schemas.CollapseSpace(sb.String())
}
