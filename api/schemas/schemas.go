package schemas

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
)

// TurnRole identifies who produced a transcript turn.
type TurnRole string

const (
	RoleSystem      TurnRole = "system"
	RoleState       TurnRole = "state"
	RoleDecision    TurnRole = "decision"
	RoleObservation TurnRole = "observation"
)

// ToolCall is one action chosen by the decision oracle: a tool name plus its
// JSON-shaped arguments. Malformed argument payloads are degraded to an empty
// object before a ToolCall is constructed, never rejected.
type ToolCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Decision is the oracle's answer for one cycle: exactly one of a chosen
// action or a plain-text turn.
type Decision struct {
	Call *ToolCall `json:"call,omitempty"`
	Text string    `json:"text,omitempty"`
}

// Turn is one entry of the conversational transcript. Decision turns carry
// the chosen call; observation turns carry the paired result.
type Turn struct {
	Role    TurnRole      `json:"role"`
	Content string        `json:"content,omitempty"`
	Call    *ToolCall     `json:"call,omitempty"`
	Result  *ActionResult `json:"result,omitempty"`
}

// SelectorKind tags the SelectorDescriptor variant.
type SelectorKind string

const (
	SelectorPlain         SelectorKind = "plain"
	SelectorIndexed       SelectorKind = "indexed"
	SelectorTextQualified SelectorKind = "text_qualified"
)

// SelectorDescriptor is the tagged recipe for re-locating an element's live
// handle. Exactly one variant is chosen at capture time: Plain when the
// derived query matched a single node, Indexed when it matched several and
// the element has no text, TextQualified when it matched several and the
// element carries text.
type SelectorDescriptor struct {
	Kind  SelectorKind `json:"kind"`
	Query string       `json:"query"`
	Index int          `json:"index,omitempty"`
	Text  string       `json:"text,omitempty"`
}

// PlainSelector builds the single-match variant.
func PlainSelector(query string) SelectorDescriptor {
	return SelectorDescriptor{Kind: SelectorPlain, Query: query}
}

// IndexedSelector builds the nth-occurrence variant.
func IndexedSelector(query string, index int) SelectorDescriptor {
	return SelectorDescriptor{Kind: SelectorIndexed, Query: query, Index: index}
}

// TextQualifiedSelector builds the text-filtered variant. The text is stored
// as a raw prefix so live matching stays exact.
func TextQualifiedSelector(query, text string) SelectorDescriptor {
	return SelectorDescriptor{Kind: SelectorTextQualified, Query: query, Text: Head(text, 40)}
}

// OptionInfo is one choice of a select-like element.
type OptionInfo struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Element is one interactable unit within a Snapshot, addressed by a
// Snapshot-local id. Ids are dense 1..N in traversal order and are only valid
// within the Snapshot that produced them.
type Element struct {
	ID          int                `json:"id"`
	Role        string             `json:"role"`
	Tag         string             `json:"tag"`
	Text        string             `json:"text"`
	Placeholder string             `json:"placeholder,omitempty"`
	Href        string             `json:"href,omitempty"`
	Value       string             `json:"value,omitempty"`
	Type        string             `json:"type,omitempty"`
	Label       string             `json:"label,omitempty"`
	Title       string             `json:"title,omitempty"`
	Selector    SelectorDescriptor `json:"selector"`
	InDialog    bool               `json:"in_dialog,omitempty"`
	Disabled    bool               `json:"disabled,omitempty"`
	Options     []OptionInfo       `json:"options,omitempty"`
}

// Heading is one entry of the page outline.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// TabInfo describes one open tab in the read-only inventory.
type TabInfo struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Snapshot is the bounded, point-in-time view of the environment handed to
// the decision step. Immutable once built.
type Snapshot struct {
	CapturedAt time.Time `json:"captured_at"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Elements   []Element `json:"elements"`
	Headings   []Heading `json:"headings,omitempty"`
	Excerpt    string    `json:"excerpt,omitempty"`
	Tabs       []TabInfo `json:"tabs"`
	ActiveTab  int       `json:"active_tab"`
}

// ElementByID returns the element carrying the given Snapshot-local id.
func (s *Snapshot) ElementByID(id int) (*Element, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Elements {
		if s.Elements[i].ID == id {
			return &s.Elements[i], true
		}
	}
	return nil, false
}

// SecurityVerdict is the policy gate's classification of a proposed action.
type SecurityVerdict struct {
	Destructive bool   `json:"destructive"`
	Description string `json:"description,omitempty"`
}

// ActionResult is the outcome of one executed (or denied) action, folded back
// into the transcript as an observation.
type ActionResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Stop         bool   `json:"stop,omitempty"`
	UserQuestion string `json:"user_question,omitempty"`
}

// OK builds a successful, non-terminal result.
func OK(message string) *ActionResult {
	return &ActionResult{Success: true, Message: message}
}

// Fail builds a failed, non-terminal result.
func Fail(message string) *ActionResult {
	return &ActionResult{Success: false, Message: message}
}

// ScrollDirection constrains the scroll action.
type ScrollDirection string

const (
	ScrollUp   ScrollDirection = "up"
	ScrollDown ScrollDirection = "down"
)

// RunStatus is the terminal state of one agent run.
type RunStatus string

const (
	RunCompleted  RunStatus = "COMPLETED"
	RunNeedsInput RunStatus = "NEEDS_INPUT"
	RunExhausted  RunStatus = "EXHAUSTED"
	RunFailed     RunStatus = "FAILED"
)

// RunRecord summarizes one finished run for logging and archiving. The
// transcript inside it is a copy; the live transcript dies with the run.
type RunRecord struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Status     RunStatus `json:"status"`
	Result     string    `json:"result,omitempty"`
	Question   string    `json:"question,omitempty"`
	Iterations int       `json:"iterations"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Transcript []Turn    `json:"transcript,omitempty"`
}

// Truncate cuts s to at most n runes for display, marking the cut.
func Truncate(s string, n int) string {
	s = CollapseSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// Head cuts s to at most n runes without a marker, for matching rather than
// display.
func Head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// CollapseSpace folds all whitespace runs into single spaces and trims.
func CollapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
