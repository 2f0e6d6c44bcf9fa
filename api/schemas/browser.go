package schemas

// Rect is a rounded element bounding box in page coordinates.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// RawNode is one interactive candidate reported by the in-page inspection
// script, before deduplication, capping and id assignment.
type RawNode struct {
	Tag        string            `json:"tag"`
	Role       string            `json:"role"`
	Text       string            `json:"text"`
	Attrs      map[string]string `json:"attrs"`
	Rect       Rect              `json:"rect"`
	Disabled   bool              `json:"disabled"`
	InDialog   bool              `json:"inDialog"`
	Options    []OptionInfo      `json:"options"`
	Query      string            `json:"query"`
	MatchCount int               `json:"matchCount"`
	MatchIndex int               `json:"matchIndex"`
}

// Attr returns the named attribute or "".
func (n *RawNode) Attr(name string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// PageScan is the raw result of one inspection pass over the active tab.
type PageScan struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Nodes       []RawNode `json:"nodes"`
	Headings    []Heading `json:"headings"`
	ContentHTML string    `json:"contentHTML"`
}
