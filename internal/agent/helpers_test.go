// File: internal/agent/helpers_test.go
package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// fakeOracle replays a scripted decision sequence. Once the script runs out
// it keeps repeating the last decision, which makes "never terminates"
// oracles a one-liner.
type fakeOracle struct {
	mu          sync.Mutex
	decisions   []*schemas.Decision
	err         error
	calls       int
	transcripts [][]schemas.Turn
}

var _ schemas.Oracle = (*fakeOracle)(nil)

func (o *fakeOracle) Decide(_ context.Context, transcript []schemas.Turn, _ []schemas.ToolSpec) (*schemas.Decision, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.transcripts = append(o.transcripts, transcript)
	if o.err != nil {
		return nil, o.err
	}
	if len(o.decisions) == 0 {
		return nil, nil
	}
	i := o.calls - 1
	if i >= len(o.decisions) {
		i = len(o.decisions) - 1
	}
	return o.decisions[i], nil
}

func (o *fakeOracle) Close() error { return nil }

func (o *fakeOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *fakeOracle) lastTranscript() []schemas.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.transcripts) == 0 {
		return nil
	}
	return o.transcripts[len(o.transcripts)-1]
}

// fakeEnv is an in-memory BrowserSession. It serves a fixed scan and records
// every call so tests can assert that denied actions never reach it.
type fakeEnv struct {
	mu    sync.Mutex
	calls []string

	scan       *schemas.PageScan
	inspectErr error
	navErr     error
}

var _ schemas.BrowserSession = (*fakeEnv)(nil)

func newFakeEnv(nodes ...schemas.RawNode) *fakeEnv {
	return &fakeEnv{
		scan: &schemas.PageScan{
			URL:   "https://example.test/",
			Title: "Example",
			Nodes: nodes,
		},
	}
}

func (f *fakeEnv) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEnv) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEnv) countPrefix(prefix string) int {
	n := 0
	for _, c := range f.recorded() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeEnv) ID() string { return "fake-env" }

func (f *fakeEnv) Navigate(_ context.Context, url string) error {
	f.record("navigate:" + url)
	return f.navErr
}

func (f *fakeEnv) WaitForLoad(context.Context) error { f.record("wait_for_load"); return nil }

func (f *fakeEnv) NewTab(_ context.Context, url string) error {
	f.record("new_tab:" + url)
	return nil
}

func (f *fakeEnv) SwitchTab(context.Context, int) error { f.record("switch_tab"); return nil }

func (f *fakeEnv) ListTabs(context.Context) ([]schemas.TabInfo, int, error) {
	f.record("list_tabs")
	return []schemas.TabInfo{{Index: 0, URL: f.scan.URL, Title: f.scan.Title}}, 0, nil
}

func (f *fakeEnv) Inspect(context.Context) (*schemas.PageScan, error) {
	f.record("inspect")
	if f.inspectErr != nil {
		return nil, f.inspectErr
	}
	return f.scan, nil
}

func (f *fakeEnv) Scroll(context.Context, schemas.ScrollDirection) error {
	f.record("scroll")
	return nil
}

// ExecuteScript emulates the browser by unmarshalling a canned response into
// out: resolution scripts find their element, action scripts succeed.
func (f *fakeEnv) ExecuteScript(_ context.Context, script string, out any) error {
	switch {
	case out == nil:
		f.record("script:cleanup")
		return nil
	case strings.Contains(script, "setAttribute"):
		f.record("script:resolve")
		return json.Unmarshal([]byte(`{"found":true}`), out)
	default:
		f.record("script:action")
		return json.Unmarshal([]byte(`{"ok":true}`), out)
	}
}

func (f *fakeEnv) ClickSelector(_ context.Context, sel string) error {
	f.record("click:" + sel)
	return nil
}

func (f *fakeEnv) ForceClickSelector(_ context.Context, sel string) error {
	f.record("force:" + sel)
	return nil
}

func (f *fakeEnv) TypeIntoSelector(_ context.Context, sel, _ string) error {
	f.record("type:" + sel)
	return nil
}

func (f *fakeEnv) Close(context.Context) error { f.record("close"); return nil }

// buttonNode is a raw scan node the perception builder will turn into
// element id 1.
func buttonNode(text string) schemas.RawNode {
	return schemas.RawNode{
		Tag:        "button",
		Role:       "button",
		Text:       text,
		Rect:       schemas.Rect{X: 10, Y: 10, W: 120, H: 32},
		Query:      "button",
		MatchCount: 1,
		MatchIndex: 0,
	}
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Agent.MaxIterations = 5
	cfg.Browser.SettleDelay = 0
	return cfg
}

func newTestRunner(t *testing.T, cfg *config.Config, env *fakeEnv, oracle *fakeOracle, confirmer schemas.Confirmer) *Runner {
	t.Helper()
	r, err := NewRunner(cfg, env, oracle, confirmer, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

// callTool builds a ToolCall with JSON-encoded arguments.
func callTool(t *testing.T, name string, args map[string]any) *schemas.ToolCall {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return &schemas.ToolCall{Name: name, Args: raw}
}

func callDecision(t *testing.T, name string, args map[string]any) *schemas.Decision {
	t.Helper()
	return &schemas.Decision{Call: callTool(t, name, args)}
}

// boolConfirmer answers every confirmation the same way and counts the asks.
type boolConfirmer struct {
	mu      sync.Mutex
	answer  bool
	asked   int
	lastMsg string
}

func (c *boolConfirmer) Confirm(_ context.Context, description string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asked++
	c.lastMsg = description
	return c.answer, nil
}
