// File: internal/interact/resolver_integration_test.go
package interact

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/perception"
)

// cardListPage has three structurally identical buttons that differ only in
// their visible text. Their derived queries all collide, so re-locating each
// one exercises the text-qualified path end to end.
const cardListPage = `<!DOCTYPE html>
<html>
<head><title>Plans</title></head>
<body>
  <main>
    <h1>Pick a plan</h1>
    <button class="plan">Starter</button>
    <button class="plan">Team</button>
    <button class="plan">Enterprise</button>
  </main>
</body>
</html>`

// newResolverFixture launches a real headless Chrome against a fixture
// server. Skipped in -short runs and environments without a Chrome binary.
func newResolverFixture(t *testing.T) (*browser.Session, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test requires a Chrome binary")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintln(w, cardListPage)
	}))
	t.Cleanup(server.Close)

	cfg := config.NewDefaultConfig()
	cfg.Browser.Headless = true
	cfg.Browser.UserDataDir = t.TempDir()
	cfg.Browser.QuietPeriod = 100 * time.Millisecond

	logger := zaptest.NewLogger(t).With(zap.String("test", t.Name()))
	m := browser.NewManager(cfg, logger)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		assert.NoError(t, m.Shutdown(shutdownCtx))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	t.Cleanup(cancel)
	s, err := m.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Navigate(ctx, server.URL))

	return s, ctx
}

func TestDescriptorRoundTripOnIdenticalControls(t *testing.T) {
	sess, ctx := newResolverFixture(t)

	scan, err := sess.Inspect(ctx)
	require.NoError(t, err)

	builder := perception.NewBuilder(config.NewDefaultConfig().Perception, zaptest.NewLogger(t))
	snap := builder.Build(scan, nil, 0)

	plans := make([]schemas.Element, 0, 3)
	for _, el := range snap.Elements {
		if el.Tag == "button" {
			plans = append(plans, el)
		}
	}
	require.Len(t, plans, 3)

	resolver := NewResolver(zaptest.NewLogger(t))
	for _, el := range plans {
		// Same tag, same attributes: only the text can tell them apart.
		require.Equal(t, schemas.SelectorTextQualified, el.Selector.Kind,
			"element %d (%s)", el.ID, el.Text)

		res, cleanup, err := resolver.Resolve(ctx, sess, el.Selector)
		require.NoError(t, err, "element %d (%s)", el.ID, el.Text)

		var markedText string
		readBack := fmt.Sprintf(`document.querySelector(%s).textContent`, jsString(res.Selector))
		require.NoError(t, sess.ExecuteScript(ctx, readBack, &markedText))
		assert.Equal(t, el.Text, strings.TrimSpace(markedText))
		cleanup()
	}
}
