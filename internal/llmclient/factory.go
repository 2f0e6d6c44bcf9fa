// File: internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// ProviderGemini is the only provider wired today; the factory keeps the
// door open for others without the callers caring.
const ProviderGemini = "gemini"

// New builds the configured decision oracle.
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.Oracle, error) {
	switch cfg.Provider {
	case ProviderGemini:
		return NewGeminiOracle(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported llm provider %q, supported: [%s]",
			cfg.Provider, ProviderGemini)
	}
}
