// File: internal/llmclient/gemini.go

// Package llmclient adapts hosted LLM providers to the schemas.Oracle
// contract the agent loop consumes: full transcript plus tool catalog in,
// exactly one chosen action or a plain-text turn out.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// GeminiOracle asks a Gemini model for the next action through native
// function calling. It carries its own client-side rate limiter, so bursty
// loops degrade into waiting instead of 429 storms.
type GeminiOracle struct {
	client  *genai.Client
	model   string
	cfg     config.LLMConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ schemas.Oracle = (*GeminiOracle)(nil)

// NewGeminiOracle builds the client. The API key comes from configuration,
// which binds the WEBPILOT_LLM_API_KEY and GEMINI_API_KEY environment
// variables.
func NewGeminiOracle(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required (set WEBPILOT_LLM_API_KEY or GEMINI_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiOracle{
		client:  client,
		model:   cfg.Model,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), 1),
		logger:  logger.Named("llmclient.gemini"),
	}, nil
}

// Decide sends the transcript and tool catalog and maps the reply to a
// decision. Transient API failures are retried with exponential backoff;
// the loop-level semantics (no per-cycle timeout, no action retry) stay
// with the caller.
func (o *GeminiOracle) Decide(ctx context.Context, transcript []schemas.Turn, tools []schemas.ToolSpec) (*schemas.Decision, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter aborted: %w", err)
	}

	system, contents := contentsFromTranscript(transcript)
	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(o.cfg.Temperature)),
		MaxOutputTokens: int32(o.cfg.MaxOutputTokens),
		Tools: []*genai.Tool{
			{FunctionDeclarations: declarationsFromCatalog(tools)},
		},
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		},
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var resp *genai.GenerateContentResponse
	operation := func() error {
		callCtx := ctx
		cancel := func() {}
		if o.cfg.APITimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, o.cfg.APITimeout)
		}
		defer cancel()

		start := time.Now()
		r, err := o.client.Models.GenerateContent(callCtx, o.model, contents, genCfg)
		if err != nil {
			return o.classifyAPIError(err)
		}
		o.logger.Debug("Decision call complete.",
			zap.Duration("duration", time.Since(start)),
			zap.Int("turns", len(transcript)))
		resp = r
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("gemini decision call failed: %w", err)
	}

	return decisionFromResponse(resp)
}

// Close releases nothing today; the genai client holds no persistent
// connections beyond its HTTP transport.
func (o *GeminiOracle) Close() error { return nil }

// classifyAPIError keeps rate-limit and server-side failures retryable and
// makes everything else permanent.
func (o *GeminiOracle) classifyAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			o.logger.Warn("Transient gemini API error, retrying.",
				zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	// Network-level failures are worth another try.
	o.logger.Warn("Network error during gemini request, retrying.", zap.Error(err))
	return err
}

// contentsFromTranscript maps the loop's transcript onto the Gemini wire
// shape: the system turn becomes the system instruction, state turns are
// user content, decision turns are model content (a function call or text),
// and observation turns answer their paired call as a function response.
func contentsFromTranscript(transcript []schemas.Turn) (string, []*genai.Content) {
	var system string
	contents := make([]*genai.Content, 0, len(transcript))
	for _, turn := range transcript {
		switch turn.Role {
		case schemas.RoleSystem:
			system = turn.Content
		case schemas.RoleState:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		case schemas.RoleDecision:
			if turn.Call != nil {
				part := genai.NewPartFromFunctionCall(turn.Call.Name, argsToMap(turn.Call.Args))
				contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleModel))
			} else {
				contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleModel))
			}
		case schemas.RoleObservation:
			if turn.Call != nil && turn.Result != nil {
				payload := map[string]any{
					"success": turn.Result.Success,
					"message": turn.Result.Message,
				}
				part := genai.NewPartFromFunctionResponse(turn.Call.Name, payload)
				contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
			} else {
				contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
			}
		}
	}
	return system, contents
}

// declarationsFromCatalog converts the fixed tool catalog into Gemini
// function declarations with typed JSON schemas.
func declarationsFromCatalog(tools []schemas.ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		props := make(map[string]*genai.Schema, len(tool.Params))
		var required []string
		for _, p := range tool.Params {
			s := &genai.Schema{
				Type:        schemaType(p.Type),
				Description: p.Description,
			}
			if len(p.Enum) > 0 {
				s.Enum = p.Enum
			}
			if p.Minimum != nil {
				s.Minimum = genai.Ptr(float64(*p.Minimum))
			}
			if p.Maximum != nil {
				s.Maximum = genai.Ptr(float64(*p.Maximum))
			}
			props[p.Name] = s
			if p.Required {
				required = append(required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   required,
			},
		})
	}
	return decls
}

func schemaType(t schemas.ParamType) genai.Type {
	switch t {
	case schemas.ParamInteger:
		return genai.TypeInteger
	case schemas.ParamBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

// decisionFromResponse extracts the first function call, or the
// concatenated text when no call was made. Argument payloads that fail to
// re-encode degrade to an empty object, never to an aborted cycle.
func decisionFromResponse(resp *genai.GenerateContentResponse) (*schemas.Decision, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			raw, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || len(part.FunctionCall.Args) == 0 {
				raw = []byte("{}")
			}
			return &schemas.Decision{
				Call: &schemas.ToolCall{Name: part.FunctionCall.Name, Args: raw},
			}, nil
		}
		text.WriteString(part.Text)
	}

	out := strings.TrimSpace(text.String())
	if out == "" {
		return nil, fmt.Errorf("gemini returned neither an action nor text")
	}
	return &schemas.Decision{Text: out}, nil
}

// argsToMap decodes stored call arguments for replay to the API. Malformed
// payloads replay as empty, mirroring how they were executed.
func argsToMap(raw []byte) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
