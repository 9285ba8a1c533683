package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/config"
)

// NewRouterFromConfig builds the tiered router from configuration. Each tier
// resolves to a named model entry; a model without an explicit key falls back
// to the router-level API key.
func NewRouterFromConfig(cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fast, err := newClientForModel(cfg, cfg.DefaultFastModel, logger)
	if err != nil {
		return nil, fmt.Errorf("building fast tier client: %w", err)
	}
	powerful, err := newClientForModel(cfg, cfg.DefaultPowerfulModel, logger)
	if err != nil {
		return nil, fmt.Errorf("building powerful tier client: %w", err)
	}
	return NewLLMRouter(logger, fast, powerful)
}

func newClientForModel(cfg config.LLMRouterConfig, model string, logger *zap.Logger) (schemas.LLMClient, error) {
	mc, ok := cfg.Models[model]
	if !ok {
		// No explicit entry; assume Gemini with router defaults.
		mc = config.LLMModelConfig{Provider: config.ProviderGemini, Model: model}
	}
	if mc.APIKey == "" {
		mc.APIKey = cfg.APIKey
	}

	switch mc.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(mc, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", mc.Provider)
	}
}
