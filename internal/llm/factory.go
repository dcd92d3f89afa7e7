package llm

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/normanking/stride/internal/config"
)

// NewProvider constructs a provider by name.
func NewProvider(name string, cfg *ProviderConfig) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "gemini":
		return NewGeminiProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}

// NewProviders builds every configured provider, each wrapped with metrics.
func NewProviders(cfg config.LLMConfig, log zerolog.Logger) (map[string]Provider, error) {
	providers := make(map[string]Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		providerCfg := DefaultConfig(name)
		if pc.Endpoint != "" {
			providerCfg.Endpoint = pc.Endpoint
		}
		if pc.APIKey != "" {
			providerCfg.APIKey = pc.APIKey
		}
		if pc.Model != "" {
			providerCfg.Model = pc.Model
		}
		if cfg.RequestTimeout > 0 {
			providerCfg.Timeout = cfg.RequestTimeout
		}

		provider, err := NewProvider(name, providerCfg)
		if err != nil {
			return nil, err
		}
		providers[name] = NewMetricsProvider(provider, log)
	}
	return providers, nil
}
