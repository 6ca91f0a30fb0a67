package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eternisai/saimilar/internal/config"
	"github.com/eternisai/saimilar/internal/logger"
)

// Registry maps provider names from the catalog configuration to clients.
type Registry map[string]Provider

// NewRegistry creates a client per configured provider. Providers without an
// API key are skipped; calls to their models fail with ErrProviderNotConfigured.
func NewRegistry(ctx context.Context, cfg *config.CatalogConfig, log *logger.Logger) (Registry, error) {
	registry := make(Registry, len(cfg.Providers))

	for _, provider := range cfg.Providers {
		if provider.APIKey == "" {
			log.Warn("skipping provider without API key",
				slog.String("provider", provider.Name),
				slog.String("api_key_env_var", provider.APIKeyEnvVar))
			continue
		}

		switch provider.Kind {
		case config.ProviderKindGemini:
			client, err := NewGeminiProvider(ctx, provider.APIKey)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", provider.Name, err)
			}
			registry[provider.Name] = client
		case config.ProviderKindOpenAICompatible:
			registry[provider.Name] = NewOpenAICompatibleProvider(provider.BaseURL, provider.APIKey)
		default:
			return nil, fmt.Errorf("provider %s: unsupported kind %q", provider.Name, provider.Kind)
		}

		log.Info("provider registered",
			slog.String("provider", provider.Name),
			slog.String("kind", string(provider.Kind)))
	}

	return registry, nil
}
