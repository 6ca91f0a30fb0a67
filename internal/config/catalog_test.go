package config

import (
	"os"
	"strings"
	"testing"
)

func loadTestConfig(t *testing.T, path string) (*Config, error) {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open config file: %v", err)
	}
	defer file.Close()

	cfg := &Config{}
	err = LoadConfigFile(file, cfg)
	return cfg, err
}

func TestLoadConfigFileCatalog(t *testing.T) {
	t.Setenv("PERPLEXITY_API_KEY", "test-perplexity-key")
	t.Setenv("GEMINI_API_KEY", "test-gemini-key")

	cfg, err := loadTestConfig(t, "testdata/config.yaml")
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}

	if cfg.Catalog == nil {
		t.Fatal("catalog is nil")
	}

	if cfg.Catalog.DefaultModel != "sonar" {
		t.Errorf("expected default model sonar, got %s", cfg.Catalog.DefaultModel)
	}
	if cfg.Catalog.AnalyzerDefaultModel != "gemini" {
		t.Errorf("expected analyzer default model gemini, got %s", cfg.Catalog.AnalyzerDefaultModel)
	}

	keys := map[string]string{}
	for _, provider := range cfg.Catalog.Providers {
		keys[provider.Name] = provider.APIKey
	}
	if keys["perplexity"] != "test-perplexity-key" {
		t.Errorf("perplexity api key not resolved from environment: %q", keys["perplexity"])
	}
	if keys["gemini"] != "test-gemini-key" {
		t.Errorf("gemini api key not resolved from environment: %q", keys["gemini"])
	}

	for _, model := range cfg.Catalog.Models {
		if model.Temperature == nil || *model.Temperature != 0.7 {
			t.Errorf("model %s: expected default temperature 0.7", model.Key)
		}
		if model.Key == "gpt4" {
			if model.Model != "sonar-pro" {
				t.Errorf("gpt4: expected wire model sonar-pro, got %s", model.Model)
			}
			if model.InputCostPerMillion != 0.003 || model.OutputCostPerMillion != 0.015 {
				t.Errorf("gpt4: unexpected prices %v/%v", model.InputCostPerMillion, model.OutputCostPerMillion)
			}
		}
	}
}

func TestCatalogConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unknown provider",
			yaml: `
catalog:
  providers:
    - {name: gemini, kind: gemini}
  models:
    - {key: a, provider: nope}
`,
			wantErr: "unknown provider",
		},
		{
			name: "duplicate alias",
			yaml: `
catalog:
  providers:
    - {name: gemini, kind: gemini}
  models:
    - {key: a, provider: gemini}
    - {key: b, aliases: [A], provider: gemini}
`,
			wantErr: "duplicate model key",
		},
		{
			name: "missing default",
			yaml: `
catalog:
  default_model: missing
  providers:
    - {name: gemini, kind: gemini}
  models:
    - {key: a, provider: gemini}
`,
			wantErr: "default model",
		},
		{
			name: "openai compatible without base url",
			yaml: `
catalog:
  providers:
    - {name: pplx, kind: openai_compatible}
  models:
    - {key: a, provider: pplx}
`,
			wantErr: "base_url",
		},
		{
			name: "bad kind",
			yaml: `
catalog:
  providers:
    - {name: x, kind: grpc}
  models:
    - {key: a, provider: x}
`,
			wantErr: "ProviderKind",
		},
		{
			name: "defaults to first model",
			yaml: `
catalog:
  providers:
    - {name: gemini, kind: gemini}
  models:
    - {key: first, provider: gemini}
    - {key: second, provider: gemini}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			err := LoadConfigFile(strings.NewReader(tt.yaml), cfg)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if cfg.Catalog.DefaultModel != "first" || cfg.Catalog.AnalyzerDefaultModel != "first" {
					t.Errorf("expected defaults to resolve to first model, got %s/%s",
						cfg.Catalog.DefaultModel, cfg.Catalog.AnalyzerDefaultModel)
				}
				return
			}

			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
