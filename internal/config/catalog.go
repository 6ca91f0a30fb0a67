package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// ProviderKind identifies which client implementation serves a provider.
type ProviderKind string

const (
	// ProviderKindGemini uses the Google GenAI SDK (contents + system instruction).
	ProviderKindGemini ProviderKind = "gemini"

	// ProviderKindOpenAICompatible uses a /chat/completions endpoint (Perplexity, OpenRouter).
	ProviderKindOpenAICompatible ProviderKind = "openai_compatible"
)

// Validate performs basic validation of a ProviderKind value:
// - Checks whether the value is a known ProviderKind
// - Replaces an empty value with the default one (ProviderKindOpenAICompatible)
func (k *ProviderKind) Validate() error {
	switch *k {
	case "":
		*k = ProviderKindOpenAICompatible
		return nil
	case ProviderKindGemini, ProviderKindOpenAICompatible:
		return nil
	default:
		return fmt.Errorf(
			"bad ProviderKind value: must be empty or one of %q, %q",
			string(ProviderKindGemini),
			string(ProviderKindOpenAICompatible),
		)
	}
}

func unmarshalProviderKindYAML(value *ProviderKind, data []byte) error {
	var kind string

	if err := yaml.Unmarshal(data, &kind); err != nil {
		return err
	}

	*value = ProviderKind(kind)

	return value.Validate()
}

// CatalogConfig describes every model the service can talk to.
type CatalogConfig struct {
	// DefaultModel is the entry an unknown model key resolves to.
	DefaultModel string `yaml:"default_model"`

	// AnalyzerDefaultModel is the model the analyzer falls back to when a
	// non-default model fails. It is also the harness pseudo-key.
	AnalyzerDefaultModel string `yaml:"analyzer_default_model"`

	Providers []ProviderConfig `yaml:"providers"`
	Models    []ModelConfig    `yaml:"models"`
}

// Validate performs validation of a CatalogConfig value:
// - Checks that provider and model lists are not empty
// - Checks that models reference known providers
// - Checks for duplicate keys and aliases
// - Checks that both default models exist
func (cfg *CatalogConfig) Validate() error {
	if len(cfg.Providers) == 0 {
		return errors.New("no providers specified in catalog configuration")
	}

	providers := make(map[string]struct{}, len(cfg.Providers))
	for _, provider := range cfg.Providers {
		if _, exists := providers[provider.Name]; exists {
			return fmt.Errorf("duplicate configuration entry for provider %v", provider.Name)
		}
		providers[provider.Name] = struct{}{}
	}

	if len(cfg.Models) == 0 {
		return errors.New("no models specified in catalog configuration")
	}

	keys := make(map[string]struct{}, len(cfg.Models))
	for _, model := range cfg.Models {
		if _, ok := providers[model.Provider]; !ok {
			return fmt.Errorf("unknown provider %v specified for model %v", model.Provider, model.Key)
		}

		for _, key := range append([]string{model.Key}, model.Aliases...) {
			key = strings.ToLower(strings.TrimSpace(key))
			if _, exists := keys[key]; exists {
				return fmt.Errorf("duplicate model key or alias %v", key)
			}
			keys[key] = struct{}{}
		}
	}

	if cfg.DefaultModel == "" {
		cfg.DefaultModel = cfg.Models[0].Key
	}
	if _, ok := keys[strings.ToLower(cfg.DefaultModel)]; !ok {
		return fmt.Errorf("default model %v is not in the catalog", cfg.DefaultModel)
	}

	if cfg.AnalyzerDefaultModel == "" {
		cfg.AnalyzerDefaultModel = cfg.DefaultModel
	}
	if _, ok := keys[strings.ToLower(cfg.AnalyzerDefaultModel)]; !ok {
		return fmt.Errorf("analyzer default model %v is not in the catalog", cfg.AnalyzerDefaultModel)
	}

	return nil
}

func unmarshalCatalogConfig(value *CatalogConfig, data []byte) error {
	type Aux CatalogConfig
	var aux Aux

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	*value = CatalogConfig(aux)

	return value.Validate()
}

// ProviderConfig contains basic configuration of an LLM API provider.
type ProviderConfig struct {
	// Name is referenced by ModelConfig.Provider.
	Name string `yaml:"name"`

	Kind ProviderKind `yaml:"kind,omitempty"`

	// BaseURL is required for openai_compatible providers and ignored for gemini.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKeyEnvVar is the name of the environment variable that contains the API key.
	APIKeyEnvVar string `yaml:"api_key_env_var,omitempty"`

	// APIKey is extracted from the environment using APIKeyEnvVar.
	// Explicit config values are ignored.
	APIKey string `yaml:"-"`
}

// Validate performs validation of a ProviderConfig value:
// - Checks that the name is not empty
// - Verifies BaseURL is a valid URL and present for openai_compatible providers
// - Fetches APIKey value from the environment using APIKeyEnvVar
func (cfg *ProviderConfig) Validate() error {
	if cfg.Name == "" {
		return errors.New("provider name must be specified in provider configuration")
	}

	if err := cfg.Kind.Validate(); err != nil {
		return err
	}

	if cfg.Kind == ProviderKindOpenAICompatible && cfg.BaseURL == "" {
		return fmt.Errorf("base_url must be specified for provider %v", cfg.Name)
	}

	if err := validateURLString(cfg.BaseURL); err != nil {
		return err
	}

	if cfg.APIKeyEnvVar != "" {
		cfg.APIKey = strings.TrimSpace(os.Getenv(cfg.APIKeyEnvVar))
	}

	return nil
}

func unmarshalProviderConfig(value *ProviderConfig, data []byte) error {
	type Aux ProviderConfig
	var aux Aux

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	*value = ProviderConfig(aux)

	return value.Validate()
}

// ModelConfig is one catalog row.
type ModelConfig struct {
	// Key is the identifier clients select the model with (e.g. "gpt4").
	Key string `yaml:"key"`

	// Aliases are alternative keys resolving to this entry.
	Aliases []string `yaml:"aliases,omitempty"`

	// Provider is the name of a ProviderConfig.
	Provider string `yaml:"provider"`

	// Model is the wire model id sent to the provider. Defaults to Key.
	Model string `yaml:"model,omitempty"`

	DisplayName string `yaml:"display_name,omitempty"`

	// Prices in USD per million tokens.
	InputCostPerMillion  float64 `yaml:"input_cost_per_million"`
	OutputCostPerMillion float64 `yaml:"output_cost_per_million"`

	// Temperature defaults to 0.7.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens is not sent when zero.
	MaxTokens int64 `yaml:"max_tokens,omitempty"`
}

// Validate performs validation of a ModelConfig value:
// - Checks that the key and provider are not empty
// - Defaults Model and DisplayName
// - Rejects negative prices
func (cfg *ModelConfig) Validate() error {
	if cfg.Key == "" {
		return errors.New("model key must be specified in model configuration")
	}

	if cfg.Provider == "" {
		return fmt.Errorf("no provider specified for model %v", cfg.Key)
	}

	if cfg.Model == "" {
		cfg.Model = cfg.Key
	}

	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.Model
	}

	if cfg.InputCostPerMillion < 0 || cfg.OutputCostPerMillion < 0 {
		return fmt.Errorf("negative price for model %v", cfg.Key)
	}

	if cfg.Temperature == nil {
		t := 0.7
		cfg.Temperature = &t
	}

	return nil
}

func unmarshalModelConfig(value *ModelConfig, data []byte) error {
	type Aux ModelConfig
	var aux Aux

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	*value = ModelConfig(aux)

	return value.Validate()
}

func init() {
	// Register unmarshalers of custom types with the YAML library
	yaml.RegisterCustomUnmarshaler[ProviderKind](unmarshalProviderKindYAML)
	yaml.RegisterCustomUnmarshaler[CatalogConfig](unmarshalCatalogConfig)
	yaml.RegisterCustomUnmarshaler[ProviderConfig](unmarshalProviderConfig)
	yaml.RegisterCustomUnmarshaler[ModelConfig](unmarshalModelConfig)
}

// validateURLString performs basic sanity checks of a string that should contain a valid URL.
// Empty strings are ignored.
func validateURLString(str string) error {
	if str == "" {
		return nil
	}

	u, err := url.Parse(str)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL does not contain a hostname")
	}

	return nil
}
