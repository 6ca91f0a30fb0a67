package llm

import (
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/eternisai/saimilar/internal/config"
	"github.com/eternisai/saimilar/internal/logger"
)

// Model is one resolved catalog entry.
type Model struct {
	Key         string              `json:"key"`
	Provider    string              `json:"provider"`
	Kind        config.ProviderKind `json:"kind"`
	WireModel   string              `json:"wire_model"`
	DisplayName string              `json:"display_name"`

	InputCostPerMillion  float64 `json:"input_cost_per_million"`
	OutputCostPerMillion float64 `json:"output_cost_per_million"`

	Temperature float64 `json:"temperature"`
	MaxTokens   int64   `json:"max_tokens,omitempty"`
}

// Cost returns the USD cost of a call: in/1e6 × inRate + out/1e6 × outRate.
func (m Model) Cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*m.InputCostPerMillion + float64(outputTokens)/1e6*m.OutputCostPerMillion
}

type catalogTable struct {
	models          []Model
	aliases         map[string]int
	defaultKey      string
	analyzerDefault string
}

// Catalog maps model keys to models. Lookups fail closed to the default entry.
// The table can be swapped at runtime with Rebuild.
type Catalog struct {
	table  atomic.Pointer[catalogTable]
	logger *logger.Logger
}

// NewCatalog builds a catalog from configuration.
func NewCatalog(cfg *config.CatalogConfig, log *logger.Logger) (*Catalog, error) {
	c := &Catalog{logger: log}
	if err := c.Rebuild(cfg); err != nil {
		return nil, err
	}

	log.Info("model catalog initialized",
		slog.Int("model_count", len(c.Models())),
		slog.String("default_model", c.Default().Key),
		slog.String("analyzer_default_model", c.AnalyzerDefault().Key))

	return c, nil
}

// Rebuild replaces the catalog table from configuration.
func (c *Catalog) Rebuild(cfg *config.CatalogConfig) error {
	if cfg == nil || len(cfg.Models) == 0 {
		return errors.New("catalog configuration has no models")
	}

	providers := make(map[string]config.ProviderConfig, len(cfg.Providers))
	for _, provider := range cfg.Providers {
		providers[provider.Name] = provider
	}

	table := &catalogTable{
		models:  make([]Model, 0, len(cfg.Models)),
		aliases: make(map[string]int, len(cfg.Models)*2),
	}

	for _, entry := range cfg.Models {
		provider, ok := providers[entry.Provider]
		if !ok {
			c.logger.Warn("skipping model with unknown provider",
				slog.String("model", entry.Key),
				slog.String("provider", entry.Provider))
			continue
		}

		model := Model{
			Key:                  entry.Key,
			Provider:             entry.Provider,
			Kind:                 provider.Kind,
			WireModel:            entry.Model,
			DisplayName:          entry.DisplayName,
			InputCostPerMillion:  entry.InputCostPerMillion,
			OutputCostPerMillion: entry.OutputCostPerMillion,
			MaxTokens:            entry.MaxTokens,
			Temperature:          0.7,
		}
		if entry.Temperature != nil {
			model.Temperature = *entry.Temperature
		}
		if model.WireModel == "" {
			model.WireModel = entry.Key
		}
		if model.DisplayName == "" {
			model.DisplayName = model.WireModel
		}

		idx := len(table.models)
		table.models = append(table.models, model)

		for _, key := range append([]string{entry.Key}, entry.Aliases...) {
			table.aliases[normalizeKey(key)] = idx
		}
	}

	if len(table.models) == 0 {
		return errors.New("catalog has no usable models")
	}

	table.defaultKey = normalizeKey(cfg.DefaultModel)
	if _, ok := table.aliases[table.defaultKey]; !ok {
		table.defaultKey = normalizeKey(table.models[0].Key)
	}

	table.analyzerDefault = normalizeKey(cfg.AnalyzerDefaultModel)
	if _, ok := table.aliases[table.analyzerDefault]; !ok {
		table.analyzerDefault = table.defaultKey
	}

	c.table.Store(table)
	return nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Resolve returns the model for key, reporting whether the key is known.
func (c *Catalog) Resolve(key string) (Model, bool) {
	table := c.table.Load()
	if idx, ok := table.aliases[normalizeKey(key)]; ok {
		return table.models[idx], true
	}
	return Model{}, false
}

// Lookup returns the model for key, or the default entry for unknown keys.
func (c *Catalog) Lookup(key string) Model {
	if model, ok := c.Resolve(key); ok {
		return model
	}

	if key != "" {
		c.logger.Debug("unknown model key, using default",
			slog.String("model", key),
			slog.String("default_model", c.Default().Key))
	}

	return c.Default()
}

// Default is the entry unknown keys resolve to.
func (c *Catalog) Default() Model {
	table := c.table.Load()
	return table.models[table.aliases[table.defaultKey]]
}

// AnalyzerDefault is the analyzer's default provider model.
func (c *Catalog) AnalyzerDefault() Model {
	table := c.table.Load()
	return table.models[table.aliases[table.analyzerDefault]]
}

// Models returns the catalog entries in configuration order.
func (c *Catalog) Models() []Model {
	table := c.table.Load()
	models := make([]Model, len(table.models))
	copy(models, table.models)
	return models
}
