package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/eternisai/saimilar/internal/logger"
)

const queryExcerptLength = 100

// Request is a single adapter call.
type Request struct {
	System   string
	Messages []Message
	WantJSON bool
	ModelKey string

	// QueryExcerpt is stored on the usage record; it defaults to the last user message.
	QueryExcerpt string
}

// Response is the cleaned provider text and its usage.
type Response struct {
	Text  string
	Model Model
	Usage UsageStats
}

// Adapter presents every catalog model behind one Invoke call.
type Adapter struct {
	catalog   *Catalog
	providers Registry
	usage     *UsageLog
	recorders []UsageRecorder
	logger    *logger.Logger
	now       func() time.Time
}

// NewAdapter creates an adapter. usage may be nil; recorders receive every usage record.
func NewAdapter(catalog *Catalog, providers Registry, usage *UsageLog, log *logger.Logger, recorders ...UsageRecorder) *Adapter {
	return &Adapter{
		catalog:   catalog,
		providers: providers,
		usage:     usage,
		recorders: recorders,
		logger:    log.WithComponent("llm"),
		now:       time.Now,
	}
}

func (a *Adapter) Catalog() *Catalog { return a.catalog }

func (a *Adapter) UsageLog() *UsageLog { return a.usage }

// Invoke sends the request to the model's provider. Unknown model keys resolve
// to the catalog default. When WantJSON is set and the cleaned text does not
// parse, a *ResponseParseError is returned together with the response so the
// caller still sees the usage. The same holds for provider errors that came
// with billed tokens.
func (a *Adapter) Invoke(ctx context.Context, req Request) (*Response, error) {
	model := a.catalog.Lookup(req.ModelKey)
	log := a.logger.WithContext(logger.WithModel(ctx, model.Key))

	provider, ok := a.providers[model.Provider]
	if !ok {
		requestsTotal.WithLabelValues(model.Key, model.Provider, outcomeError).Inc()
		return nil, &ProviderCallError{Model: model.Key, Provider: model.Provider, Err: ErrProviderNotConfigured}
	}

	messages := req.Messages
	if req.System != "" {
		messages = append([]Message{{Role: RoleSystem, Content: req.System}}, messages...)
	}
	system, conversation := SplitSystem(Sanitize(messages))

	start := a.now()
	completion, err := provider.Complete(ctx, CompletionRequest{
		Model:       model.WireModel,
		System:      system,
		Messages:    conversation,
		WantJSON:    req.WantJSON,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
	})
	elapsed := a.now().Sub(start)

	if err != nil {
		classified := classifyProviderError(model, err)

		var resp *Response
		if completion != nil {
			stats := a.usageStats(model, completion, elapsed, req.QueryExcerpt, conversation)
			a.record(ctx, stats)
			resp = &Response{Model: model, Usage: stats}
		}

		outcome := outcomeError
		var quotaErr *QuotaExceededError
		if errors.As(classified, &quotaErr) {
			outcome = outcomeQuota
		}
		requestsTotal.WithLabelValues(model.Key, model.Provider, outcome).Inc()

		log.Warn("provider call failed",
			slog.String("provider", model.Provider),
			slog.String("outcome", outcome),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()))
		return resp, classified
	}

	stats := a.usageStats(model, completion, elapsed, req.QueryExcerpt, conversation)
	a.record(ctx, stats)

	resp := &Response{
		Text:  CleanResponseText(completion.Text, req.WantJSON),
		Model: model,
		Usage: stats,
	}

	if req.WantJSON {
		var payload map[string]any
		if err := json.Unmarshal([]byte(resp.Text), &payload); err != nil {
			requestsTotal.WithLabelValues(model.Key, model.Provider, outcomeParseError).Inc()
			log.Warn("provider returned invalid JSON",
				slog.Int("length", len(resp.Text)),
				slog.String("error", err.Error()))
			return resp, &ResponseParseError{Model: model.Key, Text: resp.Text, Err: err}
		}
	}

	requestsTotal.WithLabelValues(model.Key, model.Provider, outcomeSuccess).Inc()
	log.Debug("provider call completed",
		slog.Int64("input_tokens", stats.InputTokens),
		slog.Int64("output_tokens", stats.OutputTokens),
		slog.Float64("cost", stats.CostEstimate),
		slog.Duration("duration", elapsed))

	return resp, nil
}

func (a *Adapter) usageStats(model Model, completion *Completion, elapsed time.Duration, queryExcerpt string, conversation []Message) UsageStats {
	return UsageStats{
		ModelKey:      model.Key,
		ProviderModel: model.DisplayName,
		InputTokens:   completion.InputTokens,
		OutputTokens:  completion.OutputTokens,
		TotalTokens:   completion.InputTokens + completion.OutputTokens,
		CostEstimate:  model.Cost(completion.InputTokens, completion.OutputTokens),
		WallClockMs:   elapsed.Milliseconds(),
		QueryExcerpt:  excerpt(queryExcerpt, conversation),
		Timestamp:     a.now(),
	}
}

func (a *Adapter) record(ctx context.Context, stats UsageStats) {
	observeUsage(stats)

	if a.usage != nil {
		a.usage.Add(stats)
	}
	for _, recorder := range a.recorders {
		recorder.Record(ctx, stats)
	}
}

func excerpt(explicit string, conversation []Message) string {
	text := explicit
	if text == "" {
		for i := len(conversation) - 1; i >= 0; i-- {
			if conversation[i].Role == RoleUser {
				text = conversation[i].Content
				break
			}
		}
	}

	runes := []rune(text)
	if len(runes) > queryExcerptLength {
		return string(runes[:queryExcerptLength])
	}
	return text
}
