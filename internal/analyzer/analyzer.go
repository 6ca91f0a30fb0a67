// Package analyzer turns a user request and recent conversation into a SearchIntent.
package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/eternisai/saimilar/internal/llm"
	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/logger"
	"github.com/eternisai/saimilar/internal/media"
)

// Invoker is the provider adapter contract the analyzer depends on.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Request is one analysis.
type Request struct {
	Query    string
	History  []llm.Message
	Language locale.Language

	// Model is the session's configured model key.
	Model string

	// Override pins the call to one model. It disables the default-provider retry.
	Override string
}

type Analyzer struct {
	invoker      Invoker
	defaultModel string
	logger       *logger.Logger
}

// New creates an analyzer. defaultModel is the catalog key retried when a
// non-default model fails.
func New(invoker Invoker, defaultModel string, log *logger.Logger) *Analyzer {
	return &Analyzer{
		invoker:      invoker,
		defaultModel: defaultModel,
		logger:       log.WithComponent("analyzer"),
	}
}

// DefaultModel is the model used when the session has none and the retry target.
func (a *Analyzer) DefaultModel() string { return a.defaultModel }

// Analyze never fails. Provider failures are encoded in the intent: a quota
// condition yields IsFallback with an apology, anything else a GENERAL intent
// with a generic error reply. Usage is kept whenever the provider answered.
func (a *Analyzer) Analyze(ctx context.Context, req Request) *SearchIntent {
	lang := req.Language
	if !lang.Valid() {
		lang = locale.Default
	}

	model, explicit := req.Override, true
	if strings.TrimSpace(model) == "" {
		model, explicit = req.Model, false
	}
	if strings.TrimSpace(model) == "" {
		model = a.defaultModel
	}

	intent, err := a.attempt(ctx, model, lang, req)
	if err != nil && !explicit && !llm.IsQuotaError(err) && !a.isDefault(model, err) {
		a.logger.WithContext(ctx).Warn("analysis failed, retrying with default model",
			slog.String("model", model),
			slog.String("default_model", a.defaultModel),
			slog.String("error", err.Error()))

		var usage *llm.UsageStats
		if intent != nil {
			usage = intent.Usage
		}

		intent, err = a.attempt(ctx, a.defaultModel, lang, req)
		if err != nil && intent == nil && usage != nil {
			intent = &SearchIntent{Usage: usage}
		}
	}

	if err == nil {
		return intent
	}

	degraded := &SearchIntent{
		QueryType:         General,
		MediaType:         media.Movie,
		RecommendedTitles: []string{},
		SuggestedFilters:  []FilterOption{},
		Cause:             err,
	}
	if intent != nil {
		degraded.Usage = intent.Usage
		degraded.ModelKey = intent.ModelKey
	}

	if llm.IsQuotaError(err) {
		a.logger.WithContext(ctx).Warn("provider quota exceeded, falling back to title search",
			slog.String("error", err.Error()))
		degraded.IsFallback = true
		degraded.ReplyText = lang.T(locale.QuotaFallback)
		return degraded
	}

	a.logger.LogError(ctx, err, "analysis failed")
	degraded.ReplyText = lang.T(locale.AnalysisFailed)
	return degraded
}

// isDefault reports whether the failed call already ran on the default model.
// The adapter's errors carry the resolved catalog key, so aliases compare equal.
func (a *Analyzer) isDefault(model string, err error) bool {
	var callErr *llm.ProviderCallError
	if errors.As(err, &callErr) {
		return strings.EqualFold(callErr.Model, a.defaultModel)
	}
	var parseErr *llm.ResponseParseError
	if errors.As(err, &parseErr) {
		return strings.EqualFold(parseErr.Model, a.defaultModel)
	}
	return strings.EqualFold(strings.TrimSpace(model), a.defaultModel)
}

// attempt runs one provider call. On a payload failure the returned intent is
// non-nil and carries the usage alongside the error.
func (a *Analyzer) attempt(ctx context.Context, model string, lang locale.Language, req Request) (*SearchIntent, error) {
	resp, err := a.invoker.Invoke(ctx, llm.Request{
		System:       SystemInstruction(lang),
		Messages:     BuildMessages(req.History, req.Query),
		WantJSON:     true,
		ModelKey:     model,
		QueryExcerpt: req.Query,
	})
	if resp == nil {
		return nil, err
	}

	usage := resp.Usage
	partial := &SearchIntent{Usage: &usage, ModelKey: resp.Model.Key}
	if err != nil {
		return partial, err
	}

	intent, err := decodeIntent(resp.Text)
	if err != nil {
		return partial, &llm.ResponseParseError{Model: resp.Model.Key, Text: resp.Text, Err: err}
	}

	intent.Usage = &usage
	intent.ModelKey = resp.Model.Key
	return intent, nil
}
