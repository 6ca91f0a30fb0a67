package harness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/saimilar/internal/analyzer"
	"github.com/eternisai/saimilar/internal/llm"
	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/logger"
)

// DefaultDelay is the pause between two model calls of one run.
const DefaultDelay = 500 * time.Millisecond

type Analyzer interface {
	Analyze(ctx context.Context, req analyzer.Request) *analyzer.SearchIntent
}

// Labeler returns the display label of a model key.
type Labeler func(modelKey string) string

// Job is one query run against every selected model.
type Job struct {
	Query    string
	History  []llm.Message
	Language locale.Language
	Models   []string
}

type Runner struct {
	analyzer Analyzer
	label    Labeler
	delay    time.Duration
	logger   *logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRunner(a Analyzer, label Labeler, delay time.Duration, log *logger.Logger) *Runner {
	if label == nil {
		label = func(key string) string { return key }
	}
	return &Runner{
		analyzer: a,
		label:    label,
		delay:    delay,
		logger:   log.WithComponent("harness"),
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Label returns the display label of a model key.
func (r *Runner) Label(modelKey string) string { return r.label(modelKey) }

// Run invokes the analyzer once per model, strictly in order, pausing between
// calls. A failing model does not stop the run. It returns when every model
// ran or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, log *Log, job Job) {
	history := append([]llm.Message(nil), job.History...)
	rlog := r.logger.WithContext(ctx)

	for i, model := range job.Models {
		if i > 0 {
			if err := r.sleep(ctx, r.delay); err != nil {
				rlog.Debug("test run cancelled", slog.Int("remaining", len(job.Models)-i))
				return
			}
		}

		entry := log.Begin(model, r.label(model), job.Query)
		start := time.Now()
		intent := r.analyzer.Analyze(ctx, analyzer.Request{
			Query:    job.Query,
			History:  history,
			Language: job.Language,
			Override: model,
		})
		log.Resolve(entry.ID, intent, time.Since(start))

		if intent != nil && intent.Cause != nil {
			rlog.Debug("test model failed", slog.String("model", model), slog.String("error", intent.Cause.Error()))
		}
	}
}

// Tasks tracks background runs so they can be cancelled on teardown.
type Tasks struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

func NewTasks(parent context.Context) *Tasks {
	ctx, cancel := context.WithCancel(parent)
	return &Tasks{ctx: ctx, cancel: cancel}
}

// Go runs fn in the background. It reports false after Close.
func (t *Tasks) Go(fn func(ctx context.Context)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn(t.ctx)
	}()
	return true
}

// Close cancels every task and waits for them to return.
func (t *Tasks) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}
