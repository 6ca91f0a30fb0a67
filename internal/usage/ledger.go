package usage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/eternisai/saimilar/internal/llm"
	"github.com/eternisai/saimilar/internal/logger"
	"github.com/eternisai/saimilar/internal/storage/pg"
)

// Subject carries one Event per provider call.
const Subject = "saimilar.usage"

var ErrShuttingDown = errors.New("usage ledger is shutting down")

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Event is a usage record with the caller attached.
type Event struct {
	llm.UsageStats
	UserID     string `json:"user_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	InstanceID string `json:"instance_id"`
}

type Config struct {
	Workers    int
	BufferSize int
	Timeout    time.Duration
}

// Ledger persists usage records to Postgres and publishes them on NATS from a
// pool of workers. Record never blocks: when the queue is full the record is
// dropped and counted.
type Ledger struct {
	queries    pg.Querier
	publisher  Publisher
	instanceID string
	timeout    time.Duration
	bufferSize int

	events     chan Event
	workerPool sync.WaitGroup
	shutdown   chan struct{}
	closed     atomic.Bool
	dropped    atomic.Int64
	logger     *logger.Logger
}

// NewLedger starts the workers. queries and publisher may each be nil.
func NewLedger(queries pg.Querier, publisher Publisher, cfg Config, log *logger.Logger) *Ledger {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	l := &Ledger{
		queries:    queries,
		publisher:  publisher,
		instanceID: logger.GetInstanceID(),
		timeout:    cfg.Timeout,
		bufferSize: cfg.BufferSize,
		events:     make(chan Event, cfg.BufferSize),
		shutdown:   make(chan struct{}),
		logger:     log.WithComponent("usage_ledger"),
	}

	for i := 0; i < cfg.Workers; i++ {
		l.workerPool.Add(1)
		go l.worker()
	}
	return l
}

// Record implements llm.UsageRecorder.
func (l *Ledger) Record(ctx context.Context, stats llm.UsageStats) {
	if err := l.Enqueue(ctx, stats); err != nil && !errors.Is(err, ErrShuttingDown) {
		l.logger.WithContext(ctx).Debug("usage record not queued", slog.String("error", err.Error()))
	}
}

// Enqueue queues stats with the user and session ids found in ctx.
func (l *Ledger) Enqueue(ctx context.Context, stats llm.UsageStats) error {
	if l.closed.Load() {
		l.logger.Warn("usage ledger is shutting down, dropping record", slog.String("model", stats.ModelKey))
		return ErrShuttingDown
	}

	event := Event{
		UsageStats: stats,
		UserID:     contextString(ctx, logger.ContextKeyUserID),
		SessionID:  contextString(ctx, logger.ContextKeySessionID),
		InstanceID: l.instanceID,
	}

	select {
	case l.events <- event:
		return nil
	default:
		dropped := l.dropped.Add(1)
		droppedTotal.Inc()
		l.logger.Error("usage queue FULL - record DROPPED",
			slog.String("model", stats.ModelKey),
			slog.String("user_id", event.UserID),
			slog.Int64("total_dropped", dropped),
			slog.Int("queue_size", l.bufferSize))
		return errors.New("usage queue is full, dropping record")
	}
}

// Dropped is the number of records lost to a full queue.
func (l *Ledger) Dropped() int64 {
	return l.dropped.Load()
}

// Totals sums the persisted usage since the given time, per model.
func (l *Ledger) Totals(ctx context.Context, since time.Time) ([]pg.UsageTotalRow, error) {
	if l.queries == nil {
		return nil, nil
	}
	return l.queries.GetUsageTotalsByModel(ctx, since)
}

func (l *Ledger) worker() {
	defer l.workerPool.Done()

	for {
		select {
		case event := <-l.events:
			l.handle(event)
		case <-l.shutdown:
			// Drain what is queued before exiting.
			for {
				select {
				case event := <-l.events:
					l.handle(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Ledger) handle(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if l.queries != nil {
		if err := l.queries.CreateUsageEvent(ctx, createParams(event)); err != nil {
			persistedTotal.WithLabelValues(outcomeError).Inc()
			l.logger.Error("failed to insert usage event",
				slog.String("model", event.ModelKey),
				slog.String("user_id", event.UserID),
				slog.String("error", err.Error()))
		} else {
			persistedTotal.WithLabelValues(outcomeSuccess).Inc()
		}
	}

	if l.publisher != nil {
		data, err := json.Marshal(event)
		if err != nil {
			l.logger.Error("failed to encode usage event", slog.String("error", err.Error()))
			return
		}
		if err := l.publisher.Publish(Subject, data); err != nil {
			l.logger.Warn("failed to publish usage event",
				slog.String("subject", Subject),
				slog.String("error", err.Error()))
		}
	}
}

// Shutdown stops accepting records and waits for the queue to drain.
func (l *Ledger) Shutdown() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	close(l.shutdown)
	l.workerPool.Wait()
}

func createParams(event Event) pg.CreateUsageEventParams {
	createdAt := event.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return pg.CreateUsageEventParams{
		UserID:        nullString(event.UserID),
		SessionID:     nullString(event.SessionID),
		ModelKey:      event.ModelKey,
		ProviderModel: event.ProviderModel,
		InputTokens:   event.InputTokens,
		OutputTokens:  event.OutputTokens,
		TotalTokens:   event.TotalTokens,
		CostEstimate:  event.CostEstimate,
		WallClockMs:   event.WallClockMs,
		QueryExcerpt:  event.QueryExcerpt,
		CreatedAt:     createdAt.UTC(),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func contextString(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
