package llm

import (
	"context"
	"sync"
	"time"
)

// UsageStats describes one completed provider call.
type UsageStats struct {
	ModelKey      string    `json:"model_key"`
	ProviderModel string    `json:"provider_model"`
	InputTokens   int64     `json:"input_tokens"`
	OutputTokens  int64     `json:"output_tokens"`
	TotalTokens   int64     `json:"total_tokens"`
	CostEstimate  float64   `json:"cost_estimate"`
	WallClockMs   int64     `json:"wall_clock_ms"`
	QueryExcerpt  string    `json:"query_excerpt"`
	Timestamp     time.Time `json:"timestamp"`
}

// UsageRecorder receives every UsageStats record the adapter produces.
type UsageRecorder interface {
	Record(ctx context.Context, stats UsageStats)
}

// DefaultUsageLogSize is the number of records kept when no size is configured.
const DefaultUsageLogSize = 1000

// UsageLog is an append-only ring buffer of usage records. When full, the
// oldest record is evicted.
type UsageLog struct {
	mu      sync.RWMutex
	entries []UsageStats
	next    int
	full    bool
}

func NewUsageLog(maxEntries int) *UsageLog {
	if maxEntries <= 0 {
		maxEntries = DefaultUsageLogSize
	}
	return &UsageLog{entries: make([]UsageStats, maxEntries)}
}

// Record implements UsageRecorder.
func (l *UsageLog) Record(_ context.Context, stats UsageStats) {
	l.Add(stats)
}

func (l *UsageLog) Add(stats UsageStats) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = stats
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Len returns the number of retained records.
func (l *UsageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.full {
		return len(l.entries)
	}
	return l.next
}

// Entries returns the retained records, oldest first.
func (l *UsageLog) Entries() []UsageStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.full {
		out := make([]UsageStats, l.next)
		copy(out, l.entries[:l.next])
		return out
	}

	out := make([]UsageStats, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}

// Totals sums tokens and cost over the retained records.
func (l *UsageLog) Totals() (tokens int64, cost float64) {
	for _, entry := range l.Entries() {
		tokens += entry.TotalTokens
		cost += entry.CostEstimate
	}
	return tokens, cost
}
