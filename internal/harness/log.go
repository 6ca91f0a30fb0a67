// Package harness runs one query against several models for side-by-side comparison.
package harness

import (
	"fmt"
	"sync"
	"time"

	"github.com/eternisai/saimilar/internal/analyzer"
	"github.com/eternisai/saimilar/internal/llm"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// MainLabelSuffix marks entries recorded by the primary submit path.
const MainLabelSuffix = " (Main)"

// Entry is one (query, model) run. It is created pending and updated in place.
type Entry struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	ModelKey   string                 `json:"model_key"`
	ModelLabel string                 `json:"model_label"`
	Query      string                 `json:"query"`
	Status     Status                 `json:"status"`
	Result     *analyzer.SearchIntent `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Usage      *llm.UsageStats        `json:"usage,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
}

type EventType string

const (
	EventEntry   EventType = "entry"
	EventCleared EventType = "cleared"
)

// Event is published to subscribers on every change.
type Event struct {
	Type  EventType `json:"type"`
	Entry *Entry    `json:"entry,omitempty"`
}

const subscriberBuffer = 32

// Log is the append-and-update test run log of one session.
type Log struct {
	mu          sync.RWMutex
	entries     []Entry
	index       map[string]int
	subscribers map[int]chan Event
	nextSub     int
	now         func() time.Time
}

func NewLog() *Log {
	return &Log{
		index:       make(map[string]int),
		subscribers: make(map[int]chan Event),
		now:         time.Now,
	}
}

// Begin creates a pending entry with an id of the form <unix millis>_<model>.
func (l *Log) Begin(modelKey, label, query string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	id := fmt.Sprintf("%d_%s", now.UnixMilli(), modelKey)
	for n := 1; ; n++ {
		if _, taken := l.index[id]; !taken {
			break
		}
		id = fmt.Sprintf("%d_%s_%d", now.UnixMilli(), modelKey, n)
	}

	entry := Entry{
		ID:         id,
		Timestamp:  now,
		ModelKey:   modelKey,
		ModelLabel: label,
		Query:      query,
		Status:     StatusPending,
	}
	l.index[id] = len(l.entries)
	l.entries = append(l.entries, entry)
	l.publishLocked(Event{Type: EventEntry, Entry: &entry})
	return entry
}

// Resolve updates the entry with the intent. A degraded intent is recorded as an error.
// It reports false when the entry no longer exists.
func (l *Log) Resolve(id string, intent *analyzer.SearchIntent, elapsed time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return false
	}

	entry := &l.entries[i]
	entry.DurationMs = elapsed.Milliseconds()
	entry.Status = StatusDone
	if intent != nil {
		entry.Result = intent
		entry.Usage = intent.Usage
		if intent.Cause != nil {
			entry.Status = StatusError
			entry.Error = intent.Cause.Error()
		}
	} else {
		entry.Status = StatusError
		entry.Error = "no result"
	}

	updated := *entry
	l.publishLocked(Event{Type: EventEntry, Entry: &updated})
	return true
}

// Record adds an already resolved entry.
func (l *Log) Record(modelKey, label, query string, intent *analyzer.SearchIntent, elapsed time.Duration) Entry {
	entry := l.Begin(modelKey, label, query)
	l.Resolve(entry.ID, intent, elapsed)
	got, _ := l.Get(entry.ID)
	return got
}

func (l *Log) Get(id string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[id]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// Entries returns a copy, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear removes every entry.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	l.index = make(map[string]int)
	l.publishLocked(Event{Type: EventCleared})
}

// Subscribe returns a channel receiving every event and a cancel function.
// Slow subscribers miss events rather than blocking the log.
func (l *Log) Subscribe() (<-chan Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextSub
	l.nextSub++
	ch := make(chan Event, subscriberBuffer)
	l.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if sub, ok := l.subscribers[id]; ok {
				delete(l.subscribers, id)
				close(sub)
			}
		})
	}
}

// CloseSubscribers ends every subscription.
func (l *Log) CloseSubscribers() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, ch := range l.subscribers {
		delete(l.subscribers, id)
		close(ch)
	}
}

func (l *Log) publishLocked(event Event) {
	for _, ch := range l.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
