// Package kv is the local key-value store behind settings and the summary cache.
package kv

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"

	"github.com/eternisai/saimilar/internal/logger"
)

// Store wraps a badger database with JSON values.
type Store struct {
	db     *badger.DB
	cron   *cron.Cron
	logger *logger.Logger
}

// Open opens the database in dir, or an in-memory database when dir is empty.
func Open(dir string, log *logger.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	log = log.WithComponent("kv")
	log.Info("key-value store opened", slog.Bool("in_memory", dir == ""), slog.String("dir", dir))

	return &Store{db: db, logger: log}, nil
}

// Get decodes the value at key into out. It reports false when the key is absent or expired.
func (s *Store) Get(key string, out any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

// Set stores value at key. A positive ttl expires the entry.
func (s *Store) Set(key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *Store) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// StartGC runs value log garbage collection on a cron schedule such as "@every 10m".
func (s *Store) StartGC(schedule string) error {
	if s.cron != nil {
		return errors.New("gc already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, s.runGC); err != nil {
		return fmt.Errorf("invalid gc schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("value log gc scheduled", slog.String("schedule", schedule))
	return nil
}

func (s *Store) runGC() {
	for {
		err := s.db.RunValueLogGC(0.5)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
			s.logger.Warn("value log gc failed", slog.String("error", err.Error()))
		}
		return
	}
}

// Close stops the GC schedule and closes the database.
func (s *Store) Close() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	return s.db.Close()
}
