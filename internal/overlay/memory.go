package overlay

import (
	"context"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Counters mirrors the per-user counter fields of the Firestore user document.
type Counters struct {
	WishlistCount int `json:"wishlistCount"`
	WatchedCount  int `json:"watchedCount"`
	RatingsCount  int `json:"ratingsCount"`
}

type memoryUser struct {
	lists    map[Collection]map[int64]Record
	counters Counters
}

// MemoryStore is used when Firestore is not configured and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*memoryUser
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*memoryUser), now: time.Now}
}

func (s *MemoryStore) user(userID string) *memoryUser {
	u, ok := s.users[userID]
	if !ok {
		u = &memoryUser{lists: map[Collection]map[int64]Record{
			Wishlist: {},
			Watched:  {},
		}}
		s.users[userID] = u
	}
	return u
}

func validate(userID string, collection Collection) error {
	if userID == "" {
		return status.Error(codes.InvalidArgument, "userID must be non-empty")
	}
	if collection != Wishlist && collection != Watched {
		return status.Errorf(codes.InvalidArgument, "unknown collection %q", collection)
	}
	return nil
}

// List returns entries ordered by the time they were added.
func (s *MemoryStore) List(_ context.Context, userID string, collection Collection) ([]Record, error) {
	if err := validate(userID, collection); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Record, 0, len(s.user(userID).lists[collection]))
	for _, record := range s.user(userID).lists[collection] {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].AddedAt, records[j].AddedAt
		if collection == Watched {
			a, b = records[i].WatchedAt, records[j].WatchedAt
		}
		if a.Equal(b) {
			return records[i].MovieID < records[j].MovieID
		}
		return a.Before(b)
	})

	return records, nil
}

func (s *MemoryStore) Add(_ context.Context, userID string, collection Collection, record Record) error {
	if err := validate(userID, collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	if collection == Wishlist {
		record.AddedAt = s.now()
		u.counters.WishlistCount++
	} else {
		record.WatchedAt = s.now()
		u.counters.WatchedCount++
		if record.UserRating > 0 {
			u.counters.RatingsCount++
		}
	}
	u.lists[collection][record.MovieID] = record

	return nil
}

func (s *MemoryStore) Remove(_ context.Context, userID string, collection Collection, movieID int64) error {
	if err := validate(userID, collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	if _, ok := u.lists[collection][movieID]; !ok {
		return nil
	}
	delete(u.lists[collection], movieID)
	if collection == Wishlist {
		u.counters.WishlistCount--
	} else {
		u.counters.WatchedCount--
	}

	return nil
}

func (s *MemoryStore) UpsertRating(_ context.Context, userID string, record Record, rating int) error {
	if err := validate(userID, Watched); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	existing, exists := u.lists[Watched][record.MovieID]
	if !exists {
		existing = record
		existing.UserRating = 0
		existing.WatchedAt = s.now()
		u.counters.WatchedCount++
	}
	if rating > 0 && existing.UserRating == 0 {
		u.counters.RatingsCount++
	}

	existing.UserRating = rating
	u.lists[Watched][record.MovieID] = existing

	return nil
}

// Counters returns the counters of a user.
func (s *MemoryStore) Counters(userID string) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user(userID).counters
}
