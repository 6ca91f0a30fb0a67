package overlay

import (
	"context"
	"errors"
	"testing"

	"github.com/eternisai/saimilar/internal/media"
)

// failingStore wraps a store and fails selected operations.
type failingStore struct {
	Store
	failAdd    bool
	failRemove bool
	failRate   bool
}

var errStore = errors.New("store unavailable")

func (s *failingStore) Add(ctx context.Context, userID string, c Collection, r Record) error {
	if s.failAdd {
		return errStore
	}
	return s.Store.Add(ctx, userID, c, r)
}

func (s *failingStore) Remove(ctx context.Context, userID string, c Collection, id int64) error {
	if s.failRemove {
		return errStore
	}
	return s.Store.Remove(ctx, userID, c, id)
}

func (s *failingStore) UpsertRating(ctx context.Context, userID string, r Record, rating int) error {
	if s.failRate {
		return errStore
	}
	return s.Store.UpsertRating(ctx, userID, r, rating)
}

func item(id int64) Record {
	return RecordFromItem(media.Item{ID: id, Title: "title", VoteAverage: 7.5})
}

func TestRateCrossEffect(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	o := New(store, "uid")

	if err := o.Add(ctx, Wishlist, item(1)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := o.Rate(ctx, item(1), 8); err != nil {
		t.Fatalf("Rate: %v", err)
	}

	for name, view := range map[string]View{"optimistic": o.Optimistic(), "confirmed": o.Confirmed()} {
		if _, ok := view.Find(Wishlist, 1); ok {
			t.Errorf("%s: item still in wishlist", name)
		}
		record, ok := view.Find(Watched, 1)
		if !ok || record.UserRating != 8 {
			t.Errorf("%s: watched entry = %+v, %v", name, record, ok)
		}
	}

	stored, _ := store.List(ctx, "uid", Watched)
	if len(stored) != 1 || stored[0].UserRating != 8 || stored[0].Title != "title" {
		t.Errorf("stored watched = %+v", stored)
	}

	want := Counters{WishlistCount: 0, WatchedCount: 1, RatingsCount: 1}
	if got := store.Counters("uid"); got != want {
		t.Errorf("counters = %+v, want %+v", got, want)
	}
}

func TestRerateKeepsRatingsCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	o := New(store, "uid")

	_ = o.Rate(ctx, item(1), 5)
	_ = o.Rate(ctx, item(1), 9)

	if got := store.Counters("uid").RatingsCount; got != 1 {
		t.Errorf("RatingsCount = %d, want 1", got)
	}
	if got := o.Rating(1); got != 9 {
		t.Errorf("Rating = %d, want 9", got)
	}
}

func TestRateInvalidScore(t *testing.T) {
	o := New(NewMemoryStore(), "uid")
	for _, score := range []int{0, 11, -1} {
		if err := o.Rate(context.Background(), item(1), score); !errors.Is(err, ErrInvalidRating) {
			t.Errorf("Rate(%d) = %v", score, err)
		}
	}
}

func TestRateWishlistFailureDoesNotBlockWatched(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: NewMemoryStore()}
	o := New(store, "uid")
	_ = o.Add(ctx, Wishlist, item(1))

	store.failRemove = true
	err := o.Rate(ctx, item(1), 6)
	if !errors.Is(err, errStore) {
		t.Fatalf("expected surfaced store error, got %v", err)
	}

	view := o.Optimistic()
	if _, ok := view.Find(Wishlist, 1); !ok {
		t.Error("failed wishlist removal should be rolled back")
	}
	if record, ok := view.Find(Watched, 1); !ok || record.UserRating != 6 {
		t.Errorf("watched upsert should still apply, got %+v, %v", record, ok)
	}
}

func TestFailedMutationRollsBack(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: NewMemoryStore(), failAdd: true}
	o := New(store, "uid")

	added, err := o.Toggle(ctx, Watched, item(3))
	if !added || !errors.Is(err, errStore) {
		t.Fatalf("Toggle = %v, %v", added, err)
	}
	if o.Contains(Watched, 3) {
		t.Error("optimistic view kept a failed add")
	}
	if o.PendingCount() != 0 {
		t.Errorf("PendingCount = %d", o.PendingCount())
	}
}

func TestTwoPhaseViews(t *testing.T) {
	o := New(NewMemoryStore(), "uid")

	p := o.Begin(Mutation{Collection: Wishlist, Record: item(5)})
	if _, ok := o.Optimistic().Find(Wishlist, 5); !ok {
		t.Error("pending mutation missing from optimistic view")
	}
	if _, ok := o.Confirmed().Find(Wishlist, 5); ok {
		t.Error("pending mutation leaked into confirmed view")
	}

	p.Commit()
	p.Rollback()
	if _, ok := o.Confirmed().Find(Wishlist, 5); !ok {
		t.Error("committed mutation missing from confirmed view")
	}

	q := o.Begin(Mutation{Collection: Wishlist, Record: item(5), Remove: true})
	q.Rollback()
	if _, ok := o.Optimistic().Find(Wishlist, 5); !ok {
		t.Error("rolled back removal should restore the entry")
	}
}

func TestToggleAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	o := New(store, "uid")

	if added, err := o.Toggle(ctx, Wishlist, item(1)); !added || err != nil {
		t.Fatalf("first Toggle = %v, %v", added, err)
	}
	if added, err := o.Toggle(ctx, Wishlist, item(2)); !added || err != nil {
		t.Fatalf("second Toggle = %v, %v", added, err)
	}
	if added, err := o.Toggle(ctx, Wishlist, item(1)); added || err != nil {
		t.Fatalf("third Toggle = %v, %v", added, err)
	}

	reloaded := New(store, "uid")
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	view := reloaded.Confirmed()
	if len(view.Wishlist) != 1 || view.Wishlist[0].MovieID != 2 {
		t.Errorf("reloaded wishlist = %+v", view.Wishlist)
	}
	if got := store.Counters("uid").WishlistCount; got != 1 {
		t.Errorf("WishlistCount = %d", got)
	}
}
