package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidRating is returned for scores outside 1..10.
var ErrInvalidRating = errors.New("rating must be between 1 and 10")

const (
	MinRating = 1
	MaxRating = 10
)

// View is one observable state of both lists, in insertion order.
type View struct {
	Wishlist []Record `json:"wishlist"`
	Watched  []Record `json:"watched"`
}

func (v View) list(collection Collection) []Record {
	if collection == Wishlist {
		return v.Wishlist
	}
	return v.Watched
}

func (v *View) set(collection Collection, records []Record) {
	if collection == Wishlist {
		v.Wishlist = records
	} else {
		v.Watched = records
	}
}

func (v View) clone() View {
	return View{
		Wishlist: append([]Record{}, v.Wishlist...),
		Watched:  append([]Record{}, v.Watched...),
	}
}

// Find returns the entry for movieID in collection.
func (v View) Find(collection Collection, movieID int64) (Record, bool) {
	for _, record := range v.list(collection) {
		if record.MovieID == movieID {
			return record, true
		}
	}
	return Record{}, false
}

// Mutation is one change to a list.
type Mutation struct {
	Collection Collection
	Record     Record
	Remove     bool

	// RatingOnly updates the rating of an existing entry and keeps its other fields.
	RatingOnly bool
}

func (m Mutation) apply(v *View) {
	records := v.list(m.Collection)
	idx := -1
	for i, record := range records {
		if record.MovieID == m.Record.MovieID {
			idx = i
			break
		}
	}

	switch {
	case m.Remove:
		if idx >= 0 {
			records = append(records[:idx:idx], records[idx+1:]...)
		}
	case idx >= 0 && m.RatingOnly:
		records[idx].UserRating = m.Record.UserRating
	case idx >= 0:
		records[idx] = m.Record
	default:
		records = append(records, m.Record)
	}

	v.set(m.Collection, records)
}

// Overlay is a user's lists with two-phase optimistic mutations. Begin applies
// a mutation to the optimistic view at once; Commit moves it into the confirmed
// view, Rollback discards it. The optimistic view is always the confirmed view
// with every pending mutation replayed in order.
type Overlay struct {
	store  Store
	userID string

	mu        sync.Mutex
	confirmed View
	pending   []*Pending
	nextSeq   uint64
}

// Pending is a mutation awaiting reconciliation.
type Pending struct {
	overlay   *Overlay
	seq       uint64
	mutations []Mutation
	done      bool
}

func New(store Store, userID string) *Overlay {
	return &Overlay{
		store:     store,
		userID:    userID,
		confirmed: View{Wishlist: []Record{}, Watched: []Record{}},
	}
}

func (o *Overlay) UserID() string { return o.userID }

// Load replaces the confirmed view with the stored lists and drops pending mutations.
func (o *Overlay) Load(ctx context.Context) error {
	wishlist, err := o.store.List(ctx, o.userID, Wishlist)
	if err != nil {
		return fmt.Errorf("failed to load wishlist: %w", err)
	}
	watched, err := o.store.List(ctx, o.userID, Watched)
	if err != nil {
		return fmt.Errorf("failed to load watched: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.confirmed = View{Wishlist: wishlist, Watched: watched}
	for _, p := range o.pending {
		p.done = true
	}
	o.pending = nil

	return nil
}

// Confirmed is the state acknowledged by the store.
func (o *Overlay) Confirmed() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.confirmed.clone()
}

// Optimistic is the confirmed state with pending mutations applied.
func (o *Overlay) Optimistic() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.optimisticLocked()
}

func (o *Overlay) optimisticLocked() View {
	view := o.confirmed.clone()
	for _, p := range o.pending {
		for _, m := range p.mutations {
			m.apply(&view)
		}
	}
	return view
}

// PendingCount is the number of unreconciled mutations.
func (o *Overlay) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Contains reports optimistic membership.
func (o *Overlay) Contains(collection Collection, movieID int64) bool {
	_, ok := o.Optimistic().Find(collection, movieID)
	return ok
}

// Rating returns the optimistic watched rating for movieID, 0 when unrated.
func (o *Overlay) Rating(movieID int64) int {
	record, _ := o.Optimistic().Find(Watched, movieID)
	return record.UserRating
}

// Begin applies mutations to the optimistic view.
func (o *Overlay) Begin(mutations ...Mutation) *Pending {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextSeq++
	p := &Pending{overlay: o, seq: o.nextSeq, mutations: mutations}
	o.pending = append(o.pending, p)
	return p
}

// Commit moves the mutation into the confirmed view.
func (p *Pending) Commit() {
	p.finish(true)
}

// Rollback discards the mutation.
func (p *Pending) Rollback() {
	p.finish(false)
}

func (p *Pending) finish(commit bool) {
	o := p.overlay
	o.mu.Lock()
	defer o.mu.Unlock()

	if p.done {
		return
	}
	p.done = true

	for i, candidate := range o.pending {
		if candidate.seq == p.seq {
			o.pending = append(o.pending[:i:i], o.pending[i+1:]...)
			break
		}
	}

	if commit {
		for _, m := range p.mutations {
			m.apply(&o.confirmed)
		}
	}
}

// reconcile commits on success and rolls back on failure, returning err.
func (p *Pending) reconcile(err error) error {
	if err != nil {
		p.Rollback()
		return err
	}
	p.Commit()
	return nil
}

// Add inserts record into collection.
func (o *Overlay) Add(ctx context.Context, collection Collection, record Record) error {
	p := o.Begin(Mutation{Collection: collection, Record: record})
	return p.reconcile(o.store.Add(ctx, o.userID, collection, record))
}

// Remove deletes movieID from collection.
func (o *Overlay) Remove(ctx context.Context, collection Collection, movieID int64) error {
	p := o.Begin(Mutation{Collection: collection, Record: Record{MovieID: movieID}, Remove: true})
	return p.reconcile(o.store.Remove(ctx, o.userID, collection, movieID))
}

// Toggle adds the record when absent from the optimistic view and removes it
// when present. It reports whether the record is now in the collection.
func (o *Overlay) Toggle(ctx context.Context, collection Collection, record Record) (bool, error) {
	if o.Contains(collection, record.MovieID) {
		return false, o.Remove(ctx, collection, record.MovieID)
	}
	return true, o.Add(ctx, collection, record)
}

// Rate removes the record from the wishlist when present and upserts it into
// watched with score. Both store calls are always attempted; a wishlist
// failure does not block the watched upsert. Errors are joined.
func (o *Overlay) Rate(ctx context.Context, record Record, score int) error {
	if score < MinRating || score > MaxRating {
		return ErrInvalidRating
	}

	var errs []error

	if o.Contains(Wishlist, record.MovieID) {
		if err := o.Remove(ctx, Wishlist, record.MovieID); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove from wishlist: %w", err))
		}
	}

	rated := record
	rated.UserRating = score
	upsert := Mutation{Collection: Watched, Record: rated, RatingOnly: true}

	p := o.Begin(upsert)
	if err := p.reconcile(o.store.UpsertRating(ctx, o.userID, record, score)); err != nil {
		errs = append(errs, fmt.Errorf("failed to rate: %w", err))
	}

	return errors.Join(errs...)
}
