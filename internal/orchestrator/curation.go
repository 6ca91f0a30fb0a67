package orchestrator

import (
	"context"

	"github.com/eternisai/saimilar/internal/media"
	"github.com/eternisai/saimilar/internal/overlay"
)

func (s *Session) requireOverlay() (*overlay.Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()
	if s.profile == nil || s.overlay == nil {
		return nil, ErrAuthRequired
	}
	return s.overlay, nil
}

// Overlay returns the signed-in user's lists, or nil for guests.
func (s *Session) Overlay() *overlay.Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay
}

// Rate moves the item from the wishlist to watched with score and shows the
// score on the open detail view and the current results. The copies are set
// optimistically and then follow the reconciled watched rating.
func (s *Session) Rate(ctx context.Context, item media.Item, score int) error {
	ov, err := s.requireOverlay()
	if err != nil {
		return err
	}
	if score < overlay.MinRating || score > overlay.MaxRating {
		return overlay.ErrInvalidRating
	}

	s.setRating(item.ID, score)

	record := overlay.RecordFromItem(item)
	rateErr := ov.Rate(s.ctx(ctx), record, score)

	s.setRating(item.ID, ov.Rating(item.ID))
	return rateErr
}

func (s *Session) setRating(id int64, rating int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detail != nil && s.detail.ID == id {
		updated := *s.detail
		updated.UserRating = rating
		s.detail = &updated
	}
	for i := range s.results {
		if s.results[i].ID == id {
			s.results[i].UserRating = rating
		}
	}
}

// ToggleWishlist adds the item when absent and removes it when present. It
// reports whether the item is now on the wishlist.
func (s *Session) ToggleWishlist(ctx context.Context, item media.Item) (bool, error) {
	return s.toggle(ctx, overlay.Wishlist, item)
}

// ToggleWatched is ToggleWishlist for the watched list.
func (s *Session) ToggleWatched(ctx context.Context, item media.Item) (bool, error) {
	return s.toggle(ctx, overlay.Watched, item)
}

func (s *Session) toggle(ctx context.Context, collection overlay.Collection, item media.Item) (bool, error) {
	ov, err := s.requireOverlay()
	if err != nil {
		return false, err
	}
	return ov.Toggle(s.ctx(ctx), collection, overlay.RecordFromItem(item))
}
