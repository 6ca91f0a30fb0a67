// Package overlay keeps a user's wishlist and watched lists.
package overlay

import (
	"context"
	"time"

	"github.com/eternisai/saimilar/internal/media"
)

// Collection names a per-user list.
type Collection string

const (
	Wishlist Collection = "wishlist"
	Watched  Collection = "watched"
)

// Record is a stored list entry.
type Record struct {
	MovieID     int64     `firestore:"movieId" json:"id"`
	Title       string    `firestore:"title" json:"title"`
	PosterPath  string    `firestore:"poster_path" json:"poster_path,omitempty"`
	VoteAverage float64   `firestore:"vote_average" json:"vote_average"`
	MediaType   string    `firestore:"media_type" json:"media_type"`
	UserRating  int       `firestore:"userRating" json:"userRating,omitempty"`
	AddedAt     time.Time `firestore:"addedAt" json:"added_at,omitempty"`
	WatchedAt   time.Time `firestore:"watchedAt" json:"watched_at,omitempty"`
}

// RecordFromItem copies the stored fields of a media item.
func RecordFromItem(item media.Item) Record {
	mediaType := string(item.MediaType)
	if mediaType == "" {
		mediaType = string(media.Movie)
	}

	return Record{
		MovieID:     item.ID,
		Title:       item.Title,
		PosterPath:  item.PosterPath,
		VoteAverage: item.VoteAverage,
		MediaType:   mediaType,
		UserRating:  item.UserRating,
	}
}

// Item converts a record back to a media item for display.
func (r Record) Item() media.Item {
	return media.Item{
		ID:          r.MovieID,
		Title:       r.Title,
		PosterPath:  r.PosterPath,
		VoteAverage: r.VoteAverage,
		MediaType:   media.ParseMediaType(r.MediaType),
		UserRating:  r.UserRating,
	}
}

// Store persists overlay collections keyed by (userID, movieID). Every method
// returns its error to the caller.
type Store interface {
	List(ctx context.Context, userID string, collection Collection) ([]Record, error)
	Add(ctx context.Context, userID string, collection Collection, record Record) error
	Remove(ctx context.Context, userID string, collection Collection, movieID int64) error
	// UpsertRating sets the rating on the watched entry, creating it when absent.
	UpsertRating(ctx context.Context, userID string, record Record, rating int) error
}
