package overlay

import (
	"context"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps lists in users/{uid}/wishlist and users/{uid}/watched
// and maintains the wishlistCount, watchedCount and ratingsCount counters on
// the user document.
type FirestoreStore struct {
	client *firestore.Client
	now    func() time.Time
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	if client == nil {
		return nil
	}
	return &FirestoreStore{client: client, now: time.Now}
}

func (s *FirestoreStore) check(userID string) error {
	if s == nil || s.client == nil {
		return status.Error(codes.Internal, "firestore client is nil")
	}
	if userID == "" {
		return status.Error(codes.InvalidArgument, "userID must be non-empty")
	}
	return nil
}

func (s *FirestoreStore) userDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection("users").Doc(userID)
}

func (s *FirestoreStore) entryDoc(userID string, collection Collection, movieID int64) *firestore.DocumentRef {
	return s.userDoc(userID).Collection(string(collection)).Doc(strconv.FormatInt(movieID, 10))
}

// bumpCounters applies counter deltas to the user document, creating it if needed.
func (s *FirestoreStore) bumpCounters(ctx context.Context, userID string, deltas map[string]int) error {
	data := make(map[string]interface{}, len(deltas))
	for field, delta := range deltas {
		if delta != 0 {
			data[field] = firestore.Increment(delta)
		}
	}
	if len(data) == 0 {
		return nil
	}

	if _, err := s.userDoc(userID).Set(ctx, data, firestore.MergeAll); err != nil {
		return status.Errorf(codes.Internal, "failed to update counters for user %s: %v", userID, err)
	}
	return nil
}

func (s *FirestoreStore) List(ctx context.Context, userID string, collection Collection) ([]Record, error) {
	if err := s.check(userID); err != nil {
		return nil, err
	}

	iter := s.userDoc(userID).Collection(string(collection)).Documents(ctx)
	defer iter.Stop()

	records := []Record{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, status.Errorf(codes.Internal, "failed to list %s for user %s: %v", collection, userID, err)
		}

		var record Record
		if err := doc.DataTo(&record); err != nil {
			return nil, status.Errorf(codes.Internal, "failed to parse %s entry %s: %v", collection, doc.Ref.ID, err)
		}
		if record.MovieID == 0 {
			record.MovieID, _ = strconv.ParseInt(doc.Ref.ID, 10, 64)
		}
		records = append(records, record)
	}

	return records, nil
}

func (s *FirestoreStore) Add(ctx context.Context, userID string, collection Collection, record Record) error {
	if err := s.check(userID); err != nil {
		return err
	}
	if record.MovieID == 0 {
		return status.Error(codes.InvalidArgument, "movieId must be non-zero")
	}

	data := map[string]interface{}{
		"movieId":      record.MovieID,
		"title":        record.Title,
		"poster_path":  record.PosterPath,
		"vote_average": record.VoteAverage,
		"media_type":   record.MediaType,
	}

	ref := s.entryDoc(userID, collection, record.MovieID)
	deltas := map[string]int{}

	switch collection {
	case Wishlist:
		data["addedAt"] = s.now()
		if _, err := ref.Set(ctx, data); err != nil {
			return status.Errorf(codes.Internal, "failed to add %d to wishlist: %v", record.MovieID, err)
		}
		deltas["wishlistCount"] = 1
	case Watched:
		data["userRating"] = record.UserRating
		data["watchedAt"] = s.now()
		if _, err := ref.Set(ctx, data, firestore.MergeAll); err != nil {
			return status.Errorf(codes.Internal, "failed to add %d to watched: %v", record.MovieID, err)
		}
		deltas["watchedCount"] = 1
		if record.UserRating > 0 {
			deltas["ratingsCount"] = 1
		}
	default:
		return status.Errorf(codes.InvalidArgument, "unknown collection %q", collection)
	}

	return s.bumpCounters(ctx, userID, deltas)
}

func (s *FirestoreStore) Remove(ctx context.Context, userID string, collection Collection, movieID int64) error {
	if err := s.check(userID); err != nil {
		return err
	}

	if _, err := s.entryDoc(userID, collection, movieID).Delete(ctx); err != nil {
		return status.Errorf(codes.Internal, "failed to remove %d from %s: %v", movieID, collection, err)
	}

	counter := "wishlistCount"
	if collection == Watched {
		counter = "watchedCount"
	}
	return s.bumpCounters(ctx, userID, map[string]int{counter: -1})
}

// UpsertRating runs in a transaction so the ratings counter is bumped once per
// first rating of an entry.
func (s *FirestoreStore) UpsertRating(ctx context.Context, userID string, record Record, rating int) error {
	if err := s.check(userID); err != nil {
		return err
	}

	ref := s.entryDoc(userID, Watched, record.MovieID)
	userRef := s.userDoc(userID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		exists := true
		oldRating := 0

		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			exists = false
		case err != nil:
			return err
		default:
			if v, ok := snap.Data()["userRating"].(int64); ok {
				oldRating = int(v)
			}
		}

		data := map[string]interface{}{
			"movieId":    record.MovieID,
			"userRating": rating,
		}
		if !exists {
			data["title"] = record.Title
			data["poster_path"] = record.PosterPath
			data["vote_average"] = record.VoteAverage
			data["media_type"] = record.MediaType
			data["watchedAt"] = s.now()
		}
		if err := tx.Set(ref, data, firestore.MergeAll); err != nil {
			return err
		}

		counters := map[string]interface{}{}
		if !exists {
			counters["watchedCount"] = firestore.Increment(1)
		}
		if rating > 0 && oldRating == 0 {
			counters["ratingsCount"] = firestore.Increment(1)
		}
		if len(counters) == 0 {
			return nil
		}
		return tx.Set(userRef, counters, firestore.MergeAll)
	})
	if err != nil {
		return status.Errorf(codes.Internal, "failed to rate %d for user %s: %v", record.MovieID, userID, err)
	}

	return nil
}
