package summary

import (
	"context"
	"strconv"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/media"
)

// FirestoreCache keeps summaries in movieDetails/{id}.aiSummary.{lang}.
type FirestoreCache struct {
	client *firestore.Client
}

func NewFirestoreCache(client *firestore.Client) *FirestoreCache {
	if client == nil {
		return nil
	}
	return &FirestoreCache{client: client}
}

type movieDetails struct {
	AISummary map[string]Summary `firestore:"aiSummary"`
}

func (c *FirestoreCache) doc(movieID int64) *firestore.DocumentRef {
	return c.client.Collection("movieDetails").Doc(strconv.FormatInt(movieID, 10))
}

func (c *FirestoreCache) Get(ctx context.Context, movieID int64, lang locale.Language) (*Summary, error) {
	snap, err := c.doc(movieID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to get movie details %d: %v", movieID, err)
	}

	var details movieDetails
	if err := snap.DataTo(&details); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to parse movie details %d: %v", movieID, err)
	}

	summary, ok := details.AISummary[string(lang)]
	if !ok || summary.Summary == "" {
		return nil, nil
	}
	return &summary, nil
}

// Put merges the summary for lang without touching other languages.
func (c *FirestoreCache) Put(ctx context.Context, item media.Item, lang locale.Language, summary Summary) error {
	_, err := c.doc(item.ID).Set(ctx, map[string]interface{}{
		"id": item.ID,
		"aiSummary": map[string]interface{}{
			string(lang): map[string]interface{}{
				"title":   item.Title,
				"summary": summary.Summary,
				"tone":    summary.Tone,
			},
		},
		"updatedAt": firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to save summary for %d: %v", item.ID, err)
	}
	return nil
}
