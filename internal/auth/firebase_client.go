package auth

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

// FirebaseClient owns the Firestore connection shared by profiles, overlays and summaries.
type FirebaseClient struct {
	firestoreClient *firestore.Client
}

// NewFirebaseClient opens the named Firestore database.
// An empty databaseID selects the project's default database.
func NewFirebaseClient(ctx context.Context, projectID, databaseID, credJSON string) (*FirebaseClient, error) {
	var opts []option.ClientOption
	if credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}

	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firestore client: %w", err)
	}

	return &FirebaseClient{
		firestoreClient: client,
	}, nil
}

// Firestore returns the underlying client for the overlay and summary stores.
func (f *FirebaseClient) Firestore() *firestore.Client {
	if f == nil {
		return nil
	}
	return f.firestoreClient
}

// Close closes the Firestore client
func (f *FirebaseClient) Close() error {
	if f != nil && f.firestoreClient != nil {
		return f.firestoreClient.Close()
	}
	return nil
}
