package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Roles allowed to read the admin endpoints.
var AdminRoles = []string{"owner", "admin"}

// Profile is the users/{uid} document.
type Profile struct {
	ID            string    `firestore:"-" json:"id"`
	Nickname      string    `firestore:"nickname" json:"username"`
	Email         string    `firestore:"email,omitempty" json:"email,omitempty"`
	Provider      string    `firestore:"provider" json:"provider"`
	Role          string    `firestore:"role" json:"role"`
	CreatedAt     time.Time `firestore:"createdAt" json:"createdAt"`
	WishlistCount int64     `firestore:"wishlistCount" json:"wishlistCount"`
	WatchedCount  int64     `firestore:"watchedCount" json:"watchedCount"`
	RatingsCount  int64     `firestore:"ratingsCount" json:"ratingsCount"`
}

// IsAdmin reports whether the profile role may use the admin endpoints.
func (p *Profile) IsAdmin() bool {
	for _, role := range AdminRoles {
		if p.Role == role {
			return true
		}
	}
	return false
}

// NewProfile builds the profile created on first sign-in.
func NewProfile(identity Identity, now time.Time) *Profile {
	nickname := identity.Name
	if nickname == "" && identity.Email != "" {
		nickname = strings.SplitN(identity.Email, "@", 2)[0]
	}
	if nickname == "" {
		uid := identity.UserID
		if len(uid) > 6 {
			uid = uid[:6]
		}
		nickname = "User_" + uid
	}

	provider := "email"
	if identity.SignInProvider == "google.com" {
		provider = "google"
	}

	return &Profile{
		ID:        identity.UserID,
		Nickname:  nickname,
		Email:     identity.Email,
		Provider:  provider,
		Role:      "user",
		CreatedAt: now,
	}
}

// ProfileStore reads and creates user profiles.
type ProfileStore interface {
	// EnsureProfile returns the stored profile, creating it on first sign-in.
	EnsureProfile(ctx context.Context, identity Identity) (*Profile, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	// ListProfiles returns all profiles, newest first.
	ListProfiles(ctx context.Context) ([]*Profile, error)
}

// FirestoreProfileStore keeps profiles in the users collection.
type FirestoreProfileStore struct {
	client *firestore.Client
}

func NewFirestoreProfileStore(client *firestore.Client) *FirestoreProfileStore {
	if client == nil {
		return nil
	}
	return &FirestoreProfileStore{client: client}
}

func (s *FirestoreProfileStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if s == nil || s.client == nil {
		return nil, status.Error(codes.Internal, "firestore client is nil")
	}
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "userID must be non-empty")
	}

	doc, err := s.client.Collection("users").Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, status.Errorf(codes.NotFound, "no profile for user %s", userID)
		}
		return nil, status.Errorf(codes.Internal, "failed to get profile for user %s: %v", userID, err)
	}

	var profile Profile
	if err := doc.DataTo(&profile); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to parse profile for user %s: %v", userID, err)
	}
	profile.ID = doc.Ref.ID

	return &profile, nil
}

func (s *FirestoreProfileStore) EnsureProfile(ctx context.Context, identity Identity) (*Profile, error) {
	profile, err := s.GetProfile(ctx, identity.UserID)
	if err == nil {
		return profile, nil
	}
	if status.Code(err) != codes.NotFound {
		return nil, err
	}

	profile = NewProfile(identity, time.Now())
	if _, err := s.client.Collection("users").Doc(identity.UserID).Create(ctx, profile); err != nil {
		// Concurrent first requests race on Create; the loser reads the winner's document.
		if status.Code(err) == codes.AlreadyExists {
			return s.GetProfile(ctx, identity.UserID)
		}
		return nil, status.Errorf(codes.Internal, "failed to create profile for user %s: %v", identity.UserID, err)
	}

	return profile, nil
}

func (s *FirestoreProfileStore) ListProfiles(ctx context.Context) ([]*Profile, error) {
	if s == nil || s.client == nil {
		return nil, status.Error(codes.Internal, "firestore client is nil")
	}

	iter := s.client.Collection("users").OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var profiles []*Profile
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, status.Errorf(codes.Internal, "failed to list profiles: %v", err)
		}

		var profile Profile
		if err := doc.DataTo(&profile); err != nil {
			return nil, status.Errorf(codes.Internal, "failed to parse profile %s: %v", doc.Ref.ID, err)
		}
		profile.ID = doc.Ref.ID
		profiles = append(profiles, &profile)
	}

	return profiles, nil
}

// MemoryProfileStore is used when Firestore is not configured and in tests.
type MemoryProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	now      func() time.Time
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		profiles: make(map[string]*Profile),
		now:      time.Now,
	}
}

func (s *MemoryProfileStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no profile for user %s", userID)
	}

	copied := *profile
	return &copied, nil
}

func (s *MemoryProfileStore) EnsureProfile(ctx context.Context, identity Identity) (*Profile, error) {
	s.mu.Lock()
	if _, ok := s.profiles[identity.UserID]; !ok {
		s.profiles[identity.UserID] = NewProfile(identity, s.now())
	}
	s.mu.Unlock()

	return s.GetProfile(ctx, identity.UserID)
}

// Put stores a profile as-is (role changes, tests).
func (s *MemoryProfileStore) Put(profile *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *profile
	s.profiles[profile.ID] = &copied
}

func (s *MemoryProfileStore) ListProfiles(_ context.Context) ([]*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := make([]*Profile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		copied := *profile
		profiles = append(profiles, &copied)
	}

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].CreatedAt.After(profiles[j].CreatedAt)
	})

	return profiles, nil
}
