package settings

import (
	"fmt"

	"github.com/eternisai/saimilar/internal/storage/kv"
)

const keyPrefix = "settings:"

// Store loads and saves settings by owner id.
type Store struct {
	kv *kv.Store
}

func NewStore(store *kv.Store) *Store {
	return &Store{kv: store}
}

// Load returns the stored settings merged over the defaults.
func (s *Store) Load(ownerID string) (Settings, error) {
	var stored Settings
	found, err := s.kv.Get(keyPrefix+ownerID, &stored)
	if err != nil {
		return Defaults(), fmt.Errorf("failed to load settings for %s: %w", ownerID, err)
	}
	if !found {
		return Defaults(), nil
	}
	return Defaults().Merge(stored), nil
}

func (s *Store) Save(ownerID string, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := s.kv.Set(keyPrefix+ownerID, settings, 0); err != nil {
		return fmt.Errorf("failed to save settings for %s: %w", ownerID, err)
	}
	return nil
}
