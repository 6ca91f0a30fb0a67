// Package settings persists per-owner application settings.
package settings

import (
	"fmt"
	"strings"

	"github.com/eternisai/saimilar/internal/locale"
)

type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Settings is the flat configuration object of one user or guest session.
type Settings struct {
	Provider    string          `json:"provider"`
	ActiveModel string          `json:"active_model"`
	Theme       Theme           `json:"theme"`
	Language    locale.Language `json:"language"`

	// APIKeys holds per-provider credentials the owner supplied. They are never
	// returned by the HTTP API.
	APIKeys map[string]string `json:"api_keys,omitempty"`
}

// Defaults are the settings of a new owner.
func Defaults() Settings {
	return Settings{
		Provider:    "perplexity",
		ActiveModel: "gpt4",
		Theme:       ThemeDark,
		Language:    locale.Russian,
	}
}

// Merge overlays the non-empty fields of patch onto s.
func (s Settings) Merge(patch Settings) Settings {
	if patch.Provider != "" {
		s.Provider = strings.ToLower(strings.TrimSpace(patch.Provider))
	}
	if patch.ActiveModel != "" {
		s.ActiveModel = strings.TrimSpace(patch.ActiveModel)
	}
	if patch.Theme != "" {
		s.Theme = patch.Theme
	}
	if patch.Language != "" {
		s.Language = patch.Language
	}
	if len(patch.APIKeys) > 0 {
		keys := make(map[string]string, len(s.APIKeys)+len(patch.APIKeys))
		for k, v := range s.APIKeys {
			keys[k] = v
		}
		for k, v := range patch.APIKeys {
			if v == "" {
				delete(keys, k)
			} else {
				keys[k] = v
			}
		}
		s.APIKeys = keys
	}
	return s
}

// Validate checks enumerated fields.
func (s Settings) Validate() error {
	if s.Theme != ThemeDark && s.Theme != ThemeLight {
		return fmt.Errorf("invalid theme %q", s.Theme)
	}
	if !s.Language.Valid() {
		return fmt.Errorf("invalid language %q", s.Language)
	}
	if s.ActiveModel == "" {
		return fmt.Errorf("active model must be non-empty")
	}
	return nil
}

// Redacted returns a copy without credentials.
func (s Settings) Redacted() Settings {
	s.APIKeys = nil
	return s
}
