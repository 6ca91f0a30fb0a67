// Package media is the TMDB v3 lookup collaborator.
package media

import "strings"

// MediaType is the kind of title a lookup targets.
type MediaType string

const (
	Movie MediaType = "movie"
	TV    MediaType = "tv"
	Anime MediaType = "anime"
)

// ParseMediaType maps analyzer output to a MediaType, defaulting to Movie.
func ParseMediaType(s string) MediaType {
	switch MediaType(strings.ToLower(strings.TrimSpace(s))) {
	case TV:
		return TV
	case Anime:
		return Anime
	default:
		return Movie
	}
}

// endpoint is the TMDB path segment; anime is served from the tv catalogue.
func (m MediaType) endpoint() string {
	if m == Movie {
		return "movie"
	}
	return "tv"
}

type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Item is a normalised TMDB movie or TV result.
type Item struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	Overview         string    `json:"overview,omitempty"`
	PosterPath       string    `json:"poster_path,omitempty"`
	BackdropPath     string    `json:"backdrop_path,omitempty"`
	ReleaseDate      string    `json:"release_date,omitempty"`
	VoteAverage      float64   `json:"vote_average"`
	GenreIDs         []int     `json:"genre_ids,omitempty"`
	MediaType        MediaType `json:"media_type"`
	OriginalLanguage string    `json:"original_language,omitempty"`

	Director string   `json:"director,omitempty"`
	Cast     []string `json:"cast,omitempty"`
	Genres   []Genre  `json:"genres,omitempty"`
	Runtime  int      `json:"runtime,omitempty"`

	// UserRating is the signed-in user's personal score, 0 when unrated.
	UserRating int `json:"userRating,omitempty"`
}

func (i Item) hasGenre(id int) bool {
	for _, g := range i.GenreIDs {
		if g == id {
			return true
		}
	}
	return false
}

// isAnime matches TMDB's animation genre with Japanese original language.
func (i Item) isAnime() bool {
	return i.hasGenre(animationGenreID) && i.OriginalLanguage == "ja"
}

// rawResult covers both movie and tv payloads.
type rawResult struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title"`
	Name             string  `json:"name"`
	Overview         string  `json:"overview"`
	PosterPath       string  `json:"poster_path"`
	BackdropPath     string  `json:"backdrop_path"`
	ReleaseDate      string  `json:"release_date"`
	FirstAirDate     string  `json:"first_air_date"`
	VoteAverage      float64 `json:"vote_average"`
	GenreIDs         []int   `json:"genre_ids"`
	OriginalLanguage string  `json:"original_language"`

	Genres         []Genre `json:"genres"`
	Runtime        int     `json:"runtime"`
	EpisodeRunTime []int   `json:"episode_run_time"`
	Credits        *struct {
		Cast []struct {
			Name string `json:"name"`
		} `json:"cast"`
		Crew []struct {
			Name string `json:"name"`
			Job  string `json:"job"`
		} `json:"crew"`
	} `json:"credits"`
}

type rawPage struct {
	Page    int         `json:"page"`
	Results []rawResult `json:"results"`
}

func (r rawResult) normalize() Item {
	item := Item{
		ID:               r.ID,
		Title:            r.Title,
		Overview:         r.Overview,
		PosterPath:       r.PosterPath,
		BackdropPath:     r.BackdropPath,
		ReleaseDate:      r.ReleaseDate,
		VoteAverage:      r.VoteAverage,
		GenreIDs:         r.GenreIDs,
		MediaType:        Movie,
		OriginalLanguage: r.OriginalLanguage,
	}

	// TV payloads use name and first_air_date.
	if r.Title == "" {
		item.Title = r.Name
		item.ReleaseDate = r.FirstAirDate
		item.MediaType = TV
	}

	return item
}

func normalizeAll(results []rawResult) []Item {
	items := make([]Item, 0, len(results))
	for _, r := range results {
		items = append(items, r.normalize())
	}
	return items
}
