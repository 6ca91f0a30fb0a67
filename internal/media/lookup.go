package media

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/logger"
)

const (
	maxResults     = 10
	maxKeywords    = 3
	randomMaxPage  = 20
	detailCastSize = 5
)

// Lookup resolves search plans against TMDB. Every operation returns an empty
// result on failure; errors are logged, never returned.
type Lookup struct {
	client *Client
	logger *logger.Logger

	// randIntN picks the random discovery page and shuffles results.
	randIntN func(n int) int
}

func NewLookup(client *Client, log *logger.Logger) *Lookup {
	return &Lookup{
		client:   client,
		logger:   log.WithComponent("media"),
		randIntN: rand.IntN,
	}
}

func (l *Lookup) get(ctx context.Context, endpoint string, params url.Values, lang locale.Language, out any) bool {
	if params == nil {
		params = url.Values{}
	}
	params.Set("language", lang.TMDB())
	params.Set("include_adult", "false")

	body, err := l.client.Fetch(ctx, endpoint, params)
	if err != nil {
		l.logger.WithContext(ctx).Warn("tmdb request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return false
	}

	if err := json.Unmarshal(body, out); err != nil {
		l.logger.WithContext(ctx).Warn("failed to decode tmdb response",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return false
	}

	return true
}

func (l *Lookup) page(ctx context.Context, endpoint string, params url.Values, lang locale.Language) []Item {
	var page rawPage
	if !l.get(ctx, endpoint, params, lang, &page) {
		return []Item{}
	}
	return normalizeAll(page.Results)
}

func onlyAnime(items []Item) []Item {
	out := items[:0]
	for _, item := range items {
		if item.isAnime() {
			out = append(out, item)
		}
	}
	return out
}

func capResults(items []Item) []Item {
	if len(items) > maxResults {
		return items[:maxResults]
	}
	return items
}

// Search is a text search. Anime searches the tv catalogue and keeps Japanese animation only.
func (l *Lookup) Search(ctx context.Context, query string, mediaType MediaType, lang locale.Language) []Item {
	items := l.page(ctx, "/search/"+mediaType.endpoint(), url.Values{"query": {query}}, lang)
	if mediaType == Anime {
		items = onlyAnime(items)
	}
	return capResults(items)
}

// FetchByTitles resolves each title to its first search match, deduplicated by
// id, in title order.
func (l *Lookup) FetchByTitles(ctx context.Context, titles []string, mediaType MediaType, lang locale.Language) []Item {
	items := make([]Item, 0, len(titles))
	seen := make(map[int64]struct{}, len(titles))

	for _, title := range titles {
		if strings.TrimSpace(title) == "" {
			continue
		}

		matches := l.Search(ctx, title, mediaType, lang)
		if len(matches) == 0 {
			continue
		}

		best := matches[0]
		if _, ok := seen[best.ID]; ok {
			continue
		}
		seen[best.ID] = struct{}{}
		items = append(items, best)
	}

	return items
}

// ResolveID returns the id of the first search match for title.
func (l *Lookup) ResolveID(ctx context.Context, title string, mediaType MediaType, lang locale.Language) (int64, bool) {
	matches := l.Search(ctx, title, mediaType, lang)
	if len(matches) == 0 {
		return 0, false
	}
	return matches[0].ID, true
}

// Similar returns TMDB recommendations for id.
func (l *Lookup) Similar(ctx context.Context, id int64, mediaType MediaType, lang locale.Language) []Item {
	endpoint := "/" + mediaType.endpoint() + "/" + strconv.FormatInt(id, 10) + "/recommendations"
	return capResults(l.page(ctx, endpoint, nil, lang))
}

// Discover is a popularity-sorted filtered discovery. Anime ignores genres and
// filters on animation with Japanese original language.
func (l *Lookup) Discover(ctx context.Context, genres, keywords []string, mediaType MediaType, lang locale.Language) []Item {
	params := url.Values{"sort_by": {"popularity.desc"}}

	var ids []string
	if mediaType == Anime {
		ids = append(ids, strconv.Itoa(animationGenreID))
		params.Set("with_original_language", "ja")
	} else {
		for _, name := range genres {
			if id, ok := GenreID(name); ok {
				ids = append(ids, strconv.Itoa(id))
			}
		}
	}
	if len(ids) > 0 {
		params.Set("with_genres", strings.Join(ids, ","))
	}

	if keywordIDs := l.keywordIDs(ctx, keywords); len(keywordIDs) > 0 {
		params.Set("with_keywords", strings.Join(keywordIDs, "|"))
	}

	return capResults(l.page(ctx, "/discover/"+mediaType.endpoint(), params, lang))
}

// keywordIDs resolves free-text keywords to TMDB keyword ids.
func (l *Lookup) keywordIDs(ctx context.Context, keywords []string) []string {
	var ids []string
	for _, keyword := range keywords {
		if len(ids) == maxKeywords {
			break
		}
		if strings.TrimSpace(keyword) == "" {
			continue
		}

		var page struct {
			Results []struct {
				ID int64 `json:"id"`
			} `json:"results"`
		}
		if l.get(ctx, "/search/keyword", url.Values{"query": {keyword}}, locale.English, &page) && len(page.Results) > 0 {
			ids = append(ids, strconv.FormatInt(page.Results[0].ID, 10))
		}
	}
	return ids
}

// RandomDiscover picks a random popular page of well-rated titles and shuffles it.
func (l *Lookup) RandomDiscover(ctx context.Context, mediaType MediaType, lang locale.Language) []Item {
	params := url.Values{
		"sort_by":          {"popularity.desc"},
		"page":             {strconv.Itoa(l.randIntN(randomMaxPage) + 1)},
		"vote_count.gte":   {"200"},
		"vote_average.gte": {"6"},
	}
	if mediaType == Anime {
		params.Set("with_genres", strconv.Itoa(animationGenreID))
		params.Set("with_original_language", "ja")
	}

	items := l.page(ctx, "/discover/"+mediaType.endpoint(), params, lang)
	if mediaType == Anime {
		items = onlyAnime(items)
	}

	for i := len(items) - 1; i > 0; i-- {
		j := l.randIntN(i + 1)
		items[i], items[j] = items[j], items[i]
	}

	return capResults(items)
}

// Details fetches one title with credits. It returns nil when the title cannot be loaded.
func (l *Lookup) Details(ctx context.Context, id int64, mediaType MediaType, lang locale.Language) *Item {
	var raw rawResult
	endpoint := "/" + mediaType.endpoint() + "/" + strconv.FormatInt(id, 10)
	if !l.get(ctx, endpoint, url.Values{"append_to_response": {"credits"}}, lang, &raw) || raw.ID == 0 {
		return nil
	}

	item := raw.normalize()
	item.Genres = raw.Genres
	item.Runtime = raw.Runtime
	if item.Runtime == 0 && len(raw.EpisodeRunTime) > 0 {
		item.Runtime = raw.EpisodeRunTime[0]
	}

	if raw.Credits != nil {
		for _, member := range raw.Credits.Crew {
			if member.Job == "Director" || member.Job == "Executive Producer" {
				item.Director = member.Name
				break
			}
		}
		for i, member := range raw.Credits.Cast {
			if i == detailCastSize {
				break
			}
			item.Cast = append(item.Cast, member.Name)
		}
	}

	return &item
}
