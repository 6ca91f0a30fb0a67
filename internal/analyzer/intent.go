package analyzer

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/eternisai/saimilar/internal/llm"
	"github.com/eternisai/saimilar/internal/media"
)

// QueryType classifies a request.
type QueryType string

const (
	Descriptive  QueryType = "DESCRIPTIVE"
	SpecificFilm QueryType = "SPECIFIC_FILM"
	General      QueryType = "GENERAL"
)

// parseQueryType accepts the TYPE_n_ prefixed wire form and the bare name.
// Anything unrecognised is GENERAL.
func parseQueryType(s string) QueryType {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.HasSuffix(s, string(Descriptive)):
		return Descriptive
	case strings.HasSuffix(s, string(SpecificFilm)):
		return SpecificFilm
	default:
		return General
	}
}

// FilterOption is a quick-reply chip offered with an assistant turn.
type FilterOption struct {
	Category string `json:"category"`
	Label    string `json:"label"`
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
}

type SearchParameters struct {
	Genres         []string `json:"genres,omitempty"`
	Mood           string   `json:"mood,omitempty"`
	SimilarToTitle string   `json:"similar_to_title,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
}

// SearchIntent is the structured reading of one user request.
type SearchIntent struct {
	QueryType         QueryType        `json:"query_type"`
	MediaType         media.MediaType  `json:"media_type"`
	RecommendedTitles []string         `json:"recommended_titles"`
	SearchParameters  SearchParameters `json:"search_parameters"`
	ReplyText         string           `json:"reply_text"`
	SuggestedFilters  []FilterOption   `json:"suggested_filters"`
	IsFallback        bool             `json:"is_fallback"`
	Usage             *llm.UsageStats  `json:"usage,omitempty"`

	// ModelKey is the catalog key that produced the intent.
	ModelKey string `json:"model_key,omitempty"`

	// Cause is the provider failure behind a degraded intent.
	Cause error `json:"-"`
}

// IsGeneric reports a general request with no title, genre or keyword signal.
func (i *SearchIntent) IsGeneric() bool {
	return i.QueryType == General &&
		len(i.RecommendedTitles) == 0 &&
		len(i.SearchParameters.Genres) == 0 &&
		len(i.SearchParameters.Keywords) == 0
}

// stringList decodes either a JSON string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) != "" {
			*l = stringList{single}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// payload is the model's JSON answer.
type payload struct {
	QueryType         string     `json:"query_type"`
	MediaType         string     `json:"media_type"`
	RecommendedTitles stringList `json:"recommended_titles"`
	SearchParameters  struct {
		Genres         stringList `json:"genres"`
		SimilarToMovie string     `json:"similar_to_movie"`
		Mood           string     `json:"mood"`
		Keywords       stringList `json:"keywords"`
	} `json:"search_parameters"`
	ChatResponse     string         `json:"chat_response"`
	SuggestedFilters []FilterOption `json:"suggested_filters"`
}

func decodeIntent(text string) (*SearchIntent, error) {
	var p payload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, err
	}

	intent := &SearchIntent{
		QueryType:         parseQueryType(p.QueryType),
		MediaType:         media.ParseMediaType(p.MediaType),
		RecommendedTitles: nonBlank(p.RecommendedTitles),
		SearchParameters: SearchParameters{
			Genres:         nonBlank(p.SearchParameters.Genres),
			Mood:           strings.TrimSpace(p.SearchParameters.Mood),
			SimilarToTitle: strings.TrimSpace(p.SearchParameters.SimilarToMovie),
			Keywords:       nonBlank(p.SearchParameters.Keywords),
		},
		ReplyText:        strings.TrimSpace(p.ChatResponse),
		SuggestedFilters: make([]FilterOption, 0, len(p.SuggestedFilters)),
	}

	for _, f := range p.SuggestedFilters {
		if f.Label == "" {
			continue
		}
		f.Selected = false
		intent.SuggestedFilters = append(intent.SuggestedFilters, f)
	}

	return intent, nil
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
