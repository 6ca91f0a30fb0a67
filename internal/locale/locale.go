// Package locale holds the handful of user-facing strings the backend emits.
package locale

import "strings"

// Language is a supported interface language.
type Language string

const (
	Russian Language = "ru"
	English Language = "en"

	Default = Russian
)

// Parse maps a language tag to a supported language, defaulting to Russian.
func Parse(tag string) Language {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if strings.HasPrefix(tag, "en") {
		return English
	}
	return Default
}

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	return l == Russian || l == English
}

// TMDB returns the TMDB language parameter.
func (l Language) TMDB() string {
	if l == English {
		return "en-US"
	}
	return "ru-RU"
}

// Key identifies a localised message.
type Key string

const (
	Welcome          Key = "welcome"
	ErrorConnection  Key = "error_connection"
	FreshStart       Key = "fresh_start"
	ApplyingFilter   Key = "applying_filter"
	RandomPick       Key = "random"
	RandomSearch     Key = "random_search"
	FindSimilar      Key = "find_similar"
	QuotaFallback    Key = "quota_fallback"
	AnalysisFailed   Key = "analysis_failed"
	NoSummary        Key = "no_summary"
	TypeMovies       Key = "type_movies"
	TypeTVShows      Key = "type_tv_shows"
	TypeAnime        Key = "type_anime"
	TypeCartoons     Key = "type_cartoons"
	ReplyInstruction Key = "reply_instruction"
	SummaryLanguage  Key = "summary_language"
)

var messages = map[Language]map[Key]string{
	Russian: {
		Welcome:          "Привет! Я SAImilar. Намекните мне, что хотите сегодня посмотреть? Какой сюжет, атмосфера или актер Вас интересует?",
		ErrorConnection:  "Проблемы с подключением. Попробуйте еще раз.",
		FreshStart:       "Начнем сначала! Что хотите посмотреть?",
		ApplyingFilter:   "Применяю фильтр:",
		RandomPick:       "🎲 Случайная подборка",
		RandomSearch:     "Мне повезет!",
		FindSimilar:      "Найти похожие",
		QuotaFallback:    "Мои нейронные сети перегружены (лимит запросов). Я переключился на обычный поиск по названию.",
		AnalysisFailed:   "Произошла ошибка при анализе запроса. Попробуйте переформулировать.",
		NoSummary:        "Описание недоступно.",
		TypeMovies:       "Фильмы",
		TypeTVShows:      "Сериалы",
		TypeAnime:        "Аниме",
		TypeCartoons:     "Мультфильмы",
		ReplyInstruction: "IMPORTANT: The 'chat_response' and 'label' in 'suggested_filters' MUST BE IN RUSSIAN. 'recommended_titles' MUST be in English.",
		SummaryLanguage:  "WRITE THE SUMMARY IN RUSSIAN.",
	},
	English: {
		Welcome:          "Hi! I'm SAImilar. Give me a hint about what you'd like to watch today? What plot, atmosphere, or actor interests you?",
		ErrorConnection:  "Connection trouble. Please try again.",
		FreshStart:       "Fresh start! What are you in the mood for?",
		ApplyingFilter:   "Applying filter:",
		RandomPick:       "🎲 Random pick",
		RandomSearch:     "I'm feeling lucky!",
		FindSimilar:      "Find Similar",
		QuotaFallback:    "My neural networks are overloaded (quota exceeded). I've switched to standard title search.",
		AnalysisFailed:   "An error occurred while analyzing your request. Please try rephrasing.",
		NoSummary:        "No summary available.",
		TypeMovies:       "Movies",
		TypeTVShows:      "TV Shows",
		TypeAnime:        "Anime",
		TypeCartoons:     "Cartoons",
		ReplyInstruction: "IMPORTANT: The 'chat_response' and 'label' in 'suggested_filters' MUST BE IN ENGLISH. 'recommended_titles' MUST be in English.",
		SummaryLanguage:  "WRITE THE SUMMARY IN ENGLISH.",
	},
}

// T returns the message for key in l, falling back to the default language.
func (l Language) T(key Key) string {
	if msg, ok := messages[l][key]; ok {
		return msg
	}
	return messages[Default][key]
}
