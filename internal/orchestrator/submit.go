package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eternisai/saimilar/internal/analyzer"
	"github.com/eternisai/saimilar/internal/harness"
	"github.com/eternisai/saimilar/internal/llm"
	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/media"
)

// Submit runs a fresh query: it checkpoints the current results, appends the
// user turn, analyses the text and replaces the result set.
func (s *Session) Submit(ctx context.Context, text string) (*Outcome, error) {
	return s.submit(ctx, text, false, nil)
}

// LoadMore asks for more results like the previous request and appends the
// unseen ones. It returns ErrBusy while a fresh query is running.
func (s *Session) LoadMore(ctx context.Context) (*Outcome, error) {
	return s.submit(ctx, loadMoreQuery, true, nil)
}

// ApplyFilter submits a suggested filter. Type filters submit their value as
// a fresh query, other filters a localised "applying filter" request. The
// filter is marked selected after the undo checkpoint is taken.
func (s *Session) ApplyFilter(ctx context.Context, filter analyzer.FilterOption) (*Outcome, error) {
	s.mu.Lock()
	lang := s.langLocked()
	s.mu.Unlock()

	if strings.EqualFold(filter.Category, typeCategory) {
		return s.submit(ctx, filter.Value, false, &filter)
	}
	return s.submit(ctx, lang.T(locale.ApplyingFilter)+" "+filter.Label, false, &filter)
}

// markFilterLocked selects the filter on the most recent turn that offered it.
func (s *Session) markFilterLocked(filter analyzer.FilterOption) {
	for i := len(s.conversation) - 1; i >= 0; i-- {
		filters := s.conversation[i].SuggestedFilters
		for j := range filters {
			if filters[j].Category == filter.Category && filters[j].Value == filter.Value {
				updated := append([]analyzer.FilterOption(nil), filters...)
				updated[j].Selected = true
				s.conversation[i].SuggestedFilters = updated
				return
			}
		}
	}
}

// FindSimilar submits a "find similar" request for a known item.
func (s *Session) FindSimilar(ctx context.Context, id int64) (*Outcome, error) {
	s.mu.Lock()
	item, ok := s.findLocked(id)
	lang := s.langLocked()
	s.mu.Unlock()

	if !ok {
		return nil, ErrItemNotFound
	}
	return s.Submit(ctx, fmt.Sprintf("%s: %q", lang.T(locale.FindSimilar), item.Title))
}

func (s *Session) submit(ctx context.Context, text string, refinement bool, filter *analyzer.FilterOption) (out *Outcome, err error) {
	ctx = s.ctx(ctx)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if refinement && s.loading {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	gen := s.beginLocked()

	if !refinement && len(s.results) > 0 {
		s.history = append(s.history, HistoryFrame{
			Results:      cloneItems(s.results),
			Conversation: cloneTurns(s.conversation),
			QueryLabel:   s.lastUserTextLocked(),
			ViewMode:     s.viewMode,
		})
	}
	if filter != nil {
		s.markFilterLocked(*filter)
	}

	s.viewMode = ViewRecommendations
	history := historyMessages(s.conversation)

	if !refinement {
		s.conversation = append(s.conversation, Turn{ID: s.newID(), Role: RoleUser, Text: text})
		s.clearDetailLocked()
	}

	s.typing = true
	s.loading = !refinement
	s.loadingMore = refinement

	query := text
	if refinement && len(s.results) > 0 {
		titles := make([]string, len(s.results))
		for i, item := range s.results {
			titles[i] = item.Title
		}
		query = text + exclusionTemplate + strings.Join(titles, ", ")
	}

	lang := s.langLocked()
	model := s.settings.ActiveModel
	s.startTestRunLocked(text, history, lang)
	s.mu.Unlock()

	defer s.finish(gen)

	// Failures past this point must leave results untouched; fresh queries get
	// one connection error turn.
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithContext(ctx).Error("submission panicked", slog.Any("panic", r))
			err = fmt.Errorf("submission failed: %v", r)
		}
		if err != nil && !errors.Is(err, ErrSuperseded) && !refinement {
			s.appendConnectionError(gen)
		}
	}()

	start := time.Now()
	intent := s.deps.Analyzer.Analyze(ctx, analyzer.Request{
		Query:    query,
		History:  history,
		Language: lang,
		Model:    model,
	})
	elapsed := time.Since(start)
	if intent == nil {
		return nil, fmt.Errorf("analyzer returned no intent")
	}
	s.recordMain(model, text, intent, elapsed)

	if intent.IsFallback {
		if refinement {
			return &Outcome{Intent: intent, Plan: PlanNone}, nil
		}
		items := s.deps.Media.Search(ctx, text, media.Movie, lang)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return s.publish(gen, intent, PlanSearch, media.Movie, items, false)
	}

	if intent.Cause != nil {
		// Analysis failed without a quota signal: a reply, no structured results.
		if refinement {
			return &Outcome{Intent: intent, Plan: PlanNone}, nil
		}
		return s.publish(gen, intent, PlanNone, intent.MediaType, nil, false)
	}

	items, plan, mediaType := s.resolvePlan(ctx, intent, refinement, lang)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.publish(gen, intent, plan, mediaType, items, refinement)
}

// resolvePlan chooses the lookup for an intent in fixed precedence: random
// discovery for a generic fresh query, then recommended titles, then
// similar-to, then filtered discovery.
func (s *Session) resolvePlan(ctx context.Context, intent *analyzer.SearchIntent, refinement bool, lang locale.Language) ([]media.Item, Plan, media.MediaType) {
	mt := intent.MediaType
	if mt == "" {
		mt = media.Movie
	}
	params := intent.SearchParameters

	switch {
	case intent.IsGeneric() && !refinement:
		return s.deps.Media.RandomDiscover(ctx, media.Movie, lang), PlanRandom, media.Movie

	case len(intent.RecommendedTitles) > 0:
		return s.deps.Media.FetchByTitles(ctx, intent.RecommendedTitles, mt, lang), PlanTitles, mt

	case intent.QueryType == analyzer.SpecificFilm && strings.TrimSpace(params.SimilarToTitle) != "":
		if id, ok := s.deps.Media.ResolveID(ctx, params.SimilarToTitle, mt, lang); ok {
			return s.deps.Media.Similar(ctx, id, mt, lang), PlanSimilar, mt
		}
		return s.deps.Media.Search(ctx, params.SimilarToTitle, mt, lang), PlanSearch, mt

	case len(params.Genres) > 0 || len(params.Keywords) > 0:
		return s.deps.Media.Discover(ctx, params.Genres, params.Keywords, mt, lang), PlanDiscover, mt

	default:
		return nil, PlanNone, mt
	}
}

// publish merges fetched items into the session if gen is still current. A
// fresh query replaces the results and appends the assistant reply; a
// refinement appends unseen items only.
func (s *Session) publish(gen uint64, intent *analyzer.SearchIntent, plan Plan, mediaType media.MediaType, items []media.Item, refinement bool) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		s.logger.Debug("discarding superseded results", slog.String("session_id", s.id), slog.String("plan", string(plan)))
		return &Outcome{Intent: intent, Plan: plan}, ErrSuperseded
	}

	items = s.withRatingsLocked(items)
	outcome := &Outcome{Intent: intent, Plan: plan}

	if refinement {
		seen := make(map[int64]struct{}, len(s.results))
		for _, item := range s.results {
			seen[item.ID] = struct{}{}
		}
		for _, item := range items {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			s.results = append(s.results, item)
			outcome.Added++
		}
		return outcome, nil
	}

	s.results = items
	s.mediaType = mediaType
	outcome.Added = len(items)

	filters := make([]analyzer.FilterOption, len(intent.SuggestedFilters))
	for i, f := range intent.SuggestedFilters {
		f.Selected = false
		filters[i] = f
	}
	s.conversation = append(s.conversation, Turn{
		ID:               s.newID(),
		Role:             RoleAssistant,
		Text:             intent.ReplyText,
		SuggestedFilters: filters,
	})
	return outcome, nil
}

// withRatingsLocked copies the user's watched ratings onto fetched items.
func (s *Session) withRatingsLocked(items []media.Item) []media.Item {
	out := make([]media.Item, 0, len(items))
	for _, item := range items {
		if s.overlay != nil {
			if rating := s.overlay.Rating(item.ID); rating > 0 {
				item.UserRating = rating
			}
		}
		out = append(out, item)
	}
	return out
}

func (s *Session) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation == gen {
		s.typing, s.loading, s.loadingMore = false, false, false
	}
}

func (s *Session) appendConnectionError(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return
	}
	s.conversation = append(s.conversation, Turn{
		ID:   s.newID(),
		Role: RoleAssistant,
		Text: s.langLocked().T(locale.ErrorConnection),
	})
}

func (s *Session) lastUserTextLocked() string {
	for i := len(s.conversation) - 1; i >= 0; i-- {
		if s.conversation[i].Role == RoleUser {
			return s.conversation[i].Text
		}
	}
	return ""
}

// Random replaces the results with a random discovery pick.
func (s *Session) Random(ctx context.Context) (*Outcome, error) {
	ctx = s.ctx(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	gen := s.beginLocked()
	if len(s.results) > 0 {
		s.history = append(s.history, HistoryFrame{
			Results:      cloneItems(s.results),
			Conversation: cloneTurns(s.conversation),
			QueryLabel:   randomQueryLabel,
			ViewMode:     s.viewMode,
		})
	}
	s.viewMode = ViewRecommendations
	s.clearDetailLocked()
	s.typing, s.loading = true, true
	lang := s.langLocked()
	s.mu.Unlock()

	defer s.finish(gen)

	items := s.deps.Media.RandomDiscover(ctx, media.Movie, lang)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return &Outcome{Plan: PlanRandom}, ErrSuperseded
	}
	s.results = s.withRatingsLocked(items)
	s.mediaType = media.Movie
	s.conversation = append(s.conversation,
		Turn{ID: s.newID(), Role: RoleUser, Text: lang.T(locale.RandomPick)},
		Turn{ID: s.newID(), Role: RoleAssistant, Text: lang.T(locale.RandomSearch)},
	)
	return &Outcome{Plan: PlanRandom, Added: len(items)}, nil
}

// startTestRunLocked launches the harness in the background when test mode is on.
func (s *Session) startTestRunLocked(text string, history []llm.Message, lang locale.Language) {
	if !s.testMode || len(s.testModels) == 0 || s.deps.Harness == nil {
		return
	}

	job := harness.Job{
		Query:    text,
		History:  history,
		Language: lang,
		Models:   append([]string(nil), s.testModels...),
	}
	runner, log := s.deps.Harness, s.testLog
	s.tasks.Go(func(ctx context.Context) {
		runner.Run(s.ctx(ctx), log, job)
	})
}

// recordMain logs the primary call next to the harness entries.
func (s *Session) recordMain(model, text string, intent *analyzer.SearchIntent, elapsed time.Duration) {
	label := model
	if s.deps.Harness != nil {
		label = s.deps.Harness.Label(model)
	}
	key := intent.ModelKey
	if key == "" {
		key = model
	}
	s.testLog.Record(key, label+harness.MainLabelSuffix, text, intent, elapsed)
}
