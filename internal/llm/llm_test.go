package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"github.com/eternisai/saimilar/internal/config"
	"github.com/eternisai/saimilar/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError})
}

func testCatalogConfig() *config.CatalogConfig {
	return &config.CatalogConfig{
		DefaultModel:         "sonar",
		AnalyzerDefaultModel: "gemini",
		Providers: []config.ProviderConfig{
			{Name: "perplexity", Kind: config.ProviderKindOpenAICompatible, BaseURL: "https://api.perplexity.ai"},
			{Name: "gemini", Kind: config.ProviderKindGemini},
		},
		Models: []config.ModelConfig{
			{Key: "sonar", Provider: "perplexity", InputCostPerMillion: 1, OutputCostPerMillion: 1},
			{Key: "gpt4", Provider: "perplexity", Model: "sonar-pro", DisplayName: "GPT-5.1 (via Sonar Pro)", InputCostPerMillion: 3, OutputCostPerMillion: 15, MaxTokens: 3000},
			{Key: "gemini", Aliases: []string{"gemini-2.5-flash"}, Provider: "gemini", Model: "gemini-2.5-flash", InputCostPerMillion: 0.075, OutputCostPerMillion: 0.30},
		},
	}
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := NewCatalog(testCatalogConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return catalog
}

// providerEmulator records requests and replays a canned completion or error.
type providerEmulator struct {
	completion *Completion
	err        error
	requests   []CompletionRequest
}

func (p *providerEmulator) Complete(_ context.Context, req CompletionRequest) (*Completion, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return p.completion, p.err
	}
	return p.completion, nil
}

type statusError struct{ status int }

func (e statusError) Error() string   { return fmt.Sprintf("upstream status %d", e.status) }
func (e statusError) HTTPStatus() int { return e.status }

func TestSanitize(t *testing.T) {
	sys := Message{Role: RoleSystem, Content: "sys"}

	tests := []struct {
		name string
		in   []Message
		want []Message
	}{
		{
			name: "coalesces consecutive user messages",
			in: []Message{
				{Role: RoleUser, Content: "a"},
				{Role: RoleUser, Content: "b"},
				{Role: RoleAssistant, Content: "c"},
			},
			want: []Message{
				{Role: RoleUser, Content: "a\n\nb"},
				{Role: RoleAssistant, Content: "c"},
			},
		},
		{
			name: "leading assistant only",
			in:   []Message{{Role: RoleAssistant, Content: "hello"}},
			want: []Message{},
		},
		{
			name: "leading assistant only keeps system",
			in:   []Message{sys, {Role: RoleAssistant, Content: "hello"}},
			want: []Message{sys},
		},
		{
			name: "system moved first and not coalesced",
			in: []Message{
				{Role: RoleUser, Content: "q"},
				sys,
				{Role: RoleSystem, Content: "second"},
				{Role: RoleUser, Content: "q2"},
			},
			want: []Message{sys, {Role: RoleUser, Content: "q\n\nq2"}},
		},
		{
			name: "blank messages dropped",
			in: []Message{
				{Role: RoleUser, Content: "q"},
				{Role: RoleAssistant, Content: "  "},
				{Role: RoleUser, Content: "r"},
			},
			want: []Message{{Role: RoleUser, Content: "q\n\nr"}},
		},
		{
			name: "several leading assistants keep system only",
			in: []Message{
				sys,
				{Role: RoleAssistant, Content: "a1"},
				{Role: RoleAssistant, Content: "a2"},
			},
			want: []Message{sys},
		},
		{
			name: "several leading assistants before user",
			in: []Message{
				{Role: RoleAssistant, Content: "a1"},
				{Role: RoleAssistant, Content: "a2"},
				{Role: RoleUser, Content: "u"},
			},
			want: []Message{{Role: RoleUser, Content: "u"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Sanitize() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestSanitizeDoesNotModifyInput(t *testing.T) {
	in := []Message{{Role: RoleUser, Content: "a"}, {Role: RoleUser, Content: "b"}}
	Sanitize(in)
	if in[0].Content != "a" || in[1].Content != "b" {
		t.Errorf("input modified: %#v", in)
	}
}

func TestCleanResponseText(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantJSON bool
		want     string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", true, `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", true, `{"a":1}`},
		{"prose around braces", "Sure! {\"a\":{\"b\":2}} hope it helps", true, `{"a":{"b":2}}`},
		{"prose kept without json", "Sure! {x} ok", false, "Sure! {x} ok"},
		{"no braces", "plain", true, "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanResponseText(tt.in, tt.wantJSON); got != tt.want {
				t.Errorf("CleanResponseText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModelCost(t *testing.T) {
	model := Model{InputCostPerMillion: 3, OutputCostPerMillion: 15}
	if got := model.Cost(1_000_000, 1_000_000); got != 18.00 {
		t.Errorf("Cost() = %v, want 18.00", got)
	}
	if got := model.Cost(0, 0); got != 0 {
		t.Errorf("Cost(0, 0) = %v, want 0", got)
	}
}

func TestCatalogLookup(t *testing.T) {
	catalog := testCatalog(t)

	tests := []struct {
		key  string
		want string
	}{
		{"gpt4", "gpt4"},
		{" GPT4 ", "gpt4"},
		{"gemini-2.5-flash", "gemini"},
		{"unknown", "sonar"},
		{"", "sonar"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := catalog.Lookup(tt.key).Key; got != tt.want {
				t.Errorf("Lookup(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}

	if _, ok := catalog.Resolve("unknown"); ok {
		t.Error("Resolve(unknown) reported a match")
	}
	if got := catalog.AnalyzerDefault().Key; got != "gemini" {
		t.Errorf("AnalyzerDefault() = %q, want gemini", got)
	}
	if got := catalog.Lookup("sonar").WireModel; got != "sonar" {
		t.Errorf("WireModel defaults to key, got %q", got)
	}
}

func TestAdapterInvoke(t *testing.T) {
	provider := &providerEmulator{completion: &Completion{
		Text:         "```json\n{\"ok\": true}\n```",
		InputTokens:  1_000_000,
		OutputTokens: 1_000_000,
	}}
	usage := NewUsageLog(10)
	adapter := NewAdapter(testCatalog(t), Registry{"perplexity": provider}, usage, testLogger())

	resp, err := adapter.Invoke(context.Background(), Request{
		System: "be helpful",
		Messages: []Message{
			{Role: RoleAssistant, Content: "greeting"},
			{Role: RoleUser, Content: "first"},
			{Role: RoleUser, Content: "second"},
		},
		WantJSON: true,
		ModelKey: "gpt4",
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if resp.Text != `{"ok": true}` {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Usage.CostEstimate != 18.00 {
		t.Errorf("CostEstimate = %v, want 18", resp.Usage.CostEstimate)
	}
	if resp.Usage.TotalTokens != 2_000_000 {
		t.Errorf("TotalTokens = %d", resp.Usage.TotalTokens)
	}
	if resp.Usage.ProviderModel != "GPT-5.1 (via Sonar Pro)" {
		t.Errorf("ProviderModel = %q", resp.Usage.ProviderModel)
	}

	req := provider.requests[0]
	if req.Model != "sonar-pro" || req.System != "be helpful" || req.MaxTokens != 3000 || req.Temperature != 0.7 {
		t.Errorf("unexpected request shaping: %+v", req)
	}
	wantMessages := []Message{{Role: RoleUser, Content: "first\n\nsecond"}}
	if !reflect.DeepEqual(req.Messages, wantMessages) {
		t.Errorf("Messages = %#v", req.Messages)
	}
	if resp.Usage.QueryExcerpt != "first\n\nsecond" {
		t.Errorf("QueryExcerpt = %q", resp.Usage.QueryExcerpt)
	}
	if usage.Len() != 1 {
		t.Errorf("usage log has %d entries, want 1", usage.Len())
	}
}

func TestAdapterParseErrorKeepsUsage(t *testing.T) {
	provider := &providerEmulator{completion: &Completion{Text: "I cannot answer that", InputTokens: 10, OutputTokens: 5}}
	adapter := NewAdapter(testCatalog(t), Registry{"perplexity": provider}, nil, testLogger())

	resp, err := adapter.Invoke(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "q"}},
		WantJSON: true,
		ModelKey: "sonar",
	})

	var parseErr *ResponseParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ResponseParseError, got %v", err)
	}
	if resp == nil || resp.Usage.TotalTokens != 15 {
		t.Fatalf("usage not returned with parse error: %+v", resp)
	}
}

func TestAdapterEmptyCompletionKeepsUsage(t *testing.T) {
	provider := &providerEmulator{
		completion: &Completion{InputTokens: 40, OutputTokens: 2},
		err:        ErrEmptyCompletion,
	}
	usage := NewUsageLog(10)
	adapter := NewAdapter(testCatalog(t), Registry{"gemini": provider}, usage, testLogger())

	resp, err := adapter.Invoke(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "q"}},
		WantJSON: true,
		ModelKey: "gemini",
	})

	var callErr *ProviderCallError
	if !errors.As(err, &callErr) || !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ProviderCallError wrapping ErrEmptyCompletion, got %v", err)
	}
	if resp == nil || resp.Usage.InputTokens != 40 || resp.Usage.OutputTokens != 2 {
		t.Fatalf("usage not returned with empty completion: %+v", resp)
	}
	if resp.Text != "" {
		t.Errorf("Text = %q, want empty", resp.Text)
	}
	if usage.Len() != 1 {
		t.Errorf("usage log has %d entries, want 1", usage.Len())
	}
}

func TestAdapterErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantQuota bool
	}{
		{"status 429", statusError{status: http.StatusTooManyRequests}, true},
		{"resource exhausted", errors.New("Error 429, RESOURCE_EXHAUSTED"), true},
		{"quota text", errors.New("You exceeded your current quota"), true},
		{"server error", statusError{status: http.StatusInternalServerError}, false},
		{"transport", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &providerEmulator{err: tt.err}
			adapter := NewAdapter(testCatalog(t), Registry{"perplexity": provider}, nil, testLogger())

			_, err := adapter.Invoke(context.Background(), Request{
				Messages: []Message{{Role: RoleUser, Content: "q"}},
				ModelKey: "sonar",
			})

			if got := IsQuotaError(err); got != tt.wantQuota {
				t.Errorf("IsQuotaError() = %v, want %v (err %v)", got, tt.wantQuota, err)
			}

			var callErr *ProviderCallError
			if !tt.wantQuota && !errors.As(err, &callErr) {
				t.Errorf("expected ProviderCallError, got %T", err)
			}
		})
	}
}

func TestAdapterProviderNotConfigured(t *testing.T) {
	adapter := NewAdapter(testCatalog(t), Registry{}, nil, testLogger())

	_, err := adapter.Invoke(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "q"}},
		ModelKey: "gemini",
	})
	if !errors.Is(err, ErrProviderNotConfigured) {
		t.Errorf("expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestUsageLogEvictsOldest(t *testing.T) {
	log := NewUsageLog(3)
	for i := 0; i < 5; i++ {
		log.Add(UsageStats{QueryExcerpt: fmt.Sprint(i), TotalTokens: 1, CostEstimate: 0.5})
	}

	entries := log.Entries()
	var got []string
	for _, entry := range entries {
		got = append(got, entry.QueryExcerpt)
	}
	if want := []string{"2", "3", "4"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Entries() = %v, want %v", got, want)
	}

	tokens, cost := log.Totals()
	if tokens != 3 || math.Abs(cost-1.5) > 1e-9 {
		t.Errorf("Totals() = %d, %v", tokens, cost)
	}
}

func TestOpenAICompatibleProvider(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "sonar",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hello"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	provider := NewOpenAICompatibleProvider(server.URL, "secret", option.WithMaxRetries(0))
	completion, err := provider.Complete(context.Background(), CompletionRequest{
		Model:       "sonar",
		System:      "sys",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   3000,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if completion.Text != "hello" || completion.InputTokens != 12 || completion.OutputTokens != 3 {
		t.Errorf("unexpected completion: %+v", completion)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !strings.HasSuffix(gotPath, "/chat/completions") {
		t.Errorf("path = %q", gotPath)
	}
}

func TestOpenAICompatibleProviderQuotaStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit"}}`))
	}))
	defer server.Close()

	provider := NewOpenAICompatibleProvider(server.URL, "secret", option.WithMaxRetries(0))
	_, err := provider.Complete(context.Background(), CompletionRequest{
		Model:    "sonar",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})

	var coder StatusCoder
	if !errors.As(err, &coder) || coder.HTTPStatus() != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %v", err)
	}
	if !hasQuotaSignature(err, coder.HTTPStatus()) {
		t.Error("429 not classified as quota")
	}
}

func newTestGeminiProvider(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      "secret",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: server.URL},
	})
	if err != nil {
		t.Fatalf("genai.NewClient: %v", err)
	}
	return &GeminiProvider{client: client}
}

func TestGeminiProviderEmptyAnswerKeepsUsage(t *testing.T) {
	provider := newTestGeminiProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": []}, "finishReason": "SAFETY"}],
			"usageMetadata": {"promptTokenCount": 21, "candidatesTokenCount": 0, "totalTokenCount": 21}
		}`))
	})

	completion, err := provider.Complete(context.Background(), CompletionRequest{
		Model:    "gemini-2.5-flash",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
	if completion == nil || completion.InputTokens != 21 {
		t.Fatalf("usage dropped: %+v", completion)
	}
}

func TestGeminiProviderStatusCode(t *testing.T) {
	provider := newTestGeminiProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"code": 503, "message": "overloaded", "status": "UNAVAILABLE"}}`))
	})

	_, err := provider.Complete(context.Background(), CompletionRequest{
		Model:    "gemini-2.5-flash",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})

	var coder StatusCoder
	if !errors.As(err, &coder) || coder.HTTPStatus() != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %v", err)
	}

	classified := classifyProviderError(Model{Key: "gemini", Provider: "gemini"}, err)
	var callErr *ProviderCallError
	if !errors.As(classified, &callErr) || callErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("classified = %v", classified)
	}
}
