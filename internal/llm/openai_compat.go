package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICompatibleProvider talks to any /chat/completions endpoint (Perplexity, OpenRouter).
type OpenAICompatibleProvider struct {
	client openai.Client
}

func NewOpenAICompatibleProvider(baseURL, apiKey string, opts ...option.RequestOption) *OpenAICompatibleProvider {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}, opts...)

	return &OpenAICompatibleProvider{client: openai.NewClient(opts...)}
}

// apiStatusError exposes the HTTP status of an openai.Error for classification.
type apiStatusError struct {
	status int
	err    error
}

func (e *apiStatusError) Error() string   { return e.err.Error() }
func (e *apiStatusError) Unwrap() error   { return e.err }
func (e *apiStatusError) HTTPStatus() int { return e.status }

func (p *OpenAICompatibleProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		if msg.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(msg.Content))
		} else {
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &apiStatusError{status: apiErr.StatusCode, err: err}
		}
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in %s response", req.Model)
	}

	return &Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
