package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/circuitbreaker"
)

// ErrEmptyCompletion is returned when the model produced no choices.
var ErrEmptyCompletion = errors.New("no choices returned")

// OpenAI generates through the Chat Completions API behind a circuit breaker.
type OpenAI struct {
	client *openai.Client
	cfg    Config
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

// NewOpenAI creates the provider. BaseURL allows compatible endpoints.
func NewOpenAI(cfg Config, logger *zap.Logger) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAI{
		client: &client,
		cfg:    cfg,
		cb:     circuitbreaker.NewRegistered("llm-openai", "llm", cfg.Breaker.WithDefaults(circuitbreaker.DefaultLLMSettings()), logger),
		logger: logger,
	}
}

// Generate implements Provider.
func (o *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	params := o.buildParams(req)
	resp, err := circuitbreaker.Call(ctx, o.cb, func(ctx context.Context) (*openai.ChatCompletion, error) {
		return o.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return Response{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, ErrEmptyCompletion
	}
	return Response{
		Content:  strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:    resp.Model,
		Provider: ProviderOpenAI,
		Tokens:   resp.Usage.TotalTokens,
	}, nil
}

func (o *OpenAI) buildParams(req Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	temperature := o.cfg.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := o.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       o.cfg.Model,
		Temperature: openai.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(maxTokens)
	}
	return params
}
