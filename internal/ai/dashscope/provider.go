// Package dashscope implements the ai.Provider interface against the
// DashScope OpenAI-compatible endpoint using the go-openai client. The
// same provider serves plain chat completions (qwen3-max family) and
// vision completions (qwen-vl family) with separate model names.
package dashscope

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/guchanghao1/zhianjian-system/internal/ai"
	"github.com/guchanghao1/zhianjian-system/internal/metrics"
)

const (
	// DefaultChatModel is used when no chat model is configured.
	DefaultChatModel = "qwen3-max-2025-09-23"

	// DefaultVisionModel is used when no vision model is configured.
	DefaultVisionModel = "qwen-vl-plus"

	defaultChatMaxTokens   = 3000
	defaultVisionMaxTokens = 2000
	defaultTemperature     = 0.3
)

// Config contains configuration for the DashScope provider.
type Config struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	VisionModel    string
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.Provider over an OpenAI-compatible API.
type Provider struct {
	config Config
	client *openai.Client
	logger *slog.Logger
}

// New creates a new DashScope provider.
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("dashscope API key is required")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("dashscope base URL is required")
	}

	if config.ChatModel == "" {
		config.ChatModel = DefaultChatModel
	}
	if config.VisionModel == "" {
		config.VisionModel = DefaultVisionModel
	}
	if config.ProviderConfig.MaxRetries == 0 {
		config.ProviderConfig.MaxRetries = 3
	}
	if config.ProviderConfig.RetryBaseDelay == 0 {
		config.ProviderConfig.RetryBaseDelay = 1 * time.Second
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 60 * time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Timeout: config.ProviderConfig.RequestTimeout,
	}

	return &Provider{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}, nil
}

// Complete performs a plain chat completion.
func (p *Provider) Complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	apiReq := openai.ChatCompletionRequest{
		Model:       p.config.ChatModel,
		Messages:    messages,
		MaxTokens:   orDefault(req.MaxTokens, defaultChatMaxTokens),
		Temperature: orDefaultTemp(req.Temperature),
	}
	if req.JSONOutput {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	content, err := p.executeWithRetry(ctx, "chat", apiReq)
	if err != nil {
		return "", ai.WrapError("complete", err)
	}
	return content, nil
}

// CompleteVision performs an image analysis completion. The image is sent
// inline as a base64 data URL, matching the OpenAI-compatible wire format.
func (p *Provider) CompleteVision(ctx context.Context, req ai.VisionRequest) (string, error) {
	if len(req.ImageData) == 0 {
		return "", ai.WrapError("complete vision", ai.EAIInvalidInput)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s",
		req.ContentType, base64.StdEncoding.EncodeToString(req.ImageData))

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				},
			},
			{
				Type: openai.ChatMessagePartTypeText,
				Text: req.Prompt,
			},
		},
	})

	apiReq := openai.ChatCompletionRequest{
		Model:       p.config.VisionModel,
		Messages:    messages,
		MaxTokens:   orDefault(req.MaxTokens, defaultVisionMaxTokens),
		Temperature: orDefaultTemp(req.Temperature),
	}

	content, err := p.executeWithRetry(ctx, "vision", apiReq)
	if err != nil {
		return "", ai.WrapError("complete vision", err)
	}
	return content, nil
}

// executeWithRetry runs a chat completion with exponential backoff on
// transient errors. Non-retryable errors return immediately.
func (p *Provider) executeWithRetry(ctx context.Context, kind string, req openai.ChatCompletionRequest) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.ProviderConfig.MaxRetries; attempt++ {
		content, err := p.execute(ctx, req)
		if err == nil {
			metrics.ModelCalls.WithLabelValues(kind, "ok").Inc()
			return content, nil
		}
		metrics.ModelCalls.WithLabelValues(kind, "error").Inc()
		lastErr = err

		if !ai.IsRetryable(err) {
			return "", err
		}
		if attempt >= p.config.ProviderConfig.MaxRetries {
			break
		}

		delay := p.config.ProviderConfig.RetryBaseDelay * time.Duration(1<<(attempt-1))
		p.logger.Info("Retrying AI request", "kind", kind, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", lastErr
}

// execute runs a single completion call and maps transport errors to the
// package sentinel errors.
func (p *Provider) execute(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", p.mapError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ai.EAIEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// mapError converts go-openai errors into the package sentinel errors.
func (p *Provider) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ai.EAIUnauthorized
		case http.StatusTooManyRequests:
			return ai.EAIRateLimit
		case http.StatusRequestTimeout:
			return ai.EAITimeout
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", ai.EAIInvalidInput, apiErr.Message)
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return ai.EAIUnavailable
		default:
			return fmt.Errorf("api error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ai.EAITimeout
	}
	// Network-level failures are typically transient.
	return ai.EAIUnavailable
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func orDefaultTemp(v float32) float32 {
	if v > 0 {
		return v
	}
	return defaultTemperature
}
