// Package ai defines the provider abstraction for language model calls.
// The pipeline talks to two capabilities: plain chat completion (report
// sections, conversational turns) and vision completion (image analysis).
// Implementations live in subpackages; see dashscope and mock.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ChatModel produces a text completion for a system/user prompt pair.
type ChatModel interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// VisionModel produces a text completion for a prompt plus one image.
type VisionModel interface {
	CompleteVision(ctx context.Context, req VisionRequest) (string, error)
}

// Provider bundles both capabilities. The DashScope provider implements
// it with two model names; the mock implements it with canned responses.
type Provider interface {
	ChatModel
	VisionModel
}

// CompletionRequest contains parameters for a plain chat completion.
type CompletionRequest struct {
	System      string  // System prompt, may be empty
	Prompt      string  // User content
	MaxTokens   int     // 0 means provider default
	Temperature float32 // 0 means provider default
	JSONOutput  bool    // Request a JSON object response when supported
}

// VisionRequest contains parameters for an image analysis completion.
type VisionRequest struct {
	System      string
	Prompt      string
	ImageData   []byte // Raw image bytes, already validated by the caller
	ContentType string // MIME type, e.g. "image/jpeg"
	MaxTokens   int
	Temperature float32
}

// ProviderConfig contains common configuration for providers.
type ProviderConfig struct {
	MaxRetries     int           // Maximum retry attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// Sentinel errors for provider operations.
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIInvalidInput indicates the request content was rejected
	EAIInvalidInput = errors.New("invalid request content")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIEmptyResponse indicates the model returned no usable content
	EAIEmptyResponse = errors.New("ai model returned empty response")
)

// IsRetryable returns true if the error is transient and worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// WrapError wraps an error with context about the AI operation.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}
