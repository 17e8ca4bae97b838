// Package stream paces complete agent answers out as a simulated token
// stream. The agent produces whole responses; this controller retries
// failed invocations, splits the answer into semantic chunks at sentence
// boundaries, and emits them with an adaptive delay so the client sees a
// natural typing rhythm.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/guchanghao1/zhianjian-system/internal/agent"
	"github.com/guchanghao1/zhianjian-system/internal/domain"
	"github.com/guchanghao1/zhianjian-system/internal/metrics"
)

// Default pacing and retry settings.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second
	DefaultMinChunk   = 2
	DefaultMaxChunk   = 8
)

// sentenceBoundary matches runs of sentence-ending punctuation and
// newlines. Each run stays attached to the text before it.
var sentenceBoundary = regexp.MustCompile(`[。！？!?\n]+`)

// Config tunes a Controller. Zero fields get the defaults.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	MinChunk   int
	MaxChunk   int
}

// Controller turns agent invocations into paced chunk streams.
type Controller struct {
	agent      agent.Agent
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
	minChunk   int
	maxChunk   int
}

// New creates a Controller over an Agent.
func New(a agent.Agent, logger *slog.Logger, cfg Config) *Controller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MinChunk <= 0 {
		cfg.MinChunk = DefaultMinChunk
	}
	if cfg.MaxChunk < cfg.MinChunk {
		cfg.MaxChunk = DefaultMaxChunk
	}
	return &Controller{
		agent:      a,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		minChunk:   cfg.MinChunk,
		maxChunk:   cfg.MaxChunk,
	}
}

// Stream invokes the agent and delivers the answer chunk by chunk through
// emit. Transient invocation failures are retried with a fixed delay; the
// last error propagates once retries are exhausted. A failing emit aborts
// the stream immediately.
func (c *Controller) Stream(ctx context.Context, messages []domain.ConversationMessage, emit func(chunk string) error) error {
	response, err := c.invokeWithRetry(ctx, messages)
	if err != nil {
		return err
	}

	chunks := splitSemanticChunks(response, c.minChunk, c.maxChunk)
	delay := pacingDelay(len([]rune(response)))

	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := emit(chunk); err != nil {
			return fmt.Errorf("emit chunk: %w", err)
		}
		metrics.StreamChunks.Inc()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// invokeWithRetry runs the agent, allowing maxRetries additional attempts
// after the first failure.
func (c *Controller) invokeWithRetry(ctx context.Context, messages []domain.ConversationMessage) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.StreamRetries.Inc()
			c.logger.Warn("Retrying agent invocation", "attempt", attempt, "max", c.maxRetries, "error", lastErr)

			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		response, err := c.agent.Invoke(ctx, messages)
		if err == nil {
			return response, nil
		}
		lastErr = err
	}

	c.logger.Error("Agent invocation failed after retries", "error", lastErr)
	return "", lastErr
}

// splitSemanticChunks splits text at sentence boundaries into chunks of
// minSize to maxSize runes, keeping terminating punctuation attached to
// the sentence it ends. Concatenating the chunks reproduces the input
// exactly.
func splitSemanticChunks(text string, minSize, maxSize int) []string {
	if text == "" {
		return nil
	}

	var segments []string
	prev := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		segments = append(segments, text[prev:loc[1]])
		prev = loc[1]
	}
	if prev < len(text) {
		segments = append(segments, text[prev:])
	}

	var chunks []string
	current := ""
	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if runeLen(current)+runeLen(segment) > maxSize && current != "" {
			chunks = append(chunks, current)
			current = segment
		} else {
			current += segment
		}

		if runeLen(current) >= minSize {
			chunks = append(chunks, current)
			current = ""
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// pacingDelay picks the per-chunk delay from the total answer length.
// Short answers stream slower so they feel deliberate; long answers speed
// up to keep total wait reasonable.
func pacingDelay(totalRunes int) time.Duration {
	switch {
	case totalRunes < 50:
		return 80 * time.Millisecond
	case totalRunes < 200:
		return 50 * time.Millisecond
	default:
		return 30 * time.Millisecond
	}
}

func runeLen(s string) int {
	return len([]rune(s))
}
