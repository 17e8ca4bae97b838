package mock

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// Completer is a canned implementation of the raw chat completion surface
// the agent drives. It never requests tool calls and answers every turn
// with a fixed response, which keeps the full server runnable without API
// credentials.
type Completer struct {
	Response string
	Calls    int
}

// CreateChatCompletion returns the canned response.
func (c *Completer) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.Calls++
	content := c.Response
	if content == "" {
		content = "这是模拟模式的回复。配置 DASHSCOPE_API_KEY 后可获得真实的安全助手回答。"
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			}},
		},
	}, nil
}
