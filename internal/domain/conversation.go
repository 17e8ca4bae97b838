package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one turn in a chat session. The sequence of
// messages per session is append-only and owned by the session layer; the
// pipeline consumes message content as input/output text only.
type ConversationMessage struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	IsComplete bool      `json:"is_complete"`
}

// NewUserMessage builds a complete user message with a fresh ID.
func NewUserMessage(content string) ConversationMessage {
	return ConversationMessage{
		ID:         uuid.NewString(),
		Role:       RoleUser,
		Content:    content,
		Timestamp:  time.Now(),
		IsComplete: true,
	}
}

// NewAssistantMessage builds an assistant message. Streaming callers set
// complete to false until the final chunk has been emitted.
func NewAssistantMessage(content string, complete bool) ConversationMessage {
	return ConversationMessage{
		ID:         uuid.NewString(),
		Role:       RoleAssistant,
		Content:    content,
		Timestamp:  time.Now(),
		IsComplete: complete,
	}
}
