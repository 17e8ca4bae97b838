package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/guchanghao1/zhianjian-system/internal/domain"
)

// chatRequest is the body of POST /api/chat. History carries the prior
// turns of the conversation; Message is the new user input.
type chatRequest struct {
	Message string `json:"message"`
	History []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history,omitempty"`
}

// handleChat streams the assistant answer over server-sent events. Each
// chunk arrives as a message event; the stream ends with a done event, or
// an error event if the agent failed.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "请求格式无效")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "消息内容不能为空")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "当前连接不支持流式响应")
		return
	}

	messages := make([]domain.ConversationMessage, 0, len(req.History)+1)
	for _, h := range req.History {
		role := domain.Role(h.Role)
		if role != domain.RoleUser && role != domain.RoleAssistant {
			continue
		}
		messages = append(messages, domain.ConversationMessage{
			Role:    role,
			Content: h.Content,
		})
	}
	messages = append(messages, domain.NewUserMessage(req.Message))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := s.streamer.Stream(r.Context(), messages, func(chunk string) error {
		payload, err := json.Marshal(map[string]string{"content": chunk})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		s.logger.Error("Chat stream failed", "error", err)
		payload, _ := json.Marshal(map[string]string{"error": "响应生成失败，请稍后重试"})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
		flusher.Flush()
		return
	}

	fmt.Fprint(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}
