// Package server exposes the assessment pipeline over HTTP: a streaming
// chat endpoint, image upload, and knowledge base management.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/guchanghao1/zhianjian-system/internal/domain"
	"github.com/guchanghao1/zhianjian-system/internal/knowledge"
	"github.com/guchanghao1/zhianjian-system/internal/storage"
)

// Streamer delivers one paced agent answer chunk by chunk.
type Streamer interface {
	Stream(ctx context.Context, messages []domain.ConversationMessage, emit func(chunk string) error) error
}

// KnowledgeManager is the knowledge base surface the server exposes.
type KnowledgeManager interface {
	AddDocuments(ctx context.Context, collection, path string) (int, error)
	ClearCollection(ctx context.Context, collection string) error
	CollectionStats(ctx context.Context) (knowledge.Stats, error)
}

// Config carries the server's request handling limits and paths.
type Config struct {
	UploadDir    string
	MaxImageSize int64
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	streamer  Streamer
	knowledge KnowledgeManager
	store     storage.Storage
	logger    *slog.Logger
	cfg       Config
}

// New creates a Server.
func New(streamer Streamer, km KnowledgeManager, store storage.Storage, logger *slog.Logger, cfg Config) *Server {
	return &Server{
		streamer:  streamer,
		knowledge: km,
		store:     store,
		logger:    logger,
		cfg:       cfg,
	}
}

// RegisterRoutes attaches all API routes to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/images", s.handleImageUpload)
	mux.HandleFunc("POST /api/knowledge/documents", s.handleAddDocuments)
	mux.HandleFunc("DELETE /api/knowledge", s.handleClearKnowledge)
	mux.HandleFunc("GET /api/knowledge/stats", s.handleKnowledgeStats)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// writeJSON serializes v with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encoding failed", "error", err)
	}
}

// writeError sends a JSON error payload.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"success": false, "error": message})
}
