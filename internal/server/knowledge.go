package server

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/guchanghao1/zhianjian-system/internal/knowledge"
)

var allowedDocumentExts = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
}

// handleAddDocuments ingests an uploaded regulation document into the
// knowledge base.
func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "缺少 file 文件字段")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedDocumentExts[ext] {
		s.writeError(w, http.StatusBadRequest, "不支持的文档类型，仅支持 .pdf、.docx 和 .txt")
		return
	}

	// The loader works on files, so stage the upload in a temp location.
	tmp, err := os.CreateTemp("", "knowledge-*"+ext)
	if err != nil {
		s.logger.Error("Temp file creation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "文档处理失败")
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		s.logger.Error("Document staging failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "文档处理失败")
		return
	}
	tmp.Close()

	count, err := s.knowledge.AddDocuments(r.Context(), knowledge.CollectionName, tmp.Name())
	if err != nil {
		s.logger.Error("Document ingestion failed", "file", header.Filename, "error", err)
		s.writeError(w, http.StatusInternalServerError, "文档入库失败")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"filename":     header.Filename,
		"chunks_added": count,
	})
}

// handleClearKnowledge drops and recreates the knowledge collection.
func (s *Server) handleClearKnowledge(w http.ResponseWriter, r *http.Request) {
	if err := s.knowledge.ClearCollection(r.Context(), knowledge.CollectionName); err != nil {
		if errors.Is(err, knowledge.ErrUnknownCollection) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Knowledge clear failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "知识库清空失败")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleKnowledgeStats reports the knowledge base document count.
func (s *Server) handleKnowledgeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.knowledge.CollectionStats(r.Context())
	if err != nil {
		s.logger.Error("Knowledge stats failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "知识库状态查询失败")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
