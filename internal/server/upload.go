package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guchanghao1/zhianjian-system/internal/storage"
)

var allowedUploadExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// handleImageUpload accepts a multipart site photo, persists it to object
// storage, and writes a local copy the analysis tool can reference by
// path.
func (s *Server) handleImageUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.MaxImageSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "上传内容无效")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "缺少 image 文件字段")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedUploadExts[ext] {
		s.writeError(w, http.StatusBadRequest, "不支持的图片格式，仅支持 jpg/jpeg/png")
		return
	}
	if header.Size > s.cfg.MaxImageSize {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("图片大小超出限制（上限 %d 字节）", s.cfg.MaxImageSize))
		return
	}

	// Local copy for path-based analysis.
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.logger.Error("Upload dir creation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "保存图片失败")
		return
	}
	localName := uuid.NewString() + ext
	localPath := filepath.Join(s.cfg.UploadDir, localName)
	dst, err := os.Create(localPath)
	if err != nil {
		s.logger.Error("Upload file creation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "保存图片失败")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(localPath)
		s.logger.Error("Upload write failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "保存图片失败")
		return
	}
	dst.Close()

	// Durable copy in object storage.
	key := storage.UploadKey(header.Filename, time.Now())
	src, err := os.Open(localPath)
	if err == nil {
		defer src.Close()
		if err := s.store.Put(r.Context(), key, src, storage.PutOptions{
			MaxSize: s.cfg.MaxImageSize,
		}); err != nil {
			s.logger.Warn("Object storage upload failed", "key", key, "error", err)
			key = ""
		}
	}

	s.logger.Info("Image uploaded", "path", localPath, "key", key)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"path":        localPath,
		"storage_key": key,
	})
}
