package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/guchanghao1/zhianjian-system/internal/domain"
	"github.com/guchanghao1/zhianjian-system/internal/knowledge"
	"github.com/guchanghao1/zhianjian-system/internal/storage"
)

type fakeStreamer struct {
	chunks   []string
	err      error
	messages []domain.ConversationMessage
}

func (f *fakeStreamer) Stream(ctx context.Context, messages []domain.ConversationMessage, emit func(chunk string) error) error {
	f.messages = messages
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		if err := emit(c); err != nil {
			return err
		}
	}
	return nil
}

type fakeKnowledge struct {
	addCount int
	addErr   error
	clearErr error
	stats    knowledge.Stats
	cleared  bool
}

func (f *fakeKnowledge) AddDocuments(ctx context.Context, collection, path string) (int, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	return f.addCount, nil
}

func (f *fakeKnowledge) ClearCollection(ctx context.Context, collection string) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.cleared = true
	return nil
}

func (f *fakeKnowledge) CollectionStats(ctx context.Context) (knowledge.Stats, error) {
	return f.stats, nil
}

type memoryStorage struct {
	objects map[string][]byte
}

func (m *memoryStorage) Put(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[key] = b
	return nil
}

func (m *memoryStorage) Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), storage.ObjectInfo{Key: key, Size: int64(len(b))}, nil
}

func (m *memoryStorage) Delete(ctx context.Context, key string) error { return nil }

func (m *memoryStorage) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "http://test/" + key, nil
}

func (m *memoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func newTestServer(t *testing.T, streamer *fakeStreamer, km *fakeKnowledge) (*Server, *memoryStorage) {
	t.Helper()
	store := &memoryStorage{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(streamer, km, store, logger, Config{
		UploadDir:    t.TempDir(),
		MaxImageSize: 1024 * 1024,
	})
	return srv, store
}

func serveRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestChatStreamsSSE(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"第一句。", "第二句。"}}
	srv, _ := newTestServer(t, streamer, &fakeKnowledge{})

	body := strings.NewReader(`{"message": "工地安全要注意什么？"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	rec := serveRequest(srv, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	out := rec.Body.String()
	if !strings.Contains(out, `"content":"第一句。"`) {
		t.Errorf("first chunk missing: %q", out)
	}
	if !strings.Contains(out, "event: done") {
		t.Errorf("done event missing: %q", out)
	}

	// The streamer must receive the user message last.
	last := streamer.messages[len(streamer.messages)-1]
	if last.Role != domain.RoleUser || last.Content != "工地安全要注意什么？" {
		t.Errorf("last message = %+v", last)
	}
}

func TestChatIncludesHistory(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"好的。"}}
	srv, _ := newTestServer(t, streamer, &fakeKnowledge{})

	body := strings.NewReader(`{
		"message": "继续",
		"history": [
			{"role": "user", "content": "你好"},
			{"role": "assistant", "content": "你好，有什么可以帮你？"},
			{"role": "system", "content": "should be dropped"}
		]
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	serveRequest(srv, req)

	if len(streamer.messages) != 3 {
		t.Fatalf("messages = %d, want 3 (history without system + new)", len(streamer.messages))
	}
	if streamer.messages[0].Content != "你好" || streamer.messages[1].Role != domain.RoleAssistant {
		t.Errorf("history not preserved: %+v", streamer.messages)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStreamer{}, &fakeKnowledge{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message": "  "}`))
	rec := serveRequest(srv, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatStreamFailureEmitsErrorEvent(t *testing.T) {
	streamer := &fakeStreamer{err: errors.New("agent down")}
	srv, _ := newTestServer(t, streamer, &fakeKnowledge{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message": "你好"}`))
	rec := serveRequest(srv, req)

	if !strings.Contains(rec.Body.String(), "event: error") {
		t.Errorf("error event missing: %q", rec.Body.String())
	}
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestImageUpload(t *testing.T) {
	srv, store := newTestServer(t, &fakeStreamer{}, &fakeKnowledge{})

	body, contentType := multipartBody(t, "image", "site.jpg", []byte("jpeg bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/images", body)
	req.Header.Set("Content-Type", contentType)
	rec := serveRequest(srv, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if len(store.objects) != 1 {
		t.Errorf("object storage received %d objects, want 1", len(store.objects))
	}
}

func TestImageUploadRejectsBadExtension(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStreamer{}, &fakeKnowledge{})

	body, contentType := multipartBody(t, "image", "malware.exe", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/images", body)
	req.Header.Set("Content-Type", contentType)
	rec := serveRequest(srv, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAddDocuments(t *testing.T) {
	km := &fakeKnowledge{addCount: 7}
	srv, _ := newTestServer(t, &fakeStreamer{}, km)

	body, contentType := multipartBody(t, "file", "rules.txt", []byte("安全规范内容"))
	req := httptest.NewRequest(http.MethodPost, "/api/knowledge/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := serveRequest(srv, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"chunks_added":7`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAddDocumentsRejectsUnsupportedType(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStreamer{}, &fakeKnowledge{})

	body, contentType := multipartBody(t, "file", "rules.csv", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/knowledge/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := serveRequest(srv, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestClearKnowledge(t *testing.T) {
	km := &fakeKnowledge{}
	srv, _ := newTestServer(t, &fakeStreamer{}, km)

	req := httptest.NewRequest(http.MethodDelete, "/api/knowledge", nil)
	rec := serveRequest(srv, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !km.cleared {
		t.Error("collection was not cleared")
	}
}

func TestKnowledgeStats(t *testing.T) {
	km := &fakeKnowledge{stats: knowledge.Stats{Collection: knowledge.CollectionName, DocumentCount: 12}}
	srv, _ := newTestServer(t, &fakeStreamer{}, km)

	req := httptest.NewRequest(http.MethodGet, "/api/knowledge/stats", nil)
	rec := serveRequest(srv, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out := rec.Body.String()
	if !strings.Contains(out, `"document_count":12`) || !strings.Contains(out, "SafetySpec") {
		t.Errorf("body = %s", out)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStreamer{}, &fakeKnowledge{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := serveRequest(srv, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}
