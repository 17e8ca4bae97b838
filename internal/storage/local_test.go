package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestLocal(t *testing.T) *LocalStorage {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewLocalStorage(LocalConfig{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/files/",
	}, logger)
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	return s
}

func TestLocalPutGetRoundTrip(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	err := s.Put(ctx, "uploads/2026-01-01/photo.jpg", strings.NewReader("image bytes"), PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, info, err := s.Get(ctx, "uploads/2026-01-01/photo.jpg")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "image bytes" {
		t.Errorf("content = %q", buf.String())
	}
	if info.Size != int64(len("image bytes")) {
		t.Errorf("size = %d", info.Size)
	}
	if info.ContentType != "image/jpeg" {
		t.Errorf("content type = %q", info.ContentType)
	}
}

func TestLocalGetNotFound(t *testing.T) {
	s := newTestLocal(t)

	_, _, err := s.Get(context.Background(), "missing.pdf")
	if !IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalPutNoOverwrite(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	if err := s.Put(ctx, "a.txt", strings.NewReader("one"), PutOptions{}); err != nil {
		t.Fatal(err)
	}
	err := s.Put(ctx, "a.txt", strings.NewReader("two"), PutOptions{})
	if err == nil {
		t.Fatal("expected ErrKeyExists without overwrite")
	}

	if err := s.Put(ctx, "a.txt", strings.NewReader("two"), PutOptions{Overwrite: true}); err != nil {
		t.Errorf("overwrite should succeed: %v", err)
	}
}

func TestLocalPutTooLarge(t *testing.T) {
	s := newTestLocal(t)

	err := s.Put(context.Background(), "big.bin", bytes.NewReader(make([]byte, 100)), PutOptions{MaxSize: 10})
	if !IsTooLarge(err) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}

	// The partial file must not linger.
	exists, _ := s.Exists(context.Background(), "big.bin")
	if exists {
		t.Error("oversized file was not cleaned up")
	}
}

func TestLocalDeleteIdempotent(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	if err := s.Delete(ctx, "never-existed.txt"); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}

	if err := s.Put(ctx, "x.txt", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "x.txt"); err != nil {
		t.Fatal(err)
	}
	exists, err := s.Exists(ctx, "x.txt")
	if err != nil || exists {
		t.Errorf("exists = %v, err = %v", exists, err)
	}
}

func TestLocalRejectsTraversal(t *testing.T) {
	s := newTestLocal(t)

	err := s.Put(context.Background(), "../escape.txt", strings.NewReader("x"), PutOptions{})
	if err == nil {
		t.Fatal("expected ErrInvalidKey for traversal key")
	}

	if _, err := s.URL(context.Background(), "", time.Minute); err == nil {
		t.Error("expected ErrInvalidKey for empty key")
	}
}

func TestLocalURL(t *testing.T) {
	s := newTestLocal(t)

	url, err := s.URL(context.Background(), "reports/REPORT-1.pdf", time.Minute)
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if url != "http://localhost:8080/files/reports/REPORT-1.pdf" {
		t.Errorf("url = %q", url)
	}
}
