package knowledge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	docx "github.com/fumiama/go-docx"

	"github.com/guchanghao1/zhianjian-system/internal/cache"
	"github.com/guchanghao1/zhianjian-system/internal/domain"
)

type fakeStore struct {
	docs        []domain.RetrievedDocument
	searchErr   error
	searchCalls int
	chunks      []Chunk
	dropped     bool
	ensured     int
	count       int64
}

func (f *fakeStore) EnsureCollection(ctx context.Context) error {
	f.ensured++
	return nil
}

func (f *fakeStore) DropCollection(ctx context.Context) error {
	f.dropped = true
	return nil
}

func (f *fakeStore) Search(ctx context.Context, query string, k int) ([]domain.RetrievedDocument, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.docs) > k {
		return f.docs[:k], nil
	}
	return f.docs, nil
}

func (f *fakeStore) AddChunks(ctx context.Context, chunks []Chunk) error {
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeStore) Count(ctx context.Context) (int64, error) {
	return f.count, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetrieveReturnsDocuments(t *testing.T) {
	store := &fakeStore{docs: []domain.RetrievedDocument{
		{Content: "高处作业必须系安全带", Metadata: map[string]any{"source": "spec.txt"}},
	}}
	r := NewRetriever(store, cache.New(10), testLogger(), Config{})

	docs := r.Retrieve(context.Background(), "高处作业规范")

	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].Content != "高处作业必须系安全带" {
		t.Errorf("content = %q", docs[0].Content)
	}
}

func TestRetrieveCachesPerQuery(t *testing.T) {
	store := &fakeStore{docs: []domain.RetrievedDocument{{Content: "规范条文"}}}
	r := NewRetriever(store, cache.New(10), testLogger(), Config{})

	r.Retrieve(context.Background(), "安全帽")
	r.Retrieve(context.Background(), "安全帽")

	if store.searchCalls != 1 {
		t.Errorf("search called %d times, want 1", store.searchCalls)
	}

	r.Retrieve(context.Background(), "安全带")
	if store.searchCalls != 2 {
		t.Errorf("different query should miss cache, search calls = %d", store.searchCalls)
	}
}

func TestRetrieveDegradesToEmptyWhenStoreUnavailable(t *testing.T) {
	store := &fakeStore{searchErr: errors.New("connection refused")}
	r := NewRetriever(store, cache.New(10), testLogger(), Config{})

	docs := r.Retrieve(context.Background(), "高处作业")

	if docs != nil {
		t.Errorf("expected nil result on store failure, got %d docs", len(docs))
	}
}

func TestRetrieveFailureNotCached(t *testing.T) {
	store := &fakeStore{searchErr: errors.New("connection refused")}
	r := NewRetriever(store, cache.New(10), testLogger(), Config{})

	r.Retrieve(context.Background(), "高处作业")
	store.searchErr = nil
	store.docs = []domain.RetrievedDocument{{Content: "规范条文"}}

	docs := r.Retrieve(context.Background(), "高处作业")
	if len(docs) != 1 {
		t.Errorf("recovered store should serve results, got %d docs", len(docs))
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	store := &fakeStore{}
	r := NewRetriever(store, cache.New(10), testLogger(), Config{})

	if docs := r.Retrieve(context.Background(), "  ​ "); docs != nil {
		t.Errorf("blank query should return nil, got %v", docs)
	}
	if store.searchCalls != 0 {
		t.Errorf("blank query should not reach the store")
	}
}

func TestAddDocumentsSplitsTextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.txt")
	content := strings.Repeat("进入施工现场必须佩戴安全帽。高处作业必须系好安全带。", 40)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	store := &fakeStore{}
	r := NewRetriever(store, cache.New(10), testLogger(), Config{ChunkSize: 200, ChunkOverlap: 20})

	n, err := r.AddDocuments(context.Background(), CollectionName, path)
	if err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	if n < 2 {
		t.Errorf("expected multiple chunks for a long document, got %d", n)
	}
	if len(store.chunks) != n {
		t.Errorf("store received %d chunks, reported %d", len(store.chunks), n)
	}
	for i, c := range store.chunks {
		if c.Source != "rules.txt" {
			t.Errorf("chunk %d source = %q", i, c.Source)
		}
		if c.ChunkIndex != i {
			t.Errorf("chunk index = %d, want %d", c.ChunkIndex, i)
		}
	}
	if store.ensured == 0 {
		t.Error("collection was not ensured before insert")
	}
}

func TestAddDocumentsRejectsUnknownCollection(t *testing.T) {
	r := NewRetriever(&fakeStore{}, cache.New(10), testLogger(), Config{})

	_, err := r.AddDocuments(context.Background(), "OtherCollection", "rules.txt")
	if !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("expected ErrUnknownCollection, got %v", err)
	}
}

func TestAddDocumentsRejectsUnsupportedType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.csv")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRetriever(&fakeStore{}, cache.New(10), testLogger(), Config{})
	_, err := r.AddDocuments(context.Background(), CollectionName, path)
	if err == nil {
		t.Fatal("expected error for unsupported document type")
	}
}

func TestClearCollectionDropsAndRecreates(t *testing.T) {
	store := &fakeStore{docs: []domain.RetrievedDocument{{Content: "规范条文"}}}
	memo := cache.New(10)
	r := NewRetriever(store, memo, testLogger(), Config{})

	r.Retrieve(context.Background(), "安全帽")
	if memo.Size() == 0 {
		t.Fatal("expected a cached retrieval before clearing")
	}

	if err := r.ClearCollection(context.Background(), CollectionName); err != nil {
		t.Fatalf("ClearCollection: %v", err)
	}
	if !store.dropped {
		t.Error("collection was not dropped")
	}
	if store.ensured == 0 {
		t.Error("collection was not recreated")
	}
	if memo.Size() != 0 {
		t.Error("retrieval cache was not invalidated")
	}
}

func TestClearCollectionRejectsUnknownCollection(t *testing.T) {
	r := NewRetriever(&fakeStore{}, cache.New(10), testLogger(), Config{})

	if err := r.ClearCollection(context.Background(), "Docs"); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("expected ErrUnknownCollection, got %v", err)
	}
}

func TestCollectionStats(t *testing.T) {
	store := &fakeStore{count: 42}
	r := NewRetriever(store, cache.New(10), testLogger(), Config{})

	stats, err := r.CollectionStats(context.Background())
	if err != nil {
		t.Fatalf("CollectionStats: %v", err)
	}
	if stats.Collection != CollectionName {
		t.Errorf("collection = %q", stats.Collection)
	}
	if stats.DocumentCount != 42 {
		t.Errorf("count = %d, want 42", stats.DocumentCount)
	}
}

func TestAddDocumentsParsesDocx(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create docx: %v", err)
	}
	doc := docx.New().WithDefaultTheme()
	doc.AddParagraph().AddText("高处作业必须佩戴安全带。")
	doc.AddParagraph().AddText("脚手架搭设应符合规范要求。")
	if _, err := doc.WriteTo(f); err != nil {
		t.Fatalf("write docx: %v", err)
	}
	f.Close()

	store := &fakeStore{}
	r := NewRetriever(store, cache.New(10), testLogger(), Config{})

	n, err := r.AddDocuments(context.Background(), CollectionName, path)
	if err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	if n == 0 {
		t.Fatal("no chunks ingested from docx")
	}

	var all strings.Builder
	for _, c := range store.chunks {
		all.WriteString(c.Content)
		if c.Source != "rules.docx" {
			t.Errorf("chunk source = %q", c.Source)
		}
	}
	if !strings.Contains(all.String(), "安全带") {
		t.Errorf("docx text missing from chunks: %q", all.String())
	}
}
