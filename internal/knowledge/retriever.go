// Package knowledge manages the safety regulation knowledge base: loading
// documents into a Weaviate collection and retrieving relevant passages by
// semantic similarity. The system maintains exactly one collection; calls
// naming any other collection are rejected.
package knowledge

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	docx "github.com/fumiama/go-docx"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/guchanghao1/zhianjian-system/internal/cache"
	"github.com/guchanghao1/zhianjian-system/internal/domain"
	"github.com/guchanghao1/zhianjian-system/internal/metrics"
	"github.com/guchanghao1/zhianjian-system/internal/sanitize"
)

// CollectionName is the single knowledge collection the system maintains.
const CollectionName = "SafetySpec"

// ErrUnknownCollection is returned when a caller names a collection other
// than CollectionName.
var ErrUnknownCollection = fmt.Errorf("unknown collection, only %s is supported", CollectionName)

// Stats describes the current state of the knowledge base.
type Stats struct {
	Collection    string `json:"collection"`
	DocumentCount int64  `json:"document_count"`
}

// Retriever provides cached similarity search over the knowledge base and
// document ingestion with chunking.
type Retriever struct {
	store        VectorStore
	cache        *cache.Cache
	logger       *slog.Logger
	k            int
	chunkSize    int
	chunkOverlap int
}

// Config holds retriever tuning knobs.
type Config struct {
	RetrievalK   int
	ChunkSize    int
	ChunkOverlap int
}

// NewRetriever creates a Retriever over store. Zero config fields get the
// standard defaults (k=5, chunks of 400 with overlap 40).
func NewRetriever(store VectorStore, memo *cache.Cache, logger *slog.Logger, cfg Config) *Retriever {
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = 5
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 400
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 40
	}
	return &Retriever{
		store:        store,
		cache:        memo,
		logger:       logger,
		k:            cfg.RetrievalK,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
	}
}

// Retrieve returns up to k passages relevant to query. An unreachable
// vector store degrades to an empty result with a warning instead of an
// error, so the assessment pipeline keeps working without the knowledge
// base. Results are memoized per query.
func (r *Retriever) Retrieve(ctx context.Context, query string) []domain.RetrievedDocument {
	query = sanitize.CleanText(query)
	if query == "" {
		return nil
	}

	cacheKey := fmt.Sprintf("retrieve_%s_%d_%d", CollectionName, r.k, hashQuery(query))
	if cached, ok := r.cache.Get(cacheKey); ok {
		if docs, ok := cached.([]domain.RetrievedDocument); ok {
			return docs
		}
	}

	docs, err := r.store.Search(ctx, query, r.k)
	if err != nil {
		r.logger.Warn("Knowledge retrieval unavailable", "query", query, "error", err)
		metrics.RetrievalQueries.WithLabelValues("error").Inc()
		return nil
	}
	if len(docs) == 0 {
		metrics.RetrievalQueries.WithLabelValues("empty").Inc()
	} else {
		metrics.RetrievalQueries.WithLabelValues("ok").Inc()
	}

	r.cache.Set(cacheKey, docs)
	return docs
}

// AddDocuments loads the file at path, splits it into chunks, and inserts
// them into collection. Only CollectionName is accepted. Supported file
// types are .pdf, .docx and .txt. Returns the number of chunks inserted.
func (r *Retriever) AddDocuments(ctx context.Context, collection, path string) (int, error) {
	if collection != CollectionName {
		return 0, ErrUnknownCollection
	}

	docs, err := r.loadAndSplit(ctx, path)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	if err := r.store.EnsureCollection(ctx); err != nil {
		return 0, err
	}

	source := filepath.Base(path)
	chunks := make([]Chunk, 0, len(docs))
	for i, d := range docs {
		content := sanitize.CleanText(d.PageContent)
		if content == "" {
			continue
		}
		chunks = append(chunks, Chunk{Content: content, Source: source, ChunkIndex: i})
	}

	if err := r.store.AddChunks(ctx, chunks); err != nil {
		return 0, err
	}

	r.logger.Info("Documents ingested", "source", source, "chunks", len(chunks))
	return len(chunks), nil
}

func (r *Retriever) loadAndSplit(ctx context.Context, path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(r.chunkSize),
		textsplitter.WithChunkOverlap(r.chunkOverlap),
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat document: %w", err)
		}
		loader := documentloaders.NewPDF(f, info.Size())
		return loader.LoadAndSplit(ctx, splitter)
	case ".docx":
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat document: %w", err)
		}
		text, err := extractDocxText(f, info.Size())
		if err != nil {
			return nil, fmt.Errorf("parse docx: %w", err)
		}
		loader := documentloaders.NewText(strings.NewReader(text))
		return loader.LoadAndSplit(ctx, splitter)
	case ".txt":
		loader := documentloaders.NewText(f)
		return loader.LoadAndSplit(ctx, splitter)
	default:
		return nil, fmt.Errorf("unsupported document type: %s, only .pdf, .docx and .txt are accepted", filepath.Ext(path))
	}
}

// extractDocxText flattens a docx body into plain text, one line per
// paragraph or table.
func extractDocxText(r io.ReaderAt, size int64) (string, error) {
	doc, err := docx.Parse(r, size)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, item := range doc.Document.Body.Items {
		switch item.(type) {
		case *docx.Paragraph, *docx.Table:
			fmt.Fprintf(&sb, "%v\n", item)
		}
	}
	return sb.String(), nil
}

// ClearCollection drops and recreates the collection, and invalidates the
// retrieval cache.
func (r *Retriever) ClearCollection(ctx context.Context, collection string) error {
	if collection != CollectionName {
		return ErrUnknownCollection
	}

	if err := r.store.DropCollection(ctx); err != nil {
		return err
	}
	if err := r.store.EnsureCollection(ctx); err != nil {
		return err
	}

	r.cache.Clear()
	r.logger.Info("Knowledge collection cleared", "collection", collection)
	return nil
}

// CollectionStats returns the object count of the collection.
func (r *Retriever) CollectionStats(ctx context.Context) (Stats, error) {
	count, err := r.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Collection: CollectionName, DocumentCount: count}, nil
}

func hashQuery(query string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(query))
	return h.Sum64()
}
