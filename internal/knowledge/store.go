package knowledge

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/guchanghao1/zhianjian-system/internal/domain"
)

// Chunk is one piece of a source document staged for insertion into the
// vector store.
type Chunk struct {
	Content    string
	Source     string
	ChunkIndex int
}

// VectorStore abstracts the vector database operations the retriever
// needs. The production implementation talks to Weaviate; tests use an
// in-memory fake.
type VectorStore interface {
	EnsureCollection(ctx context.Context) error
	DropCollection(ctx context.Context) error
	Search(ctx context.Context, query string, k int) ([]domain.RetrievedDocument, error)
	AddChunks(ctx context.Context, chunks []Chunk) error
	Count(ctx context.Context) (int64, error)
}

// WeaviateStore implements VectorStore against a Weaviate instance using
// its text2vec module for embedding.
type WeaviateStore struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateStore connects to a Weaviate instance. className is the
// collection the store is bound to; all operations target it exclusively.
func NewWeaviateStore(host, scheme, className string) (*WeaviateStore, error) {
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   host,
		Scheme: scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateStore{client: client, className: className}, nil
}

// EnsureCollection creates the class if it does not exist yet.
func (s *WeaviateStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().
		WithClassName(s.className).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", s.className, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:       s.className,
		Description: "Construction safety regulation passages",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "chunk_index", DataType: []string{"int"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", s.className, err)
	}
	return nil
}

// DropCollection deletes the class and all of its objects.
func (s *WeaviateStore) DropCollection(ctx context.Context) error {
	if err := s.client.Schema().ClassDeleter().WithClassName(s.className).Do(ctx); err != nil {
		return fmt.Errorf("delete class %s: %w", s.className, err)
	}
	return nil
}

// Search runs a nearText similarity query and returns up to k passages.
func (s *WeaviateStore) Search(ctx context.Context, query string, k int) ([]domain.RetrievedDocument, error) {
	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(
			graphql.Field{Name: "content"},
			graphql.Field{Name: "source"},
			graphql.Field{Name: "chunk_index"},
		).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate query: %s", result.Errors[0].Message)
	}

	return s.parseSearchResult(result.Data), nil
}

func (s *WeaviateStore) parseSearchResult(data map[string]models.JSONObject) []domain.RetrievedDocument {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	objects, ok := get[s.className].([]any)
	if !ok {
		return nil
	}

	docs := make([]domain.RetrievedDocument, 0, len(objects))
	for _, obj := range objects {
		fields, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		content, _ := fields["content"].(string)
		if content == "" {
			continue
		}
		meta := map[string]any{}
		if source, ok := fields["source"].(string); ok {
			meta["source"] = source
		}
		if idx, ok := fields["chunk_index"].(float64); ok {
			meta["chunk_index"] = int(idx)
		}
		docs = append(docs, domain.RetrievedDocument{Content: content, Metadata: meta})
	}
	return docs
}

// AddChunks batch-inserts document chunks into the collection.
func (s *WeaviateStore) AddChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(chunks))
	for _, c := range chunks {
		objects = append(objects, &models.Object{
			Class: s.className,
			Properties: map[string]any{
				"content":     c.Content,
				"source":      c.Source,
				"chunk_index": c.ChunkIndex,
			},
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("batch insert: %w", err)
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch insert: %s", obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Count returns the number of objects in the collection.
func (s *WeaviateStore) Count(ctx context.Context) (int64, error) {
	result, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(graphql.Field{
			Name:   "meta",
			Fields: []graphql.Field{{Name: "count"}},
		}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregate count: %w", err)
	}
	if len(result.Errors) > 0 {
		return 0, fmt.Errorf("aggregate count: %s", result.Errors[0].Message)
	}

	agg, ok := result.Data["Aggregate"].(map[string]any)
	if !ok {
		return 0, nil
	}
	classes, ok := agg[s.className].([]any)
	if !ok || len(classes) == 0 {
		return 0, nil
	}
	fields, ok := classes[0].(map[string]any)
	if !ok {
		return 0, nil
	}
	meta, ok := fields["meta"].(map[string]any)
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int64(count), nil
}
