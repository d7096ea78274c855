package weaviate

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"ragme/features/document"
	"ragme/internal/retrieval"
)

// flushThreshold is how many buffered objects trigger an early flush.
// The remainder is flushed on Release.
const flushThreshold = 100

type Store struct {
	client     *weaviate.Client
	collection string
}

func NewStore(client *weaviate.Client, collection string) *Store {
	return &Store{client: client, collection: collection}
}

// OpenBatch starts a buffered write batch against the collection.
// Callers must Release the batch to flush remaining objects.
func (s *Store) OpenBatch(ctx context.Context) (document.Batch, error) {
	return &ObjectBatch{store: s}, nil
}

type ObjectBatch struct {
	store    *Store
	pending  []*models.Object
	released bool
}

func (b *ObjectBatch) Add(ctx context.Context, rec document.StorageRecord) error {
	if b.released {
		return errors.New("batch already released")
	}
	obj := &models.Object{
		Class:      b.store.collection,
		Properties: rec.Properties(),
	}
	if len(rec.Vector) > 0 {
		obj.Vector = rec.Vector
	}
	b.pending = append(b.pending, obj)
	if len(b.pending) >= flushThreshold {
		return b.flush(ctx)
	}
	return nil
}

// Release flushes buffered objects. Calling it again is a no-op.
func (b *ObjectBatch) Release(ctx context.Context) error {
	if b.released {
		return nil
	}
	b.released = true
	return b.flush(ctx)
}

func (b *ObjectBatch) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	objects := b.pending
	b.pending = nil

	resp, err := b.store.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch object rejected: %s", r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// DeleteByURL removes every object stored for the URL and reports how
// many were deleted.
func (s *Store) DeleteByURL(ctx context.Context, url string) (int, error) {
	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.collection).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"url"}).
			WithOperator(filters.Equal).
			WithValueText(url)).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	if resp.Results.Failed > 0 {
		return int(resp.Results.Successful), fmt.Errorf("delete by url: %d objects failed", resp.Results.Failed)
	}
	return int(resp.Results.Successful), nil
}

func (s *Store) GetObjectsByURL(ctx context.Context, url string, limit int) ([]document.StoredObject, error) {
	where := filters.Where().
		WithPath([]string{"url"}).
		WithOperator(filters.Equal).
		WithValueText(url)

	res, err := s.client.GraphQL().Get().
		WithClassName(s.collection).
		WithWhere(where).
		WithLimit(limit).
		WithFields(objectFields()...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}
	return s.decodeObjects(res), nil
}

func (s *Store) ListDocuments(ctx context.Context, limit, offset int) ([]document.StoredObject, error) {
	res, err := s.client.GraphQL().Get().
		WithClassName(s.collection).
		WithLimit(limit).
		WithOffset(offset).
		WithFields(objectFields()...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}
	return s.decodeObjects(res), nil
}

// Search runs a hybrid query over the collection. The vector is
// optional: without it Weaviate vectorizes the query server-side.
func (s *Store) Search(ctx context.Context, query string, vector []float32, alpha float32, limit int) ([]retrieval.SearchResult, error) {
	hybrid := s.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithAlpha(alpha)
	if len(vector) > 0 {
		hybrid = hybrid.WithVector(vector)
	}

	fields := []graphql.Field{
		{Name: "url"},
		{Name: "text"},
		{Name: "metadata"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "score"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.collection).
		WithHybrid(hybrid).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	var results []retrieval.SearchResult
	for _, props := range s.rawObjects(res) {
		result := retrieval.SearchResult{}
		if url, ok := props["url"].(string); ok {
			result.URL = url
		}
		if text, ok := props["text"].(string); ok {
			result.Text = text
		}
		if metadata, ok := props["metadata"].(string); ok {
			result.Metadata = metadata
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			result.Score = parseScore(additional)
		}
		results = append(results, result)
	}
	return results, nil
}

// CountDocuments aggregates the object count of the collection.
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.collection).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	data, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	items, ok := data[s.collection].([]interface{})
	if !ok || len(items) == 0 {
		return 0, nil
	}
	props, ok := items[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := props["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, ok := meta["count"].(float64)
	if !ok {
		return 0, nil
	}
	return int(count), nil
}

func objectFields() []graphql.Field {
	return []graphql.Field{
		{Name: "url"},
		{Name: "text"},
		{Name: "metadata"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}
}

func (s *Store) rawObjects(res *models.GraphQLResponse) []map[string]interface{} {
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	items, ok := data[s.collection].([]interface{})
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	for _, item := range items {
		if props, ok := item.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}

func (s *Store) decodeObjects(res *models.GraphQLResponse) []document.StoredObject {
	var objects []document.StoredObject
	for _, props := range s.rawObjects(res) {
		obj := document.StoredObject{}
		if url, ok := props["url"].(string); ok {
			obj.URL = url
		}
		if text, ok := props["text"].(string); ok {
			obj.Text = text
		}
		if metadata, ok := props["metadata"].(string); ok {
			obj.Metadata = metadata
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				obj.ID = id
			}
		}
		objects = append(objects, obj)
	}
	return objects
}

// parseScore handles both encodings of _additional.score: older
// Weaviate versions return it as a JSON string, newer ones as a number.
func parseScore(additional map[string]interface{}) float32 {
	switch v := additional["score"].(type) {
	case string:
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return 0
		}
		return float32(f)
	case float64:
		return float32(v)
	}
	return 0
}
