package weaviate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"ragme/features/document"
)

func newMockWeaviateServer(t *testing.T, inspect func(r *http.Request, body map[string]interface{})) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		var body map[string]interface{}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&body)
		}
		inspect(r, body)
		w.WriteHeader(http.StatusOK)
		if r.URL.Path == "/v1/batch/objects" && r.Method == http.MethodPost {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`{"data": {}}`))
	}))
}

func newTestStore(t *testing.T, server *httptest.Server) *Store {
	cfg := weaviate.Config{Host: server.Listener.Addr().String(), Scheme: "http"}
	client, err := weaviate.NewClient(cfg)
	require.NoError(t, err)
	return NewStore(client, "RagMeDocs")
}

func TestStore_ListDocuments_Pagination(t *testing.T) {
	server := newMockWeaviateServer(t, func(r *http.Request, body map[string]interface{}) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		query := body["query"].(string)
		assert.Contains(t, query, "RagMeDocs")
		assert.Contains(t, query, "limit: 10")
		assert.Contains(t, query, "offset: 5")
	})
	defer server.Close()

	store := newTestStore(t, server)

	objects, err := store.ListDocuments(context.Background(), 10, 5)
	assert.NoError(t, err)
	assert.Nil(t, objects)
}

func TestStore_Search_QueryShape(t *testing.T) {
	server := newMockWeaviateServer(t, func(r *http.Request, body map[string]interface{}) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		query := body["query"].(string)
		assert.Contains(t, query, "hybrid")
		assert.Contains(t, query, "alpha: 0.5")
		assert.Contains(t, query, "score")
	})
	defer server.Close()

	store := newTestStore(t, server)

	_, err := store.Search(context.Background(), "what is a database", nil, 0.5, 10)
	assert.NoError(t, err)
}

func TestStore_CountDocuments_QueryShape(t *testing.T) {
	server := newMockWeaviateServer(t, func(r *http.Request, body map[string]interface{}) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		query := body["query"].(string)
		assert.Contains(t, query, "Aggregate")
		assert.Contains(t, query, "RagMeDocs")
		assert.Contains(t, query, "meta")
		assert.Contains(t, query, "count")
	})
	defer server.Close()

	store := newTestStore(t, server)

	count, err := store.CountDocuments(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestObjectBatch_FlushThreshold(t *testing.T) {
	var posts int
	var firstBatchSize int
	server := newMockWeaviateServer(t, func(r *http.Request, body map[string]interface{}) {
		if r.URL.Path != "/v1/batch/objects" {
			return
		}
		posts++
		if posts == 1 {
			firstBatchSize = len(body["objects"].([]interface{}))
		}
	})
	defer server.Close()

	store := newTestStore(t, server)
	batch, err := store.OpenBatch(context.Background())
	require.NoError(t, err)

	for i := 0; i <= flushThreshold; i++ {
		require.NoError(t, batch.Add(context.Background(), document.StorageRecord{URL: "http://x", Text: "t"}))
	}
	assert.Equal(t, 1, posts, "buffer should flush once the threshold is reached")
	assert.Equal(t, flushThreshold, firstBatchSize)

	require.NoError(t, batch.Release(context.Background()))
	assert.Equal(t, 2, posts, "release should flush the remainder")
}
