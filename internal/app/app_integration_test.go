package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragme/features/document"
	"ragme/internal/app"
	"ragme/internal/testutils"
)

// Exercises the wired app over HTTP: synchronous ingestion, registry
// listing, stats, and delete, against real Postgres and Weaviate.
func TestApp_EndToEnd_Ingestion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E integration test")
	}
	testutils.SkipUnlessEnabled(t)

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	ctx := context.Background()

	deps, err := app.Bootstrap(ctx, suite.AppConfig())
	require.NoError(t, err)
	defer deps.Close()

	application := app.New(suite.AppConfig(), deps.DB, deps.Store, deps.NSQProducer)

	pageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>E2E Page</title></head><body><p>End to end ingestion body.</p></body></html>`)
	}))
	defer pageServer.Close()
	pageURL := pageServer.URL + "/e2e"

	// 1. Ingest synchronously over HTTP.
	body, _ := json.Marshal(map[string][]string{"urls": {pageURL}})
	req := httptest.NewRequest("POST", "/api/documents", bytes.NewReader(body))
	w := httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var createResp struct {
		Data []document.Document `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&createResp))
	require.Len(t, createResp.Data, 1)
	assert.Equal(t, pageURL, createResp.Data[0].URL)
	assert.Equal(t, document.StatusCompleted, createResp.Data[0].Status)
	assert.Equal(t, "E2E Page", createResp.Data[0].Title)
	docID := createResp.Data[0].ID

	time.Sleep(1 * time.Second)

	// 2. The registry lists the document.
	req = httptest.NewRequest("GET", "/api/documents", nil)
	w = httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var listResp struct {
		Data []document.Document `json:"data"`
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listResp))
	assert.Equal(t, 1, listResp.Meta.Count)

	// 3. The vector store holds the shaped object.
	objects, err := deps.Store.GetObjectsByURL(ctx, pageURL, 10)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Contains(t, objects[0].Text, "End to end ingestion body")
	assert.Equal(t, fmt.Sprintf(`{"type": "webpage", "url": %q}`, pageURL), objects[0].Metadata)

	// 4. Stats see both sides.
	req = httptest.NewRequest("GET", "/api/stats", nil)
	w = httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var statsResp struct {
		Data struct {
			Documents     int `json:"documents"`
			VectorObjects int `json:"vector_objects"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&statsResp))
	assert.Equal(t, 1, statsResp.Data.Documents)
	assert.Equal(t, 1, statsResp.Data.VectorObjects)

	// 5. Delete removes the registry row and the vectors.
	req = httptest.NewRequest("DELETE", "/api/documents/"+docID, nil)
	w = httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	objects, err = deps.Store.GetObjectsByURL(ctx, pageURL, 10)
	require.NoError(t, err)
	assert.Empty(t, objects)

	req = httptest.NewRequest("GET", "/api/documents", nil)
	w = httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	listResp.Data = nil
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listResp))
	assert.Equal(t, 0, listResp.Meta.Count)
}
