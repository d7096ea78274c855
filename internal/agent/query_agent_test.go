package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ragme/internal/retrieval"
)

type MockRetriever struct{ mock.Mock }

func (m *MockRetriever) Search(ctx context.Context, query string, opts *retrieval.SearchOptions) ([]retrieval.SearchResult, error) {
	args := m.Called(ctx, query, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.SearchResult), args.Error(1)
}

func TestQueryAgent_Answer(t *testing.T) {
	var captured map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(contentResponse("Go is a compiled language.")))
	}))
	defer ts.Close()

	retriever := new(MockRetriever)
	retriever.On("Search", mock.Anything, "what is go", mock.MatchedBy(func(opts *retrieval.SearchOptions) bool {
		return opts != nil && opts.Limit != nil && *opts.Limit == 2
	})).Return([]retrieval.SearchResult{
		{URL: "http://a", Text: "Go is a compiled language from Google.", Score: 0.9},
		{URL: "http://b", Text: "Gophers love Go.", Score: 0.4},
	}, nil)

	a := NewQueryAgent(testClient(ts), "gpt-4o-mini", retriever, 5)

	ans, err := a.Answer(context.Background(), "what is go", 2)
	require.NoError(t, err)
	assert.Equal(t, "Go is a compiled language.", ans.Text)
	require.Len(t, ans.Sources, 2)
	assert.Equal(t, "http://a", ans.Sources[0].URL)
	assert.Equal(t, float32(0.9), ans.Sources[0].Score)

	// The prompt must carry both the retrieved text and the question.
	msgs := captured["messages"].([]interface{})
	user := msgs[len(msgs)-1].(map[string]interface{})
	assert.Contains(t, user["content"], "http://a")
	assert.Contains(t, user["content"], "Go is a compiled language from Google.")
	assert.Contains(t, user["content"], "what is go")
}

func TestQueryAgent_Answer_CapsSources(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(contentResponse("ok")))
	}))
	defer ts.Close()

	retriever := new(MockRetriever)
	retriever.On("Search", mock.Anything, "q", mock.Anything).Return([]retrieval.SearchResult{
		{URL: "http://1"}, {URL: "http://2"}, {URL: "http://3"},
	}, nil)

	a := NewQueryAgent(testClient(ts), "gpt-4o-mini", retriever, 2)

	ans, err := a.Answer(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Len(t, ans.Sources, 2)
}

func TestQueryAgent_Answer_NoResults(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer ts.Close()

	retriever := new(MockRetriever)
	retriever.On("Search", mock.Anything, "q", mock.Anything).Return([]retrieval.SearchResult{}, nil)

	a := NewQueryAgent(testClient(ts), "gpt-4o-mini", retriever, 5)

	ans, err := a.Answer(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Contains(t, ans.Text, "do not know")
	assert.Empty(t, ans.Sources)
	assert.Equal(t, 0, calls, "no completion should run without context")
}

func TestQueryAgent_Answer_RetrieverError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	retriever := new(MockRetriever)
	retriever.On("Search", mock.Anything, "q", mock.Anything).Return(nil, errors.New("weaviate down"))

	a := NewQueryAgent(testClient(ts), "gpt-4o-mini", retriever, 5)

	_, err := a.Answer(context.Background(), "q", 0)
	assert.ErrorContains(t, err, "retrieve context")
}
