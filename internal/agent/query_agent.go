package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"ragme/internal/retrieval"
)

type Retriever interface {
	Search(ctx context.Context, query string, opts *retrieval.SearchOptions) ([]retrieval.SearchResult, error)
}

// QueryAgent answers questions over the ingested webpages: retrieve
// matching documents, then run one completion over their text.
type QueryAgent struct {
	client     openai.Client
	model      string
	retriever  Retriever
	maxSources int
}

func NewQueryAgent(client openai.Client, model string, retriever Retriever, maxSources int) *QueryAgent {
	return &QueryAgent{client: client, model: model, retriever: retriever, maxSources: maxSources}
}

func (a *QueryAgent) Answer(ctx context.Context, question string, topK int) (Answer, error) {
	opts := &retrieval.SearchOptions{}
	if topK > 0 {
		opts.Limit = &topK
	}
	results, err := a.retriever.Search(ctx, question, opts)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieve context: %w", err)
	}
	if len(results) == 0 {
		return Answer{Text: "I do not know: no ingested document matches the question."}, nil
	}

	var contextBlock strings.Builder
	sources := make([]Source, 0, len(results))
	for i, r := range results {
		if a.maxSources > 0 && i >= a.maxSources {
			break
		}
		fmt.Fprintf(&contextBlock, "Source %d (%s):\n%s\n\n", i+1, r.URL, r.Text)
		sources = append(sources, Source{URL: r.URL, Score: r.Score})
	}

	slog.InfoContext(ctx, "answering question", "sources", len(sources), "model", a.model)

	res, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(answerSystemPrompt),
			openai.UserMessage(fmt.Sprintf("Context:\n%s\nQuestion: %s", contextBlock.String(), question)),
		},
	})
	if err != nil {
		return Answer{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(res.Choices) == 0 {
		return Answer{}, fmt.Errorf("empty completion response")
	}

	return Answer{Text: res.Choices[0].Message.Content, Sources: sources}, nil
}
