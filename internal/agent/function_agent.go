package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"

	"ragme/features/document"
)

// DocumentTools is the slice of the document service the agent may
// drive through tool calls.
type DocumentTools interface {
	WriteWebpages(ctx context.Context, urls []string) error
	List(ctx context.Context, limit, offset int) ([]document.Document, error)
	DeleteByURL(ctx context.Context, url string) error
	Count(ctx context.Context) (int, error)
}

type Answerer interface {
	Answer(ctx context.Context, question string, topK int) (Answer, error)
}

// FunctionAgent turns a natural-language instruction into tool calls
// against the document collection. The loop is bounded: a model that
// keeps calling tools without concluding is cut off.
type FunctionAgent struct {
	client   openai.Client
	model    string
	docs     DocumentTools
	query    Answerer
	maxSteps int
}

func NewFunctionAgent(client openai.Client, model string, docs DocumentTools, query Answerer, maxSteps int) *FunctionAgent {
	if maxSteps <= 0 {
		maxSteps = 5
	}
	return &FunctionAgent{client: client, model: model, docs: docs, query: query, maxSteps: maxSteps}
}

func (a *FunctionAgent) Run(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(functionSystemPrompt),
			openai.UserMessage(prompt),
		},
		Tools: toolDefinitions(),
	}

	for step := 0; step < a.maxSteps; step++ {
		res, err := a.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(res.Choices) == 0 {
			return "", fmt.Errorf("empty completion response")
		}

		msg := res.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, call := range msg.ToolCalls {
			slog.InfoContext(ctx, "agent tool call", "tool", call.Function.Name, "step", step)
			out := a.dispatch(ctx, call.Function.Name, call.Function.Arguments)
			params.Messages = append(params.Messages, openai.ToolMessage(out, call.ID))
		}
	}

	return "", fmt.Errorf("agent exceeded %d steps without a final answer", a.maxSteps)
}

// dispatch runs one tool and always returns a JSON string: tool
// failures go back to the model instead of aborting the run.
func (a *FunctionAgent) dispatch(ctx context.Context, name, rawArgs string) string {
	out, err := a.call(ctx, name, rawArgs)
	if err != nil {
		slog.WarnContext(ctx, "tool call failed", "tool", name, "error", err)
		msg, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(msg)
	}
	return out
}

func (a *FunctionAgent) call(ctx context.Context, name, rawArgs string) (string, error) {
	switch name {
	case "write_webpages":
		var args struct {
			URLs []string `json:"urls"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", fmt.Errorf("parse arguments: %w", err)
		}
		if len(args.URLs) == 0 {
			return "", fmt.Errorf("urls must not be empty")
		}
		if err := a.docs.WriteWebpages(ctx, args.URLs); err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"written": %d}`, len(args.URLs)), nil

	case "list_documents":
		var args struct {
			Limit int `json:"limit"`
		}
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return "", fmt.Errorf("parse arguments: %w", err)
			}
		}
		if args.Limit <= 0 {
			args.Limit = 10
		}
		docs, err := a.docs.List(ctx, args.Limit, 0)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(docs)
		if err != nil {
			return "", err
		}
		return string(out), nil

	case "delete_document":
		var args struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", fmt.Errorf("parse arguments: %w", err)
		}
		if args.URL == "" {
			return "", fmt.Errorf("url must not be empty")
		}
		if err := a.docs.DeleteByURL(ctx, args.URL); err != nil {
			return "", err
		}
		return `{"deleted": true}`, nil

	case "count_documents":
		n, err := a.docs.Count(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"count": %d}`, n), nil

	case "answer_query":
		var args struct {
			Question string `json:"question"`
			TopK     int    `json:"top_k"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", fmt.Errorf("parse arguments: %w", err)
		}
		ans, err := a.query.Answer(ctx, args.Question, args.TopK)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(ans)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}

	return "", fmt.Errorf("unknown tool %q", name)
}

func toolDefinitions() []openai.ChatCompletionToolUnionParam {
	return []openai.ChatCompletionToolUnionParam{
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "write_webpages",
			Description: openai.String("Fetch the given webpage URLs and ingest them into the document collection."),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"urls": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Webpage URLs to ingest.",
					},
				},
				"required": []string{"urls"},
			},
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "list_documents",
			Description: openai.String("List ingested documents, newest first."),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of documents to return.",
					},
				},
			},
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "delete_document",
			Description: openai.String("Delete an ingested document and its stored objects by URL."),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"url": map[string]interface{}{
						"type":        "string",
						"description": "URL of the document to delete.",
					},
				},
				"required": []string{"url"},
			},
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "count_documents",
			Description: openai.String("Count the documents currently in the collection."),
			Parameters: openai.FunctionParameters{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "answer_query",
			Description: openai.String("Answer a question using the ingested documents."),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"question": map[string]interface{}{
						"type":        "string",
						"description": "Question to answer.",
					},
					"top_k": map[string]interface{}{
						"type":        "integer",
						"description": "How many documents to retrieve.",
					},
				},
				"required": []string{"question"},
			},
		}),
	}
}
