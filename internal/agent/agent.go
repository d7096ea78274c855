package agent

// Source points back at an ingested webpage that supported an answer.
type Source struct {
	URL   string  `json:"url"`
	Score float32 `json:"score"`
}

type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

const answerSystemPrompt = `You answer questions using only the provided context from ingested webpages. If the context does not contain the answer, say that you do not know. Keep answers concise.`

const functionSystemPrompt = `You manage a collection of ingested webpages. Use the available tools to ingest, list, delete, count and query documents, then report the outcome of the operations you performed.`
