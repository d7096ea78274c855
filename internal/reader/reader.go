package reader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ragme/internal/text"
)

// Page is one fetched webpage. URL doubles as the record identifier
// downstream.
type Page struct {
	URL   string
	Title string
	Text  string
}

// WebReader fetches pages over HTTP and extracts their readable text.
// Load is all-or-nothing: one failed URL fails the whole call, since
// callers get a single combined result with no per-item error channel.
type WebReader struct {
	client    *http.Client
	userAgent string
	maxBody   int64
}

func NewWebReader(timeout time.Duration, userAgent string, maxBody int64) *WebReader {
	return &WebReader{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		maxBody:   maxBody,
	}
}

func (r *WebReader) Load(ctx context.Context, urls []string) ([]Page, error) {
	pages := make([]Page, 0, len(urls))
	for _, u := range urls {
		page, err := r.fetch(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", u, err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (r *WebReader) fetch(ctx context.Context, url string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Page{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	extracted, err := text.Extract(io.LimitReader(resp.Body, r.maxBody))
	if err != nil {
		return Page{}, err
	}

	slog.InfoContext(ctx, "page loaded", "url", url, "chars", len(extracted.Text))
	return Page{URL: url, Title: extracted.Title, Text: extracted.Text}, nil
}
