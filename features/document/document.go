package document

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"

	"ragme/internal/settings"
)

// Document statuses tracked in the registry.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// PageRecord is one webpage as loaded by the reader. ID is the source
// URL.
type PageRecord struct {
	ID    string
	Title string
	Text  string
}

// StorageRecord is the object written to the vector collection,
// derived 1:1 from a PageRecord. Vector is attached only when a
// client-side embedding provider is selected in settings; otherwise
// the collection's server-side vectorizer embeds on insert.
type StorageRecord struct {
	URL      string
	Text     string
	Metadata string
	Vector   []float32
}

// Properties is the object property map written to the collection.
func (r StorageRecord) Properties() map[string]interface{} {
	return map[string]interface{}{
		"url":      r.URL,
		"text":     r.Text,
		"metadata": r.Metadata,
	}
}

// Shape turns one loaded page into its storage record. The metadata
// string must stay byte-identical to records written by the Python
// ragme client, which serializes with a space after each colon and
// comma; encoding/json emits none, so only the URL value is marshaled
// and spliced into a fixed template.
func Shape(r PageRecord) StorageRecord {
	u, _ := json.Marshal(r.ID)
	return StorageRecord{
		URL:      r.ID,
		Text:     r.Text,
		Metadata: fmt.Sprintf(`{"type": "webpage", "url": %s}`, u),
	}
}

// Document is one registry row, keyed by URL hash. The vector store
// holds the ingested objects; the registry tracks what was attempted
// and when.
type Document struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	URLHash   string `json:"-"`
	Title     string `json:"title,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// StoredObject is one object read back from the vector collection.
type StoredObject struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Text     string `json:"text"`
	Metadata string `json:"metadata"`
}

// PageReader loads webpages. A failure on any URL fails the whole
// call; there is no per-item error channel.
type PageReader interface {
	Load(ctx context.Context, urls []string) ([]PageRecord, error)
}

// Batch is one open write scope on the collection. Release must be
// called exactly once, on every exit path.
type Batch interface {
	Add(ctx context.Context, rec StorageRecord) error
	Release(ctx context.Context) error
}

// DocumentStore is the vector-collection surface the service consumes.
type DocumentStore interface {
	OpenBatch(ctx context.Context) (Batch, error)
	DeleteByURL(ctx context.Context, url string) (int, error)
	GetObjectsByURL(ctx context.Context, url string, limit int) ([]StoredObject, error)
}

// Embedder produces one vector per input text. Only consulted when a
// client-side embedding provider is active.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type Repository interface {
	Upsert(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	GetByURL(ctx context.Context, url string) (*Document, error)
	List(ctx context.Context, limit, offset int) ([]Document, error)
	SoftDelete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type SettingsService interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Service is the ingestion orchestrator. It owns the collection
// access, drives the reader, shapes records, and writes them through
// one batch scope per call.
type Service struct {
	reader   PageReader
	store    DocumentStore
	repo     Repository
	settings SettingsService
	embedder Embedder
}

func NewService(reader PageReader, store DocumentStore, repo Repository, settings SettingsService, embedder Embedder) *Service {
	return &Service{reader: reader, store: store, repo: repo, settings: settings, embedder: embedder}
}

// WriteWebpages loads every URL, shapes the results, and writes them
// to the collection in one batch. The call is all-or-nothing at each
// stage: a reader failure aborts before any write, and a write failure
// surfaces after the batch is released. Records already added before a
// failing one may remain in the store.
func (s *Service) WriteWebpages(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}

	s.track(ctx, urls, StatusPending, "")

	pages, err := s.reader.Load(ctx, urls)
	if err != nil {
		err = fmt.Errorf("fetch webpages: %w", err)
		s.track(ctx, urls, StatusFailed, err.Error())
		return err
	}

	records := make([]StorageRecord, len(pages))
	for i, p := range pages {
		records[i] = Shape(p)
	}

	set := s.currentSettings(ctx)

	if set.DedupOnIngest {
		for _, p := range pages {
			if _, derr := s.store.DeleteByURL(ctx, p.ID); derr != nil {
				err = fmt.Errorf("dedup %s: %w", p.ID, derr)
				s.track(ctx, urls, StatusFailed, err.Error())
				return err
			}
		}
	}

	if set.EmbeddingProvider != settings.ProviderNone {
		if err := s.attachVectors(ctx, records); err != nil {
			s.track(ctx, urls, StatusFailed, err.Error())
			return err
		}
	}

	if err := s.writeAll(ctx, records); err != nil {
		s.track(ctx, urls, StatusFailed, err.Error())
		return err
	}

	s.trackCompleted(ctx, pages)
	slog.InfoContext(ctx, "webpages written", "count", len(records))
	return nil
}

// writeAll adds every record, in order, to one batch scope. The batch
// is released on every exit path; a failed add surfaces after release.
func (s *Service) writeAll(ctx context.Context, records []StorageRecord) (err error) {
	batch, err := s.store.OpenBatch(ctx)
	if err != nil {
		return fmt.Errorf("open batch: %w", err)
	}
	defer func() {
		if rerr := batch.Release(ctx); rerr != nil && err == nil {
			err = fmt.Errorf("release batch: %w", rerr)
		}
	}()

	for _, rec := range records {
		if aerr := batch.Add(ctx, rec); aerr != nil {
			return fmt.Errorf("add record %s: %w", rec.URL, aerr)
		}
	}
	return nil
}

func (s *Service) attachVectors(ctx context.Context, records []StorageRecord) error {
	texts := make([]string, len(records))
	for i := range records {
		texts[i] = records[i].Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed webpages: %w", err)
	}
	if len(vectors) != len(records) {
		return fmt.Errorf("embed webpages: got %d vectors for %d records", len(vectors), len(records))
	}
	for i := range records {
		records[i].Vector = vectors[i]
	}
	return nil
}

func (s *Service) currentSettings(ctx context.Context) *settings.Settings {
	set, err := s.settings.Get(ctx)
	if err != nil || set == nil {
		slog.WarnContext(ctx, "settings unavailable, using defaults", "error", err)
		def := settings.Defaults()
		return &def
	}
	return set
}

// track upserts one registry row per URL. The vector store is the
// source of truth, so registry failures only log.
func (s *Service) track(ctx context.Context, urls []string, status, errMsg string) {
	for _, u := range urls {
		doc := &Document{URL: u, URLHash: HashURL(u), Status: status, Error: errMsg}
		if err := s.repo.Upsert(ctx, doc); err != nil {
			slog.WarnContext(ctx, "failed to record document", "error", err, "url", u)
		}
	}
}

func (s *Service) trackCompleted(ctx context.Context, pages []PageRecord) {
	for _, p := range pages {
		doc := &Document{URL: p.ID, URLHash: HashURL(p.ID), Title: p.Title, Status: StatusCompleted}
		if err := s.repo.Upsert(ctx, doc); err != nil {
			slog.WarnContext(ctx, "failed to record document", "error", err, "url", p.ID)
		}
	}
}

func HashURL(url string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(url)))
}

// Ingest runs WriteWebpages and returns the refreshed registry rows.
func (s *Service) Ingest(ctx context.Context, urls []string) ([]Document, error) {
	if err := s.WriteWebpages(ctx, urls); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(urls))
	for _, u := range urls {
		doc, err := s.repo.GetByURL(ctx, u)
		if err != nil {
			slog.WarnContext(ctx, "ingested document missing from registry", "error", err, "url", u)
			continue
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

type DocumentDetail struct {
	Document
	Objects      []StoredObject `json:"objects"`
	TotalObjects int            `json:"total_objects"`
}

func (s *Service) Get(ctx context.Context, id string, limit int) (*DocumentDetail, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	objs, err := s.store.GetObjectsByURL(ctx, doc.URL, limit)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch stored objects", "error", err, "document_id", id)
		objs = []StoredObject{}
	}

	return &DocumentDetail{Document: *doc, Objects: objs, TotalObjects: len(objs)}, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]Document, error) {
	return s.repo.List(ctx, limit, offset)
}

// Delete removes the stored objects for the document's URL, then
// soft-deletes the registry row.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.store.DeleteByURL(ctx, doc.URL); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, id)
}

// DeleteByURL removes a document addressed by its URL instead of its
// registry id.
func (s *Service) DeleteByURL(ctx context.Context, url string) error {
	doc, err := s.repo.GetByURL(ctx, url)
	if err != nil {
		return fmt.Errorf("find document: %w", err)
	}
	return s.Delete(ctx, doc.ID)
}

// ReSync drops the stored objects for the document's URL and ingests
// it again, which is the explicit overwrite path.
func (s *Service) ReSync(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.store.DeleteByURL(ctx, doc.URL); err != nil {
		return fmt.Errorf("delete objects for %s: %w", doc.URL, err)
	}
	return s.WriteWebpages(ctx, []string{doc.URL})
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
