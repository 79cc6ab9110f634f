// Package ingest loads a site's pages into its Pages store: fetch, strip
// boilerplate, scrub PII, chunk and upsert. It backs the optional
// auto-ingest provisioning step; full crawling is out of scope, callers
// pass the URLs to load.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/security"
	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore"
)

// chunkNamespace seeds deterministic chunk IDs so re-ingesting a page
// replaces its chunks instead of duplicating them.
var chunkNamespace = uuid.MustParse("b8a4f0de-3c21-4e7a-9d55-1f6e2c8a7b93")

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 10
	maxPageBytes        = 5 << 20
)

// Fetcher retrieves a page's HTML.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// Gate is the security surface ingestion goes through.
type Gate interface {
	CheckDomain(ctx context.Context, siteID, domain string) (*security.Verdict, error)
	Scrub(ctx context.Context, siteID, text string) (*security.ScrubResult, error)
}

// HTTPFetcher fetches pages over HTTP.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a fetcher with the given timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, userAgent: "mirroragent-ingest/1.0"}
}

// Fetch implements Fetcher. Non-2xx responses are errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html")
	resp, err := f.client.Do(req)
	if err != nil {
		return "", mirror.Unavailable("fetch "+pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}
	return string(body), nil
}

// PageError records a page that could not be ingested.
type PageError struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Result summarises an ingestion run.
type Result struct {
	Pages      int         `json:"pages"`
	Chunks     int         `json:"chunks"`
	Redactions int         `json:"redactions"`
	Failed     []PageError `json:"failed,omitempty"`
}

// Ingester loads pages into a Pages store.
type Ingester struct {
	fetcher   Fetcher
	vectors   vectorstore.Store
	gate      Gate
	chunkSize int
	overlap   int
	logger    *zap.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithChunking overrides the default 1000-byte chunks with 10 words of overlap.
func WithChunking(size, overlap int) Option {
	return func(i *Ingester) {
		if size > 0 {
			i.chunkSize = size
		}
		if overlap >= 0 {
			i.overlap = overlap
		}
	}
}

// New creates an Ingester.
func New(fetcher Fetcher, vectors vectorstore.Store, gate Gate, logger *zap.Logger, opts ...Option) (*Ingester, error) {
	if fetcher == nil || vectors == nil || gate == nil {
		return nil, errors.New("fetcher, vector store and gate are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	in := &Ingester{
		fetcher:   fetcher,
		vectors:   vectors,
		gate:      gate,
		chunkSize: defaultChunkSize,
		overlap:   defaultChunkOverlap,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// Ingest loads urls into collection. Pages that fail are listed in the
// result; an error is returned only when no page could be ingested.
func (i *Ingester) Ingest(ctx context.Context, siteID, collection string, urls []string) (*Result, error) {
	if err := mirror.ValidateSiteID(siteID); err != nil {
		return nil, err
	}
	res := &Result{}
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, redacted, err := i.ingestPage(ctx, siteID, collection, u)
		if err != nil {
			i.logger.Warn("page ingestion failed", zap.String("site_id", siteID), zap.String("url", u), zap.Error(err))
			res.Failed = append(res.Failed, PageError{URL: u, Error: err.Error()})
			continue
		}
		res.Pages++
		res.Chunks += n
		res.Redactions += redacted
	}
	i.logger.Info("ingestion completed",
		zap.String("site_id", siteID),
		zap.Int("pages", res.Pages),
		zap.Int("chunks", res.Chunks),
		zap.Int("failed", len(res.Failed)),
	)
	if res.Pages == 0 && len(urls) > 0 {
		return res, fmt.Errorf("no pages ingested out of %d", len(urls))
	}
	return res, nil
}

func (i *Ingester) ingestPage(ctx context.Context, siteID, collection, pageURL string) (int, int, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" {
		return 0, 0, mirror.NewValidationError("url", pageURL)
	}
	verdict, err := i.gate.CheckDomain(ctx, siteID, parsed.Hostname())
	if err != nil {
		return 0, 0, err
	}
	if !verdict.Allowed {
		return 0, 0, fmt.Errorf("domain %s rejected: %s", parsed.Hostname(), verdict.Reason)
	}

	html, err := i.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return 0, 0, err
	}
	page, err := Extract(pageURL, html)
	if err != nil {
		return 0, 0, err
	}
	if page.Text == "" {
		return 0, 0, errors.New("page has no text content")
	}

	scrubbed, err := i.gate.Scrub(ctx, siteID, page.Text)
	if err != nil {
		return 0, 0, err
	}
	chunks := Chunk(scrubbed.Text, i.chunkSize, i.overlap)

	docs := make([]vectorstore.Document, 0, len(chunks))
	for n, text := range chunks {
		entry := &mirror.KnowledgeEntry{
			ID:        uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", pageURL, n))).String(),
			Text:      text,
			SourceURL: pageURL,
			Metadata: map[string]string{
				mirror.PayloadTitle:  page.Title,
				mirror.PayloadSiteID: siteID,
			},
		}
		docs = append(docs, vectorstore.Document{ID: entry.ID, Content: text, Metadata: entry.Payload()})
	}
	if _, err := i.vectors.Upsert(ctx, collection, docs); err != nil {
		return 0, 0, fmt.Errorf("upsert chunks: %w", err)
	}
	return len(docs), len(scrubbed.Detections), nil
}
