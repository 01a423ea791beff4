// Package extract turns a stored document into ordered per-page text and
// overlapping chunks. Fetching, parsing and chunking are deterministic so
// that re-ingesting an unchanged document reproduces the same chunk set.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrFetch wraps failures retrieving document bytes from storage.
	ErrFetch = errors.New("fetching document")
	// ErrParse wraps failures decoding a document into page text.
	ErrParse = errors.New("parsing document")
	// ErrTooLarge means the document exceeds the ingestion size cap.
	ErrTooLarge = errors.New("document exceeds size limit")
	// ErrEmptyDocument means no page produced any extractable text.
	ErrEmptyDocument = errors.New("document contains no extractable text")
)

const (
	defaultFetchTimeout = 60 * time.Second

	// maxDocumentBytes caps how much we will download and parse.
	maxDocumentBytes = 50 << 20
)

// Extractor fetches document bytes over HTTP and extracts per-page text.
type Extractor struct {
	http   *http.Client
	logger *slog.Logger
}

// NewExtractor creates an Extractor with a bounded fetch timeout.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		http:   &http.Client{Timeout: defaultFetchTimeout},
		logger: logger,
	}
}

// Pages fetches the document at url and returns its text, one entry per
// page in order. PDF pages that fail individually come back as empty
// strings; the document as a whole only fails when nothing is extractable.
func (e *Extractor) Pages(ctx context.Context, url, contentType string) ([]string, error) {
	data, err := e.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var pages []string
	switch {
	case strings.Contains(contentType, "pdf"):
		pages, err = e.pdfPages(data)
	case strings.HasPrefix(contentType, "text/"):
		pages = []string{string(data)}
	default:
		// Storage sometimes serves PDFs as octet-stream; sniff the magic.
		if bytes.HasPrefix(data, []byte("%PDF")) {
			pages, err = e.pdfPages(data)
		} else {
			return nil, fmt.Errorf("%w: unsupported content type %q", ErrParse, contentType)
		}
	}
	if err != nil {
		return nil, err
	}

	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return pages, nil
		}
	}
	return nil, ErrEmptyDocument
}

func (e *Extractor) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d from %s", ErrFetch, resp.StatusCode, url)
	}
	if resp.ContentLength > maxDocumentBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrFetch, err)
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxDocumentBytes)
	}
	return data, nil
}

// pdfPages extracts plain text per page. The pdf package panics on some
// malformed files, so decoding runs behind a recover.
func (e *Extractor) pdfPages(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: %v", ErrParse, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	total := reader.NumPage()
	pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// One broken page must not sink the document.
			e.logger.Warn("skipping unparseable page", "page", i, "error", err)
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}
