package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/helixapp/docengine/internal/extract"
	"github.com/helixapp/docengine/internal/graph"
	"github.com/helixapp/docengine/internal/index"
)

// Ingestion result statuses.
const (
	IngestStatusCompleted = "COMPLETED"
	IngestStatusSkipped   = "SKIPPED"
	IngestStatusFailed    = "FAILED"
)

// IngestResult reports one document ingestion.
type IngestResult struct {
	DocumentID       string `json:"documentId"`
	Status           string `json:"status"`
	ChunkCount       int    `json:"chunkCount"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
	Error            string `json:"error,omitempty"`
}

// WorkspaceIngestResult aggregates a bulk ingestion run.
type WorkspaceIngestResult struct {
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Results    []IngestResult `json:"results"`
}

// Ingest fetches, chunks, embeds and indexes one document. The document is
// identified on its own; its tenant comes from the resolved handle, and the
// caller must be able to reach it through any of their workspaces. A
// document that already has chunks is skipped unless forceReprocess is set,
// in which case its chunks are replaced wholesale.
func (e *Engine) Ingest(ctx context.Context, userID, documentID string, forceReprocess bool) (IngestResult, error) {
	started := time.Now()

	doc, err := e.resolveDocument(ctx, userID, documentID)
	if err != nil {
		return IngestResult{}, err
	}
	if doc.ContentType != graph.ContentTypePDF {
		return IngestResult{}, fmt.Errorf("%w: %s", ErrNotIngestable, doc.ContentType)
	}
	tenant := doc.TenantID

	if !forceReprocess {
		n, err := e.indexer.ChunkCount(ctx, tenant, documentID)
		if err != nil {
			return IngestResult{}, fmt.Errorf("checking existing chunks: %w", err)
		}
		if n > 0 {
			e.logger.Debug("document already indexed, skipping",
				"document_id", documentID, "chunks", n)
			return IngestResult{
				DocumentID:       documentID,
				Status:           IngestStatusSkipped,
				ChunkCount:       int(n),
				ProcessingTimeMs: time.Since(started).Milliseconds(),
			}, nil
		}
	}

	pages, err := e.extractor.Pages(ctx, doc.URL, doc.ContentType)
	if err != nil {
		return IngestResult{}, fmt.Errorf("extracting document %s: %w", documentID, err)
	}

	chunks := extract.SplitPages(pages, extract.Options{
		ChunkSize: e.cfg.ChunkSize,
		Overlap:   e.cfg.ChunkOverlap,
	})

	rows := make([]index.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = index.Chunk{
			Content:    c.Content,
			PageNumber: c.PageNumber,
			ChunkIndex: c.ChunkIndex,
			Metadata:   c.Metadata,
		}
	}

	stored, err := e.indexer.ReplaceDocumentChunks(ctx, tenant, doc, rows)
	if err != nil {
		return IngestResult{}, fmt.Errorf("indexing document %s: %w", documentID, err)
	}

	elapsed := time.Since(started)
	e.logger.Info("document ingested",
		"document_id", documentID,
		"tenant_id", tenant,
		"pages", len(pages),
		"chunks", stored,
		"duration_ms", elapsed.Milliseconds(),
	)
	return IngestResult{
		DocumentID:       documentID,
		Status:           IngestStatusCompleted,
		ChunkCount:       stored,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}, nil
}

// IngestWorkspaceDocuments ingests every PDF document reachable from the
// workspace, sequentially. Individual failures are recorded and do not stop
// the run.
func (e *Engine) IngestWorkspaceDocuments(ctx context.Context, userID, workspaceID string, forceReprocess bool) (WorkspaceIngestResult, error) {
	if _, err := e.resolveTenant(ctx, userID, workspaceID); err != nil {
		return WorkspaceIngestResult{}, err
	}

	ids, err := e.resolver.WorkspaceDocuments(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return WorkspaceIngestResult{}, ErrNotFound
		}
		return WorkspaceIngestResult{}, fmt.Errorf("listing workspace documents: %w", err)
	}

	out := WorkspaceIngestResult{Total: len(ids)}
	for _, id := range ids {
		res, err := e.Ingest(ctx, userID, id, forceReprocess)
		if err != nil {
			out.Failed++
			out.Results = append(out.Results, IngestResult{
				DocumentID: id,
				Status:     IngestStatusFailed,
				Error:      err.Error(),
			})
			e.logger.Warn("workspace ingestion: document failed",
				"document_id", id, "error", err)
			continue
		}
		switch res.Status {
		case IngestStatusSkipped:
			out.Skipped++
		default:
			out.Successful++
		}
		out.Results = append(out.Results, res)
	}
	return out, nil
}
