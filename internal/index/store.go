// Package index stores and searches embedded document chunks in PostgreSQL
// with pgvector. All rows live in one table; tenant isolation comes from a
// mandatory tenant_id predicate on every query plus a partial HNSW index
// per tenant.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/helixapp/docengine/internal/graph"
)

// Document processing statuses as reported by Statuses.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
)

// Search defaults.
const (
	DefaultTopK     = 5
	DefaultMinScore = 0.7
)

// Embedder generates embedding vectors. EmbedBatch also reports estimated
// token usage per input. Satisfied by provider.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, []int, error)
}

// Chunk is one passage to be indexed.
type Chunk struct {
	Content    string
	PageNumber int
	ChunkIndex int
	Metadata   map[string]string
}

// SearchResult is one authorized similarity hit.
type SearchResult struct {
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName"`
	Content      string  `json:"content"`
	PageNumber   int     `json:"pageNumber"`
	ChunkIndex   int     `json:"chunkIndex"`
	Score        float64 `json:"score"`
}

// DocumentStatus reports a document's indexing state. Chunk storage is
// transactional, so every committed chunk is indexed and the two counts
// match; they are reported separately because callers treat them as
// distinct fields.
type DocumentStatus struct {
	DocumentID    string `json:"documentId"`
	DocumentName  string `json:"documentName"`
	Status        string `json:"status"`
	TotalChunks   int64  `json:"totalChunks"`
	IndexedChunks int64  `json:"indexedChunks"`
}

// SearchOptions tunes a search. Zero values select the defaults.
type SearchOptions struct {
	TopK     int
	MinScore float64
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.MinScore == 0 {
		o.MinScore = DefaultMinScore
	}
	return o
}

// Store manages embedded chunks. Safe for concurrent use.
type Store struct {
	querier  Querier
	pool     *pgxpool.Pool // nil in unit tests; disables transactional replace
	embedder Embedder
	resolver graph.Resolver
	logger   *slog.Logger

	mu      sync.Mutex
	indexed map[string]struct{} // tenants whose vector index is known to exist
}

// New creates a Store. pool may be nil for tests, in which case chunk
// replacement runs without a wrapping transaction.
func New(querier Querier, pool *pgxpool.Pool, embedder Embedder, resolver graph.Resolver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		querier:  querier,
		pool:     pool,
		embedder: embedder,
		resolver: resolver,
		logger:   logger,
		indexed:  make(map[string]struct{}),
	}
}

// EnsureIndex makes sure the tenant's partial HNSW index exists. The result
// is memoized per process; a duplicate index from a concurrent creator
// counts as success.
func (s *Store) EnsureIndex(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	if _, ok := s.indexed[tenantID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	name := tenantIndexName(tenantID)
	if err := s.querier.CreateTenantIndex(ctx, name, tenantID); err != nil {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.DuplicateTable {
			return fmt.Errorf("ensuring index for tenant %s: %w", tenantID, err)
		}
	}

	s.mu.Lock()
	s.indexed[tenantID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// ReplaceDocumentChunks embeds all chunks in one batch and atomically
// replaces the document's rows: existing chunks are deleted and the new set
// inserted in a single transaction. Returns the number of chunks stored.
func (s *Store) ReplaceDocumentChunks(ctx context.Context, tenantID string, doc graph.Document, chunks []Chunk) (int, error) {
	if err := s.EnsureIndex(ctx, tenantID); err != nil {
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	var vectors [][]float32
	if len(texts) > 0 {
		var tokens []int
		var err error
		vectors, tokens, err = s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embedding %d chunks of document %s: %w", len(chunks), doc.ID, err)
		}
		total := 0
		for _, n := range tokens {
			total += n
		}
		s.logger.Debug("embedded document chunks",
			"document_id", doc.ID, "chunks", len(chunks), "estimated_tokens", total)
	}

	rows := make([]InsertChunkParams, len(chunks))
	for i, c := range chunks {
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshaling chunk metadata: %w", err)
		}
		rows[i] = InsertChunkParams{
			ID:           uuid.New(),
			TenantID:     tenantID,
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			Content:      c.Content,
			PageNumber:   int32(c.PageNumber),
			ChunkIndex:   int32(c.ChunkIndex),
			Embedding:    pgvector.NewVector(vectors[i]),
			Metadata:     metadata,
		}
	}

	if s.pool == nil {
		if err := s.replaceWith(ctx, s.querier, tenantID, doc.ID, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", "document_id", doc.ID, "error", err)
		}
	}()

	if err := s.replaceWith(ctx, s.querier.WithTx(tx), tenantID, doc.ID, rows); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing replace transaction: %w", err)
	}
	return len(rows), nil
}

func (s *Store) replaceWith(ctx context.Context, q Querier, tenantID, documentID string, rows []InsertChunkParams) error {
	deleted, err := q.DeleteDocumentChunks(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logger.Debug("replacing existing chunks", "document_id", documentID, "deleted", deleted)
	}
	for _, row := range rows {
		if err := q.InsertChunk(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// Search embeds the query and returns the best-scoring chunks in the tenant
// that the user is authorized to see right now. Every candidate hit gets its
// authorization path re-verified against the graph; hits that fail are
// dropped silently, so fewer than TopK results is normal.
func (s *Store) Search(ctx context.Context, userID, workspaceID, tenantID, query string, opts SearchOptions) ([]SearchResult, error) {
	opts = opts.withDefaults()

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.querier.SearchChunks(ctx, SearchChunksParams{
		TenantID:  tenantID,
		Embedding: pgvector.NewVector(vector),
		Limit:     int32(opts.TopK),
	})
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		if row.Score < opts.MinScore {
			continue
		}
		ok, err := s.resolver.VerifyDocumentPath(ctx, userID, workspaceID, row.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("verifying access to document %s: %w", row.DocumentID, err)
		}
		if !ok {
			s.logger.Debug("dropping unauthorized hit", "document_id", row.DocumentID, "user_id", userID)
			continue
		}
		results = append(results, SearchResult{
			DocumentID:   row.DocumentID,
			DocumentName: row.DocumentName,
			Content:      row.Content,
			PageNumber:   int(row.PageNumber),
			ChunkIndex:   int(row.ChunkIndex),
			Score:        row.Score,
		})
	}
	return results, nil
}

// DeleteDocumentChunks removes every chunk of the document in the tenant.
func (s *Store) DeleteDocumentChunks(ctx context.Context, tenantID, documentID string) (int64, error) {
	return s.querier.DeleteDocumentChunks(ctx, tenantID, documentID)
}

// ChunkCount reports how many chunks the document has in the tenant.
func (s *Store) ChunkCount(ctx context.Context, tenantID, documentID string) (int64, error) {
	return s.querier.CountDocumentChunks(ctx, tenantID, documentID)
}

// Statuses reports indexing status per document: COMPLETED when chunks
// exist, PENDING otherwise. The document name comes from the stored chunks
// and is empty for PENDING documents; callers fill it from the object graph.
func (s *Store) Statuses(ctx context.Context, tenantID string, documentIDs []string) ([]DocumentStatus, error) {
	out := make([]DocumentStatus, 0, len(documentIDs))
	for _, id := range documentIDs {
		st, err := s.querier.DocumentChunkStats(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		status := StatusPending
		if st.ChunkCount > 0 {
			status = StatusCompleted
		}
		out = append(out, DocumentStatus{
			DocumentID:    id,
			DocumentName:  st.DocumentName,
			Status:        status,
			TotalChunks:   st.ChunkCount,
			IndexedChunks: st.ChunkCount,
		})
	}
	return out, nil
}

// tenantIndexName derives a stable, SQL-safe index name from a tenant ID.
// Anything outside [a-zA-Z0-9_] becomes '_'.
func tenantIndexName(tenantID string) string {
	var sb strings.Builder
	sb.WriteString("chunks_embedding_")
	for _, r := range tenantID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	sb.WriteString("_idx")
	return sb.String()
}
