package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// Querier defines the database operations the index needs. The interface is
// owned by the consumer so tests can substitute an in-memory fake.
type Querier interface {
	// InsertChunk stores one embedded chunk row.
	InsertChunk(ctx context.Context, arg InsertChunkParams) error

	// DeleteDocumentChunks removes all chunks of a document within a
	// tenant and reports how many rows went away.
	DeleteDocumentChunks(ctx context.Context, tenantID, documentID string) (int64, error)

	// CountDocumentChunks counts a document's chunks within a tenant.
	CountDocumentChunks(ctx context.Context, tenantID, documentID string) (int64, error)

	// DocumentChunkStats reports a document's chunk count and stored
	// display name within a tenant. Name is empty when no chunks exist.
	DocumentChunkStats(ctx context.Context, tenantID, documentID string) (DocumentChunkStats, error)

	// SearchChunks runs cosine similarity search inside one tenant,
	// best matches first.
	SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error)

	// CreateTenantIndex creates the partial vector index for a tenant.
	// Creating an index that already exists must succeed.
	CreateTenantIndex(ctx context.Context, indexName, tenantID string) error

	// WithTx returns a Querier bound to the given transaction.
	WithTx(tx pgx.Tx) Querier
}

// InsertChunkParams carries one chunk row.
type InsertChunkParams struct {
	ID           uuid.UUID
	TenantID     string
	DocumentID   string
	DocumentName string
	Content      string
	PageNumber   int32
	ChunkIndex   int32
	Embedding    pgvector.Vector
	Metadata     []byte
}

// DocumentChunkStats is one document's stored state within a tenant.
type DocumentChunkStats struct {
	DocumentName string
	ChunkCount   int64
}

// SearchChunksParams scopes a similarity search to one tenant.
type SearchChunksParams struct {
	TenantID  string
	Embedding pgvector.Vector
	Limit     int32
}

// SearchChunksRow is one similarity hit. Score is cosine similarity in
// [-1, 1], higher is closer.
type SearchChunksRow struct {
	DocumentID   string
	DocumentName string
	Content      string
	PageNumber   int32
	ChunkIndex   int32
	Score        float64
}

// dbtx is satisfied by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGQuerier is the pgx implementation of Querier.
type PGQuerier struct {
	db dbtx
}

// NewQuerier creates a PGQuerier over a pool or transaction.
func NewQuerier(db dbtx) *PGQuerier {
	return &PGQuerier{db: db}
}

// WithTx implements Querier.
func (q *PGQuerier) WithTx(tx pgx.Tx) Querier {
	return &PGQuerier{db: tx}
}

const insertChunkSQL = `
INSERT INTO chunks (id, tenant_id, document_id, document_name, content, page_number, chunk_index, embedding, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// InsertChunk implements Querier.
func (q *PGQuerier) InsertChunk(ctx context.Context, arg InsertChunkParams) error {
	_, err := q.db.Exec(ctx, insertChunkSQL,
		arg.ID, arg.TenantID, arg.DocumentID, arg.DocumentName,
		arg.Content, arg.PageNumber, arg.ChunkIndex, arg.Embedding, arg.Metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting chunk %d of document %s: %w", arg.ChunkIndex, arg.DocumentID, err)
	}
	return nil
}

const deleteDocumentChunksSQL = `
DELETE FROM chunks WHERE tenant_id = $1 AND document_id = $2`

// DeleteDocumentChunks implements Querier.
func (q *PGQuerier) DeleteDocumentChunks(ctx context.Context, tenantID, documentID string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteDocumentChunksSQL, tenantID, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks of document %s: %w", documentID, err)
	}
	return tag.RowsAffected(), nil
}

const countDocumentChunksSQL = `
SELECT count(*) FROM chunks WHERE tenant_id = $1 AND document_id = $2`

// CountDocumentChunks implements Querier.
func (q *PGQuerier) CountDocumentChunks(ctx context.Context, tenantID, documentID string) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countDocumentChunksSQL, tenantID, documentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks of document %s: %w", documentID, err)
	}
	return n, nil
}

const documentChunkStatsSQL = `
SELECT count(*), coalesce(max(document_name), '')
FROM chunks WHERE tenant_id = $1 AND document_id = $2`

// DocumentChunkStats implements Querier.
func (q *PGQuerier) DocumentChunkStats(ctx context.Context, tenantID, documentID string) (DocumentChunkStats, error) {
	var st DocumentChunkStats
	if err := q.db.QueryRow(ctx, documentChunkStatsSQL, tenantID, documentID).Scan(&st.ChunkCount, &st.DocumentName); err != nil {
		return DocumentChunkStats{}, fmt.Errorf("reading chunk stats of document %s: %w", documentID, err)
	}
	return st, nil
}

const searchChunksSQL = `
SELECT document_id, document_name, content, page_number, chunk_index,
       1 - (embedding <=> $2) AS score
FROM chunks
WHERE tenant_id = $1
ORDER BY embedding <=> $2
LIMIT $3`

// SearchChunks implements Querier.
func (q *PGQuerier) SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error) {
	rows, err := q.db.Query(ctx, searchChunksSQL, arg.TenantID, arg.Embedding, arg.Limit)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var out []SearchChunksRow
	for rows.Next() {
		var r SearchChunksRow
		if err := rows.Scan(&r.DocumentID, &r.DocumentName, &r.Content, &r.PageNumber, &r.ChunkIndex, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}
	return out, nil
}

// CreateTenantIndex implements Querier. Index name and tenant cannot be
// bind parameters in DDL, so both are sanitized and inlined.
func (q *PGQuerier) CreateTenantIndex(ctx context.Context, indexName, tenantID string) error {
	stmt := fmt.Sprintf(
		`CREATE INDEX %s ON chunks USING hnsw (embedding vector_cosine_ops) WHERE tenant_id = '%s'`,
		indexName, strings.ReplaceAll(tenantID, "'", "''"),
	)
	if _, err := q.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("creating index %s: %w", indexName, err)
	}
	return nil
}
