package index

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/helixapp/docengine/internal/testutil"
)

const embeddingDim = 1536

// axisVector returns a unit vector along one axis, matching the schema's
// embedding dimension.
func axisVector(axis int) pgvector.Vector {
	v := make([]float32, embeddingDim)
	v[axis] = 1
	return pgvector.NewVector(v)
}

func insertTestChunk(t *testing.T, q *PGQuerier, tenantID, documentID string, chunkIndex int, embedding pgvector.Vector) {
	t.Helper()
	err := q.InsertChunk(context.Background(), InsertChunkParams{
		ID:           uuid.New(),
		TenantID:     tenantID,
		DocumentID:   documentID,
		DocumentName: documentID + ".pdf",
		Content:      "content of " + documentID,
		PageNumber:   1,
		ChunkIndex:   int32(chunkIndex),
		Embedding:    embedding,
		Metadata:     []byte("{}"),
	})
	if err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}
}

func TestPGQuerierIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	q := NewQuerier(tdb.Pool)

	insertTestChunk(t, q, "t1", "d1", 0, axisVector(0))
	insertTestChunk(t, q, "t1", "d1", 1, axisVector(1))
	insertTestChunk(t, q, "t1", "d2", 0, axisVector(2))
	insertTestChunk(t, q, "t2", "d3", 0, axisVector(0))

	t.Run("search stays inside tenant", func(t *testing.T) {
		rows, err := q.SearchChunks(ctx, SearchChunksParams{
			TenantID:  "t1",
			Embedding: axisVector(0),
			Limit:     10,
		})
		if err != nil {
			t.Fatalf("SearchChunks: %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("got %d rows, want 3", len(rows))
		}
		for _, r := range rows {
			if r.DocumentID == "d3" {
				t.Error("search leaked a row from another tenant")
			}
		}
		// The chunk embedded along the query axis scores 1, the others 0.
		if rows[0].DocumentID != "d1" || rows[0].ChunkIndex != 0 || rows[0].Score < 0.999 {
			t.Errorf("best hit = %+v", rows[0])
		}
	})

	t.Run("chunk stats carry count and stored name", func(t *testing.T) {
		st, err := q.DocumentChunkStats(ctx, "t1", "d2")
		if err != nil {
			t.Fatalf("DocumentChunkStats: %v", err)
		}
		if st.ChunkCount != 1 || st.DocumentName != "d2.pdf" {
			t.Errorf("stats = %+v", st)
		}

		st, err = q.DocumentChunkStats(ctx, "t1", "missing")
		if err != nil {
			t.Fatalf("DocumentChunkStats missing: %v", err)
		}
		if st.ChunkCount != 0 || st.DocumentName != "" {
			t.Errorf("stats for missing document = %+v", st)
		}
	})

	t.Run("count and delete scoped by tenant", func(t *testing.T) {
		n, err := q.CountDocumentChunks(ctx, "t1", "d1")
		if err != nil || n != 2 {
			t.Fatalf("count = %d, err = %v, want 2", n, err)
		}

		// Same document ID in the wrong tenant touches nothing.
		deleted, err := q.DeleteDocumentChunks(ctx, "t2", "d1")
		if err != nil || deleted != 0 {
			t.Fatalf("cross-tenant delete removed %d rows, err = %v", deleted, err)
		}

		deleted, err = q.DeleteDocumentChunks(ctx, "t1", "d1")
		if err != nil || deleted != 2 {
			t.Fatalf("delete removed %d rows, err = %v, want 2", deleted, err)
		}
		if n, _ := q.CountDocumentChunks(ctx, "t1", "d1"); n != 0 {
			t.Errorf("chunks remain after delete: %d", n)
		}
	})

	t.Run("tenant index creation is idempotent at the store level", func(t *testing.T) {
		name := tenantIndexName("t1")
		if err := q.CreateTenantIndex(ctx, name, "t1"); err != nil {
			t.Fatalf("CreateTenantIndex: %v", err)
		}

		err := q.CreateTenantIndex(ctx, name, "t1")
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.DuplicateTable {
			t.Fatalf("second create: got %v, want duplicate_table", err)
		}

		// The store treats that duplicate as success.
		s := New(q, tdb.Pool, &fakeEmbedder{}, testutil.NewGraphFake(), nil)
		if err := s.EnsureIndex(ctx, "t1"); err != nil {
			t.Errorf("EnsureIndex over existing index: %v", err)
		}
	})
}
