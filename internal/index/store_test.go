package index

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixapp/docengine/internal/graph"
	"github.com/helixapp/docengine/internal/testutil"
)

// fakeQuerier records calls and serves scripted search rows.
type fakeQuerier struct {
	inserted    []InsertChunkParams
	deletes     []string // "tenant/document"
	counts      map[string]int64
	names       map[string]string // "tenant/document" -> stored document name
	searchRows  []SearchChunksRow
	indexCalls  int
	indexErr    error
	insertErr   error
	deleteErr   error
	deletedRows int64
}

func (f *fakeQuerier) InsertChunk(_ context.Context, arg InsertChunkParams) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, arg)
	return nil
}

func (f *fakeQuerier) DeleteDocumentChunks(_ context.Context, tenantID, documentID string) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deletes = append(f.deletes, tenantID+"/"+documentID)
	return f.deletedRows, nil
}

func (f *fakeQuerier) CountDocumentChunks(_ context.Context, tenantID, documentID string) (int64, error) {
	return f.counts[tenantID+"/"+documentID], nil
}

func (f *fakeQuerier) DocumentChunkStats(_ context.Context, tenantID, documentID string) (DocumentChunkStats, error) {
	key := tenantID + "/" + documentID
	return DocumentChunkStats{ChunkCount: f.counts[key], DocumentName: f.names[key]}, nil
}

func (f *fakeQuerier) SearchChunks(_ context.Context, arg SearchChunksParams) ([]SearchChunksRow, error) {
	if int32(len(f.searchRows)) > arg.Limit {
		return f.searchRows[:arg.Limit], nil
	}
	return f.searchRows, nil
}

func (f *fakeQuerier) CreateTenantIndex(_ context.Context, _, _ string) error {
	f.indexCalls++
	return f.indexErr
}

func (f *fakeQuerier) WithTx(pgx.Tx) Querier { return f }

// fakeEmbedder returns fixed-size vectors and counts batch calls.
type fakeEmbedder struct {
	batches int
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, _, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, []int, error) {
	f.batches++
	if f.err != nil {
		return nil, nil, f.err
	}
	out := make([][]float32, len(texts))
	tokens := make([]int, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
		tokens[i] = len(texts[i]) / 4
	}
	return out, tokens, nil
}

func openGraph() *testutil.GraphFake {
	g := testutil.NewGraphFake()
	g.AddWorkspace("ws1", "t1", "u1")
	for _, id := range []string{"d1", "d2", "d3"} {
		g.AddDocument("ws1", graph.Document{ID: id, Name: id + ".pdf", ContentType: graph.ContentTypePDF})
	}
	return g
}

func newTestStore(q Querier, e Embedder, r graph.Resolver) *Store {
	return New(q, nil, e, r, nil)
}

func TestEnsureIndexMemoized(t *testing.T) {
	q := &fakeQuerier{}
	s := newTestStore(q, &fakeEmbedder{}, openGraph())

	for i := 0; i < 3; i++ {
		if err := s.EnsureIndex(context.Background(), "t1"); err != nil {
			t.Fatalf("EnsureIndex: %v", err)
		}
	}
	if q.indexCalls != 1 {
		t.Errorf("CreateTenantIndex called %d times, want 1", q.indexCalls)
	}

	if err := s.EnsureIndex(context.Background(), "t2"); err != nil {
		t.Fatalf("EnsureIndex other tenant: %v", err)
	}
	if q.indexCalls != 2 {
		t.Errorf("CreateTenantIndex called %d times for two tenants, want 2", q.indexCalls)
	}
}

func TestEnsureIndexDuplicateIsSuccess(t *testing.T) {
	q := &fakeQuerier{indexErr: fmt.Errorf("create: %w", &pgconn.PgError{Code: pgerrcode.DuplicateTable})}
	s := newTestStore(q, &fakeEmbedder{}, openGraph())

	if err := s.EnsureIndex(context.Background(), "t1"); err != nil {
		t.Fatalf("duplicate index must not fail: %v", err)
	}
}

func TestEnsureIndexOtherErrorPropagates(t *testing.T) {
	q := &fakeQuerier{indexErr: errors.New("out of disk")}
	s := newTestStore(q, &fakeEmbedder{}, openGraph())

	if err := s.EnsureIndex(context.Background(), "t1"); err == nil {
		t.Error("expected error")
	}
}

func TestReplaceDocumentChunks(t *testing.T) {
	q := &fakeQuerier{deletedRows: 2}
	e := &fakeEmbedder{}
	s := newTestStore(q, e, openGraph())

	doc := graph.Document{ID: "d1", Name: "report.pdf", TenantID: "t1"}
	chunks := []Chunk{
		{Content: "first passage", PageNumber: 1, ChunkIndex: 0},
		{Content: "second passage", PageNumber: 1, ChunkIndex: 1},
		{Content: "third passage", PageNumber: 2, ChunkIndex: 2},
	}

	n, err := s.ReplaceDocumentChunks(context.Background(), "t1", doc, chunks)
	if err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}
	if n != 3 {
		t.Errorf("stored %d chunks, want 3", n)
	}
	if e.batches != 1 {
		t.Errorf("embedder called %d times, want one batch", e.batches)
	}
	if len(q.deletes) != 1 || q.deletes[0] != "t1/d1" {
		t.Errorf("deletes = %v, want [t1/d1]", q.deletes)
	}
	if len(q.inserted) != 3 {
		t.Fatalf("inserted %d rows, want 3", len(q.inserted))
	}
	row := q.inserted[2]
	if row.TenantID != "t1" || row.DocumentID != "d1" || row.DocumentName != "report.pdf" ||
		row.PageNumber != 2 || row.ChunkIndex != 2 {
		t.Errorf("unexpected row %+v", row)
	}
}

func TestReplaceDocumentChunksEmbedFailureStoresNothing(t *testing.T) {
	q := &fakeQuerier{}
	s := newTestStore(q, &fakeEmbedder{err: errors.New("quota")}, openGraph())

	doc := graph.Document{ID: "d1", Name: "report.pdf"}
	if _, err := s.ReplaceDocumentChunks(context.Background(), "t1", doc, []Chunk{{Content: "x"}}); err == nil {
		t.Fatal("expected error")
	}
	if len(q.deletes) != 0 || len(q.inserted) != 0 {
		t.Error("failed embedding must not touch stored rows")
	}
}

func TestReplaceDocumentChunksInsertFailureReportsZero(t *testing.T) {
	q := &fakeQuerier{insertErr: errors.New("disk full")}
	s := newTestStore(q, &fakeEmbedder{}, openGraph())

	doc := graph.Document{ID: "d1", Name: "report.pdf"}
	n, err := s.ReplaceDocumentChunks(context.Background(), "t1", doc, []Chunk{{Content: "x"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 0 {
		t.Errorf("failed replace reported %d chunks stored", n)
	}
}

func TestSearchFiltersByMinScore(t *testing.T) {
	q := &fakeQuerier{searchRows: []SearchChunksRow{
		{DocumentID: "d1", Content: "best", Score: 0.9},
		{DocumentID: "d2", Content: "weak", Score: 0.6},
		{DocumentID: "d3", Content: "good", Score: 0.75},
	}}
	s := newTestStore(q, &fakeEmbedder{}, openGraph())

	results, err := s.Search(context.Background(), "u1", "ws1", "t1", "query", SearchOptions{MinScore: 0.7})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Score != 0.9 || results[1].Score != 0.75 {
		t.Errorf("scores = %v, %v; want 0.9, 0.75", results[0].Score, results[1].Score)
	}
}

func TestSearchDropsRevokedHits(t *testing.T) {
	q := &fakeQuerier{searchRows: []SearchChunksRow{
		{DocumentID: "d1", Score: 0.95},
		{DocumentID: "d2", Score: 0.9},
	}}
	g := openGraph()
	g.Revoke("u1", "d2")
	s := newTestStore(q, &fakeEmbedder{}, g)

	results, err := s.Search(context.Background(), "u1", "ws1", "t1", "query", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].DocumentID != "d1" {
		t.Errorf("results = %+v, want only d1", results)
	}
}

func TestSearchAuthorizationNotCached(t *testing.T) {
	q := &fakeQuerier{searchRows: []SearchChunksRow{{DocumentID: "d1", Score: 0.95}}}
	g := openGraph()
	s := newTestStore(q, &fakeEmbedder{}, g)
	ctx := context.Background()

	if results, _ := s.Search(ctx, "u1", "ws1", "t1", "q", SearchOptions{}); len(results) != 1 {
		t.Fatal("expected hit before revocation")
	}

	g.Revoke("u1", "d1")
	if results, _ := s.Search(ctx, "u1", "ws1", "t1", "q", SearchOptions{}); len(results) != 0 {
		t.Error("revoked document still returned")
	}

	g.Restore("u1", "d1")
	if results, _ := s.Search(ctx, "u1", "ws1", "t1", "q", SearchOptions{}); len(results) != 1 {
		t.Error("restored document not returned")
	}
}

func TestStatuses(t *testing.T) {
	q := &fakeQuerier{
		counts: map[string]int64{"t1/d1": 7},
		names:  map[string]string{"t1/d1": "report.pdf"},
	}
	s := newTestStore(q, &fakeEmbedder{}, openGraph())

	statuses, err := s.Statuses(context.Background(), "t1", []string{"d1", "d2"})
	if err != nil {
		t.Fatalf("Statuses: %v", err)
	}
	want := []DocumentStatus{
		{DocumentID: "d1", DocumentName: "report.pdf", Status: StatusCompleted, TotalChunks: 7, IndexedChunks: 7},
		{DocumentID: "d2", Status: StatusPending},
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("statuses[%d] = %+v, want %+v", i, statuses[i], want[i])
		}
	}
}

func TestTenantIndexName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"t1", "chunks_embedding_t1_idx"},
		{"acme-corp", "chunks_embedding_acme_corp_idx"},
		{"bad'; DROP TABLE chunks; --", "chunks_embedding_bad___DROP_TABLE_chunks_____idx"},
	}
	for _, tt := range tests {
		if got := tenantIndexName(tt.in); got != tt.want {
			t.Errorf("tenantIndexName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
