package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/helixapp/docengine/internal/conversation"
	"github.com/helixapp/docengine/internal/engine"
	"github.com/helixapp/docengine/internal/extract"
	"github.com/helixapp/docengine/internal/graph"
	"github.com/helixapp/docengine/internal/index"
	"github.com/helixapp/docengine/internal/provider"
	"github.com/helixapp/docengine/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type stubExtractor struct{}

func (stubExtractor) Pages(context.Context, string, string) ([]string, error) {
	page := strings.Repeat("A sentence long enough to clear the noise floor with ease. ", 3)
	return []string{page}, nil
}

type stubIndexer struct {
	hits   []index.SearchResult
	counts map[string]int64
}

func (s *stubIndexer) ReplaceDocumentChunks(_ context.Context, tenantID string, doc graph.Document, chunks []index.Chunk) (int, error) {
	if s.counts == nil {
		s.counts = make(map[string]int64)
	}
	s.counts[tenantID+"/"+doc.ID] = int64(len(chunks))
	return len(chunks), nil
}

func (s *stubIndexer) Search(context.Context, string, string, string, string, index.SearchOptions) ([]index.SearchResult, error) {
	return s.hits, nil
}

func (s *stubIndexer) DeleteDocumentChunks(_ context.Context, tenantID, documentID string) (int64, error) {
	n := s.counts[tenantID+"/"+documentID]
	delete(s.counts, tenantID+"/"+documentID)
	return n, nil
}

func (s *stubIndexer) ChunkCount(_ context.Context, tenantID, documentID string) (int64, error) {
	return s.counts[tenantID+"/"+documentID], nil
}

func (s *stubIndexer) Statuses(_ context.Context, tenantID string, ids []string) ([]index.DocumentStatus, error) {
	out := make([]index.DocumentStatus, 0, len(ids))
	for _, id := range ids {
		n := s.counts[tenantID+"/"+id]
		st := index.StatusPending
		if n > 0 {
			st = index.StatusCompleted
		}
		out = append(out, index.DocumentStatus{DocumentID: id, Status: st, TotalChunks: n, IndexedChunks: n})
	}
	return out, nil
}

type stubCompleter struct{}

func (stubCompleter) CompleteWithHistory(context.Context, string, []provider.Turn, string) (provider.Completion, error) {
	return provider.Completion{Text: "stubbed answer", Model: "stub-model", TokensUsed: 7}, nil
}

func newTestServer(t *testing.T, mutate func(*ServerConfig)) *httptest.Server {
	t.Helper()

	g := testutil.NewGraphFake()
	g.AddWorkspace("ws1", "t1", "u1")
	g.AddDocument("ws1", graph.Document{
		ID: "d1", Name: "report.pdf", URL: "http://files/d1",
		ContentType: graph.ContentTypePDF, TenantID: "t1",
	})

	eng := engine.New(g, stubExtractor{}, &stubIndexer{}, conversation.NewMemoryStore(0, nil), stubCompleter{}, engine.Config{}, nil)

	cfg := ServerConfig{Engine: eng}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, userID, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthBypassesAuth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, body := doRequest(t, ts, http.MethodGet, "/health", "", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestReadyWithoutPool(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, body := doRequest(t, ts, http.MethodGet, "/ready", "", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ready" {
		t.Errorf("ready = %d %v", resp.StatusCode, body)
	}
}

func TestMissingIdentityRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, body := doRequest(t, ts, http.MethodPost, "/api/v1/search", "", `{"workspaceId":"ws1","query":"q"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body["success"] != false {
		t.Errorf("error envelope missing: %v", body)
	}
}

func TestChatRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doRequest(t, ts, http.MethodPost, "/api/v1/chat", "u1",
		`{"workspaceId":"ws1","message":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["answer"] != "stubbed answer" {
		t.Errorf("answer = %v", body["answer"])
	}
	convID, _ := body["conversationId"].(string)
	if convID == "" {
		t.Fatal("no conversation id returned")
	}

	// The conversation is retrievable by its owner.
	resp, body = doRequest(t, ts, http.MethodGet, "/api/v1/conversations/"+convID+"?workspaceId=ws1", "u1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get conversation = %d %v", resp.StatusCode, body)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("conversation has %d messages, want 2", len(msgs))
	}
}

func TestSearchReturnsEmptyArray(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doRequest(t, ts, http.MethodPost, "/api/v1/search", "u1",
		`{"workspaceId":"ws1","query":"nothing indexed"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d %v", resp.StatusCode, body)
	}
	results, ok := body["results"].([]any)
	if !ok {
		t.Fatalf("results is %T, want array", body["results"])
	}
	if len(results) != 0 {
		t.Errorf("results = %v", results)
	}
}

func TestIngestAndStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doRequest(t, ts, http.MethodPost, "/api/v1/ingest", "u1",
		`{"documentId":"d1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest = %d %v", resp.StatusCode, body)
	}
	if body["status"] != "COMPLETED" {
		t.Errorf("status = %v", body["status"])
	}

	resp, body = doRequest(t, ts, http.MethodGet, "/api/v1/status?workspaceId=ws1", "u1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint = %d %v", resp.StatusCode, body)
	}
	docs, _ := body["documents"].([]any)
	if len(docs) != 1 {
		t.Fatalf("documents = %v", docs)
	}
	first, _ := docs[0].(map[string]any)
	if first["status"] != "COMPLETED" {
		t.Errorf("document status = %v", first)
	}
}

func TestChatAcceptsMaxChunks(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doRequest(t, ts, http.MethodPost, "/api/v1/chat", "u1",
		`{"workspaceId":"ws1","message":"hello","maxChunks":3}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}

	meta, _ := body["metadata"].(map[string]any)
	if meta == nil {
		t.Fatalf("no metadata in %v", body)
	}
	if meta["model"] != "stub-model" {
		t.Errorf("model = %v", meta["model"])
	}
	if meta["tokensUsed"] != float64(7) {
		t.Errorf("tokensUsed = %v", meta["tokensUsed"])
	}
}

func TestSearchAcceptsTopK(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doRequest(t, ts, http.MethodPost, "/api/v1/search", "u1",
		`{"workspaceId":"ws1","query":"q","topK":3}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d %v", resp.StatusCode, body)
	}
}

func TestDeleteEmbeddings(t *testing.T) {
	ts := newTestServer(t, nil)

	_, _ = doRequest(t, ts, http.MethodPost, "/api/v1/ingest", "u1", `{"documentId":"d1"}`)

	resp, body := doRequest(t, ts, http.MethodDelete, "/api/v1/documents/d1/embeddings", "u1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d %v", resp.StatusCode, body)
	}
	if deleted, _ := body["deletedChunks"].(float64); deleted == 0 {
		t.Errorf("deletedChunks = %v", body["deletedChunks"])
	}

	resp, _ = doRequest(t, ts, http.MethodDelete, "/api/v1/documents/ghost/embeddings", "u1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown document = %d, want 404", resp.StatusCode)
	}
}

func TestForeignWorkspaceLooksMissing(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, _ := doRequest(t, ts, http.MethodPost, "/api/v1/search", "intruder",
		`{"workspaceId":"ws1","query":"q"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestInvalidJSON(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, _ := doRequest(t, ts, http.MethodPost, "/api/v1/chat", "u1", `{"workspaceId":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestInvalidConversationID(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, _ := doRequest(t, ts, http.MethodGet, "/api/v1/conversations/not-a-uuid?workspaceId=ws1", "u1", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *ServerConfig) { cfg.RateBurst = 2 })

	var last int
	for i := 0; i < 3; i++ {
		resp, _ := doRequest(t, ts, http.MethodPost, "/api/v1/search", "u1",
			`{"workspaceId":"ws1","query":"q"}`)
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", last)
	}
}

func TestDeleteConversationNoContent(t *testing.T) {
	ts := newTestServer(t, nil)

	_, body := doRequest(t, ts, http.MethodPost, "/api/v1/chat", "u1",
		`{"workspaceId":"ws1","message":"hello"}`)
	convID, _ := body["conversationId"].(string)

	resp, _ := doRequest(t, ts, http.MethodDelete, "/api/v1/conversations/"+convID+"?workspaceId=ws1", "u1", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", resp.StatusCode)
	}

	resp, _ = doRequest(t, ts, http.MethodGet, "/api/v1/conversations/"+convID+"?workspaceId=ws1", "u1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestWriteEngineErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{engine.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{engine.ErrNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: query required", engine.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{fmt.Errorf("%w: text/plain", engine.ErrNotIngestable), http.StatusUnprocessableEntity, "not_ingestable"},
		{fmt.Errorf("extracting document d1: %w", extract.ErrFetch), http.StatusBadGateway, "fetch_error"},
		{fmt.Errorf("extracting document d1: %w", extract.ErrParse), http.StatusUnprocessableEntity, "parse_error"},
		{fmt.Errorf("completing chat: %w: generate: boom", provider.ErrProvider), http.StatusBadGateway, "provider_error"},
		{errors.New("something else"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeEngineError(rec, tt.err, testLogger())
		if rec.Code != tt.status {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.status)
		}
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%v: decode: %v", tt.err, err)
		}
		if body.Error.Code != tt.code {
			t.Errorf("%v: code = %q, want %q", tt.err, body.Error.Code, tt.code)
		}
	}
}
