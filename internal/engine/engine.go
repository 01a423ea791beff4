// Package engine orchestrates the document retrieval and chat operations:
// ingestion, similarity search, conversational answering and the
// authorization checks wrapped around all of them.
//
// Every operation starts by resolving the caller's workspace to a tenant
// through the permission graph. That resolution is the single entry gate;
// if it fails nothing else runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/helixapp/docengine/internal/conversation"
	"github.com/helixapp/docengine/internal/extract"
	"github.com/helixapp/docengine/internal/graph"
	"github.com/helixapp/docengine/internal/index"
	"github.com/helixapp/docengine/internal/provider"
)

// Extractor turns a document URL into per-page text. Satisfied by
// extract.Extractor.
type Extractor interface {
	Pages(ctx context.Context, url, contentType string) ([]string, error)
}

// Completer produces chat completions. Satisfied by provider.Client.
type Completer interface {
	CompleteWithHistory(ctx context.Context, system string, history []provider.Turn, contextBlock string) (provider.Completion, error)
}

// Indexer is the chunk store surface the engine uses. Satisfied by
// index.Store.
type Indexer interface {
	ReplaceDocumentChunks(ctx context.Context, tenantID string, doc graph.Document, chunks []index.Chunk) (int, error)
	Search(ctx context.Context, userID, workspaceID, tenantID, query string, opts index.SearchOptions) ([]index.SearchResult, error)
	DeleteDocumentChunks(ctx context.Context, tenantID, documentID string) (int64, error)
	ChunkCount(ctx context.Context, tenantID, documentID string) (int64, error)
	Statuses(ctx context.Context, tenantID string, documentIDs []string) ([]index.DocumentStatus, error)
}

// Config carries the engine's tunables.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	MinScore     float64
	ListLimit    int // max conversations returned by ListConversations
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = extract.DefaultChunkSize
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = extract.DefaultOverlap
	}
	if c.TopK <= 0 {
		c.TopK = index.DefaultTopK
	}
	if c.MinScore == 0 {
		c.MinScore = index.DefaultMinScore
	}
	if c.ListLimit <= 0 {
		c.ListLimit = 10
	}
	return c
}

// Engine wires the permission graph, extractor, chunk index, conversation
// store and model provider together. Safe for concurrent use.
type Engine struct {
	resolver      graph.Resolver
	extractor     Extractor
	indexer       Indexer
	conversations conversation.Store
	completer     Completer
	cfg           Config
	logger        *slog.Logger

	mu        sync.Mutex
	convLocks map[uuid.UUID]*sync.Mutex
}

// New creates an Engine.
func New(resolver graph.Resolver, extractor Extractor, indexer Indexer, conversations conversation.Store, completer Completer, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		resolver:      resolver,
		extractor:     extractor,
		indexer:       indexer,
		conversations: conversations,
		completer:     completer,
		cfg:           cfg.withDefaults(),
		logger:        logger,
		convLocks:     make(map[uuid.UUID]*sync.Mutex),
	}
}

// resolveTenant is the entry gate of every operation. Failure hides whether
// the workspace exists at all.
func (e *Engine) resolveTenant(ctx context.Context, userID, workspaceID string) (string, error) {
	if userID == "" {
		return "", ErrUnauthenticated
	}
	if workspaceID == "" {
		return "", fmt.Errorf("%w: workspace id required", ErrInvalidInput)
	}

	tenant, err := e.resolver.ResolveTenant(ctx, workspaceID, userID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolving tenant: %w", err)
	}
	return tenant, nil
}

// resolveDocument is the entry gate of document-scoped operations: it
// verifies the caller can reach the document through some workspace of a
// tenant they belong to, then resolves the handle. Missing and forbidden
// documents are indistinguishable.
func (e *Engine) resolveDocument(ctx context.Context, userID, documentID string) (graph.Document, error) {
	if userID == "" {
		return graph.Document{}, ErrUnauthenticated
	}
	if documentID == "" {
		return graph.Document{}, fmt.Errorf("%w: document id required", ErrInvalidInput)
	}

	ok, err := e.resolver.VerifyDocumentAccess(ctx, userID, documentID)
	if err != nil {
		return graph.Document{}, fmt.Errorf("verifying document access: %w", err)
	}
	if !ok {
		return graph.Document{}, ErrNotFound
	}

	doc, err := e.resolver.Document(ctx, documentID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return graph.Document{}, ErrNotFound
		}
		return graph.Document{}, fmt.Errorf("resolving document: %w", err)
	}
	if doc.TenantID == "" {
		return graph.Document{}, fmt.Errorf("document %s resolved without a tenant", documentID)
	}
	return doc, nil
}

// DocumentStatuses reports the indexing status of every PDF document in the
// workspace.
func (e *Engine) DocumentStatuses(ctx context.Context, userID, workspaceID string) ([]index.DocumentStatus, error) {
	tenant, err := e.resolveTenant(ctx, userID, workspaceID)
	if err != nil {
		return nil, err
	}

	ids, err := e.resolver.WorkspaceDocuments(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("listing workspace documents: %w", err)
	}

	statuses, err := e.indexer.Statuses(ctx, tenant, ids)
	if err != nil {
		return nil, err
	}

	// PENDING documents have no stored chunks to carry a name; fill it
	// from the graph, best effort.
	for i := range statuses {
		if statuses[i].DocumentName != "" {
			continue
		}
		doc, err := e.resolver.Document(ctx, statuses[i].DocumentID)
		if err != nil {
			e.logger.Debug("document name lookup failed",
				"document_id", statuses[i].DocumentID, "error", err)
			continue
		}
		statuses[i].DocumentName = doc.Name
	}
	return statuses, nil
}

// DeleteDocumentEmbeddings removes a document's chunks from the index. The
// authorization path is re-verified; deleting a document with no chunks
// succeeds with zero deleted.
func (e *Engine) DeleteDocumentEmbeddings(ctx context.Context, userID, documentID string) (int64, error) {
	doc, err := e.resolveDocument(ctx, userID, documentID)
	if err != nil {
		return 0, err
	}

	deleted, err := e.indexer.DeleteDocumentChunks(ctx, doc.TenantID, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting document embeddings: %w", err)
	}
	e.logger.Info("deleted document embeddings",
		"document_id", documentID, "tenant_id", doc.TenantID, "chunks", deleted)
	return deleted, nil
}

// lockConversation returns the mutex serializing writes to one
// conversation, creating it on first use.
func (e *Engine) lockConversation(id uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.convLocks[id]
	if !ok {
		l = &sync.Mutex{}
		e.convLocks[id] = l
	}
	return l
}

func (e *Engine) forgetConversationLock(id uuid.UUID) {
	e.mu.Lock()
	delete(e.convLocks, id)
	e.mu.Unlock()
}
