package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixapp/docengine/internal/index"
)

// searchOptions builds per-call search options. A positive topK overrides
// the configured default for this call only.
func searchOptions(cfg Config, topK int) index.SearchOptions {
	if topK <= 0 {
		topK = cfg.TopK
	}
	return index.SearchOptions{TopK: topK, MinScore: cfg.MinScore}
}

// SearchDocuments runs an authorization-aware similarity search over the
// workspace's indexed documents. topK caps results for this call; zero
// selects the configured default. Fewer than topK results is normal: hits
// below the score floor or outside the caller's current permissions are
// dropped.
func (e *Engine) SearchDocuments(ctx context.Context, userID, workspaceID, query string, topK int) ([]index.SearchResult, error) {
	tenant, err := e.resolveTenant(ctx, userID, workspaceID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query required", ErrInvalidInput)
	}

	results, err := e.indexer.Search(ctx, userID, workspaceID, tenant, query, searchOptions(e.cfg, topK))
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	return results, nil
}
