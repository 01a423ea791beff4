package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

// Client is the HTTP implementation of Resolver against the object graph
// service's internal API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a graph client. baseURL is the root of the graph
// service's internal API (no trailing slash required).
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultRequestTimeout},
		logger:  logger,
	}
}

// ResolveTenant implements Resolver.
func (c *Client) ResolveTenant(ctx context.Context, workspaceID, userID string) (string, error) {
	var out struct {
		TenantID string `json:"tenantId"`
	}
	q := url.Values{"workspaceId": {workspaceID}, "userId": {userID}}
	if err := c.get(ctx, "/internal/graph/tenant", q, &out); err != nil {
		return "", err
	}
	if out.TenantID == "" {
		return "", ErrNotFound
	}
	return out.TenantID, nil
}

// Document implements Resolver.
func (c *Client) Document(ctx context.Context, documentID string) (Document, error) {
	var out Document
	q := url.Values{"documentId": {documentID}}
	if err := c.get(ctx, "/internal/graph/document", q, &out); err != nil {
		return Document{}, err
	}
	return out, nil
}

// WorkspaceDocuments implements Resolver.
func (c *Client) WorkspaceDocuments(ctx context.Context, workspaceID string) ([]string, error) {
	var out struct {
		DocumentIDs []string `json:"documentIds"`
	}
	q := url.Values{"workspaceId": {workspaceID}, "contentType": {ContentTypePDF}}
	if err := c.get(ctx, "/internal/graph/documents", q, &out); err != nil {
		return nil, err
	}

	// The graph may report the same attachment through several containers.
	seen := make(map[string]struct{}, len(out.DocumentIDs))
	ids := make([]string, 0, len(out.DocumentIDs))
	for _, id := range out.DocumentIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// VerifyDocumentPath implements Resolver.
func (c *Client) VerifyDocumentPath(ctx context.Context, userID, workspaceID, documentID string) (bool, error) {
	return c.verify(ctx, url.Values{
		"userId":      {userID},
		"workspaceId": {workspaceID},
		"documentId":  {documentID},
	})
}

// VerifyDocumentAccess implements Resolver.
func (c *Client) VerifyDocumentAccess(ctx context.Context, userID, documentID string) (bool, error) {
	return c.verify(ctx, url.Values{
		"userId":     {userID},
		"documentId": {documentID},
	})
}

func (c *Client) verify(ctx context.Context, q url.Values) (bool, error) {
	var out struct {
		Reachable bool `json:"reachable"`
	}
	if err := c.get(ctx, "/internal/graph/verify", q, &out); err != nil {
		// An object the caller cannot see is simply not reachable.
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return out.Reachable, nil
}

// get performs a GET request and decodes the JSON body into out.
// 403 and 404 collapse into ErrNotFound (existence-hiding).
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building graph request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling graph service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn("graph service error", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("graph service returned status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding graph response: %w", err)
	}
	return nil
}
