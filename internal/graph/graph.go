// Package graph is the boundary to the surrounding object/permission graph.
//
// The graph service owns tenants, workspaces, work items and file
// attachments; this engine only asks it three questions: which tenant owns a
// workspace for a given user, what a document handle resolves to, and
// whether an authorization path exists from a user to a document. Answers
// are never cached across requests: permissions change after ingestion and
// every retrieval is re-authorized at query time.
//
// Existence-hiding: the service reports "not found" and "exists but
// unreachable" identically, so callers only ever see ErrNotFound.
package graph

import (
	"context"
	"errors"
)

// ErrNotFound covers both missing and unreachable graph objects. Callers
// must not be able to distinguish the two cases.
var ErrNotFound = errors.New("graph object not found or not reachable")

// ContentTypePDF is the attachment content type eligible for ingestion.
const ContentTypePDF = "application/pdf"

// Document is a resolved document handle. The engine reads it and links
// chunks to its ID; it never mutates the underlying attachment.
type Document struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	TenantID    string `json:"tenantId"`
}

// Resolver answers tenant-resolution and authorization-path questions.
//
// Implementations must treat missing and forbidden objects identically
// (return ErrNotFound, or false for the Verify methods).
type Resolver interface {
	// ResolveTenant returns the tenant owning workspaceID, provided userID
	// has an ownership or membership path to it and the workspace is not
	// soft-deleted. Returns ErrNotFound otherwise.
	ResolveTenant(ctx context.Context, workspaceID, userID string) (string, error)

	// Document resolves a document handle to its URL, display name,
	// content type and owning tenant.
	Document(ctx context.Context, documentID string) (Document, error)

	// WorkspaceDocuments enumerates the IDs of all PDF-type documents
	// transitively reachable from the workspace, deduplicated.
	WorkspaceDocuments(ctx context.Context, workspaceID string) ([]string, error)

	// VerifyDocumentPath re-derives the full authorization path
	// user -> tenant -> workspace -> document. False means the path does
	// not hold right now, regardless of why.
	VerifyDocumentPath(ctx context.Context, userID, workspaceID, documentID string) (bool, error)

	// VerifyDocumentAccess checks that userID can reach documentID through
	// any workspace of a tenant the user belongs to.
	VerifyDocumentAccess(ctx context.Context, userID, documentID string) (bool, error)
}
