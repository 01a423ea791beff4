package testutil

import (
	"context"
	"sync"

	"github.com/helixapp/docengine/internal/graph"
)

// GraphFake is an in-memory permission graph for tests. Permissions can be
// granted and revoked between calls, which is how authorization-revocation
// behavior is exercised without a graph service.
// Safe for concurrent use.
type GraphFake struct {
	mu sync.Mutex

	tenants   map[string]string            // workspaceID -> tenantID
	members   map[string]map[string]bool   // workspaceID -> userID -> member
	documents map[string]graph.Document    // documentID -> document
	workspace map[string][]string          // workspaceID -> documentIDs
	revoked   map[string]map[string]bool   // userID -> documentID -> revoked
	errs      map[string]error             // method name -> forced error
}

// NewGraphFake creates an empty fake graph.
func NewGraphFake() *GraphFake {
	return &GraphFake{
		tenants:   make(map[string]string),
		members:   make(map[string]map[string]bool),
		documents: make(map[string]graph.Document),
		workspace: make(map[string][]string),
		revoked:   make(map[string]map[string]bool),
		errs:      make(map[string]error),
	}
}

// AddWorkspace registers a workspace under a tenant with its member users.
func (f *GraphFake) AddWorkspace(workspaceID, tenantID string, userIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[workspaceID] = tenantID
	if f.members[workspaceID] == nil {
		f.members[workspaceID] = make(map[string]bool)
	}
	for _, u := range userIDs {
		f.members[workspaceID][u] = true
	}
}

// AddDocument registers a document and attaches it to a workspace.
func (f *GraphFake) AddDocument(workspaceID string, doc graph.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[doc.ID] = doc
	f.workspace[workspaceID] = append(f.workspace[workspaceID], doc.ID)
}

// Revoke removes a user's access to one document, simulating a permission
// change after ingestion.
func (f *GraphFake) Revoke(userID, documentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked[userID] == nil {
		f.revoked[userID] = make(map[string]bool)
	}
	f.revoked[userID][documentID] = true
}

// Restore undoes a Revoke.
func (f *GraphFake) Restore(userID, documentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.revoked[userID], documentID)
}

// FailWith forces the named method ("ResolveTenant", "Document", ...) to
// return err. Pass nil to clear.
func (f *GraphFake) FailWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// ResolveTenant implements graph.Resolver.
func (f *GraphFake) ResolveTenant(_ context.Context, workspaceID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["ResolveTenant"]; err != nil {
		return "", err
	}
	tenant, ok := f.tenants[workspaceID]
	if !ok || !f.members[workspaceID][userID] {
		return "", graph.ErrNotFound
	}
	return tenant, nil
}

// Document implements graph.Resolver.
func (f *GraphFake) Document(_ context.Context, documentID string) (graph.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["Document"]; err != nil {
		return graph.Document{}, err
	}
	doc, ok := f.documents[documentID]
	if !ok {
		return graph.Document{}, graph.ErrNotFound
	}
	return doc, nil
}

// WorkspaceDocuments implements graph.Resolver.
func (f *GraphFake) WorkspaceDocuments(_ context.Context, workspaceID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["WorkspaceDocuments"]; err != nil {
		return nil, err
	}
	var ids []string
	for _, id := range f.workspace[workspaceID] {
		if f.documents[id].ContentType == graph.ContentTypePDF {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// VerifyDocumentPath implements graph.Resolver.
func (f *GraphFake) VerifyDocumentPath(_ context.Context, userID, workspaceID, documentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["VerifyDocumentPath"]; err != nil {
		return false, err
	}
	if !f.members[workspaceID][userID] || f.revoked[userID][documentID] {
		return false, nil
	}
	for _, id := range f.workspace[workspaceID] {
		if id == documentID {
			return true, nil
		}
	}
	return false, nil
}

// VerifyDocumentAccess implements graph.Resolver.
func (f *GraphFake) VerifyDocumentAccess(_ context.Context, userID, documentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["VerifyDocumentAccess"]; err != nil {
		return false, err
	}
	if f.revoked[userID][documentID] {
		return false, nil
	}
	for ws, ids := range f.workspace {
		if !f.members[ws][userID] {
			continue
		}
		for _, id := range ids {
			if id == documentID {
				return true, nil
			}
		}
	}
	return false, nil
}
