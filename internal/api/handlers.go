package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/helixapp/docengine/internal/engine"
	"github.com/helixapp/docengine/internal/index"
)

// maxRequestBody caps JSON request bodies at 1 MiB.
const maxRequestBody = 1 << 20

type handlers struct {
	engine *engine.Engine
	logger *slog.Logger
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", h.logger)
		return false
	}
	return true
}

// user returns the authenticated caller. The auth middleware guarantees
// presence.
func (h *handlers) user(r *http.Request) string {
	uid, _ := userIDFromContext(r.Context())
	return uid
}

type ingestRequest struct {
	DocumentID     string `json:"documentId"`
	ForceReprocess bool   `json:"forceReprocess"`
}

func (h *handlers) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.Ingest(r.Context(), h.user(r), req.DocumentID, req.ForceReprocess)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

type ingestWorkspaceRequest struct {
	WorkspaceID    string `json:"workspaceId"`
	ForceReprocess bool   `json:"forceReprocess"`
}

func (h *handlers) ingestWorkspace(w http.ResponseWriter, r *http.Request) {
	var req ingestWorkspaceRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.IngestWorkspaceDocuments(r.Context(), h.user(r), req.WorkspaceID, req.ForceReprocess)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *handlers) documentStatuses(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")

	statuses, err := h.engine.DocumentStatuses(r.Context(), h.user(r), workspaceID)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string][]index.DocumentStatus{"documents": statuses})
}

func (h *handlers) deleteEmbeddings(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("id")

	deleted, err := h.engine.DeleteDocumentEmbeddings(r.Context(), h.user(r), documentID)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"deletedChunks": deleted})
}

type chatRequest struct {
	WorkspaceID    string `json:"workspaceId"`
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
	MaxChunks      int    `json:"maxChunks,omitempty"`
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}

	conversationID := uuid.Nil
	if req.ConversationID != "" {
		var err error
		conversationID, err = uuid.Parse(req.ConversationID)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_input", "conversationId is not a valid UUID", h.logger)
			return
		}
	}

	res, err := h.engine.Chat(r.Context(), h.user(r), req.WorkspaceID, conversationID, req.Message, req.MaxChunks)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

type searchRequest struct {
	WorkspaceID string `json:"workspaceId"`
	Query       string `json:"query"`
	TopK        int    `json:"topK,omitempty"`
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !h.decode(w, r, &req) {
		return
	}

	results, err := h.engine.SearchDocuments(r.Context(), h.user(r), req.WorkspaceID, req.Query, req.TopK)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	WriteJSON(w, http.StatusOK, map[string][]index.SearchResult{"results": results})
}

func (h *handlers) listConversations(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")

	convs, err := h.engine.ListConversations(r.Context(), h.user(r), workspaceID)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *handlers) getConversation(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_input", "conversation id is not a valid UUID", h.logger)
		return
	}

	conv, err := h.engine.GetConversation(r.Context(), h.user(r), workspaceID, id)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, conv)
}

func (h *handlers) deleteConversation(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_input", "conversation id is not a valid UUID", h.logger)
		return
	}

	if err := h.engine.DeleteConversation(r.Context(), h.user(r), workspaceID, id); err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
