package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/helixapp/docengine/internal/conversation"
	"github.com/helixapp/docengine/internal/index"
	"github.com/helixapp/docengine/internal/provider"
)

// systemPrompt frames every chat completion. Retrieved passages arrive
// inside the newest user turn, not here, so the prompt stays cacheable.
const systemPrompt = `You are a document assistant. Answer using the provided context passages when they are relevant. When the context does not cover the question, say so instead of guessing. Cite the document name when you draw on a passage.`

// snippetLength bounds how much chunk text is echoed back in a source.
const snippetLength = 200

// Source identifies a retrieved passage that informed an answer.
type Source struct {
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName"`
	PageNumber   int     `json:"pageNumber"`
	Snippet      string  `json:"snippet"`
	Score        float64 `json:"score"`
}

// ChatMetadata describes how an answer was produced.
type ChatMetadata struct {
	Model            string `json:"model"`
	TokensUsed       int    `json:"tokensUsed"`
	ChunksRetrieved  int    `json:"chunksRetrieved"`
	ContextUsed      bool   `json:"contextUsed"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// ChatResult is one completed exchange.
type ChatResult struct {
	ConversationID uuid.UUID    `json:"conversationId"`
	Answer         string       `json:"answer"`
	Sources        []Source     `json:"sources"`
	Metadata       ChatMetadata `json:"metadata"`
}

// Chat answers a message with retrieval-augmented generation. When
// conversationID is uuid.Nil a new conversation is started; otherwise the
// message continues the existing one, which must belong to the caller.
// maxChunks caps retrieval for this call; zero selects the configured
// default. Exactly one user turn and one assistant turn are appended per
// call, and concurrent calls on the same conversation are serialized.
func (e *Engine) Chat(ctx context.Context, userID, workspaceID string, conversationID uuid.UUID, message string, maxChunks int) (ChatResult, error) {
	started := time.Now()

	tenant, err := e.resolveTenant(ctx, userID, workspaceID)
	if err != nil {
		return ChatResult{}, err
	}
	if strings.TrimSpace(message) == "" {
		return ChatResult{}, fmt.Errorf("%w: message required", ErrInvalidInput)
	}

	conv, err := e.loadOrCreateConversation(ctx, userID, workspaceID, conversationID)
	if err != nil {
		return ChatResult{}, err
	}

	// Serialize the whole exchange so interleaved calls cannot split a
	// user turn from its answer.
	lock := e.lockConversation(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	// State may have advanced while we waited for the lock.
	conv, err = e.conversations.Get(ctx, conv.ID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return ChatResult{}, ErrNotFound
		}
		return ChatResult{}, fmt.Errorf("loading conversation: %w", err)
	}

	hits, err := e.indexer.Search(ctx, userID, workspaceID, tenant, message, searchOptions(e.cfg, maxChunks))
	if err != nil {
		return ChatResult{}, fmt.Errorf("retrieving context: %w", err)
	}

	contextBlock := buildContextBlock(hits)

	history := make([]provider.Turn, 0, len(conv.Messages)+1)
	for _, m := range conv.Messages {
		history = append(history, provider.Turn{Role: m.Role, Content: m.Content})
	}
	history = append(history, provider.Turn{Role: conversation.RoleUser, Content: message})

	completion, err := e.completer.CompleteWithHistory(ctx, systemPrompt, history, contextBlock)
	if err != nil {
		return ChatResult{}, fmt.Errorf("completing chat: %w", err)
	}

	now := time.Now()
	conv, err = e.conversations.Append(ctx, conv.ID,
		conversation.Message{Role: conversation.RoleUser, Content: message, Timestamp: now},
		conversation.Message{Role: conversation.RoleAssistant, Content: completion.Text, Timestamp: now},
	)
	if err != nil {
		return ChatResult{}, fmt.Errorf("recording exchange: %w", err)
	}

	sources := make([]Source, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, Source{
			DocumentID:   h.DocumentID,
			DocumentName: h.DocumentName,
			PageNumber:   h.PageNumber,
			Snippet:      snippet(h.Content),
			Score:        h.Score,
		})
	}

	return ChatResult{
		ConversationID: conv.ID,
		Answer:         completion.Text,
		Sources:        sources,
		Metadata: ChatMetadata{
			Model:            completion.Model,
			TokensUsed:       completion.TokensUsed,
			ChunksRetrieved:  len(hits),
			ContextUsed:      len(hits) > 0,
			ProcessingTimeMs: time.Since(started).Milliseconds(),
		},
	}, nil
}

// GetConversation returns one of the caller's conversations. Someone
// else's conversation looks exactly like a missing one.
func (e *Engine) GetConversation(ctx context.Context, userID, workspaceID string, id uuid.UUID) (conversation.Conversation, error) {
	if _, err := e.resolveTenant(ctx, userID, workspaceID); err != nil {
		return conversation.Conversation{}, err
	}

	conv, err := e.conversations.Get(ctx, id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return conversation.Conversation{}, ErrNotFound
		}
		return conversation.Conversation{}, fmt.Errorf("loading conversation: %w", err)
	}
	if conv.OwnerUserID != userID || conv.WorkspaceID != workspaceID {
		return conversation.Conversation{}, ErrNotFound
	}
	return conv, nil
}

// ListConversations returns the caller's conversations in the workspace,
// most recently updated first.
func (e *Engine) ListConversations(ctx context.Context, userID, workspaceID string) ([]conversation.Conversation, error) {
	if _, err := e.resolveTenant(ctx, userID, workspaceID); err != nil {
		return nil, err
	}
	return e.conversations.List(ctx, userID, workspaceID, e.cfg.ListLimit)
}

// DeleteConversation removes one of the caller's conversations.
func (e *Engine) DeleteConversation(ctx context.Context, userID, workspaceID string, id uuid.UUID) error {
	if _, err := e.GetConversation(ctx, userID, workspaceID, id); err != nil {
		return err
	}
	if err := e.conversations.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	e.forgetConversationLock(id)
	return nil
}

func (e *Engine) loadOrCreateConversation(ctx context.Context, userID, workspaceID string, id uuid.UUID) (conversation.Conversation, error) {
	if id == uuid.Nil {
		conv, err := e.conversations.Create(ctx, userID, workspaceID)
		if err != nil {
			return conversation.Conversation{}, fmt.Errorf("creating conversation: %w", err)
		}
		return conv, nil
	}
	return e.GetConversation(ctx, userID, workspaceID, id)
}

// buildContextBlock formats retrieved passages for injection into the
// newest user turn. Empty retrieval yields an empty block, which the
// provider then drops entirely.
func buildContextBlock(hits []index.SearchResult) string {
	if len(hits) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Context passages:\n")
	for _, h := range hits {
		fmt.Fprintf(&sb, "\n[%s, page %d]\n%s\n", h.DocumentName, h.PageNumber, h.Content)
	}
	return sb.String()
}

func snippet(content string) string {
	if len(content) <= snippetLength {
		return content
	}
	cut := content[:snippetLength]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}
