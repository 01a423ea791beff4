// Package conversation keeps multi-turn chat state. Conversations live in
// process memory only: a restart clears them, which callers must treat as
// expected behavior rather than data loss.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound means no conversation exists under the given ID.
var ErrNotFound = errors.New("conversation not found")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an ordered, append-only message log owned by one user
// within one workspace.
type Conversation struct {
	ID          uuid.UUID `json:"id"`
	OwnerUserID string    `json:"ownerUserId"`
	WorkspaceID string    `json:"workspaceId"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store is the conversation repository. Implementations must return copies:
// mutating a returned Conversation must not affect stored state.
type Store interface {
	// Create starts an empty conversation and returns it.
	Create(ctx context.Context, ownerUserID, workspaceID string) (Conversation, error)

	// Get returns the conversation with the given ID.
	Get(ctx context.Context, id uuid.UUID) (Conversation, error)

	// Append adds messages to an existing conversation and bumps UpdatedAt.
	Append(ctx context.Context, id uuid.UUID, messages ...Message) (Conversation, error)

	// Delete removes a conversation. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns the owner's conversations in the workspace, most
	// recently updated first, at most limit entries.
	List(ctx context.Context, ownerUserID, workspaceID string, limit int) ([]Conversation, error)
}
