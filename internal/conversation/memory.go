package conversation

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds how many conversations MemoryStore retains before
// evicting the least recently updated one.
const DefaultCapacity = 1024

// MemoryStore is a bounded in-memory Store. When the capacity is reached,
// the conversation with the oldest UpdatedAt is evicted to make room.
// Safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*Conversation
	capacity int
	logger   *slog.Logger
	now      func() time.Time
}

// NewMemoryStore creates a store holding at most capacity conversations.
// capacity <= 0 selects DefaultCapacity.
func NewMemoryStore(capacity int, logger *slog.Logger) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		byID:     make(map[uuid.UUID]*Conversation),
		capacity: capacity,
		logger:   logger,
		now:      time.Now,
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, ownerUserID, workspaceID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.byID) >= s.capacity {
		s.evictOldest()
	}

	now := s.now()
	conv := &Conversation{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		WorkspaceID: workspaceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.byID[conv.ID] = conv
	return clone(conv), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return clone(conv), nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, id uuid.UUID, messages ...Message) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	conv.Messages = append(conv.Messages, messages...)
	conv.UpdatedAt = s.now()
	return clone(conv), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, ownerUserID, workspaceID string, limit int) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Conversation
	for _, conv := range s.byID {
		if conv.OwnerUserID == ownerUserID && conv.WorkspaceID == workspaceID {
			out = append(out, clone(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports how many conversations are currently held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// evictOldest removes the least recently updated conversation. Caller holds
// the lock.
func (s *MemoryStore) evictOldest() {
	var oldest *Conversation
	for _, conv := range s.byID {
		if oldest == nil || conv.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = conv
		}
	}
	if oldest != nil {
		delete(s.byID, oldest.ID)
		s.logger.Debug("evicted conversation at capacity",
			"conversation_id", oldest.ID,
			"updated_at", oldest.UpdatedAt,
		)
	}
}

func clone(conv *Conversation) Conversation {
	cp := *conv
	cp.Messages = make([]Message, len(conv.Messages))
	copy(cp.Messages, conv.Messages)
	return cp
}
