// Package memory provides an in-memory ConversationStore.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/modalmux/modalmux/internal/domain"
	"github.com/modalmux/modalmux/internal/storage"
)

// Store is an in-memory implementation of storage.ConversationStore.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*domain.Conversation
}

var _ storage.ConversationStore = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*domain.Conversation),
	}
}

func (s *Store) Get(ctx context.Context, id string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, nil
	}

	// Copy so callers never alias the slice a later commit appends to.
	out := make([]domain.Message, len(conv.Messages))
	copy(out, conv.Messages)
	return out, nil
}

func (s *Store) Commit(ctx context.Context, id string, user, assistant domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv, exists := s.conversations[id]
	if !exists {
		conv = &domain.Conversation{ID: id, CreatedAt: now}
		s.conversations[id] = conv
	}

	user.CreatedAt = now
	assistant.CreatedAt = now
	conv.Messages = append(conv.Messages, user, assistant)
	conv.UpdatedAt = now

	return nil
}

func (s *Store) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, id)
	return nil
}

func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]storage.ConversationInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]storage.ConversationInfo, 0, len(s.conversations))
	for _, conv := range s.conversations {
		result = append(result, storage.ConversationInfo{
			ID:           conv.ID,
			MessageCount: len(conv.Messages),
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	// Negative values come straight off the wire; treat them as unset.
	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start >= len(result) {
		return []storage.ConversationInfo{}, nil
	}

	end := start + opts.Limit
	if opts.Limit <= 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) Close() error {
	return nil
}
