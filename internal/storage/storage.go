// Package storage defines the conversation store contract. Stores record
// only completed turns: a commit appends one user message and its paired
// assistant message atomically, so readers never observe a user message
// without a response or a partial reply.
package storage

import (
	"context"
	"time"

	"github.com/modalmux/modalmux/internal/domain"
)

// ConversationStore persists conversation histories.
type ConversationStore interface {
	// Get returns the committed history for id in turn order. An unseen id
	// yields an empty history, not an error.
	Get(ctx context.Context, id string) ([]domain.Message, error)

	// Commit atomically appends one completed turn. The conversation is
	// created lazily on its first commit.
	Commit(ctx context.Context, id string, user, assistant domain.Message) error

	// Clear removes all history for id. Clearing an unseen or already
	// cleared id succeeds.
	Clear(ctx context.Context, id string) error

	// List returns conversation summaries with pagination.
	List(ctx context.Context, opts ListOptions) ([]ConversationInfo, error)

	// Close releases the store's resources.
	Close() error
}

// ListOptions defines pagination for List.
type ListOptions struct {
	Limit  int
	Offset int
}

// ConversationInfo is a summary row returned by List.
type ConversationInfo struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
