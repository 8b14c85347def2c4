package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/careinbox/careinbox/pkg/pagination"
)

// Repository persists messages and read state.
type Repository interface {
	// Insert stores a new message and returns it with its assigned ID.
	Insert(ctx context.Context, m *Message) (*Message, error)
	// Get returns a message by ID.
	Get(ctx context.Context, id int64) (*Message, error)
	// MarkSeen marks a single message seen. Idempotent; the first seen_at
	// sticks.
	MarkSeen(ctx context.Context, id int64, at time.Time) (*Message, error)
	// MarkConversationSeen marks every unread message addressed to viewer
	// in the conversation, returning how many changed.
	MarkConversationSeen(ctx context.Context, key string, viewerID uuid.UUID, at time.Time) (int64, error)
	// Conversation lists messages in a conversation in send order, with
	// ids breaking created_at ties so pagination is restartable.
	Conversation(ctx context.Context, key string, p pagination.Params) ([]*Message, int64, error)
	// OldestUnread returns the oldest message in the conversation that the
	// receiver has not seen, or ErrMessageNotFound when none remain.
	OldestUnread(ctx context.Context, key string, receiverID uuid.UUID) (*Message, error)
	// UnreadCount returns how many unread messages a user has across all
	// conversations.
	UnreadCount(ctx context.Context, receiverID uuid.UUID) (int64, error)
	// Contacts lists a user's conversations with last message and unread
	// counts, most recent first.
	Contacts(ctx context.Context, userID uuid.UUID) ([]*Contact, error)
}
