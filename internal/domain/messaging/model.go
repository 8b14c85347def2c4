package messaging

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxBodyLength bounds message bodies.
const MaxBodyLength = 10000

// Message is one direct message between two users. IDs are assigned by the
// database sequence, so ordering by ID matches send order and breaks
// same-timestamp ties deterministically.
type Message struct {
	ID              int64      `json:"id"`
	ConversationKey string     `json:"conversation_key"`
	SenderID        uuid.UUID  `json:"sender_id"`
	ReceiverID      uuid.UUID  `json:"receiver_id"`
	Body            string     `json:"body"`
	IsSeen          bool       `json:"is_seen"`
	SeenAt          *time.Time `json:"seen_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ConversationKey derives the canonical identifier for the conversation
// between two users. The pair is unordered: both participants map to the
// same key.
func ConversationKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if x > y {
		x, y = y, x
	}
	return x + ":" + y
}

// Contact summarizes one conversation from a user's point of view.
type Contact struct {
	UserID        uuid.UUID `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	LastMessageAt time.Time `json:"last_message_at"`
	LastBody      string    `json:"last_body"`
	UnreadCount   int64     `json:"unread_count"`
}

// SendRequest is the payload for sending a message.
type SendRequest struct {
	ReceiverID uuid.UUID `json:"receiver_id" validate:"required"`
	Body       string    `json:"body" validate:"required"`
}

func validBody(body string) bool {
	trimmed := strings.TrimSpace(body)
	return trimmed != "" && len(body) <= MaxBodyLength
}
