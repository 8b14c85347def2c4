package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careinbox/careinbox/internal/domain/directory"
	"github.com/careinbox/careinbox/internal/platform/jobs"
	"github.com/careinbox/careinbox/pkg/pagination"
)

// JobKindUnreadReminder is the deferred job kind that re-checks a message
// after the notification delay and emails the receiver if it is still
// unread.
const JobKindUnreadReminder = "unread-reminder"

// ReminderPayload is the unread-reminder job payload.
type ReminderPayload struct {
	MessageID int64 `json:"message_id"`
}

// UserDirectory is the slice of the directory the messaging service needs.
type UserDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*directory.User, error)
	CanMessage(sender, receiver *directory.User) bool
}

// ServiceConfig tunes reminder scheduling.
type ServiceConfig struct {
	// NotifyDelay is how long after a send the unread check runs.
	NotifyDelay time.Duration
	// MaxDeliveryAttempts bounds email retry attempts per reminder.
	MaxDeliveryAttempts int
}

// Service implements conversation operations.
type Service struct {
	repo   Repository
	users  UserDirectory
	queue  jobs.Store
	cfg    ServiceConfig
	logger zerolog.Logger
}

func NewService(repo Repository, users UserDirectory, queue jobs.Store, cfg ServiceConfig, logger zerolog.Logger) *Service {
	if cfg.NotifyDelay <= 0 {
		cfg.NotifyDelay = 2 * time.Minute
	}
	if cfg.MaxDeliveryAttempts < 1 {
		cfg.MaxDeliveryAttempts = 4
	}
	return &Service{repo: repo, users: users, queue: queue, cfg: cfg, logger: logger}
}

// Send stores a message from sender to receiver and schedules the deferred
// unread check. Every send is re-checked against the permission rules;
// prior conversation history grants nothing.
func (s *Service) Send(ctx context.Context, senderID, receiverID uuid.UUID, body string) (*Message, error) {
	if !validBody(body) {
		return nil, fmt.Errorf("%w: body must be non-empty and at most %d bytes", ErrValidation, MaxBodyLength)
	}

	sender, err := s.users.Get(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("loading sender: %w", err)
	}
	receiver, err := s.users.Get(ctx, receiverID)
	if err != nil {
		return nil, fmt.Errorf("loading receiver: %w", err)
	}
	if !s.users.CanMessage(sender, receiver) {
		return nil, ErrPermissionDenied
	}

	msg, err := s.repo.Insert(ctx, &Message{
		ConversationKey: ConversationKey(senderID, receiverID),
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Body:            body,
	})
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(ReminderPayload{MessageID: msg.ID})
	_, err = s.queue.Enqueue(ctx, JobKindUnreadReminder, payload,
		time.Now().Add(s.cfg.NotifyDelay), s.cfg.MaxDeliveryAttempts)
	if err != nil {
		// The message is stored; a lost reminder only means no email nudge.
		s.logger.Error().Err(err).Int64("message_id", msg.ID).
			Msg("failed to schedule unread reminder")
	}
	return msg, nil
}

// Get returns a message, visible only to its two participants.
func (s *Service) Get(ctx context.Context, id int64, viewerID uuid.UUID) (*Message, error) {
	msg, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != viewerID && msg.ReceiverID != viewerID {
		return nil, ErrPermissionDenied
	}
	return msg, nil
}

// MarkSeen marks one message seen. Only the receiver may do this; marking
// an already-seen message keeps the original seen_at.
func (s *Service) MarkSeen(ctx context.Context, id int64, viewerID uuid.UUID) (*Message, error) {
	msg, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != viewerID {
		return nil, ErrPermissionDenied
	}
	if msg.IsSeen {
		return msg, nil
	}
	return s.repo.MarkSeen(ctx, id, time.Now())
}

// MarkConversationSeen marks every unread message the viewer has in the
// conversation with the other user, returning how many changed. Opening a
// conversation view calls this.
func (s *Service) MarkConversationSeen(ctx context.Context, otherID, viewerID uuid.UUID) (int64, error) {
	key := ConversationKey(otherID, viewerID)
	return s.repo.MarkConversationSeen(ctx, key, viewerID, time.Now())
}

// Conversation lists the message history between the viewer and the other
// user in send order.
func (s *Service) Conversation(ctx context.Context, viewerID, otherID uuid.UUID, p pagination.Params) ([]*Message, int64, error) {
	if _, err := s.users.Get(ctx, otherID); err != nil {
		return nil, 0, fmt.Errorf("loading conversation partner: %w", err)
	}
	key := ConversationKey(viewerID, otherID)
	return s.repo.Conversation(ctx, key, p)
}

// Contacts lists the viewer's conversations, most recent first.
func (s *Service) Contacts(ctx context.Context, viewerID uuid.UUID) ([]*Contact, error) {
	return s.repo.Contacts(ctx, viewerID)
}

// UnreadCount returns the viewer's total unread messages.
func (s *Service) UnreadCount(ctx context.Context, viewerID uuid.UUID) (int64, error) {
	return s.repo.UnreadCount(ctx, viewerID)
}
