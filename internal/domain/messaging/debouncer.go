package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/careinbox/careinbox/internal/platform/jobs"
	"github.com/careinbox/careinbox/internal/platform/notification"
	"github.com/careinbox/careinbox/internal/platform/presence"
)

// DebouncerConfig holds the timing windows for reminder suppression.
type DebouncerConfig struct {
	// ActiveGrace suppresses the email when the receiver was active this
	// recently; they are presumed to have the app open.
	ActiveGrace time.Duration
	// CooldownWindow suppresses repeat emails while an older unread
	// message in the same conversation is still younger than this.
	CooldownWindow time.Duration
}

// Debouncer decides, when a scheduled unread check fires, whether the
// receiver should get an email reminder or the reminder should be
// swallowed. A message can lose its reminder for four reasons: the message
// vanished, the receiver is around anyway, the message was read in the
// meantime, or an email for this conversation went out too recently.
type Debouncer struct {
	repo      Repository
	users     UserDirectory
	tracker   presence.Tracker
	email     notification.EmailSender
	templates *notification.TemplateEngine
	outcomes  *notification.OutcomeLog
	cfg       DebouncerConfig
	logger    zerolog.Logger

	// now is swapped out in tests.
	now func() time.Time
}

func NewDebouncer(
	repo Repository,
	users UserDirectory,
	tracker presence.Tracker,
	email notification.EmailSender,
	templates *notification.TemplateEngine,
	outcomes *notification.OutcomeLog,
	cfg DebouncerConfig,
	logger zerolog.Logger,
) *Debouncer {
	if cfg.ActiveGrace <= 0 {
		cfg.ActiveGrace = 2 * time.Minute
	}
	if cfg.CooldownWindow <= 0 {
		cfg.CooldownWindow = 6 * time.Hour
	}
	return &Debouncer{
		repo:      repo,
		users:     users,
		tracker:   tracker,
		email:     email,
		templates: templates,
		outcomes:  outcomes,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleJob adapts Evaluate to the job worker.
func (d *Debouncer) HandleJob(ctx context.Context, job *jobs.Job) error {
	var p ReminderPayload
	if err := unmarshalPayload(job, &p); err != nil {
		// A malformed payload never becomes valid; let the attempt budget
		// drain it.
		return err
	}
	return d.Evaluate(ctx, p.MessageID)
}

// Evaluate runs the unread check for one message. A nil return means the
// reminder was either sent or deliberately suppressed; an error means a
// transient failure worth retrying.
func (d *Debouncer) Evaluate(ctx context.Context, messageID int64) error {
	now := d.now()

	msg, err := d.repo.Get(ctx, messageID)
	if errors.Is(err, ErrMessageNotFound) {
		d.record(messageID, "", notification.OutcomeSuppressedMissing, "message no longer exists", now)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading message %d: %w", messageID, err)
	}

	receiverID := msg.ReceiverID.String()

	lastActive, err := d.tracker.LastActive(ctx, receiverID)
	switch {
	case errors.Is(err, presence.ErrNeverSeen):
		// No activity recorded; fall through to the unread checks.
	case err != nil:
		d.logger.Warn().Err(err).Str("receiver_id", receiverID).
			Msg("presence lookup failed, treating receiver as away")
	case now.Sub(lastActive) < d.cfg.ActiveGrace:
		d.record(messageID, receiverID, notification.OutcomeSuppressedActive,
			"receiver recently active", now)
		return nil
	}

	if msg.IsSeen {
		d.record(messageID, receiverID, notification.OutcomeSuppressedSeen, "", now)
		return nil
	}

	// The oldest-unread lookup can race concurrent seen updates; when it
	// comes back empty the message itself is still unread per the check
	// above, so the reminder goes out.
	oldest, err := d.repo.OldestUnread(ctx, msg.ConversationKey, msg.ReceiverID)
	if err != nil && !errors.Is(err, ErrMessageNotFound) {
		return fmt.Errorf("finding oldest unread: %w", err)
	}

	// When an older message in this conversation is already waiting, its
	// own reminder covered this one, unless it has lingered past the
	// cooldown window and the receiver deserves another nudge.
	if oldest != nil && oldest.ID != msg.ID && now.Sub(oldest.CreatedAt) < d.cfg.CooldownWindow {
		d.record(messageID, receiverID, notification.OutcomeSuppressedCooldown,
			fmt.Sprintf("covered by reminder for message %d", oldest.ID), now)
		return nil
	}

	return d.deliver(ctx, msg, now)
}

func (d *Debouncer) deliver(ctx context.Context, msg *Message, now time.Time) error {
	receiverID := msg.ReceiverID.String()

	receiver, err := d.users.Get(ctx, msg.ReceiverID)
	if err != nil {
		return fmt.Errorf("loading receiver: %w", err)
	}
	if !receiver.Active {
		d.record(msg.ID, receiverID, notification.OutcomeSuppressedMissing,
			"receiver deactivated", now)
		return nil
	}
	sender, err := d.users.Get(ctx, msg.SenderID)
	if err != nil {
		return fmt.Errorf("loading sender: %w", err)
	}

	// The email names the sender but never carries message content.
	subject, body, err := d.templates.Render("unread-message", map[string]string{
		"sender_name": sender.DisplayName,
	})
	if err != nil {
		return fmt.Errorf("rendering reminder: %w", err)
	}

	if err := d.email.SendEmail(ctx, receiver.Email, subject, body); err != nil {
		d.record(msg.ID, receiverID, notification.OutcomeFailed, err.Error(), now)
		return fmt.Errorf("sending reminder email: %w", err)
	}

	d.record(msg.ID, receiverID, notification.OutcomeSent, "", now)
	d.logger.Info().Int64("message_id", msg.ID).Str("receiver_id", receiverID).
		Msg("unread reminder sent")
	return nil
}

func (d *Debouncer) record(messageID int64, receiverID string, outcome notification.Outcome, detail string, at time.Time) {
	d.outcomes.Record(notification.OutcomeRecord{
		MessageID:  messageID,
		ReceiverID: receiverID,
		Outcome:    outcome,
		Detail:     detail,
		At:         at.UTC(),
	})
	d.logger.Debug().Int64("message_id", messageID).
		Str("outcome", string(outcome)).Str("detail", detail).
		Msg("reminder evaluated")
}

func unmarshalPayload(job *jobs.Job, v any) error {
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", job.Kind, err)
	}
	return nil
}
