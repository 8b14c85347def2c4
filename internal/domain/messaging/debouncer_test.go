package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careinbox/careinbox/internal/domain/directory"
	"github.com/careinbox/careinbox/internal/platform/notification"
	"github.com/careinbox/careinbox/internal/platform/presence"
)

type debounceFixture struct {
	repo     *memRepo
	dir      *memDirectory
	tracker  *presence.MemoryTracker
	email    *notification.MockEmailSender
	outcomes *notification.OutcomeLog
	deb      *Debouncer
	now      time.Time

	sender   *directory.User
	receiver *directory.User
}

func newDebounceFixture(t *testing.T) *debounceFixture {
	t.Helper()
	f := &debounceFixture{
		repo:     newMemRepo(),
		dir:      newMemDirectory(),
		tracker:  presence.NewMemoryTracker(),
		email:    notification.NewMockEmailSender(),
		outcomes: notification.NewOutcomeLog(),
		now:      time.Date(2026, 8, 15, 14, 0, 0, 0, time.UTC),
	}
	f.sender = f.dir.add(directory.RoleStaff, true)
	f.receiver = f.dir.add(directory.RolePatient, true)

	f.deb = NewDebouncer(f.repo, f.dir, f.tracker, f.email, notification.NewTemplateEngine(),
		f.outcomes, DebouncerConfig{
			ActiveGrace:    2 * time.Minute,
			CooldownWindow: 6 * time.Hour,
		}, zerolog.Nop())
	f.deb.now = func() time.Time { return f.now }
	return f
}

// send seeds an unread message created at the given offset before now.
func (f *debounceFixture) send(age time.Duration) *Message {
	return f.repo.insertAt(&Message{
		ConversationKey: ConversationKey(f.sender.ID, f.receiver.ID),
		SenderID:        f.sender.ID,
		ReceiverID:      f.receiver.ID,
		Body:            "how are you feeling today?",
	}, f.now.Add(-age))
}

func (f *debounceFixture) lastOutcome(t *testing.T) notification.OutcomeRecord {
	t.Helper()
	recent := f.outcomes.Recent(1)
	if len(recent) == 0 {
		t.Fatal("no outcome recorded")
	}
	return recent[0]
}

func TestEvaluateSendsWhenUnreadAndAway(t *testing.T) {
	f := newDebounceFixture(t)
	msg := f.send(2 * time.Minute)

	if err := f.deb.Evaluate(context.Background(), msg.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if f.email.CallCount() != 1 {
		t.Fatalf("expected 1 email, got %d", f.email.CallCount())
	}

	call := f.email.Calls[0]
	if call.To != f.receiver.Email {
		t.Errorf("email went to %q, want %q", call.To, f.receiver.Email)
	}
	if !strings.Contains(call.Subject, f.sender.DisplayName) {
		t.Errorf("subject should name the sender: %q", call.Subject)
	}
	if strings.Contains(call.Body, msg.Body) {
		t.Error("email must never contain the message body")
	}
	if got := f.lastOutcome(t); got.Outcome != notification.OutcomeSent {
		t.Errorf("expected sent outcome, got %s", got.Outcome)
	}
}

func TestEvaluateSuppressesWhenSeen(t *testing.T) {
	f := newDebounceFixture(t)
	msg := f.send(2 * time.Minute)
	if _, err := f.repo.MarkSeen(context.Background(), msg.ID, f.now.Add(-time.Minute)); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	if err := f.deb.Evaluate(context.Background(), msg.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if f.email.CallCount() != 0 {
		t.Fatal("no email expected for a seen message")
	}
	if got := f.lastOutcome(t); got.Outcome != notification.OutcomeSuppressedSeen {
		t.Errorf("expected seen suppression, got %s", got.Outcome)
	}
}

func TestEvaluateSuppressesWhenReceiverActive(t *testing.T) {
	f := newDebounceFixture(t)
	msg := f.send(2 * time.Minute)
	_ = f.tracker.Touch(context.Background(), f.receiver.ID.String(), f.now.Add(-30*time.Second))

	if err := f.deb.Evaluate(context.Background(), msg.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if f.email.CallCount() != 0 {
		t.Fatal("no email expected for an active receiver")
	}
	if got := f.lastOutcome(t); got.Outcome != notification.OutcomeSuppressedActive {
		t.Errorf("expected active suppression, got %s", got.Outcome)
	}
}

func TestEvaluateActivityAtGraceBoundarySends(t *testing.T) {
	f := newDebounceFixture(t)
	msg := f.send(5 * time.Minute)
	// Exactly ActiveGrace ago counts as away.
	_ = f.tracker.Touch(context.Background(), f.receiver.ID.String(), f.now.Add(-2*time.Minute))

	if err := f.deb.Evaluate(context.Background(), msg.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if f.email.CallCount() != 1 {
		t.Fatalf("expected email at the grace boundary, got %d", f.email.CallCount())
	}
}

func TestEvaluateActivityOutsideGraceStillSends(t *testing.T) {
	f := newDebounceFixture(t)
	msg := f.send(2 * time.Minute)
	_ = f.tracker.Touch(context.Background(), f.receiver.ID.String(), f.now.Add(-10*time.Minute))

	if err := f.deb.Evaluate(context.Background(), msg.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if f.email.CallCount() != 1 {
		t.Fatalf("expected email when last activity predates the grace window, got %d", f.email.CallCount())
	}
}

func TestEvaluateCooldownSuppressesFollowups(t *testing.T) {
	f := newDebounceFixture(t)
	// A burst: the older message's reminder covers the newer one.
	f.send(10 * time.Minute)
	second := f.send(2 * time.Minute)

	if err := f.deb.Evaluate(context.Background(), second.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if f.email.CallCount() != 0 {
		t.Fatal("follow-up message within cooldown must not email")
	}
	if got := f.lastOutcome(t); got.Outcome != notification.OutcomeSuppressedCooldown {
		t.Errorf("expected cooldown suppression, got %s", got.Outcome)
	}
}

func TestEvaluateCooldownExpiryAllowsRenotify(t *testing.T) {
	f := newDebounceFixture(t)
	// The oldest unread has lingered past the cooldown window.
	f.send(7 * time.Hour)
	second := f.send(2 * time.Minute)

	if err := f.deb.Evaluate(context.Background(), second.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if f.email.CallCount() != 1 {
		t.Fatalf("expected renotification after cooldown expiry, got %d emails", f.email.CallCount())
	}
}

func TestEvaluateOlderMessageSeenStillNotifies(t *testing.T) {
	f := newDebounceFixture(t)
	first := f.send(10 * time.Minute)
	second := f.send(2 * time.Minute)

	// Only the first message gets read; the second becomes the oldest
	// unread and must still produce its own reminder.
	if _, err := f.repo.MarkSeen(context.Background(), first.ID, f.now.Add(-time.Minute)); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	if err := f.deb.Evaluate(context.Background(), second.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if f.email.CallCount() != 1 {
		t.Fatalf("expected 1 email for the remaining unread message, got %d", f.email.CallCount())
	}
	if got := f.lastOutcome(t); got.Outcome != notification.OutcomeSent {
		t.Errorf("expected sent outcome, got %s", got.Outcome)
	}
}

// raceyRepo simulates read state changing between the seen check and the
// oldest-unread lookup: the message reads as unread but the conversation
// scan comes back empty.
type raceyRepo struct {
	*memRepo
}

func (r *raceyRepo) OldestUnread(ctx context.Context, key string, receiverID uuid.UUID) (*Message, error) {
	return nil, ErrMessageNotFound
}

func TestEvaluateEmptyOldestUnreadStillSends(t *testing.T) {
	f := newDebounceFixture(t)
	msg := f.send(2 * time.Minute)

	f.deb.repo = &raceyRepo{memRepo: f.repo}

	if err := f.deb.Evaluate(context.Background(), msg.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if f.email.CallCount() != 1 {
		t.Fatalf("expected email when the unread scan comes back empty, got %d", f.email.CallCount())
	}
	if got := f.lastOutcome(t); got.Outcome != notification.OutcomeSent {
		t.Errorf("expected sent outcome, got %s", got.Outcome)
	}
}

func TestEvaluateMissingMessageSuppressesSilently(t *testing.T) {
	f := newDebounceFixture(t)

	if err := f.deb.Evaluate(context.Background(), 424242); err != nil {
		t.Fatalf("missing message must not error: %v", err)
	}
	if f.email.CallCount() != 0 {
		t.Fatal("no email expected for a missing message")
	}
	if got := f.lastOutcome(t); got.Outcome != notification.OutcomeSuppressedMissing {
		t.Errorf("expected missing suppression, got %s", got.Outcome)
	}
}

func TestEvaluateDeactivatedReceiverSuppresses(t *testing.T) {
	f := newDebounceFixture(t)
	msg := f.send(2 * time.Minute)
	f.dir.users[f.receiver.ID].Active = false

	if err := f.deb.Evaluate(context.Background(), msg.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if f.email.CallCount() != 0 {
		t.Fatal("no email expected for a deactivated receiver")
	}
}

func TestEvaluateDeliveryFailureSurfacesForRetry(t *testing.T) {
	f := newDebounceFixture(t)
	msg := f.send(2 * time.Minute)
	f.email.Err = errors.New("smtp timeout")

	err := f.deb.Evaluate(context.Background(), msg.ID)
	if err == nil {
		t.Fatal("expected transient delivery failure to propagate")
	}
	if got := f.lastOutcome(t); got.Outcome != notification.OutcomeFailed {
		t.Errorf("expected failed outcome, got %s", got.Outcome)
	}

	// The relay recovers; a retry succeeds.
	f.email.Err = nil
	if err := f.deb.Evaluate(context.Background(), msg.ID); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if f.email.CallCount() != 1 {
		t.Fatalf("expected 1 delivered email, got %d", f.email.CallCount())
	}
}

func TestEvaluateReadBetweenSendAndCheck(t *testing.T) {
	f := newDebounceFixture(t)
	first := f.send(10 * time.Minute)
	second := f.send(2 * time.Minute)

	// Receiver opens the conversation before either check fires.
	key := ConversationKey(f.sender.ID, f.receiver.ID)
	if _, err := f.repo.MarkConversationSeen(context.Background(), key, f.receiver.ID, f.now.Add(-time.Minute)); err != nil {
		t.Fatalf("mark conversation seen: %v", err)
	}

	for _, id := range []int64{first.ID, second.ID} {
		if err := f.deb.Evaluate(context.Background(), id); err != nil {
			t.Fatalf("evaluate %d: %v", id, err)
		}
	}
	if f.email.CallCount() != 0 {
		t.Fatalf("no emails expected after the conversation was read, got %d", f.email.CallCount())
	}
}
