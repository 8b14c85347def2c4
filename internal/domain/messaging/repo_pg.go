package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careinbox/careinbox/internal/platform/db"
	"github.com/careinbox/careinbox/pkg/pagination"
)

// PGRepository is a Postgres-backed Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *PGRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const messageColumns = `id, conversation_key, sender_id, receiver_id, body, is_seen, seen_at, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationKey, &m.SenderID, &m.ReceiverID,
		&m.Body, &m.IsSeen, &m.SeenAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PGRepository) Insert(ctx context.Context, m *Message) (*Message, error) {
	query := fmt.Sprintf(`
		INSERT INTO messages (conversation_key, sender_id, receiver_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING %s`, messageColumns)

	row := r.conn(ctx).QueryRow(ctx, query,
		m.ConversationKey, m.SenderID, m.ReceiverID, m.Body)

	inserted, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	return inserted, nil
}

func (r *PGRepository) Get(ctx context.Context, id int64) (*Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE id = $1`, messageColumns)
	m, err := scanMessage(r.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %d: %w", id, err)
	}
	return m, nil
}

func (r *PGRepository) MarkSeen(ctx context.Context, id int64, at time.Time) (*Message, error) {
	query := fmt.Sprintf(`
		UPDATE messages SET is_seen = TRUE, seen_at = COALESCE(seen_at, $1)
		WHERE id = $2
		RETURNING %s`, messageColumns)

	m, err := scanMessage(r.conn(ctx).QueryRow(ctx, query, at.UTC(), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("marking message %d seen: %w", id, err)
	}
	return m, nil
}

func (r *PGRepository) MarkConversationSeen(ctx context.Context, key string, viewerID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE messages SET is_seen = TRUE, seen_at = COALESCE(seen_at, $1)
		WHERE conversation_key = $2 AND receiver_id = $3 AND is_seen = FALSE`,
		at.UTC(), key, viewerID)
	if err != nil {
		return 0, fmt.Errorf("marking conversation seen: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) Conversation(ctx context.Context, key string, p pagination.Params) ([]*Message, int64, error) {
	var total int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_key = $1`, key).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting conversation messages: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE conversation_key = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`, messageColumns)

	rows, err := r.conn(ctx).Query(ctx, query, key, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing conversation: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, total, rows.Err()
}

func (r *PGRepository) OldestUnread(ctx context.Context, key string, receiverID uuid.UUID) (*Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE conversation_key = $1 AND receiver_id = $2 AND is_seen = FALSE
		ORDER BY created_at, id
		LIMIT 1`, messageColumns)

	m, err := scanMessage(r.conn(ctx).QueryRow(ctx, query, key, receiverID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding oldest unread: %w", err)
	}
	return m, nil
}

func (r *PGRepository) UnreadCount(ctx context.Context, receiverID uuid.UUID) (int64, error) {
	var count int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND is_seen = FALSE`,
		receiverID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return count, nil
}

func (r *PGRepository) Contacts(ctx context.Context, userID uuid.UUID) ([]*Contact, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT ON (m.conversation_key)
			CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END AS other_id,
			u.display_name,
			m.created_at,
			m.body,
			(SELECT COUNT(*) FROM messages
				WHERE conversation_key = m.conversation_key
				AND receiver_id = $1 AND is_seen = FALSE) AS unread
		FROM messages m
		JOIN users u ON u.id = CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END
		WHERE m.sender_id = $1 OR m.receiver_id = $1
		ORDER BY m.conversation_key, m.created_at DESC, m.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.UserID, &c.DisplayName, &c.LastMessageAt, &c.LastBody, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		contacts = append(contacts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DISTINCT ON ordering is per-conversation; resort by recency for the
	// client.
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].LastMessageAt.After(contacts[j].LastMessageAt)
	})
	return contacts, nil
}
