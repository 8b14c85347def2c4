package directory

import (
	"context"
	"errors"
	"fmt"

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

const userColumns = `id, email, display_name, role, active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PGRepository) Create(ctx context.Context, user *User) (*User, error) {
	query := fmt.Sprintf(`
		INSERT INTO users (id, email, display_name, role, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s`, userColumns)

	row := r.conn(ctx).QueryRow(ctx, query,
		user.ID, user.Email, user.DisplayName, user.Role, user.Active)

	created, err := scanUser(row)
	if isUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	user, err := scanUser(r.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	return user, nil
}

func (r *PGRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE lower(email) = lower($1)`, userColumns)
	user, err := scanUser(r.conn(ctx).QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return user, nil
}

func (r *PGRepository) List(ctx context.Context, role string, p pagination.Params) ([]*User, int64, error) {
	where := ""
	args := []any{}
	if role != "" {
		where = "WHERE role = $1"
		args = append(args, role)
	}

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM users %s`, where)
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM users %s
		ORDER BY display_name
		LIMIT $%d OFFSET $%d`, userColumns, where, len(args)+1, len(args)+2)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (r *PGRepository) Update(ctx context.Context, user *User) (*User, error) {
	query := fmt.Sprintf(`
		UPDATE users SET
			email = $1,
			display_name = $2,
			role = $3,
			active = $4,
			updated_at = now()
		WHERE id = $5
		RETURNING %s`, userColumns)

	row := r.conn(ctx).QueryRow(ctx, query,
		user.Email, user.DisplayName, user.Role, user.Active, user.ID)

	updated, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if isUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("updating user %s: %w", user.ID, err)
	}
	return updated, nil
}
