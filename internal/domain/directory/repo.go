package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/careinbox/careinbox/pkg/pagination"
)

// ErrUserNotFound indicates the referenced user does not exist.
var ErrUserNotFound = errors.New("directory: user not found")

// ErrEmailTaken indicates another user already holds the email address.
var ErrEmailTaken = errors.New("directory: email already registered")

// Repository persists directory users.
type Repository interface {
	Create(ctx context.Context, user *User) (*User, error)
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, role string, p pagination.Params) ([]*User, int64, error)
	Update(ctx context.Context, user *User) (*User, error)
}
