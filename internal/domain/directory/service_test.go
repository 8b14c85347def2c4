package directory

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/careinbox/careinbox/pkg/pagination"
)

type mockRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockRepo) Create(ctx context.Context, user *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return nil, ErrEmailTaken
		}
	}
	u := *user
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = &u
	cp := u
	return &cp, nil
}

func (m *mockRepo) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockRepo) List(ctx context.Context, role string, p pagination.Params) ([]*User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if role == "" || u.Role == role {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (m *mockRepo) Update(ctx context.Context, user *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return nil, ErrUserNotFound
	}
	u := *user
	u.UpdatedAt = time.Now()
	m.users[u.ID] = &u
	cp := u
	return &cp, nil
}

func TestServiceCreate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())

	t.Run("creates active user with normalized email", func(t *testing.T) {
		user, err := svc.Create(ctx, CreateUserRequest{
			Email:       "  Pat.Jones@Example.com ",
			DisplayName: "Pat Jones",
			Role:        RolePatient,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.Email != "pat.jones@example.com" {
			t.Errorf("email not normalized: %q", user.Email)
		}
		if !user.Active {
			t.Error("new users should start active")
		}
	})

	t.Run("rejects invalid role", func(t *testing.T) {
		if _, err := svc.Create(ctx, CreateUserRequest{
			Email:       "x@example.com",
			DisplayName: "X",
			Role:        "superuser",
		}); err == nil {
			t.Fatal("expected error for invalid role")
		}
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		_, err := svc.Create(ctx, CreateUserRequest{
			Email:       "pat.jones@example.com",
			DisplayName: "Other Pat",
			Role:        RoleStaff,
		})
		if err != ErrEmailTaken {
			t.Fatalf("expected ErrEmailTaken, got %v", err)
		}
	})
}

func TestServiceDeactivate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockRepo())

	user, err := svc.Create(ctx, CreateUserRequest{
		Email:       "nurse@example.com",
		DisplayName: "Nurse Nancy",
		Role:        RoleStaff,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.Deactivate(ctx, user.ID)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if got.Active {
		t.Error("expected user inactive")
	}
}

func TestCanMessage(t *testing.T) {
	svc := NewService(newMockRepo())

	mk := func(role string, active bool) *User {
		return &User{ID: uuid.New(), Role: role, Active: active}
	}

	patient := mk(RolePatient, true)
	staff := mk(RoleStaff, true)

	tests := []struct {
		name     string
		sender   *User
		receiver *User
		want     bool
	}{
		{"patient to staff", mk(RolePatient, true), mk(RoleStaff, true), true},
		{"staff to patient", mk(RoleStaff, true), mk(RolePatient, true), true},
		{"staff to staff", mk(RoleStaff, true), mk(RoleStaff, true), true},
		{"admin to patient", mk(RoleAdmin, true), mk(RolePatient, true), true},
		{"patient to patient denied", mk(RolePatient, true), mk(RolePatient, true), false},
		{"inactive sender denied", mk(RoleStaff, false), mk(RolePatient, true), false},
		{"inactive receiver denied", mk(RoleStaff, true), mk(RolePatient, false), false},
		{"self denied", patient, patient, false},
		{"nil sender denied", nil, staff, false},
		{"nil receiver denied", staff, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.CanMessage(tt.sender, tt.receiver); got != tt.want {
				t.Errorf("CanMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}
