package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/careinbox/careinbox/pkg/pagination"
)

// Service implements directory business logic, including the rules for who
// may message whom.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, req CreateUserRequest) (*User, error) {
	if !validRoles[req.Role] {
		return nil, fmt.Errorf("invalid role %q", req.Role)
	}
	user := &User{
		ID:          uuid.New(),
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Role:        req.Role,
		Active:      true,
	}
	return s.repo.Create(ctx, user)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, role string, p pagination.Params) ([]*User, int64, error) {
	if role != "" && !validRoles[role] {
		return nil, 0, fmt.Errorf("invalid role %q", role)
	}
	return s.repo.List(ctx, role, p)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateUserRequest) (*User, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Email != nil {
		user.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*req.DisplayName)
	}
	if req.Role != nil {
		if !validRoles[*req.Role] {
			return nil, fmt.Errorf("invalid role %q", *req.Role)
		}
		user.Role = *req.Role
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	return s.repo.Update(ctx, user)
}

// Deactivate marks a user inactive. Inactive users keep their history but
// can no longer send or receive messages.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*User, error) {
	inactive := false
	return s.Update(ctx, id, UpdateUserRequest{Active: &inactive})
}

// CanMessage reports whether sender may open or continue a conversation
// with receiver. Patients can only talk to the clinic side; two patients
// never see each other. Deactivated accounts are cut off in both
// directions.
func (s *Service) CanMessage(sender, receiver *User) bool {
	if sender == nil || receiver == nil {
		return false
	}
	if !sender.Active || !receiver.Active {
		return false
	}
	if sender.ID == receiver.ID {
		return false
	}
	if sender.Role == RolePatient && receiver.Role == RolePatient {
		return false
	}
	return true
}
