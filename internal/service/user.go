package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Skotchmaster/vera/internal/access"
	"github.com/Skotchmaster/vera/internal/logging"
	"github.com/Skotchmaster/vera/internal/models"
	"github.com/Skotchmaster/vera/internal/mykafka"
	"github.com/Skotchmaster/vera/internal/repo"
	"github.com/Skotchmaster/vera/internal/util"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type UserRepo interface {
	UserStore
	FindAll(ctx context.Context, offset, limit int) ([]models.User, error)
	Count(ctx context.Context) (int64, error)
}

type UserService struct {
	Users  UserRepo
	Events mykafka.Publisher
}

// UserUpdate carries the editable fields of a user. Nil fields are left alone.
type UserUpdate struct {
	FirstName *string
	LastName  *string
	IsAdmin   *bool
	Role      *string
}

type Page struct {
	Users []models.User
	Total int64
	Page  int
	Size  int
}

func (s *UserService) Get(ctx context.Context, p access.Principal, id uint) (*models.User, error) {
	if err := access.RequireSelfOrAdmin(p, id); err != nil {
		return nil, err
	}
	return s.find(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, p access.Principal, email string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if err := access.RequireSelfOrAdminByEmail(p, email); err != nil {
		return nil, err
	}
	u, err := s.Users.FindByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// List pages through all users. page is 1-based.
func (s *UserService) List(ctx context.Context, p access.Principal, page, size int) (*Page, error) {
	if err := access.RequireRole(p, models.RoleAdmin); err != nil {
		return nil, err
	}
	page, size, offset := util.Window(page, size, DefaultPageSize, MaxPageSize)

	users, err := s.Users.FindAll(ctx, offset, size)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	total, err := s.Users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	return &Page{Users: users, Total: total, Page: page, Size: size}, nil
}

func (s *UserService) Update(ctx context.Context, p access.Principal, id uint, in UserUpdate) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "users.update")
	if err := access.RequireSelfOrAdmin(p, id); err != nil {
		return nil, err
	}
	u, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.CheckUpdate(p, u, access.Update{IsAdmin: in.IsAdmin, Role: in.Role}); err != nil {
		l.Warn("update_denied", "user_id", id, "caller_id", p.UserID, "error", err)
		return nil, err
	}

	if in.FirstName != nil {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Role != nil {
		if !models.ValidRole(*in.Role) {
			return nil, fmt.Errorf("%w: role: must be one of USER, ADMIN", ErrValidation)
		}
		u.Role = *in.Role
	}
	if in.IsAdmin != nil {
		switch {
		case *in.IsAdmin:
			u.Role = models.RoleAdmin
		case u.Role == models.RoleAdmin:
			u.Role = models.RoleUser
		}
	}

	if err := s.Users.Save(ctx, u); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("save user: %w", err)
	}
	s.publish(ctx, mykafka.EventUserUpdated, u)
	l.Info("user_updated", "user_id", id, "caller_id", p.UserID)
	return u, nil
}

// Disable is the delete operation: accounts are switched off, never removed.
func (s *UserService) Disable(ctx context.Context, p access.Principal, id uint) error {
	if err := access.RequireRole(p, models.RoleAdmin); err != nil {
		return err
	}
	u, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if !u.Enabled {
		return nil
	}
	u.Enabled = false
	if err := s.Users.Save(ctx, u); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	s.publish(ctx, mykafka.EventUserDisabled, u)
	logging.FromContext(ctx).Info("user_disabled", "user_id", id, "caller_id", p.UserID)
	return nil
}

func (s *UserService) find(ctx context.Context, id uint) (*models.User, error) {
	u, err := s.Users.FindByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *UserService) publish(ctx context.Context, kind string, u *models.User) {
	if s.Events == nil {
		return
	}
	ev := mykafka.UserEvent{Type: kind, UserID: u.ID, Email: u.Email, At: u.UpdatedAt}
	if err := s.Events.PublishEvent(ctx, mykafka.TopicUserEvents, fmt.Sprint(u.ID), ev); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed", "type", kind, "error", err)
	}
}
