package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Skotchmaster/vera/internal/blacklist"
	"github.com/Skotchmaster/vera/internal/logging"
	"github.com/Skotchmaster/vera/internal/models"
	"github.com/Skotchmaster/vera/internal/mykafka"
	"github.com/Skotchmaster/vera/internal/repo"
	"github.com/Skotchmaster/vera/internal/tokens"
)

const (
	MinPasswordLength = 8
	DefaultResetTTL   = 15 * time.Minute
)

type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) bool
	NeedsRehash(encoded string) bool
}

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id uint) (*models.User, error)
	Save(ctx context.Context, u *models.User) error
	UpdatePasswordHash(ctx context.Context, id uint, hash string) error
}

type ResetStore interface {
	CreateReset(ctx context.Context, reset models.PasswordReset) error
	ConsumeReset(ctx context.Context, userID uint, tokenHash, newPasswordHash string) error
}

type AuthService struct {
	Users     UserStore
	Resets    ResetStore
	Hasher    Hasher
	Tokens    *tokens.Codec
	Blacklist *blacklist.Service
	Events    mykafka.Publisher
	ResetTTL  time.Duration
	Now       func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

type Session struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
	User         models.Profile
}

type RegisterInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	l := logging.FromContext(ctx).With("svc", "auth.login")

	user, err := s.Users.FindByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		// Burn the same hashing time as a real check so unknown emails are not faster.
		s.Hasher.Verify(password, s.dummy())
		l.Warn("login_failed", "reason", "unknown email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !s.Hasher.Verify(password, user.PasswordHash) {
		l.Warn("login_failed", "reason", "bad password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}
	if !user.Enabled {
		l.Warn("login_failed", "reason", "account disabled", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	if s.Hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}

	sess, err := s.newSession(user)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, mykafka.EventLoggedIn, user)
	l.Info("login_successful", "user_id", user.ID)
	return sess, nil
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Email = strings.TrimSpace(in.Email)
	l := logging.FromContext(ctx).With("svc", "auth.register")

	if in.Email == "" {
		return nil, fmt.Errorf("%w: email: is required", ErrValidation)
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, err
	}

	_, err := s.Users.FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		l.Warn("register_failed", "reason", "email taken")
		return nil, ErrEmailTaken
	case !errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("find user: %w", err)
	}

	pwHash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{
		Email:        in.Email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: pwHash,
		Role:         models.RoleUser,
		Enabled:      true,
	}
	if err := s.Users.Save(ctx, user); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("save user: %w", err)
	}

	sess, err := s.newSession(user)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, mykafka.EventRegistered, user)
	l.Info("register_successful", "user_id", user.ID)
	return sess, nil
}

// Refresh mints a new access token from a refresh token using the role stored now,
// not the one the user had at login. The refresh token itself is handed back unchanged.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := s.Tokens.ValidateRefresh(refreshToken)
	if err != nil {
		l.Warn("refresh_failed", "error", err)
		return nil, err
	}

	user, err := s.Users.FindByEmail(ctx, claims.Subject)
	if errors.Is(err, repo.ErrNotFound) {
		l.Warn("refresh_failed", "reason", "user gone")
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.Enabled {
		l.Warn("refresh_failed", "reason", "account disabled", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	access, accessExp, err := s.Tokens.IssueAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   claims.ExpiresAt.Time,
		User:         user.Profile(),
	}, nil
}

// Logout blacklists the access token until it expires. It never fails: an
// unparseable token is already useless and a blacklist error is only logged.
func (s *AuthService) Logout(ctx context.Context, accessToken string) {
	l := logging.FromContext(ctx).With("svc", "auth.logout")
	if accessToken == "" {
		return
	}

	claims, err := s.Tokens.ValidateAccess(accessToken)
	if err != nil {
		l.Info("logout_skipped", "reason", err.Error())
		return
	}
	if err := s.Blacklist.Revoke(ctx, accessToken, claims.ExpiresAt.Time, claims.UserID, blacklist.ReasonLogout); err != nil {
		l.Error("logout_blacklist_failed", "user_id", claims.UserID, "error", err)
		return
	}
	s.publish(ctx, mykafka.EventLoggedOut, &models.User{ID: claims.UserID, Email: claims.Email()})
	l.Info("logout_successful", "user_id", claims.UserID)
}

// ForgotPassword issues a single-use reset token and hands it to the mail
// worker. It reports success whether or not the account exists.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	l := logging.FromContext(ctx).With("svc", "auth.forgot")

	user, err := s.Users.FindByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		l.Info("forgot_unknown_email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if !user.Enabled {
		l.Info("forgot_disabled_account", "user_id", user.ID)
		return nil
	}

	token, err := randomToken()
	if err != nil {
		return err
	}
	ttl := s.ResetTTL
	if ttl <= 0 {
		ttl = DefaultResetTTL
	}
	expires := s.now().Add(ttl)
	err = s.Resets.CreateReset(ctx, models.PasswordReset{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: digest(token),
		ExpiresAt: expires,
	})
	if err != nil {
		return fmt.Errorf("store reset: %w", err)
	}

	if s.Events == nil {
		l.Warn("reset_notification_skipped", "user_id", user.ID)
		return nil
	}
	ev := mykafka.PasswordResetRequested{UserID: user.ID, Email: user.Email, Token: token, ExpiresAt: expires}
	if err := s.Events.PublishEvent(ctx, mykafka.TopicPasswordReset, user.Email, ev); err != nil {
		l.Error("reset_notification_failed", "user_id", user.ID, "error", err)
		return nil
	}
	l.Info("reset_requested", "user_id", user.ID)
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, email, newPassword, resetToken string) error {
	email = strings.TrimSpace(email)
	l := logging.FromContext(ctx).With("svc", "auth.reset")

	if err := checkPassword(newPassword); err != nil {
		return err
	}

	user, err := s.Users.FindByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		l.Warn("reset_failed", "reason", "unknown email")
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if resetToken == "" {
		l.Warn("reset_failed", "reason", "missing token", "user_id", user.ID)
		return ErrInvalidCredentials
	}

	pwHash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.Resets.ConsumeReset(ctx, user.ID, digest(resetToken), pwHash); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("reset_failed", "reason", "no usable reset token", "user_id", user.ID)
			return ErrInvalidCredentials
		}
		return fmt.Errorf("consume reset: %w", err)
	}

	s.publish(ctx, mykafka.EventPasswordChanged, user)
	l.Info("reset_successful", "user_id", user.ID)
	return nil
}

func (s *AuthService) newSession(user *models.User) (*Session, error) {
	access, accessExp, err := s.Tokens.IssueAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := s.Tokens.IssueRefreshToken(user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
		User:         user.Profile(),
	}, nil
}

func (s *AuthService) rehash(ctx context.Context, user *models.User, password string) {
	h, err := s.Hasher.Hash(password)
	if err != nil {
		return
	}
	if err := s.Users.UpdatePasswordHash(ctx, user.ID, h); err != nil {
		logging.FromContext(ctx).Warn("rehash_failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = h
}

func (s *AuthService) publish(ctx context.Context, kind string, user *models.User) {
	if s.Events == nil {
		return
	}
	ev := mykafka.UserEvent{Type: kind, UserID: user.ID, Email: user.Email, At: s.now()}
	if err := s.Events.PublishEvent(ctx, mykafka.TopicUserEvents, fmt.Sprint(user.ID), ev); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed", "type", kind, "error", err)
	}
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Hasher.Hash("not-a-real-password")
	})
	return s.dummyHash
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func checkPassword(pw string) error {
	if utf8.RuneCountInString(pw) < MinPasswordLength {
		return fmt.Errorf("%w: password: must be at least %d characters", ErrValidation, MinPasswordLength)
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
