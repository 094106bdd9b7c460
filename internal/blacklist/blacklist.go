package blacklist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Skotchmaster/vera/internal/logging"
	"github.com/Skotchmaster/vera/internal/models"
)

const ReasonLogout = "logout"

type Store interface {
	Upsert(ctx context.Context, entry models.BlacklistedToken) error
	ExistsValid(ctx context.Context, tokenHash string) (bool, error)
	DeleteExpired(ctx context.Context) (int64, error)
	DeleteBlacklisted(ctx context.Context, tokenHash string) (bool, error)
}

// Service is the revocation list for access tokens. Entries only need to live
// until the token's own expiry; after that the expiry check rejects the token
// anyway and the janitor may drop the entry.
type Service struct {
	store Store
	log   *slog.Logger
}

func New(store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log.With("component", "token_blacklist")}
}

// TokenKey is the persisted identity of a token: the hex SHA-256 of the raw string.
func TokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Service) Revoke(ctx context.Context, token string, expiresAt time.Time, userID uint, reason string) error {
	if token == "" {
		return errors.New("blacklist: empty token")
	}
	err := s.store.Upsert(ctx, models.BlacklistedToken{
		TokenHash: TokenKey(token),
		UserID:    userID,
		Reason:    reason,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return fmt.Errorf("blacklist: revoke: %w", err)
	}
	logging.FromContext(ctx).Debug("token_revoked", "user_id", userID, "reason", reason)
	return nil
}

func (s *Service) IsRevoked(ctx context.Context, token string) (bool, error) {
	ok, err := s.store.ExistsValid(ctx, TokenKey(token))
	if err != nil {
		return false, fmt.Errorf("blacklist: lookup: %w", err)
	}
	return ok, nil
}

// Forget removes a token from the blacklist ahead of the purge.
func (s *Service) Forget(ctx context.Context, token string) (bool, error) {
	ok, err := s.store.DeleteBlacklisted(ctx, TokenKey(token))
	if err != nil {
		return false, fmt.Errorf("blacklist: delete: %w", err)
	}
	return ok, nil
}

func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("blacklist: purge: %w", err)
	}
	if n > 0 {
		s.log.Info("purge_completed", "removed", n)
	}
	return n, nil
}
