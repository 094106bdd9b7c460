package repo

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/vera/internal/models"
)

// Upsert stores a blacklist entry keyed by token hash. An existing entry is
// overwritten with the latest expiry, owner and reason.
func (r *GormRepo) Upsert(ctx context.Context, entry models.BlacklistedToken) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	row := toBlacklistRow(entry)
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "reason", "expires_at"}),
	}).Create(&row).Error
}

// ExistsValid reports whether tokenHash is blacklisted and the entry has not yet expired.
func (r *GormRepo) ExistsValid(ctx context.Context, tokenHash string) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&blacklistRow{}).
		Where("token_hash = ? AND expires_at > ?", tokenHash, r.now()).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *GormRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return r.DeleteExpiredBefore(ctx, r.now())
}

func (r *GormRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Where("expires_at < ?", cutoff.UTC()).Delete(&blacklistRow{})
	return res.RowsAffected, res.Error
}

func (r *GormRepo) DeleteBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	res := r.DB.WithContext(ctx).Where("token_hash = ?", tokenHash).Delete(&blacklistRow{})
	return res.RowsAffected > 0, res.Error
}

func (r *GormRepo) FindBlacklisted(ctx context.Context, tokenHash string) (*models.BlacklistedToken, error) {
	var row blacklistRow
	if err := r.DB.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	b := row.toModel()
	return &b, nil
}
