package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/Skotchmaster/vera/internal/models"
)

func (r *GormRepo) CreateReset(ctx context.Context, reset models.PasswordReset) error {
	if reset.CreatedAt.IsZero() {
		reset.CreatedAt = r.now()
	}
	row := toPasswordResetRow(reset)
	return translate(r.DB.WithContext(ctx).Create(&row).Error)
}

// ConsumeReset marks the open, unexpired reset matching userID and tokenHash
// as used, closes every other open reset of the user and stores the new
// password hash, all in one transaction. ErrNotFound means no usable reset.
func (r *GormRepo) ConsumeReset(ctx context.Context, userID uint, tokenHash, newPasswordHash string) error {
	now := r.now()
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&passwordResetRow{}).
			Where("user_id = ? AND token_hash = ? AND used_at IS NULL AND expires_at > ?", userID, tokenHash, now).
			Update("used_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.Model(&passwordResetRow{}).
			Where("user_id = ? AND used_at IS NULL", userID).
			Update("used_at", now).Error; err != nil {
			return err
		}

		res = tx.Model(&userRow{}).Where("id = ?", userID).
			Updates(map[string]any{"password_hash": newPasswordHash, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *GormRepo) FindReset(ctx context.Context, tokenHash string) (*models.PasswordReset, error) {
	var row passwordResetRow
	if err := r.DB.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	p := row.toModel()
	return &p, nil
}
