package repo

import (
	"time"

	"github.com/Skotchmaster/vera/internal/models"
)

// Rows are the persisted shape of each entity. Conversion to and from the
// domain models is written out by hand so column changes surface at compile time.

type userRow struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Email        string    `gorm:"uniqueIndex;not null;size:320"`
	FirstName    string    `gorm:"size:100"`
	LastName     string    `gorm:"size:100"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null;size:16;default:USER"`
	Enabled      bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (userRow) TableName() string { return "users" }

func toUserRow(u models.User) userRow {
	return userRow{
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		Enabled:      u.Enabled,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (r userRow) toModel() models.User {
	return models.User{
		ID:           r.ID,
		Email:        r.Email,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		PasswordHash: r.PasswordHash,
		Role:         r.Role,
		Enabled:      r.Enabled,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type blacklistRow struct {
	TokenHash string    `gorm:"primaryKey;size:64"`
	UserID    uint      `gorm:"index;not null"`
	Reason    string    `gorm:"size:100"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (blacklistRow) TableName() string { return "token_blacklist" }

func toBlacklistRow(b models.BlacklistedToken) blacklistRow {
	return blacklistRow{
		TokenHash: b.TokenHash,
		UserID:    b.UserID,
		Reason:    b.Reason,
		ExpiresAt: b.ExpiresAt.UTC(),
		CreatedAt: b.CreatedAt.UTC(),
	}
}

func (r blacklistRow) toModel() models.BlacklistedToken {
	return models.BlacklistedToken{
		TokenHash: r.TokenHash,
		UserID:    r.UserID,
		Reason:    r.Reason,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}
}

type passwordResetRow struct {
	ID        string     `gorm:"primaryKey;size:36"`
	UserID    uint       `gorm:"index;not null"`
	TokenHash string     `gorm:"uniqueIndex;not null;size:64"`
	ExpiresAt time.Time  `gorm:"not null"`
	UsedAt    *time.Time `gorm:"index"`
	CreatedAt time.Time  `gorm:"not null"`
}

func (passwordResetRow) TableName() string { return "password_resets" }

func toPasswordResetRow(p models.PasswordReset) passwordResetRow {
	return passwordResetRow{
		ID:        p.ID,
		UserID:    p.UserID,
		TokenHash: p.TokenHash,
		ExpiresAt: p.ExpiresAt.UTC(),
		UsedAt:    p.UsedAt,
		CreatedAt: p.CreatedAt.UTC(),
	}
}

func (r passwordResetRow) toModel() models.PasswordReset {
	return models.PasswordReset{
		ID:        r.ID,
		UserID:    r.UserID,
		TokenHash: r.TokenHash,
		ExpiresAt: r.ExpiresAt,
		UsedAt:    r.UsedAt,
		CreatedAt: r.CreatedAt,
	}
}
