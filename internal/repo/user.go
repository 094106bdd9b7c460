package repo

import (
	"context"

	"github.com/Skotchmaster/vera/internal/models"
)

func (r *GormRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var row userRow
	if err := r.DB.WithContext(ctx).Where("email = ?", email).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	u := row.toModel()
	return &u, nil
}

func (r *GormRepo) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var row userRow
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	u := row.toModel()
	return &u, nil
}

// Save inserts u when it has no id yet and updates it otherwise. The stored
// id and timestamps are written back into u.
func (r *GormRepo) Save(ctx context.Context, u *models.User) error {
	row := toUserRow(*u)
	db := r.DB.WithContext(ctx)
	var err error
	if row.ID == 0 {
		err = db.Create(&row).Error
	} else {
		res := db.Model(&userRow{}).Where("id = ?", row.ID).Select("*").Omit("id", "created_at").Updates(&row)
		err = res.Error
		if err == nil && res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err == nil {
			err = db.Where("id = ?", row.ID).First(&row).Error
		}
	}
	if err != nil {
		return translate(err)
	}
	*u = row.toModel()
	return nil
}

// UpdatePasswordHash rewrites only the password hash so concurrent changes to
// the rest of the row survive.
func (r *GormRepo) UpdatePasswordHash(ctx context.Context, id uint, hash string) error {
	res := r.DB.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).
		Updates(map[string]any{"password_hash": hash, "updated_at": r.now()})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepo) Delete(ctx context.Context, id uint) (bool, error) {
	res := r.DB.WithContext(ctx).Where("id = ?", id).Delete(&userRow{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepo) FindAll(ctx context.Context, offset, limit int) ([]models.User, error) {
	var rows []userRow
	if err := r.DB.WithContext(ctx).Order("id").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *GormRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.DB.WithContext(ctx).Model(&userRow{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
