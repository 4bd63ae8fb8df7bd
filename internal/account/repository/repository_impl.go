package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nzrmohammad/panelbridge/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) UpsertUser(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO bot_users (id, username, first_name, last_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     username = excluded.username,
		     first_name = excluded.first_name,
		     last_name = excluded.last_name,
		     updated_at = excluded.updated_at`,
		user.ID,
		user.Username,
		user.FirstName,
		user.LastName,
		user.CreatedAt,
		user.UpdatedAt,
	).Error
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Take(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var users []domain.User
	err := db.WithContext(ctx).
		Order("id asc").
		Find(&users).Error
	return users, err
}

func (r *repo) UpdateSettings(ctx context.Context, db *gorm.DB, id int64, settings domain.Settings) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bot_users
		 SET daily_reports = ?,
		     expiry_warnings = ?,
		     data_warning_hiddify = ?,
		     data_warning_marzban = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		settings.DailyReports,
		settings.ExpiryWarnings,
		settings.DataWarningHiddify,
		settings.DataWarningMarzban,
		id,
	).Error
}

func (r *repo) SetBirthday(ctx context.Context, db *gorm.DB, id int64, birthday *time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bot_users SET birthday = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		birthday, id,
	).Error
}

func (r *repo) SetAdminNote(ctx context.Context, db *gorm.DB, id int64, note *string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bot_users SET admin_note = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		note, id,
	).Error
}

func (r *repo) UsersWithBirthdayOn(ctx context.Context, db *gorm.DB, month time.Month, day int) ([]domain.User, error) {
	var users []domain.User
	err := db.WithContext(ctx).
		Where("birthday IS NOT NULL AND strftime('%m-%d', birthday) = ?",
			fmt.Sprintf("%02d-%02d", int(month), day)).
		Find(&users).Error
	return users, err
}

func (r *repo) InsertIdentity(ctx context.Context, db *gorm.DB, identity *domain.Identity) error {
	return db.WithContext(ctx).Create(identity).Error
}

func (r *repo) FindIdentityByUUID(ctx context.Context, db *gorm.DB, uuid string) (*domain.Identity, error) {
	var identity domain.Identity
	err := db.WithContext(ctx).
		Where("uuid = ?", uuid).
		Take(&identity).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *repo) IdentitiesForUser(ctx context.Context, db *gorm.DB, userID int64) ([]domain.Identity, error) {
	var identities []domain.Identity
	err := db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("created_at asc").
		Find(&identities).Error
	return identities, err
}

func (r *repo) ActiveIdentities(ctx context.Context, db *gorm.DB) ([]domain.Identity, error) {
	var identities []domain.Identity
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Find(&identities).Error
	return identities, err
}

func (r *repo) ReactivateIdentity(ctx context.Context, db *gorm.DB, id snowflake.ID, name string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE identities SET active = ?, name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		true, name, id,
	).Error
}

func (r *repo) DeactivateIdentity(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE identities SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		false, id,
	).Error
}

func (r *repo) SetFirstConnected(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE identities SET first_connected_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at, id,
	).Error
}

func (r *repo) MarkWelcomeSent(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE identities SET welcome_sent = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		true, id,
	).Error
}
