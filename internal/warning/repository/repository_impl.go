package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/nzrmohammad/panelbridge/internal/warning/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) LastNotified(ctx context.Context, db *gorm.DB, identityID snowflake.ID, kind domain.Kind) (*time.Time, error) {
	var row domain.Log
	err := db.WithContext(ctx).
		Where("identity_id = ? AND kind = ?", identityID, kind).
		Take(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &row.NotifiedAt, nil
}

func (r *repo) PurgeIdentity(ctx context.Context, db *gorm.DB, identityID snowflake.ID) error {
	return db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Delete(&domain.Log{}).Error
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, log *domain.Log) error {
	return db.WithContext(ctx).Exec(`
		INSERT INTO warning_log (id, identity_id, kind, notified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity_id, kind) DO UPDATE SET notified_at = excluded.notified_at`,
		log.ID, log.IdentityID, log.Kind, log.NotifiedAt,
	).Error
}
