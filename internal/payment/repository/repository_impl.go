package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/nzrmohammad/panelbridge/internal/payment/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) LatestPerIdentity(ctx context.Context, db *gorm.DB) (map[snowflake.ID]time.Time, error) {
	var rows []struct {
		IdentityID snowflake.ID
		PaidAt     time.Time
	}
	err := db.WithContext(ctx).
		Raw(`SELECT identity_id, MAX(paid_at) AS paid_at
			FROM payments
			GROUP BY identity_id`).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[snowflake.ID]time.Time, len(rows))
	for _, row := range rows {
		out[row.IdentityID] = row.PaidAt
	}
	return out, nil
}

func (r *repo) History(ctx context.Context, db *gorm.DB, identityID snowflake.ID, limit int) ([]domain.Payment, error) {
	var payments []domain.Payment
	q := db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("paid_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}
