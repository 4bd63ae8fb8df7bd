package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Payment is one recorded renewal for an identity. Rows are
// append-only; the "current" payment for an identity is simply its
// most recent row.
type Payment struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	IdentityID snowflake.ID `gorm:"not null;index:idx_payments_identity"`
	Note       *string
	PaidAt     time.Time `gorm:"not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (Payment) TableName() string {
	return "payments"
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	LatestPerIdentity(ctx context.Context, db *gorm.DB) (map[snowflake.ID]time.Time, error)
	History(ctx context.Context, db *gorm.DB, identityID snowflake.ID, limit int) ([]Payment, error)
}

type Service interface {
	Record(ctx context.Context, identityID snowflake.ID, note *string) (*Payment, error)
	LatestPerIdentity(ctx context.Context) (map[snowflake.ID]time.Time, error)
	History(ctx context.Context, identityID snowflake.ID) ([]Payment, error)
}
