package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Kind string

const (
	KindExpiry         Kind = "expiry"
	KindLowDataHiddify Kind = "low_data_hiddify"
	KindLowDataMarzban Kind = "low_data_marzban"
	KindDailySpike     Kind = "daily_spike"
)

// Log records when an identity was last notified for a given kind.
// One row per (identity, kind); re-sends overwrite the timestamp
// instead of appending, so the table stays bounded by the number of
// identities.
type Log struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	IdentityID snowflake.ID `gorm:"not null;uniqueIndex:uq_warning_identity_kind,priority:1"`
	Kind       Kind         `gorm:"not null;uniqueIndex:uq_warning_identity_kind,priority:2"`
	NotifiedAt time.Time    `gorm:"not null"`
}

func (Log) TableName() string {
	return "warning_log"
}

type Repository interface {
	LastNotified(ctx context.Context, db *gorm.DB, identityID snowflake.ID, kind Kind) (*time.Time, error)
	Touch(ctx context.Context, db *gorm.DB, log *Log) error

	// PurgeIdentity drops every dedup row of an identity. Run when the
	// identity is deactivated so a later re-registration starts with a
	// clean slate.
	PurgeIdentity(ctx context.Context, db *gorm.DB, identityID snowflake.ID) error
}

type Service interface {
	// ShouldNotify reports whether a (identity, kind) pair was last
	// notified longer than window ago and may be messaged again. The
	// window is configured per kind by the caller.
	ShouldNotify(ctx context.Context, identityID snowflake.ID, kind Kind, window time.Duration) (bool, error)

	// MarkNotified stamps the pair with the current time.
	MarkNotified(ctx context.Context, identityID snowflake.ID, kind Kind) error

	// RunChecks walks every active identity and sends whatever
	// warnings are due.
	RunChecks(ctx context.Context) error
}
