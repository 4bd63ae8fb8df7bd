package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Windows are the trailing horizons, in hours, the windowed usage
// report covers.
var Windows = []int{3, 6, 12, 24}

// Snapshot is one point-in-time reading of the cumulative usage
// counters for a single identity. Both panel columns are recorded on
// every tick so that per-panel deltas can be derived later without a
// second pass over the panels.
type Snapshot struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	IdentityID snowflake.ID `gorm:"not null;index:idx_usage_snapshots_identity_taken,priority:1"`
	HiddifyGB  float64      `gorm:"not null;default:0"`
	MarzbanGB  float64      `gorm:"not null;default:0"`
	TakenAt    time.Time    `gorm:"not null;index:idx_usage_snapshots_identity_taken,priority:2"`
}

func (Snapshot) TableName() string {
	return "usage_snapshots"
}

// Sample is a reading handed to the recorder by whoever polled the
// panels. Usage values are cumulative, not deltas.
type Sample struct {
	IdentityID snowflake.ID
	HiddifyGB  float64
	MarzbanGB  float64
}

// DailyUsage is the per-panel consumption since the local midnight.
type DailyUsage struct {
	HiddifyGB float64
	MarzbanGB float64
}

func (d DailyUsage) TotalGB() float64 {
	return d.HiddifyGB + d.MarzbanGB
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, snap *Snapshot) error
	Daily(ctx context.Context, db *gorm.DB, identityID snowflake.ID, since time.Time) (DailyUsage, error)
	DailyAll(ctx context.Context, db *gorm.DB, since time.Time) (map[snowflake.ID]DailyUsage, error)
	WindowDelta(ctx context.Context, db *gorm.DB, identityID snowflake.ID, panel string, since time.Time) (float64, error)
	PurgeSince(ctx context.Context, db *gorm.DB, identityID snowflake.ID, since time.Time) (int64, error)
	PurgeSinceAll(ctx context.Context, db *gorm.DB, since time.Time) (int64, error)
	PurgeIdentity(ctx context.Context, db *gorm.DB, identityID snowflake.ID) (int64, error)
}

type Service interface {
	RecordTick(ctx context.Context, samples []Sample) (int, error)
	DailyUsage(ctx context.Context, identityID snowflake.ID) (DailyUsage, error)
	DailyUsageAll(ctx context.Context) (map[snowflake.ID]DailyUsage, error)
	WindowedUsage(ctx context.Context, identityID snowflake.ID, panel string) (map[int]float64, error)
	PurgeToday(ctx context.Context, identityID snowflake.ID) error
	PurgeTodayAll(ctx context.Context) (int64, error)
	PurgeAll(ctx context.Context, identityID snowflake.ID) error
}
