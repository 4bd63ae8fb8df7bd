package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/nzrmohammad/panelbridge/internal/usage/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// panelColumns whitelists the column a window query may difference.
// Panel names arrive from callers as strings, never interpolate them
// into SQL directly.
var panelColumns = map[string]string{
	"hiddify": "hiddify_gb",
	"marzban": "marzban_gb",
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, snap *domain.Snapshot) error {
	return db.WithContext(ctx).Create(snap).Error
}

type dailyRow struct {
	IdentityID snowflake.ID
	HiddifyGB  float64
	MarzbanGB  float64
}

// Daily computes the consumption since the given instant as
// MAX(counter)-MIN(counter) per panel. The counters are cumulative, so
// the spread over the period is the amount consumed; MAX-MIN also
// absorbs a mid-day counter reset better than last-first would,
// because a reset drags MIN to zero instead of producing a negative
// delta. Results are clamped at zero regardless.
func (r *repo) Daily(ctx context.Context, db *gorm.DB, identityID snowflake.ID, since time.Time) (domain.DailyUsage, error) {
	var row dailyRow
	err := db.WithContext(ctx).
		Raw(`SELECT
			COALESCE(MAX(hiddify_gb) - MIN(hiddify_gb), 0) AS hiddify_gb,
			COALESCE(MAX(marzban_gb) - MIN(marzban_gb), 0) AS marzban_gb
		FROM usage_snapshots
		WHERE identity_id = ? AND taken_at >= ?`, identityID, since).
		Scan(&row).Error
	if err != nil {
		return domain.DailyUsage{}, err
	}
	return domain.DailyUsage{
		HiddifyGB: clamp(row.HiddifyGB),
		MarzbanGB: clamp(row.MarzbanGB),
	}, nil
}

func (r *repo) DailyAll(ctx context.Context, db *gorm.DB, since time.Time) (map[snowflake.ID]domain.DailyUsage, error) {
	var rows []dailyRow
	err := db.WithContext(ctx).
		Raw(`SELECT
			identity_id,
			COALESCE(MAX(hiddify_gb) - MIN(hiddify_gb), 0) AS hiddify_gb,
			COALESCE(MAX(marzban_gb) - MIN(marzban_gb), 0) AS marzban_gb
		FROM usage_snapshots
		WHERE taken_at >= ?
		GROUP BY identity_id`, since).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[snowflake.ID]domain.DailyUsage, len(rows))
	for _, row := range rows {
		out[row.IdentityID] = domain.DailyUsage{
			HiddifyGB: clamp(row.HiddifyGB),
			MarzbanGB: clamp(row.MarzbanGB),
		}
	}
	return out, nil
}

// WindowDelta differences the earliest and latest snapshot inside the
// window. With fewer than two snapshots in range the delta is zero.
func (r *repo) WindowDelta(ctx context.Context, db *gorm.DB, identityID snowflake.ID, panel string, since time.Time) (float64, error) {
	column, ok := panelColumns[panel]
	if !ok {
		return 0, fmt.Errorf("usage: unknown panel %q", panel)
	}

	var row struct {
		First *float64
		Last  *float64
	}
	query := fmt.Sprintf(`SELECT
		(SELECT %[1]s FROM usage_snapshots WHERE identity_id = @id AND taken_at >= @since ORDER BY taken_at ASC LIMIT 1) AS first,
		(SELECT %[1]s FROM usage_snapshots WHERE identity_id = @id AND taken_at >= @since ORDER BY taken_at DESC LIMIT 1) AS last`, column)
	err := db.WithContext(ctx).
		Raw(query, map[string]any{"id": identityID, "since": since}).
		Scan(&row).Error
	if err != nil {
		return 0, err
	}
	if row.First == nil || row.Last == nil {
		return 0, nil
	}
	return clamp(*row.Last - *row.First), nil
}

func (r *repo) PurgeSince(ctx context.Context, db *gorm.DB, identityID snowflake.ID, since time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Where("identity_id = ? AND taken_at >= ?", identityID, since).
		Delete(&domain.Snapshot{})
	return result.RowsAffected, result.Error
}

func (r *repo) PurgeSinceAll(ctx context.Context, db *gorm.DB, since time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Where("taken_at >= ?", since).
		Delete(&domain.Snapshot{})
	return result.RowsAffected, result.Error
}

func (r *repo) PurgeIdentity(ctx context.Context, db *gorm.DB, identityID snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Delete(&domain.Snapshot{})
	return result.RowsAffected, result.Error
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
