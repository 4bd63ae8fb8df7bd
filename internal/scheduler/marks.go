package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// jobMark records the local day a daily job last completed. The row
// survives restarts, which keeps once-per-day jobs at once per day
// across process lifetimes.
type jobMark struct {
	Job      string    `gorm:"column:job;primaryKey"`
	Day      string    `gorm:"column:day;not null"`
	MarkedAt time.Time `gorm:"column:marked_at;not null"`
}

func (jobMark) TableName() string { return "job_marks" }

// lastMarkedDay returns the recorded day for the job, or "" when the
// job never completed. Lookup failures also return "" so a broken
// marks table degrades to at-least-once rather than never.
func (s *Scheduler) lastMarkedDay(ctx context.Context, job string) string {
	var mark jobMark
	err := s.db.WithContext(ctx).Where("job = ?", job).Take(&mark).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("job mark lookup failed", zap.String("job", job), zap.Error(err))
		}
		return ""
	}
	return mark.Day
}

func (s *Scheduler) markDay(ctx context.Context, job, day string) {
	err := s.db.WithContext(ctx).Exec(`
		INSERT INTO job_marks (job, day, marked_at)
		VALUES (?, ?, ?)
		ON CONFLICT(job) DO UPDATE SET
			day       = excluded.day,
			marked_at = excluded.marked_at`,
		job, day, s.clock.Now().UTC(),
	).Error
	if err != nil {
		s.log.Warn("job mark update failed", zap.String("job", job), zap.Error(err))
	}
}
