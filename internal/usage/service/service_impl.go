package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nzrmohammad/panelbridge/internal/clock"
	"github.com/nzrmohammad/panelbridge/internal/config"
	"github.com/nzrmohammad/panelbridge/internal/usage/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
	Repo  domain.Repository
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	loc   *time.Location
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("usage"),
		genID: p.GenID,
		clock: p.Clock,
		loc:   p.Cfg.Location(),
		repo:  p.Repo,
	}
}

// RecordTick persists one snapshot row per sample, all stamped with
// the same instant. A failing insert is logged and skipped so a single
// bad row cannot lose the rest of the tick. Returns the number of rows
// written.
func (s *service) RecordTick(ctx context.Context, samples []domain.Sample) (int, error) {
	now := s.clock.Now()
	written := 0
	for _, sample := range samples {
		snap := &domain.Snapshot{
			ID:         s.genID.Generate(),
			IdentityID: sample.IdentityID,
			HiddifyGB:  sample.HiddifyGB,
			MarzbanGB:  sample.MarzbanGB,
			TakenAt:    now,
		}
		if err := s.repo.Insert(ctx, s.db, snap); err != nil {
			s.log.Warn("insert snapshot",
				zap.Int64("identity_id", int64(sample.IdentityID)),
				zap.Error(err))
			continue
		}
		written++
	}
	return written, nil
}

func (s *service) DailyUsage(ctx context.Context, identityID snowflake.ID) (domain.DailyUsage, error) {
	return s.repo.Daily(ctx, s.db, identityID, s.localMidnight())
}

func (s *service) DailyUsageAll(ctx context.Context) (map[snowflake.ID]domain.DailyUsage, error) {
	return s.repo.DailyAll(ctx, s.db, s.localMidnight())
}

func (s *service) WindowedUsage(ctx context.Context, identityID snowflake.ID, panel string) (map[int]float64, error) {
	now := s.clock.Now()
	out := make(map[int]float64, len(domain.Windows))
	for _, hours := range domain.Windows {
		since := now.Add(-time.Duration(hours) * time.Hour)
		delta, err := s.repo.WindowDelta(ctx, s.db, identityID, panel, since)
		if err != nil {
			return nil, err
		}
		out[hours] = delta
	}
	return out, nil
}

// PurgeToday drops the snapshots taken since local midnight. Done
// after a usage reset so the day's MIN does not keep the pre-reset
// counter and inflate the daily figure.
func (s *service) PurgeToday(ctx context.Context, identityID snowflake.ID) error {
	n, err := s.repo.PurgeSince(ctx, s.db, identityID, s.localMidnight())
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("purged today's snapshots",
			zap.Int64("identity_id", int64(identityID)),
			zap.Int64("rows", n))
	}
	return nil
}

// PurgeTodayAll clears the whole day's snapshots for every identity,
// run after the nightly report so each day starts from a clean table.
func (s *service) PurgeTodayAll(ctx context.Context) (int64, error) {
	return s.repo.PurgeSinceAll(ctx, s.db, s.localMidnight())
}

func (s *service) PurgeAll(ctx context.Context, identityID snowflake.ID) error {
	_, err := s.repo.PurgeIdentity(ctx, s.db, identityID)
	return err
}

// localMidnight is the start of the current day in the configured
// timezone, expressed in UTC to match stored timestamps.
func (s *service) localMidnight() time.Time {
	local := s.clock.Now().In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return midnight.UTC()
}
