package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/nzrmohammad/panelbridge/internal/account/domain"
	"github.com/nzrmohammad/panelbridge/internal/clock"
	"github.com/nzrmohammad/panelbridge/internal/config"
	"github.com/nzrmohammad/panelbridge/internal/notify"
	obsmetrics "github.com/nzrmohammad/panelbridge/internal/observability/metrics"
	paneldomain "github.com/nzrmohammad/panelbridge/internal/panel/domain"
	reconciledomain "github.com/nzrmohammad/panelbridge/internal/reconcile/domain"
	reportdomain "github.com/nzrmohammad/panelbridge/internal/report/domain"
	usagedomain "github.com/nzrmohammad/panelbridge/internal/usage/domain"
	warningdomain "github.com/nzrmohammad/panelbridge/internal/warning/domain"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	AppCfg   config.Config
	Clock    clock.Clock
	Accounts accountdomain.Service
	Usage    usagedomain.Service
	Warnings warningdomain.Service
	Reports  reportdomain.Service
	Combined reconciledomain.Service
	Notifier notify.Notifier
	Config   Config `optional:"true"`
}

type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	appCfg   config.Config
	loc      *time.Location
	clock    clock.Clock
	accounts accountdomain.Service
	usage    usagedomain.Service
	warnings warningdomain.Service
	reports  reportdomain.Service
	combined reconciledomain.Service
	notifier notify.Notifier

	reportAt      dayClock
	birthdayAt    dayClock
	maintenanceAt dayClock

	lastSnapshotHour time.Time
	lastWarningSweep time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Accounts == nil ||
		p.Usage == nil || p.Warnings == nil || p.Reports == nil ||
		p.Combined == nil || p.Notifier == nil {
		return nil, ErrInvalidConfig
	}

	reportAt, err := parseDayClock(p.AppCfg.ReportTime)
	if err != nil {
		return nil, fmt.Errorf("scheduler: report time: %w", err)
	}
	birthdayAt, err := parseDayClock(p.AppCfg.BirthdayTime)
	if err != nil {
		return nil, fmt.Errorf("scheduler: birthday time: %w", err)
	}
	maintenanceAt, err := parseDayClock(p.AppCfg.MaintenanceTime)
	if err != nil {
		return nil, fmt.Errorf("scheduler: maintenance time: %w", err)
	}

	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		appCfg:        p.AppCfg,
		loc:           p.AppCfg.Location(),
		clock:         p.Clock,
		accounts:      p.Accounts,
		usage:         p.Usage,
		warnings:      p.Warnings,
		reports:       p.Reports,
		combined:      p.Combined,
		notifier:      p.Notifier,
		reportAt:      reportAt,
		birthdayAt:    birthdayAt,
		maintenanceAt: maintenanceAt,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		schedMetrics.IncJobError(name, err)
		log.Warn("job timed out",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err))
		return nil
	}
	schedMetrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce evaluates every cadence gate against the current clock and
// runs the jobs that are due. Failures are joined, never fatal to the
// other jobs.
func (s *Scheduler) RunOnce(parent context.Context) error {
	now := s.clock.Now()
	local := now.In(s.loc)
	var err error

	// Snapshots land once per wall-clock hour, a minute past the top
	// so the panels have settled their own counters.
	hourMark := now.Truncate(time.Hour)
	if now.Sub(hourMark) >= time.Minute && hourMark.After(s.lastSnapshotHour) {
		if e := s.runJob(parent, "snapshot", s.SnapshotJob); e == nil {
			s.lastSnapshotHour = hourMark
		} else {
			err = errors.Join(err, e)
		}
	}

	if now.Sub(s.lastWarningSweep) >= s.appCfg.WarningCheckEvery {
		if e := s.runJob(parent, "warnings", s.warnings.RunChecks); e == nil {
			s.lastWarningSweep = now
		} else {
			err = errors.Join(err, e)
		}
	}

	// Daily jobs persist their last completed day so a restart later
	// the same day cannot re-run them. Gifts in particular must reach
	// the panels at most once per birthday.
	day := local.Format("2006-01-02")
	if s.birthdayAt.due(local) && s.lastMarkedDay(parent, "birthday_gifts") != day {
		if e := s.runJob(parent, "birthday_gifts", s.BirthdayJob); e == nil {
			s.markDay(parent, "birthday_gifts", day)
		} else {
			err = errors.Join(err, e)
		}
	}
	if s.reportAt.due(local) && s.lastMarkedDay(parent, "nightly_report") != day {
		if e := s.runJob(parent, "nightly_report", s.NightlyReportJob); e == nil {
			s.markDay(parent, "nightly_report", day)
		} else {
			err = errors.Join(err, e)
		}
	}
	if s.maintenanceAt.due(local) && s.lastMarkedDay(parent, "maintenance") != day {
		if e := s.runJob(parent, "maintenance", s.MaintenanceJob); e == nil {
			s.markDay(parent, "maintenance", day)
		} else {
			err = errors.Join(err, e)
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SnapshotJob samples the cumulative counters of every registered
// identity from the combined panel view.
func (s *Scheduler) SnapshotJob(ctx context.Context) error {
	users, err := s.combined.All(ctx)
	if err != nil {
		return err
	}

	var samples []usagedomain.Sample
	for _, u := range users {
		if u.IdentityID == 0 {
			continue
		}
		sample := usagedomain.Sample{IdentityID: u.IdentityID}
		if u.Hiddify != nil {
			sample.HiddifyGB = u.Hiddify.UsageGB
		}
		if u.Marzban != nil {
			sample.MarzbanGB = u.Marzban.UsageGB
		}
		samples = append(samples, sample)
	}

	written, err := s.usage.RecordTick(ctx, samples)
	if err != nil {
		return err
	}
	s.log.Info("snapshot tick recorded", zap.Int("rows", written))
	return nil
}

func (s *Scheduler) NightlyReportJob(ctx context.Context) error {
	if err := s.reports.SendNightly(ctx); err != nil {
		return err
	}
	// The day's snapshots have served their purpose once the report is
	// out; tomorrow starts from an empty window.
	purged, err := s.usage.PurgeTodayAll(ctx)
	if err != nil {
		return err
	}
	s.log.Info("nightly report sent", zap.Int64("snapshots_purged", purged))
	return nil
}

// BirthdayJob tops up every identity of users whose birthday is today
// and sends them a note.
func (s *Scheduler) BirthdayJob(ctx context.Context) error {
	users, err := s.accounts.UsersWithBirthdayToday(ctx, s.clock.Now().In(s.loc))
	if err != nil {
		return err
	}

	gift := paneldomain.Delta{
		AddGB:   s.appCfg.BirthdayGiftGB,
		AddDays: s.appCfg.BirthdayGiftDays,
	}
	var errs []error
	for _, u := range users {
		identities, err := s.accounts.IdentitiesForUser(ctx, u.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		gifted := 0
		for _, identity := range identities {
			if !identity.Active {
				continue
			}
			if err := s.combined.Modify(ctx, identity.UUID, gift, reconciledomain.TargetBoth); err != nil {
				s.log.Warn("birthday gift failed",
					zap.String("uuid", identity.UUID),
					zap.Error(err))
				continue
			}
			gifted++
		}
		if gifted == 0 {
			continue
		}
		text := fmt.Sprintf("🎂 Happy birthday, %s! We added %.0f GB and %d days to your account.",
			u.FirstName, gift.AddGB, gift.AddDays)
		if err := s.notifier.Send(ctx, u.ID, text); err != nil {
			s.log.Warn("birthday message failed", zap.Int64("user_id", u.ID), zap.Error(err))
		}
	}
	return errors.Join(errs...)
}

// MaintenanceJob compacts the database on the first day of the month.
func (s *Scheduler) MaintenanceJob(ctx context.Context) error {
	if s.clock.Now().In(s.loc).Day() != 1 {
		return nil
	}
	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	s.log.Info("database vacuumed")
	return nil
}

// dayClock is a time-of-day gate, local to the configured timezone.
type dayClock struct {
	hour   int
	minute int
}

func parseDayClock(value string) (dayClock, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return dayClock{}, err
	}
	return dayClock{hour: t.Hour(), minute: t.Minute()}, nil
}

func (d dayClock) due(local time.Time) bool {
	if local.Hour() != d.hour {
		return local.Hour() > d.hour
	}
	return local.Minute() >= d.minute
}
