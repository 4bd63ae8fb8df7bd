package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	accountdomain "github.com/nzrmohammad/panelbridge/internal/account/domain"
	"github.com/nzrmohammad/panelbridge/internal/clock"
	"github.com/nzrmohammad/panelbridge/internal/config"
	"github.com/nzrmohammad/panelbridge/internal/notify"
	paymentdomain "github.com/nzrmohammad/panelbridge/internal/payment/domain"
	reconciledomain "github.com/nzrmohammad/panelbridge/internal/reconcile/domain"
	"github.com/nzrmohammad/panelbridge/internal/report/domain"
)

const topConsumers = 5

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Cfg       config.Config
	Accounts  accountdomain.Service
	Reconcile reconciledomain.Service
	Payments  paymentdomain.Service
	Notifier  notify.Notifier
}

type service struct {
	log       *zap.Logger
	clock     clock.Clock
	loc       *time.Location
	accounts  accountdomain.Service
	reconcile reconciledomain.Service
	payments  paymentdomain.Service
	notifier  notify.Notifier
}

func New(p Params) domain.Service {
	return &service{
		log:       p.Log.Named("report"),
		clock:     p.Clock,
		loc:       p.Cfg.Location(),
		accounts:  p.Accounts,
		reconcile: p.Reconcile,
		payments:  p.Payments,
		notifier:  p.Notifier,
	}
}

func (s *service) BuildUserReport(ctx context.Context, userID int64) (string, error) {
	identities, err := s.accounts.IdentitiesForUser(ctx, userID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	day := s.clock.Now().In(s.loc).Format("2006-01-02")
	fmt.Fprintf(&b, "📊 <b>Daily report</b> — %s\n", day)

	reported := 0
	for _, identity := range identities {
		if !identity.Active {
			continue
		}
		user, err := s.reconcile.Get(ctx, identity.UUID)
		if err != nil {
			s.log.Warn("report lookup failed",
				zap.String("uuid", identity.UUID),
				zap.Error(err))
			continue
		}
		b.WriteString("\n")
		s.writeUserSection(&b, user)
		reported++
	}
	if reported == 0 {
		return "", nil
	}
	return b.String(), nil
}

func (s *service) writeUserSection(b *strings.Builder, user *reconciledomain.CombinedUser) {
	status := "🟢 active"
	if !user.Active {
		status = "🔴 inactive"
	}
	fmt.Fprintf(b, "<b>%s</b> (%s)\n", user.Name, status)
	if user.LimitGB > 0 {
		fmt.Fprintf(b, "  Volume: %.1f / %.1f GB (%.0f%%, %.1f GB left)\n",
			user.UsageGB, user.LimitGB, user.UsagePercent(), user.RemainingGB())
	} else {
		fmt.Fprintf(b, "  Volume: %.1f GB used (unlimited)\n", user.UsageGB)
	}
	if user.ExpireDays != nil {
		fmt.Fprintf(b, "  Expires in: %d day(s)\n", *user.ExpireDays)
	}
	if user.Daily != nil {
		fmt.Fprintf(b, "  Today: %.2f GB (Hiddify %.2f, Marzban %.2f)\n",
			user.Daily.TotalGB(), user.Daily.HiddifyGB, user.Daily.MarzbanGB)
	}
	if user.LastOnline != nil {
		fmt.Fprintf(b, "  Last online: %s\n", user.LastOnline.In(s.loc).Format("2006-01-02 15:04"))
	}
}

func (s *service) BuildAdminReport(ctx context.Context) (string, error) {
	users, err := s.reconcile.All(ctx)
	if err != nil {
		return "", err
	}

	var active, online int
	var totalDaily float64
	midnight := s.localMidnight()
	for _, u := range users {
		if u.Active {
			active++
		}
		if u.LastOnline != nil && u.LastOnline.After(midnight) {
			online++
		}
		if u.Daily != nil {
			totalDaily += u.Daily.TotalGB()
		}
	}

	paid, err := s.payments.LatestPerIdentity(ctx)
	if err != nil {
		s.log.Warn("payment lookup failed", zap.Error(err))
		paid = nil
	}
	paidThisMonth := 0
	monthStart := time.Date(midnight.In(s.loc).Year(), midnight.In(s.loc).Month(), 1, 0, 0, 0, 0, s.loc)
	for _, at := range paid {
		if !at.Before(monthStart.UTC()) {
			paidThisMonth++
		}
	}

	var b strings.Builder
	day := s.clock.Now().In(s.loc).Format("2006-01-02")
	fmt.Fprintf(&b, "🗂 <b>Fleet summary</b> — %s\n", day)
	fmt.Fprintf(&b, "Users: %d (%d active, %d online today)\n", len(users), active, online)
	fmt.Fprintf(&b, "Consumed today: %.1f GB\n", totalDaily)
	fmt.Fprintf(&b, "Payments this month: %d\n", paidThisMonth)

	top := topByDaily(users)
	if len(top) > 0 {
		b.WriteString("\nTop consumers today:\n")
		for i, u := range top {
			fmt.Fprintf(&b, "%d. %s — %.2f GB\n", i+1, u.Name, u.Daily.TotalGB())
		}
	}
	return b.String(), nil
}

func topByDaily(users []reconciledomain.CombinedUser) []reconciledomain.CombinedUser {
	var withDaily []reconciledomain.CombinedUser
	for _, u := range users {
		if u.Daily != nil && u.Daily.TotalGB() > 0 {
			withDaily = append(withDaily, u)
		}
	}
	sort.Slice(withDaily, func(i, j int) bool {
		return withDaily[i].Daily.TotalGB() > withDaily[j].Daily.TotalGB()
	})
	if len(withDaily) > topConsumers {
		withDaily = withDaily[:topConsumers]
	}
	return withDaily
}

// SendNightly fans the digests out. Per-user failures are logged and
// skipped so one blocked chat cannot sink the whole run.
func (s *service) SendNightly(ctx context.Context) error {
	users, err := s.accounts.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if !u.DailyReports {
			continue
		}
		text, err := s.BuildUserReport(ctx, u.ID)
		if err != nil {
			s.log.Warn("user report failed", zap.Int64("user_id", u.ID), zap.Error(err))
			continue
		}
		if text == "" {
			continue
		}
		if err := s.notifier.Send(ctx, u.ID, text); err != nil {
			s.log.Warn("report delivery failed", zap.Int64("user_id", u.ID), zap.Error(err))
		}
	}

	admin, err := s.BuildAdminReport(ctx)
	if err != nil {
		return err
	}
	return s.notifier.SendToAdmins(ctx, admin)
}

func (s *service) localMidnight() time.Time {
	local := s.clock.Now().In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc).UTC()
}
