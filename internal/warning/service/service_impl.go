package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/nzrmohammad/panelbridge/internal/account/domain"
	"github.com/nzrmohammad/panelbridge/internal/clock"
	"github.com/nzrmohammad/panelbridge/internal/config"
	"github.com/nzrmohammad/panelbridge/internal/notify"
	reconciledomain "github.com/nzrmohammad/panelbridge/internal/reconcile/domain"
	"github.com/nzrmohammad/panelbridge/internal/warning/domain"
)

// welcomeAfter is how long an identity must have been connected before
// the welcome message goes out. Sending immediately on first sight
// races the panel's own onboarding flow.
const welcomeAfter = 48 * time.Hour

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Cfg       config.Config
	Repo      domain.Repository
	Accounts  accountdomain.Service
	Reconcile reconciledomain.Service
	Notifier  notify.Notifier
}

type service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	cfg       config.Config
	repo      domain.Repository
	accounts  accountdomain.Service
	reconcile reconciledomain.Service
	notifier  notify.Notifier
}

func New(p Params) domain.Service {
	return &service{
		db:        p.DB,
		log:       p.Log.Named("warning"),
		genID:     p.GenID,
		clock:     p.Clock,
		cfg:       p.Cfg,
		repo:      p.Repo,
		accounts:  p.Accounts,
		reconcile: p.Reconcile,
		notifier:  p.Notifier,
	}
}

func (s *service) ShouldNotify(ctx context.Context, identityID snowflake.ID, kind domain.Kind, window time.Duration) (bool, error) {
	last, err := s.repo.LastNotified(ctx, s.db, identityID, kind)
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return s.clock.Now().Sub(*last) >= window, nil
}

// renotifyWindow resolves the configured window for a kind.
func (s *service) renotifyWindow(kind domain.Kind) time.Duration {
	switch kind {
	case domain.KindExpiry:
		return s.cfg.ExpiryRenotifyWindow
	case domain.KindLowDataHiddify, domain.KindLowDataMarzban:
		return s.cfg.LowDataRenotifyWindow
	case domain.KindDailySpike:
		return s.cfg.SpikeRenotifyWindow
	}
	return s.cfg.LowDataRenotifyWindow
}

func (s *service) MarkNotified(ctx context.Context, identityID snowflake.ID, kind domain.Kind) error {
	return s.repo.Touch(ctx, s.db, &domain.Log{
		ID:         s.genID.Generate(),
		IdentityID: identityID,
		Kind:       kind,
		NotifiedAt: s.clock.Now(),
	})
}

// RunChecks evaluates every active identity against the combined panel
// view. One identity failing never stops the sweep.
func (s *service) RunChecks(ctx context.Context) error {
	users, err := s.reconcile.All(ctx)
	if err != nil {
		return fmt.Errorf("warning: listing: %w", err)
	}
	identities, err := s.accounts.ActiveIdentities(ctx)
	if err != nil {
		return fmt.Errorf("warning: identities: %w", err)
	}
	owners, err := s.ownerIndex(ctx)
	if err != nil {
		return fmt.Errorf("warning: owners: %w", err)
	}

	byUUID := make(map[string]*accountdomain.Identity, len(identities))
	for i := range identities {
		byUUID[identities[i].UUID] = &identities[i]
	}

	for i := range users {
		user := &users[i]
		identity, ok := byUUID[user.UUID]
		if !ok {
			continue
		}
		owner, ok := owners[identity.UserID]
		if !ok {
			continue
		}
		if err := s.checkIdentity(ctx, user, identity, owner); err != nil {
			s.log.Warn("identity check failed",
				zap.String("uuid", user.UUID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *service) ownerIndex(ctx context.Context) (map[int64]*accountdomain.User, error) {
	users, err := s.accounts.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*accountdomain.User, len(users))
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

func (s *service) checkIdentity(ctx context.Context, user *reconciledomain.CombinedUser, identity *accountdomain.Identity, owner *accountdomain.User) error {
	now := s.clock.Now()

	if user.LastOnline != nil && identity.FirstConnectedAt == nil {
		if err := s.accounts.SetFirstConnected(ctx, identity.ID, *user.LastOnline); err != nil {
			return err
		}
		first := *user.LastOnline
		identity.FirstConnectedAt = &first
	}

	if identity.FirstConnectedAt != nil && !identity.WelcomeSent &&
		now.Sub(*identity.FirstConnectedAt) >= welcomeAfter {
		text := fmt.Sprintf("Welcome aboard, %s! Your account <b>%s</b> is up and running. Reply /help to see what I can do.", owner.FirstName, user.Name)
		if err := s.notifier.Send(ctx, owner.ID, text); err != nil {
			return err
		}
		if err := s.accounts.MarkWelcomeSent(ctx, identity.ID); err != nil {
			return err
		}
		identity.WelcomeSent = true
	}

	if owner.ExpiryWarnings && user.ExpireDays != nil &&
		*user.ExpireDays >= 0 && *user.ExpireDays <= s.cfg.WarningDaysBeforeExpiry {
		text := fmt.Sprintf("⏳ Account <b>%s</b> expires in %d day(s). Renew soon to stay connected.", user.Name, *user.ExpireDays)
		if err := s.notifyOnce(ctx, identity.ID, domain.KindExpiry, owner.ID, text); err != nil {
			return err
		}
	}

	if owner.DataWarningHiddify && user.Hiddify != nil {
		if err := s.checkPanelData(ctx, identity.ID, domain.KindLowDataHiddify, owner.ID, user.Name, "Hiddify", user.Hiddify.UsagePercent(), user.Hiddify.RemainingGB()); err != nil {
			return err
		}
	}
	if owner.DataWarningMarzban && user.Marzban != nil {
		if err := s.checkPanelData(ctx, identity.ID, domain.KindLowDataMarzban, owner.ID, user.Name, "Marzban", user.Marzban.UsagePercent(), user.Marzban.RemainingGB()); err != nil {
			return err
		}
	}

	if user.Daily != nil && user.Daily.TotalGB() >= s.cfg.DailyAlertThresholdGB {
		text := fmt.Sprintf("📈 <b>%s</b> used %.1f GB since midnight (threshold %.0f GB).", user.Name, user.Daily.TotalGB(), s.cfg.DailyAlertThresholdGB)
		ok, err := s.ShouldNotify(ctx, identity.ID, domain.KindDailySpike, s.renotifyWindow(domain.KindDailySpike))
		if err != nil {
			return err
		}
		if ok {
			if err := s.notifier.SendToAdmins(ctx, text); err != nil {
				return err
			}
			if err := s.MarkNotified(ctx, identity.ID, domain.KindDailySpike); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *service) checkPanelData(ctx context.Context, identityID snowflake.ID, kind domain.Kind, chatID int64, name, panel string, percent, remaining float64) error {
	if percent < s.cfg.WarningUsageThreshold {
		return nil
	}
	text := fmt.Sprintf("⚠️ Account <b>%s</b> has used %.0f%% of its %s volume (%.1f GB left).", name, percent, panel, remaining)
	return s.notifyOnce(ctx, identityID, kind, chatID, text)
}

// notifyOnce sends to the chat unless the (identity, kind) pair was
// already notified inside the re-notify window.
func (s *service) notifyOnce(ctx context.Context, identityID snowflake.ID, kind domain.Kind, chatID int64, text string) error {
	ok, err := s.ShouldNotify(ctx, identityID, kind, s.renotifyWindow(kind))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.notifier.Send(ctx, chatID, text); err != nil {
		return err
	}
	return s.MarkNotified(ctx, identityID, kind)
}
