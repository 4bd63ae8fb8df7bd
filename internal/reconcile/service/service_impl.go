package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	guuid "github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/nzrmohammad/panelbridge/internal/account/domain"
	"github.com/nzrmohammad/panelbridge/internal/identitymap"
	"github.com/nzrmohammad/panelbridge/internal/panel"
	paneldomain "github.com/nzrmohammad/panelbridge/internal/panel/domain"
	"github.com/nzrmohammad/panelbridge/internal/reconcile/domain"
	usagedomain "github.com/nzrmohammad/panelbridge/internal/usage/domain"
	warningdomain "github.com/nzrmohammad/panelbridge/internal/warning/domain"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clients  panel.Clients
	IDMap    *identitymap.Map
	Accounts accountdomain.Service
	Usage    usagedomain.Service
	Warnings warningdomain.Repository
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	hiddify  paneldomain.Client
	marzban  paneldomain.Client
	ids      *identitymap.Map
	accounts accountdomain.Service
	usage    usagedomain.Service
	warnings warningdomain.Repository
}

func New(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("reconcile"),
		hiddify:  p.Clients.Hiddify,
		marzban:  p.Clients.Marzban,
		ids:      p.IDMap,
		accounts: p.Accounts,
		usage:    p.Usage,
		warnings: p.Warnings,
	}
}

// resolveUUID turns an identifier into the canonical UUID. A value
// that parses as a UUID is taken as-is; anything else is treated as a
// Marzban username and mapped through the identity map.
func (s *service) resolveUUID(identifier string) (string, bool) {
	identifier = strings.TrimSpace(identifier)
	if _, err := guuid.Parse(identifier); err == nil {
		return strings.ToLower(identifier), true
	}
	if uuid, ok := s.ids.UUIDFor(identifier); ok {
		return uuid, true
	}
	return "", false
}

func (s *service) Get(ctx context.Context, identifier string) (*domain.CombinedUser, error) {
	uuid, ok := s.resolveUUID(identifier)
	if !ok {
		// Unmapped name: the user may still exist on Marzban alone.
		rec, err := s.marzban.GetUserByName(ctx, strings.TrimSpace(identifier))
		if err != nil {
			return nil, err
		}
		combined := domain.Merge(nil, rec)
		return &combined, nil
	}

	hRec, hErr := s.fetchPanel(ctx, s.hiddify, uuid)
	mRec, mErr := s.fetchPanel(ctx, s.marzban, uuid)
	if hRec == nil && mRec == nil {
		if hErr != nil || mErr != nil {
			return nil, errors.Join(hErr, mErr)
		}
		return nil, fmt.Errorf("%w: %s", paneldomain.ErrNotFound, identifier)
	}

	combined := domain.Merge(hRec, mRec)
	s.attachAccounting(ctx, &combined)
	return &combined, nil
}

// fetchPanel treats not-found as an absent record and an unreachable
// panel as a degraded read. Only unexpected errors propagate.
func (s *service) fetchPanel(ctx context.Context, client paneldomain.Client, uuid string) (*paneldomain.Record, error) {
	rec, err := client.GetUser(ctx, uuid)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, paneldomain.ErrNotFound) {
		return nil, nil
	}
	if errors.Is(err, paneldomain.ErrUnavailable) {
		s.log.Warn("panel unreachable, serving partial view",
			zap.String("panel", client.Name()),
			zap.Error(err))
		return nil, nil
	}
	return nil, err
}

func (s *service) All(ctx context.Context) ([]domain.CombinedUser, error) {
	hList, hErr := s.listPanel(ctx, s.hiddify)
	mList, mErr := s.listPanel(ctx, s.marzban)
	if hErr != nil && mErr != nil {
		return nil, errors.Join(hErr, mErr)
	}

	// Key hiddify records by UUID; marzban records join through the
	// identity map, and unmapped marzban users stand alone.
	byUUID := make(map[string]*paneldomain.Record, len(hList))
	for i := range hList {
		byUUID[hList[i].UUID] = &hList[i]
	}

	users := make([]domain.CombinedUser, 0, len(hList)+len(mList))
	claimed := make(map[string]bool, len(mList))
	for i := range mList {
		mRec := &mList[i]
		if mRec.UUID != "" {
			if hRec, ok := byUUID[mRec.UUID]; ok {
				users = append(users, domain.Merge(hRec, mRec))
				claimed[mRec.UUID] = true
				continue
			}
		}
		users = append(users, domain.Merge(nil, mRec))
	}
	for i := range hList {
		if claimed[hList[i].UUID] {
			continue
		}
		users = append(users, domain.Merge(&hList[i], nil))
	}

	s.attachAccountingAll(ctx, users)
	sort.Slice(users, func(i, j int) bool {
		return strings.ToLower(users[i].Name) < strings.ToLower(users[j].Name)
	})
	return users, nil
}

func (s *service) listPanel(ctx context.Context, client paneldomain.Client) ([]paneldomain.Record, error) {
	list, err := client.ListUsers(ctx)
	if err != nil {
		s.log.Warn("panel listing failed",
			zap.String("panel", client.Name()),
			zap.Error(err))
		return nil, err
	}
	return list, nil
}

func (s *service) Search(ctx context.Context, query string) ([]domain.CombinedUser, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	users, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	var matched []domain.CombinedUser
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.Name), query) ||
			strings.HasPrefix(strings.ToLower(u.UUID), query) {
			matched = append(matched, u)
		}
	}
	return matched, nil
}

// Modify applies the delta on the targeted panel(s) the user exists
// on. Each client translates the relative delta into its own absolute
// or relative wire format. Naming a panel the user is absent from is
// NotFound rather than a silent no-op.
func (s *service) Modify(ctx context.Context, identifier string, delta paneldomain.Delta, target string) error {
	if delta.Empty() {
		return nil
	}
	switch target {
	case "", domain.TargetBoth, domain.TargetHiddify, domain.TargetMarzban:
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownTarget, target)
	}
	user, err := s.Get(ctx, identifier)
	if err != nil {
		return err
	}
	wantHiddify := target == "" || target == domain.TargetBoth || target == domain.TargetHiddify
	wantMarzban := target == "" || target == domain.TargetBoth || target == domain.TargetMarzban
	if target == domain.TargetHiddify && !user.OnHiddify {
		return fmt.Errorf("%w: %s is not on hiddify", paneldomain.ErrNotFound, identifier)
	}
	if target == domain.TargetMarzban && !user.OnMarzban {
		return fmt.Errorf("%w: %s is not on marzban", paneldomain.ErrNotFound, identifier)
	}

	var errs []error
	if user.OnHiddify && wantHiddify {
		if err := s.hiddify.Modify(ctx, user.UUID, delta); err != nil {
			errs = append(errs, fmt.Errorf("hiddify: %w", err))
		}
	}
	if user.OnMarzban && wantMarzban {
		if err := s.marzban.Modify(ctx, user.UUID, delta); err != nil {
			errs = append(errs, fmt.Errorf("marzban: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Delete removes the user from every panel, parks the bot identity,
// and drops its snapshot history and warning dedup rows.
func (s *service) Delete(ctx context.Context, identifier string) error {
	user, err := s.Get(ctx, identifier)
	if err != nil {
		return err
	}
	var errs []error
	if user.OnHiddify {
		if err := s.hiddify.Delete(ctx, user.UUID); err != nil {
			errs = append(errs, fmt.Errorf("hiddify: %w", err))
		}
	}
	if user.OnMarzban {
		if err := s.marzban.Delete(ctx, user.UUID); err != nil {
			errs = append(errs, fmt.Errorf("marzban: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if user.IdentityID != 0 {
		if err := s.accounts.DeactivateIdentity(ctx, user.IdentityID); err != nil {
			return err
		}
		if err := s.usage.PurgeAll(ctx, user.IdentityID); err != nil {
			return err
		}
		if err := s.warnings.PurgeIdentity(ctx, s.db, user.IdentityID); err != nil {
			return err
		}
	}
	return nil
}

// ResetUsage zeroes the counters on every panel and purges today's
// snapshots so the daily figure restarts from the reset.
func (s *service) ResetUsage(ctx context.Context, identifier string) error {
	user, err := s.Get(ctx, identifier)
	if err != nil {
		return err
	}
	var errs []error
	if user.OnHiddify {
		if err := s.hiddify.ResetUsage(ctx, user.UUID); err != nil {
			errs = append(errs, fmt.Errorf("hiddify: %w", err))
		}
	}
	if user.OnMarzban {
		if err := s.marzban.ResetUsage(ctx, user.UUID); err != nil {
			errs = append(errs, fmt.Errorf("marzban: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if user.IdentityID != 0 {
		return s.usage.PurgeToday(ctx, user.IdentityID)
	}
	return nil
}

func (s *service) attachAccounting(ctx context.Context, user *domain.CombinedUser) {
	if user.UUID == "" {
		return
	}
	identity, err := s.accounts.IdentityByUUID(ctx, user.UUID)
	if err != nil || identity == nil {
		return
	}
	user.IdentityID = identity.ID
	daily, err := s.usage.DailyUsage(ctx, identity.ID)
	if err != nil {
		s.log.Warn("daily usage lookup failed",
			zap.Int64("identity_id", int64(identity.ID)),
			zap.Error(err))
		return
	}
	user.Daily = &daily
}

func (s *service) attachAccountingAll(ctx context.Context, users []domain.CombinedUser) {
	identities, err := s.accounts.ActiveIdentities(ctx)
	if err != nil {
		s.log.Warn("identity listing failed", zap.Error(err))
		return
	}
	byUUID := make(map[string]*accountdomain.Identity, len(identities))
	for i := range identities {
		byUUID[identities[i].UUID] = &identities[i]
	}
	daily, err := s.usage.DailyUsageAll(ctx)
	if err != nil {
		s.log.Warn("daily usage lookup failed", zap.Error(err))
		daily = nil
	}
	for i := range users {
		identity, ok := byUUID[users[i].UUID]
		if !ok {
			continue
		}
		users[i].IdentityID = identity.ID
		if d, ok := daily[identity.ID]; ok {
			users[i].Daily = &d
		}
	}
}
