package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	paneldomain "github.com/nzrmohammad/panelbridge/internal/panel/domain"
	usagedomain "github.com/nzrmohammad/panelbridge/internal/usage/domain"
)

// CombinedUser is the reconciled view of one person across both
// panels. Usage and limits are summed, activity is OR-ed, and the
// per-panel records stay attached for callers that need the split.
type CombinedUser struct {
	UUID       string      `json:"uuid"`
	Name       string      `json:"name"`
	Active     bool        `json:"active"`
	UsageGB    float64     `json:"usage_gb"`
	LimitGB    float64     `json:"limit_gb"`
	LastOnline *time.Time  `json:"last_online,omitempty"`
	ExpireDays *int        `json:"expire_days,omitempty"`
	OnHiddify  bool        `json:"on_hiddify"`
	OnMarzban  bool        `json:"on_marzban"`

	Hiddify *paneldomain.Record `json:"hiddify,omitempty"`
	Marzban *paneldomain.Record `json:"marzban,omitempty"`

	// Set only when the UUID is registered to a bot user.
	IdentityID snowflake.ID            `json:"identity_id,omitempty"`
	Daily      *usagedomain.DailyUsage `json:"daily,omitempty"`
}

func (u CombinedUser) RemainingGB() float64 {
	if u.LimitGB <= 0 {
		return 0
	}
	if r := u.LimitGB - u.UsageGB; r > 0 {
		return r
	}
	return 0
}

// UsagePercent is consumption against the combined limit, 0 when the
// combined account is unlimited.
func (u CombinedUser) UsagePercent() float64 {
	if u.LimitGB <= 0 {
		return 0
	}
	return u.UsageGB / u.LimitGB * 100
}

// Merge folds the per-panel records for one person into the combined
// view. Either record may be nil; at least one must be present.
func Merge(hiddify, marzban *paneldomain.Record) CombinedUser {
	var u CombinedUser
	u.Hiddify = hiddify
	u.Marzban = marzban

	for _, rec := range []*paneldomain.Record{hiddify, marzban} {
		if rec == nil {
			continue
		}
		if u.UUID == "" {
			u.UUID = rec.UUID
		}
		if u.Name == "" {
			u.Name = rec.Name
		}
		u.Active = u.Active || rec.Active
		u.UsageGB += rec.UsageGB
		u.LimitGB += rec.LimitGB
		if rec.LastOnline != nil {
			if u.LastOnline == nil || rec.LastOnline.After(*u.LastOnline) {
				t := rec.LastOnline.UTC()
				u.LastOnline = &t
			}
		}
		u.ExpireDays = mergeExpire(u.ExpireDays, rec.ExpireDays)
	}

	u.OnHiddify = hiddify != nil
	u.OnMarzban = marzban != nil
	return u
}

// mergeExpire keeps the larger of two finite expiries; a nil side
// means that panel has no expiry, and the finite side wins so the
// combined account still shows a deadline.
func mergeExpire(a, b *int) *int {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b > *a:
		return b
	default:
		return a
	}
}

// Targets for Modify. TargetBoth applies the delta on every panel the
// user exists on; the panel-specific targets restrict it to one side.
const (
	TargetBoth    = "both"
	TargetHiddify = paneldomain.PanelHiddify
	TargetMarzban = paneldomain.PanelMarzban
)

// ErrUnknownTarget rejects a Modify target outside the three constants.
var ErrUnknownTarget = errors.New("unknown panel target")

type Service interface {
	// Get resolves an identifier, either a UUID or a panel username,
	// to the combined view.
	Get(ctx context.Context, identifier string) (*CombinedUser, error)

	// All lists every user visible on either panel, merged. A single
	// unreachable panel degrades the listing instead of failing it.
	All(ctx context.Context) ([]CombinedUser, error)

	// Search matches name or UUID prefix, case-insensitive.
	Search(ctx context.Context, query string) ([]CombinedUser, error)

	// Modify applies the delta on the targeted panel(s). An empty
	// target means TargetBoth.
	Modify(ctx context.Context, identifier string, delta paneldomain.Delta, target string) error
	Delete(ctx context.Context, identifier string) error
	ResetUsage(ctx context.Context, identifier string) error
}
