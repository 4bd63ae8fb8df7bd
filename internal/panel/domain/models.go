// Package domain defines the capability contract both VPN panels implement
// and the normalized per-panel subscriber record produced at the client
// boundary.
package domain

import (
	"context"
	"errors"
	"time"
)

// Panel names, used as cache keys and snapshot columns.
const (
	PanelHiddify = "hiddify"
	PanelMarzban = "marzban"
)

// Record is one panel's current view of a subscriber, normalized from the
// vendor payload. It is ephemeral and never persisted.
type Record struct {
	// UUID is the shared identity. Empty for Marzban users that were never
	// linked through the identity map.
	UUID string
	// Name is the display name (Hiddify) or the panel-local username (Marzban).
	Name   string
	Active bool
	// UsageGB is the cumulative counter the panel reports; it only grows
	// except on an explicit reset.
	UsageGB float64
	// LimitGB of 0 means unlimited.
	LimitGB float64
	// LastOnline is UTC-normalized; nil when the panel never saw the user.
	LastOnline *time.Time
	// ExpireDays is days until expiry (negative when already expired); nil
	// means no expiry configured.
	ExpireDays *int
}

// RemainingGB is the unused allowance, clamped at zero.
func (r Record) RemainingGB() float64 {
	if remaining := r.LimitGB - r.UsageGB; remaining > 0 {
		return remaining
	}
	return 0
}

// UsagePercent is the consumed share of the limit; 0 when unlimited.
func (r Record) UsagePercent() float64 {
	if r.LimitGB <= 0 {
		return 0
	}
	return r.UsageGB / r.LimitGB * 100
}

// Delta is a relative adjustment applied to a subscriber's allowance.
type Delta struct {
	AddGB   float64
	AddDays int
}

func (d Delta) Empty() bool {
	return d.AddGB == 0 && d.AddDays == 0
}

// Client is the capability contract shared by both panels. Lookup keys are
// always the shared UUID; the Marzban implementation translates through the
// identity map internally.
type Client interface {
	Name() string
	GetUser(ctx context.Context, uuid string) (*Record, error)
	GetUserByName(ctx context.Context, name string) (*Record, error)
	ListUsers(ctx context.Context) ([]Record, error)
	Modify(ctx context.Context, uuid string, delta Delta) error
	Delete(ctx context.Context, uuid string) error
	ResetUsage(ctx context.Context, uuid string) error
}

var (
	// ErrNotFound means the panel does not know the subscriber. This is a
	// normal state for single-panel subscribers, not a failure.
	ErrNotFound = errors.New("panel: user not found")
	// ErrUnavailable means the panel could not answer (transport failure,
	// timeout, 5xx). Callers degrade this panel's contribution to absent.
	ErrUnavailable = errors.New("panel: unavailable")
)
