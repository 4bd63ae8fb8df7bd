// Package domain holds the bot's own subscriber records: Telegram users and
// the panel identities (UUIDs) they registered.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is one Telegram account talking to the bot.
type User struct {
	ID                 int64      `gorm:"primaryKey" json:"id"` // Telegram chat ID
	Username           string     `json:"username"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	Birthday           *time.Time `json:"birthday,omitempty"`
	DailyReports       bool       `gorm:"not null;default:true" json:"daily_reports"`
	ExpiryWarnings     bool       `gorm:"not null;default:true" json:"expiry_warnings"`
	DataWarningHiddify bool       `gorm:"not null;default:true" json:"data_warning_hiddify"`
	DataWarningMarzban bool       `gorm:"not null;default:true" json:"data_warning_marzban"`
	AdminNote          *string    `json:"admin_note,omitempty"`
	CreatedAt          time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (User) TableName() string { return "bot_users" }

// Identity is a registered subscriber UUID. It is the join key for
// snapshots, warnings and payments; deactivation soft-deletes the row and
// hard-deletes its dependents.
type Identity struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID           int64        `gorm:"not null;index" json:"user_id"`
	UUID             string       `gorm:"not null;uniqueIndex" json:"uuid"`
	Name             string       `json:"name"`
	Active           bool         `gorm:"not null;default:true" json:"active"`
	FirstConnectedAt *time.Time   `json:"first_connected_at,omitempty"`
	WelcomeSent      bool         `gorm:"not null;default:false" json:"welcome_sent"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Identity) TableName() string { return "identities" }

// Settings are the per-user notification toggles.
type Settings struct {
	DailyReports       bool `json:"daily_reports"`
	ExpiryWarnings     bool `json:"expiry_warnings"`
	DataWarningHiddify bool `json:"data_warning_hiddify"`
	DataWarningMarzban bool `json:"data_warning_marzban"`
}

var (
	ErrInvalidUUID = errors.New("invalid_uuid")
	// ErrUUIDTaken means another user holds the UUID (active or parked).
	ErrUUIDTaken = errors.New("uuid_already_registered")
	ErrNotFound  = errors.New("account_not_found")
)
