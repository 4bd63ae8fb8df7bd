package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	UpsertUser(ctx context.Context, db *gorm.DB, user *User) error
	FindUser(ctx context.Context, db *gorm.DB, id int64) (*User, error)
	ListUsers(ctx context.Context, db *gorm.DB) ([]User, error)
	UpdateSettings(ctx context.Context, db *gorm.DB, id int64, settings Settings) error
	SetBirthday(ctx context.Context, db *gorm.DB, id int64, birthday *time.Time) error
	SetAdminNote(ctx context.Context, db *gorm.DB, id int64, note *string) error
	UsersWithBirthdayOn(ctx context.Context, db *gorm.DB, month time.Month, day int) ([]User, error)

	InsertIdentity(ctx context.Context, db *gorm.DB, identity *Identity) error
	FindIdentityByUUID(ctx context.Context, db *gorm.DB, uuid string) (*Identity, error)
	IdentitiesForUser(ctx context.Context, db *gorm.DB, userID int64) ([]Identity, error)
	ActiveIdentities(ctx context.Context, db *gorm.DB) ([]Identity, error)
	ReactivateIdentity(ctx context.Context, db *gorm.DB, id snowflake.ID, name string) error
	DeactivateIdentity(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	SetFirstConnected(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	MarkWelcomeSent(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

type Service interface {
	TouchUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	Settings(ctx context.Context, id int64) (Settings, error)
	UpdateSettings(ctx context.Context, id int64, settings Settings) error
	SetBirthday(ctx context.Context, id int64, birthday *time.Time) error
	SetAdminNote(ctx context.Context, id int64, note *string) error
	UsersWithBirthdayToday(ctx context.Context, now time.Time) ([]User, error)

	RegisterIdentity(ctx context.Context, userID int64, uuid, name string) (*Identity, error)
	IdentityByUUID(ctx context.Context, uuid string) (*Identity, error)
	IdentitiesForUser(ctx context.Context, userID int64) ([]Identity, error)
	ActiveIdentities(ctx context.Context) ([]Identity, error)
	DeactivateIdentity(ctx context.Context, id snowflake.ID) error
	SetFirstConnected(ctx context.Context, id snowflake.ID, at time.Time) error
	MarkWelcomeSent(ctx context.Context, id snowflake.ID) error
}
