package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nzrmohammad/panelbridge/internal/account/domain"
	"github.com/nzrmohammad/panelbridge/internal/account/repository"
)

const validUUID = "11111111-1111-1111-1111-111111111111"

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.User{}, &domain.Identity{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
}

func TestTouchUserUpsert(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.TouchUser(ctx, domain.User{
		ID:           100,
		Username:     "alice",
		FirstName:    "Alice",
		DailyReports: true,
	}))
	require.NoError(t, svc.TouchUser(ctx, domain.User{
		ID:           100,
		Username:     "alice_new",
		FirstName:    "Alice",
		DailyReports: true,
	}))

	user, err := svc.GetUser(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice_new", user.Username)

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestSettingsDefaultForUnknownUser(t *testing.T) {
	svc := newTestService(t)

	settings, err := svc.Settings(context.Background(), 999)
	require.NoError(t, err)
	assert.True(t, settings.DailyReports)
	assert.True(t, settings.ExpiryWarnings)
	assert.True(t, settings.DataWarningHiddify)
	assert.True(t, settings.DataWarningMarzban)
}

func TestRegisterIdentityValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterIdentity(ctx, 100, "not-a-uuid", "alice_m")
	assert.ErrorIs(t, err, domain.ErrInvalidUUID)

	identity, err := svc.RegisterIdentity(ctx, 100, validUUID, "alice_m")
	require.NoError(t, err)
	assert.True(t, identity.Active)
	assert.Equal(t, validUUID, identity.UUID)

	// Another user cannot claim the same UUID.
	_, err = svc.RegisterIdentity(ctx, 200, validUUID, "mallory_m")
	assert.ErrorIs(t, err, domain.ErrUUIDTaken)

	// The owner re-registering is a no-op.
	again, err := svc.RegisterIdentity(ctx, 100, validUUID, "alice_m")
	require.NoError(t, err)
	assert.Equal(t, identity.ID, again.ID)
}

func TestRegisterIdentityUppercaseIsNormalized(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	identity, err := svc.RegisterIdentity(ctx, 100, "11111111-1111-1111-1111-11111111111A", "alice_m")
	require.NoError(t, err)
	assert.Equal(t, "11111111-1111-1111-1111-11111111111a", identity.UUID)
}

func TestReactivateParkedIdentity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	identity, err := svc.RegisterIdentity(ctx, 100, validUUID, "alice_m")
	require.NoError(t, err)
	require.NoError(t, svc.DeactivateIdentity(ctx, identity.ID))

	active, err := svc.ActiveIdentities(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	back, err := svc.RegisterIdentity(ctx, 100, validUUID, "alice_renamed")
	require.NoError(t, err)
	assert.Equal(t, identity.ID, back.ID)
	assert.True(t, back.Active)
	assert.Equal(t, "alice_renamed", back.Name)

	active, err = svc.ActiveIdentities(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestUsersWithBirthdayToday(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.TouchUser(ctx, domain.User{ID: 100, FirstName: "Alice"}))
	require.NoError(t, svc.TouchUser(ctx, domain.User{ID: 200, FirstName: "Bob"}))

	birthday := time.Date(1990, 5, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, svc.SetBirthday(ctx, 100, &birthday))

	users, err := svc.UsersWithBirthdayToday(ctx, time.Date(2026, 5, 10, 0, 5, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.EqualValues(t, 100, users[0].ID)

	users, err = svc.UsersWithBirthdayToday(ctx, time.Date(2026, 5, 11, 0, 5, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestFirstConnectionBookkeeping(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	identity, err := svc.RegisterIdentity(ctx, 100, validUUID, "alice_m")
	require.NoError(t, err)

	at := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, svc.SetFirstConnected(ctx, identity.ID, at))
	require.NoError(t, svc.MarkWelcomeSent(ctx, identity.ID))

	stored, err := svc.IdentityByUUID(ctx, validUUID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.FirstConnectedAt)
	assert.True(t, stored.FirstConnectedAt.Equal(at))
	assert.True(t, stored.WelcomeSent)
}
