package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	accountdomain "github.com/nzrmohammad/panelbridge/internal/account/domain"
	"github.com/nzrmohammad/panelbridge/internal/clock"
	"github.com/nzrmohammad/panelbridge/internal/config"
	paneldomain "github.com/nzrmohammad/panelbridge/internal/panel/domain"
	reconciledomain "github.com/nzrmohammad/panelbridge/internal/reconcile/domain"
	usagedomain "github.com/nzrmohammad/panelbridge/internal/usage/domain"
	"github.com/nzrmohammad/panelbridge/internal/warning/domain"
	"github.com/nzrmohammad/panelbridge/internal/warning/repository"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  map[int64][]string
	admin []string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(map[int64][]string)}
}

func (n *recordingNotifier) Send(ctx context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[chatID] = append(n.sent[chatID], text)
	return nil
}

func (n *recordingNotifier) SendToAdmins(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.admin = append(n.admin, text)
	return nil
}

type stubAccounts struct {
	users      []accountdomain.User
	identities []accountdomain.Identity

	firstConnected map[snowflake.ID]time.Time
	welcomed       map[snowflake.ID]bool
}

func (s *stubAccounts) TouchUser(ctx context.Context, user accountdomain.User) error { return nil }
func (s *stubAccounts) GetUser(ctx context.Context, id int64) (*accountdomain.User, error) {
	return nil, nil
}
func (s *stubAccounts) ListUsers(ctx context.Context) ([]accountdomain.User, error) {
	return s.users, nil
}
func (s *stubAccounts) Settings(ctx context.Context, id int64) (accountdomain.Settings, error) {
	return accountdomain.Settings{}, nil
}
func (s *stubAccounts) UpdateSettings(ctx context.Context, id int64, settings accountdomain.Settings) error {
	return nil
}
func (s *stubAccounts) SetBirthday(ctx context.Context, id int64, birthday *time.Time) error {
	return nil
}
func (s *stubAccounts) SetAdminNote(ctx context.Context, id int64, note *string) error { return nil }
func (s *stubAccounts) UsersWithBirthdayToday(ctx context.Context, now time.Time) ([]accountdomain.User, error) {
	return nil, nil
}
func (s *stubAccounts) RegisterIdentity(ctx context.Context, userID int64, uuid, name string) (*accountdomain.Identity, error) {
	return nil, nil
}
func (s *stubAccounts) IdentityByUUID(ctx context.Context, uuid string) (*accountdomain.Identity, error) {
	return nil, nil
}
func (s *stubAccounts) IdentitiesForUser(ctx context.Context, userID int64) ([]accountdomain.Identity, error) {
	return nil, nil
}
func (s *stubAccounts) ActiveIdentities(ctx context.Context) ([]accountdomain.Identity, error) {
	return s.identities, nil
}
func (s *stubAccounts) DeactivateIdentity(ctx context.Context, id snowflake.ID) error { return nil }
func (s *stubAccounts) SetFirstConnected(ctx context.Context, id snowflake.ID, at time.Time) error {
	if s.firstConnected == nil {
		s.firstConnected = make(map[snowflake.ID]time.Time)
	}
	s.firstConnected[id] = at
	return nil
}
func (s *stubAccounts) MarkWelcomeSent(ctx context.Context, id snowflake.ID) error {
	if s.welcomed == nil {
		s.welcomed = make(map[snowflake.ID]bool)
	}
	s.welcomed[id] = true
	return nil
}

type stubReconcile struct {
	users []reconciledomain.CombinedUser
}

func (s *stubReconcile) Get(ctx context.Context, identifier string) (*reconciledomain.CombinedUser, error) {
	return nil, paneldomain.ErrNotFound
}
func (s *stubReconcile) All(ctx context.Context) ([]reconciledomain.CombinedUser, error) {
	return s.users, nil
}
func (s *stubReconcile) Search(ctx context.Context, query string) ([]reconciledomain.CombinedUser, error) {
	return nil, nil
}
func (s *stubReconcile) Modify(ctx context.Context, identifier string, delta paneldomain.Delta, target string) error {
	return nil
}
func (s *stubReconcile) Delete(ctx context.Context, identifier string) error     { return nil }
func (s *stubReconcile) ResetUsage(ctx context.Context, identifier string) error { return nil }

func testConfig() config.Config {
	return config.Config{
		Timezone:                "UTC",
		WarningUsageThreshold:   85,
		WarningDaysBeforeExpiry: 2,
		DailyAlertThresholdGB:   5,
		ExpiryRenotifyWindow:    24 * time.Hour,
		LowDataRenotifyWindow:   24 * time.Hour,
		SpikeRenotifyWindow:     24 * time.Hour,
	}
}

func newTestService(t *testing.T, fake *clock.FakeClock, accounts *stubAccounts, rec *stubReconcile, notifier *recordingNotifier) domain.Service {
	return newTestServiceWith(t, fake, testConfig(), accounts, rec, notifier)
}

func newTestServiceWith(t *testing.T, fake *clock.FakeClock, cfg config.Config, accounts *stubAccounts, rec *stubReconcile, notifier *recordingNotifier) domain.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Log{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fake,
		Cfg:       cfg,
		Repo:      repository.Provide(),
		Accounts:  accounts,
		Reconcile: rec,
		Notifier:  notifier,
	})
}

func intPtr(v int) *int { return &v }

func fixtures(expireDays *int, hiddifyUsage float64) (*stubAccounts, *stubReconcile) {
	accounts := &stubAccounts{
		users: []accountdomain.User{{
			ID:                 100,
			FirstName:          "Alice",
			DailyReports:       true,
			ExpiryWarnings:     true,
			DataWarningHiddify: true,
			DataWarningMarzban: true,
		}},
		identities: []accountdomain.Identity{{
			ID:     1,
			UserID: 100,
			UUID:   "11111111-1111-1111-1111-111111111111",
			Active: true,
		}},
	}
	rec := &stubReconcile{
		users: []reconciledomain.CombinedUser{{
			UUID:       "11111111-1111-1111-1111-111111111111",
			Name:       "alice",
			Active:     true,
			ExpireDays: expireDays,
			Hiddify: &paneldomain.Record{
				UUID:    "11111111-1111-1111-1111-111111111111",
				UsageGB: hiddifyUsage,
				LimitGB: 10,
			},
			IdentityID: 1,
		}},
	}
	return accounts, rec
}

func TestExpiryWarningDedup(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC))
	accounts, rec := fixtures(intPtr(1), 0)
	notifier := newRecordingNotifier()
	svc := newTestService(t, fake, accounts, rec, notifier)

	require.NoError(t, svc.RunChecks(context.Background()))
	require.Len(t, notifier.sent[100], 1)
	assert.Contains(t, notifier.sent[100][0], "expires in 1 day")

	// A second sweep inside the window stays silent.
	fake.Advance(4 * time.Hour)
	require.NoError(t, svc.RunChecks(context.Background()))
	assert.Len(t, notifier.sent[100], 1)

	// Past the 24h window it fires again.
	fake.Advance(21 * time.Hour)
	require.NoError(t, svc.RunChecks(context.Background()))
	assert.Len(t, notifier.sent[100], 2)
}

func TestRenotifyWindowIsPerKind(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC))
	notifier := newRecordingNotifier()
	accounts, rec := fixtures(intPtr(1), 0)
	rec.users[0].Daily = &usagedomain.DailyUsage{HiddifyGB: 6}

	cfg := testConfig()
	cfg.SpikeRenotifyWindow = time.Hour
	svc := newTestServiceWith(t, fake, cfg, accounts, rec, notifier)

	require.NoError(t, svc.RunChecks(context.Background()))
	assert.Len(t, notifier.sent[100], 1)
	assert.Len(t, notifier.admin, 1)

	// Two hours later the spike alert repeats, the expiry one does not.
	fake.Advance(2 * time.Hour)
	require.NoError(t, svc.RunChecks(context.Background()))
	assert.Len(t, notifier.sent[100], 1)
	assert.Len(t, notifier.admin, 2)
}

func TestLowDataWarningThreshold(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC))
	notifier := newRecordingNotifier()
	accounts, rec := fixtures(nil, 8.4) // 84%, just below
	svc := newTestService(t, fake, accounts, rec, notifier)

	require.NoError(t, svc.RunChecks(context.Background()))
	assert.Empty(t, notifier.sent[100])

	rec.users[0].Hiddify.UsageGB = 8.5 // 85%, at threshold
	require.NoError(t, svc.RunChecks(context.Background()))
	require.Len(t, notifier.sent[100], 1)
	assert.Contains(t, notifier.sent[100][0], "85%")
}

func TestDailySpikeGoesToAdmins(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC))
	notifier := newRecordingNotifier()
	accounts, rec := fixtures(nil, 0)
	rec.users[0].Daily = &usagedomain.DailyUsage{HiddifyGB: 4, MarzbanGB: 2}
	svc := newTestService(t, fake, accounts, rec, notifier)

	require.NoError(t, svc.RunChecks(context.Background()))
	assert.Empty(t, notifier.sent[100])
	require.Len(t, notifier.admin, 1)
	assert.Contains(t, notifier.admin[0], "6.0 GB")
}

func TestWelcomeAfterGracePeriod(t *testing.T) {
	start := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	fake := clock.NewFakeClock(start)
	notifier := newRecordingNotifier()
	accounts, rec := fixtures(nil, 0)
	online := start.Add(-time.Hour)
	rec.users[0].LastOnline = &online
	svc := newTestService(t, fake, accounts, rec, notifier)

	// First sweep records the first connection, no welcome yet.
	require.NoError(t, svc.RunChecks(context.Background()))
	require.Contains(t, accounts.firstConnected, snowflake.ID(1))
	assert.Empty(t, notifier.welcomes(100))

	// The stored timestamp has to flow back into the next sweep.
	first := accounts.firstConnected[1]
	accounts.identities[0].FirstConnectedAt = &first

	fake.Advance(49 * time.Hour)
	require.NoError(t, svc.RunChecks(context.Background()))
	require.Len(t, notifier.welcomes(100), 1)
	assert.True(t, accounts.welcomed[1])
}

func (n *recordingNotifier) welcomes(chatID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, text := range n.sent[chatID] {
		if strings.Contains(text, "Welcome") {
			out = append(out, text)
		}
	}
	return out
}

func TestDisabledTogglesSuppressWarnings(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC))
	notifier := newRecordingNotifier()
	accounts, rec := fixtures(intPtr(0), 9.9)
	accounts.users[0].ExpiryWarnings = false
	accounts.users[0].DataWarningHiddify = false
	svc := newTestService(t, fake, accounts, rec, notifier)

	require.NoError(t, svc.RunChecks(context.Background()))
	assert.Empty(t, notifier.sent[100])
}
