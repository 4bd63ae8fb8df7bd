package marzban

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nzrmohammad/panelbridge/internal/clock"
	"github.com/nzrmohammad/panelbridge/internal/config"
	"github.com/nzrmohammad/panelbridge/internal/identitymap"
	"github.com/nzrmohammad/panelbridge/internal/panel/domain"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestMap(t *testing.T, entries map[string]string) *identitymap.Map {
	t.Helper()
	path := filepath.Join(t.TempDir(), "identity_map.json")
	raw, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return identitymap.New(config.Config{IdentityMapPath: path}, zap.NewNop())
}

func newTestClient(t *testing.T, ids *identitymap.Map, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.MarzbanConfig{
		BaseURL:  srv.URL,
		Username: "admin",
		Password: "pass",
		Timeout:  5 * time.Second,
	}, ids, clock.NewFakeClock(testNow), zap.NewNop())
}

func tokenOr(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/admin/token" {
			ok := r.FormValue("username") == "admin" && r.FormValue("password") == "pass"
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1"})
			return
		}
		next(w, r)
	}
}

func TestGetUserResolvesThroughIdentityMap(t *testing.T) {
	ids := newTestMap(t, map[string]string{"ABC-123": "alice_m"})
	limit := int64(20 << 30)
	client := newTestClient(t, ids, tokenOr(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user/alice_m", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(user{
			Username:    "alice_m",
			Status:      "active",
			DataLimit:   &limit,
			UsedTraffic: 5 << 30,
			OnlineAt:    "2026-05-10T08:30:00.123456",
		})
	}))

	rec, err := client.GetUser(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", rec.UUID)
	assert.Equal(t, "alice_m", rec.Name)
	assert.True(t, rec.Active)
	assert.InDelta(t, 5.0, rec.UsageGB, 1e-9)
	assert.InDelta(t, 20.0, rec.LimitGB, 1e-9)
	require.NotNil(t, rec.LastOnline)
	assert.True(t, rec.LastOnline.Equal(time.Date(2026, 5, 10, 8, 30, 0, 0, time.UTC)))
}

func TestGetUserUnmappedUUID(t *testing.T) {
	ids := newTestMap(t, nil)
	client := newTestClient(t, ids, tokenOr(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an unmapped uuid")
	}))

	_, err := client.GetUser(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestExpiredTokenTriggersSingleRelogin(t *testing.T) {
	ids := newTestMap(t, map[string]string{"abc": "alice_m"})
	logins := 0
	client := newTestClient(t, ids, func() http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/admin/token" {
				logins++
				_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
				return
			}
			// First authenticated call is rejected, the retry succeeds.
			if logins < 2 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(user{Username: "alice_m", Status: "active"})
		}
	}())

	rec, err := client.GetUserByName(context.Background(), "alice_m")
	require.NoError(t, err)
	assert.Equal(t, "alice_m", rec.Name)
	assert.Equal(t, 2, logins)
}

func TestModifyFoldsRelativeIntoAbsolute(t *testing.T) {
	ids := newTestMap(t, map[string]string{"abc": "alice_m"})
	limit := int64(10 << 30)
	future := testNow.Add(5 * 24 * time.Hour).Unix()
	var put map[string]any
	client := newTestClient(t, ids, tokenOr(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(user{
				Username:  "alice_m",
				DataLimit: &limit,
				Expire:    &future,
			})
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&put))
			w.WriteHeader(http.StatusOK)
		}
	}))

	require.NoError(t, client.Modify(context.Background(), "abc", domain.Delta{AddGB: 15, AddDays: 15}))
	require.NotNil(t, put)

	wantBytes := float64(limit) + 15*float64(1<<30)
	assert.InDelta(t, wantBytes, put["data_limit"].(float64), 1)

	// Days extend from the current (future) expiry, not from today.
	gotExpire := int64(put["expire"].(float64))
	wantExpire := time.Unix(future, 0).UTC().AddDate(0, 0, 15).Unix()
	assert.Equal(t, wantExpire, gotExpire)
}

func TestModifyExtendsFromClockWhenExpired(t *testing.T) {
	ids := newTestMap(t, map[string]string{"abc": "alice_m"})
	past := testNow.Add(-48 * time.Hour).Unix()
	var put map[string]any
	client := newTestClient(t, ids, tokenOr(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(user{Username: "alice_m", Expire: &past})
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&put))
			w.WriteHeader(http.StatusOK)
		}
	}))

	require.NoError(t, client.Modify(context.Background(), "abc", domain.Delta{AddDays: 10}))
	require.NotNil(t, put)

	// A lapsed expiry extends from the injected clock, not the wall clock.
	want := testNow.AddDate(0, 0, 10).Unix()
	assert.Equal(t, want, int64(put["expire"].(float64)))
}

func TestExpireDaysCountsFromInjectedClock(t *testing.T) {
	ids := newTestMap(t, map[string]string{"abc": "alice_m"})
	expire := testNow.Add(21*24*time.Hour + time.Hour).Unix()
	client := newTestClient(t, ids, tokenOr(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(user{Username: "alice_m", Status: "active", Expire: &expire})
	}))

	rec, err := client.GetUserByName(context.Background(), "alice_m")
	require.NoError(t, err)
	require.NotNil(t, rec.ExpireDays)
	assert.Equal(t, 21, *rec.ExpireDays)
}

func TestResetUsagePostsReset(t *testing.T) {
	ids := newTestMap(t, map[string]string{"abc": "alice_m"})
	var path, method string
	client := newTestClient(t, ids, tokenOr(func(w http.ResponseWriter, r *http.Request) {
		path, method = r.URL.Path, r.Method
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.ResetUsage(context.Background(), "abc"))
	assert.Equal(t, "/api/user/alice_m/reset", path)
	assert.Equal(t, http.MethodPost, method)
}

func TestListUsersSkipsNameless(t *testing.T) {
	ids := newTestMap(t, map[string]string{"abc": "alice_m"})
	client := newTestClient(t, ids, tokenOr(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(listResponse{Users: []user{
			{Username: "alice_m", Status: "active"},
			{Username: "", Status: "active"},
			{Username: "bob_m", Status: "disabled"},
		}})
	}))

	records, err := client.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "abc", records[0].UUID)
	assert.False(t, records[1].Active)
	assert.Empty(t, records[1].UUID)
}
