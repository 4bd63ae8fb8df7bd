// Package marzban implements the panel client for the username-keyed Marzban
// backend. Lookups by shared UUID are translated through the identity map.
package marzban

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nzrmohammad/panelbridge/internal/clock"
	"github.com/nzrmohammad/panelbridge/internal/config"
	"github.com/nzrmohammad/panelbridge/internal/identitymap"
	"github.com/nzrmohammad/panelbridge/internal/panel/domain"
	"go.uber.org/zap"
)

const gib = float64(1 << 30)

// Client talks to the Marzban admin API with bearer-token auth.
type Client struct {
	baseURL  string
	username string
	password string
	ids      *identitymap.Map
	clk      clock.Clock
	log      *zap.Logger
	client   *http.Client

	mu    sync.Mutex
	token string
}

func New(cfg config.MarzbanConfig, ids *identitymap.Map, clk clock.Clock, log *zap.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/") + "/api",
		username: cfg.Username,
		password: cfg.Password,
		ids:      ids,
		clk:      clk,
		log:      log.Named("panel.marzban"),
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return domain.PanelMarzban }

type user struct {
	Username    string `json:"username"`
	Status      string `json:"status"`
	DataLimit   *int64 `json:"data_limit"`
	UsedTraffic int64  `json:"used_traffic"`
	Expire      *int64 `json:"expire"`
	OnlineAt    string `json:"online_at"`
}

type listResponse struct {
	Users []user `json:"users"`
}

func (c *Client) GetUser(ctx context.Context, uuid string) (*domain.Record, error) {
	name, ok := c.ids.NameFor(uuid)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c.GetUserByName(ctx, name)
}

func (c *Client) GetUserByName(ctx context.Context, name string) (*domain.Record, error) {
	var raw user
	if err := c.do(ctx, http.MethodGet, "/user/"+url.PathEscape(name), nil, &raw); err != nil {
		return nil, err
	}
	rec := c.normalize(raw)
	return &rec, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]domain.Record, error) {
	var raw listResponse
	if err := c.do(ctx, http.MethodGet, "/users", nil, &raw); err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(raw.Users))
	for _, u := range raw.Users {
		if u.Username == "" {
			continue
		}
		records = append(records, c.normalize(u))
	}
	return records, nil
}

// Modify applies a relative adjustment. Marzban stores absolute byte limits
// and unix expiry timestamps, so the current record is fetched and the
// additions folded in.
func (c *Client) Modify(ctx context.Context, uuid string, delta domain.Delta) error {
	if delta.Empty() {
		return nil
	}
	name, ok := c.ids.NameFor(uuid)
	if !ok {
		return domain.ErrNotFound
	}

	var current user
	if err := c.do(ctx, http.MethodGet, "/user/"+url.PathEscape(name), nil, &current); err != nil {
		return err
	}

	payload := map[string]any{}
	if delta.AddGB != 0 {
		var limit int64
		if current.DataLimit != nil {
			limit = *current.DataLimit
		}
		payload["data_limit"] = limit + int64(delta.AddGB*gib)
	}
	if delta.AddDays != 0 {
		base := c.clk.Now().UTC()
		if current.Expire != nil && *current.Expire > 0 {
			if t := time.Unix(*current.Expire, 0).UTC(); t.After(base) {
				base = t
			}
		}
		payload["expire"] = base.AddDate(0, 0, delta.AddDays).Unix()
	}
	return c.do(ctx, http.MethodPut, "/user/"+url.PathEscape(name), payload, nil)
}

func (c *Client) Delete(ctx context.Context, uuid string) error {
	name, ok := c.ids.NameFor(uuid)
	if !ok {
		return domain.ErrNotFound
	}
	return c.do(ctx, http.MethodDelete, "/user/"+url.PathEscape(name), nil, nil)
}

func (c *Client) ResetUsage(ctx context.Context, uuid string) error {
	name, ok := c.ids.NameFor(uuid)
	if !ok {
		return domain.ErrNotFound
	}
	return c.do(ctx, http.MethodPost, "/user/"+url.PathEscape(name)+"/reset", nil, nil)
}

func (c *Client) normalize(raw user) domain.Record {
	var limitGB float64
	if raw.DataLimit != nil {
		limitGB = float64(*raw.DataLimit) / gib
	}

	var expireDays *int
	if raw.Expire != nil && *raw.Expire > 0 {
		days := int(time.Unix(*raw.Expire, 0).Sub(c.clk.Now()).Hours() / 24)
		expireDays = &days
	}

	uuid, _ := c.ids.UUIDFor(raw.Username)
	return domain.Record{
		UUID:       uuid,
		Name:       raw.Username,
		Active:     raw.Status == "active",
		UsageGB:    float64(raw.UsedTraffic) / gib,
		LimitGB:    limitGB,
		LastOnline: c.parseTime(raw.OnlineAt),
		ExpireDays: expireDays,
	}
}

// Naive timestamps are assumed UTC.
func (c *Client) parseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if idx := strings.IndexByte(value, '.'); idx > 0 {
		value = value[:idx]
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	c.log.Warn("unparseable online_at", zap.String("value", value))
	return nil
}

// login fetches a fresh bearer token.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/admin/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: token: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: token: status %d", domain.ErrUnavailable, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		return fmt.Errorf("%w: token missing in response", domain.ErrUnavailable)
	}

	c.mu.Lock()
	c.token = body.AccessToken
	c.mu.Unlock()
	return nil
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	body, err := c.send(ctx, method, path, payload)
	if err == errTokenExpired {
		// Single re-login then retry; a second 401 is a hard failure.
		if err := c.login(ctx); err != nil {
			return err
		}
		body, err = c.send(ctx, method, path, payload)
		if err == errTokenExpired {
			err = fmt.Errorf("%w: unauthorized after token refresh", domain.ErrUnavailable)
		}
	}
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrUnavailable, err)
	}
	return nil
}

var errTokenExpired = fmt.Errorf("marzban: token expired")

func (c *Client) send(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.currentToken() == "" {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader = strings.NewReader("")
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = strings.NewReader(string(encoded))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.currentToken())
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errTokenExpired
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s %s: status %d", domain.ErrUnavailable, method, path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrUnavailable, err)
	}
	return body, nil
}
