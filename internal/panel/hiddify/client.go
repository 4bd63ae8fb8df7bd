// Package hiddify implements the panel client for the UUID-keyed Hiddify
// backend.
package hiddify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nzrmohammad/panelbridge/internal/clock"
	"github.com/nzrmohammad/panelbridge/internal/config"
	"github.com/nzrmohammad/panelbridge/internal/panel/domain"
	"go.uber.org/zap"
)

const day = 24 * time.Hour

// Client talks to the Hiddify admin API.
type Client struct {
	baseURL string
	apiKey  string
	clk     clock.Clock
	log     *zap.Logger
	client  *http.Client
}

func New(cfg config.HiddifyConfig, clk clock.Clock, log *zap.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ProxyPath != "" {
		base += "/" + strings.Trim(cfg.ProxyPath, "/")
	}
	return &Client{
		baseURL: base + "/api/v2/admin",
		apiKey:  cfg.APIKey,
		clk:     clk,
		log:     log.Named("panel.hiddify"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return domain.PanelHiddify }

// user is the vendor payload; only the fields the bridge needs.
type user struct {
	UUID           string  `json:"uuid"`
	Name           string  `json:"name"`
	Enable         bool    `json:"enable"`
	UsageLimitGB   float64 `json:"usage_limit_GB"`
	CurrentUsageGB float64 `json:"current_usage_GB"`
	LastOnline     string  `json:"last_online"`
	StartDate      string  `json:"start_date"`
	PackageDays    *int    `json:"package_days"`
}

type listResponse struct {
	Results []user `json:"results"`
	Users   []user `json:"users"`
}

func (c *Client) GetUser(ctx context.Context, uuid string) (*domain.Record, error) {
	var raw user
	if err := c.do(ctx, http.MethodGet, "/user/"+uuid+"/", nil, &raw); err != nil {
		return nil, err
	}
	rec := c.normalize(raw)
	return &rec, nil
}

// GetUserByName is unsupported: Hiddify is addressed by UUID only.
func (c *Client) GetUserByName(ctx context.Context, name string) (*domain.Record, error) {
	return nil, domain.ErrNotFound
}

func (c *Client) ListUsers(ctx context.Context) ([]domain.Record, error) {
	body, err := c.raw(ctx, http.MethodGet, "/user/", nil)
	if err != nil {
		return nil, err
	}

	// The endpoint historically returned either a bare array or a wrapper
	// object; accept both.
	var users []user
	if err := json.Unmarshal(body, &users); err != nil {
		var wrapped listResponse
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: decode user listing: %v", domain.ErrUnavailable, err)
		}
		users = wrapped.Results
		if len(users) == 0 {
			users = wrapped.Users
		}
	}

	records := make([]domain.Record, 0, len(users))
	for _, u := range users {
		if u.UUID == "" {
			continue
		}
		records = append(records, c.normalize(u))
	}
	return records, nil
}

// Modify applies a relative adjustment. Hiddify only accepts absolute values,
// so the current record is fetched first and the additions folded in.
func (c *Client) Modify(ctx context.Context, uuid string, delta domain.Delta) error {
	if delta.Empty() {
		return nil
	}
	current, err := c.GetUser(ctx, uuid)
	if err != nil {
		return err
	}

	payload := map[string]any{}
	if delta.AddGB != 0 {
		payload["usage_limit_GB"] = current.LimitGB + delta.AddGB
	}
	if delta.AddDays != 0 {
		// An expired account restarts counting from today.
		base := 0
		if current.ExpireDays != nil && *current.ExpireDays > 0 {
			base = *current.ExpireDays
		}
		payload["package_days"] = base + delta.AddDays
	}
	return c.do(ctx, http.MethodPatch, "/user/"+uuid+"/", payload, nil)
}

func (c *Client) Delete(ctx context.Context, uuid string) error {
	return c.do(ctx, http.MethodDelete, "/user/"+uuid+"/", nil, nil)
}

func (c *Client) ResetUsage(ctx context.Context, uuid string) error {
	return c.do(ctx, http.MethodPatch, "/user/"+uuid+"/", map[string]any{"current_usage_GB": 0}, nil)
}

func (c *Client) normalize(raw user) domain.Record {
	return domain.Record{
		UUID:       strings.ToLower(raw.UUID),
		Name:       raw.Name,
		Active:     raw.Enable,
		UsageGB:    raw.CurrentUsageGB,
		LimitGB:    raw.UsageLimitGB,
		LastOnline: c.parseTime(raw.LastOnline),
		ExpireDays: c.expireDays(raw.StartDate, raw.PackageDays),
	}
}

// parseTime handles the panel's assorted timestamp shapes. Naive timestamps
// are assumed UTC; unparseable values degrade to nil with a logged warning.
func (c *Client) parseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "0001-01-01") {
		return nil
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
	c.log.Warn("unparseable last_online", zap.String("value", value))
	return nil
}

// expireDays derives remaining days from start_date + package_days. A nil or
// zero package means no expiry.
func (c *Client) expireDays(startDate string, packageDays *int) *int {
	if packageDays == nil || *packageDays == 0 {
		return nil
	}
	start, err := time.Parse("2006-01-02", strings.SplitN(startDate, "T", 2)[0])
	if err != nil {
		// Unstarted package: the full allowance remains.
		days := *packageDays
		return &days
	}
	expiry := start.AddDate(0, 0, *packageDays)
	days := int(expiry.Sub(c.clk.Now().UTC().Truncate(day)) / day)
	return &days
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	body, err := c.raw(ctx, method, path, payload)
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

func (c *Client) raw(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader *strings.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = strings.NewReader(string(encoded))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Hiddify-API-Key", c.apiKey)
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
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: unauthorized, check the API key", domain.ErrUnavailable)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s %s: status %d", domain.ErrUnavailable, method, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrUnavailable, err)
	}
	return body, nil
}
