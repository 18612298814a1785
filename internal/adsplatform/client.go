// Package adsplatform implements the ads API client. Writes are only ever
// issued for human-approved recommendations; the client itself enforces
// nothing and trusts the review boundary upstream. It shares the process-wide
// rate limiter with the content reader.
package adsplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prospector-io/prospector/config"
	"github.com/prospector-io/prospector/internal/ratelimit"
	"github.com/prospector-io/prospector/internal/reddit"
)

// Campaign is the platform-side campaign resource.
type Campaign struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Objective        string `json:"objective"`
	Status           string `json:"status"`
	DailyBudgetCents int64  `json:"daily_budget_cents"`
}

// AdGroup targets one community under a campaign.
type AdGroup struct {
	ID              string `json:"id"`
	CampaignID      string `json:"campaign_id"`
	Name            string `json:"name"`
	TargetCommunity string `json:"target_community"`
	BidCents        int64  `json:"bid_cents"`
}

// Creative is the ad copy attached to an ad group.
type Creative struct {
	ID             string `json:"id"`
	AdGroupID      string `json:"ad_group_id"`
	Headline       string `json:"headline"`
	DestinationURL string `json:"destination_url"`
}

// DailyReport is one day of campaign metrics in integer minor units.
type DailyReport struct {
	CampaignID           string    `json:"campaign_id"`
	Date                 time.Time `json:"date"`
	Impressions          int64     `json:"impressions"`
	Clicks               int64     `json:"clicks"`
	SpendCents           int64     `json:"spend_cents"`
	Conversions          int64     `json:"conversions"`
	ConversionValueCents int64     `json:"conversion_value_cents"`
}

// CTR is clicks over impressions, zero-safe.
func (r DailyReport) CTR() float64 {
	if r.Impressions == 0 {
		return 0
	}
	return float64(r.Clicks) / float64(r.Impressions)
}

// CPCCents is spend per click in minor units, zero-safe.
func (r DailyReport) CPCCents() int64 {
	if r.Clicks == 0 {
		return 0
	}
	return r.SpendCents / r.Clicks
}

// CPMCents is spend per thousand impressions in minor units, zero-safe.
func (r DailyReport) CPMCents() int64 {
	if r.Impressions == 0 {
		return 0
	}
	return r.SpendCents * 1000 / r.Impressions
}

// Client is the ads API client scoped to one account.
type Client struct {
	http      *http.Client
	limiter   *ratelimit.Limiter
	creds     reddit.CredentialProvider
	baseURL   string
	accountID string
}

func NewClient(cfg config.AdsConfig, limiter *ratelimit.Limiter, creds reddit.CredentialProvider) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		limiter:   limiter,
		creds:     creds,
		baseURL:   cfg.BaseURL,
		accountID: cfg.AccountID,
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if err := c.limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("rate limit acquire: %w", err)
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ads %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(raw) > 512 {
			raw = raw[:512]
		}
		return &reddit.APIError{Endpoint: path, Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

// Account verifies the configured account exists and is writable.
func (c *Client) Account(ctx context.Context) (string, error) {
	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts/"+c.accountID, nil, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

// CreateCampaign creates a paused campaign and returns its platform id.
// Campaigns always start paused; activation is a separate explicit step.
func (c *Client) CreateCampaign(ctx context.Context, name, objective string, dailyBudgetCents int64) (Campaign, error) {
	in := map[string]interface{}{
		"name":               name,
		"objective":          objective,
		"status":             "PAUSED",
		"daily_budget_cents": dailyBudgetCents,
	}
	var out Campaign
	if err := c.do(ctx, http.MethodPost, "/accounts/"+c.accountID+"/campaigns", in, &out); err != nil {
		return Campaign{}, err
	}
	return out, nil
}

// GetCampaign reads one platform campaign.
func (c *Client) GetCampaign(ctx context.Context, campaignID string) (Campaign, error) {
	var out Campaign
	if err := c.do(ctx, http.MethodGet, "/accounts/"+c.accountID+"/campaigns/"+campaignID, nil, &out); err != nil {
		return Campaign{}, err
	}
	return out, nil
}

// CreateAdGroup attaches community targeting to a campaign.
func (c *Client) CreateAdGroup(ctx context.Context, campaignID, name, community string, bidCents int64) (AdGroup, error) {
	in := map[string]interface{}{
		"campaign_id":      campaignID,
		"name":             name,
		"target_community": community,
		"bid_cents":        bidCents,
	}
	var out AdGroup
	if err := c.do(ctx, http.MethodPost, "/accounts/"+c.accountID+"/ad_groups", in, &out); err != nil {
		return AdGroup{}, err
	}
	return out, nil
}

// CreateCreative attaches copy to an ad group.
func (c *Client) CreateCreative(ctx context.Context, adGroupID, headline, destinationURL string) (Creative, error) {
	in := map[string]interface{}{
		"ad_group_id":     adGroupID,
		"headline":        headline,
		"destination_url": destinationURL,
	}
	var out Creative
	if err := c.do(ctx, http.MethodPost, "/accounts/"+c.accountID+"/creatives", in, &out); err != nil {
		return Creative{}, err
	}
	return out, nil
}

// PauseCampaign stops delivery.
func (c *Client) PauseCampaign(ctx context.Context, campaignID string) error {
	in := map[string]string{"status": "PAUSED"}
	return c.do(ctx, http.MethodPatch, "/accounts/"+c.accountID+"/campaigns/"+campaignID, in, nil)
}

// ResumeCampaign restarts delivery.
func (c *Client) ResumeCampaign(ctx context.Context, campaignID string) error {
	in := map[string]string{"status": "ACTIVE"}
	return c.do(ctx, http.MethodPatch, "/accounts/"+c.accountID+"/campaigns/"+campaignID, in, nil)
}

// Report fetches daily metrics rows for a campaign over a date range.
func (c *Client) Report(ctx context.Context, campaignID string, from, to time.Time) ([]DailyReport, error) {
	path := fmt.Sprintf("/accounts/%s/campaigns/%s/report?from=%s&to=%s",
		c.accountID, campaignID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	var out struct {
		Rows []DailyReport `json:"rows"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}
