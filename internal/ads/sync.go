package ads

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/prospector-io/prospector/internal/adsplatform"
	"github.com/prospector-io/prospector/internal/telemetry"
	"github.com/prospector-io/prospector/models"
)

// backfillWindow bounds the report range for campaigns with no prior rows.
const backfillWindow = 7 * 24 * time.Hour

// SyncStore is the persistence surface of the performance sync.
type SyncStore interface {
	ListCampaignsByStatus(ctx context.Context, statuses ...models.CampaignStatus) ([]models.AdCampaign, error)
	LatestPerformanceDate(ctx context.Context, campaignID string) (time.Time, error)
	InsertAdPerformance(ctx context.Context, p models.AdPerformance) error
	CampaignTotals(ctx context.Context, campaignID string) (models.AdPerformance, error)
	UpsertCorrelation(ctx context.Context, c models.AdSignalCorrelation) error
	UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, platformCampaignID string) error
	AppendAudit(ctx context.Context, e models.AuditEntry) error
}

// Platform is the ads API surface the sync needs.
type Platform interface {
	Report(ctx context.Context, campaignID string, from, to time.Time) ([]adsplatform.DailyReport, error)
	PauseCampaign(ctx context.Context, campaignID string) error
}

// PauseThresholds reads the auto-pause guardrail.
type PauseThresholds interface {
	AutoPauseCPCThresholdCents(ctx context.Context) (int64, error)
}

// SyncResult summarizes one performance sync run.
type SyncResult struct {
	Campaigns  int `json:"campaigns"`
	RowsSynced int `json:"rows_synced"`
	AutoPaused int `json:"auto_paused"`
	Errors     int `json:"errors"`
}

// Syncer pulls daily reports, maintains correlations and auto-pauses
// underperforming campaigns.
type Syncer struct {
	store      SyncStore
	platform   Platform
	thresholds PauseThresholds
	bus        Publisher
	logger     *log.Logger

	now func() time.Time
}

func NewSyncer(store SyncStore, platform Platform, thresholds PauseThresholds, bus Publisher, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNC] ", log.LstdFlags)
	}
	return &Syncer{
		store:      store,
		platform:   platform,
		thresholds: thresholds,
		bus:        bus,
		logger:     logger,
		now:        time.Now,
	}
}

// Run syncs every active campaign. Failures are contained per campaign.
func (s *Syncer) Run(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	campaigns, err := s.store.ListCampaignsByStatus(ctx, models.CampaignActive)
	if err != nil {
		return res, fmt.Errorf("listing active campaigns: %w", err)
	}
	cpcThreshold, err := s.thresholds.AutoPauseCPCThresholdCents(ctx)
	if err != nil {
		return res, fmt.Errorf("auto-pause threshold: %w", err)
	}

	for _, c := range campaigns {
		if c.PlatformCampaignID == "" {
			continue
		}
		res.Campaigns++
		rows, paused, err := s.syncOne(ctx, c, cpcThreshold)
		if err != nil {
			res.Errors++
			s.logger.Printf("campaign %s: sync failed: %v", c.ID, err)
			continue
		}
		res.RowsSynced += rows
		if paused {
			res.AutoPaused++
		}
	}

	s.logger.Printf("performance sync: %d campaigns, %d rows, %d auto-paused, %d errors",
		res.Campaigns, res.RowsSynced, res.AutoPaused, res.Errors)
	return res, nil
}

func (s *Syncer) syncOne(ctx context.Context, c models.AdCampaign, cpcThreshold int64) (rows int, paused bool, err error) {
	latest, err := s.store.LatestPerformanceDate(ctx, c.ID)
	if err != nil {
		return 0, false, err
	}
	now := s.now()
	from := latest.Add(24 * time.Hour)
	if latest.IsZero() {
		from = now.Add(-backfillWindow)
	}
	if from.After(now) {
		return 0, false, nil
	}

	reports, err := s.platform.Report(ctx, c.PlatformCampaignID, from, now)
	if err != nil {
		return 0, false, fmt.Errorf("fetching report: %w", err)
	}

	var newest *adsplatform.DailyReport
	for i, rep := range reports {
		perf := models.AdPerformance{
			CampaignID:           c.ID,
			Date:                 rep.Date,
			Impressions:          rep.Impressions,
			Clicks:               rep.Clicks,
			CTR:                  rep.CTR(),
			CPCCents:             rep.CPCCents(),
			CPMCents:             rep.CPMCents(),
			SpendCents:           rep.SpendCents,
			Conversions:          rep.Conversions,
			ConversionValueCents: rep.ConversionValueCents,
		}
		if err := s.store.InsertAdPerformance(ctx, perf); err != nil {
			return rows, false, fmt.Errorf("inserting performance row: %w", err)
		}
		rows++
		if newest == nil || rep.Date.After(newest.Date) {
			newest = &reports[i]
		}
	}
	if newest == nil {
		return 0, false, nil
	}

	if err := s.updateCorrelation(ctx, c); err != nil {
		return rows, false, err
	}

	if s.bus != nil {
		if err := s.bus.Publish(ctx, models.EventAdPerformance, map[string]interface{}{
			"campaign_id": c.ID,
			"date":        newest.Date.Format("2006-01-02"),
			"spend_cents": newest.SpendCents,
			"clicks":      newest.Clicks,
		}); err != nil {
			s.logger.Printf("ad_performance signal: %v", err)
		}
	}

	// Auto-pause: CPC over threshold with at least one click. The clicks
	// floor keeps zero-click days from dividing into a false trigger.
	if newest.Clicks >= 1 && newest.CPCCents() > cpcThreshold {
		if err := s.autoPause(ctx, c, newest, cpcThreshold); err != nil {
			return rows, false, err
		}
		paused = true
	}
	return rows, paused, nil
}

func (s *Syncer) updateCorrelation(ctx context.Context, c models.AdCampaign) error {
	totals, err := s.store.CampaignTotals(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("campaign totals: %w", err)
	}
	roas := 0.0
	if totals.SpendCents > 0 {
		roas = float64(totals.ConversionValueCents) / float64(totals.SpendCents)
	}
	return s.store.UpsertCorrelation(ctx, models.AdSignalCorrelation{
		CampaignID:      c.ID,
		SignalType:      c.SourceSignalType,
		TotalSpendCents: totals.SpendCents,
		Impressions:     totals.Impressions,
		Clicks:          totals.Clicks,
		Conversions:     totals.Conversions,
		ROAS:            roas,
		Rating:          models.CorrelationRating(roas),
	})
}

// autoPause stops delivery and records exactly one audit entry and one
// signal event for the pause.
func (s *Syncer) autoPause(ctx context.Context, c models.AdCampaign, rep *adsplatform.DailyReport, thresholdCents int64) error {
	if err := s.platform.PauseCampaign(ctx, c.PlatformCampaignID); err != nil {
		return fmt.Errorf("pausing campaign: %w", err)
	}
	if err := s.store.UpdateCampaignStatus(ctx, c.ID, models.CampaignPaused, ""); err != nil {
		return fmt.Errorf("marking paused: %w", err)
	}
	telemetry.AdAutoPauses.Inc()

	detail, _ := json.Marshal(map[string]interface{}{
		"campaign_id":     c.ID,
		"cpc_cents":       rep.CPCCents(),
		"threshold_cents": thresholdCents,
		"clicks":          rep.Clicks,
	})
	if err := s.store.AppendAudit(ctx, models.AuditEntry{
		Actor:   "performance_sync",
		Action:  "ad_auto_pause",
		Outcome: "paused",
		Detail:  detail,
	}); err != nil {
		s.logger.Printf("audit append: %v", err)
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, models.EventAdAutoPaused, map[string]interface{}{
			"campaign_id":     c.ID,
			"cpc_cents":       rep.CPCCents(),
			"threshold_cents": thresholdCents,
		}); err != nil {
			s.logger.Printf("ad_auto_paused signal: %v", err)
		}
	}
	s.logger.Printf("campaign %s auto-paused: cpc %d over threshold %d", c.ID, rep.CPCCents(), thresholdCents)
	return nil
}
