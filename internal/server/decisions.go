package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/prospector-io/prospector/models"
)

func (a *App) handleListDecisions(c echo.Context) error {
	items, err := a.store.ListPendingDecisions(c.Request().Context(), 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"decisions": items})
}

func (a *App) handleApprove(c echo.Context) error {
	return a.resolve(c, models.DecisionApproved)
}

func (a *App) handleReject(c echo.Context) error {
	return a.resolve(c, models.DecisionRejected)
}

// resolve transitions the item exactly once, then runs the type-specific
// follow-through. A second resolution attempt gets a 409, never a silent
// success.
func (a *App) resolve(c echo.Context, status models.DecisionStatus) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	resolvedBy, _ := c.Get("user_id").(string)
	if resolvedBy == "" {
		resolvedBy = "operator"
	}

	item, err := a.store.GetDecision(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "decision not found")
	}
	if err := a.store.ResolveDecision(ctx, id, status, resolvedBy); err != nil {
		if errors.Is(err, models.ErrAlreadyResolved) {
			return echo.NewHTTPError(http.StatusConflict, "decision already resolved")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	response := map[string]interface{}{"id": id, "status": status}
	if status == models.DecisionApproved {
		if err := a.followThrough(ctx, item, response); err != nil {
			a.logger.Printf("decision %s follow-through: %v", id, err)
			response["follow_through_error"] = err.Error()
		}
	} else if item.Type == models.DecisionAdRecommendation {
		a.rejectRecommendation(ctx, item, resolvedBy)
	}
	return c.JSON(http.StatusOK, response)
}

// followThrough applies the approved action. Draft approval is advisory: the
// opportunity moves to approved and a human posts the response themselves.
// Ad-recommendation approval is the only path that creates a real campaign.
func (a *App) followThrough(ctx context.Context, item models.DecisionQueueItem, response map[string]interface{}) error {
	switch item.Type {
	case models.DecisionDraftResponse:
		if item.OpportunityID == nil {
			return nil
		}
		return a.store.UpdateOpportunityStatus(ctx, *item.OpportunityID, models.OpportunityApproved)

	case models.DecisionAdRecommendation:
		var payload struct {
			CampaignID string `json:"campaign_id"`
		}
		if err := json.Unmarshal(item.Payload, &payload); err != nil || payload.CampaignID == "" {
			return errors.New("recommendation payload missing campaign_id")
		}
		platformID, err := a.createCampaign(ctx, payload.CampaignID)
		if err != nil {
			return err
		}
		response["platform_campaign_id"] = platformID
		return nil

	default:
		return nil
	}
}

// createCampaign builds the approved campaign on the ads platform: campaign,
// one ad group targeting the recommended community, one creative. Status
// walks recommended → approved → creating → active; any failure lands on
// failed with the error audited.
func (a *App) createCampaign(ctx context.Context, campaignID string) (string, error) {
	campaign, err := a.store.GetAdCampaign(ctx, campaignID)
	if err != nil {
		return "", err
	}
	if err := a.store.UpdateCampaignStatus(ctx, campaignID, models.CampaignApproved, ""); err != nil {
		return "", err
	}
	if err := a.store.UpdateCampaignStatus(ctx, campaignID, models.CampaignCreating, ""); err != nil {
		return "", err
	}

	fail := func(stage string, err error) (string, error) {
		_ = a.store.UpdateCampaignStatus(ctx, campaignID, models.CampaignFailed, "")
		detail, _ := json.Marshal(map[string]string{"stage": stage, "error": err.Error()})
		_ = a.store.AppendAudit(ctx, models.AuditEntry{
			Actor:   "review_boundary",
			Action:  "ad_campaign_create",
			Outcome: "failed",
			Detail:  detail,
		})
		return "", err
	}

	created, err := a.ads.CreateCampaign(ctx, campaign.Name, "TRAFFIC", campaign.DailyBudgetCents)
	if err != nil {
		return fail("campaign", err)
	}
	group, err := a.ads.CreateAdGroup(ctx, created.ID, campaign.Name+" group", campaign.TargetSubreddit, campaign.DailyBudgetCents/10)
	if err != nil {
		return fail("ad_group", err)
	}
	if _, err := a.ads.CreateCreative(ctx, group.ID, campaign.Headline, ""); err != nil {
		return fail("creative", err)
	}
	if err := a.ads.ResumeCampaign(ctx, created.ID); err != nil {
		return fail("activate", err)
	}
	if err := a.store.UpdateCampaignStatus(ctx, campaignID, models.CampaignActive, created.ID); err != nil {
		return "", err
	}

	detail, _ := json.Marshal(map[string]string{
		"campaign_id":          campaignID,
		"platform_campaign_id": created.ID,
	})
	_ = a.store.AppendAudit(ctx, models.AuditEntry{
		Actor:   "review_boundary",
		Action:  "ad_campaign_create",
		Outcome: "created",
		Detail:  detail,
	})
	if a.bus != nil {
		if err := a.bus.Publish(ctx, models.EventAdCreated, map[string]string{
			"campaign_id":          campaignID,
			"platform_campaign_id": created.ID,
		}); err != nil {
			a.logger.Printf("ad_created signal: %v", err)
		}
	}
	return created.ID, nil
}

// rejectRecommendation retires the recommended campaign row so it never
// reaches the platform.
func (a *App) rejectRecommendation(ctx context.Context, item models.DecisionQueueItem, resolvedBy string) {
	var payload struct {
		CampaignID string `json:"campaign_id"`
	}
	if err := json.Unmarshal(item.Payload, &payload); err != nil || payload.CampaignID == "" {
		return
	}
	if err := a.store.UpdateCampaignStatus(ctx, payload.CampaignID, models.CampaignFailed, ""); err != nil {
		a.logger.Printf("retiring rejected campaign %s: %v", payload.CampaignID, err)
		return
	}
	detail, _ := json.Marshal(map[string]string{"campaign_id": payload.CampaignID, "resolved_by": resolvedBy})
	_ = a.store.AppendAudit(ctx, models.AuditEntry{
		Actor:   "review_boundary",
		Action:  "ad_recommendation",
		Outcome: "rejected",
		Detail:  detail,
	})
}
