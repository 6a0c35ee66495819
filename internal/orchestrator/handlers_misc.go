package orchestrator

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tanujdargan/html.ai/internal/model"
	"github.com/tanujdargan/html.ai/internal/storage"
)

// HandleLinkUser implements POST /sync/link: folds (business_id,
// user_id) into a cross-tenant global identity.
func (o *Orchestrator) HandleLinkUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req LinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Detail: err.Error()})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Detail: err.Error()})
			return
		}

		biz, err := o.Identity.ResolveBusiness(ctx, apiKeyFromRequest(c), c.Request.Header.Get("Origin"))
		if err != nil {
			writeIdentityError(c, err)
			return
		}

		gu, err := o.Store.LinkGlobalUser(ctx, req.GlobalUID, biz.BusinessID, req.UserID)
		if err != nil {
			writePipelineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"global_uid": gu.GlobalUID, "linked_businesses": len(gu.BusinessUIDs)})
	}
}

// HandleListUsers implements GET /api/users/all.
func (o *Orchestrator) HandleListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		biz, err := o.Identity.ResolveBusiness(ctx, apiKeyFromRequest(c), c.Request.Header.Get("Origin"))
		if err != nil {
			writeIdentityError(c, err)
			return
		}
		users, err := o.Store.ListBusinessUsers(ctx, biz.BusinessID)
		if err != nil {
			writePipelineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

// HandleUserJourney implements GET /api/user/{user_id}/journey.
func (o *Orchestrator) HandleUserJourney() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := c.Param("user_id")
		biz, err := o.Identity.ResolveBusiness(ctx, apiKeyFromRequest(c), c.Request.Header.Get("Origin"))
		if err != nil {
			writeIdentityError(c, err)
			return
		}
		events, err := o.Store.GetRecentEvents(ctx, biz.BusinessID, userID, 200, o.AggregatorWindow*12)
		if err != nil {
			writePipelineError(c, err)
			return
		}
		variants, err := o.Store.ListUserVariants(ctx, biz.BusinessID, userID)
		if err != nil {
			writePipelineError(c, err)
			return
		}

		resp := gin.H{"user_id": userID, "events": events, "variants": variants}
		if gu := globalUserForEvents(ctx, o.Store, events); gu != nil {
			resp["global_identity"] = gu
		}
		c.JSON(http.StatusOK, resp)
	}
}

// globalUserForEvents surfaces the GlobalUser a journey's events are
// linked to, if any. global_uid is advisory metadata (spec.md §9): it
// is shown here, never used to pull in another tenant's behavioral
// data.
func globalUserForEvents(ctx context.Context, store storage.Store, events []model.Event) *model.GlobalUser {
	for _, ev := range events {
		if ev.GlobalUID == "" {
			continue
		}
		gu, err := store.GetGlobalUser(ctx, ev.GlobalUID)
		if err == nil {
			return gu
		}
	}
	return nil
}

// variantComponentSummary aggregates every user's A/B slots for one
// component_id into a tenant-wide score summary, the per-component
// equivalent of the original backend's /api/stats/overview rollup.
type variantComponentSummary struct {
	ComponentID string  `json:"component_id"`
	Users       int     `json:"users"`
	AScore      float64 `json:"a_avg_score"`
	ATrials     int64   `json:"a_total_trials"`
	BScore      float64 `json:"b_avg_score"`
	BTrials     int64   `json:"b_total_trials"`
	Leader      string  `json:"leader"`
}

// aggregateVariantSummaries groups records by ComponentID and averages
// each slot's CurrentScore across the users that have one, so a
// component's summary reflects performance across the whole tenant
// rather than one user's record.
func aggregateVariantSummaries(records []model.VariantRecord) []variantComponentSummary {
	type accum struct {
		users                int
		aScoreSum, bScoreSum float64
		aTrials, bTrials     int64
	}
	byComponent := make(map[string]*accum)
	order := make([]string, 0)
	for _, rec := range records {
		a, ok := byComponent[rec.ComponentID]
		if !ok {
			a = &accum{}
			byComponent[rec.ComponentID] = a
			order = append(order, rec.ComponentID)
		}
		a.users++
		a.aScoreSum += rec.A.CurrentScore
		a.bScoreSum += rec.B.CurrentScore
		a.aTrials += rec.A.NumberOfTrials
		a.bTrials += rec.B.NumberOfTrials
	}

	summaries := make([]variantComponentSummary, 0, len(order))
	for _, componentID := range order {
		a := byComponent[componentID]
		s := variantComponentSummary{
			ComponentID: componentID,
			Users:       a.users,
			ATrials:     a.aTrials,
			BTrials:     a.bTrials,
		}
		if a.users > 0 {
			s.AScore = a.aScoreSum / float64(a.users)
			s.BScore = a.bScoreSum / float64(a.users)
		}
		if s.AScore >= s.BScore {
			s.Leader = "A"
		} else {
			s.Leader = "B"
		}
		summaries = append(summaries, s)
	}
	return summaries
}

// HandleDashboard implements GET /api/analytics/dashboard: a
// read-only summary of tenant usage, per-component variant score
// summaries, and recent regeneration activity.
func (o *Orchestrator) HandleDashboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		biz, err := o.Identity.ResolveBusiness(ctx, apiKeyFromRequest(c), c.Request.Header.Get("Origin"))
		if err != nil {
			writeIdentityError(c, err)
			return
		}
		biz, err = o.Store.GetBusiness(ctx, biz.BusinessID)
		if err != nil {
			writePipelineError(c, err)
			return
		}
		variants, err := o.Store.ListBusinessVariants(ctx, biz.BusinessID)
		if err != nil {
			writePipelineError(c, err)
			return
		}
		// Advisory only (spec.md §9): shown for operator visibility,
		// never consumed to route behavioral data across tenants.
		agreements, err := o.Store.GetDataSharingAgreements(ctx, biz.BusinessID)
		if err != nil {
			writePipelineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"business_id":             biz.BusinessID,
			"monthly_events_used":     biz.MonthlyEventsUsed,
			"monthly_event_limit":     biz.MonthlyEventLimit,
			"variant_summaries":       aggregateVariantSummaries(variants),
			"data_sharing_agreements": agreements,
			"recent_regenerations":    o.AuditRing.Snapshot(),
		})
	}
}

// HandleHealth implements GET /: a liveness probe that also reports
// operating mode, per spec.md §6.
func (o *Orchestrator) HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := "multi-agent"
		if o.Regen == nil {
			mode = "stub"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": mode})
	}
}
