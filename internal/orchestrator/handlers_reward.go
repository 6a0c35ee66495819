package orchestrator

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tanujdargan/html.ai/internal/bandit"
	"github.com/tanujdargan/html.ai/internal/model"
	"github.com/tanujdargan/html.ai/internal/storage"
)

// HandleReward implements POST /rewardTag, POST /api/reward, and
// POST /api/component/reward: they share one body shape and one
// pipeline (spec.md §6).
func (o *Orchestrator) HandleReward() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req RewardRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Detail: err.Error()})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Detail: err.Error()})
			return
		}

		resolved, err := o.resolveIdentity(ctx, apiKeyFromRequest(c), c.Request.Header.Get("Origin"), req.UserID, req.SessionID, "")
		if err != nil {
			writeIdentityError(c, err)
			return
		}

		componentIDs := req.ComponentIDs
		if len(componentIDs) == 0 && req.ComponentID != "" {
			componentIDs = []string{req.ComponentID}
		}
		if len(componentIDs) == 0 {
			c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Detail: "component_id or component_ids required"})
			return
		}

		reward := 1.0
		if req.Reward != nil {
			reward = *req.Reward
		}

		identityState, vector := o.lastSessionOrNeutral(ctx, resolved.Business.BusinessID, resolved.UserID)

		result := make(map[string]float64, len(componentIDs))
		for _, componentID := range componentIDs {
			key := storage.VariantKey{BusinessID: resolved.Business.BusinessID, UserID: resolved.UserID, ComponentID: componentID}
			rec, err := o.Bandit.ApplyReward(ctx, key, req.VariantAttributed, reward, identityState, vector, o.regenTrigger())
			if err != nil {
				writePipelineError(c, err)
				return
			}
			result[componentID] = rec.Slot(req.VariantAttributed).CurrentScore
		}

		o.Metrics.RequestsTotal.WithLabelValues("reward", "ok").Inc()
		c.JSON(http.StatusOK, RewardResponse{NewScore: result})
	}
}

// lastSessionOrNeutral looks up the user's most recently persisted
// session snapshot for the identity_state/behavioral_vector a
// regeneration prompt is built from; falls back to neutral defaults
// when no snapshot exists yet (a reward can arrive before any
// optimize call populated one).
func (o *Orchestrator) lastSessionOrNeutral(ctx context.Context, businessID, userID string) (model.IdentityState, model.BehavioralVector) {
	u, err := o.Store.GetOrCreateUser(ctx, businessID, userID)
	if err != nil || u.LastSession.SessionID == "" {
		return model.StateExploratory, model.NeutralBehavioralVector()
	}
	return u.LastSession.IdentityState, u.LastSession.BehavioralVector
}

// regenTrigger returns o.Regen if configured, wrapped so the actual
// LLM call runs detached from the reward request (spec.md §4.8: "the
// reward request returns immediately after acknowledging the
// trigger"). Returns a true nil interface when no regeneration engine
// is configured, so bandit.ApplyReward's nil check behaves correctly.
func (o *Orchestrator) regenTrigger() bandit.RegenTrigger {
	if o.Regen == nil {
		return nil
	}
	return regenTriggerFunc(func(ctx context.Context, key storage.VariantKey, loserSlot string, identityState model.IdentityState, vector model.BehavioralVector) {
		go o.Regen.TriggerRegeneration(context.Background(), key, loserSlot, identityState, vector)
	})
}

// regenTriggerFunc adapts a plain function to bandit.RegenTrigger.
type regenTriggerFunc func(ctx context.Context, key storage.VariantKey, loserSlot string, identityState model.IdentityState, vector model.BehavioralVector)

func (f regenTriggerFunc) TriggerRegeneration(ctx context.Context, key storage.VariantKey, loserSlot string, identityState model.IdentityState, vector model.BehavioralVector) {
	f(ctx, key, loserSlot, identityState, vector)
}
