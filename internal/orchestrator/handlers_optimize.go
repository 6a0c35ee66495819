package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/tanujdargan/html.ai/internal/classifier"
	"github.com/tanujdargan/html.ai/internal/identity"
	"github.com/tanujdargan/html.ai/internal/model"
	"github.com/tanujdargan/html.ai/internal/storage"
)

var optimizeTracer = otel.Tracer("htmlai.orchestrator")

type optimizeOutcome struct {
	resp OptimizeResponse
}

// HandleOptimize implements POST /api/optimize and its legacy alias
// POST /tagAi (spec.md §6, §9's response-field-parity note).
func (o *Orchestrator) HandleOptimize() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := optimizeTracer.Start(c.Request.Context(), "HandleOptimize")
		defer span.End()
		start := time.Now()

		var req OptimizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Detail: err.Error()})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Detail: err.Error()})
			return
		}

		resolved, err := o.resolveIdentity(ctx, apiKeyFromRequest(c), c.Request.Header.Get("Origin"), req.UserID, req.SessionID, req.GlobalUID)
		if err != nil {
			writeIdentityError(c, err)
			return
		}

		if o.APILimiter != nil && !o.APILimiter.Allow(resolved.Business.BusinessID) {
			c.JSON(http.StatusTooManyRequests, errorBody{Error: "rate_limited"})
			return
		}

		deadlineCtx, cancel := context.WithTimeout(ctx, o.RequestDeadline)
		defer cancel()

		resultCh := make(chan optimizeOutcome, 1)
		errCh := make(chan error, 1)
		go func() {
			resp, err := o.runOptimizePipeline(deadlineCtx, resolved, req)
			if err != nil {
				errCh <- err
				return
			}
			resultCh <- optimizeOutcome{resp: resp}
		}()

		select {
		case out := <-resultCh:
			o.Metrics.RequestsTotal.WithLabelValues("optimize", "ok").Inc()
			o.Metrics.RequestDurationSeconds.WithLabelValues("optimize").Observe(time.Since(start).Seconds())
			c.JSON(http.StatusOK, out.resp)
		case err := <-errCh:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.Metrics.RequestsTotal.WithLabelValues("optimize", "error").Inc()
			writePipelineError(c, err)
		case <-deadlineCtx.Done():
			o.Metrics.RequestsTotal.WithLabelValues("optimize", "degraded").Inc()
			o.Metrics.RequestDurationSeconds.WithLabelValues("optimize").Observe(time.Since(start).Seconds())
			c.JSON(http.StatusOK, o.degradedOptimizeResponse(req))
		}
	}
}

// runOptimizePipeline sequences Identity(already resolved)→Ingestor→
// Analytics→Classifier→Decision→Guardrail per spec.md §4.9's optimize
// data flow.
func (o *Orchestrator) runOptimizePipeline(ctx context.Context, resolved *identity.Resolved, req OptimizeRequest) (OptimizeResponse, error) {
	log := &auditLog{}
	log.record("identity", resolved.UserID)

	viewEvent := model.Event{
		UserID:      resolved.UserID,
		SessionID:   resolved.SessionID,
		GlobalUID:   resolved.GlobalUID,
		EventName:   "component_viewed",
		ComponentID: req.ComponentID,
		Timestamp:   time.Now(),
	}
	if _, err := o.Ingestor.Ingest(ctx, resolved.Business.BusinessID, []model.Event{viewEvent}); err != nil {
		log.record("ingest", "failed: "+err.Error())
	} else {
		log.record("ingest", "component_viewed recorded")
	}

	vector, signals, _, err := o.recentBehavior(ctx, resolved.Business.BusinessID, resolved.UserID)
	if err != nil {
		log.record("analytics", "failed, using neutral vector: "+err.Error())
		vector = model.NeutralBehavioralVector()
	} else {
		log.record("analytics", "vector computed")
	}

	classification := classifier.ClassifyWithRefinement(ctx, vector, signals, nil)
	log.record("identity_classifier", string(classification.State))

	key := storage.VariantKey{BusinessID: resolved.Business.BusinessID, UserID: resolved.UserID, ComponentID: req.ComponentID}
	slot, html, _, err := o.selectAndGuard(ctx, key, req.ChangingHTML, log)
	if err != nil {
		return OptimizeResponse{}, err
	}

	if err := o.saveSessionSnapshot(ctx, resolved.Business.BusinessID, resolved.UserID, resolved.SessionID, classification, vector, html); err != nil {
		log.record("persist_session", "failed: "+err.Error())
	}

	return OptimizeResponse{
		Variant:       slot,
		ChangingHTML:  html,
		IdentityState: string(classification.State),
		Confidence:    classification.Confidence,
		AuditLog:      log.events,
		BehavioralVector: map[string]float64{
			"exploration_score":  vector.ExplorationScore,
			"hesitation_score":   vector.HesitationScore,
			"engagement_depth":   vector.EngagementDepth,
			"decision_velocity":  vector.DecisionVelocity,
			"content_focus_ratio": vector.ContentFocusRatio,
		},
	}, nil
}

// degradedOptimizeResponse implements spec.md §5's cancellation
// contract: on deadline exceeded, return the seed HTML unserved and
// record a degradation audit entry, without incrementing any slot's
// trial counter.
func (o *Orchestrator) degradedOptimizeResponse(req OptimizeRequest) OptimizeResponse {
	return OptimizeResponse{
		Variant:      "seed",
		ChangingHTML: req.ChangingHTML,
		IdentityState: string(model.StateExploratory),
		Confidence:   0.5,
		AuditLog: []AuditEvent{
			{Stage: "deadline_exceeded", Detail: "returning seed html", At: time.Now()},
		},
		BehavioralVector: map[string]float64{
			"exploration_score": 0.5, "hesitation_score": 0.5, "engagement_depth": 0.5,
			"decision_velocity": 0.5, "content_focus_ratio": 0.5,
		},
	}
}

func writeIdentityError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, errorBody{Error: "unauthorized", Detail: err.Error()})
	case errors.Is(err, model.ErrForbidden):
		c.JSON(http.StatusForbidden, errorBody{Error: "forbidden", Detail: err.Error()})
	default:
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "storage_unavailable", Detail: err.Error()})
	}
}

func writePipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrQuotaExceeded):
		c.JSON(http.StatusForbidden, errorBody{Error: "quota_exceeded", Detail: err.Error()})
	case errors.Is(err, model.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, errorBody{Error: "concurrency_conflict", Detail: err.Error()})
	case errors.Is(err, model.ErrValidation):
		c.JSON(http.StatusBadRequest, errorBody{Error: "validation_failed", Detail: err.Error()})
	case errors.Is(err, model.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "storage_unavailable", Detail: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal_error", Detail: err.Error()})
	}
}

func apiKeyFromRequest(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	return c.Query("api_key")
}
