package orchestrator

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tanujdargan/html.ai/internal/model"
)

// HandleTrackEvent implements POST /api/events/track: a single-event
// convenience wrapper over the Event Ingestor.
func (o *Orchestrator) HandleTrackEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req TrackEventRequest
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

		ev := model.Event{
			UserID:      resolved.UserID,
			SessionID:   resolved.SessionID,
			GlobalUID:   resolved.GlobalUID,
			EventName:   req.EventName,
			ComponentID: req.ComponentID,
			Properties:  req.Properties,
			Timestamp:   time.Now(),
		}
		result, err := o.Ingestor.Ingest(ctx, resolved.Business.BusinessID, []model.Event{ev})
		if err != nil {
			writePipelineError(c, err)
			return
		}
		c.JSON(http.StatusOK, IngestResponse{
			Accepted: result.Accepted, Dropped: result.Dropped,
			CoalescedOut: result.CoalescedOut, RejectedIdx: result.RejectedIdx,
		})
	}
}

// HandleBatchEvents implements POST /api/events/batch.
func (o *Orchestrator) HandleBatchEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req BatchEventsRequest
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

		events := make([]model.Event, 0, len(req.Events))
		for _, item := range req.Events {
			ev := model.Event{
				UserID:      resolved.UserID,
				SessionID:   resolved.SessionID,
				GlobalUID:   resolved.GlobalUID,
				EventName:   item.EventName,
				ComponentID: item.ComponentID,
				Properties:  item.Properties,
			}
			if item.TimestampMs > 0 {
				ev.Timestamp = time.UnixMilli(item.TimestampMs)
			}
			events = append(events, ev)
		}

		result, err := o.Ingestor.Ingest(ctx, resolved.Business.BusinessID, events)
		if err != nil {
			if errors.Is(err, model.ErrQuotaExceeded) {
				c.JSON(http.StatusForbidden, errorBody{Error: "quota_exceeded", Detail: err.Error()})
				return
			}
			writePipelineError(c, err)
			return
		}
		c.JSON(http.StatusOK, IngestResponse{
			Accepted: result.Accepted, Dropped: result.Dropped,
			CoalescedOut: result.CoalescedOut, RejectedIdx: result.RejectedIdx,
		})
	}
}
