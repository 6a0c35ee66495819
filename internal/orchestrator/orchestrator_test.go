package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/tanujdargan/html.ai/internal/bandit"
	"github.com/tanujdargan/html.ai/internal/guardrail"
	"github.com/tanujdargan/html.ai/internal/identity"
	"github.com/tanujdargan/html.ai/internal/ingest"
	"github.com/tanujdargan/html.ai/internal/llm"
	"github.com/tanujdargan/html.ai/internal/model"
	"github.com/tanujdargan/html.ai/internal/observability"
	"github.com/tanujdargan/html.ai/internal/ratelimit"
	"github.com/tanujdargan/html.ai/internal/regen"
	"github.com/tanujdargan/html.ai/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, storage.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.CreateBusiness(context.Background(), &model.Business{
		BusinessID:        "biz1",
		APIKey:            "key1",
		MonthlyEventLimit: 10000,
	}))

	metrics := observability.NewPipelineMetricsForTest()
	logger := slog.Default()

	idResolver := identity.New(store)
	ingestor := ingest.New(store, nil, metrics, 100, 1000, 40, logger)
	t.Cleanup(ingestor.Stop)

	b := bandit.New(store, metrics, logger, 0, 1.0, 5)
	guard, err := guardrail.New("", 65536, logger)
	require.NoError(t, err)

	regenEngine := regen.New(store, llm.NewStubClient(), metrics, logger, time.Second, 5*time.Second)

	apiLimiter := ratelimit.New(1000, 100)

	o := New(store, idResolver, ingestor, b, guard, regenEngine, metrics, logger, apiLimiter, nil,
		2*time.Second, time.Hour, 50)

	router := gin.New()
	SetupRoutes(router, o)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url, apiKey string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestOptimizeEndToEndReturnsVariantAndAuditLog(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/optimize", "key1", map[string]interface{}{
		"user_id":      "u1",
		"session_id":   "s1",
		"component_id": "hero",
		"changingHtml": "<h1>Welcome</h1>",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out OptimizeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "A", out.Variant)
	require.Equal(t, "<h1>Welcome</h1>", out.ChangingHTML)
	require.NotEmpty(t, out.AuditLog)
	require.NotEmpty(t, out.IdentityState)
}

func TestOptimizeRejectsUnknownAPIKey(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/optimize", "not-a-real-key", map[string]interface{}{
		"user_id":      "u1",
		"session_id":   "s1",
		"component_id": "hero",
		"changingHtml": "<h1>Welcome</h1>",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOptimizeRejectsMissingComponentID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/optimize", "key1", map[string]interface{}{
		"user_id":      "u1",
		"session_id":   "s1",
		"changingHtml": "<h1>Welcome</h1>",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRewardUpdatesComponentScore(t *testing.T) {
	srv, _ := newTestServer(t)

	optResp := doJSON(t, http.MethodPost, srv.URL+"/api/optimize", "key1", map[string]interface{}{
		"user_id":      "u2",
		"session_id":   "s2",
		"component_id": "hero",
		"changingHtml": "<h1>Welcome</h1>",
	})
	optResp.Body.Close()
	require.Equal(t, http.StatusOK, optResp.StatusCode)

	rewardResp := doJSON(t, http.MethodPost, srv.URL+"/api/reward", "key1", map[string]interface{}{
		"user_id":            "u2",
		"session_id":         "s2",
		"component_id":       "hero",
		"variantAttributed":  "A",
		"reward":             1.0,
	})
	defer rewardResp.Body.Close()
	require.Equal(t, http.StatusOK, rewardResp.StatusCode)

	var out RewardResponse
	require.NoError(t, json.NewDecoder(rewardResp.Body).Decode(&out))
	require.Equal(t, 1.0, out.NewScore["hero"])
}

func TestBatchEventsReportsCoalescedCount(t *testing.T) {
	srv, _ := newTestServer(t)

	events := make([]map[string]interface{}, 0, 20)
	for i := 0; i < 20; i++ {
		events = append(events, map[string]interface{}{"event_name": "mouse_hesitation"})
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/events/batch", "key1", map[string]interface{}{
		"user_id":    "u3",
		"session_id": "s3",
		"events":     events,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out IngestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, 20, out.CoalescedOut)
	require.Equal(t, 0, out.Accepted)
}

func TestUserJourneyIncludesEventsAndVariantsSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)

	optimizeResp := doJSON(t, http.MethodPost, srv.URL+"/api/optimize", "key1", map[string]interface{}{
		"user_id":      "u1",
		"session_id":   "s1",
		"component_id": "hero",
		"changingHtml": "<h1>Welcome</h1>",
	})
	defer optimizeResp.Body.Close()
	require.Equal(t, http.StatusOK, optimizeResp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/user/u1/journey", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "key1")
	got, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)

	var out struct {
		UserID   string                `json:"user_id"`
		Events   []model.Event         `json:"events"`
		Variants []model.VariantRecord `json:"variants"`
	}
	require.NoError(t, json.NewDecoder(got.Body).Decode(&out))
	require.Equal(t, "u1", out.UserID)
	require.NotEmpty(t, out.Events)
	require.Len(t, out.Variants, 1)
	require.Equal(t, "hero", out.Variants[0].ComponentID)
}

func TestDashboardReportsTenantUsage(t *testing.T) {
	srv, _ := newTestServer(t)

	optimizeResp := doJSON(t, http.MethodPost, srv.URL+"/api/optimize", "key1", map[string]interface{}{
		"user_id":      "u1",
		"session_id":   "s1",
		"component_id": "hero",
		"changingHtml": "<h1>Welcome</h1>",
	})
	defer optimizeResp.Body.Close()
	require.Equal(t, http.StatusOK, optimizeResp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/analytics/dashboard", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "key1")
	got, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)

	var out struct {
		BusinessID            string                        `json:"business_id"`
		VariantSummaries      []variantComponentSummary     `json:"variant_summaries"`
		DataSharingAgreements []model.DataSharingAgreement  `json:"data_sharing_agreements"`
	}
	require.NoError(t, json.NewDecoder(got.Body).Decode(&out))
	require.Equal(t, "biz1", out.BusinessID)
	require.Len(t, out.VariantSummaries, 1)
	require.Equal(t, "hero", out.VariantSummaries[0].ComponentID)
	require.Equal(t, 1, out.VariantSummaries[0].Users)
}

func TestHealthReportsOK(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
