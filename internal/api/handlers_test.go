package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pulsestack/pulse-spc/internal/cache"
	"github.com/pulsestack/pulse-spc/internal/models"
	"github.com/pulsestack/pulse-spc/internal/patterns"
	"github.com/pulsestack/pulse-spc/internal/repo"
	"github.com/pulsestack/pulse-spc/internal/services"
	"github.com/pulsestack/pulse-spc/internal/spc"
	"github.com/pulsestack/pulse-spc/internal/violations"
)

func newTestHandler() (*Handler, *repo.Memory) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repo.NewMemory()
	tracker := spc.NewTracker()
	recorder := violations.NewRecorder(store, logger)
	ingest := services.NewIngestService(tracker, store, recorder, nil, logger)
	miner := patterns.NewMiner(store, logger)
	query := services.NewQueryService(store, tracker, miner, cache.NoopProvider{}, time.Second, logger)
	lifecycle := violations.NewLifecycle(store, logger)
	return NewHandler(ingest, query, lifecycle, store, []string{"webhook"}, logger), store
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postMeasurement(t *testing.T, router http.Handler, provider, model string, value float64, at time.Time) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, router, http.MethodPost, "/api/v1/measurements", map[string]any{
		"provider":    provider,
		"model":       model,
		"latency_ms":  value,
		"observed_at": at.Format(time.RFC3339),
	})
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestHandler()
	rec := doJSON(t, h.Router(""), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestPostMeasurementReturnsStats(t *testing.T) {
	h, _ := newTestHandler()
	router := h.Router("")
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := postMeasurement(t, router, "openai", "gpt-4o", 120, at)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result services.IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Stats.Count != 1 || result.Stats.Mean != 120 {
		t.Fatalf("stats = %+v", result.Stats)
	}
}

func TestPostMeasurementValidation(t *testing.T) {
	h, _ := newTestHandler()
	router := h.Router("")
	at := time.Now().UTC()

	rec := postMeasurement(t, router, "openai", "gpt-4o", -5, at)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative value status = %d", rec.Code)
	}
	rec = postMeasurement(t, router, "", "gpt-4o", 100, at)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing provider status = %d", rec.Code)
	}
}

func TestPostMeasurementOutOfOrderConflicts(t *testing.T) {
	h, _ := newTestHandler()
	router := h.Router("")
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if rec := postMeasurement(t, router, "openai", "gpt-4o", 100, at); rec.Code != http.StatusAccepted {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := postMeasurement(t, router, "openai", "gpt-4o", 100, at.Add(-time.Minute))
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale status = %d, want 409", rec.Code)
	}
}

func TestListMeasurementsWindow(t *testing.T) {
	h, _ := newTestHandler()
	router := h.Router("")
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		postMeasurement(t, router, "openai", "gpt-4o", 100+float64(i), base.Add(time.Duration(i)*time.Minute))
	}

	url := fmt.Sprintf("/api/v1/measurements?provider=openai&model=gpt-4o&since=%s",
		base.Add(2*time.Minute).Format(time.RFC3339))
	rec := doJSON(t, router, http.MethodGet, url, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 3 {
		t.Fatalf("count = %d, want 3", body.Count)
	}
}

func TestSeriesStatsEndpoint(t *testing.T) {
	h, _ := newTestHandler()
	router := h.Router("")
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, v := range []float64{100, 110, 120} {
		postMeasurement(t, router, "openai", "gpt-4o", v, base.Add(time.Duration(i)*time.Minute))
	}

	url := fmt.Sprintf("/api/v1/series/openai/gpt-4o/stats?since=%s", base.Format(time.RFC3339))
	rec := doJSON(t, router, http.MethodGet, url, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status services.SeriesStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Live.Count != 3 || status.Window.Count != 3 {
		t.Fatalf("status = %+v", status)
	}
	if status.Live.Mean != 110 {
		t.Fatalf("mean = %v", status.Live.Mean)
	}
}

func TestViolationLifecycleOverHTTP(t *testing.T) {
	h, store := newTestHandler()
	router := h.Router("")

	id, _, err := store.CreateViolation(context.Background(), models.Violation{
		Provider:   "openai",
		Model:      "gpt-4o",
		Rule:       models.RuleR1,
		Severity:   models.SeverityCritical,
		ObservedAt: time.Now().UTC(),
		State:      models.ViolationOpen,
	})
	if err != nil {
		t.Fatalf("seed violation: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/violations/"+id+"/acknowledge", map[string]string{"actor": "oncall"})
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/violations/"+id+"/resolve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d", rec.Code)
	}

	// Acknowledging after resolution conflicts.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/violations/"+id+"/acknowledge", map[string]string{"actor": "late"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("ack-after-resolve status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/violations/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var v models.Violation
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.State != models.ViolationResolved {
		t.Fatalf("state = %s, want resolved", v.State)
	}
}

func TestViolationNotFound(t *testing.T) {
	h, _ := newTestHandler()
	router := h.Router("")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/violations/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/v1/violations/nope/resolve", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("resolve status = %d", rec.Code)
	}
}

func TestAlertSettingsRoundTrip(t *testing.T) {
	h, _ := newTestHandler()
	router := h.Router("")

	// Unset settings come back as the permissive default.
	rec := doJSON(t, router, http.MethodGet, "/api/v1/settings/alerts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var settings models.AlertSettings
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(settings.AlertRules) != 4 {
		t.Fatalf("default rules = %v", settings.AlertRules)
	}

	update := models.AlertSettings{
		AlertRules:      []models.Rule{models.RuleR1},
		EnabledChannels: []string{"webhook"},
	}
	rec = doJSON(t, router, http.MethodPut, "/api/v1/settings/alerts", update)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/settings/alerts", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(settings.AlertRules) != 1 || settings.AlertRules[0] != models.RuleR1 {
		t.Fatalf("settings = %+v", settings)
	}
}

func TestAlertSettingsRejectReservedRule(t *testing.T) {
	h, _ := newTestHandler()
	router := h.Router("")

	rec := doJSON(t, router, http.MethodPut, "/api/v1/settings/alerts", models.AlertSettings{
		AlertRules: []models.Rule{models.RuleR5},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("put reserved rule status = %d, want 400", rec.Code)
	}
}

func TestRuleCatalogEndpoint(t *testing.T) {
	h, _ := newTestHandler()
	rec := doJSON(t, h.Router(""), http.MethodGet, "/api/v1/rules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var catalog map[models.Rule]spc.RuleInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &catalog); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(catalog) != 8 {
		t.Fatalf("catalog size = %d", len(catalog))
	}
}

func TestAPIKeyGuard(t *testing.T) {
	h, _ := newTestHandler()
	router := h.Router("sekrit")

	// Health stays open.
	if rec := doJSON(t, router, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("correct key status = %d", rec.Code)
	}
}
