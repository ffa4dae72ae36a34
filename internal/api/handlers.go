package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/pulsestack/pulse-spc/internal/models"
	"github.com/pulsestack/pulse-spc/internal/repo"
	"github.com/pulsestack/pulse-spc/internal/services"
	"github.com/pulsestack/pulse-spc/internal/spc"
	"github.com/pulsestack/pulse-spc/internal/utils"
	"github.com/pulsestack/pulse-spc/internal/violations"
)

// Handler glues the HTTP routes to the ingest and query services.
type Handler struct {
	ingest    *services.IngestService
	query     *services.QueryService
	lifecycle *violations.Lifecycle
	settings  repo.SettingsStore
	channels  []string
	logger    *slog.Logger
}

// NewHandler builds the route handler. channels lists the configured alert
// channel names, used to default the settings document.
func NewHandler(ingest *services.IngestService, query *services.QueryService, lifecycle *violations.Lifecycle, settings repo.SettingsStore, channels []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ingest:    ingest,
		query:     query,
		lifecycle: lifecycle,
		settings:  settings,
		channels:  channels,
		logger:    logger,
	}
}

// Router assembles the versioned route table. apiKey guards everything under
// /api/v1 when non-empty; /healthz stays open for probes.
func (h *Handler) Router(apiKey string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	if apiKey != "" {
		v1.Use(requireAPIKey(apiKey))
	}

	v1.HandleFunc("/measurements", h.postMeasurement).Methods(http.MethodPost)
	v1.HandleFunc("/measurements", h.listMeasurements).Methods(http.MethodGet)
	v1.HandleFunc("/series/{provider}/{model}/stats", h.seriesStats).Methods(http.MethodGet)
	v1.HandleFunc("/violations", h.listViolations).Methods(http.MethodGet)
	v1.HandleFunc("/violations/{id}", h.getViolation).Methods(http.MethodGet)
	v1.HandleFunc("/violations/{id}/acknowledge", h.acknowledgeViolation).Methods(http.MethodPost)
	v1.HandleFunc("/violations/{id}/resolve", h.resolveViolation).Methods(http.MethodPost)
	v1.HandleFunc("/violations/{id}/attempts", h.listAttempts).Methods(http.MethodGet)
	v1.HandleFunc("/settings/alerts", h.getAlertSettings).Methods(http.MethodGet)
	v1.HandleFunc("/settings/alerts", h.putAlertSettings).Methods(http.MethodPut)
	v1.HandleFunc("/patterns", h.listPatterns).Methods(http.MethodGet)
	v1.HandleFunc("/rules", h.listRules).Methods(http.MethodGet)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type measurementRequest struct {
	Provider   string     `json:"provider"`
	Model      string     `json:"model"`
	LatencyMS  float64    `json:"latency_ms"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

func (h *Handler) postMeasurement(w http.ResponseWriter, r *http.Request) {
	var req measurementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sample := models.Measurement{
		Provider: req.Provider,
		Model:    req.Model,
		Value:    req.LatencyMS,
	}
	if req.ObservedAt != nil {
		sample.ObservedAt = *req.ObservedAt
	}

	result, err := h.ingest.Ingest(r.Context(), sample)
	switch {
	case errors.Is(err, services.ErrInvalidValue), errors.Is(err, services.ErrMissingSeries):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, spc.ErrOutOfOrder):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (h *Handler) listMeasurements(w http.ResponseWriter, r *http.Request) {
	q := repo.MeasurementQuery{
		Provider: r.URL.Query().Get("provider"),
		Model:    r.URL.Query().Get("model"),
	}
	var err error
	if q.Since, err = parseTimeParam(r, "since"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Until, err = parseTimeParam(r, "until"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Limit, err = parseIntParam(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.query.Measurements(r.Context(), q)
	if err != nil {
		h.logger.Error("list measurements", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"measurements": out, "count": len(out)})
}

func (h *Handler) seriesStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := models.SeriesKey{Provider: vars["provider"], Model: vars["model"]}

	since, err := parseTimeParam(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	until, err := parseTimeParam(r, "until")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	status, err := h.query.SeriesStatus(r.Context(), key, since, until)
	if err != nil {
		h.logger.Error("series status", "series", key.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) listViolations(w http.ResponseWriter, r *http.Request) {
	q := repo.ViolationQuery{
		Provider: r.URL.Query().Get("provider"),
		Model:    r.URL.Query().Get("model"),
		State:    models.ViolationState(r.URL.Query().Get("state")),
	}
	var err error
	if q.Since, err = parseTimeParam(r, "since"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Limit, err = parseIntParam(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.query.Violations(r.Context(), q)
	if err != nil {
		h.logger.Error("list violations", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"violations": out, "count": len(out)})
}

func (h *Handler) getViolation(w http.ResponseWriter, r *http.Request) {
	v, err := h.query.Violation(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "violation not found")
		return
	}
	if err != nil {
		h.logger.Error("get violation", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type acknowledgeRequest struct {
	Actor string `json:"actor"`
}

func (h *Handler) acknowledgeViolation(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}

	v, err := h.lifecycle.Acknowledge(r.Context(), mux.Vars(r)["id"], req.Actor)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "violation not found")
		return
	case errors.Is(err, violations.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("acknowledge violation", "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) resolveViolation(w http.ResponseWriter, r *http.Request) {
	v, err := h.lifecycle.Resolve(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "violation not found")
		return
	}
	if err != nil {
		h.logger.Error("resolve violation", "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.query.Violation(r.Context(), id); errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "violation not found")
		return
	} else if err != nil {
		h.logger.Error("get violation", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	attempts, err := h.query.Attempts(r.Context(), id)
	if err != nil {
		h.logger.Error("list attempts", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts, "count": len(attempts)})
}

func (h *Handler) getAlertSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetAlertSettings(r.Context())
	if errors.Is(err, repo.ErrNotFound) {
		writeJSON(w, http.StatusOK, models.DefaultAlertSettings(h.channels))
		return
	}
	if err != nil {
		h.logger.Error("get alert settings", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) putAlertSettings(w http.ResponseWriter, r *http.Request) {
	var settings models.AlertSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for _, rule := range settings.AlertRules {
		if !spc.Info(rule).Evaluated {
			writeError(w, http.StatusBadRequest, "rule "+string(rule)+" is not evaluated")
			return
		}
	}

	if err := h.settings.PutAlertSettings(r.Context(), settings); err != nil {
		h.logger.Error("put alert settings", "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) listPatterns(w http.ResponseWriter, r *http.Request) {
	since, err := parseTimeParam(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if since.IsZero() {
		since = time.Now().Add(-7 * 24 * time.Hour)
	}

	patterns, err := h.query.Patterns(r.Context(), since)
	if err != nil {
		h.logger.Error("mine patterns", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns, "count": len(patterns)})
}

func (h *Handler) listRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.query.RuleCatalog())
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := utils.ParseRFC3339(raw)
	if err != nil {
		return time.Time{}, errors.New(name + " must be RFC3339")
	}
	return t, nil
}

func parseIntParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Warn("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
