package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsestack/pulse-spc/internal/cache"
	"github.com/pulsestack/pulse-spc/internal/models"
	"github.com/pulsestack/pulse-spc/internal/patterns"
	"github.com/pulsestack/pulse-spc/internal/repo"
	"github.com/pulsestack/pulse-spc/internal/report"
	"github.com/pulsestack/pulse-spc/internal/spc"
)

// SeriesStatus pairs the live streaming statistics of a series with a
// recomputed summary over the queried window.
type SeriesStatus struct {
	Provider string             `json:"provider"`
	Model    string             `json:"model"`
	Live     models.SeriesStats `json:"live"`
	Window   report.Summary     `json:"window"`
}

// QueryService answers the read paths: windowed measurements and violations,
// per-series statistics, and mined violation patterns. Window summaries and
// patterns are cached briefly since they rescan history on every call.
type QueryService struct {
	store    repo.Store
	tracker  *spc.Tracker
	miner    *patterns.Miner
	cache    cache.Provider
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewQueryService wires the read paths. provider may be a NoopProvider to
// disable caching.
func NewQueryService(store repo.Store, tracker *spc.Tracker, miner *patterns.Miner, provider cache.Provider, cacheTTL time.Duration, logger *slog.Logger) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Second
	}
	return &QueryService{
		store:    store,
		tracker:  tracker,
		miner:    miner,
		cache:    provider,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Measurements lists raw measurements in the query window, oldest first.
func (s *QueryService) Measurements(ctx context.Context, q repo.MeasurementQuery) ([]models.Measurement, error) {
	return s.store.ListMeasurements(ctx, q)
}

// Violations lists violations matching the query, newest first.
func (s *QueryService) Violations(ctx context.Context, q repo.ViolationQuery) ([]models.Violation, error) {
	return s.store.ListViolations(ctx, q)
}

// Violation fetches one violation by id.
func (s *QueryService) Violation(ctx context.Context, id string) (models.Violation, error) {
	return s.store.GetViolation(ctx, id)
}

// Attempts lists the alert delivery history for one violation.
func (s *QueryService) Attempts(ctx context.Context, violationID string) ([]models.AlertAttempt, error) {
	return s.store.ListAttempts(ctx, violationID)
}

// SeriesStatus reports a series' live streaming statistics alongside a
// summary recomputed over the given window of stored measurements.
func (s *QueryService) SeriesStatus(ctx context.Context, key models.SeriesKey, since, until time.Time) (SeriesStatus, error) {
	status := SeriesStatus{
		Provider: key.Provider,
		Model:    key.Model,
		Live:     s.tracker.Series(key).Stats(),
	}

	cacheKey := fmt.Sprintf("window:%s:%d:%d", key, since.UnixNano(), until.UnixNano())
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
		if err := json.Unmarshal(cached, &status.Window); err == nil {
			return status, nil
		}
	}

	window, err := s.store.ListMeasurements(ctx, repo.MeasurementQuery{
		Provider: key.Provider,
		Model:    key.Model,
		Since:    since,
		Until:    until,
	})
	if err != nil {
		return SeriesStatus{}, fmt.Errorf("load window for %s: %w", key, err)
	}
	status.Window = report.Summarize(window)

	if encoded, err := json.Marshal(status.Window); err == nil {
		if err := s.cache.Set(ctx, cacheKey, encoded, s.cacheTTL); err != nil {
			s.logger.Debug("cache window summary", "key", cacheKey, "error", err)
		}
	}
	return status, nil
}

// Patterns mines per-series violation patterns over history since the given
// time.
func (s *QueryService) Patterns(ctx context.Context, since time.Time) ([]patterns.SeriesPattern, error) {
	cacheKey := fmt.Sprintf("patterns:%d", since.UnixNano())
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
		var out []patterns.SeriesPattern
		if err := json.Unmarshal(cached, &out); err == nil {
			return out, nil
		}
	}

	mined, err := s.miner.Mine(ctx, since)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(mined); err == nil {
		if err := s.cache.Set(ctx, cacheKey, encoded, s.cacheTTL); err != nil {
			s.logger.Debug("cache patterns", "key", cacheKey, "error", err)
		}
	}
	return mined, nil
}

// RuleCatalog describes every rule tag, evaluated or reserved.
func (s *QueryService) RuleCatalog() map[models.Rule]spc.RuleInfo {
	out := make(map[models.Rule]spc.RuleInfo)
	for _, rule := range []models.Rule{
		models.RuleR1, models.RuleR2, models.RuleR3, models.RuleR4,
		models.RuleR5, models.RuleR6, models.RuleR7, models.RuleR8,
	} {
		out[rule] = spc.Info(rule)
	}
	return out
}
