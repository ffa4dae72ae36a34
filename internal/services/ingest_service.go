package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pulsestack/pulse-spc/internal/alert"
	"github.com/pulsestack/pulse-spc/internal/metrics"
	"github.com/pulsestack/pulse-spc/internal/models"
	"github.com/pulsestack/pulse-spc/internal/repo"
	"github.com/pulsestack/pulse-spc/internal/spc"
	"github.com/pulsestack/pulse-spc/internal/utils"
	"github.com/pulsestack/pulse-spc/internal/violations"
)

// Validation failures surfaced to callers.
var (
	ErrInvalidValue  = errors.New("value must be a finite, non-negative number")
	ErrMissingSeries = errors.New("provider and model are required")
)

// IngestResult reports what one accepted measurement did to its series.
type IngestResult struct {
	Stats      models.SeriesStats `json:"stats"`
	Violations []models.Violation `json:"violations,omitempty"`
}

// IngestService is the hot path: it validates a measurement, persists it,
// folds it into the series statistics, evaluates the control rules, records
// any violations, and hands them to the alert dispatcher.
type IngestService struct {
	tracker      *spc.Tracker
	measurements repo.MeasurementStore
	recorder     *violations.Recorder
	dispatcher   *alert.Dispatcher
	logger       *slog.Logger
	latencies    *utils.LatencyTracker
}

// NewIngestService wires the ingest pipeline. dispatcher may be nil when
// alerting is disabled.
func NewIngestService(tracker *spc.Tracker, measurements repo.MeasurementStore, recorder *violations.Recorder, dispatcher *alert.Dispatcher, logger *slog.Logger) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		tracker:      tracker,
		measurements: measurements,
		recorder:     recorder,
		dispatcher:   dispatcher,
		logger:       logger,
		latencies:    utils.NewLatencyTracker(1024),
	}
}

// Ingest processes one measurement. Persist, update, and evaluate happen
// under the series lock, so concurrent ingests for one series serialize while
// distinct series proceed in parallel. A persistence failure leaves the
// series statistics untouched so the caller can retry the same point.
func (s *IngestService) Ingest(ctx context.Context, sample models.Measurement) (IngestResult, error) {
	started := time.Now()

	if sample.Provider == "" || sample.Model == "" {
		metrics.RejectIngest("missing_series")
		return IngestResult{}, ErrMissingSeries
	}
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) || sample.Value < 0 {
		metrics.RejectIngest("invalid_value")
		return IngestResult{}, ErrInvalidValue
	}
	if sample.ObservedAt.IsZero() {
		sample.ObservedAt = time.Now()
	}
	sample.ObservedAt = sample.ObservedAt.UTC()

	series := s.tracker.Series(sample.Series())
	stats, triggered, err := series.Apply(sample.Value, sample.ObservedAt, func() error {
		return s.measurements.InsertMeasurement(ctx, sample)
	})
	if err != nil {
		if errors.Is(err, spc.ErrOutOfOrder) {
			metrics.RejectIngest("out_of_order")
			return IngestResult{}, fmt.Errorf("ingest %s: %w", sample.Series(), err)
		}
		metrics.RejectIngest("persist_error")
		return IngestResult{}, fmt.Errorf("persist measurement for %s: %w", sample.Series(), err)
	}

	result := IngestResult{Stats: stats}
	for _, rule := range triggered {
		v, created, err := s.recorder.Record(ctx, sample, rule, stats)
		if err != nil {
			// The measurement is already committed; surface the violation
			// write failure without unwinding the series state.
			s.logger.Error("violation record failed",
				"series", sample.Series().String(), "rule", string(rule), "error", err)
			continue
		}
		result.Violations = append(result.Violations, v)
		if created {
			metrics.ObserveViolation(string(v.Rule), string(v.Severity))
			if s.dispatcher != nil {
				s.dispatcher.Dispatch(ctx, v)
			}
		}
	}

	elapsed := time.Since(started)
	s.latencies.Observe(elapsed)
	metrics.ObserveIngest(sample.Provider, sample.Model, elapsed)
	return result, nil
}

// IngestLatencyPercentile reports the observed ingest latency at the given
// percentile (0-100) over recent samples.
func (s *IngestService) IngestLatencyPercentile(p float64) time.Duration {
	return s.latencies.Percentile(p)
}
