package violations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsestack/pulse-spc/internal/models"
	"github.com/pulsestack/pulse-spc/internal/repo"
	"github.com/pulsestack/pulse-spc/internal/spc"
)

// Recorder turns triggered rules into persisted violation records. Each record
// freezes the control statistics that held when the rule fired.
type Recorder struct {
	store  repo.ViolationStore
	logger *slog.Logger
}

// NewRecorder builds a recorder writing through the given store.
func NewRecorder(store repo.ViolationStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record persists one violation for a rule triggered by the given measurement
// under the given post-update statistics. When the same (series, rule,
// observed_at) trigger was already recorded, the existing violation is
// returned and created is false; concurrent duplicate ingests collapse onto
// the first write.
func (r *Recorder) Record(ctx context.Context, sample models.Measurement, rule models.Rule, stats models.SeriesStats) (models.Violation, bool, error) {
	info := spc.Info(rule)
	v := models.Violation{
		ID:              uuid.New().String(),
		Provider:        sample.Provider,
		Model:           sample.Model,
		Rule:            rule,
		Severity:        info.Severity,
		Message:         fmt.Sprintf("%s: %s", rule, info.Description),
		TriggeringValue: sample.Value,
		ObservedAt:      sample.ObservedAt.UTC(),
		Mean:            stats.Mean,
		Std:             stats.Std,
		UCL:             stats.UCL,
		LCL:             stats.LCL,
		DeviationSigma:  spc.DeviationSigma(sample.Value, stats),
		State:           models.ViolationOpen,
		CreatedAt:       time.Now().UTC(),
	}

	id, created, err := r.store.CreateViolation(ctx, v)
	if err != nil {
		return models.Violation{}, false, fmt.Errorf("record violation: %w", err)
	}
	if !created {
		r.logger.Debug("duplicate violation trigger",
			"series", sample.Series().String(), "rule", string(rule), "id", id)
		existing, err := r.store.GetViolation(ctx, id)
		if err != nil {
			return models.Violation{}, false, fmt.Errorf("load existing violation: %w", err)
		}
		return existing, false, nil
	}

	v.ID = id
	r.logger.Info("violation recorded",
		"series", sample.Series().String(),
		"rule", string(rule),
		"severity", string(v.Severity),
		"value", sample.Value,
		"deviation_sigma", v.DeviationSigma,
	)
	return v, true, nil
}
