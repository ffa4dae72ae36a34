package repo

import (
	"context"
	"errors"
	"time"

	"github.com/pulsestack/pulse-spc/internal/models"
)

// ErrNotFound signals that the requested row does not exist.
var ErrNotFound = errors.New("not found")

// MeasurementQuery bounds a window over the measurement history.
type MeasurementQuery struct {
	Provider string
	Model    string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// ViolationQuery bounds a window over recorded violations.
type ViolationQuery struct {
	Provider string
	Model    string
	State    models.ViolationState
	Since    time.Time
	Limit    int
}

// MeasurementStore persists the append-only measurement history.
type MeasurementStore interface {
	InsertMeasurement(ctx context.Context, m models.Measurement) error
	ListMeasurements(ctx context.Context, q MeasurementQuery) ([]models.Measurement, error)
}

// ViolationStore persists violations and their lifecycle fields. Creation is
// idempotent on (provider, model, rule, observed_at): racing duplicates
// collapse onto the first write via the table's uniqueness constraint rather
// than a read-then-write check.
type ViolationStore interface {
	CreateViolation(ctx context.Context, v models.Violation) (id string, created bool, err error)
	GetViolation(ctx context.Context, id string) (models.Violation, error)
	ListViolations(ctx context.Context, q ViolationQuery) ([]models.Violation, error)
	AcknowledgeViolation(ctx context.Context, id, actor string, at time.Time) (models.Violation, error)
	ResolveViolation(ctx context.Context, id string, at time.Time) (models.Violation, error)
}

// AttemptStore records alert delivery outcomes, at most one row per
// (violation, channel) pair.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, a models.AlertAttempt) error
	ListAttempts(ctx context.Context, violationID string) ([]models.AlertAttempt, error)
}

// SettingsStore holds operator-tunable settings. GetAlertSettings returns
// ErrNotFound when no row has been written yet; callers fall back to
// defaults.
type SettingsStore interface {
	GetAlertSettings(ctx context.Context) (models.AlertSettings, error)
	PutAlertSettings(ctx context.Context, s models.AlertSettings) error
}

// Store aggregates every persistence concern of the service.
type Store interface {
	MeasurementStore
	ViolationStore
	AttemptStore
	SettingsStore
	Close() error
}
