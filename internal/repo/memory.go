package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsestack/pulse-spc/internal/models"
)

// Memory is an in-process Store used by tests and throwaway local runs. It
// honours the same idempotency keys as the SQL store.
type Memory struct {
	mu           sync.Mutex
	measurements []models.Measurement
	violations   map[string]*models.Violation
	byTrigger    map[triggerKey]string
	attempts     map[attemptKey]models.AlertAttempt
	settings     *models.AlertSettings
}

type triggerKey struct {
	provider string
	model    string
	rule     models.Rule
	observed int64
}

type attemptKey struct {
	violationID string
	channel     string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		violations: make(map[string]*models.Violation),
		byTrigger:  make(map[triggerKey]string),
		attempts:   make(map[attemptKey]models.AlertAttempt),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func (m *Memory) InsertMeasurement(_ context.Context, sample models.Measurement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.measurements = append(m.measurements, sample)
	return nil
}

func (m *Memory) ListMeasurements(_ context.Context, q MeasurementQuery) ([]models.Measurement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Measurement
	for _, sample := range m.measurements {
		if sample.ObservedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && sample.ObservedAt.After(q.Until) {
			continue
		}
		if q.Provider != "" && sample.Provider != q.Provider {
			continue
		}
		if q.Model != "" && sample.Model != q.Model {
			continue
		}
		out = append(out, sample)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) CreateViolation(_ context.Context, v models.Violation) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := triggerKey{v.Provider, v.Model, v.Rule, v.ObservedAt.UTC().UnixNano()}
	if existing, ok := m.byTrigger[key]; ok {
		return existing, false, nil
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	v.State = models.ViolationOpen
	stored := v
	m.violations[v.ID] = &stored
	m.byTrigger[key] = v.ID
	return v.ID, true, nil
}

func (m *Memory) GetViolation(_ context.Context, id string) (models.Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.violations[id]
	if !ok {
		return models.Violation{}, ErrNotFound
	}
	return *v, nil
}

func (m *Memory) ListViolations(_ context.Context, q ViolationQuery) ([]models.Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Violation
	for _, v := range m.violations {
		if v.ObservedAt.Before(q.Since) {
			continue
		}
		if q.Provider != "" && v.Provider != q.Provider {
			continue
		}
		if q.Model != "" && v.Model != q.Model {
			continue
		}
		if q.State != "" && v.State != q.State {
			continue
		}
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) AcknowledgeViolation(_ context.Context, id, actor string, at time.Time) (models.Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.violations[id]
	if !ok {
		return models.Violation{}, ErrNotFound
	}
	if v.State != models.ViolationResolved {
		v.State = models.ViolationAcknowledged
		v.AcknowledgedBy = &actor
		ackAt := at.UTC()
		v.AcknowledgedAt = &ackAt
	}
	return *v, nil
}

func (m *Memory) ResolveViolation(_ context.Context, id string, at time.Time) (models.Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.violations[id]
	if !ok {
		return models.Violation{}, ErrNotFound
	}
	if v.ResolvedAt == nil {
		resolvedAt := at.UTC()
		v.ResolvedAt = &resolvedAt
	}
	v.State = models.ViolationResolved
	return *v, nil
}

func (m *Memory) RecordAttempt(_ context.Context, a models.AlertAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attemptKey{a.ViolationID, a.Channel}
	if _, ok := m.attempts[key]; ok {
		return nil
	}
	m.attempts[key] = a
	return nil
}

func (m *Memory) ListAttempts(_ context.Context, violationID string) ([]models.AlertAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AlertAttempt
	for key, a := range m.attempts {
		if key.violationID == violationID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

func (m *Memory) GetAlertSettings(context.Context) (models.AlertSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		return models.AlertSettings{}, ErrNotFound
	}
	return *m.settings, nil
}

func (m *Memory) PutAlertSettings(_ context.Context, s models.AlertSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &s
	return nil
}
