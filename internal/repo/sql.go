package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/pulsestack/pulse-spc/internal/models"
	"github.com/pulsestack/pulse-spc/internal/utils"
)

const alertSettingsKey = "alerts"

// SQLStore implements Store on SQLite (default, pure Go driver) or
// PostgreSQL. Queries are written with ? placeholders and rebound per driver.
type SQLStore struct {
	db *sqlx.DB
}

// Config controls the database connection.
type Config struct {
	Driver          string // "sqlite" or "postgres"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects, applies pool settings, and creates the schema.
func Open(cfg Config) (*SQLStore, error) {
	switch cfg.Driver {
	case "sqlite", "postgres":
	case "":
		cfg.Driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, utils.NewAppError("repo.Open", "connect "+cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		// A single writer avoids SQLITE_BUSY under concurrent series.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	store := &SQLStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return utils.NewAppError("repo.migrate", "apply schema", err)
		}
	}
	return nil
}

// InsertMeasurement appends one sample to the history.
func (s *SQLStore) InsertMeasurement(ctx context.Context, m models.Measurement) error {
	query := s.db.Rebind(`INSERT INTO measurements (provider, model, value, observed_at) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, m.Provider, m.Model, m.Value, m.ObservedAt.UTC()); err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

// ListMeasurements returns samples in the window, oldest first.
func (s *SQLStore) ListMeasurements(ctx context.Context, q MeasurementQuery) ([]models.Measurement, error) {
	query := `SELECT provider, model, value, observed_at FROM measurements WHERE observed_at >= ?`
	args := []any{q.Since.UTC()}
	if !q.Until.IsZero() {
		query += ` AND observed_at <= ?`
		args = append(args, q.Until.UTC())
	}
	if q.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, q.Provider)
	}
	if q.Model != "" {
		query += ` AND model = ?`
		args = append(args, q.Model)
	}
	query += ` ORDER BY observed_at ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var out []models.Measurement
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list measurements: %w", err)
	}
	return out, nil
}

// CreateViolation inserts v, relying on the uniqueness constraint over
// (provider, model, rule, observed_at) to collapse duplicates. It returns the
// id that owns the key and whether this call created the row.
func (s *SQLStore) CreateViolation(ctx context.Context, v models.Violation) (string, bool, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	query := s.db.Rebind(`INSERT INTO violations
		(id, provider, model, rule, severity, message, triggering_value, observed_at,
		 mean, std, ucl, lcl, deviation_sigma, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, model, rule, observed_at) DO NOTHING`)

	res, err := s.db.ExecContext(ctx, query,
		v.ID, v.Provider, v.Model, string(v.Rule), string(v.Severity), v.Message,
		v.TriggeringValue, v.ObservedAt.UTC(),
		v.Mean, v.Std, v.UCL, v.LCL, v.DeviationSigma,
		string(models.ViolationOpen), v.CreatedAt.UTC(),
	)
	if err != nil {
		return "", false, fmt.Errorf("insert violation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("insert violation: %w", err)
	}
	if affected > 0 {
		return v.ID, true, nil
	}

	// Lost the race (or a retry): resolve to the existing row's id.
	var existing string
	lookup := s.db.Rebind(`SELECT id FROM violations WHERE provider = ? AND model = ? AND rule = ? AND observed_at = ?`)
	if err := s.db.GetContext(ctx, &existing, lookup, v.Provider, v.Model, string(v.Rule), v.ObservedAt.UTC()); err != nil {
		return "", false, fmt.Errorf("lookup existing violation: %w", err)
	}
	return existing, false, nil
}

// GetViolation fetches one violation by id.
func (s *SQLStore) GetViolation(ctx context.Context, id string) (models.Violation, error) {
	var v models.Violation
	query := s.db.Rebind(`SELECT * FROM violations WHERE id = ?`)
	if err := s.db.GetContext(ctx, &v, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Violation{}, ErrNotFound
		}
		return models.Violation{}, fmt.Errorf("get violation: %w", err)
	}
	return v, nil
}

// ListViolations returns violations in the window, newest first.
func (s *SQLStore) ListViolations(ctx context.Context, q ViolationQuery) ([]models.Violation, error) {
	query := `SELECT * FROM violations WHERE observed_at >= ?`
	args := []any{q.Since.UTC()}
	if q.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, q.Provider)
	}
	if q.Model != "" {
		query += ` AND model = ?`
		args = append(args, q.Model)
	}
	if q.State != "" {
		query += ` AND state = ?`
		args = append(args, string(q.State))
	}
	query += ` ORDER BY observed_at DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var out []models.Violation
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	return out, nil
}

// AcknowledgeViolation marks the violation acknowledged unless it has already
// been resolved. Re-acknowledging is allowed; the last acknowledger wins.
func (s *SQLStore) AcknowledgeViolation(ctx context.Context, id, actor string, at time.Time) (models.Violation, error) {
	query := s.db.Rebind(`UPDATE violations
		SET state = ?, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ? AND state <> ?`)
	if _, err := s.db.ExecContext(ctx, query,
		string(models.ViolationAcknowledged), actor, at.UTC(), id, string(models.ViolationResolved)); err != nil {
		return models.Violation{}, fmt.Errorf("acknowledge violation: %w", err)
	}
	// A resolved violation slips through the guard untouched; the caller
	// inspects the returned state to reject the transition.
	return s.GetViolation(ctx, id)
}

// ResolveViolation marks the violation resolved, keeping the first
// resolution timestamp on repeat calls.
func (s *SQLStore) ResolveViolation(ctx context.Context, id string, at time.Time) (models.Violation, error) {
	query := s.db.Rebind(`UPDATE violations
		SET state = ?, resolved_at = COALESCE(resolved_at, ?)
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, string(models.ViolationResolved), at.UTC(), id)
	if err != nil {
		return models.Violation{}, fmt.Errorf("resolve violation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Violation{}, fmt.Errorf("resolve violation: %w", err)
	}
	if affected == 0 {
		return models.Violation{}, ErrNotFound
	}
	return s.GetViolation(ctx, id)
}

// RecordAttempt stores one delivery outcome. The primary key keeps at most
// one attempt per (violation, channel); racing duplicates keep the first.
func (s *SQLStore) RecordAttempt(ctx context.Context, a models.AlertAttempt) error {
	query := s.db.Rebind(`INSERT INTO alert_attempts (violation_id, channel, status, detail, attempted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (violation_id, channel) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query,
		a.ViolationID, a.Channel, string(a.Status), a.Detail, a.AttemptedAt.UTC()); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the delivery outcomes for one violation.
func (s *SQLStore) ListAttempts(ctx context.Context, violationID string) ([]models.AlertAttempt, error) {
	var out []models.AlertAttempt
	query := s.db.Rebind(`SELECT violation_id, channel, status, detail, attempted_at
		FROM alert_attempts WHERE violation_id = ? ORDER BY channel ASC`)
	if err := s.db.SelectContext(ctx, &out, query, violationID); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return out, nil
}

// GetAlertSettings loads the alert settings row, ErrNotFound if unset.
func (s *SQLStore) GetAlertSettings(ctx context.Context) (models.AlertSettings, error) {
	var raw string
	query := s.db.Rebind(`SELECT value FROM settings WHERE key = ?`)
	if err := s.db.GetContext(ctx, &raw, query, alertSettingsKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AlertSettings{}, ErrNotFound
		}
		return models.AlertSettings{}, fmt.Errorf("get settings: %w", err)
	}
	var out models.AlertSettings
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return models.AlertSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

// PutAlertSettings upserts the alert settings row.
func (s *SQLStore) PutAlertSettings(ctx context.Context, settings models.AlertSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	query := s.db.Rebind(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, alertSettingsKey, string(raw), time.Now().UTC()); err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}
