package repo

// schemaStatements is applied in order at open. The statements are written to
// run identically on SQLite and PostgreSQL.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS measurements (
		provider    TEXT NOT NULL,
		model       TEXT NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		observed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_measurements_series_time
		ON measurements (provider, model, observed_at)`,

	`CREATE TABLE IF NOT EXISTS violations (
		id               TEXT PRIMARY KEY,
		provider         TEXT NOT NULL,
		model            TEXT NOT NULL,
		rule             TEXT NOT NULL,
		severity         TEXT NOT NULL,
		message          TEXT NOT NULL DEFAULT '',
		triggering_value DOUBLE PRECISION NOT NULL,
		observed_at      TIMESTAMP NOT NULL,
		mean             DOUBLE PRECISION NOT NULL,
		std              DOUBLE PRECISION NOT NULL,
		ucl              DOUBLE PRECISION NOT NULL,
		lcl              DOUBLE PRECISION NOT NULL,
		deviation_sigma  DOUBLE PRECISION NOT NULL,
		state            TEXT NOT NULL DEFAULT 'open',
		acknowledged_by  TEXT,
		acknowledged_at  TIMESTAMP,
		resolved_at      TIMESTAMP,
		created_at       TIMESTAMP NOT NULL,
		CONSTRAINT uq_violation_trigger UNIQUE (provider, model, rule, observed_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_violations_series_time
		ON violations (provider, model, observed_at)`,

	`CREATE TABLE IF NOT EXISTS alert_attempts (
		violation_id TEXT NOT NULL,
		channel      TEXT NOT NULL,
		status       TEXT NOT NULL,
		detail       TEXT NOT NULL DEFAULT '',
		attempted_at TIMESTAMP NOT NULL,
		PRIMARY KEY (violation_id, channel)
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}
