package models

import "time"

// Rule identifies one control-chart rule. R1 through R4 are evaluated; R5
// through R8 are reserved tags for rules the evaluator does not yet implement.
type Rule string

const (
	RuleR1 Rule = "R1" // single point beyond 3 sigma
	RuleR2 Rule = "R2" // 9 consecutive points on one side of the mean
	RuleR3 Rule = "R3" // 6 consecutive strictly monotonic points
	RuleR4 Rule = "R4" // 14 consecutive alternating points
	RuleR5 Rule = "R5" // reserved: 2 of 3 beyond 2 sigma
	RuleR6 Rule = "R6" // reserved: 4 of 5 beyond 1 sigma
	RuleR7 Rule = "R7" // reserved: 15 within 1 sigma
	RuleR8 Rule = "R8" // reserved: 8 beyond 1 sigma
)

// Severity captures impact levels.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ViolationState is the lifecycle state of a recorded violation.
type ViolationState string

const (
	ViolationOpen         ViolationState = "open"
	ViolationAcknowledged ViolationState = "acknowledged"
	ViolationResolved     ViolationState = "resolved"
)

// Violation records one rule trigger together with the statistics that were
// true at the instant it fired. The snapshot fields are frozen at creation
// and never recomputed, so historical violations stay explainable even after
// the series' running statistics move on.
type Violation struct {
	ID              string         `json:"id" db:"id"`
	Provider        string         `json:"provider" db:"provider"`
	Model           string         `json:"model" db:"model"`
	Rule            Rule           `json:"rule" db:"rule"`
	Severity        Severity       `json:"severity" db:"severity"`
	Message         string         `json:"message" db:"message"`
	TriggeringValue float64        `json:"triggering_value" db:"triggering_value"`
	ObservedAt      time.Time      `json:"observed_at" db:"observed_at"`
	Mean            float64        `json:"mean" db:"mean"`
	Std             float64        `json:"std" db:"std"`
	UCL             float64        `json:"ucl" db:"ucl"`
	LCL             float64        `json:"lcl" db:"lcl"`
	DeviationSigma  float64        `json:"deviation_sigma" db:"deviation_sigma"`
	State           ViolationState `json:"state" db:"state"`
	AcknowledgedBy  *string        `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt  *time.Time     `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// Series returns the violation's series key.
func (v Violation) Series() SeriesKey {
	return SeriesKey{Provider: v.Provider, Model: v.Model}
}

// AttemptStatus is the outcome of one alert delivery attempt.
type AttemptStatus string

const (
	AttemptSent    AttemptStatus = "sent"
	AttemptFailed  AttemptStatus = "failed"
	AttemptSkipped AttemptStatus = "skipped"
)

// AlertAttempt records the outcome of one dispatch try for one
// (violation, channel) pair. Append-only.
type AlertAttempt struct {
	ViolationID string        `json:"violation_id" db:"violation_id"`
	Channel     string        `json:"channel" db:"channel"`
	Status      AttemptStatus `json:"status" db:"status"`
	Detail      string        `json:"detail" db:"detail"`
	AttemptedAt time.Time     `json:"attempted_at" db:"attempted_at"`
}
