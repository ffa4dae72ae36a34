package models

import "time"

// SeriesKey identifies one measurement stream. Statistics and rule state are
// scoped to a single (provider, model) pair.
type SeriesKey struct {
	Provider string `json:"provider" db:"provider"`
	Model    string `json:"model" db:"model"`
}

// String renders the key in provider/model form for logging and map keys.
func (k SeriesKey) String() string {
	return k.Provider + "/" + k.Model
}

// Measurement is one observed latency sample. Immutable once ingested.
type Measurement struct {
	Provider   string    `json:"provider" db:"provider"`
	Model      string    `json:"model" db:"model"`
	Value      float64   `json:"value" db:"value"`
	ObservedAt time.Time `json:"observed_at" db:"observed_at"`
}

// Series returns the measurement's series key.
func (m Measurement) Series() SeriesKey {
	return SeriesKey{Provider: m.Provider, Model: m.Model}
}

// SeriesStats is a point-in-time snapshot of the online statistics for one
// series. UCL/LCL are the conventional three-sigma control limits; LCL is
// floored at zero because latency cannot be negative.
type SeriesStats struct {
	Count    int64   `json:"count"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Std      float64 `json:"std"`
	UCL      float64 `json:"ucl"`
	LCL      float64 `json:"lcl"`
}
