package spc

import (
	"errors"
	"sync"
	"time"

	"github.com/pulsestack/pulse-spc/internal/models"
)

// ErrOutOfOrder reports a measurement whose timestamp precedes the newest
// point already applied to its series. Ties are accepted.
var ErrOutOfOrder = errors.New("measurement predates the series' newest point")

// Series owns the aggregator and evaluator state for one (provider, model)
// stream. All mutation happens under one mutex so updates to the same series
// are serialized while distinct series proceed fully in parallel.
type Series struct {
	mu           sync.Mutex
	key          models.SeriesKey
	agg          Aggregator
	eval         Evaluator
	lastObserved time.Time
	seen         bool
}

// Key returns the series identity.
func (s *Series) Key() models.SeriesKey { return s.key }

// Apply incorporates one measurement: it enforces timestamp ordering, runs
// the optional persist hook, updates the statistics, and evaluates the rules,
// all inside the series' critical section. If persist fails the in-memory
// state is left untouched so the caller can retry the identical point.
func (s *Series) Apply(value float64, observedAt time.Time, persist func() error) (models.SeriesStats, []models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen && observedAt.Before(s.lastObserved) {
		return models.SeriesStats{}, nil, ErrOutOfOrder
	}
	if persist != nil {
		if err := persist(); err != nil {
			return models.SeriesStats{}, nil, err
		}
	}

	stats := s.agg.Update(value)
	triggered := s.eval.Evaluate(value, stats)
	s.lastObserved = observedAt
	s.seen = true
	return stats, triggered, nil
}

// Stats returns the current statistics snapshot.
func (s *Series) Stats() models.SeriesStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Snapshot()
}

// Tracker is the registry of live series states, one entry per distinct
// (provider, model) pair seen since process start. Statistics are not
// rehydrated from history on restart; the stream begins fresh.
type Tracker struct {
	mu     sync.Mutex
	series map[models.SeriesKey]*Series
}

// NewTracker creates an empty registry.
func NewTracker() *Tracker {
	return &Tracker{series: make(map[models.SeriesKey]*Series)}
}

// Series returns the state for key, creating it on first use.
func (t *Tracker) Series(key models.SeriesKey) *Series {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.series[key]
	if !ok {
		s = &Series{key: key}
		t.series[key] = s
	}
	return s
}

// Keys lists the series tracked so far.
func (t *Tracker) Keys() []models.SeriesKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]models.SeriesKey, 0, len(t.series))
	for k := range t.series {
		keys = append(keys, k)
	}
	return keys
}
