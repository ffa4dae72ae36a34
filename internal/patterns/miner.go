package patterns

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pulsestack/pulse-spc/internal/models"
	"github.com/pulsestack/pulse-spc/internal/repo"
)

// SeriesPattern summarises the violation history of one series: how often
// each rule fires, which rule dominates, and how recently the series
// misbehaved.
type SeriesPattern struct {
	Provider      string              `json:"provider"`
	Model         string              `json:"model"`
	Violations    int                 `json:"violations"`
	RuleCounts    map[models.Rule]int `json:"rule_counts"`
	DominantRule  models.Rule         `json:"dominant_rule"`
	Prevalence    float64             `json:"prevalence"`
	CriticalShare float64             `json:"critical_share"`
	LastSeen      time.Time           `json:"last_seen"`
}

// Miner mines frequency-based patterns from violation history.
type Miner struct {
	store  repo.ViolationStore
	logger *slog.Logger
}

// NewMiner constructs a Miner over the violation store.
func NewMiner(store repo.ViolationStore, logger *slog.Logger) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger}
}

// Mine aggregates violations since the given time into per-series patterns,
// ordered by prevalence (share of all violations in the window).
func (m *Miner) Mine(ctx context.Context, since time.Time) ([]SeriesPattern, error) {
	violations, err := m.store.ListViolations(ctx, repo.ViolationQuery{Since: since})
	if err != nil {
		return nil, err
	}
	if len(violations) == 0 {
		return nil, nil
	}

	bySeries := make(map[models.SeriesKey]*seriesAggregate)
	for _, v := range violations {
		key := v.Series()
		agg, ok := bySeries[key]
		if !ok {
			agg = &seriesAggregate{ruleCounts: make(map[models.Rule]int)}
			bySeries[key] = agg
		}
		agg.count++
		agg.ruleCounts[v.Rule]++
		if v.Severity == models.SeverityCritical {
			agg.critical++
		}
		if v.ObservedAt.After(agg.lastSeen) {
			agg.lastSeen = v.ObservedAt
		}
	}

	patterns := make([]SeriesPattern, 0, len(bySeries))
	for key, agg := range bySeries {
		patterns = append(patterns, SeriesPattern{
			Provider:      key.Provider,
			Model:         key.Model,
			Violations:    agg.count,
			RuleCounts:    agg.ruleCounts,
			DominantRule:  agg.dominantRule(),
			Prevalence:    float64(agg.count) / float64(len(violations)),
			CriticalShare: float64(agg.critical) / float64(agg.count),
			LastSeen:      agg.lastSeen,
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Prevalence != patterns[j].Prevalence {
			return patterns[i].Prevalence > patterns[j].Prevalence
		}
		if patterns[i].Provider != patterns[j].Provider {
			return patterns[i].Provider < patterns[j].Provider
		}
		return patterns[i].Model < patterns[j].Model
	})

	m.logger.Debug("mined violation patterns",
		"series", len(patterns), "violations", len(violations))
	return patterns, nil
}

type seriesAggregate struct {
	count      int
	critical   int
	lastSeen   time.Time
	ruleCounts map[models.Rule]int
}

func (agg *seriesAggregate) dominantRule() models.Rule {
	var best models.Rule
	bestCount := -1
	for rule, count := range agg.ruleCounts {
		if count > bestCount || (count == bestCount && rule < best) {
			best = rule
			bestCount = count
		}
	}
	return best
}
