package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/pulsestack/pulse-spc/internal/models"
	"github.com/pulsestack/pulse-spc/internal/repo"
)

func seedViolation(t *testing.T, store *repo.Memory, provider, model string, rule models.Rule, at time.Time) {
	t.Helper()
	severity := models.SeverityWarning
	if rule == models.RuleR1 {
		severity = models.SeverityCritical
	}
	_, _, err := store.CreateViolation(context.Background(), models.Violation{
		Provider:   provider,
		Model:      model,
		Rule:       rule,
		Severity:   severity,
		ObservedAt: at,
		State:      models.ViolationOpen,
	})
	if err != nil {
		t.Fatalf("seed violation: %v", err)
	}
}

func TestMineEmptyHistory(t *testing.T) {
	m := NewMiner(repo.NewMemory(), nil)
	patterns, err := m.Mine(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if patterns != nil {
		t.Fatalf("patterns = %v, want nil", patterns)
	}
}

func TestMineAggregatesPerSeries(t *testing.T) {
	store := repo.NewMemory()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	// Three violations on openai/gpt-4o (two R1, one R2), one on a second series.
	seedViolation(t, store, "openai", "gpt-4o", models.RuleR1, base)
	seedViolation(t, store, "openai", "gpt-4o", models.RuleR1, base.Add(time.Minute))
	seedViolation(t, store, "openai", "gpt-4o", models.RuleR2, base.Add(2*time.Minute))
	seedViolation(t, store, "anthropic", "claude-sonnet", models.RuleR3, base.Add(3*time.Minute))

	m := NewMiner(store, nil)
	patterns, err := m.Mine(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("patterns = %d, want 2", len(patterns))
	}

	top := patterns[0]
	if top.Provider != "openai" || top.Model != "gpt-4o" {
		t.Fatalf("top pattern = %s/%s, want openai/gpt-4o", top.Provider, top.Model)
	}
	if top.Violations != 3 {
		t.Fatalf("top violations = %d, want 3", top.Violations)
	}
	if top.DominantRule != models.RuleR1 {
		t.Fatalf("dominant rule = %s, want R1", top.DominantRule)
	}
	if top.Prevalence != 0.75 {
		t.Fatalf("prevalence = %v, want 0.75", top.Prevalence)
	}
	if top.CriticalShare != 2.0/3.0 {
		t.Fatalf("critical share = %v, want 2/3", top.CriticalShare)
	}
	if !top.LastSeen.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("last seen = %v", top.LastSeen)
	}
}

func TestMineHonoursSinceWindow(t *testing.T) {
	store := repo.NewMemory()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	seedViolation(t, store, "openai", "gpt-4o", models.RuleR1, base.Add(-48*time.Hour))
	seedViolation(t, store, "anthropic", "claude-sonnet", models.RuleR2, base)

	m := NewMiner(store, nil)
	patterns, err := m.Mine(context.Background(), base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("patterns = %d, want 1 inside the window", len(patterns))
	}
	if patterns[0].Provider != "anthropic" {
		t.Fatalf("pattern provider = %s", patterns[0].Provider)
	}
}
