package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pulsestack/pulse-spc/internal/models"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := Open(Config{
		Driver: "sqlite",
		DSN:    "file:spc_test?mode=memory&cache=shared&_time_format=sqlite",
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLMeasurementRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, v := range []float64{100, 110, 120} {
		err := store.InsertMeasurement(ctx, models.Measurement{
			Provider:   "openai",
			Model:      "gpt-4o",
			Value:      v,
			ObservedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	got, err := store.ListMeasurements(ctx, MeasurementQuery{
		Provider: "openai",
		Model:    "gpt-4o",
		Since:    base.Add(30 * time.Second),
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0].Value != 110 || got[1].Value != 120 {
		t.Fatalf("ordering wrong: %+v", got)
	}
}

func TestSQLViolationDuplicateTrigger(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	v := models.Violation{
		Provider:   "openai",
		Model:      "gpt-4o",
		Rule:       models.RuleR1,
		Severity:   models.SeverityCritical,
		Message:    "beyond limits",
		ObservedAt: at,
		State:      models.ViolationOpen,
		CreatedAt:  time.Now().UTC(),
	}

	firstID, created, err := store.CreateViolation(ctx, v)
	if err != nil || !created {
		t.Fatalf("first create: id=%s created=%v err=%v", firstID, created, err)
	}

	secondID, created, err := store.CreateViolation(ctx, v)
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if created {
		t.Fatal("duplicate trigger must not create a row")
	}
	if secondID != firstID {
		t.Fatalf("duplicate id = %s, want %s", secondID, firstID)
	}

	// A different rule on the same point is a distinct violation.
	v.Rule = models.RuleR3
	thirdID, created, err := store.CreateViolation(ctx, v)
	if err != nil || !created || thirdID == firstID {
		t.Fatalf("distinct rule: id=%s created=%v err=%v", thirdID, created, err)
	}
}

func TestSQLViolationConcurrentDuplicateTrigger(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	v := models.Violation{
		Provider:   "openai",
		Model:      "gpt-4o",
		Rule:       models.RuleR2,
		Severity:   models.SeverityWarning,
		Message:    "sustained shift",
		ObservedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		State:      models.ViolationOpen,
		CreatedAt:  time.Now().UTC(),
	}

	type outcome struct {
		id      string
		created bool
		err     error
	}
	start := make(chan struct{})
	results := make(chan outcome, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			id, created, err := store.CreateViolation(ctx, v)
			results <- outcome{id: id, created: created, err: err}
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var ids []string
	createdCount := 0
	for r := range results {
		if r.err != nil {
			t.Fatalf("concurrent create: %v", r.err)
		}
		if r.created {
			createdCount++
		}
		ids = append(ids, r.id)
	}
	if createdCount != 1 {
		t.Fatalf("created count = %d, want exactly one winner", createdCount)
	}
	if ids[0] != ids[1] {
		t.Fatalf("racing creates resolved to different ids: %s vs %s", ids[0], ids[1])
	}

	rows, err := store.ListViolations(ctx, ViolationQuery{Since: v.ObservedAt.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
}

func TestSQLLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	id, _, err := store.CreateViolation(ctx, models.Violation{
		Provider:   "openai",
		Model:      "gpt-4o",
		Rule:       models.RuleR2,
		Severity:   models.SeverityWarning,
		ObservedAt: at,
		State:      models.ViolationOpen,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	acked, err := store.AcknowledgeViolation(ctx, id, "oncall", time.Now())
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.State != models.ViolationAcknowledged || acked.AcknowledgedBy == nil {
		t.Fatalf("acked = %+v", acked)
	}

	resolvedAt := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	resolved, err := store.ResolveViolation(ctx, id, resolvedAt)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.State != models.ViolationResolved || resolved.ResolvedAt == nil {
		t.Fatalf("resolved = %+v", resolved)
	}

	// Repeat resolve keeps the first resolution time.
	again, err := store.ResolveViolation(ctx, id, resolvedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("repeat resolve: %v", err)
	}
	if !again.ResolvedAt.Equal(*resolved.ResolvedAt) {
		t.Fatalf("resolved_at moved: %v vs %v", again.ResolvedAt, resolved.ResolvedAt)
	}

	// Acknowledging a resolved violation leaves it resolved.
	after, err := store.AcknowledgeViolation(ctx, id, "late", time.Now())
	if err != nil {
		t.Fatalf("ack after resolve: %v", err)
	}
	if after.State != models.ViolationResolved {
		t.Fatalf("state = %s, want resolved", after.State)
	}

	if _, err := store.ResolveViolation(ctx, "missing", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resolve missing: err = %v, want ErrNotFound", err)
	}
}

func TestSQLAttemptsAtMostOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, _, err := store.CreateViolation(ctx, models.Violation{
		Provider:   "openai",
		Model:      "gpt-4o",
		Rule:       models.RuleR1,
		Severity:   models.SeverityCritical,
		ObservedAt: time.Now().UTC(),
		State:      models.ViolationOpen,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	attempt := models.AlertAttempt{
		ViolationID: id,
		Channel:     "webhook",
		Status:      models.AttemptSent,
		AttemptedAt: time.Now().UTC(),
	}
	if err := store.RecordAttempt(ctx, attempt); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Second write for the same (violation, channel) is silently dropped.
	attempt.Status = models.AttemptFailed
	if err := store.RecordAttempt(ctx, attempt); err != nil {
		t.Fatalf("repeat record: %v", err)
	}

	attempts, err := store.ListAttempts(ctx, id)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(attempts))
	}
	if attempts[0].Status != models.AttemptSent {
		t.Fatalf("status = %s, want first write kept", attempts[0].Status)
	}
}

func TestSQLAlertSettings(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.GetAlertSettings(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unset settings: err = %v, want ErrNotFound", err)
	}

	want := models.AlertSettings{
		AlertRules:      []models.Rule{models.RuleR1, models.RuleR2},
		EnabledChannels: []string{"slack"},
	}
	if err := store.PutAlertSettings(ctx, want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.GetAlertSettings(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.AlertRules) != 2 || got.EnabledChannels[0] != "slack" {
		t.Fatalf("settings = %+v", got)
	}

	// Upsert replaces the document.
	want.AlertRules = []models.Rule{models.RuleR1}
	if err := store.PutAlertSettings(ctx, want); err != nil {
		t.Fatalf("second put: %v", err)
	}
	got, err = store.GetAlertSettings(ctx)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if len(got.AlertRules) != 1 {
		t.Fatalf("updated settings = %+v", got)
	}
}
