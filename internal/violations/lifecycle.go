package violations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsestack/pulse-spc/internal/models"
	"github.com/pulsestack/pulse-spc/internal/repo"
)

// ErrAlreadyResolved is returned when an acknowledgement targets a violation
// that has already reached its terminal state.
var ErrAlreadyResolved = errors.New("violation already resolved")

// Lifecycle drives violation state transitions. Valid moves are
// open -> acknowledged, open -> resolved, and acknowledged -> resolved;
// resolved is terminal.
type Lifecycle struct {
	store  repo.ViolationStore
	logger *slog.Logger
}

// NewLifecycle builds a lifecycle manager over the given store.
func NewLifecycle(store repo.ViolationStore, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{store: store, logger: logger}
}

// Acknowledge marks a violation as acknowledged by the given actor. Repeat
// acknowledgements succeed and record the most recent actor and time.
// Acknowledging a resolved violation fails with ErrAlreadyResolved.
func (l *Lifecycle) Acknowledge(ctx context.Context, id, actor string) (models.Violation, error) {
	v, err := l.store.AcknowledgeViolation(ctx, id, actor, time.Now().UTC())
	if err != nil {
		return models.Violation{}, fmt.Errorf("acknowledge %s: %w", id, err)
	}
	if v.State == models.ViolationResolved {
		return v, fmt.Errorf("acknowledge %s: %w", id, ErrAlreadyResolved)
	}
	l.logger.Info("violation acknowledged", "id", id, "actor", actor)
	return v, nil
}

// Resolve marks a violation as resolved. Resolving is idempotent: repeat
// calls succeed and keep the original resolution time.
func (l *Lifecycle) Resolve(ctx context.Context, id string) (models.Violation, error) {
	v, err := l.store.ResolveViolation(ctx, id, time.Now().UTC())
	if err != nil {
		return models.Violation{}, fmt.Errorf("resolve %s: %w", id, err)
	}
	l.logger.Info("violation resolved", "id", id)
	return v, nil
}
