package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsestack/pulse-spc/internal/metrics"
	"github.com/pulsestack/pulse-spc/internal/models"
	"github.com/pulsestack/pulse-spc/internal/repo"
)

// Dispatcher fans violations out to the configured channels. Delivery is
// fire-and-forget: Dispatch returns as soon as the work is queued, each
// attempt is bounded by its own timeout, and failures are recorded but never
// retried. The attempt table's primary key keeps delivery at-most-once per
// (violation, channel) even across overlapping dispatches.
type Dispatcher struct {
	channels []Channel
	settings repo.SettingsStore
	attempts repo.AttemptStore
	logger   *slog.Logger

	attemptTimeout time.Duration
	sem            chan struct{}
	wg             sync.WaitGroup
}

// DispatcherConfig bounds the dispatcher's concurrency and per-attempt time.
type DispatcherConfig struct {
	MaxConcurrent  int
	AttemptTimeout time.Duration
}

// NewDispatcher builds a dispatcher over the given channels and stores.
func NewDispatcher(channels []Channel, settings repo.SettingsStore, attempts repo.AttemptStore, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		channels:       channels,
		settings:       settings,
		attempts:       attempts,
		logger:         logger,
		attemptTimeout: cfg.AttemptTimeout,
		sem:            make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Dispatch queues delivery of one violation. Settings are read at dispatch
// time, so toggling a rule or channel takes effect for the next violation
// without a restart. Violations whose rule is not alert-worthy produce no
// attempts at all; disabled channels get a skipped attempt row.
func (d *Dispatcher) Dispatch(ctx context.Context, v models.Violation) {
	settings, err := d.settings.GetAlertSettings(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		settings = models.DefaultAlertSettings(d.channelNames())
	} else if err != nil {
		d.logger.Warn("load alert settings", "error", err)
		settings = models.DefaultAlertSettings(d.channelNames())
	}

	if !settings.RuleEnabled(v.Rule) {
		d.logger.Debug("rule not alert-worthy", "rule", string(v.Rule), "violation", v.ID)
		return
	}

	for _, ch := range d.channels {
		if !settings.ChannelEnabled(ch.Name()) {
			d.record(models.AlertAttempt{
				ViolationID: v.ID,
				Channel:     ch.Name(),
				Status:      models.AttemptSkipped,
				Detail:      "channel disabled",
				AttemptedAt: time.Now().UTC(),
			})
			continue
		}

		d.wg.Add(1)
		go d.deliver(ch, v)
	}
}

func (d *Dispatcher) deliver(ch Channel, v models.Violation) {
	defer d.wg.Done()

	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), d.attemptTimeout)
	defer cancel()

	attempt := models.AlertAttempt{
		ViolationID: v.ID,
		Channel:     ch.Name(),
		Status:      models.AttemptSent,
		AttemptedAt: time.Now().UTC(),
	}
	if err := ch.Send(ctx, v); err != nil {
		attempt.Status = models.AttemptFailed
		attempt.Detail = err.Error()
		d.logger.Warn("alert delivery failed",
			"channel", ch.Name(), "violation", v.ID, "error", err)
	} else {
		d.logger.Info("alert delivered", "channel", ch.Name(), "violation", v.ID)
	}

	d.record(attempt)
}

// recordTimeout bounds the audit write independently of the delivery.
const recordTimeout = 5 * time.Second

// record is best-effort: a failed audit write is logged, never surfaced. The
// write runs on its own context: the delivery context is usually expired by
// the time a timed-out attempt reaches here, and a timeout is exactly the
// outcome that must still land in the attempt table.
func (d *Dispatcher) record(attempt models.AlertAttempt) {
	metrics.ObserveAlertAttempt(attempt.Channel, string(attempt.Status))
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := d.attempts.RecordAttempt(ctx, attempt); err != nil {
		d.logger.Warn("record alert attempt",
			"channel", attempt.Channel, "violation", attempt.ViolationID, "error", err)
	}
}

func (d *Dispatcher) channelNames() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Close waits for in-flight deliveries to finish or the context to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
