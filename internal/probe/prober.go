package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pulsestack/pulse-spc/internal/config"
	"github.com/pulsestack/pulse-spc/internal/metrics"
	"github.com/pulsestack/pulse-spc/internal/models"
	"github.com/pulsestack/pulse-spc/internal/services"
)

// Prober actively measures one LLM endpoint: it posts a small completion
// request on a fixed interval, times the full round trip, and feeds the
// wall-clock latency into the ingest pipeline as a measurement.
type Prober struct {
	cfg        config.ProbeConfig
	ingest     *services.IngestService
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProber constructs a prober for one configured endpoint.
func NewProber(cfg config.ProbeConfig, ingest *services.IngestService, logger *slog.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "Reply with the single word: pong"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		cfg:        cfg,
		ingest:     ingest,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Run probes on the configured interval until ctx is cancelled. A failed
// probe is logged and skipped; only successful round trips become
// measurements.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx)
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context) {
	latency, err := p.measure(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("probe failed",
			"provider", p.cfg.Provider, "model", p.cfg.Model, "error", err)
		return
	}

	metrics.ObserveProbe(p.cfg.Provider, p.cfg.Model, latency)
	_, err = p.ingest.Ingest(ctx, models.Measurement{
		Provider:   p.cfg.Provider,
		Model:      p.cfg.Model,
		Value:      float64(latency) / float64(time.Millisecond),
		ObservedAt: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("probe ingest failed",
			"provider", p.cfg.Provider, "model", p.cfg.Model, "error", err)
	}
}

// measure issues one completion request and returns the wall-clock duration.
func (p *Prober) measure(ctx context.Context) (time.Duration, error) {
	payload, err := json.Marshal(map[string]any{
		"model":  p.cfg.Model,
		"prompt": p.cfg.Prompt,
		"stream": false,
	})
	if err != nil {
		return 0, fmt.Errorf("encode probe payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", p.cfg.URL, err)
	}
	defer resp.Body.Close()

	// Drain so the latency covers the full response, not just headers.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return 0, fmt.Errorf("read probe response: %w", err)
	}
	elapsed := time.Since(started)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("probe %s returned %s", p.cfg.URL, resp.Status)
	}
	return elapsed, nil
}

// Fleet runs one Prober per configured endpoint and joins them on shutdown.
type Fleet struct {
	probers []*Prober
	wg      sync.WaitGroup
}

// NewFleet builds probers for every configured endpoint.
func NewFleet(cfgs []config.ProbeConfig, ingest *services.IngestService, logger *slog.Logger) *Fleet {
	f := &Fleet{}
	for _, cfg := range cfgs {
		f.probers = append(f.probers, NewProber(cfg, ingest, logger))
	}
	return f
}

// Start launches every prober. Cancel ctx and Wait to stop the fleet.
func (f *Fleet) Start(ctx context.Context) {
	for _, p := range f.probers {
		f.wg.Add(1)
		go func(p *Prober) {
			defer f.wg.Done()
			p.Run(ctx)
		}(p)
	}
}

// Wait blocks until every prober has stopped.
func (f *Fleet) Wait() {
	f.wg.Wait()
}
