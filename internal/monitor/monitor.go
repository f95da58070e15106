// Package monitor watches the estimated gas price and raises alerts on
// abrupt moves. The monitor only observes: it holds no write authority
// and a bad tick never terminates the loop.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/verdigrid/retroledger/internal/metrics"
	"github.com/verdigrid/retroledger/pkg/types"
)

const (
	// DefaultInterval is the time between price samples.
	DefaultInterval = 5 * time.Minute

	// DefaultThresholdPct is the percentage move, in either direction,
	// that raises an alert.
	DefaultThresholdPct = 20
)

// PriceSource supplies the current buffered gas price.
// gasprice.Estimator satisfies it.
type PriceSource interface {
	EstimatePrice(ctx context.Context) uint64
}

// AlertSink persists raised alerts. A nil sink keeps alerts in logs
// and metrics only.
type AlertSink interface {
	SaveAlert(ctx context.Context, alert *types.PriceAlert) error
}

// Config configures a Monitor.
type Config struct {
	Prices PriceSource

	Interval     time.Duration
	ThresholdPct uint64

	Sink    AlertSink
	Metrics metrics.Recorder
	Logger  *slog.Logger
	Now     func() time.Time
}

// Monitor periodically samples the gas price and compares consecutive
// samples against the volatility threshold.
type Monitor struct {
	prices       PriceSource
	interval     time.Duration
	thresholdPct uint64
	sink         AlertSink
	metrics      metrics.Recorder
	logger       *slog.Logger
	now          func() time.Time

	// prev is only touched by the Run goroutine.
	prev uint64
}

// New creates a Monitor from cfg.
func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ThresholdPct == 0 {
		cfg.ThresholdPct = DefaultThresholdPct
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{
		prices:       cfg.Prices,
		interval:     cfg.Interval,
		thresholdPct: cfg.ThresholdPct,
		sink:         cfg.Sink,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
}

// Run samples prices until ctx is cancelled. The first sample primes
// the baseline; comparisons start on the second.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("price monitor starting",
		slog.Duration("interval", m.interval),
		slog.Uint64("threshold_pct", m.thresholdPct),
	)

	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("price monitor stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick takes one sample and raises an alert when the move from the
// previous sample reaches the threshold.
func (m *Monitor) tick(ctx context.Context) {
	current := m.prices.EstimatePrice(ctx)
	if current == 0 {
		// The estimator clamps to a positive floor, so a zero sample
		// means the source is broken. Keep the old baseline and try
		// again next tick.
		m.logger.Warn("price sample is zero, skipping tick")
		return
	}

	prev := m.prev
	m.prev = current
	if prev == 0 {
		m.logger.Debug("price baseline recorded", slog.Uint64("price_wei", current))
		return
	}

	var diff uint64
	direction := types.AlertUp
	if current >= prev {
		diff = current - prev
	} else {
		diff = prev - current
		direction = types.AlertDown
	}
	changePct := diff * 100 / prev

	if changePct < m.thresholdPct {
		m.logger.Debug("price within threshold",
			slog.Uint64("previous_wei", prev),
			slog.Uint64("current_wei", current),
			slog.Uint64("change_pct", changePct),
		)
		return
	}

	alert := &types.PriceAlert{
		PreviousWei: prev,
		CurrentWei:  current,
		ChangePct:   changePct,
		Direction:   direction,
		ObservedAt:  m.now(),
	}

	m.logger.Warn("gas price moved sharply",
		slog.Uint64("previous_wei", prev),
		slog.Uint64("current_wei", current),
		slog.Uint64("change_pct", changePct),
		slog.String("direction", string(direction)),
	)
	m.metrics.RecordAlert(string(direction))

	if m.sink != nil {
		if err := m.sink.SaveAlert(ctx, alert); err != nil {
			m.logger.Warn("failed to persist price alert",
				slog.String("error", err.Error()),
			)
		}
	}
}
