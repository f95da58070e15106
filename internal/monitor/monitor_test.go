package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/verdigrid/retroledger/internal/metrics"
	"github.com/verdigrid/retroledger/pkg/types"
)

// seqPrices serves a fixed sequence of prices, repeating the last one.
type seqPrices struct {
	mu     sync.Mutex
	prices []uint64
	idx    int
}

func (s *seqPrices) EstimatePrice(ctx context.Context) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.prices) {
		return s.prices[len(s.prices)-1]
	}
	p := s.prices[s.idx]
	s.idx++
	return p
}

type captureSink struct {
	mu     sync.Mutex
	alerts []*types.PriceAlert
	err    error
	notify chan struct{}
}

func (c *captureSink) SaveAlert(ctx context.Context, alert *types.PriceAlert) error {
	c.mu.Lock()
	c.alerts = append(c.alerts, alert)
	err := c.err
	c.mu.Unlock()
	if c.notify != nil {
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
	return err
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

type alertRecorder struct {
	metrics.NopRecorder
	mu         sync.Mutex
	directions []string
}

func (a *alertRecorder) RecordAlert(direction string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.directions = append(a.directions, direction)
}

func newTestMonitor(prices PriceSource, sink AlertSink, rec metrics.Recorder) *Monitor {
	return New(Config{
		Prices:  prices,
		Sink:    sink,
		Metrics: rec,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     func() time.Time { return time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC) },
	})
}

func TestTickAlertsOnThresholdMove(t *testing.T) {
	ctx := context.Background()

	// 30 -> 36 gwei is +20%, 36 -> 28 gwei is -22%.
	prices := &seqPrices{prices: []uint64{30_000_000_000, 36_000_000_000, 28_000_000_000}}
	sink := &captureSink{}
	rec := &alertRecorder{}
	m := newTestMonitor(prices, sink, rec)

	m.tick(ctx) // baseline
	if got := sink.count(); got != 0 {
		t.Fatalf("alerts after baseline tick = %d, want 0", got)
	}

	m.tick(ctx)
	if got := sink.count(); got != 1 {
		t.Fatalf("alerts after +20%% tick = %d, want 1", got)
	}
	up := sink.alerts[0]
	if up.Direction != types.AlertUp {
		t.Errorf("Direction = %q, want up", up.Direction)
	}
	if up.PreviousWei != 30_000_000_000 || up.CurrentWei != 36_000_000_000 {
		t.Errorf("alert prices = %d -> %d, want 30 -> 36 gwei", up.PreviousWei, up.CurrentWei)
	}
	if up.ChangePct != 20 {
		t.Errorf("ChangePct = %d, want 20", up.ChangePct)
	}
	if up.ObservedAt.IsZero() {
		t.Error("ObservedAt is zero")
	}

	m.tick(ctx)
	if got := sink.count(); got != 2 {
		t.Fatalf("alerts after -22%% tick = %d, want 2", got)
	}
	down := sink.alerts[1]
	if down.Direction != types.AlertDown {
		t.Errorf("Direction = %q, want down", down.Direction)
	}
	if down.ChangePct != 22 {
		t.Errorf("ChangePct = %d, want 22", down.ChangePct)
	}

	wantDirs := []string{"up", "down"}
	if len(rec.directions) != 2 || rec.directions[0] != wantDirs[0] || rec.directions[1] != wantDirs[1] {
		t.Errorf("recorded directions = %v, want %v", rec.directions, wantDirs)
	}
}

func TestTickStaysQuietWithinThreshold(t *testing.T) {
	ctx := context.Background()

	// 30 -> 35 gwei is +16%, under the default 20%.
	prices := &seqPrices{prices: []uint64{30_000_000_000, 35_000_000_000}}
	sink := &captureSink{}
	m := newTestMonitor(prices, sink, metrics.NopRecorder{})

	m.tick(ctx)
	m.tick(ctx)

	if got := sink.count(); got != 0 {
		t.Errorf("alerts = %d, want 0 for a 16%% move", got)
	}
}

func TestTickComparesAgainstLatestSample(t *testing.T) {
	ctx := context.Background()

	// Each comparison uses the previous sample, not the first: the
	// second +20% step alerts even though it is +44% from the start.
	prices := &seqPrices{prices: []uint64{30_000_000_000, 36_000_000_000, 43_200_000_000}}
	sink := &captureSink{}
	m := newTestMonitor(prices, sink, metrics.NopRecorder{})

	m.tick(ctx)
	m.tick(ctx)
	m.tick(ctx)

	if got := sink.count(); got != 2 {
		t.Fatalf("alerts = %d, want 2", got)
	}
	if sink.alerts[1].PreviousWei != 36_000_000_000 {
		t.Errorf("second alert PreviousWei = %d, want 36 gwei", sink.alerts[1].PreviousWei)
	}
	if sink.alerts[1].ChangePct != 20 {
		t.Errorf("second alert ChangePct = %d, want 20", sink.alerts[1].ChangePct)
	}
}

func TestTickSkipsZeroSample(t *testing.T) {
	ctx := context.Background()

	// The zero sample is skipped without clearing the baseline, so the
	// following 36 gwei sample still alerts against 30.
	prices := &seqPrices{prices: []uint64{30_000_000_000, 0, 36_000_000_000}}
	sink := &captureSink{}
	m := newTestMonitor(prices, sink, metrics.NopRecorder{})

	m.tick(ctx)
	m.tick(ctx)
	if got := sink.count(); got != 0 {
		t.Fatalf("alerts after zero sample = %d, want 0", got)
	}

	m.tick(ctx)
	if got := sink.count(); got != 1 {
		t.Fatalf("alerts = %d, want 1", got)
	}
	if sink.alerts[0].PreviousWei != 30_000_000_000 {
		t.Errorf("PreviousWei = %d, want the pre-zero baseline", sink.alerts[0].PreviousWei)
	}
}

func TestTickToleratesSinkFailure(t *testing.T) {
	ctx := context.Background()

	prices := &seqPrices{prices: []uint64{30_000_000_000, 40_000_000_000, 50_000_000_000}}
	sink := &captureSink{err: errors.New("disk full")}
	rec := &alertRecorder{}
	m := newTestMonitor(prices, sink, rec)

	m.tick(ctx)
	m.tick(ctx)
	m.tick(ctx)

	// Both alerts were still raised and counted despite the sink error.
	if got := sink.count(); got != 2 {
		t.Errorf("sink calls = %d, want 2", got)
	}
	if len(rec.directions) != 2 {
		t.Errorf("recorded alerts = %d, want 2", len(rec.directions))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	prices := &seqPrices{prices: []uint64{30_000_000_000, 40_000_000_000}}
	sink := &captureSink{notify: make(chan struct{}, 1)}
	m := New(Config{
		Prices:   prices,
		Interval: 2 * time.Millisecond,
		Sink:     sink,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// Wait for the first alert, then stop the loop.
	select {
	case <-sink.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("no alert within 2s")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
