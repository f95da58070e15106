// Package gasprice produces the gas price for the next submission:
// one cached, safety-buffered, hard-clamped sample shared by the
// submitter and the volatility monitor.
package gasprice

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/verdigrid/retroledger/internal/metrics"
)

// Estimator defaults. Price values are wei.
const (
	DefaultCacheTTL      = 60 * time.Second
	DefaultBufferPct     = uint64(10)
	DefaultMinPrice      = uint64(5_000_000_000)   // 5 gwei
	DefaultMaxPrice      = uint64(150_000_000_000) // 150 gwei
	DefaultFallbackPrice = uint64(30_000_000_000)  // 30 gwei
)

// Source tags where a price sample came from.
type Source string

const (
	SourceOracle  Source = "oracle"
	SourceNode    Source = "node"
	SourceDefault Source = "default"
)

// Oracle proposes an external gas price in wei.
type Oracle interface {
	ProposedPrice(ctx context.Context) (uint64, error)
}

// NodePricer is the network-native estimate the estimator falls back
// to when the oracle degrades. chain.Backend satisfies it.
type NodePricer interface {
	SuggestGasPrice(ctx context.Context) (uint64, error)
}

// Sample is one cached price observation. Price carries the buffer
// and clamps already applied.
type Sample struct {
	Price      uint64
	Source     Source
	ObservedAt time.Time
}

// Config configures an estimator.
type Config struct {
	// Oracle is the external price feed. Optional; without it the
	// node estimate leads.
	Oracle Oracle

	// Node is the network-native fallback estimate. Optional.
	Node NodePricer

	// CacheTTL is how long a sample stays fresh.
	// Defaults to DefaultCacheTTL.
	CacheTTL time.Duration

	// BufferPct is the safety margin applied on top of the raw price.
	// Defaults to DefaultBufferPct.
	BufferPct uint64

	// MinPrice and MaxPrice clamp the buffered price, in wei.
	// Default to DefaultMinPrice and DefaultMaxPrice.
	MinPrice uint64
	MaxPrice uint64

	// FallbackPrice is used when the oracle and the node estimate
	// both fail, in wei. Defaults to DefaultFallbackPrice.
	FallbackPrice uint64

	// Metrics receives price samples. Defaults to NopRecorder.
	Metrics metrics.Recorder

	// Logger for degradation warnings. Defaults to slog.Default().
	Logger *slog.Logger

	// Now supplies sample timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Estimator caches one bounded price sample. All methods are safe for
// concurrent use; an expired cache refreshes in a single flight, so N
// concurrent callers cause exactly one oracle round trip.
type Estimator struct {
	oracle    Oracle
	node      NodePricer
	ttl       time.Duration
	bufferPct uint64
	minPrice  uint64
	maxPrice  uint64
	fallback  uint64
	metrics   metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	sample Sample

	group singleflight.Group
}

// New creates an estimator with an empty cache.
func New(cfg Config) *Estimator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.BufferPct == 0 {
		cfg.BufferPct = DefaultBufferPct
	}
	if cfg.MinPrice == 0 {
		cfg.MinPrice = DefaultMinPrice
	}
	if cfg.MaxPrice == 0 {
		cfg.MaxPrice = DefaultMaxPrice
	}
	if cfg.FallbackPrice == 0 {
		cfg.FallbackPrice = DefaultFallbackPrice
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
	return &Estimator{
		oracle:    cfg.Oracle,
		node:      cfg.Node,
		ttl:       cfg.CacheTTL,
		bufferPct: cfg.BufferPct,
		minPrice:  cfg.MinPrice,
		maxPrice:  cfg.MaxPrice,
		fallback:  cfg.FallbackPrice,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// EstimatePrice returns the price for the next submission in wei. It
// never fails: when the oracle and the node estimate both degrade, the
// configured fallback price is buffered and clamped like any other
// source.
func (e *Estimator) EstimatePrice(ctx context.Context) uint64 {
	return e.EstimateSample(ctx).Price
}

// EstimateSample returns the full sample behind EstimatePrice,
// refreshing it first if the cache has expired.
func (e *Estimator) EstimateSample(ctx context.Context) Sample {
	if s, ok := e.cached(); ok {
		return s
	}
	v, _, _ := e.group.Do("refresh", func() (interface{}, error) {
		// A caller that lost the race may arrive here after the
		// winner already refreshed.
		if s, ok := e.cached(); ok {
			return s, nil
		}
		s := e.refresh(ctx)
		e.mu.Lock()
		e.sample = s
		e.mu.Unlock()
		return s, nil
	})
	return v.(Sample)
}

func (e *Estimator) cached() (Sample, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.sample.ObservedAt.IsZero() || e.now().Sub(e.sample.ObservedAt) >= e.ttl {
		return Sample{}, false
	}
	return e.sample, true
}

func (e *Estimator) refresh(ctx context.Context) Sample {
	raw, source := e.rawPrice(ctx)
	price := clamp(buffer(raw, e.bufferPct), e.minPrice, e.maxPrice)
	s := Sample{Price: price, Source: source, ObservedAt: e.now()}
	e.metrics.ObserveGasPrice(price, string(source))
	e.logger.Debug("gas price refreshed",
		slog.Uint64("raw_wei", raw),
		slog.Uint64("price_wei", price),
		slog.String("source", string(source)))
	return s
}

// rawPrice walks the fallback chain: oracle, node estimate, fixed
// fallback. Degradations are logged, never returned.
func (e *Estimator) rawPrice(ctx context.Context) (uint64, Source) {
	if e.oracle != nil {
		price, err := e.oracle.ProposedPrice(ctx)
		if err == nil {
			return price, SourceOracle
		}
		e.logger.Warn("price oracle degraded, falling back to node estimate",
			slog.String("error", err.Error()))
	}
	if e.node != nil {
		price, err := e.node.SuggestGasPrice(ctx)
		if err == nil {
			return price, SourceNode
		}
		e.logger.Warn("node gas estimate failed, using fallback price",
			slog.String("error", err.Error()))
	}
	return e.fallback, SourceDefault
}

func buffer(price, pct uint64) uint64 {
	factor := 100 + pct
	if price > math.MaxUint64/factor {
		return math.MaxUint64
	}
	return price * factor / 100
}

func clamp(price, min, max uint64) uint64 {
	if price < min {
		return min
	}
	if price > max {
		return max
	}
	return price
}
