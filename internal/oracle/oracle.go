// Package oracle adapts an external HTTP gas price oracle. The
// estimator treats every error from this package as a degradation
// signal and falls back to the node's native estimate, so errors here
// classify the failure rather than drive retries.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds one oracle request end to end.
const DefaultTimeout = 5 * time.Second

const (
	weiPerGwei         = uint64(1_000_000_000)
	gweiFractionDigits = 9
)

// Config configures an oracle client.
type Config struct {
	// URL is the oracle endpoint, queried with plain GET.
	URL string

	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Logger for request failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client fetches proposed gas prices from the oracle endpoint.
type Client struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewClient creates an oracle client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
	}
}

// response mirrors the oracle's wire shape. Price fields are decimal
// gwei strings; which ones are populated varies by provider.
type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  result `json:"result"`
}

type result struct {
	ProposeGasPrice string `json:"ProposeGasPrice"`
	SafeGasPrice    string `json:"SafeGasPrice"`
	FastGasPrice    string `json:"FastGasPrice"`
	SuggestBaseFee  string `json:"suggestBaseFee"`
}

// ParseError reports an oracle response that held no parseable price.
type ParseError struct {
	// Field is the price field being parsed, empty when no known
	// field was populated at all.
	Field  string
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("oracle parse error: %s", e.Reason)
	}
	return fmt.Sprintf("oracle parse error: field %s value %q: %s", e.Field, e.Value, e.Reason)
}

// ProposedPrice fetches the oracle's current gas price in wei. Price
// fields are tried in priority order: proposed, safe, suggested base
// fee.
func (c *Client) ProposedPrice(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create oracle request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("oracle returned HTTP %d", resp.StatusCode)
	}
	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("failed to decode oracle response: %w", err)
	}
	if parsed.Status != "1" {
		return 0, fmt.Errorf("oracle status %q: %s", parsed.Status, parsed.Message)
	}
	return selectPrice(parsed.Result)
}

// selectPrice picks the first populated price field in priority order.
// A populated but malformed field is an error rather than a fall
// through, so a corrupt feed cannot silently downgrade the signal.
func selectPrice(r result) (uint64, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"ProposeGasPrice", r.ProposeGasPrice},
		{"SafeGasPrice", r.SafeGasPrice},
		{"suggestBaseFee", r.SuggestBaseFee},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		wei, err := parseGwei(f.value)
		if err != nil {
			return 0, &ParseError{Field: f.name, Value: f.value, Reason: err.Error()}
		}
		return wei, nil
	}
	return 0, &ParseError{Reason: "no usable price field"}
}

// parseGwei converts a decimal gwei string to wei with integer fixed
// point math. Fractional digits beyond wei precision are truncated.
func parseGwei(s string) (uint64, error) {
	intPart := s
	fracPart := ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart, fracPart = s[:dot], s[dot+1:]
		if fracPart == "" {
			return 0, errors.New("empty fraction")
		}
	}
	if intPart == "" {
		return 0, errors.New("empty integer part")
	}
	whole, err := strconv.ParseUint(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer part: %w", err)
	}

	if len(fracPart) > gweiFractionDigits {
		fracPart = fracPart[:gweiFractionDigits]
	}
	var frac uint64
	if fracPart != "" {
		frac, err = strconv.ParseUint(fracPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid fraction: %w", err)
		}
		for i := len(fracPart); i < gweiFractionDigits; i++ {
			frac *= 10
		}
	}
	if whole > (math.MaxUint64-frac)/weiPerGwei {
		return 0, errors.New("price overflows wei range")
	}
	return whole*weiPerGwei + frac, nil
}
