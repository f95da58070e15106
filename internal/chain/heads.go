package chain

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
)

// DeriveWSURL converts an HTTP RPC URL into its WebSocket form. URLs
// already using a ws scheme pass through unchanged.
func DeriveWSURL(httpURL string) string {
	if strings.HasPrefix(httpURL, "http://") {
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	if strings.HasPrefix(httpURL, "https://") {
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	}
	return httpURL
}

// HeadWatcher maintains a newHeads subscription over WebSocket and fans
// block arrivals out to subscribers. It reconnects with backoff when the
// connection drops; consumers treat it as best-effort and keep polling.
type HeadWatcher struct {
	url    string
	logger *slog.Logger

	latest uint64 // atomic

	mu     sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

// NewHeadWatcher creates a watcher for the node at wsURL.
func NewHeadWatcher(wsURL string, logger *slog.Logger) *HeadWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeadWatcher{
		url:    wsURL,
		logger: logger,
		subs:   make(map[int]chan struct{}),
	}
}

// LatestHead returns the highest block number seen on the subscription,
// or zero before the first head arrives.
func (w *HeadWatcher) LatestHead() uint64 {
	return atomic.LoadUint64(&w.latest)
}

// Subscribe registers a wake-up channel that receives a signal per new
// head. The channel has a buffer of one; signals coalesce when the
// subscriber is slow. The returned cancel must be called to release the
// subscription.
func (w *HeadWatcher) Subscribe() (<-chan struct{}, func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	ch := make(chan struct{}, 1)
	w.subs[id] = ch
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
	return ch, cancel
}

func (w *HeadWatcher) notify() {
	w.mu.Lock()
	for _, ch := range w.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	w.mu.Unlock()
}

// Run dials the subscription and reads heads until ctx is cancelled,
// reconnecting with capped backoff after drops.
func (w *HeadWatcher) Run(ctx context.Context) {
	delay := time.Second
	for {
		start := time.Now()
		err := w.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.logger.Warn("head subscription dropped, reconnecting",
				slog.String("url", w.url),
				slog.String("error", err.Error()),
				slog.Duration("delay", delay),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if time.Since(start) > 30*time.Second {
			delay = time.Second
		} else {
			delay = min(delay*2, 30*time.Second)
		}
	}
}

func (w *HeadWatcher) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	subscribeMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
		"id":      1,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return err
	}
	w.logger.Info("subscribed to new heads", slog.String("url", w.url))

	// Unblock ReadJSON when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg struct {
			Method string `json:"method"`
			Params *struct {
				Result struct {
					Number string `json:"number"`
				} `json:"result"`
			} `json:"params"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msg.Params == nil {
			continue // subscription ack
		}
		if num, err := hexutil.DecodeUint64(msg.Params.Result.Number); err == nil {
			atomic.StoreUint64(&w.latest, num)
		}
		w.notify()
	}
}
