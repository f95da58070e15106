package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: -32000, Message: "nonce too low"}

	errStr := err.Error()
	if errStr != "RPC error -32000: nonce too low" {
		t.Errorf("RPCError.Error() = %q, want %q", errStr, "RPC error -32000: nonce too low")
	}

	if !isRPCError(err) {
		t.Error("isRPCError should return true for *RPCError")
	}
}

func TestHTTPStatusError(t *testing.T) {
	tests := []struct {
		name       string
		err        HTTPStatusError
		wantString string
		wantRetry  bool
	}{
		{
			name:       "429 Too Many Requests",
			err:        HTTPStatusError{StatusCode: 429, Body: "rate limited"},
			wantString: "HTTP 429: Too Many Requests (body: rate limited)",
			wantRetry:  true,
		},
		{
			name:       "503 Service Unavailable",
			err:        HTTPStatusError{StatusCode: 503},
			wantString: "HTTP 503: Service Unavailable",
			wantRetry:  true,
		},
		{
			name:       "504 Gateway Timeout",
			err:        HTTPStatusError{StatusCode: 504},
			wantString: "HTTP 504: Gateway Timeout",
			wantRetry:  true,
		},
		{
			name:       "400 Bad Request not retryable",
			err:        HTTPStatusError{StatusCode: 400, Body: "invalid request"},
			wantString: "HTTP 400: Bad Request (body: invalid request)",
			wantRetry:  false,
		},
		{
			name:       "500 Internal Server Error not retryable",
			err:        HTTPStatusError{StatusCode: 500},
			wantString: "HTTP 500: Internal Server Error",
			wantRetry:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantString {
				t.Errorf("HTTPStatusError.Error() = %q, want %q", got, tt.wantString)
			}
			if got := tt.err.IsRetryable(); got != tt.wantRetry {
				t.Errorf("HTTPStatusError.IsRetryable() = %v, want %v", got, tt.wantRetry)
			}
		})
	}
}

func TestGetRetryDelay(t *testing.T) {
	defaultBackoff := 100 * time.Millisecond

	tests := []struct {
		name      string
		err       error
		wantDelay time.Duration
	}{
		{
			name:      "HTTP error with Retry-After",
			err:       &HTTPStatusError{StatusCode: 429, RetryAfter: 2 * time.Second},
			wantDelay: 2 * time.Second,
		},
		{
			name:      "HTTP error without Retry-After",
			err:       &HTTPStatusError{StatusCode: 503},
			wantDelay: defaultBackoff,
		},
		{
			name:      "RPC error uses default",
			err:       &RPCError{Code: -32000, Message: "test"},
			wantDelay: defaultBackoff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getRetryDelay(tt.err, defaultBackoff); got != tt.wantDelay {
				t.Errorf("getRetryDelay() = %v, want %v", got, tt.wantDelay)
			}
		})
	}
}

func TestDefaultRPCConfig(t *testing.T) {
	url := "http://localhost:8545"
	cfg := DefaultRPCConfig(url)

	if cfg.URL != url {
		t.Errorf("URL = %q, want %q", cfg.URL, url)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, 10*time.Second)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
}

func newTestBackend(t *testing.T, handler http.Handler) *RPCBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultRPCConfig(srv.URL)
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	return NewRPCBackend(cfg)
}

func TestCallRetriesOnServerErrors(t *testing.T) {
	var attempts int32
	backend := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","result":"0x10","id":1}`))
	}))

	got, err := backend.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber() error = %v", err)
	}
	if got != 16 {
		t.Errorf("BlockNumber() = %d, want 16", got)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestCallDoesNotRetryRPCErrors(t *testing.T) {
	var attempts int32
	backend := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32000,"message":"insufficient funds"},"id":1}`))
	}))

	_, err := backend.SuggestGasPrice(context.Background())
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("SuggestGasPrice() error = %v, want *RPCError", err)
	}
	if rpcErr.Code != -32000 {
		t.Errorf("Code = %d, want -32000", rpcErr.Code)
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Errorf("attempts = %d, RPC errors must not be retried", n)
	}
}

func TestTransactionReceipt(t *testing.T) {
	tests := []struct {
		name    string
		result  string
		want    *Receipt
	}{
		{
			name:   "pending returns nil without error",
			result: "null",
			want:   nil,
		},
		{
			name: "mined receipt decodes",
			result: `{"transactionHash":"0x00000000000000000000000000000000000000000000000000000000000000aa",` +
				`"status":"0x1","gasUsed":"0xc350","blockNumber":"0x2a","effectiveGasPrice":"0x6fc23ac00"}`,
			want: &Receipt{
				TxHash:            common.HexToHash("0xaa"),
				Status:            1,
				GasUsed:           50000,
				BlockNumber:       42,
				EffectiveGasPrice: 30_000_000_000,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"jsonrpc":"2.0","result":` + tt.result + `,"id":1}`))
			}))

			got, err := backend.TransactionReceipt(context.Background(), common.HexToHash("0xaa"))
			if err != nil {
				t.Fatalf("TransactionReceipt() error = %v", err)
			}
			if tt.want == nil {
				if got != nil {
					t.Fatalf("TransactionReceipt() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("TransactionReceipt() = nil, want receipt")
			}
			if *got != *tt.want {
				t.Errorf("TransactionReceipt() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTransactionReceiptsBatchAlignment(t *testing.T) {
	backend := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			t.Errorf("decode batch request: %v", err)
		}
		if len(reqs) != 3 {
			t.Errorf("batch size = %d, want 3", len(reqs))
		}
		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose; responses are matched by ID.
		w.Write([]byte(`[
			{"jsonrpc":"2.0","result":null,"id":2},
			{"jsonrpc":"2.0","result":{"transactionHash":"0x0000000000000000000000000000000000000000000000000000000000000003","status":"0x0","gasUsed":"0x5208","blockNumber":"0x7","effectiveGasPrice":"0x1"},"id":3},
			{"jsonrpc":"2.0","result":{"transactionHash":"0x0000000000000000000000000000000000000000000000000000000000000001","status":"0x1","gasUsed":"0x5208","blockNumber":"0x5","effectiveGasPrice":"0x1"},"id":1}
		]`))
	}))

	hashes := []common.Hash{
		common.HexToHash("0x1"),
		common.HexToHash("0x2"),
		common.HexToHash("0x3"),
	}
	receipts, err := backend.TransactionReceipts(context.Background(), hashes)
	if err != nil {
		t.Fatalf("TransactionReceipts() error = %v", err)
	}
	if len(receipts) != 3 {
		t.Fatalf("len(receipts) = %d, want 3", len(receipts))
	}
	if receipts[0] == nil || receipts[0].BlockNumber != 5 {
		t.Errorf("receipts[0] = %+v, want block 5", receipts[0])
	}
	if receipts[1] != nil {
		t.Errorf("receipts[1] = %+v, want nil for missing receipt", receipts[1])
	}
	if receipts[2] == nil || receipts[2].Status != ReceiptStatusFailed {
		t.Errorf("receipts[2] = %+v, want failed status", receipts[2])
	}
}

func TestFilterLogsDecodes(t *testing.T) {
	backend := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","result":[
			{"address":"0x00000000000000000000000000000000000000cd",
			 "topics":["0x0000000000000000000000000000000000000000000000000000000000000001"],
			 "data":"0x02",
			 "blockNumber":"0x10",
			 "transactionHash":"0x0000000000000000000000000000000000000000000000000000000000000009"}
		],"id":1}`))
	}))

	logs, err := backend.FilterLogs(context.Background(), FilterQuery{FromBlock: 0, ToBlock: 16})
	if err != nil {
		t.Fatalf("FilterLogs() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("len(logs) = %d, want 1", len(logs))
	}
	log := logs[0]
	if log.Address != common.HexToAddress("0xcd") {
		t.Errorf("Address = %s, want 0x..cd", log.Address.Hex())
	}
	if len(log.Topics) != 1 || log.Topics[0] != common.HexToHash("0x1") {
		t.Errorf("Topics = %v, want [0x..01]", log.Topics)
	}
	if len(log.Data) != 1 || log.Data[0] != 0x02 {
		t.Errorf("Data = %v, want [0x02]", log.Data)
	}
	if log.BlockNumber != 16 {
		t.Errorf("BlockNumber = %d, want 16", log.BlockNumber)
	}
}

func TestDeriveWSURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"http to ws", "http://localhost:8545", "ws://localhost:8545"},
		{"https to wss", "https://node.example.com", "wss://node.example.com"},
		{"ws passthrough", "ws://localhost:8546", "ws://localhost:8546"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveWSURL(tt.in); got != tt.want {
				t.Errorf("DeriveWSURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
