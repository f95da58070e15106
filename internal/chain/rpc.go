package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BatchRequest represents a single request in a batch.
type BatchRequest struct {
	Method string
	Params []interface{}
}

// BatchResponse represents a single response in a batch.
type BatchResponse struct {
	Result json.RawMessage
	Error  error
}

// RPCConfig holds configuration for the JSON-RPC backend.
type RPCConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// DefaultRPCConfig returns default configuration. Submission traffic is
// low-rate and sequential, so the timeout favors resilience over
// fail-fast detection.
func DefaultRPCConfig(url string) RPCConfig {
	return RPCConfig{
		URL:            url,
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// RPCBackend implements Backend over JSON-RPC HTTP.
type RPCBackend struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewRPCBackend creates a JSON-RPC backend for the node at cfg.URL.
func NewRPCBackend(cfg RPCConfig) *RPCBackend {
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RPCBackend{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
	}
}

// Call makes a JSON-RPC call with retry logic.
func (c *RPCBackend) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Check if it's a retryable HTTP error (429, 502, 503, 504)
		if isRetryableHTTPError(err) {
			// Use Retry-After header if present, otherwise exponential backoff
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("RPC got retryable HTTP error, retrying",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			continue
		}

		// Don't retry on RPC errors (application-level errors)
		if isRPCError(err) {
			return nil, err
		}

		// Retry on other transient errors (network issues)
		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *RPCBackend) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check HTTP status code BEFORE reading/parsing body
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			// Try parsing as seconds (e.g., "2" or "0.5")
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	return rpcResp.Result, nil
}

// BatchCall makes multiple JSON-RPC calls in a single HTTP request.
// Results are returned in the same order as the input calls.
// Individual call errors are returned in BatchResponse.Error.
func (c *RPCBackend) BatchCall(ctx context.Context, calls []BatchRequest) ([]BatchResponse, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	reqs := make([]JSONRPCRequest, len(calls))
	for i, call := range calls {
		reqs[i] = JSONRPCRequest{
			JSONRPC: "2.0",
			Method:  call.Method,
			Params:  call.Params,
			ID:      i + 1, // 1-indexed IDs for easier debugging
		}
	}

	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		results, err := c.doBatchRequest(ctx, body, len(calls))
		if err == nil {
			return results, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("batch RPC got retryable HTTP error, retrying",
				slog.Int("callCount", len(calls)),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			continue
		}

		// Don't retry on RPC errors
		if isRPCError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("all batch retries failed: %w", lastErr)
}

func (c *RPCBackend) doBatchRequest(ctx context.Context, body []byte, expectedCount int) ([]BatchResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResps []JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch response: %w", err)
	}

	// Build response map by ID for reordering
	respMap := make(map[int]*JSONRPCResponse, len(rpcResps))
	for i := range rpcResps {
		respMap[rpcResps[i].ID] = &rpcResps[i]
	}

	// Return results in original order
	results := make([]BatchResponse, expectedCount)
	for i := range expectedCount {
		rpcResp, ok := respMap[i+1]
		if !ok {
			results[i] = BatchResponse{Error: fmt.Errorf("missing response for request %d", i+1)}
			continue
		}
		if rpcResp.Error != nil {
			results[i] = BatchResponse{Error: &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}}
			continue
		}
		results[i] = BatchResponse{Result: rpcResp.Result}
	}

	return results, nil
}

// RPCError is an RPC-specific error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func isRPCError(err error) bool {
	_, ok := err.(*RPCError)
	return ok
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	// 429 Too Many Requests, 502 Bad Gateway, 503 Service Unavailable, 504 Gateway Timeout
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

func isRetryableHTTPError(err error) bool {
	if httpErr, ok := err.(*HTTPStatusError); ok {
		return httpErr.IsRetryable()
	}
	return false
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	if httpErr, ok := err.(*HTTPStatusError); ok && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

// BlockNumber returns the latest block number.
func (c *RPCBackend) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	return decodeHexUint64(result, "block number")
}

// SuggestGasPrice returns the node's fee estimate in wei.
func (c *RPCBackend) SuggestGasPrice(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return 0, err
	}
	return decodeHexUint64(result, "gas price")
}

// EstimateGas returns the gas required to execute msg.
func (c *RPCBackend) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	result, err := c.Call(ctx, "eth_estimateGas", []interface{}{callObject(msg)})
	if err != nil {
		return 0, err
	}
	return decodeHexUint64(result, "gas estimate")
}

// SendTransaction broadcasts a signed RLP-encoded transaction.
func (c *RPCBackend) SendTransaction(ctx context.Context, txRLP []byte) error {
	hexTx := hexutil.Encode(txRLP)
	_, err := c.Call(ctx, "eth_sendRawTransaction", []interface{}{hexTx})
	return err
}

// TransactionReceipt returns the receipt for txHash, or (nil, nil)
// while the transaction is pending.
func (c *RPCBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash.Hex()})
	if err != nil {
		return nil, err
	}

	if string(result) == "null" {
		return nil, nil // Not found yet
	}

	return parseReceipt(result)
}

// TransactionReceipts fetches multiple receipts in a single request.
// Returns receipts in the same order as txHashes. nil entries indicate
// receipts not found or that failed to decode.
func (c *RPCBackend) TransactionReceipts(ctx context.Context, txHashes []common.Hash) ([]*Receipt, error) {
	if len(txHashes) == 0 {
		return nil, nil
	}

	calls := make([]BatchRequest, len(txHashes))
	for i, hash := range txHashes {
		calls[i] = BatchRequest{
			Method: "eth_getTransactionReceipt",
			Params: []interface{}{hash.Hex()},
		}
	}

	responses, err := c.BatchCall(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("batch call failed: %w", err)
	}

	receipts := make([]*Receipt, len(txHashes))
	for i, resp := range responses {
		if resp.Error != nil {
			c.logger.Debug("batch receipt fetch error", "txHash", txHashes[i].Hex(), "error", resp.Error)
			continue
		}

		if string(resp.Result) == "null" {
			continue // Receipt not found
		}

		receipt, err := parseReceipt(resp.Result)
		if err != nil {
			c.logger.Debug("failed to parse receipt", "txHash", txHashes[i].Hex(), "error", err)
			continue
		}
		receipts[i] = receipt
	}

	return receipts, nil
}

// PendingNonceAt returns the next nonce for addr including mempool
// transactions. "pending" matters when a prior chunk's transaction is
// broadcast but not yet mined.
func (c *RPCBackend) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	result, err := c.Call(ctx, "eth_getTransactionCount", []interface{}{addr.Hex(), "pending"})
	if err != nil {
		return 0, err
	}
	return decodeHexUint64(result, "nonce")
}

// CallContract executes a read-only contract call at the latest block.
func (c *RPCBackend) CallContract(ctx context.Context, msg CallMsg) ([]byte, error) {
	result, err := c.Call(ctx, "eth_call", []interface{}{callObject(msg), "latest"})
	if err != nil {
		return nil, err
	}

	var dataHex string
	if err := json.Unmarshal(result, &dataHex); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call result: %w", err)
	}

	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode call result: %w", err)
	}
	return data, nil
}

// FilterLogs returns the contract logs matching q.
func (c *RPCBackend) FilterLogs(ctx context.Context, q FilterQuery) ([]Log, error) {
	filter := map[string]interface{}{
		"fromBlock": hexutil.EncodeUint64(q.FromBlock),
		"toBlock":   hexutil.EncodeUint64(q.ToBlock),
	}
	if len(q.Addresses) > 0 {
		addrs := make([]string, len(q.Addresses))
		for i, a := range q.Addresses {
			addrs[i] = a.Hex()
		}
		filter["address"] = addrs
	}
	if len(q.Topics) > 0 {
		topics := make([][]string, len(q.Topics))
		for i, alt := range q.Topics {
			topics[i] = make([]string, len(alt))
			for j, h := range alt {
				topics[i][j] = h.Hex()
			}
		}
		filter["topics"] = topics
	}

	result, err := c.Call(ctx, "eth_getLogs", []interface{}{filter})
	if err != nil {
		return nil, err
	}

	var rawLogs []struct {
		Address         string   `json:"address"`
		Topics          []string `json:"topics"`
		Data            string   `json:"data"`
		BlockNumber     string   `json:"blockNumber"`
		TransactionHash string   `json:"transactionHash"`
	}
	if err := json.Unmarshal(result, &rawLogs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
	}

	logs := make([]Log, 0, len(rawLogs))
	for _, raw := range rawLogs {
		blockNumber, _ := hexutil.DecodeUint64(raw.BlockNumber)
		data, err := hexutil.Decode(raw.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode log data: %w", err)
		}
		topics := make([]common.Hash, len(raw.Topics))
		for i, t := range raw.Topics {
			topics[i] = common.HexToHash(t)
		}
		logs = append(logs, Log{
			Address:     common.HexToAddress(raw.Address),
			Topics:      topics,
			Data:        data,
			BlockNumber: blockNumber,
			TxHash:      common.HexToHash(raw.TransactionHash),
		})
	}

	return logs, nil
}

func callObject(msg CallMsg) map[string]interface{} {
	obj := map[string]interface{}{
		"from": msg.From.Hex(),
		"data": hexutil.Encode(msg.Data),
	}
	if msg.To != nil {
		obj["to"] = msg.To.Hex()
	}
	if msg.Gas > 0 {
		obj["gas"] = hexutil.EncodeUint64(msg.Gas)
	}
	if msg.GasPrice > 0 {
		obj["gasPrice"] = hexutil.EncodeUint64(msg.GasPrice)
	}
	if msg.Value != nil {
		obj["value"] = hexutil.EncodeBig(msg.Value)
	}
	return obj
}

func parseReceipt(data json.RawMessage) (*Receipt, error) {
	var rawReceipt struct {
		TransactionHash   string `json:"transactionHash"`
		Status            string `json:"status"`
		GasUsed           string `json:"gasUsed"`
		BlockNumber       string `json:"blockNumber"`
		EffectiveGasPrice string `json:"effectiveGasPrice"`
	}
	if err := json.Unmarshal(data, &rawReceipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	status, _ := hexutil.DecodeUint64(rawReceipt.Status)
	gasUsed, _ := hexutil.DecodeUint64(rawReceipt.GasUsed)
	blockNumber, _ := hexutil.DecodeUint64(rawReceipt.BlockNumber)
	effectiveGasPrice, _ := hexutil.DecodeUint64(rawReceipt.EffectiveGasPrice)

	return &Receipt{
		TxHash:            common.HexToHash(rawReceipt.TransactionHash),
		Status:            status,
		GasUsed:           gasUsed,
		BlockNumber:       blockNumber,
		EffectiveGasPrice: effectiveGasPrice,
	}, nil
}

func decodeHexUint64(result json.RawMessage, what string) (uint64, error) {
	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	value, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return value, nil
}
