// Package chain provides transport to the verification ledger's chain:
// a backend interface over JSON-RPC, receipt confirmation with optional
// WebSocket head wake-ups, and the wire types shared by the submitter
// and analytics layers.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt status values as reported by the ledger node.
const (
	ReceiptStatusFailed     = uint64(0)
	ReceiptStatusSuccessful = uint64(1)
)

// Receipt is the mined outcome of one transaction.
type Receipt struct {
	TxHash            common.Hash `json:"txHash"`
	Status            uint64      `json:"status"`
	GasUsed           uint64      `json:"gasUsed"`
	BlockNumber       uint64      `json:"blockNumber"`
	EffectiveGasPrice uint64      `json:"effectiveGasPrice"`
}

// Log is one event record emitted by the ledger contract.
type Log struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        []byte         `json:"data"`
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"txHash"`
}

// CallMsg describes a contract call for reads and gas estimation.
type CallMsg struct {
	From     common.Address
	To       *common.Address
	Gas      uint64
	GasPrice uint64
	Value    *big.Int
	Data     []byte
}

// FilterQuery selects contract logs by block range, emitter and topics.
type FilterQuery struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Backend is the chain surface the engine depends on. RPCBackend talks
// JSON-RPC to a real node; the simnode package hosts the ledger
// in-process behind the same interface for tests and dev mode.
type Backend interface {
	// BlockNumber returns the latest block number.
	BlockNumber(ctx context.Context) (uint64, error)

	// SuggestGasPrice returns the node's native fee estimate in wei.
	// It is the estimator's fallback when the price oracle degrades.
	SuggestGasPrice(ctx context.Context) (uint64, error)

	// EstimateGas returns the gas required to execute msg.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// SendTransaction broadcasts a signed RLP-encoded transaction.
	SendTransaction(ctx context.Context, txRLP []byte) error

	// TransactionReceipt returns the receipt for txHash, or (nil, nil)
	// while the transaction is still pending.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error)

	// TransactionReceipts fetches receipts for many hashes at once.
	// The result is index-aligned with txHashes; nil entries mark
	// receipts that are missing or failed to decode.
	TransactionReceipts(ctx context.Context, txHashes []common.Hash) ([]*Receipt, error)

	// PendingNonceAt returns the next nonce for addr including
	// mempool transactions.
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)

	// CallContract executes a read-only contract call at the latest block.
	CallContract(ctx context.Context, msg CallMsg) ([]byte, error)

	// FilterLogs returns the contract logs matching q.
	FilterLogs(ctx context.Context, q FilterQuery) ([]Log, error)
}
