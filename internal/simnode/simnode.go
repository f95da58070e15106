// Package simnode hosts the verification ledger behind the chain.Backend
// interface without a real node. Every accepted transaction mines its
// own block, gas is deterministic, and contract events land in an
// in-memory log journal, which makes submission and analytics flows
// testable end to end and powers the dev mode of cmd/retroledger.
package simnode

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/verdigrid/retroledger/internal/chain"
	"github.com/verdigrid/retroledger/internal/ledger"
	"github.com/verdigrid/retroledger/internal/registry"
	"github.com/verdigrid/retroledger/pkg/types"
)

const (
	// DefaultChainID is the dev-network chain ID.
	DefaultChainID = 1337

	// DefaultGasPrice is the node's native fee estimate in wei (30 gwei).
	DefaultGasPrice = uint64(30_000_000_000)
)

// Deterministic gas schedule. Real execution costs vary with state;
// the sim charges a flat rate per record so cost assertions in tests
// and reports stay exact.
const (
	gasIntrinsic = uint64(21_000)
	gasPerRecord = uint64(50_000)
	gasAdminOp   = uint64(20_000)
	gasReadCall  = uint64(3_000)
)

// Config configures a simulated node.
type Config struct {
	// ChainID is the network ID transactions must be signed for.
	// Defaults to DefaultChainID.
	ChainID *big.Int

	// Owner administers the hosted ledger.
	Owner common.Address

	// Verifiers is the genesis allow-list.
	Verifiers []common.Address

	// Registry overrides the contract address. Defaults to the address
	// a real deployment by Owner would produce.
	Registry common.Address

	// GasPrice is the value SuggestGasPrice reports, in wei.
	// Defaults to DefaultGasPrice.
	GasPrice uint64

	// Now supplies ledger timestamps. Defaults to time.Now.
	Now func() time.Time

	// Logger for execution traces. Defaults to slog.Default().
	Logger *slog.Logger
}

// Node is an in-process ledger chain. All methods are safe for
// concurrent use; transactions execute one at a time under the node
// lock, each in its own block.
type Node struct {
	mu       sync.Mutex
	chainID  *big.Int
	signer   ethtypes.Signer
	registry common.Address
	gasPrice uint64
	logger   *slog.Logger
	codec    *registry.Codec
	ledger   *ledger.Ledger
	logic    ledger.Logic

	height   uint64
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*chain.Receipt
	reverts  map[common.Hash]string
	logs     []chain.Log

	// staging is filled by the event journal while a transaction
	// executes and committed to logs only if the write succeeds.
	staging []chain.Log

	failNextSend error
	holdReceipts bool
	held         map[common.Hash]*chain.Receipt
}

// New creates a node with an empty ledger at genesis.
func New(cfg Config) (*Node, error) {
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(DefaultChainID)
	}
	if cfg.Registry == (common.Address{}) {
		cfg.Registry = crypto.CreateAddress(cfg.Owner, 0)
	}
	if cfg.GasPrice == 0 {
		cfg.GasPrice = DefaultGasPrice
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	codec, err := registry.NewCodec()
	if err != nil {
		return nil, err
	}

	n := &Node{
		chainID:  cfg.ChainID,
		signer:   ethtypes.LatestSignerForChainID(cfg.ChainID),
		registry: cfg.Registry,
		gasPrice: cfg.GasPrice,
		logger:   cfg.Logger,
		codec:    codec,
		logic:    ledger.CurrentLogic(),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*chain.Receipt),
		reverts:  make(map[common.Hash]string),
		held:     make(map[common.Hash]*chain.Receipt),
	}
	n.ledger = ledger.New(ledger.Config{
		Owner: cfg.Owner,
		Sink:  (*journal)(n),
		Logic: n.logic,
		Now:   cfg.Now,
	})
	for _, v := range cfg.Verifiers {
		if err := n.ledger.AddVerifier(cfg.Owner, v); err != nil {
			return nil, fmt.Errorf("genesis verifier %s: %w", v.Hex(), err)
		}
	}
	return n, nil
}

// Registry returns the hosted contract's address.
func (n *Node) Registry() common.Address { return n.registry }

// ChainID returns the network ID transactions must be signed for.
func (n *Node) ChainID() *big.Int { return new(big.Int).Set(n.chainID) }

// Ledger exposes the hosted ledger for administration: verifier
// rotation, pause, logic upgrades. Record writes must go through
// transactions or they bypass blocks, receipts and the log journal.
func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// SetGasPrice changes the native fee estimate, in wei. Dev mode uses
// this to play price swings against the volatility monitor.
func (n *Node) SetGasPrice(wei uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gasPrice = wei
}

// FailNextSend makes the next SendTransaction return err without
// mining anything.
func (n *Node) FailNextSend(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failNextSend = err
}

// HoldReceipts keeps receipts of newly mined transactions invisible
// until ReleaseReceipts, leaving those transactions pending from the
// caller's point of view.
func (n *Node) HoldReceipts() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.holdReceipts = true
}

// ReleaseReceipts publishes all held receipts.
func (n *Node) ReleaseReceipts() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.holdReceipts = false
	for h, r := range n.held {
		n.receipts[h] = r
		delete(n.held, h)
	}
}

// MineEmptyBlocks advances the chain by count blocks with no
// transactions and returns the new height.
func (n *Node) MineEmptyBlocks(count uint64) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.height += count
	return n.height
}

// RevertReason returns the recorded revert reason for a failed
// transaction, if any.
func (n *Node) RevertReason(txHash common.Hash) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	reason, ok := n.reverts[txHash]
	return reason, ok
}

// BlockNumber returns the current chain height.
func (n *Node) BlockNumber(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return n.height, nil
}

// SuggestGasPrice returns the configured native fee estimate.
func (n *Node) SuggestGasPrice(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return n.gasPrice, nil
}

// PendingNonceAt returns the next nonce for addr.
func (n *Node) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return n.nonces[addr], nil
}

// EstimateGas runs the pre-apply checks of the call in msg and returns
// the deterministic gas cost. Calls that would revert fail the way a
// real node fails them.
func (n *Node) EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if msg.To == nil || *msg.To != n.registry {
		return gasIntrinsic, nil
	}
	call, err := n.codec.DecodeCall(msg.Data)
	if err != nil {
		return 0, revertError(err)
	}
	if err := n.preflight(msg.From, call); err != nil {
		return 0, revertError(err)
	}
	return gasFor(call), nil
}

// SendTransaction validates, executes and mines txRLP in its own
// block. Ledger failures revert: the transaction still mines and burns
// its nonce, the receipt carries status 0, and no state or events are
// kept.
func (n *Node) SendTransaction(ctx context.Context, txRLP []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.failNextSend != nil {
		err := n.failNextSend
		n.failNextSend = nil
		return err
	}

	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(txRLP); err != nil {
		return &chain.RPCError{Code: -32602, Message: fmt.Sprintf("invalid transaction: %v", err)}
	}
	from, err := ethtypes.Sender(n.signer, tx)
	if err != nil {
		return &chain.RPCError{Code: -32000, Message: fmt.Sprintf("invalid signature: %v", err)}
	}
	want := n.nonces[from]
	if tx.Nonce() < want {
		return &chain.RPCError{Code: -32000, Message: fmt.Sprintf("nonce too low: got %d, want %d", tx.Nonce(), want)}
	}
	if tx.Nonce() > want {
		return &chain.RPCError{Code: -32000, Message: fmt.Sprintf("nonce too high: got %d, want %d", tx.Nonce(), want)}
	}
	n.nonces[from] = want + 1

	n.height++
	receipt := &chain.Receipt{
		TxHash:            tx.Hash(),
		BlockNumber:       n.height,
		EffectiveGasPrice: gasPriceOf(tx),
	}

	if to := tx.To(); to == nil || *to != n.registry {
		// Plain transfer, nothing to execute.
		receipt.Status = chain.ReceiptStatusSuccessful
		receipt.GasUsed = gasIntrinsic
		n.storeReceipt(receipt)
		return nil
	}

	call, decodeErr := n.codec.DecodeCall(tx.Data())
	if decodeErr != nil {
		receipt.Status = chain.ReceiptStatusFailed
		receipt.GasUsed = gasIntrinsic
		n.reverts[receipt.TxHash] = decodeErr.Error()
		n.storeReceipt(receipt)
		return nil
	}

	n.staging = n.staging[:0]
	execErr := n.execute(from, call)
	receipt.GasUsed = gasFor(call)
	if execErr != nil {
		receipt.Status = chain.ReceiptStatusFailed
		n.reverts[receipt.TxHash] = execErr.Error()
		n.logger.Debug("transaction reverted",
			slog.String("tx", receipt.TxHash.Hex()),
			slog.String("method", call.Method),
			slog.String("reason", execErr.Error()))
	} else {
		receipt.Status = chain.ReceiptStatusSuccessful
		for _, lg := range n.staging {
			lg.BlockNumber = n.height
			lg.TxHash = receipt.TxHash
			n.logs = append(n.logs, lg)
		}
	}
	n.staging = n.staging[:0]
	n.storeReceipt(receipt)
	return nil
}

// TransactionReceipt returns the receipt for txHash, or (nil, nil)
// while the transaction is pending or unknown.
func (n *Node) TransactionReceipt(ctx context.Context, txHash common.Hash) (*chain.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := n.receipts[txHash]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

// TransactionReceipts returns receipts index-aligned with txHashes,
// with nil entries for pending or unknown transactions.
func (n *Node) TransactionReceipts(ctx context.Context, txHashes []common.Hash) ([]*chain.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*chain.Receipt, len(txHashes))
	for i, h := range txHashes {
		if r, ok := n.receipts[h]; ok {
			cp := *r
			out[i] = &cp
		}
	}
	return out, nil
}

// CallContract executes a read-only call against current state.
func (n *Node) CallContract(ctx context.Context, msg chain.CallMsg) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.To == nil || *msg.To != n.registry {
		var at string
		if msg.To != nil {
			at = msg.To.Hex()
		}
		return nil, &chain.RPCError{Code: -32000, Message: fmt.Sprintf("no contract at %s", at)}
	}
	call, err := n.codec.DecodeCall(msg.Data)
	if err != nil {
		return nil, revertError(err)
	}
	out, err := n.readCall(msg.From, call)
	if err != nil {
		return nil, revertError(err)
	}
	return out, nil
}

// FilterLogs returns the journaled logs matching q. Block bounds are
// literal, exactly as eth_getLogs treats explicit hex bounds.
func (n *Node) FilterLogs(ctx context.Context, q chain.FilterQuery) ([]chain.Log, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []chain.Log
	for _, lg := range n.logs {
		if lg.BlockNumber < q.FromBlock || lg.BlockNumber > q.ToBlock {
			continue
		}
		if !matchAddress(q.Addresses, lg.Address) {
			continue
		}
		if !matchTopics(q.Topics, lg.Topics) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (n *Node) storeReceipt(r *chain.Receipt) {
	if n.holdReceipts {
		n.held[r.TxHash] = r
		return
	}
	n.receipts[r.TxHash] = r
}

// execute dispatches a mined transaction into the ledger.
func (n *Node) execute(from common.Address, call *registry.DecodedCall) error {
	switch call.Method {
	case registry.MethodVerifyRetrofit:
		return n.ledger.VerifyRetrofit(from, toSubmission(call.Record))
	case registry.MethodBatchVerify:
		subs := make([]ledger.Submission, len(call.Records))
		for i, rec := range call.Records {
			subs[i] = toSubmission(rec)
		}
		return n.ledger.BatchVerify(from, subs)
	case registry.MethodAddVerifier:
		return n.ledger.AddVerifier(from, call.Addr)
	case registry.MethodRemoveVerifier:
		return n.ledger.RemoveVerifier(from, call.Addr)
	case registry.MethodPause:
		return n.ledger.Pause(from)
	case registry.MethodUnpause:
		return n.ledger.Unpause(from)
	default:
		return fmt.Errorf("method %s is not a transaction", call.Method)
	}
}

// preflight mirrors the ledger's pre-apply checks without mutating
// state. Writes validate everything before applying anything, so these
// checks decide exactly whether the transaction would succeed.
func (n *Node) preflight(from common.Address, call *registry.DecodedCall) error {
	switch call.Method {
	case registry.MethodVerifyRetrofit:
		if err := n.writeAllowed(from); err != nil {
			return err
		}
		return n.logic.Validate(toSubmission(call.Record))
	case registry.MethodBatchVerify:
		if len(call.Records) == 0 {
			return ledger.ErrEmptyBatch
		}
		if len(call.Records) > ledger.MaxBatchRecords {
			return fmt.Errorf("batch of %d: %w", len(call.Records), ledger.ErrBatchTooLarge)
		}
		if err := n.writeAllowed(from); err != nil {
			return err
		}
		for i, rec := range call.Records {
			if err := n.logic.Validate(toSubmission(rec)); err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
		}
		return nil
	case registry.MethodAddVerifier:
		if err := n.ownerOnly(from); err != nil {
			return err
		}
		if n.ledger.IsVerifier(call.Addr) {
			return ledger.ErrAlreadyExists
		}
		return nil
	case registry.MethodRemoveVerifier:
		if err := n.ownerOnly(from); err != nil {
			return err
		}
		if !n.ledger.IsVerifier(call.Addr) {
			return ledger.ErrNotFound
		}
		return nil
	case registry.MethodPause, registry.MethodUnpause:
		return n.ownerOnly(from)
	case registry.MethodGetRetrofit:
		_, err := n.ledger.GetRetrofit(call.ID)
		return err
	case registry.MethodListIDs:
		offset, limit, err := pageArgs(call)
		if err != nil {
			return err
		}
		_, err = n.ledger.ListIDs(offset, limit)
		return err
	default:
		return nil
	}
}

func (n *Node) writeAllowed(from common.Address) error {
	if n.ledger.RoleOf(from) == ledger.RoleNone {
		return ledger.ErrUnauthorized
	}
	if n.ledger.Paused() {
		return ledger.ErrPaused
	}
	return nil
}

func (n *Node) ownerOnly(from common.Address) error {
	if from != n.ledger.Owner() {
		return ledger.ErrUnauthorized
	}
	return nil
}

// readCall serves eth_call. Write methods run their preflight and
// return empty output, the way a throwaway-state execution would.
func (n *Node) readCall(from common.Address, call *registry.DecodedCall) ([]byte, error) {
	switch call.Method {
	case registry.MethodIsVerifier:
		return n.codec.PackOutput(registry.MethodIsVerifier, n.ledger.IsVerifier(call.Addr))
	case registry.MethodGetRetrofit:
		rec, err := n.ledger.GetRetrofit(call.ID)
		if err != nil {
			return nil, err
		}
		return n.codec.PackGetRetrofitOutput(toStored(rec))
	case registry.MethodListIDs:
		offset, limit, err := pageArgs(call)
		if err != nil {
			return nil, err
		}
		ids, err := n.ledger.ListIDs(offset, limit)
		if err != nil {
			return nil, err
		}
		return n.codec.PackOutput(registry.MethodListIDs, ids)
	case registry.MethodTotalRecords:
		total := new(big.Int).SetInt64(int64(n.ledger.TotalRecords()))
		return n.codec.PackOutput(registry.MethodTotalRecords, total)
	case registry.MethodPaused:
		return n.codec.PackOutput(registry.MethodPaused, n.ledger.Paused())
	case registry.MethodVersion:
		return n.codec.PackOutput(registry.MethodVersion, n.ledger.Version())
	case registry.MethodOwner:
		return n.codec.PackOutput(registry.MethodOwner, n.ledger.Owner())
	default:
		if err := n.preflight(from, call); err != nil {
			return nil, err
		}
		return []byte{}, nil
	}
}

// journal is the ledger event sink. It runs while the node lock is
// held by the executing transaction, so it writes the staging slice
// without further locking.
type journal Node

func (j *journal) RetrofitVerified(ev ledger.RetrofitVerifiedEvent) {
	n := (*Node)(j)
	topics, data, err := n.codec.EncodeRetrofitVerified(ev.RetrofitID, ev.Verifier, ev.Timestamp)
	if err != nil {
		n.logger.Error("failed to encode RetrofitVerified event", slog.String("error", err.Error()))
		return
	}
	n.staging = append(n.staging, chain.Log{Address: n.registry, Topics: topics, Data: data})
}

func (j *journal) BatchVerification(ev ledger.BatchVerificationEvent) {
	n := (*Node)(j)
	topics, data, err := n.codec.EncodeBatchVerification(ev.Count, ev.Verifier, ev.Timestamp)
	if err != nil {
		n.logger.Error("failed to encode BatchVerification event", slog.String("error", err.Error()))
		return
	}
	n.staging = append(n.staging, chain.Log{Address: n.registry, Topics: topics, Data: data})
}

func toSubmission(req types.VerificationRequest) ledger.Submission {
	return ledger.Submission{
		RetrofitID:   req.RetrofitID,
		PropertyRef:  req.PropertyRef,
		EnergyRef:    req.EnergyRef,
		RatingBefore: req.RatingBefore,
		RatingAfter:  req.RatingAfter,
		WorkTypes:    req.WorkTypes,
	}
}

func toStored(rec ledger.Record) registry.StoredRecord {
	return registry.StoredRecord{
		RetrofitID:   rec.RetrofitID,
		PropertyRef:  rec.PropertyRef,
		EnergyRef:    rec.EnergyRef,
		RatingBefore: rec.RatingBefore,
		RatingAfter:  rec.RatingAfter,
		WorkTypes:    rec.WorkTypes,
		Verifier:     rec.Verifier,
		Timestamp:    rec.Timestamp,
		Verified:     rec.Verified,
	}
}

// pageArgs converts uint256 pagination arguments. An offset beyond
// int range is beyond any total; an oversized limit clamps, matching
// the ledger's own clamping.
func pageArgs(call *registry.DecodedCall) (int, int, error) {
	if !call.Offset.IsInt64() {
		return 0, 0, ledger.ErrOutOfBounds
	}
	limit := int64(math.MaxInt64)
	if call.Limit.IsInt64() {
		limit = call.Limit.Int64()
	}
	return int(call.Offset.Int64()), int(limit), nil
}

func gasFor(call *registry.DecodedCall) uint64 {
	switch call.Method {
	case registry.MethodVerifyRetrofit:
		return gasIntrinsic + gasPerRecord
	case registry.MethodBatchVerify:
		return gasIntrinsic + uint64(len(call.Records))*gasPerRecord
	case registry.MethodAddVerifier, registry.MethodRemoveVerifier,
		registry.MethodPause, registry.MethodUnpause:
		return gasIntrinsic + gasAdminOp
	default:
		return gasIntrinsic + gasReadCall
	}
}

func gasPriceOf(tx *ethtypes.Transaction) uint64 {
	price := tx.GasPrice()
	if price == nil || !price.IsUint64() {
		return 0
	}
	return price.Uint64()
}

func revertError(err error) *chain.RPCError {
	return &chain.RPCError{Code: 3, Message: "execution reverted: " + err.Error()}
}

func matchAddress(want []common.Address, got common.Address) bool {
	if len(want) == 0 {
		return true
	}
	for _, a := range want {
		if a == got {
			return true
		}
	}
	return false
}

func matchTopics(want [][]common.Hash, got []common.Hash) bool {
	if len(want) > len(got) {
		return false
	}
	for i, alternatives := range want {
		if len(alternatives) == 0 {
			continue
		}
		matched := false
		for _, h := range alternatives {
			if h == got[i] {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
