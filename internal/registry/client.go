package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/verdigrid/retroledger/internal/chain"
	"github.com/verdigrid/retroledger/internal/ledger"
	"github.com/verdigrid/retroledger/pkg/types"
)

// Caller is the chain surface the client needs for reads.
type Caller interface {
	CallContract(ctx context.Context, msg chain.CallMsg) ([]byte, error)
	FilterLogs(ctx context.Context, q chain.FilterQuery) ([]chain.Log, error)
}

// ClientConfig configures a registry client.
type ClientConfig struct {
	Caller  Caller
	Address common.Address
	// From is the identity read calls execute as. Access control on
	// reads is open, so any address works; submissions use the
	// signing account instead.
	From common.Address
}

// Client is the typed binding for one deployed registry contract.
type Client struct {
	caller  Caller
	address common.Address
	from    common.Address
	codec   *Codec
}

// NewClient creates a client bound to the registry at cfg.Address.
func NewClient(cfg ClientConfig) (*Client, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &Client{
		caller:  cfg.Caller,
		address: cfg.Address,
		from:    cfg.From,
		codec:   codec,
	}, nil
}

// Address returns the bound contract address.
func (c *Client) Address() common.Address { return c.address }

// Codec returns the wire codec shared with the contract.
func (c *Client) Codec() *Codec { return c.codec }

// VerifyRetrofitCalldata builds the calldata for a single-record write.
func (c *Client) VerifyRetrofitCalldata(req types.VerificationRequest) ([]byte, error) {
	return c.codec.PackVerifyRetrofit(req)
}

// BatchVerifyCalldata builds the calldata for a batch write.
func (c *Client) BatchVerifyCalldata(reqs []types.VerificationRequest) ([]byte, error) {
	return c.codec.PackBatchVerify(reqs)
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := c.codec.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.caller.CallContract(ctx, chain.CallMsg{
		From: c.from,
		To:   &c.address,
		Data: data,
	})
	if err != nil {
		return nil, MapRevert(err)
	}
	return out, nil
}

// IsVerifier reports whether addr is in the registry allow-list.
func (c *Client) IsVerifier(ctx context.Context, addr common.Address) (bool, error) {
	out, err := c.call(ctx, MethodIsVerifier, addr)
	if err != nil {
		return false, err
	}
	return c.codec.UnpackBool(MethodIsVerifier, out)
}

// GetRetrofit fetches the record stored under id. A missing record
// fails with ledger.ErrNotFound.
func (c *Client) GetRetrofit(ctx context.Context, id string) (StoredRecord, error) {
	out, err := c.call(ctx, MethodGetRetrofit, id)
	if err != nil {
		return StoredRecord{}, err
	}
	return c.codec.UnpackGetRetrofit(out)
}

// HasRetrofit reports whether a record exists under id.
func (c *Client) HasRetrofit(ctx context.Context, id string) (bool, error) {
	_, err := c.GetRetrofit(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListIDs fetches a page of retrofit IDs in insertion order.
func (c *Client) ListIDs(ctx context.Context, offset, limit uint64) ([]string, error) {
	out, err := c.call(ctx, MethodListIDs, new(big.Int).SetUint64(offset), new(big.Int).SetUint64(limit))
	if err != nil {
		return nil, err
	}
	return c.codec.UnpackStringSlice(MethodListIDs, out)
}

// TotalRecords returns the number of distinct retrofit IDs stored.
func (c *Client) TotalRecords(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, MethodTotalRecords)
	if err != nil {
		return 0, err
	}
	return c.codec.UnpackUint64(MethodTotalRecords, out)
}

// Paused reports whether the registry is accepting writes.
func (c *Client) Paused(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, MethodPaused)
	if err != nil {
		return false, err
	}
	return c.codec.UnpackBool(MethodPaused, out)
}

// Version returns the registry's semantic version tag.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.call(ctx, MethodVersion)
	if err != nil {
		return "", err
	}
	return c.codec.UnpackString(MethodVersion, out)
}

// Owner returns the registry's administrating address.
func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	out, err := c.call(ctx, MethodOwner)
	if err != nil {
		return common.Address{}, err
	}
	return c.codec.UnpackAddress(MethodOwner, out)
}

// FilterRetrofitVerified returns the decoded RetrofitVerified events
// emitted in the block range [fromBlock, toBlock].
func (c *Client) FilterRetrofitVerified(ctx context.Context, fromBlock, toBlock uint64) ([]RetrofitVerifiedLog, error) {
	logs, err := c.caller.FilterLogs(ctx, chain.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{c.codec.RetrofitVerifiedID()}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]RetrofitVerifiedLog, 0, len(logs))
	for _, log := range logs {
		decoded, err := c.codec.DecodeRetrofitVerified(log)
		if err != nil {
			return nil, fmt.Errorf("block %d tx %s: %w", log.BlockNumber, log.TxHash.Hex(), err)
		}
		out = append(out, decoded)
	}
	return out, nil
}

// FilterBatchVerification returns the decoded BatchVerification events
// emitted in the block range [fromBlock, toBlock].
func (c *Client) FilterBatchVerification(ctx context.Context, fromBlock, toBlock uint64) ([]BatchVerificationLog, error) {
	logs, err := c.caller.FilterLogs(ctx, chain.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{c.codec.BatchVerificationID()}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]BatchVerificationLog, 0, len(logs))
	for _, log := range logs {
		decoded, err := c.codec.DecodeBatchVerification(log)
		if err != nil {
			return nil, fmt.Errorf("block %d tx %s: %w", log.BlockNumber, log.TxHash.Hex(), err)
		}
		out = append(out, decoded)
	}
	return out, nil
}

// MapRevert translates contract revert reasons carried in RPC errors
// onto the ledger's sentinel errors, so callers classify contract
// failures with errors.Is exactly like local ones.
func MapRevert(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *chain.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}
	msg := strings.ToLower(rpcErr.Message)
	wrap := func(sentinel error) error {
		return fmt.Errorf("%s: %w", rpcErr.Message, sentinel)
	}
	switch {
	case strings.Contains(msg, "not found"):
		return wrap(ledger.ErrNotFound)
	case strings.Contains(msg, "already registered"):
		return wrap(ledger.ErrAlreadyExists)
	case strings.Contains(msg, "paused"):
		return wrap(ledger.ErrPaused)
	case strings.Contains(msg, "owner or verifier"), strings.Contains(msg, "not the owner"):
		return wrap(ledger.ErrUnauthorized)
	case strings.Contains(msg, "batch is empty"):
		return wrap(ledger.ErrEmptyBatch)
	case strings.Contains(msg, "record cap"):
		return wrap(ledger.ErrBatchTooLarge)
	case strings.Contains(msg, "out of bounds"):
		return wrap(ledger.ErrOutOfBounds)
	case strings.Contains(msg, "invalid input"), strings.Contains(msg, "must improve"), strings.Contains(msg, "required"):
		return wrap(ledger.ErrInvalidInput)
	}
	return err
}
