package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// receiptBackend serves a scripted receipt sequence: errors first, then
// pending, then the receipt.
type receiptBackend struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	pendingTo int
	receipt   *Receipt
}

func (f *receiptBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errors.New("connection refused")
	}
	if f.calls <= f.pendingTo {
		return nil, nil
	}
	return f.receipt, nil
}

func (f *receiptBackend) BlockNumber(context.Context) (uint64, error)       { return 0, nil }
func (f *receiptBackend) SuggestGasPrice(context.Context) (uint64, error)   { return 0, nil }
func (f *receiptBackend) EstimateGas(context.Context, CallMsg) (uint64, error) {
	return 0, nil
}
func (f *receiptBackend) SendTransaction(context.Context, []byte) error { return nil }
func (f *receiptBackend) TransactionReceipts(context.Context, []common.Hash) ([]*Receipt, error) {
	return nil, nil
}
func (f *receiptBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (f *receiptBackend) CallContract(context.Context, CallMsg) ([]byte, error) { return nil, nil }
func (f *receiptBackend) FilterLogs(context.Context, FilterQuery) ([]Log, error) {
	return nil, nil
}

func newTestWaiter(backend Backend) *ConfirmationWaiter {
	return NewConfirmationWaiter(WaiterConfig{
		Backend:         backend,
		PollInterval:    time.Millisecond,
		MaxPollInterval: 2 * time.Millisecond,
	})
}

func TestWaitReturnsReceipt(t *testing.T) {
	want := &Receipt{Status: ReceiptStatusSuccessful, GasUsed: 90000, BlockNumber: 7}
	backend := &receiptBackend{pendingTo: 3, receipt: want}
	waiter := newTestWaiter(backend)

	got, err := waiter.Wait(context.Background(), common.HexToHash("0x1"), time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got.BlockNumber != want.BlockNumber || got.Status != want.Status {
		t.Errorf("Wait() = %+v, want %+v", got, want)
	}
}

func TestWaitTimesOutAsIndeterminate(t *testing.T) {
	// Receipt never arrives.
	backend := &receiptBackend{pendingTo: 1 << 30}
	waiter := newTestWaiter(backend)

	_, err := waiter.Wait(context.Background(), common.HexToHash("0x1"), 20*time.Millisecond)
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Errorf("Wait() error = %v, want ErrConfirmationTimeout", err)
	}
}

func TestWaitSurvivesTransientQueryErrors(t *testing.T) {
	want := &Receipt{Status: ReceiptStatusSuccessful, BlockNumber: 3}
	backend := &receiptBackend{failFirst: 2, pendingTo: 3, receipt: want}
	waiter := newTestWaiter(backend)

	got, err := waiter.Wait(context.Background(), common.HexToHash("0x1"), time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got.BlockNumber != 3 {
		t.Errorf("BlockNumber = %d, want 3", got.BlockNumber)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	backend := &receiptBackend{pendingTo: 1 << 30}
	waiter := newTestWaiter(backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := waiter.Wait(ctx, common.HexToHash("0x1"), time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}
