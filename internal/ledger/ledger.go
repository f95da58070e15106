// Package ledger implements the verification registry as an in-process
// state machine: an owner-administered verifier allow-list, a pausable
// record store keyed by retrofit ID, and a versioned validation logic
// that can be upgraded without touching stored records.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxBatchRecords is the hard cap on records accepted by BatchVerify.
// It is a protocol limit bounding per-write event volume, not a tuning
// knob; the submitter's chunk size is configured separately and must
// stay at or below it.
const MaxBatchRecords = 50

// Submission carries the caller-supplied fields of one verification.
// The ledger assigns the verifier identity and timestamp at write time.
type Submission struct {
	RetrofitID   string
	PropertyRef  string
	EnergyRef    string
	RatingBefore uint8
	RatingAfter  uint8
	WorkTypes    []string
}

// Record is one verified retrofit event as stored by the ledger.
// PropertyRef and EnergyRef are opaque content IDs pointing at
// off-ledger property and energy data.
type Record struct {
	RetrofitID   string
	PropertyRef  string
	EnergyRef    string
	RatingBefore uint8
	RatingAfter  uint8
	WorkTypes    []string
	Verifier     common.Address
	Timestamp    uint64
	Verified     bool
}

func (r *Record) clone() Record {
	out := *r
	out.WorkTypes = append([]string(nil), r.WorkTypes...)
	return out
}

// Role is the capability a caller holds on the ledger.
type Role uint8

const (
	RoleNone Role = iota
	RoleVerifier
	RoleOwner
)

// Config configures a ledger instance.
type Config struct {
	// Owner administers the verifier set, the pause state and logic
	// upgrades. The owner is always authorized to write records.
	Owner common.Address

	// Sink receives events emitted by successful writes.
	// Defaults to NopSink.
	Sink Sink

	// Logic validates submissions. Defaults to CurrentLogic.
	Logic Logic

	// Now supplies ledger timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Ledger is the authoritative store of verification records. Records
// are last-write-wins per retrofit ID; the key index grows append-only.
// All methods are safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	owner     common.Address
	verifiers map[common.Address]struct{}
	records   map[string]*Record
	index     []string
	paused    bool
	logic     Logic
	sink      Sink
	now       func() time.Time
}

// New creates an empty ledger owned by cfg.Owner.
func New(cfg Config) *Ledger {
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Logic == nil {
		cfg.Logic = CurrentLogic()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		owner:     cfg.Owner,
		verifiers: make(map[common.Address]struct{}),
		records:   make(map[string]*Record),
		logic:     cfg.Logic,
		sink:      cfg.Sink,
		now:       cfg.Now,
	}
}

// Owner returns the administrating address.
func (l *Ledger) Owner() common.Address {
	return l.owner
}

// RoleOf reports the capability the ledger grants addr.
func (l *Ledger) RoleOf(addr common.Address) Role {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.roleLocked(addr)
}

func (l *Ledger) roleLocked(addr common.Address) Role {
	if addr == l.owner {
		return RoleOwner
	}
	if _, ok := l.verifiers[addr]; ok {
		return RoleVerifier
	}
	return RoleNone
}

// authorizeWrite is the single role check used by every write path.
func (l *Ledger) authorizeWrite(caller common.Address) error {
	if l.roleLocked(caller) == RoleNone {
		return fmt.Errorf("%s: %w", caller.Hex(), ErrUnauthorized)
	}
	return nil
}

func (l *Ledger) authorizeOwner(caller common.Address) error {
	if caller != l.owner {
		return fmt.Errorf("%s is not the owner: %w", caller.Hex(), ErrUnauthorized)
	}
	return nil
}

// AddVerifier registers addr in the verifier allow-list. Owner only.
func (l *Ledger) AddVerifier(caller, addr common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.authorizeOwner(caller); err != nil {
		return err
	}
	if _, ok := l.verifiers[addr]; ok {
		return fmt.Errorf("%s: %w", addr.Hex(), ErrAlreadyExists)
	}
	l.verifiers[addr] = struct{}{}
	return nil
}

// RemoveVerifier deletes addr from the verifier allow-list. Owner only.
func (l *Ledger) RemoveVerifier(caller, addr common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.authorizeOwner(caller); err != nil {
		return err
	}
	if _, ok := l.verifiers[addr]; !ok {
		return fmt.Errorf("verifier %s: %w", addr.Hex(), ErrNotFound)
	}
	delete(l.verifiers, addr)
	return nil
}

// IsVerifier reports whether addr is in the allow-list. The owner is
// implicitly authorized to write but is not reported here unless
// explicitly registered.
func (l *Ledger) IsVerifier(addr common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.verifiers[addr]
	return ok
}

// VerifyRetrofit validates sub and writes it as a record attributed to
// caller. An existing record under the same retrofit ID is overwritten;
// the key index is appended only on first creation.
func (l *Ledger) VerifyRetrofit(caller common.Address, sub Submission) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.authorizeWrite(caller); err != nil {
		return err
	}
	if l.paused {
		return ErrPaused
	}
	if err := l.logic.Validate(sub); err != nil {
		return err
	}
	ts := uint64(l.now().Unix())
	l.upsert(caller, sub, ts)
	l.sink.RetrofitVerified(RetrofitVerifiedEvent{
		RetrofitID: sub.RetrofitID,
		Verifier:   caller,
		Timestamp:  ts,
	})
	return nil
}

// BatchVerify writes up to MaxBatchRecords submissions atomically.
// Every submission is validated before any record is written; one
// invalid entry rejects the whole batch with no state change. A single
// summary event is emitted for the batch.
func (l *Ledger) BatchVerify(caller common.Address, subs []Submission) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(subs) == 0 {
		return ErrEmptyBatch
	}
	if len(subs) > MaxBatchRecords {
		return fmt.Errorf("%d records, cap %d: %w", len(subs), MaxBatchRecords, ErrBatchTooLarge)
	}
	if err := l.authorizeWrite(caller); err != nil {
		return err
	}
	if l.paused {
		return ErrPaused
	}
	for i, sub := range subs {
		if err := l.logic.Validate(sub); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	ts := uint64(l.now().Unix())
	for _, sub := range subs {
		l.upsert(caller, sub, ts)
	}
	l.sink.BatchVerification(BatchVerificationEvent{
		Count:     uint64(len(subs)),
		Verifier:  caller,
		Timestamp: ts,
	})
	return nil
}

func (l *Ledger) upsert(caller common.Address, sub Submission, ts uint64) {
	if _, ok := l.records[sub.RetrofitID]; !ok {
		l.index = append(l.index, sub.RetrofitID)
	}
	l.records[sub.RetrofitID] = &Record{
		RetrofitID:   sub.RetrofitID,
		PropertyRef:  sub.PropertyRef,
		EnergyRef:    sub.EnergyRef,
		RatingBefore: sub.RatingBefore,
		RatingAfter:  sub.RatingAfter,
		WorkTypes:    append([]string(nil), sub.WorkTypes...),
		Verifier:     caller,
		Timestamp:    ts,
		Verified:     true,
	}
}

// GetRetrofit returns the record stored under id.
func (l *Ledger) GetRetrofit(id string) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	if !ok {
		return Record{}, fmt.Errorf("retrofit %q: %w", id, ErrNotFound)
	}
	return rec.clone(), nil
}

// ListIDs returns a page of retrofit IDs in insertion order. The page
// length is clamped to the remaining index; an offset at or past the
// end fails with ErrOutOfBounds.
func (l *Ledger) ListIDs(offset, limit int) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 {
		return nil, fmt.Errorf("limit %d must be positive: %w", limit, ErrInvalidInput)
	}
	if offset < 0 || offset >= len(l.index) {
		return nil, fmt.Errorf("offset %d with %d records: %w", offset, len(l.index), ErrOutOfBounds)
	}
	end := offset + limit
	if end > len(l.index) {
		end = len(l.index)
	}
	out := make([]string, end-offset)
	copy(out, l.index[offset:end])
	return out, nil
}

// TotalRecords returns the number of distinct retrofit IDs stored.
func (l *Ledger) TotalRecords() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.index)
}

// Pause disables writes. Owner only. Reads stay available while paused.
func (l *Ledger) Pause(caller common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.authorizeOwner(caller); err != nil {
		return err
	}
	l.paused = true
	return nil
}

// Unpause re-enables writes. Owner only.
func (l *Ledger) Unpause(caller common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.authorizeOwner(caller); err != nil {
		return err
	}
	l.paused = false
	return nil
}

// Paused reports whether writes are currently disabled.
func (l *Ledger) Paused() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paused
}

// Version returns the semantic version tag of the active logic.
func (l *Ledger) Version() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logic.Version()
}

// UpgradeLogic swaps the active validation logic. Owner only. The new
// logic's Migrate step runs against the stored records first; if it
// fails the previous logic stays active.
func (l *Ledger) UpgradeLogic(caller common.Address, logic Logic) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.authorizeOwner(caller); err != nil {
		return err
	}
	if logic == nil {
		return fmt.Errorf("logic is required: %w", ErrInvalidInput)
	}
	if err := logic.Migrate(l.records); err != nil {
		return fmt.Errorf("migrate to %s: %w", logic.Version(), err)
	}
	l.logic = logic
	return nil
}
