package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"

	id "verdant/pkg/domain"
)

// MemoryLedger is a deterministic in-process ledger used in dev mode and
// tests. It honors the same contract as a real ledger client: idempotency
// replay on mutating calls, Rejected errors for refused operations, and
// optional fault injection to exercise retry paths.
type MemoryLedger struct {
	mu sync.Mutex

	// balances[batch][holder] = amount
	balances map[id.BatchID]map[string]int64
	// retired[batch] = total permanently removed
	retired map[id.BatchID]int64
	// minted[batch] = total created at mint
	minted map[id.BatchID]int64
	// metadata[batch] = metadataRef supplied at mint (certificate id)
	metadata map[id.BatchID]string
	// mintedRefs[metadataRef] = batch, for duplicate-mint detection
	mintedRefs map[string]id.BatchID

	roles map[string]string

	// replay[idempotencyKey] = result of the first effect with that key
	replay map[string]replayEntry

	// failures remaining to inject, per operation name
	faults map[string]int

	txSeq int64
}

type replayEntry struct {
	mint  *MintResult
	txRef TxRef
}

// NewMemoryLedger creates an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[id.BatchID]map[string]int64),
		retired:    make(map[id.BatchID]int64),
		minted:     make(map[id.BatchID]int64),
		metadata:   make(map[id.BatchID]string),
		mintedRefs: make(map[string]id.BatchID),
		roles:      make(map[string]string),
		replay:     make(map[string]replayEntry),
		faults:     make(map[string]int),
	}
}

// FailNext makes the next n calls to op fail with a transient error.
// Test hook; op is one of "mint", "transfer", "retire", "balance", "grant_role".
func (l *MemoryLedger) FailNext(op string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = n
}

func (l *MemoryLedger) injectFault(op string) error {
	if l.faults[op] > 0 {
		l.faults[op]--
		return NewTransient(op, "injected fault", nil)
	}
	return nil
}

func (l *MemoryLedger) nextTxRef() TxRef {
	l.txSeq++
	return TxRef(uuid.NewString())
}

func (l *MemoryLedger) Mint(ctx context.Context, idempotencyKey string, toIdentity string, amount int64, metadataRef string) (MintResult, error) {
	if err := ctx.Err(); err != nil {
		return MintResult{}, NewTransient("mint", "context done", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injectFault("mint"); err != nil {
		return MintResult{}, err
	}
	if entry, ok := l.replay[idempotencyKey]; ok && entry.mint != nil {
		return *entry.mint, nil
	}
	if amount <= 0 {
		return MintResult{}, NewRejected("mint", "amount must be positive")
	}
	if _, dup := l.mintedRefs[metadataRef]; dup {
		return MintResult{}, NewRejected("mint", "metadata reference already minted")
	}

	batchID := id.BatchID(uuid.New())
	l.balances[batchID] = map[string]int64{toIdentity: amount}
	l.minted[batchID] = amount
	l.metadata[batchID] = metadataRef
	l.mintedRefs[metadataRef] = batchID

	result := MintResult{BatchID: batchID, TxRef: l.nextTxRef()}
	l.replay[idempotencyKey] = replayEntry{mint: &result}
	return result, nil
}

func (l *MemoryLedger) BalanceOf(ctx context.Context, identity string, batchID id.BatchID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewTransient("balance", "context done", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injectFault("balance"); err != nil {
		return 0, err
	}
	holders, ok := l.balances[batchID]
	if !ok {
		return 0, NewRejected("balance", "unknown batch")
	}
	return holders[identity], nil
}

func (l *MemoryLedger) Transfer(ctx context.Context, idempotencyKey string, from, to string, batchID id.BatchID, amount int64) (TxRef, error) {
	if err := ctx.Err(); err != nil {
		return "", NewTransient("transfer", "context done", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injectFault("transfer"); err != nil {
		return "", err
	}
	if entry, ok := l.replay[idempotencyKey]; ok && entry.txRef != "" {
		return entry.txRef, nil
	}
	if amount <= 0 {
		return "", NewRejected("transfer", "amount must be positive")
	}
	holders, ok := l.balances[batchID]
	if !ok {
		return "", NewRejected("transfer", "unknown batch")
	}
	if holders[from] < amount {
		return "", NewRejected("transfer", "insufficient balance")
	}

	holders[from] -= amount
	holders[to] += amount

	ref := l.nextTxRef()
	l.replay[idempotencyKey] = replayEntry{txRef: ref}
	return ref, nil
}

func (l *MemoryLedger) Retire(ctx context.Context, idempotencyKey string, holder string, batchID id.BatchID, amount int64) (TxRef, error) {
	if err := ctx.Err(); err != nil {
		return "", NewTransient("retire", "context done", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injectFault("retire"); err != nil {
		return "", err
	}
	if entry, ok := l.replay[idempotencyKey]; ok && entry.txRef != "" {
		return entry.txRef, nil
	}
	if amount <= 0 {
		return "", NewRejected("retire", "amount must be positive")
	}
	holders, ok := l.balances[batchID]
	if !ok {
		return "", NewRejected("retire", "unknown batch")
	}
	if holders[holder] < amount {
		return "", NewRejected("retire", "insufficient balance")
	}

	// Retirement destroys the credits. Nothing ever adds them back.
	holders[holder] -= amount
	l.retired[batchID] += amount

	ref := l.nextTxRef()
	l.replay[idempotencyKey] = replayEntry{txRef: ref}
	return ref, nil
}

func (l *MemoryLedger) GrantRole(ctx context.Context, identityKey string, role string) error {
	if err := ctx.Err(); err != nil {
		return NewTransient("grant_role", "context done", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injectFault("grant_role"); err != nil {
		return err
	}
	l.roles[identityKey] = role
	return nil
}

// RetiredTotal reports the permanently removed amount for a batch. Test hook.
func (l *MemoryLedger) RetiredTotal(batchID id.BatchID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retired[batchID]
}

// MintedTotal reports the created amount for a batch. Test hook.
func (l *MemoryLedger) MintedTotal(batchID id.BatchID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minted[batchID]
}

var _ Client = (*MemoryLedger)(nil)
