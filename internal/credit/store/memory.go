package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"verdant/internal/credit"
	id "verdant/pkg/domain"
	"verdant/pkg/platform/sentinel"
)

type holdingKey struct {
	batch  id.BatchID
	holder id.ActorID
}

// Memory is an in-process credit store. It enforces the same constraints the
// postgres schema does: one batch per certificate, non-negative holdings, and
// retired never exceeding the batch total.
type Memory struct {
	mu          sync.RWMutex
	batches     map[id.BatchID]*credit.Batch
	byCert      map[id.CertificateID]id.BatchID
	holdings    map[holdingKey]int64
	retirements map[id.RetirementID]*credit.Retirement
	failed      map[id.CertificateID]*credit.FailedIssuance
}

func NewMemory() *Memory {
	return &Memory{
		batches:     make(map[id.BatchID]*credit.Batch),
		byCert:      make(map[id.CertificateID]id.BatchID),
		holdings:    make(map[holdingKey]int64),
		retirements: make(map[id.RetirementID]*credit.Retirement),
		failed:      make(map[id.CertificateID]*credit.FailedIssuance),
	}
}

// CreateBatch records a confirmed mint and seeds the producer's holding with
// the full batch total. A second batch for the same certificate conflicts.
func (m *Memory) CreateBatch(_ context.Context, batch *credit.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byCert[batch.CertificateID]; exists {
		return fmt.Errorf("certificate %s already minted: %w", batch.CertificateID, sentinel.ErrConflict)
	}
	if _, exists := m.batches[batch.BatchID]; exists {
		return fmt.Errorf("batch %s already exists: %w", batch.BatchID, sentinel.ErrConflict)
	}

	stored := *batch
	m.batches[batch.BatchID] = &stored
	m.byCert[batch.CertificateID] = batch.BatchID
	m.holdings[holdingKey{batch.BatchID, batch.ProducerID}] = batch.Total
	return nil
}

func (m *Memory) GetBatch(_ context.Context, batchID id.BatchID) (*credit.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	batch, ok := m.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, sentinel.ErrNotFound)
	}
	copied := *batch
	return &copied, nil
}

func (m *Memory) GetBatchByCertificate(_ context.Context, certID id.CertificateID) (*credit.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	batchID, ok := m.byCert[certID]
	if !ok {
		return nil, fmt.Errorf("no batch for certificate %s: %w", certID, sentinel.ErrNotFound)
	}
	copied := *m.batches[batchID]
	return &copied, nil
}

func (m *Memory) ListBatches(_ context.Context) ([]*credit.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*credit.Batch, 0, len(m.batches))
	for _, batch := range m.batches {
		copied := *batch
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MintedAt.Before(out[j].MintedAt) })
	return out, nil
}

// ApplyTransfer moves a confirmed transfer into the local mirror.
func (m *Memory) ApplyTransfer(_ context.Context, batchID id.BatchID, from, to id.ActorID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.batches[batchID]; !ok {
		return fmt.Errorf("batch %s: %w", batchID, sentinel.ErrNotFound)
	}
	fromKey := holdingKey{batchID, from}
	if m.holdings[fromKey] < amount {
		return fmt.Errorf("holding of %s in batch %s below transfer amount: %w", from, batchID, sentinel.ErrConflict)
	}
	m.holdings[fromKey] -= amount
	m.holdings[holdingKey{batchID, to}] += amount
	return nil
}

// ApplyRetirement records a confirmed retirement, deducting the holder's
// mirror and the batch outstanding. Total retired can never exceed the total
// minted.
func (m *Memory) ApplyRetirement(_ context.Context, rec *credit.Retirement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, ok := m.batches[rec.BatchID]
	if !ok {
		return fmt.Errorf("batch %s: %w", rec.BatchID, sentinel.ErrNotFound)
	}
	if batch.Outstanding < rec.Amount {
		return fmt.Errorf("retirement exceeds outstanding credits of batch %s: %w", rec.BatchID, sentinel.ErrConflict)
	}
	key := holdingKey{rec.BatchID, rec.HolderID}
	if m.holdings[key] < rec.Amount {
		return fmt.Errorf("holding of %s in batch %s below retirement amount: %w", rec.HolderID, rec.BatchID, sentinel.ErrConflict)
	}

	m.holdings[key] -= rec.Amount
	batch.Outstanding -= rec.Amount
	stored := *rec
	m.retirements[rec.RetirementID] = &stored
	return nil
}

func (m *Memory) HoldingOf(_ context.Context, batchID id.BatchID, holderID id.ActorID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.holdings[holdingKey{batchID, holderID}], nil
}

func (m *Memory) HoldingsOf(_ context.Context, holderID id.ActorID) ([]*credit.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*credit.Holding
	for key, amount := range m.holdings {
		if key.holder == holderID && amount > 0 {
			out = append(out, &credit.Holding{BatchID: key.batch, HolderID: holderID, Amount: amount})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID.String() < out[j].BatchID.String() })
	return out, nil
}

func (m *Memory) ListHoldings(_ context.Context, batchID id.BatchID) ([]*credit.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*credit.Holding
	for key, amount := range m.holdings {
		if key.batch == batchID && amount > 0 {
			out = append(out, &credit.Holding{BatchID: batchID, HolderID: key.holder, Amount: amount})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HolderID.String() < out[j].HolderID.String() })
	return out, nil
}

func (m *Memory) ListRetirements(_ context.Context, batchID id.BatchID) ([]*credit.Retirement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*credit.Retirement
	for _, rec := range m.retirements {
		if rec.BatchID == batchID {
			copied := *rec
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetiredAt.Before(out[j].RetiredAt) })
	return out, nil
}

func (m *Memory) RetirementsOf(_ context.Context, holderID id.ActorID) ([]*credit.Retirement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*credit.Retirement
	for _, rec := range m.retirements {
		if rec.HolderID == holderID {
			copied := *rec
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetiredAt.Before(out[j].RetiredAt) })
	return out, nil
}

// SaveFailedIssuance upserts the failure record for a certificate.
func (m *Memory) SaveFailedIssuance(_ context.Context, failure *credit.FailedIssuance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *failure
	m.failed[failure.CertificateID] = &stored
	return nil
}

func (m *Memory) DeleteFailedIssuance(_ context.Context, certID id.CertificateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.failed, certID)
	return nil
}

func (m *Memory) ListFailedIssuances(_ context.Context) ([]*credit.FailedIssuance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*credit.FailedIssuance, 0, len(m.failed))
	for _, failure := range m.failed {
		copied := *failure
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAttemptAt.Before(out[j].LastAttemptAt) })
	return out, nil
}
