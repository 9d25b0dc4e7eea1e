// Package idempotency persists mint idempotency keys. A key is generated
// once per certificate and reused verbatim across every retry, so the ledger
// can deduplicate a mint that succeeded after a lost response.
package idempotency

import (
	"context"
	"sync"

	"github.com/google/uuid"

	id "verdant/pkg/domain"
)

// KeyStore hands out the mint idempotency key for a certificate. The first
// call creates the key atomically; every later call returns the same key.
type KeyStore interface {
	MintKey(ctx context.Context, certID id.CertificateID) (string, error)
}

// Memory is an in-process KeyStore for tests and single-node deployments.
type Memory struct {
	mu   sync.Mutex
	keys map[id.CertificateID]string
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[id.CertificateID]string)}
}

func (m *Memory) MintKey(_ context.Context, certID id.CertificateID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.keys[certID]; ok {
		return key, nil
	}
	key := uuid.NewString()
	m.keys[certID] = key
	return key, nil
}
