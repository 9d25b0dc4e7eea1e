package store

import (
	"context"
	"sync"

	"verdant/internal/audit"
	id "verdant/pkg/domain"
)

// Memory is an in-process append-only trail.
type Memory struct {
	mu      sync.RWMutex
	records []audit.Record
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, rec audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) ListBySubject(_ context.Context, subject string) ([]audit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []audit.Record
	for _, rec := range m.records {
		if rec.Subject == subject {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) ListByActor(_ context.Context, actorID id.ActorID) ([]audit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []audit.Record
	for _, rec := range m.records {
		if rec.ActorID == actorID {
			out = append(out, rec)
		}
	}
	return out, nil
}
