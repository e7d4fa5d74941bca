package revocation

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store for tests and single-process setups.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

// AddRevocation implements Store.
func (m *MemStore) AddRevocation(ctx context.Context, rec Record) error {
	rec.Serial = NormalizeSerial(rec.Serial)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Serial] = rec
	return nil
}

// GetRevocation implements Store.
func (m *MemStore) GetRevocation(ctx context.Context, serial string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[NormalizeSerial(serial)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// GetRevocationsByIssuer implements Store.
func (m *MemStore) GetRevocationsByIssuer(ctx context.Context, issuerDN string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var recs []Record
	for _, rec := range m.records {
		if rec.IssuerDN == issuerDN {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}
