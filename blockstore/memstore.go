package blockstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/ipfs/go-cid"
)

// MemStore is an in-memory Store, keyed by the CID's string form. It is
// the reference implementation required for testing mst operations
// without a disk-backed dependency.
type MemStore struct {
	mu     sync.RWMutex
	blocks map[string][]byte
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{blocks: make(map[string][]byte)}
}

func (m *MemStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blocks[c.KeyString()]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemStore) Put(ctx context.Context, c cid.Cid, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.blocks[c.KeyString()]; ok {
		if bytes.Equal(existing, data) {
			return nil
		}
		return ErrCIDConflict
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.blocks[c.KeyString()] = stored
	return nil
}

func (m *MemStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[c.KeyString()]
	return ok, nil
}

// Len reports the number of distinct blocks currently stored.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}
