package blockstore

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	ds "github.com/ipfs/go-datastore"
	badger4 "github.com/ipfs/go-ds-badger4"

	"github.com/ipfs/go-cid"
)

// dsKey turns a CID into the datastore key its bytes are stored under:
// a flat namespace keyed by the CID's own string form, mirroring how
// content-addressed blocks need no further path structure.
func dsKey(c cid.Cid) ds.Key {
	return ds.NewKey("/blocks/" + c.String())
}

// DiskStore is a badger4-backed Store with an LRU read cache in front
// of it, for deployments that need blocks to survive a restart.
type DiskStore struct {
	ds    *badger4.Datastore
	mu    sync.RWMutex
	cache *lru.Cache[string, []byte]
}

var _ Store = (*DiskStore)(nil)

// NewDiskStore opens (or creates) a badger4 datastore at path and wraps
// it with a cache of cacheSize recently touched blocks.
func NewDiskStore(path string, cacheSize int, opts *badger4.Options) (*DiskStore, error) {
	if opts == nil {
		opts = &badger4.DefaultOptions
	}
	badgerDS, err := badger4.NewDatastore(path, opts)
	if err != nil {
		return nil, err
	}
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, err
	}
	return &DiskStore{ds: badgerDS, cache: cache}, nil
}

func (s *DiskStore) cacheGet(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Get(key)
}

func (s *DiskStore) cachePut(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(key, data)
}

func (s *DiskStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	key := c.KeyString()
	if data, ok := s.cacheGet(key); ok {
		return data, nil
	}
	data, err := s.ds.Get(ctx, dsKey(c))
	if err == ds.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.cachePut(key, data)
	return data, nil
}

func (s *DiskStore) Put(ctx context.Context, c cid.Cid, data []byte) error {
	key := c.KeyString()
	if existing, ok := s.cacheGet(key); ok {
		if string(existing) != string(data) {
			return ErrCIDConflict
		}
		return nil
	}
	has, err := s.Has(ctx, c)
	if err != nil {
		return err
	}
	if has {
		existing, err := s.ds.Get(ctx, dsKey(c))
		if err != nil {
			return err
		}
		if string(existing) != string(data) {
			return ErrCIDConflict
		}
		s.cachePut(key, existing)
		return nil
	}
	if err := s.ds.Put(ctx, dsKey(c), data); err != nil {
		return err
	}
	s.cachePut(key, data)
	return nil
}

func (s *DiskStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if _, ok := s.cacheGet(c.KeyString()); ok {
		return true, nil
	}
	return s.ds.Has(ctx, dsKey(c))
}

// Close flushes and closes the underlying badger datastore.
func (s *DiskStore) Close() error {
	return s.ds.Close()
}
