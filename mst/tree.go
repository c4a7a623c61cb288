package mst

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"

	"atmst/blockstore"
)

// Tree is the mutable, concurrency-safe façade over the persistent node
// structure: every Add/Delete recomputes a new immutable root and
// persists whichever blocks changed, while reads (Get, Entries,
// Iterator) take a shared lock so concurrent readers never observe a
// half-committed tree. Root takes the exclusive lock, since it may
// persist the current root.
type Tree struct {
	mu    sync.RWMutex
	store blockstore.Store
	root  *Node // nil means the empty tree
}

// New returns an empty tree backed by store. No blocks are written
// until the first mutation or an explicit call to Root.
func New(store blockstore.Store) *Tree {
	return &Tree{store: store}
}

// Load resolves an existing tree rooted at rootCID. The special CID for
// the canonical empty-tree block is accepted and yields an empty tree.
func Load(ctx context.Context, store blockstore.Store, rootCID cid.Cid) (*Tree, error) {
	if !rootCID.Defined() {
		return New(store), nil
	}
	data, err := store.Get(ctx, rootCID)
	if err == blockstore.ErrNotFound {
		return nil, &MissingBlockError{CID: rootCID}
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	root, err := decodeNode(data)
	if err != nil {
		if cb, ok := err.(*CorruptBlockError); ok {
			cb.CID = rootCID
		}
		return nil, err
	}
	root.cid = rootCID
	if len(root.leaves) == 0 && !root.children[0].c.Defined() {
		root = nil
	}
	return &Tree{store: store, root: root}, nil
}

// Get returns the value CID stored under key, and whether it was present.
func (t *Tree) Get(ctx context.Context, key string) (cid.Cid, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return get(ctx, t.store, loadCache{}, t.root, key)
}

// Has reports whether key is present in the tree.
func (t *Tree) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := t.Get(ctx, key)
	return ok, err
}

// Add inserts key with value, or updates value if key is already
// present, and returns the new root CID. The new root and every newly
// constructed ancestor node are persisted to the store before this
// returns, so the returned CID is immediately resolvable.
func (t *Tree) Add(ctx context.Context, key string, value cid.Cid) (cid.Cid, error) {
	if err := ValidateKey(key); err != nil {
		return cid.Undef, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	newRoot, err := insertInto(ctx, t.store, loadCache{}, t.root, key, value)
	if err != nil {
		return cid.Undef, err
	}
	rootCID, err := t.persist(ctx, newRoot)
	if err != nil {
		return cid.Undef, err
	}
	t.root = newRoot
	return rootCID, nil
}

// Delete removes key from the tree, returning the new root CID and
// whether the key had been present. Deleting an absent key is a no-op
// that returns the unchanged current root.
func (t *Tree) Delete(ctx context.Context, key string) (cid.Cid, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newRoot, removed, err := deleteFrom(ctx, t.store, loadCache{}, t.root, key)
	if err != nil {
		return cid.Undef, false, err
	}
	if !removed {
		rootCID, err := t.currentRootCID(ctx)
		return rootCID, false, err
	}
	rootCID, err := t.persist(ctx, newRoot)
	if err != nil {
		return cid.Undef, false, err
	}
	t.root = newRoot
	return rootCID, true, nil
}

// Root returns the CID of the current root, persisting the canonical
// empty-tree block the first time an empty tree's root is requested.
func (t *Tree) Root(ctx context.Context) (cid.Cid, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentRootCID(ctx)
}

func (t *Tree) currentRootCID(ctx context.Context) (cid.Cid, error) {
	if t.root == nil {
		return t.persistEmpty(ctx)
	}
	if t.root.cid.Defined() {
		return t.root.cid, nil
	}
	return t.persist(ctx, t.root)
}

func (t *Tree) persistEmpty(ctx context.Context) (cid.Cid, error) {
	data, err := emptyTreeBytes()
	if err != nil {
		return cid.Undef, err
	}
	c, err := cidForBytes(data)
	if err != nil {
		return cid.Undef, err
	}
	if err := t.store.Put(ctx, c, data); err != nil {
		return cid.Undef, &StoreError{Op: "put", Err: err}
	}
	return c, nil
}

// persist walks n bottom-up, encoding and storing every descendant that
// doesn't already have a resolved CID, then returns n's own CID. Nodes
// loaded unchanged from the store (cid already set, no uncommitted
// in-memory child) are never re-encoded or re-written.
func (t *Tree) persist(ctx context.Context, n *Node) (cid.Cid, error) {
	if n == nil {
		return t.persistEmpty(ctx)
	}
	if n.cid.Defined() {
		return n.cid, nil
	}

	resolved := n.shallowClone()
	for i, p := range resolved.children {
		if p.node == nil {
			continue
		}
		childCID, err := t.persist(ctx, p.node)
		if err != nil {
			return cid.Undef, err
		}
		resolved.children[i] = childPtr{c: childCID}
	}

	data, err := encodeNode(resolved)
	if err != nil {
		return cid.Undef, err
	}
	c, err := cidForBytes(data)
	if err != nil {
		return cid.Undef, err
	}
	if err := t.store.Put(ctx, c, data); err != nil {
		return cid.Undef, &StoreError{Op: "put", Err: err}
	}
	resolved.cid = c
	n.cid = c
	n.children = resolved.children
	return c, nil
}

// Entries walks the tree in key order and returns every (key, value)
// pair. It loads every block along the way; callers scanning large
// trees should prefer Iterator for a lazy single-pass walk.
func (t *Tree) Entries(ctx context.Context) ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	if err := walkInOrder(ctx, t.store, loadCache{}, t.root, func(e Entry) error {
		out = append(out, e)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Keys returns every key in the tree, in order.
func (t *Tree) Keys(ctx context.Context) ([]string, error) {
	entries, err := t.Entries(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys, nil
}

// Values returns every value CID in the tree, ordered by key.
func (t *Tree) Values(ctx context.Context) ([]cid.Cid, error) {
	entries, err := t.Entries(ctx)
	if err != nil {
		return nil, err
	}
	values := make([]cid.Cid, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return values, nil
}

// Count returns the number of entries currently stored in the tree.
func (t *Tree) Count(ctx context.Context) (int, error) {
	entries, err := t.Entries(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// IsEmpty reports whether the tree holds no entries.
func (t *Tree) IsEmpty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root == nil
}

// ToMap returns the tree's entries as a map from key to value CID.
func (t *Tree) ToMap(ctx context.Context) (map[string]cid.Cid, error) {
	entries, err := t.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]cid.Cid, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

// FromEntries builds a new tree from scratch by inserting entries one
// at a time in the order given; the resulting structure does not
// depend on that order (P1).
func FromEntries(ctx context.Context, store blockstore.Store, entries []Entry) (*Tree, error) {
	t := New(store)
	for _, e := range entries {
		if _, err := t.Add(ctx, e.Key, e.Value); err != nil {
			return nil, err
		}
	}
	return t, nil
}
