package mst

import (
	"context"

	"github.com/ipfs/go-cid"

	"atmst/blockstore"
)

// Entry is a single (key, value) pair as observed during a tree walk.
type Entry struct {
	Key   string
	Value cid.Cid
}

// walkInOrder visits every entry of the subtree rooted at n in key
// order: descend into children[i], emit leaves[i], descend into
// children[i+1], ... This is the eager full-materialization walk
// Entries/Keys/ToMap build on.
func walkInOrder(ctx context.Context, store blockstore.Store, cache loadCache, n *Node, visit func(Entry) error) error {
	if n == nil {
		return nil
	}
	for i, lf := range n.leaves {
		child, err := loadChildNode(ctx, store, cache, n.children[i])
		if err != nil {
			return err
		}
		if err := walkInOrder(ctx, store, cache, child, visit); err != nil {
			return err
		}
		if err := visit(Entry{Key: lf.key, Value: lf.value}); err != nil {
			return err
		}
	}
	last := n.children[len(n.children)-1]
	child, err := loadChildNode(ctx, store, cache, last)
	if err != nil {
		return err
	}
	return walkInOrder(ctx, store, cache, child, visit)
}

// frame is one level of an explicit iterator stack: the node being
// visited and the index of the next leaf/child pair to descend into.
type frame struct {
	n   *Node
	idx int
}

// Iterator performs a lazy, one-pass in-order walk over a tree's
// entries, loading each block only when the walk reaches it rather
// than materializing the whole tree up front.
type Iterator struct {
	ctx   context.Context
	store blockstore.Store
	cache loadCache
	stack []frame
	cur   Entry
	err   error
}

// Iterator returns a lazy in-order iterator over t's current entries.
// Mutating t while an Iterator is in use produces undefined results;
// Iterators are a snapshot read and should be drained before the next
// Add/Delete.
func (t *Tree) Iterator(ctx context.Context) *Iterator {
	t.mu.RLock()
	defer t.mu.RUnlock()
	it := &Iterator{ctx: ctx, store: t.store, cache: loadCache{}}
	it.pushLeftSpine(t.root)
	return it
}

func (it *Iterator) pushLeftSpine(n *Node) {
	for n != nil {
		it.stack = append(it.stack, frame{n: n, idx: 0})
		child, err := loadChildNode(it.ctx, it.store, it.cache, n.children[0])
		if err != nil {
			it.err = err
			return
		}
		n = child
	}
}

// Next advances to the next entry, returning false when the walk is
// done or an error occurred; check Err after Next returns false.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		if top.idx >= len(top.n.leaves) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		lf := top.n.leaves[top.idx]
		nextChildIdx := top.idx + 1
		top.idx++
		it.cur = Entry{Key: lf.key, Value: lf.value}
		child, err := loadChildNode(it.ctx, it.store, it.cache, top.n.children[nextChildIdx])
		if err != nil {
			it.err = err
			return false
		}
		it.pushLeftSpine(child)
		return true
	}
	return false
}

// Entry returns the entry the most recent call to Next advanced to.
func (it *Iterator) Entry() Entry {
	return it.cur
}

// Err returns the first error encountered while iterating, if any.
func (it *Iterator) Err() error {
	return it.err
}
