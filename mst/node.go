package mst

import (
	"context"
	"sort"

	"github.com/ipfs/go-cid"

	"atmst/blockstore"
)

// leafEntry is a (key, value) pair at a node's layer.
type leafEntry struct {
	key   string
	value cid.Cid
}

// childPtr is one subtree slot. Exactly one of (c defined) or (node !=
// nil, uncommitted) describes a present subtree; both zero means the
// slot is absent: at most one subtree pointer sits between any two
// adjacent leaves.
type childPtr struct {
	c    cid.Cid
	node *Node
}

func (p childPtr) isAbsent() bool {
	return !p.c.Defined() && p.node == nil
}

// childOf wraps an in-memory node (possibly nil, meaning absent) as an
// uncommitted child pointer.
func childOf(n *Node) childPtr {
	return childPtr{node: n}
}

// Node is an immutable MST node: leaves interleaved with subtree
// pointers, one more pointer slot than leaves. Every mutation returns a
// new Node; existing nodes' keys, values and subtrees are never
// modified in place (persisting a node only caches its CID and swaps
// its in-memory children for their CIDs). A nil *Node denotes the
// empty tree/subtree.
//
// Subtree layers are not required to be exactly one less than their
// parent's: empty intermediate layers are never materialized, so a
// child's layer is only guaranteed to be strictly less than its
// parent's.
type Node struct {
	layer    int
	leaves   []leafEntry
	children []childPtr // len(children) == len(leaves)+1
	cid      cid.Cid    // cached once computed; zero value until then
}

// loadCache memoizes nodes already fetched from the store within one
// logical operation, mirroring the scratch cache a recursive descent
// keeps to avoid refetching a block visited from two branches.
type loadCache map[cid.Cid]*Node

func newLeafNode(layer int, key string, value cid.Cid) *Node {
	return &Node{
		layer:    layer,
		leaves:   []leafEntry{{key: key, value: value}},
		children: []childPtr{{}, {}},
	}
}

func (n *Node) shallowClone() *Node {
	out := &Node{
		layer:    n.layer,
		leaves:   append([]leafEntry(nil), n.leaves...),
		children: append([]childPtr(nil), n.children...),
	}
	return out
}

func loadChildNode(ctx context.Context, store blockstore.Store, cache loadCache, p childPtr) (*Node, error) {
	if p.node != nil {
		return p.node, nil
	}
	if p.isAbsent() {
		return nil, nil
	}
	if cached, ok := cache[p.c]; ok {
		return cached, nil
	}
	data, err := store.Get(ctx, p.c)
	if err == blockstore.ErrNotFound {
		return nil, &MissingBlockError{CID: p.c}
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	nd, err := decodeNode(data)
	if err != nil {
		if cb, ok := err.(*CorruptBlockError); ok {
			cb.CID = p.c
			return nil, cb
		}
		return nil, err
	}
	nd.cid = p.c
	cache[p.c] = nd
	return nd, nil
}

// findSlot returns the index i such that key falls between leaves[i-1]
// and leaves[i] (children[i] is the pointer covering that gap), using
// the same ordering rule for both lookup and insertion: the slot
// immediately left of the first leaf greater than key.
func findSlot(leaves []leafEntry, key string) int {
	return sort.Search(len(leaves), func(i int) bool {
		return CompareKeys(leaves[i].key, key) >= 0
	})
}

func findExact(leaves []leafEntry, key string) int {
	i := findSlot(leaves, key)
	if i < len(leaves) && leaves[i].key == key {
		return i
	}
	return -1
}

// get performs a pure key-order descent: no layer comparisons, just
// walk toward the leaf or the absent slot.
func get(ctx context.Context, store blockstore.Store, cache loadCache, n *Node, key string) (cid.Cid, bool, error) {
	cur := n
	for cur != nil {
		if j := findExact(cur.leaves, key); j >= 0 {
			return cur.leaves[j].value, true, nil
		}
		i := findSlot(cur.leaves, key)
		child, err := loadChildNode(ctx, store, cache, cur.children[i])
		if err != nil {
			return cid.Undef, false, err
		}
		cur = child
	}
	return cid.Undef, false, nil
}

// insertInto inserts or updates key at its hash-determined layer. The
// key's own layer relative to the current node's decides whether the
// key sits above this node (split and re-root), within this node
// (update or split a neighboring pointer), or below it (descend and
// recurse).
func insertInto(ctx context.Context, store blockstore.Store, cache loadCache, n *Node, key string, value cid.Cid) (*Node, error) {
	kl := Layer(key)
	if n == nil {
		return newLeafNode(kl, key, value), nil
	}
	switch {
	case kl > n.layer:
		left, right, err := splitAt(ctx, store, cache, n, key)
		if err != nil {
			return nil, err
		}
		return &Node{
			layer:    kl,
			leaves:   []leafEntry{{key: key, value: value}},
			children: []childPtr{childOf(left), childOf(right)},
		}, nil

	case kl < n.layer:
		i := findSlot(n.leaves, key)
		child, err := loadChildNode(ctx, store, cache, n.children[i])
		if err != nil {
			return nil, err
		}
		newChild, err := insertInto(ctx, store, cache, child, key, value)
		if err != nil {
			return nil, err
		}
		out := n.shallowClone()
		out.children[i] = childOf(newChild)
		return out, nil

	default: // kl == n.layer
		if j := findExact(n.leaves, key); j >= 0 {
			out := n.shallowClone()
			out.leaves[j].value = value
			return out, nil
		}
		j := findSlot(n.leaves, key)
		straddle, err := loadChildNode(ctx, store, cache, n.children[j])
		if err != nil {
			return nil, err
		}
		left, right, err := splitAt(ctx, store, cache, straddle, key)
		if err != nil {
			return nil, err
		}
		leaves := make([]leafEntry, 0, len(n.leaves)+1)
		leaves = append(leaves, n.leaves[:j]...)
		leaves = append(leaves, leafEntry{key: key, value: value})
		leaves = append(leaves, n.leaves[j:]...)

		children := make([]childPtr, 0, len(n.children)+1)
		children = append(children, n.children[:j]...)
		children = append(children, childOf(left), childOf(right))
		children = append(children, n.children[j+1:]...)

		return &Node{layer: n.layer, leaves: leaves, children: children}, nil
	}
}

// splitAt partitions a subtree's entries into those strictly less than
// key and those greater-or-equal, recursively splitting the one
// straddling pointer. Empty sides collapse to nil rather than
// producing an empty-leaf node, which is what keeps the trim rule
// satisfied by construction.
func splitAt(ctx context.Context, store blockstore.Store, cache loadCache, n *Node, key string) (left, right *Node, err error) {
	if n == nil {
		return nil, nil, nil
	}
	j := findSlot(n.leaves, key)
	straddle, err := loadChildNode(ctx, store, cache, n.children[j])
	if err != nil {
		return nil, nil, err
	}
	subLeft, subRight, err := splitAt(ctx, store, cache, straddle, key)
	if err != nil {
		return nil, nil, err
	}

	if j == 0 {
		left = subLeft
	} else {
		left = &Node{
			layer:    n.layer,
			leaves:   append([]leafEntry(nil), n.leaves[:j]...),
			children: append(append([]childPtr(nil), n.children[:j]...), childOf(subLeft)),
		}
	}

	if j == len(n.leaves) {
		right = subRight
	} else {
		right = &Node{
			layer:    n.layer,
			leaves:   append([]leafEntry(nil), n.leaves[j:]...),
			children: append([]childPtr{childOf(subRight)}, n.children[j+1:]...),
		}
	}
	return left, right, nil
}

// mergeSubtrees merges two subtrees covering adjacent, non-overlapping
// key ranges. The subtrees may sit at different layers: the lower of
// the two is grafted into the outer edge of the higher, and two
// equal-layer subtrees are concatenated with their boundary pointers
// merged recursively.
func mergeSubtrees(ctx context.Context, store blockstore.Store, cache loadCache, left, right *Node) (*Node, error) {
	if left == nil {
		return right, nil
	}
	if right == nil {
		return left, nil
	}
	switch {
	case left.layer == right.layer:
		lastIdx := len(left.children) - 1
		leftLast, err := loadChildNode(ctx, store, cache, left.children[lastIdx])
		if err != nil {
			return nil, err
		}
		rightFirst, err := loadChildNode(ctx, store, cache, right.children[0])
		if err != nil {
			return nil, err
		}
		boundary, err := mergeSubtrees(ctx, store, cache, leftLast, rightFirst)
		if err != nil {
			return nil, err
		}
		leaves := make([]leafEntry, 0, len(left.leaves)+len(right.leaves))
		leaves = append(leaves, left.leaves...)
		leaves = append(leaves, right.leaves...)
		children := make([]childPtr, 0, len(left.children)+len(right.children)-1)
		children = append(children, left.children[:lastIdx]...)
		children = append(children, childOf(boundary))
		children = append(children, right.children[1:]...)
		return &Node{layer: left.layer, leaves: leaves, children: children}, nil

	case left.layer > right.layer:
		out := left.shallowClone()
		lastIdx := len(out.children) - 1
		rightmost, err := loadChildNode(ctx, store, cache, out.children[lastIdx])
		if err != nil {
			return nil, err
		}
		merged, err := mergeSubtrees(ctx, store, cache, rightmost, right)
		if err != nil {
			return nil, err
		}
		out.children[lastIdx] = childOf(merged)
		return out, nil

	default: // left.layer < right.layer
		out := right.shallowClone()
		leftmost, err := loadChildNode(ctx, store, cache, out.children[0])
		if err != nil {
			return nil, err
		}
		merged, err := mergeSubtrees(ctx, store, cache, left, leftmost)
		if err != nil {
			return nil, err
		}
		out.children[0] = childOf(merged)
		return out, nil
	}
}

// deleteFrom removes key from the tree: locate the leaf by key-order/layer
// descent, remove it, and merge its two flanking pointers. A leafless
// node with exactly one remaining pointer collapses to that pointer's
// subtree at every level it arises, not just the root, keeping the
// structure canonical for any insertion order.
func deleteFrom(ctx context.Context, store blockstore.Store, cache loadCache, n *Node, key string) (*Node, bool, error) {
	if n == nil {
		return nil, false, nil
	}
	kl := Layer(key)
	if kl > n.layer {
		return n, false, nil
	}
	if kl < n.layer {
		i := findSlot(n.leaves, key)
		child, err := loadChildNode(ctx, store, cache, n.children[i])
		if err != nil {
			return nil, false, err
		}
		newChild, removed, err := deleteFrom(ctx, store, cache, child, key)
		if err != nil {
			return nil, false, err
		}
		if !removed {
			return n, false, nil
		}
		out := n.shallowClone()
		out.children[i] = childOf(newChild)
		return out, true, nil
	}

	j := findExact(n.leaves, key)
	if j < 0 {
		return n, false, nil
	}
	leftChild, err := loadChildNode(ctx, store, cache, n.children[j])
	if err != nil {
		return nil, false, err
	}
	rightChild, err := loadChildNode(ctx, store, cache, n.children[j+1])
	if err != nil {
		return nil, false, err
	}
	merged, err := mergeSubtrees(ctx, store, cache, leftChild, rightChild)
	if err != nil {
		return nil, false, err
	}

	leaves := make([]leafEntry, 0, len(n.leaves)-1)
	leaves = append(leaves, n.leaves[:j]...)
	leaves = append(leaves, n.leaves[j+1:]...)

	if len(leaves) == 0 {
		return merged, true, nil
	}

	children := make([]childPtr, 0, len(n.children)-1)
	children = append(children, n.children[:j]...)
	children = append(children, childOf(merged))
	children = append(children, n.children[j+2:]...)

	return &Node{layer: n.layer, leaves: leaves, children: children}, true, nil
}
