package mst

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/samber/lo"
)

// Change describes one key whose value differs between two trees.
type Change struct {
	Key      string
	OldValue cid.Cid // zero value if the key is an add
	NewValue cid.Cid // zero value if the key is a delete
}

// DiffResult is the outcome of comparing two trees' entry sets: keys
// present only on the new side are adds, present only on the old side
// are deletes, and present on both with differing values are updates.
type DiffResult struct {
	Adds    []Change
	Updates []Change
	Deletes []Change
	NewCIDs []cid.Cid // value CIDs introduced by Adds and Updates, deduplicated
}

// Diff compares old and new, each read through its own store, and
// reports the key-level differences between them. Identical root CIDs
// short-circuit to an empty result without walking either tree's
// entries.
func Diff(ctx context.Context, oldTree, newTree *Tree) (*DiffResult, error) {
	oldRoot, err := oldTree.Root(ctx)
	if err != nil {
		return nil, err
	}
	newRoot, err := newTree.Root(ctx)
	if err != nil {
		return nil, err
	}
	if oldRoot == newRoot {
		return &DiffResult{}, nil
	}

	oldEntries, err := oldTree.Entries(ctx)
	if err != nil {
		return nil, err
	}
	newEntries, err := newTree.Entries(ctx)
	if err != nil {
		return nil, err
	}

	oldByKey := lo.KeyBy(oldEntries, func(e Entry) string { return e.Key })
	newByKey := lo.KeyBy(newEntries, func(e Entry) string { return e.Key })

	result := &DiffResult{}
	for _, e := range newEntries {
		old, existed := oldByKey[e.Key]
		switch {
		case !existed:
			result.Adds = append(result.Adds, Change{Key: e.Key, NewValue: e.Value})
		case old.Value != e.Value:
			result.Updates = append(result.Updates, Change{Key: e.Key, OldValue: old.Value, NewValue: e.Value})
		}
	}
	for _, e := range oldEntries {
		if _, stillPresent := newByKey[e.Key]; !stillPresent {
			result.Deletes = append(result.Deletes, Change{Key: e.Key, OldValue: e.Value})
		}
	}

	changed := append(append([]Change(nil), result.Adds...), result.Updates...)
	newValues := lo.Map(changed, func(c Change, _ int) cid.Cid { return c.NewValue })
	result.NewCIDs = lo.Uniq(newValues)

	return result, nil
}
