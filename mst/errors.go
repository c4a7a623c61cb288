package mst

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// InvalidKeyError signals that a caller-supplied key failed validation.
type InvalidKeyError struct {
	Key    string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("mst: invalid key %q: %s", e.Key, e.Reason)
}

// MissingBlockError signals that a CID referenced by the tree could not
// be resolved in the backing block store.
type MissingBlockError struct {
	CID cid.Cid
}

func (e *MissingBlockError) Error() string {
	return fmt.Sprintf("mst: missing block %s", e.CID)
}

// CorruptBlockError signals that a block was read but failed to decode
// into a well-formed node, or violated a structural invariant on decode.
type CorruptBlockError struct {
	CID    cid.Cid
	Reason string
}

func (e *CorruptBlockError) Error() string {
	return fmt.Sprintf("mst: corrupt block %s: %s", e.CID, e.Reason)
}

// StoreError wraps a failure surfaced by the backing block store's
// Get/Put/Has, tagged with the operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("mst: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
