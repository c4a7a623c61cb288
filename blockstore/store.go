// Package blockstore defines the content-addressed block store contract
// the mst package consumes, plus an in-memory reference implementation
// for tests and a badger-backed persistent implementation for real use.
package blockstore

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

// ErrNotFound is returned by Get when no block is stored under the
// given CID.
var ErrNotFound = errors.New("blockstore: block not found")

// ErrCIDConflict is returned by Put when a different payload is already
// stored under the given CID. Content-addressed storage makes this a
// programmer error: it means two distinct byte strings hashed the same,
// or a caller mismatched a CID and its bytes.
var ErrCIDConflict = errors.New("blockstore: conflicting payload for existing cid")

// Store is the minimal capability contract the mst package needs from
// a backing block store: content-addressed get/put/has over raw bytes.
// Implementations do not need to support atomic multi-block commits;
// callers wanting that batch externally.
type Store interface {
	// Get returns the bytes stored under c, or ErrNotFound.
	Get(ctx context.Context, c cid.Cid) ([]byte, error)

	// Put stores data under c. Putting the same bytes under a CID that
	// already holds them is a no-op. Putting different bytes under an
	// existing CID returns ErrCIDConflict.
	Put(ctx context.Context, c cid.Cid, data []byte) error

	// Has reports whether a block is stored under c.
	Has(ctx context.Context, c cid.Cid) (bool, error)
}
