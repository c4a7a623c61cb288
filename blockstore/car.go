package blockstore

import (
	"bytes"
	"context"
	"io"

	"github.com/ipfs/go-cid"
	carv2 "github.com/ipld/go-car/v2"
	_ "github.com/ipld/go-ipld-prime/codec/dagcbor" // registers the dag-cbor codec the traversal decodes blocks with
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/linking"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	selector "github.com/ipld/go-ipld-prime/traversal/selector"
	selb "github.com/ipld/go-ipld-prime/traversal/selector/builder"
)

// nodeLinksSelector builds the selector CAR export traverses: follow a
// node's left pointer ("l") and each entry's subtree pointer ("t")
// recursively, but never the entry value links ("v") — values point to
// records held outside the tree's block store, so a full explore-all
// walk would dead-end on the first leaf.
func nodeLinksSelector() datamodel.Node {
	sb := selb.NewSelectorSpecBuilder(basicnode.Prototype.Any)
	return sb.ExploreRecursive(selector.RecursionLimitNone(),
		sb.ExploreFields(func(efsb selb.ExploreFieldsSpecBuilder) {
			efsb.Insert("l", sb.ExploreRecursiveEdge())
			efsb.Insert("e", sb.ExploreAll(
				sb.ExploreFields(func(entry selb.ExploreFieldsSpecBuilder) {
					entry.Insert("t", sb.ExploreRecursiveEdge())
				}),
			))
		}),
	).Node()
}

// linkSystemFor adapts a Store into an IPLD Prime LinkSystem, the
// plumbing go-car's selective writer and block reader operate through.
// Every write is buffered in memory and committed to the store once the
// link's CID is known; every read is served straight from the store.
func linkSystemFor(ctx context.Context, store Store) linking.LinkSystem {
	lsys := cidlink.DefaultLinkSystem()
	lsys.StorageReadOpener = func(_ linking.LinkContext, lnk datamodel.Link) (io.Reader, error) {
		cl, ok := lnk.(cidlink.Link)
		if !ok {
			return nil, ErrNotFound
		}
		data, err := store.Get(ctx, cl.Cid)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}
	lsys.StorageWriteOpener = func(_ linking.LinkContext) (io.Writer, linking.BlockWriteCommitter, error) {
		var buf bytes.Buffer
		return &buf, func(lnk datamodel.Link) error {
			cl, ok := lnk.(cidlink.Link)
			if !ok {
				return ErrNotFound
			}
			return store.Put(ctx, cl.Cid, buf.Bytes())
		}, nil
	}
	return lsys
}

// ExportCAR writes a CAR v2 archive containing root and every tree
// block reachable from it (an entire MST, or any subtree) to w. Leaf
// value blocks are not included; the archive carries the tree's own
// structure only.
func ExportCAR(ctx context.Context, store Store, root cid.Cid, w io.Writer) error {
	lsys := linkSystemFor(ctx, store)
	writer, err := carv2.NewSelectiveWriter(ctx, &lsys, root, nodeLinksSelector())
	if err != nil {
		return err
	}
	_, err = writer.WriteTo(w)
	return err
}

// ImportCAR reads blocks from a CAR v1 or v2 archive into store and
// returns the archive's declared root CIDs.
func ImportCAR(ctx context.Context, store Store, r io.Reader) ([]cid.Cid, error) {
	br, err := carv2.NewBlockReader(r)
	if err != nil {
		return nil, err
	}
	for {
		blk, err := br.Next()
		if err == io.EOF {
			return br.Roots, nil
		}
		if err != nil {
			return nil, err
		}
		if err := store.Put(ctx, blk.Cid(), blk.RawData()); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}
