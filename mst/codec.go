package mst

import (
	"bytes"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/multiformats/go-multihash"
)

// blockPrefix fixes the CID shape every encoded node is addressed by:
// CIDv1, dag-cbor codec, SHA-256 multihash, with field names l, e, p,
// k, v, t encoded under dag-cbor's canonical deterministic rules
// (definite-length, map keys in canonical order, shortest int form).
var blockPrefix = cid.Prefix{
	Version:  1,
	Codec:    uint64(cid.DagCBOR),
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// emptyTreeBytes returns the encoding of a node with no left pointer
// and no entries, the canonical representation of an empty tree.
func emptyTreeBytes() ([]byte, error) {
	return encodeNode(&Node{children: []childPtr{{}}})
}

// cidForBytes derives the canonical CID for an already-encoded block,
// using blockPrefix's codec and hash function so every block in the
// store is addressed the same way.
func cidForBytes(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, blockPrefix.MhType, blockPrefix.MhLength)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(blockPrefix.Codec, mh), nil
}

// encodeNode serializes a node to its canonical CBOR block form. Every
// child pointer in n must already carry a resolved CID (persist walks
// the tree bottom-up before calling this so that invariant always
// holds); a node with any uncommitted in-memory child is a programmer
// error here.
func encodeNode(n *Node) ([]byte, error) {
	nb := basicnode.Prototype.Map.NewBuilder()
	ma, err := nb.BeginMap(2)
	if err != nil {
		return nil, err
	}

	lEntry, err := ma.AssembleEntry("l")
	if err != nil {
		return nil, err
	}
	if left := n.children[0].c; left.Defined() {
		if err := lEntry.AssignLink(cidlink.Link{Cid: left}); err != nil {
			return nil, err
		}
	} else {
		if err := lEntry.AssignNull(); err != nil {
			return nil, err
		}
	}

	eEntry, err := ma.AssembleEntry("e")
	if err != nil {
		return nil, err
	}
	la, err := eEntry.BeginList(int64(len(n.leaves)))
	if err != nil {
		return nil, err
	}
	prevKey := ""
	for i, lf := range n.leaves {
		p := CommonPrefixLength(prevKey, lf.key)
		suffix := lf.key[p:]

		entAsm := la.AssembleValue()
		entMap, err := entAsm.BeginMap(4)
		if err != nil {
			return nil, err
		}
		if err := assembleEntryField(entMap, "p", func(na datamodel.NodeAssembler) error {
			return na.AssignInt(int64(p))
		}); err != nil {
			return nil, err
		}
		if err := assembleEntryField(entMap, "k", func(na datamodel.NodeAssembler) error {
			return na.AssignBytes([]byte(suffix))
		}); err != nil {
			return nil, err
		}
		if err := assembleEntryField(entMap, "v", func(na datamodel.NodeAssembler) error {
			return na.AssignLink(cidlink.Link{Cid: lf.value})
		}); err != nil {
			return nil, err
		}
		tCID := n.children[i+1].c
		if err := assembleEntryField(entMap, "t", func(na datamodel.NodeAssembler) error {
			if tCID.Defined() {
				return na.AssignLink(cidlink.Link{Cid: tCID})
			}
			return na.AssignNull()
		}); err != nil {
			return nil, err
		}
		if err := entMap.Finish(); err != nil {
			return nil, err
		}
		prevKey = lf.key
	}
	if err := la.Finish(); err != nil {
		return nil, err
	}
	if err := ma.Finish(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := dagcbor.Encode(nb.Build(), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func assembleEntryField(ma datamodel.MapAssembler, name string, assign func(datamodel.NodeAssembler) error) error {
	na, err := ma.AssembleEntry(name)
	if err != nil {
		return err
	}
	return assign(na)
}

// decodeNode parses a canonical block back into a Node with unresolved
// (lazy) child pointers. It verifies reconstructed keys are strictly
// increasing, failing with CorruptBlockError otherwise.
func decodeNode(data []byte) (*Node, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := dagcbor.Decode(nb, bytes.NewReader(data)); err != nil {
		return nil, &CorruptBlockError{Reason: "cbor decode: " + err.Error()}
	}
	nd := nb.Build()

	var leftCID cid.Cid
	lNode, err := nd.LookupByString("l")
	if err != nil {
		return nil, &CorruptBlockError{Reason: "missing field l"}
	}
	if lNode.Kind() != datamodel.Kind_Null {
		link, err := lNode.AsLink()
		if err != nil {
			return nil, &CorruptBlockError{Reason: "field l: not a link: " + err.Error()}
		}
		cl, ok := link.(cidlink.Link)
		if !ok {
			return nil, &CorruptBlockError{Reason: "field l: unexpected link type"}
		}
		leftCID = cl.Cid
	}

	eNode, err := nd.LookupByString("e")
	if err != nil {
		return nil, &CorruptBlockError{Reason: "missing field e"}
	}
	it := eNode.ListIterator()
	if it == nil {
		return nil, &CorruptBlockError{Reason: "field e: not a list"}
	}

	leaves := make([]leafEntry, 0)
	children := make([]childPtr, 0, 1)
	children = append(children, childPtr{c: leftCID})

	prevKey := ""
	for !it.Done() {
		_, entNode, err := it.Next()
		if err != nil {
			return nil, &CorruptBlockError{Reason: "field e: " + err.Error()}
		}

		pNode, err := entNode.LookupByString("p")
		if err != nil {
			return nil, &CorruptBlockError{Reason: "entry missing field p"}
		}
		pVal, err := pNode.AsInt()
		if err != nil {
			return nil, &CorruptBlockError{Reason: "entry field p: " + err.Error()}
		}
		if pVal < 0 || int(pVal) > len(prevKey) {
			return nil, &CorruptBlockError{Reason: "entry field p out of range"}
		}

		kNode, err := entNode.LookupByString("k")
		if err != nil {
			return nil, &CorruptBlockError{Reason: "entry missing field k"}
		}
		kBytes, err := kNode.AsBytes()
		if err != nil {
			return nil, &CorruptBlockError{Reason: "entry field k: " + err.Error()}
		}

		vNode, err := entNode.LookupByString("v")
		if err != nil {
			return nil, &CorruptBlockError{Reason: "entry missing field v"}
		}
		vLink, err := vNode.AsLink()
		if err != nil {
			return nil, &CorruptBlockError{Reason: "entry field v: " + err.Error()}
		}
		vCID, ok := vLink.(cidlink.Link)
		if !ok {
			return nil, &CorruptBlockError{Reason: "entry field v: unexpected link type"}
		}

		tNode, err := entNode.LookupByString("t")
		if err != nil {
			return nil, &CorruptBlockError{Reason: "entry missing field t"}
		}
		var tCID cid.Cid
		if tNode.Kind() != datamodel.Kind_Null {
			tLink, err := tNode.AsLink()
			if err != nil {
				return nil, &CorruptBlockError{Reason: "entry field t: " + err.Error()}
			}
			tc, ok := tLink.(cidlink.Link)
			if !ok {
				return nil, &CorruptBlockError{Reason: "entry field t: unexpected link type"}
			}
			tCID = tc.Cid
		}

		fullKey := prevKey[:pVal] + string(kBytes)
		if len(leaves) > 0 && CompareKeys(fullKey, prevKey) <= 0 {
			return nil, &CorruptBlockError{Reason: "keys not strictly increasing"}
		}

		leaves = append(leaves, leafEntry{key: fullKey, value: vCID.Cid})
		children = append(children, childPtr{c: tCID})
		prevKey = fullKey
	}

	layer := 0
	if len(leaves) > 0 {
		layer = Layer(leaves[0].key)
	}

	return &Node{layer: layer, leaves: leaves, children: children}, nil
}
