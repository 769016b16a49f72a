package mdd

import (
	"context"
	"fmt"
)

// sigIndex is the per-layer signature index used to intern nodes during
// slice compilation: for a given layer, maps a single-edge node's
// (label, child) signature to its canonical NodeID. Only single-edge
// nodes are ever registered: a node acquiring a second edge is removed
// (see unregisterIfSingleEdge) because sharing it with a candidate that
// wants only its first edge would fabricate label/child combinations no
// row actually took.
type sigIndex map[int]map[string]NodeID

func newSigIndex() sigIndex {
	return make(sigIndex)
}

func (idx sigIndex) bucket(layer int) map[string]NodeID {
	b, ok := idx[layer]
	if !ok {
		b = make(map[string]NodeID)
		idx[layer] = b
	}
	return b
}

func edgeKey(label Label, child NodeID) string {
	return fmt.Sprintf("%s=%d", label, child)
}

// compileSlice builds the MDD row by row and finishes with a full reduce()
// pass. Rows share an existing prefix, but every new suffix chain ends in a
// freshly allocated terminal, so the online interning step never finds an
// existing node to reuse: before the final pass the table holds the full
// prefix trie, and all merging of equal suffixes is done by reduce(). The
// final pass gives the same diagram as trie+reduce regardless of row
// arrival order.
func compileSlice(ctx context.Context, schema Schema, order []string, binModels map[string]*BinModel, rows []Row) (*NodeTable, NodeID, error) {
	nt := NewNodeTable()
	root := nt.AllocNode(0)
	nt.SetRoot(root)

	if err := appendSlice(ctx, schema, order, binModels, nt, rows); err != nil {
		return nil, InvalidNode, err
	}
	return nt, nt.Root(), nil
}

// appendSlice re-enters the slice compiler's per-row loop against an
// existing (possibly already-reduced) node table, rebuilding the
// signature index from the table's current contents first. This is the
// §9 "option (b)" incremental append implementation.
func appendSlice(ctx context.Context, schema Schema, order []string, binModels map[string]*BinModel, nt *NodeTable, rows []Row) error {
	D := len(order)
	root := nt.Root()
	idx := rebuildSigIndex(nt, D)

	for _, row := range rows {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		labels, err := encodeRowForOrder(schema, order, binModels, row)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCompile, err)
		}
		if err := addRowSlice(nt, idx, labels, root, D); err != nil {
			return fmt.Errorf("%w: %v", ErrCompile, err)
		}
	}

	newRoot, err := reduce(ctx, nt, root, D)
	if err != nil {
		return err
	}
	nt.SetRoot(newRoot)
	return nil
}

// addRowSlice adds one row to nt following spec §4.5 steps 2-4: walk from
// the root while arcs exist, then synthesize and intern a suffix chain at
// the point of divergence.
func addRowSlice(nt *NodeTable, idx sigIndex, labels []Label, root NodeID, D int) error {
	cur := root
	layer := 0
	for ; layer < D; layer++ {
		child, _, ok := nt.Edge(cur, labels[layer])
		if !ok {
			break
		}
		if err := nt.AddEdge(cur, labels[layer], child, 1); err != nil {
			return err
		}
		cur = child
	}

	if layer == D {
		return nt.IncTerminal(cur, 1)
	}

	childToAttach, err := internChain(nt, idx, labels, layer+1, D)
	if err != nil {
		return err
	}

	unregisterIfSingleEdge(nt, idx, cur)
	return nt.AddEdge(cur, labels[layer], childToAttach, 1)
}

// internChain synthesizes the suffix path for layers fromLayer..D
// (terminal), looking each non-terminal node up in idx before allocating
// it. The terminal itself is always freshly allocated, so the first
// lookup's key names a new child and never matches, and neither do the
// lookups above it: every chain is new nodes, and the final reduce() pass
// is what merges identical suffixes, terminals included.
func internChain(nt *NodeTable, idx sigIndex, labels []Label, fromLayer, D int) (NodeID, error) {
	current := nt.AllocNode(D)
	if err := nt.IncTerminal(current, 1); err != nil {
		return InvalidNode, err
	}

	for p := D - 1; p >= fromLayer; p-- {
		label := labels[p]
		next, err := internInternal(nt, idx, p, label, current)
		if err != nil {
			return InvalidNode, err
		}
		current = next
	}
	return current, nil
}

// internInternal interns a single-edge node (label -> child) at layer p:
// reuses an existing node with the identical single-edge signature if one
// is indexed, else allocates and registers a new one.
func internInternal(nt *NodeTable, idx sigIndex, layer int, label Label, child NodeID) (NodeID, error) {
	key := edgeKey(label, child)
	bucket := idx.bucket(layer)
	if existing, ok := bucket[key]; ok {
		if err := nt.AddEdge(existing, label, child, 1); err != nil {
			return InvalidNode, err
		}
		return existing, nil
	}

	id := nt.AllocNode(layer)
	if err := nt.AddEdge(id, label, child, 1); err != nil {
		return InvalidNode, err
	}
	bucket[key] = id
	return id, nil
}

// unregisterIfSingleEdge removes cur from the signature index if it is
// currently a single-edge node, since the caller is about to give it a
// second edge. A multi-edge node must never be handed out by
// internInternal's lookup: doing so would let an unrelated candidate
// "inherit" branches it never actually observed, fabricating rows that
// were never in the input.
func unregisterIfSingleEdge(nt *NodeTable, idx sigIndex, cur NodeID) {
	n, err := nt.GetNode(cur)
	if err != nil || len(n.Edges) != 1 {
		return
	}
	bucket := idx.bucket(n.Layer)
	for label, child := range n.Edges {
		key := edgeKey(label, child)
		if bucket[key] == cur {
			delete(bucket, key)
		}
	}
}

// rebuildSigIndex reconstructs the signature index from an existing
// table's current contents, used by Append. Only single-edge non-terminal
// nodes are registered, mirroring what the online construction itself
// would have kept indexed.
func rebuildSigIndex(nt *NodeTable, terminalLayer int) sigIndex {
	idx := newSigIndex()
	for layer := 1; layer < terminalLayer; layer++ {
		for _, id := range nt.NodesAtLayer(layer) {
			n, err := nt.GetNode(id)
			if err != nil || len(n.Edges) != 1 {
				continue
			}
			for label, child := range n.Edges {
				idx.bucket(layer)[edgeKey(label, child)] = id
			}
		}
	}
	return idx
}
