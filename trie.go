package mdd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// compileTrie implements §4.4: build the full prefix trie (phase 1), then
// optionally reduce it bottom-up into canonical form (phase 2). It returns
// the node table, the root ID, and the pre-reduction node count (used for
// Stats.ReductionRatio).
func compileTrie(ctx context.Context, schema Schema, order []string, binModels map[string]*BinModel, rows []Row, enableReduction bool) (*NodeTable, NodeID, int, error) {
	nt := NewNodeTable()
	root := nt.AllocNode(0)

	for _, row := range rows {
		if err := ctxErr(ctx); err != nil {
			return nil, InvalidNode, 0, err
		}
		labels, err := encodeRowForOrder(schema, order, binModels, row)
		if err != nil {
			return nil, InvalidNode, 0, fmt.Errorf("%w: %v", ErrCompile, err)
		}

		cur := root
		for layer, label := range labels {
			child, _, ok := nt.Edge(cur, label)
			if !ok {
				child = nt.AllocNode(layer + 1)
			}
			if err := nt.AddEdge(cur, label, child, 1); err != nil {
				return nil, InvalidNode, 0, fmt.Errorf("%w: %v", ErrCompile, err)
			}
			cur = child
		}
		if err := nt.IncTerminal(cur, 1); err != nil {
			return nil, InvalidNode, 0, fmt.Errorf("%w: %v", ErrCompile, err)
		}
	}

	trieNodes := nt.NodeCount()

	if !enableReduction {
		return nt, root, trieNodes, nil
	}

	newRoot, err := reduce(ctx, nt, root, len(order))
	if err != nil {
		return nil, InvalidNode, 0, err
	}
	return nt, newRoot, trieNodes, nil
}

// reduce implements §4.4 phase 2: bottom-up canonical merging from layer D
// down to 1, followed by a final compaction pass that drops orphaned
// nodes and reassigns IDs in layer-major order.
func reduce(ctx context.Context, nt *NodeTable, root NodeID, terminalLayer int) (NodeID, error) {
	for layer := terminalLayer; layer >= 1; layer-- {
		if err := ctxErr(ctx); err != nil {
			return InvalidNode, err
		}
		ids := nt.NodesAtLayer(layer)
		if len(ids) < 2 {
			continue
		}

		sigs := make([]string, len(ids))
		nodesCopy := make([]Node, len(ids))

		// Signature hashing across a layer may be parallelized (§5).
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism())
		for i, id := range ids {
			i, id := i, id
			g.Go(func() error {
				if err := ctxErr(gctx); err != nil {
					return err
				}
				n, err := nt.GetNode(id)
				if err != nil {
					return err
				}
				nodesCopy[i] = n
				sigs[i] = signature(layer, n)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return InvalidNode, err
		}

		groups := make(map[string][]NodeID)
		for i, id := range ids {
			groups[sigs[i]] = append(groups[sigs[i]], id)
		}

		remap := make(map[NodeID]NodeID)
		for _, group := range groups {
			if len(group) < 2 {
				continue
			}
			sort.Slice(group, func(i, j int) bool { return group[i] < group[j] })
			rep := group[0]
			for _, dup := range group[1:] {
				dupNode, err := nt.GetNode(dup)
				if err != nil {
					return InvalidNode, err
				}
				for label, child := range dupNode.Edges {
					if err := nt.AddEdge(rep, label, child, dupNode.EdgeCounts[label]); err != nil {
						return InvalidNode, err
					}
				}
				if dupNode.TerminalCount > 0 {
					if err := nt.IncTerminal(rep, dupNode.TerminalCount); err != nil {
						return InvalidNode, err
					}
				}
				remap[dup] = rep
			}
		}

		if len(remap) == 0 {
			continue
		}

		// Strictly bottom-up: rewrite the parent layer's edges after this
		// layer's groups are fully merged (§5: "between layers, strict
		// bottom-up order is mandatory").
		for _, parentID := range nt.NodesAtLayer(layer - 1) {
			parent, err := nt.GetNode(parentID)
			if err != nil {
				return InvalidNode, err
			}
			for label, child := range parent.Edges {
				if newChild, ok := remap[child]; ok {
					if err := nt.AddEdge(parentID, label, newChild, 0); err != nil {
						return InvalidNode, err
					}
				}
			}
		}
	}

	_, newRoot := nt.compact(root)
	return newRoot, nil
}

// signature is the canonical structural key (layer, terminal_count, sorted
// (label, child-id) pairs) used to group nodes for merging. Edge counts
// are excluded, per §4.4 phase 2 step 1.
func signature(layer int, n Node) string {
	edges := n.SortedEdges()
	parts := make([]string, len(edges))
	for i, e := range edges {
		parts[i] = fmt.Sprintf("%s=%d", e.Label, e.Child)
	}
	return fmt.Sprintf("%d|%d|%s", layer, n.TerminalCount, strings.Join(parts, ","))
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
