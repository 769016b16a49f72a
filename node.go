package mdd

import (
	"fmt"
	"sort"
	"sync"
)

// NodeID identifies a node within a NodeTable. IDs are assigned
// sequentially during construction; compaction (after reduction)
// reassigns them in layer-major order.
type NodeID uint32

// InvalidNode is the reserved zero NodeID; no real node is ever assigned
// this ID.
const InvalidNode NodeID = 0

// Node is a read-only snapshot of one MDD vertex: its layer, its outgoing
// arcs keyed by label, the row count that traversed each arc, the total
// row count reaching the node, and (for terminals) the row count ending
// there. Non-terminal nodes have at least one edge; terminal nodes have
// none.
type Node struct {
	Layer         int
	Edges         map[Label]NodeID
	EdgeCounts    map[Label]uint64
	ReachCount    uint64
	TerminalCount uint64
}

// IsTerminal reports whether n has no outgoing edges, i.e. sits at the
// terminal layer.
func (n Node) IsTerminal() bool {
	return len(n.Edges) == 0
}

// SortedEdges returns n's (label, child, count) triples in ascending label
// order, the deterministic traversal order Match and Complete rely on.
func (n Node) SortedEdges() []EdgeView {
	out := make([]EdgeView, 0, len(n.Edges))
	for label, child := range n.Edges {
		out = append(out, EdgeView{Label: label, Child: child, Count: n.EdgeCounts[label]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// EdgeView is a materialized (label, child, count) triple, the shape the
// output interface to renderers exposes per the arc enumeration contract.
type EdgeView struct {
	Label Label
	Child NodeID
	Count uint64
}

// Label is an arc label: a value token (or a bin interval string) on an
// edge from a node at layer l to its child at layer l+1.
type Label string

// NodeTable owns the mutable node store used during compilation and the
// frozen, read-only view queries traverse. It guards access with a
// RWMutex so construction (single writer) and query traversal (many
// readers) can safely interleave even though the package's documented
// contract assumes a single owner at a time.
type NodeTable struct {
	mu    sync.RWMutex
	nodes []*Node // index 0 is always nil (InvalidNode)
	root  NodeID
}

// NewNodeTable creates an empty node table. Index 0 is reserved for
// InvalidNode.
func NewNodeTable() *NodeTable {
	return &NodeTable{nodes: make([]*Node, 1)}
}

// AllocNode creates a fresh node at the given layer and returns its ID.
func (nt *NodeTable) AllocNode(layer int) NodeID {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	id := NodeID(len(nt.nodes))
	nt.nodes = append(nt.nodes, &Node{
		Layer:      layer,
		Edges:      make(map[Label]NodeID),
		EdgeCounts: make(map[Label]uint64),
	})
	return id
}

// SetRoot records id as the table's root node.
func (nt *NodeTable) SetRoot(id NodeID) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	nt.root = id
}

// Root returns the table's root node ID.
func (nt *NodeTable) Root() NodeID {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	return nt.root
}

// AddEdge creates or increments the edge labeled label from "from" to
// "to", adding delta to its traversal count and to the reach count of
// "from". If an edge with this label already exists at "from" pointing
// elsewhere, it is redirected to "to" and keeps its count plus delta (used
// by the reducer, with delta 0, when rewriting parent edges to a
// representative node); if it already points at "to", counts are summed.
func (nt *NodeTable) AddEdge(from NodeID, label Label, to NodeID, delta uint64) error {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	n, err := nt.nodeLocked(from)
	if err != nil {
		return err
	}
	n.Edges[label] = to
	n.EdgeCounts[label] += delta
	n.ReachCount += delta
	return nil
}

// IncReach adds delta to node id's reach count.
func (nt *NodeTable) IncReach(id NodeID, delta uint64) error {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	n, err := nt.nodeLocked(id)
	if err != nil {
		return err
	}
	n.ReachCount += delta
	return nil
}

// IncTerminal adds delta to node id's terminal count and reach count.
func (nt *NodeTable) IncTerminal(id NodeID, delta uint64) error {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	n, err := nt.nodeLocked(id)
	if err != nil {
		return err
	}
	n.TerminalCount += delta
	n.ReachCount += delta
	return nil
}

// Edge looks up the child and count of the edge labeled label from node
// id, reporting false if no such edge exists.
func (nt *NodeTable) Edge(id NodeID, label Label) (NodeID, uint64, bool) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	n, err := nt.nodeLocked(id)
	if err != nil {
		return InvalidNode, 0, false
	}
	child, ok := n.Edges[label]
	if !ok {
		return InvalidNode, 0, false
	}
	return child, n.EdgeCounts[label], true
}

// GetNode retrieves a defensive copy of the node at id.
func (nt *NodeTable) GetNode(id NodeID) (Node, error) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	n, err := nt.nodeLocked(id)
	if err != nil {
		return Node{}, err
	}
	return cloneNode(n), nil
}

func cloneNode(n *Node) Node {
	edges := make(map[Label]NodeID, len(n.Edges))
	for k, v := range n.Edges {
		edges[k] = v
	}
	counts := make(map[Label]uint64, len(n.EdgeCounts))
	for k, v := range n.EdgeCounts {
		counts[k] = v
	}
	return Node{
		Layer:         n.Layer,
		Edges:         edges,
		EdgeCounts:    counts,
		ReachCount:    n.ReachCount,
		TerminalCount: n.TerminalCount,
	}
}

func (nt *NodeTable) nodeLocked(id NodeID) (*Node, error) {
	if id == InvalidNode || int(id) >= len(nt.nodes) || nt.nodes[id] == nil {
		return nil, fmt.Errorf("%w: node ID %d", ErrInvalidNode, id)
	}
	return nt.nodes[id], nil
}

// NodeCount returns the number of live nodes in the table, excluding
// InvalidNode.
func (nt *NodeTable) NodeCount() int {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	n := 0
	for _, node := range nt.nodes {
		if node != nil {
			n++
		}
	}
	return n
}

// ArcCount returns the total number of distinct (node, label) edges in the
// table.
func (nt *NodeTable) ArcCount() int {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	n := 0
	for _, node := range nt.nodes {
		if node != nil {
			n += len(node.Edges)
		}
	}
	return n
}

// NodesAtLayer returns the IDs of all live nodes at the given layer, in
// ascending ID order.
func (nt *NodeTable) NodesAtLayer(layer int) []NodeID {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	var out []NodeID
	for id, node := range nt.nodes {
		if node != nil && node.Layer == layer {
			out = append(out, NodeID(id))
		}
	}
	return out
}

// MaxLayer returns the highest layer any live node occupies.
func (nt *NodeTable) MaxLayer() int {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	max := 0
	for _, node := range nt.nodes {
		if node != nil && node.Layer > max {
			max = node.Layer
		}
	}
	return max
}

// compact drops nodes not reachable from root and reassigns IDs in
// layer-major order, returning the remap from old to new IDs and the new
// root. Used by the reducer's final sweep (spec §4.4 phase 2 step 4).
func (nt *NodeTable) compact(root NodeID) (remap map[NodeID]NodeID, newRoot NodeID) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	reachable := make(map[NodeID]bool)
	var walk func(NodeID)
	walk = func(id NodeID) {
		if id == InvalidNode || reachable[id] {
			return
		}
		n := nt.nodes[id]
		if n == nil {
			return
		}
		reachable[id] = true
		for _, child := range n.Edges {
			walk(child)
		}
	}
	walk(root)

	var ids []NodeID
	for id := range reachable {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		li, lj := nt.nodes[ids[i]].Layer, nt.nodes[ids[j]].Layer
		if li != lj {
			return li < lj
		}
		return ids[i] < ids[j]
	})

	remap = make(map[NodeID]NodeID, len(ids))
	newNodes := make([]*Node, len(ids)+1)
	for newID, oldID := range ids {
		remap[oldID] = NodeID(newID + 1)
	}
	for newID, oldID := range ids {
		old := nt.nodes[oldID]
		n := &Node{
			Layer:         old.Layer,
			Edges:         make(map[Label]NodeID, len(old.Edges)),
			EdgeCounts:    make(map[Label]uint64, len(old.EdgeCounts)),
			ReachCount:    old.ReachCount,
			TerminalCount: old.TerminalCount,
		}
		for label, child := range old.Edges {
			n.Edges[label] = remap[child]
		}
		for label, cnt := range old.EdgeCounts {
			n.EdgeCounts[label] = cnt
		}
		newNodes[newID+1] = n
	}

	nt.nodes = newNodes
	nt.root = remap[root]
	return remap, nt.root
}
