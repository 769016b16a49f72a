package mdd

import (
	"container/heap"
	"context"
	"math"
	"strconv"
	"strings"
)

// DistanceFunc scores how far a candidate label's decoded value is from a
// target value for one dimension. Lower is closer; it must return a
// non-negative value for A*'s cost monotonicity to hold.
type DistanceFunc func(want, have Value) float64

// HeuristicFunc estimates a lower bound on the remaining distance to a
// terminal from node at position pos, the pluggable admissibility hook
// named in the design notes. A nil heuristic behaves as the zero function,
// which is always admissible but degrades A* to uniform-cost search.
type HeuristicFunc func(m *MDD, id NodeID, pos int) float64

// decodeLabelValue recovers an approximate Value from an arc label so a
// DistanceFunc can compare it against a target. Bin-interval labels
// ("[lo,hi)") decode to their midpoint; anything else that parses as a
// number decodes to that float; otherwise the label is treated as an
// opaque string.
func decodeLabelValue(label Label) Value {
	s := string(label)
	if strings.HasPrefix(s, "[") && (strings.HasSuffix(s, ")") || strings.HasSuffix(s, "]")) {
		inner := s[1 : len(s)-1]
		parts := strings.SplitN(inner, ",", 2)
		if len(parts) == 2 {
			lo, errLo := strconv.ParseFloat(parts[0], 64)
			hi, errHi := strconv.ParseFloat(parts[1], 64)
			switch {
			case errLo == nil && errHi == nil:
				// The outermost bins are half-bounded; fall back to the
				// finite edge rather than averaging with an infinity.
				switch {
				case math.IsInf(lo, -1) && math.IsInf(hi, 1):
					return Float(0)
				case math.IsInf(lo, -1):
					return Float(hi)
				case math.IsInf(hi, 1):
					return Float(lo)
				default:
					return Float((lo + hi) / 2)
				}
			case errLo == nil:
				return Float(lo)
			case errHi == nil:
				return Float(hi)
			}
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Float(f)
	}
	return String(s)
}

// nearestState is one partial assignment on the A* frontier: the node it
// has reached, how many layers it has descended, the labels chosen so
// far, and its accumulated cost g.
type nearestState struct {
	node   NodeID
	pos    int
	labels map[string]Label
	g      float64
}

// nearestItem is a frontier entry ordered by f = g + h.
type nearestItem struct {
	state nearestState
	f     float64
}

type nearestQueue []nearestItem

func (q nearestQueue) Len() int           { return len(q) }
func (q nearestQueue) Less(i, j int) bool { return q[i].f < q[j].f }
func (q nearestQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *nearestQueue) Push(x interface{}) {
	*q = append(*q, x.(nearestItem))
}

func (q *nearestQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Nearest finds the k rows whose labels minimize summed DistanceFunc cost
// against partial's target values, using A* over the layered DAG (§4.6.5).
// Dimensions absent from partial (or from distFns) contribute zero cost.
// Distances must be non-negative for the search's cost ordering to be
// valid; a nil heuristic is always admissible but explores uniform-cost.
// The returned Completion.Score is the negated total distance, so higher is
// always better across both Complete and Nearest; the unsigned distance is
// still available via Details["distance"].
func Nearest(ctx context.Context, m *MDD, partial Pattern, distFns map[string]DistanceFunc, heuristic HeuristicFunc, k int) ([]Completion, error) {
	if err := validatePattern(m.schema, partial); err != nil {
		return nil, err
	}
	if heuristic == nil {
		heuristic = func(*MDD, NodeID, int) float64 { return 0 }
	}

	pq := &nearestQueue{}
	heap.Init(pq)
	start := nearestState{node: m.Root(), pos: 0, labels: map[string]Label{}, g: 0}
	heap.Push(pq, nearestItem{state: start, f: heuristic(m, start.node, start.pos)})

	var results []Completion
	for pq.Len() > 0 && (k <= 0 || len(results) < k) {
		if err := ctxErr(ctx); err != nil {
			return results, err
		}
		st := heap.Pop(pq).(nearestItem).state

		n, err := m.GetNode(st.node)
		if err != nil {
			return nil, err
		}

		if st.pos == m.TerminalLayer() {
			if n.TerminalCount > 0 {
				results = append(results, Completion{
					Labels:  st.labels,
					Score:   -st.g,
					Details: map[string]float64{"distance": st.g},
				})
			}
			continue
		}

		dim := m.order[st.pos]
		want, hasTarget := partial[dim]
		distFn := distFns[dim]

		for _, e := range n.SortedEdges() {
			cost := 0.0
			if hasTarget && distFn != nil {
				cost = distFn(want, decodeLabelValue(e.Label))
			}
			labels := make(map[string]Label, len(st.labels)+1)
			for k, v := range st.labels {
				labels[k] = v
			}
			labels[dim] = e.Label
			next := nearestState{node: e.Child, pos: st.pos + 1, labels: labels, g: st.g + cost}
			heap.Push(pq, nearestItem{state: next, f: next.g + heuristic(m, next.node, next.pos)})
		}
	}

	return results, nil
}
