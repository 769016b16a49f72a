package mdd

import (
	"context"
	"math"
	"sort"
)

// Completion is one ranked result from Complete or Nearest: a full label
// assignment for every dimension, a Score where higher is always better
// (Complete's Laplace-smoothed cumulative log-probability, or Nearest's
// negated total distance), and Details carrying the underlying raw metric
// ("logprob" for Complete, "distance" for Nearest) for callers that want it
// unsigned.
type Completion struct {
	Labels  map[string]Label
	Score   float64
	Details map[string]float64
}

type completionState struct {
	node      NodeID
	labels    map[string]Label
	score     float64
	lastLabel Label
}

// Complete fills in the wildcard dimensions of partial with the k most
// probable completions (§4.6.4), using Laplace-smoothed beam search: at
// each layer every live beam state branches over every admissible edge
// (the single pattern-fixed edge, or all edges when the dimension is a
// wildcard), scored by log((edge_count + alpha) / (reach_count +
// alpha*num_edges)), and only the top cfg.Beam states survive to the
// next layer.
func Complete(ctx context.Context, m *MDD, partial Pattern, k int, cfg QueryConfig) ([]Completion, error) {
	if err := validatePattern(m.schema, partial); err != nil {
		return nil, err
	}
	beamWidth := cfg.Beam
	if beamWidth <= 0 {
		beamWidth = 1
	}
	alpha := m.Alpha()

	beam := []completionState{{node: m.Root(), labels: map[string]Label{}, score: 0}}

	for pos := 0; pos < m.TerminalLayer(); pos++ {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		dim := m.order[pos]
		var next []completionState

		for _, st := range beam {
			n, err := m.GetNode(st.node)
			if err != nil {
				return nil, err
			}
			denom := float64(n.ReachCount) + alpha*float64(len(n.Edges))

			expand := func(label Label, child NodeID, edgeCount uint64) {
				p := (float64(edgeCount) + alpha) / denom
				labels := make(map[string]Label, len(st.labels)+1)
				for k, v := range st.labels {
					labels[k] = v
				}
				labels[dim] = label
				next = append(next, completionState{node: child, labels: labels, score: st.score + math.Log(p), lastLabel: label})
			}

			if label, fixed := patternLabel(m.schema, m.binModels, partial, dim); fixed {
				if child, ok := n.Edges[label]; ok {
					expand(label, child, n.EdgeCounts[label])
				}
				continue
			}
			for _, e := range n.SortedEdges() {
				expand(e.Label, e.Child, e.Count)
			}
		}

		sortCompletionStates(m, next)
		if len(next) > beamWidth {
			next = next[:beamWidth]
		}
		beam = next
		if len(beam) == 0 {
			break
		}
	}

	out := make([]Completion, len(beam))
	for i, st := range beam {
		out[i] = Completion{Labels: st.labels, Score: st.score, Details: map[string]float64{"logprob": st.score}}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// sortCompletionStates orders beam candidates by descending score,
// tie-breaking by descending reach count of the landed node and then by
// lexicographic order of the most recently assigned label.
func sortCompletionStates(m *MDD, states []completionState) {
	type ranked struct {
		state completionState
		reach uint64
	}
	rs := make([]ranked, len(states))
	for i, st := range states {
		r := ranked{state: st}
		if n, err := m.GetNode(st.node); err == nil {
			r.reach = n.ReachCount
		}
		rs[i] = r
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].state.score != rs[j].state.score {
			return rs[i].state.score > rs[j].state.score
		}
		if rs[i].reach != rs[j].reach {
			return rs[i].reach > rs[j].reach
		}
		return rs[i].state.lastLabel < rs[j].state.lastLabel
	})
	for i, r := range rs {
		states[i] = r.state
	}
}
