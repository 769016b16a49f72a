package mdd

import (
	"context"
	"fmt"
)

// patternLabel resolves pattern's fixed value for dim, if any, to its arc
// label.
func patternLabel(schema Schema, binModels map[string]*BinModel, pattern Pattern, dimName string) (Label, bool) {
	v, ok := pattern[dimName]
	if !ok {
		return "", false
	}
	dim, _ := schema.ByName(dimName)
	return labelFor(dim, binModels[dimName], v), true
}

// validatePattern rejects a pattern that constrains a dimension not
// declared in schema.
func validatePattern(schema Schema, pattern Pattern) error {
	for name := range pattern {
		if _, ok := schema.ByName(name); !ok {
			return fmt.Errorf("%w: pattern references unknown dimension %q", ErrQuery, name)
		}
	}
	return nil
}

// Exists reports whether the fully specified pattern is an input row
// (§4.6.1). Every dimension must be fixed: a pattern that leaves any
// dimension out fails with ErrQuery.
func Exists(ctx context.Context, m *MDD, pattern Pattern) (bool, error) {
	if err := validatePattern(m.schema, pattern); err != nil {
		return false, err
	}
	for _, name := range m.order {
		if _, ok := pattern[name]; !ok {
			return false, fmt.Errorf("%w: exists requires a value for every dimension, %q is missing", ErrQuery, name)
		}
	}
	memo := make(map[NodeID]bool)
	return existsRec(ctx, m, m.Root(), 0, pattern, memo)
}

func existsRec(ctx context.Context, m *MDD, id NodeID, pos int, pattern Pattern, memo map[NodeID]bool) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	if v, ok := memo[id]; ok {
		return v, nil
	}

	n, err := m.GetNode(id)
	if err != nil {
		return false, err
	}

	var result bool
	if pos == m.TerminalLayer() {
		result = n.TerminalCount > 0
	} else {
		dim := m.order[pos]
		if label, fixed := patternLabel(m.schema, m.binModels, pattern, dim); fixed {
			if child, ok := n.Edges[label]; ok {
				result, err = existsRec(ctx, m, child, pos+1, pattern, memo)
				if err != nil {
					return false, err
				}
			}
		} else {
			for _, e := range n.SortedEdges() {
				hit, err := existsRec(ctx, m, e.Child, pos+1, pattern, memo)
				if err != nil {
					return false, err
				}
				if hit {
					result = true
					break
				}
			}
		}
	}

	memo[id] = result
	return result, nil
}

// Count returns the number of input rows matching pattern (§4.6.2) via a
// memoized DFS that accumulates edge_count on matching arcs, weighted by
// the fraction of the child's own rows that match the remaining pattern.
// Canonical reduction can merge a child or terminal across arcs with
// different, unrelated row populations (e.g. two bins that happen to
// receive the same count), so recursing into a shared child and returning
// its bare terminal_count/match total directly would double-count rows
// that never took that arc. The memo key is the node ID alone: the
// remaining pattern at a given node depends only on its layer, which is
// fixed, so two arrivals at the same node always have the same remaining
// obligation regardless of path.
func Count(ctx context.Context, m *MDD, pattern Pattern) (uint64, error) {
	if err := validatePattern(m.schema, pattern); err != nil {
		return 0, err
	}
	memo := make(map[NodeID]uint64)
	return countRec(ctx, m, m.Root(), 0, pattern, memo)
}

// countRec returns how many of id's own reach_count rows match pattern
// from pos onward. At the terminal layer every row reaching id trivially
// matches, since there are no remaining dimensions left to check.
func countRec(ctx context.Context, m *MDD, id NodeID, pos int, pattern Pattern, memo map[NodeID]uint64) (uint64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	if v, ok := memo[id]; ok {
		return v, nil
	}

	n, err := m.GetNode(id)
	if err != nil {
		return 0, err
	}

	var total uint64
	if pos == m.TerminalLayer() {
		total = n.TerminalCount
	} else {
		dim := m.order[pos]
		contribute := func(child NodeID, edgeCount uint64) error {
			childNode, err := m.GetNode(child)
			if err != nil {
				return err
			}
			matched, err := countRec(ctx, m, child, pos+1, pattern, memo)
			if err != nil {
				return err
			}
			if childNode.ReachCount > 0 {
				total += edgeCount * matched / childNode.ReachCount
			}
			return nil
		}
		if label, fixed := patternLabel(m.schema, m.binModels, pattern, dim); fixed {
			if child, ok := n.Edges[label]; ok {
				if err := contribute(child, n.EdgeCounts[label]); err != nil {
					return 0, err
				}
			}
		} else {
			for _, e := range n.SortedEdges() {
				if err := contribute(e.Child, e.Count); err != nil {
					return 0, err
				}
			}
		}
	}

	memo[id] = total
	return total, nil
}

// MatchResult is one fully-resolved label assignment found by Match,
// together with how many input rows produced it.
type MatchResult struct {
	Labels map[string]Label
	Count  uint64
}

// Match enumerates rows consistent with pattern in deterministic
// ascending-label order, stopping once cfg.Limit results have been found
// (0 means unbounded) (§4.6.3).
func Match(ctx context.Context, m *MDD, pattern Pattern, cfg QueryConfig) ([]MatchResult, error) {
	if err := validatePattern(m.schema, pattern); err != nil {
		return nil, err
	}
	var results []MatchResult
	path := make(map[string]Label, m.TerminalLayer())
	err := matchRec(ctx, m, m.Root(), 0, pattern, cfg, path, &results)
	return results, err
}

func matchRec(ctx context.Context, m *MDD, id NodeID, pos int, pattern Pattern, cfg QueryConfig, path map[string]Label, results *[]MatchResult) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if cfg.Limit > 0 && len(*results) >= cfg.Limit {
		return nil
	}

	n, err := m.GetNode(id)
	if err != nil {
		return err
	}

	// Only reached for a zero-dimension schema (TerminalLayer == 0), where
	// id is the root and also the terminal: there is exactly one path, so
	// its own TerminalCount is exact. Every other emission happens one
	// layer up, from the edge leading into the terminal, since a shared
	// terminal's TerminalCount aggregates rows arriving via other, unrelated
	// paths too.
	if pos == m.TerminalLayer() {
		if n.TerminalCount > 0 {
			cp := make(map[string]Label, len(path))
			for k, v := range path {
				cp[k] = v
			}
			*results = append(*results, MatchResult{Labels: cp, Count: n.TerminalCount})
		}
		return nil
	}

	dim := m.order[pos]
	emit := func(label Label, child NodeID, edgeCount uint64) error {
		path[dim] = label
		defer delete(path, dim)
		if pos+1 == m.TerminalLayer() {
			if edgeCount == 0 {
				return nil
			}
			cp := make(map[string]Label, len(path))
			for k, v := range path {
				cp[k] = v
			}
			*results = append(*results, MatchResult{Labels: cp, Count: edgeCount})
			return nil
		}
		return matchRec(ctx, m, child, pos+1, pattern, cfg, path, results)
	}

	if label, fixed := patternLabel(m.schema, m.binModels, pattern, dim); fixed {
		child, ok := n.Edges[label]
		if !ok {
			return nil
		}
		return emit(label, child, n.EdgeCounts[label])
	}

	for _, e := range n.SortedEdges() {
		if cfg.Limit > 0 && len(*results) >= cfg.Limit {
			return nil
		}
		if err := emit(e.Label, e.Child, e.Count); err != nil {
			return err
		}
	}
	return nil
}
