package mdd

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// OrderingResult is the permutation plus diagnostics every Ordering Engine
// strategy returns (§4.3: "each returning a permutation plus diagnostics").
type OrderingResult struct {
	Order     []string
	Objective float64
	EvalsRun  int
	Elapsed   time.Duration
	Strategy  string
}

// chooseOrder dispatches to the configured Ordering Engine strategy.
func chooseOrder(ctx context.Context, schema Schema, rows []Row, cfg BuildConfig) (OrderingResult, error) {
	switch cfg.Ordering {
	case OrderFixed:
		return orderFixed(schema, cfg.FixedOrder)
	case OrderHeuristic:
		return orderHeuristic(schema, rows, cfg.DefaultNumericBins)
	case OrderSearch:
		return orderSearch(ctx, schema, rows, cfg)
	default:
		return OrderingResult{}, fmt.Errorf("%w: unknown ordering strategy %v", ErrOrdering, cfg.Ordering)
	}
}

// orderFixed returns the caller-supplied order unchanged after verifying it
// is a permutation of the schema's dimension names.
func orderFixed(schema Schema, order []string) (OrderingResult, error) {
	if len(order) == 0 {
		return OrderingResult{}, fmt.Errorf("%w: fixed order is empty", ErrOrdering)
	}
	if err := schema.validatePermutation(order); err != nil {
		return OrderingResult{}, err
	}
	return OrderingResult{Order: append([]string(nil), order...), Strategy: "fixed"}, nil
}

// dimStats holds each dimension's per-row labels, from which the heuristic
// strategy computes entropy and cardinality and search evaluates
// prefix-distinct-sum.
type dimStats struct {
	labels map[string][]Label // dimension name -> per-row label (order-independent)
}

func collectDimLabels(schema Schema, rows []Row, binCfg BinConfig) (*dimStats, map[string]*BinModel, error) {
	binModels, err := fitBinModels(schema, rows, binCfg)
	if err != nil {
		return nil, nil, err
	}
	ds := &dimStats{labels: make(map[string][]Label, len(schema))}
	for _, dim := range schema {
		labels := make([]Label, len(rows))
		for i, row := range rows {
			v, ok := row[dim.Name]
			if !ok {
				v = Missing()
			}
			labels[i] = labelFor(dim, binModels[dim.Name], v)
		}
		ds.labels[dim.Name] = labels
	}
	return ds, binModels, nil
}

// entropy computes the empirical Shannon entropy (base 2) of a dimension's
// labeled values.
func entropy(labels []Label) float64 {
	if len(labels) == 0 {
		return 0
	}
	counts := make(map[Label]int, len(labels))
	for _, l := range labels {
		counts[l]++
	}
	n := float64(len(labels))
	h := 0.0
	for _, c := range counts {
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// cardinality returns the number of distinct labels in labels.
func cardinality(labels []Label) int {
	seen := make(map[Label]struct{}, len(labels))
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}

// orderHeuristic sorts dimensions ascending by H(d) + 0.05*C(d): low
// entropy, low cardinality dimensions come first, promoting prefix
// merging while tiebreaking against high-branching early layers.
func orderHeuristic(schema Schema, rows []Row, binCfg BinConfig) (OrderingResult, error) {
	ds, _, err := collectDimLabels(schema, rows, binCfg)
	if err != nil {
		return OrderingResult{}, err
	}

	type scored struct {
		name  string
		score float64
	}
	scores := make([]scored, len(schema))
	for i, dim := range schema {
		labels := ds.labels[dim.Name]
		scores[i] = scored{
			name:  dim.Name,
			score: entropy(labels) + 0.05*float64(cardinality(labels)),
		}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score < scores[j].score })

	order := make([]string, len(scores))
	var obj float64
	for i, s := range scores {
		order[i] = s.name
		obj += s.score
	}
	return OrderingResult{Order: order, Objective: obj, Strategy: "heuristic"}, nil
}

// orderSearch runs randomized adjacent-swap local search starting from the
// heuristic order, bounded by cfg.OrderingConfig.
func orderSearch(ctx context.Context, schema Schema, rows []Row, cfg BuildConfig) (OrderingResult, error) {
	oc := cfg.OrderingConfig
	if oc.BeamWidth <= 0 {
		oc.BeamWidth = 1
	}

	ds, binModels, err := collectDimLabels(schema, rows, cfg.DefaultNumericBins)
	if err != nil {
		return OrderingResult{}, err
	}

	heuristicResult, err := orderHeuristic(schema, rows, cfg.DefaultNumericBins)
	if err != nil {
		return OrderingResult{}, err
	}

	// Search with zero budget returns the heuristic order (§4.3 Failure).
	if oc.TimeBudget <= 0 && oc.MaxEvals <= 0 {
		heuristicResult.Strategy = "search"
		return heuristicResult, nil
	}

	scorer := objectiveScorer(oc.Objective, schema, rows, binModels, ds)

	current := heuristicResult.Order
	currentObj, err := scorer(ctx, current)
	if err != nil {
		return OrderingResult{}, err
	}

	start := time.Now()
	rng := rand.New(rand.NewSource(oc.Seed))
	evalsRun := 0
	D := len(current)

	deadline := func() bool {
		if oc.TimeBudget > 0 && time.Since(start) >= oc.TimeBudget {
			return true
		}
		if oc.MaxEvals > 0 && evalsRun >= oc.MaxEvals {
			return true
		}
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}

	for D > 1 && !deadline() {
		// Propose BeamWidth independent adjacent-swap candidates and
		// evaluate them concurrently (§5: "multiple search evaluations in
		// the ordering engine" may be parallelized internally).
		candidates := make([][]string, 0, oc.BeamWidth)
		for i := 0; i < oc.BeamWidth; i++ {
			if oc.MaxEvals > 0 && evalsRun+len(candidates) >= oc.MaxEvals {
				break
			}
			swapAt := rng.Intn(D - 1)
			cand := append([]string(nil), current...)
			cand[swapAt], cand[swapAt+1] = cand[swapAt+1], cand[swapAt]
			candidates = append(candidates, cand)
		}
		if len(candidates) == 0 {
			break
		}

		objs := make([]float64, len(candidates))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism())
		for i, cand := range candidates {
			i, cand := i, cand
			g.Go(func() error {
				obj, err := scorer(gctx, cand)
				if err != nil {
					// An evaluation that throws is scored as infinite so a
					// noisy candidate cannot crash the search (§7).
					obj = math.Inf(1)
				}
				objs[i] = obj
				return nil
			})
		}
		_ = g.Wait()
		evalsRun += len(candidates)

		bestIdx := -1
		for i, obj := range objs {
			if obj < currentObj && (bestIdx == -1 || obj < objs[bestIdx]) {
				bestIdx = i
			}
		}
		if bestIdx >= 0 {
			current = candidates[bestIdx]
			currentObj = objs[bestIdx]
		}
	}

	return OrderingResult{
		Order:     current,
		Objective: currentObj,
		EvalsRun:  evalsRun,
		Elapsed:   time.Since(start),
		Strategy:  "search",
	}, nil
}

// objectiveScorer returns a function scoring a candidate order under the
// configured objective. prefix_distinct_sum is cheap (no recompilation);
// nodes/arcs/nodes_plus_arcs perform a full trie compile per candidate.
func objectiveScorer(obj Objective, schema Schema, rows []Row, binModels map[string]*BinModel, ds *dimStats) func(context.Context, []string) (float64, error) {
	switch obj {
	case ObjectivePrefixDistinctSum:
		return func(_ context.Context, order []string) (float64, error) {
			return prefixDistinctSum(order, rows, ds), nil
		}
	default:
		return func(ctx context.Context, order []string) (float64, error) {
			nt, root, _, err := compileTrie(ctx, schema, order, binModels, rows, true)
			if err != nil {
				return 0, err
			}
			nt.SetRoot(root)
			switch obj {
			case ObjectiveNodes:
				return float64(nt.NodeCount()), nil
			case ObjectiveArcs:
				return float64(nt.ArcCount()), nil
			case ObjectiveNodesPlusArcs:
				return float64(nt.NodeCount() + nt.ArcCount()), nil
			default:
				return 0, fmt.Errorf("%w: unknown objective %v", ErrOrdering, obj)
			}
		}
	}
}

// prefixDistinctSum computes Sum over prefixes P of order of
// |distinct(rows projected on P)|.
func prefixDistinctSum(order []string, rows []Row, ds *dimStats) float64 {
	if len(rows) == 0 {
		return 0
	}
	keys := make([]string, len(rows))
	total := 0.0
	for _, dim := range order {
		labels := ds.labels[dim]
		for i := range rows {
			keys[i] += string(labels[i]) + "\x1f"
		}
		seen := make(map[string]struct{}, len(rows))
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		total += float64(len(seen))
	}
	return total
}
