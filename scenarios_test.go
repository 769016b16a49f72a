package mdd_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/zzenonn/mdd"
)

// ScenarioSuite exercises spec §8's numbered end-to-end scenarios and its
// universal properties, using the teacher's suite-based table-driven style.
type ScenarioSuite struct {
	suite.Suite
}

// TestBasicBuildAndExists is scenario 1.
func (s *ScenarioSuite) TestBasicBuildAndExists() {
	schema := mdd.Schema{
		{Name: "region", Type: mdd.Categorical},
		{Name: "priority", Type: mdd.Ordinal, RankMap: map[string]int{"1": 1, "2": 2}},
	}
	rows := []mdd.Row{
		{"region": mdd.String("EU"), "priority": mdd.Int(1)},
		{"region": mdd.String("EU"), "priority": mdd.Int(2)},
		{"region": mdd.String("US"), "priority": mdd.Int(1)},
	}
	cfg := mdd.DefaultBuildConfig(
		mdd.WithOrdering(mdd.OrderFixed),
		mdd.WithFixedOrder([]string{"region", "priority"}),
	)
	m, err := mdd.NewBuilder(schema, cfg).Fit(context.Background(), rows)
	require.NoError(s.T(), err)

	// root, EU-node, US-node, and one shared terminal: EU's node has two
	// distinct-label arcs (priority 1 and 2), US's has one, and root has
	// two (region EU and US), for 5 arcs total.
	stats := m.Stats()
	require.Equal(s.T(), 2, stats.Layers)
	require.Equal(s.T(), 4, stats.Nodes)
	require.Equal(s.T(), 5, stats.Arcs)

	ctx := context.Background()
	total, err := mdd.Count(ctx, m, mdd.Pattern{})
	require.NoError(s.T(), err)
	require.Equal(s.T(), uint64(3), total)

	euCount, err := mdd.Count(ctx, m, mdd.Pattern{"region": mdd.String("EU")})
	require.NoError(s.T(), err)
	require.Equal(s.T(), uint64(2), euCount)

	hit, err := mdd.Exists(ctx, m, mdd.Pattern{"region": mdd.String("EU"), "priority": mdd.Int(1)})
	require.NoError(s.T(), err)
	require.True(s.T(), hit)

	miss, err := mdd.Exists(ctx, m, mdd.Pattern{"region": mdd.String("EU"), "priority": mdd.Int(3)})
	require.NoError(s.T(), err)
	require.False(s.T(), miss)
}

// TestReductionMergesDuplicateSubtrees is scenario 2.
func (s *ScenarioSuite) TestReductionMergesDuplicateSubtrees() {
	schema := mdd.Schema{
		{Name: "a", Type: mdd.Categorical},
		{Name: "b", Type: mdd.Categorical},
		{Name: "c", Type: mdd.Categorical},
	}
	rows := []mdd.Row{
		{"a": mdd.Int(0), "b": mdd.Int(0), "c": mdd.Int(0)},
		{"a": mdd.Int(0), "b": mdd.Int(0), "c": mdd.Int(1)},
		{"a": mdd.Int(1), "b": mdd.Int(0), "c": mdd.Int(0)},
		{"a": mdd.Int(1), "b": mdd.Int(0), "c": mdd.Int(1)},
	}
	cfg := mdd.DefaultBuildConfig(
		mdd.WithOrdering(mdd.OrderFixed),
		mdd.WithFixedOrder([]string{"a", "b", "c"}),
	)
	m, err := mdd.NewBuilder(schema, cfg).Fit(context.Background(), rows)
	require.NoError(s.T(), err)

	// Both a-branches lead to an identical b/c residual (a single b=0 child
	// whose c0/c1 terminals both carry terminal_count 1), so confluent
	// bottom-up reduction collapses the whole diagram to root, one merged
	// a-node, one merged b-node, and one shared terminal: 4 nodes, 5 arcs
	// (root's two a-labeled arcs, the a-node's one b-labeled arc, the
	// b-node's two c-labeled arcs).
	stats := m.Stats()
	require.Equal(s.T(), 4, stats.Nodes)
	require.Equal(s.T(), 5, stats.Arcs)
}

// TestCompleteWithLaplaceSmoothing is scenario 3.
func (s *ScenarioSuite) TestCompleteWithLaplaceSmoothing() {
	schema := mdd.Schema{
		{Name: "region", Type: mdd.Categorical},
		{Name: "product", Type: mdd.Categorical},
	}
	rows := []mdd.Row{
		{"region": mdd.String("EU"), "product": mdd.String("A")},
		{"region": mdd.String("EU"), "product": mdd.String("A")},
		{"region": mdd.String("EU"), "product": mdd.String("B")},
		{"region": mdd.String("US"), "product": mdd.String("A")},
	}
	cfg := mdd.DefaultBuildConfig(
		mdd.WithOrdering(mdd.OrderFixed),
		mdd.WithFixedOrder([]string{"region", "product"}),
		mdd.WithLaplaceAlpha(0.1),
	)
	m, err := mdd.NewBuilder(schema, cfg).Fit(context.Background(), rows)
	require.NoError(s.T(), err)

	results, err := mdd.Complete(context.Background(), m, mdd.Pattern{"region": mdd.String("EU")}, 2, mdd.DefaultQueryConfig())
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 2)

	// Score accumulates log-probability across every layer, including the
	// already-fixed region step: log((3+0.1)/(4+0.2)) for region=EU, plus
	// log((2+0.1)/(3+0.2)) for product=A at the EU node (reach 3, 2 edges).
	require.Equal(s.T(), mdd.Label("A"), results[0].Labels["product"])
	wantRegion := math.Log((3 + 0.1) / (4 + 0.2))
	wantTop := wantRegion + math.Log((2+0.1)/(3+0.2))
	require.InDelta(s.T(), wantTop, results[0].Score, 1e-9)

	require.Equal(s.T(), mdd.Label("B"), results[1].Labels["product"])
}

// TestNearestWithCustomDistance is scenario 4.
func (s *ScenarioSuite) TestNearestWithCustomDistance() {
	schema := mdd.Schema{
		{Name: "priority", Type: mdd.Numeric, Bins: &mdd.BinConfig{Strategy: mdd.BinExplicit, CutPoints: []float64{1.5, 2.5, 4}}},
	}
	rows := []mdd.Row{
		{"priority": mdd.Int(1)},
		{"priority": mdd.Int(2)},
		{"priority": mdd.Int(3)},
		{"priority": mdd.Int(5)},
	}
	cfg := mdd.DefaultBuildConfig(
		mdd.WithOrdering(mdd.OrderFixed),
		mdd.WithFixedOrder([]string{"priority"}),
	)
	m, err := mdd.NewBuilder(schema, cfg).Fit(context.Background(), rows)
	require.NoError(s.T(), err)

	distFns := map[string]mdd.DistanceFunc{
		"priority": func(want, have mdd.Value) float64 {
			wf, _ := want.AsFloat()
			hf, _ := have.AsFloat()
			return math.Abs(wf - hf)
		},
	}
	// Cut points [1.5,2.5,4] bin the rows into [-Inf,1.5), [1.5,2.5),
	// [2.5,4), [4,+Inf], decoding (since the half-bounded outer bins fall
	// back to their finite edge) to 1.5, 2.0, 3.25, and 4.0. Against a
	// target of 4, the two closest are priority=5 (distance 0) and
	// priority=3 (distance 0.75).
	// Score is the negated distance (higher is better, matching Complete's
	// convention), so the closest result (distance 0) scores 0.0 and the
	// next-closest (distance 0.75) scores -0.75.
	results, err := mdd.Nearest(context.Background(), m, mdd.Pattern{"priority": mdd.Float(4)}, distFns, nil, 2)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 2)
	require.InDelta(s.T(), 0.0, results[0].Score, 1e-9)
	require.InDelta(s.T(), -0.75, results[1].Score, 1e-9)
	require.InDelta(s.T(), 0.0, results[0].Details["distance"], 1e-9)
	require.InDelta(s.T(), 0.75, results[1].Details["distance"], 1e-9)
}

// TestSliceEquivalence is scenario 5, re-run against scenario 1's input.
func (s *ScenarioSuite) TestSliceEquivalence() {
	schema := mdd.Schema{
		{Name: "region", Type: mdd.Categorical},
		{Name: "priority", Type: mdd.Ordinal, RankMap: map[string]int{"1": 1, "2": 2}},
	}
	rows := []mdd.Row{
		{"region": mdd.String("EU"), "priority": mdd.Int(1)},
		{"region": mdd.String("EU"), "priority": mdd.Int(2)},
		{"region": mdd.String("US"), "priority": mdd.Int(1)},
	}
	fixedOrder := mdd.WithFixedOrder([]string{"region", "priority"})

	trieCfg := mdd.DefaultBuildConfig(mdd.WithOrdering(mdd.OrderFixed), fixedOrder, mdd.WithMethod(mdd.MethodTrie))
	sliceCfg := mdd.DefaultBuildConfig(mdd.WithOrdering(mdd.OrderFixed), fixedOrder, mdd.WithMethod(mdd.MethodSlice))

	trieMDD, err := mdd.NewBuilder(schema, trieCfg).Fit(context.Background(), rows)
	require.NoError(s.T(), err)
	sliceMDD, err := mdd.NewBuilder(schema, sliceCfg).Fit(context.Background(), rows)
	require.NoError(s.T(), err)

	require.Equal(s.T(), trieMDD.Stats().Nodes, sliceMDD.Stats().Nodes)
	require.Equal(s.T(), trieMDD.Stats().Arcs, sliceMDD.Stats().Arcs)
}

// TestNumericBinningRoundTrip is scenario 6.
func (s *ScenarioSuite) TestNumericBinningRoundTrip() {
	schema := mdd.Schema{
		{Name: "qty", Type: mdd.Numeric, Bins: &mdd.BinConfig{Strategy: mdd.BinQuantile, K: 2}},
	}
	rows := []mdd.Row{
		{"qty": mdd.Float(1.0)},
		{"qty": mdd.Float(2.0)},
		{"qty": mdd.Float(3.0)},
		{"qty": mdd.Float(4.0)},
	}
	cfg := mdd.DefaultBuildConfig(mdd.WithOrdering(mdd.OrderFixed), mdd.WithFixedOrder([]string{"qty"}))
	m, err := mdd.NewBuilder(schema, cfg).Fit(context.Background(), rows)
	require.NoError(s.T(), err)

	low, err := mdd.Count(context.Background(), m, mdd.Pattern{"qty": mdd.Float(1.5)})
	require.NoError(s.T(), err)
	require.Equal(s.T(), uint64(2), low)

	high, err := mdd.Count(context.Background(), m, mdd.Pattern{"qty": mdd.Float(3.5)})
	require.NoError(s.T(), err)
	require.Equal(s.T(), uint64(2), high)
}

// TestLayeredDAGInvariant checks every arc steps exactly one layer forward
// and no node is reachable from itself, across a non-trivial compiled MDD.
func (s *ScenarioSuite) TestLayeredDAGInvariant() {
	m := s.buildPropertyMDD()
	for layer := 0; layer < m.TerminalLayer(); layer++ {
		for _, id := range m.NodesAtLayer(layer) {
			n, err := m.GetNode(id)
			require.NoError(s.T(), err)
			for _, e := range n.SortedEdges() {
				child, err := m.GetNode(e.Child)
				require.NoError(s.T(), err)
				require.Equal(s.T(), layer+1, child.Layer)
			}
		}
	}
}

// TestCountConservationInvariant checks Σedge_counts(n) = reach_count(n) and
// the root/terminal row-count identities.
func (s *ScenarioSuite) TestCountConservationInvariant() {
	m := s.buildPropertyMDD()
	rowCount := m.Stats().RowCount

	root, err := m.GetNode(m.Root())
	require.NoError(s.T(), err)
	require.Equal(s.T(), rowCount, root.ReachCount)

	var terminalTotal uint64
	for layer := 0; layer <= m.TerminalLayer(); layer++ {
		for _, id := range m.NodesAtLayer(layer) {
			n, err := m.GetNode(id)
			require.NoError(s.T(), err)
			var sum uint64
			for _, c := range n.EdgeCounts {
				sum += c
			}
			require.Equal(s.T(), n.ReachCount, sum+n.TerminalCount)
			if n.IsTerminal() {
				terminalTotal += n.TerminalCount
			}
		}
	}
	require.Equal(s.T(), rowCount, terminalTotal)
}

// TestCanonicityInvariant checks no two distinct nodes at the same layer
// share a structural signature after reduction.
func (s *ScenarioSuite) TestCanonicityInvariant() {
	m := s.buildPropertyMDD()
	for layer := 0; layer <= m.TerminalLayer(); layer++ {
		seen := make(map[string]mdd.NodeID)
		for _, id := range m.NodesAtLayer(layer) {
			n, err := m.GetNode(id)
			require.NoError(s.T(), err)
			sig := nodeSignatureForTest(n)
			if prior, ok := seen[sig]; ok {
				s.T().Fatalf("layer %d: nodes %v and %v share signature %q", layer, prior, id, sig)
			}
			seen[sig] = id
		}
	}
}

// TestPathFidelityInvariant checks every input row exists and that match({})
// enumerates only rows that were actually in the input.
func (s *ScenarioSuite) TestPathFidelityInvariant() {
	m, rows := s.buildPropertyMDDWithRows()
	ctx := context.Background()

	for _, row := range rows {
		pattern := mdd.Pattern{}
		for k, v := range row {
			pattern[k] = v
		}
		ok, err := mdd.Exists(ctx, m, pattern)
		require.NoError(s.T(), err)
		require.True(s.T(), ok)
	}

	inputs := make(map[string]bool, len(rows))
	for _, row := range rows {
		inputs[fmt.Sprintf("%v|%v|%v", row["region"], row["tier"], row["active"])] = true
	}

	results, err := mdd.Match(ctx, m, mdd.Pattern{}, mdd.DefaultQueryConfig())
	require.NoError(s.T(), err)
	var total uint64
	for _, r := range results {
		require.True(s.T(), inputs[fmt.Sprintf("%s|%s|%s", r.Labels["region"], r.Labels["tier"], r.Labels["active"])])
		total += r.Count
	}
	require.Equal(s.T(), uint64(len(rows)), total)
}

// TestProbabilityLawInvariant checks Σ (edge_count+α)/(reach+α|L|) = 1 at
// every non-terminal node.
func (s *ScenarioSuite) TestProbabilityLawInvariant() {
	m := s.buildPropertyMDD()
	alpha := m.Alpha()
	for layer := 0; layer < m.TerminalLayer(); layer++ {
		for _, id := range m.NodesAtLayer(layer) {
			n, err := m.GetNode(id)
			require.NoError(s.T(), err)
			if n.IsTerminal() {
				continue
			}
			denom := float64(n.ReachCount) + alpha*float64(len(n.Edges))
			var sum float64
			for _, c := range n.EdgeCounts {
				sum += (float64(c) + alpha) / denom
			}
			require.InDelta(s.T(), 1.0, sum, 1e-9)
		}
	}
}

// buildPropertyMDD compiles a moderately branching MDD reused by the
// universal-property tests.
func (s *ScenarioSuite) buildPropertyMDD() *mdd.MDD {
	m, _ := s.buildPropertyMDDWithRows()
	return m
}

func (s *ScenarioSuite) buildPropertyMDDWithRows() (*mdd.MDD, []mdd.Row) {
	schema := mdd.Schema{
		{Name: "region", Type: mdd.Categorical},
		{Name: "tier", Type: mdd.Categorical},
		{Name: "active", Type: mdd.Categorical},
	}
	regions := []string{"east", "west", "north"}
	tiers := []string{"gold", "silver"}
	actives := []string{"true", "false"}
	var rows []mdd.Row
	for _, r := range regions {
		for _, t := range tiers {
			for _, a := range actives {
				rows = append(rows, mdd.Row{
					"region": mdd.String(r),
					"tier":   mdd.String(t),
					"active": mdd.String(a),
				})
			}
		}
	}
	cfg := mdd.DefaultBuildConfig(
		mdd.WithOrdering(mdd.OrderFixed),
		mdd.WithFixedOrder([]string{"region", "tier", "active"}),
	)
	m, err := mdd.NewBuilder(schema, cfg).Fit(context.Background(), rows)
	s.Require().NoError(err)
	return m, rows
}

// nodeSignatureForTest mirrors the canonical signature the reducer groups
// on: terminal count plus sorted (label, child) pairs, excluding edge
// counts (spec §4.4 phase 2 step 1).
func nodeSignatureForTest(n mdd.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|", n.TerminalCount)
	for _, e := range n.SortedEdges() {
		fmt.Fprintf(&b, "%s=%d,", e.Label, e.Child)
	}
	return b.String()
}

func TestScenarioSuite(t *testing.T) {
	suite.Run(t, new(ScenarioSuite))
}
