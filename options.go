package mdd

import (
	"runtime"
	"time"
)

// OrderingStrategy selects how the Ordering Engine chooses a dimension
// permutation before compilation.
type OrderingStrategy int

const (
	// OrderFixed uses the caller-supplied order unchanged.
	OrderFixed OrderingStrategy = iota
	// OrderHeuristic sorts dimensions by entropy plus a cardinality tiebreak.
	OrderHeuristic
	// OrderSearch runs randomized local search starting from the heuristic order.
	OrderSearch
)

// CompileMethod selects between the two compilation strategies.
type CompileMethod int

const (
	// MethodTrie builds the full prefix trie, then reduces it bottom-up.
	MethodTrie CompileMethod = iota
	// MethodSlice builds a reduced MDD incrementally, row by row.
	MethodSlice
)

// Objective selects the cost function the search ordering strategy
// minimizes when proposing adjacent-swap moves.
type Objective int

const (
	// ObjectivePrefixDistinctSum sums, over every prefix of the candidate
	// order, the number of distinct rows projected onto that prefix. Cheap
	// to evaluate and correlates with trie size.
	ObjectivePrefixDistinctSum Objective = iota
	// ObjectiveNodes performs a full compile per candidate and scores by
	// resulting node count.
	ObjectiveNodes
	// ObjectiveArcs performs a full compile per candidate and scores by
	// resulting arc count.
	ObjectiveArcs
	// ObjectiveNodesPlusArcs performs a full compile per candidate and
	// scores by the sum of node and arc counts.
	ObjectiveNodesPlusArcs
)

// OrderingConfig bounds the Ordering Engine's search strategy and selects
// its objective. All fields are exported so a caller can inspect the
// configuration actually used (mirroring the config inspection contract of
// the original ZDD Config).
type OrderingConfig struct {
	// TimeBudget bounds wall-clock time spent searching. Zero means no
	// time bound; MaxEvals or the caller's context must then bound it.
	TimeBudget time.Duration

	// MaxEvals bounds the number of candidate orders evaluated. Zero means
	// no bound beyond TimeBudget/context.
	MaxEvals int

	// BeamWidth bounds how many candidates are proposed and evaluated per
	// search round, whatever the objective. For objectives that require a
	// full compile per candidate (Nodes, Arcs, NodesPlusArcs) it guards
	// against O(evals * compile) blowup.
	BeamWidth int

	// Objective selects the cost function minimized during search.
	Objective Objective

	// Seed seeds the randomized adjacent-swap proposal generator. Two
	// searches with the same seed and input produce the same order.
	Seed int64
}

// OrderingOption configures an OrderingConfig using the functional options
// pattern.
type OrderingOption func(*OrderingConfig)

// WithTimeBudget bounds the ordering search's wall-clock time.
func WithTimeBudget(d time.Duration) OrderingOption {
	return func(c *OrderingConfig) { c.TimeBudget = d }
}

// WithMaxEvals bounds the number of candidate orders the search evaluates.
func WithMaxEvals(n int) OrderingOption {
	return func(c *OrderingConfig) { c.MaxEvals = n }
}

// WithBeamWidth bounds per-round candidate evaluation for compile-based
// objectives.
//
// If width <= 0, defaults to 1 (evaluate candidates one at a time). Wider
// beams explore more candidates per round at proportionally higher compile
// cost.
func WithBeamWidth(width int) OrderingOption {
	return func(c *OrderingConfig) {
		if width <= 0 {
			c.BeamWidth = 1
		} else {
			c.BeamWidth = width
		}
	}
}

// WithObjective selects the search's cost function.
func WithObjective(o Objective) OrderingOption {
	return func(c *OrderingConfig) { c.Objective = o }
}

// WithSeed seeds the randomized proposal generator for reproducible search.
func WithSeed(seed int64) OrderingOption {
	return func(c *OrderingConfig) { c.Seed = seed }
}

// DefaultOrderingConfig returns an OrderingConfig with sensible defaults and
// applies the provided options in order.
//
// Default values:
//   - TimeBudget: 0 (no time bound)
//   - MaxEvals: 200
//   - BeamWidth: 4
//   - Objective: ObjectivePrefixDistinctSum
//   - Seed: 1
func DefaultOrderingConfig(opts ...OrderingOption) OrderingConfig {
	cfg := OrderingConfig{
		TimeBudget: 0,
		MaxEvals:   200,
		BeamWidth:  4,
		Objective:  ObjectivePrefixDistinctSum,
		Seed:       1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// BuildConfig holds MDD construction configuration. All fields are exported
// to allow inspection after construction, the same inspection contract the
// original ZDD Config offered.
type BuildConfig struct {
	// Ordering selects the dimension-ordering strategy.
	Ordering OrderingStrategy

	// FixedOrder is the caller-supplied permutation used when Ordering is
	// OrderFixed. Ignored otherwise.
	FixedOrder []string

	// Method selects between trie-then-reduce and incremental slice
	// compilation.
	Method CompileMethod

	// EnableReduction toggles bottom-up canonical reduction. Only
	// meaningful when Method is MethodTrie; MethodSlice always produces a
	// reduced diagram. Default true.
	EnableReduction bool

	// LaplaceAlpha is the smoothing parameter used by Complete's
	// conditional-probability scoring. Default 0.1.
	LaplaceAlpha float64

	// DefaultNumericBins is the bin configuration applied to numeric
	// dimensions that do not declare their own.
	DefaultNumericBins BinConfig

	// Ordering bounds and objective for OrderSearch.
	OrderingConfig OrderingConfig
}

// BuildOption configures a BuildConfig using the functional options pattern.
// Options are applied in the order provided to DefaultBuildConfig.
type BuildOption func(*BuildConfig)

// WithOrdering selects the dimension-ordering strategy.
func WithOrdering(s OrderingStrategy) BuildOption {
	return func(c *BuildConfig) { c.Ordering = s }
}

// WithFixedOrder supplies the permutation used when ordering is OrderFixed.
func WithFixedOrder(order []string) BuildOption {
	return func(c *BuildConfig) {
		c.FixedOrder = append([]string(nil), order...)
	}
}

// WithMethod selects the compilation method.
func WithMethod(m CompileMethod) BuildOption {
	return func(c *BuildConfig) { c.Method = m }
}

// WithReduction toggles trie reduction. Disabling is useful only for
// debugging/inspection; the resulting MDD is still a valid data structure
// but the canonical-reduction invariant is relaxed.
func WithReduction(enable bool) BuildOption {
	return func(c *BuildConfig) { c.EnableReduction = enable }
}

// WithLaplaceAlpha sets the Laplace smoothing parameter used by Complete.
//
// If alpha < 0, it is clamped to 0 (maximum-likelihood, no smoothing).
func WithLaplaceAlpha(alpha float64) BuildOption {
	return func(c *BuildConfig) {
		if alpha < 0 {
			alpha = 0
		}
		c.LaplaceAlpha = alpha
	}
}

// WithDefaultNumericBins sets the bin configuration applied to numeric
// dimensions that do not declare their own.
func WithDefaultNumericBins(cfg BinConfig) BuildOption {
	return func(c *BuildConfig) { c.DefaultNumericBins = cfg }
}

// WithOrderingConfig sets the bounds and objective used when Ordering is
// OrderSearch.
func WithOrderingConfig(cfg OrderingConfig) BuildOption {
	return func(c *BuildConfig) { c.OrderingConfig = cfg }
}

// DefaultBuildConfig returns a BuildConfig with sensible defaults and
// applies the provided options in order.
//
// Default values:
//   - Ordering: OrderHeuristic
//   - Method: MethodTrie
//   - EnableReduction: true
//   - LaplaceAlpha: 0.1
//   - DefaultNumericBins: quantile strategy, k=4
//   - OrderingConfig: DefaultOrderingConfig()
func DefaultBuildConfig(opts ...BuildOption) BuildConfig {
	cfg := BuildConfig{
		Ordering:        OrderHeuristic,
		Method:          MethodTrie,
		EnableReduction: true,
		LaplaceAlpha:    0.1,
		DefaultNumericBins: BinConfig{
			Strategy: BinQuantile,
			K:        4,
		},
		OrderingConfig: DefaultOrderingConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// QueryConfig bounds query-time search. All fields are exported for
// inspection.
type QueryConfig struct {
	// Beam bounds the number of partial candidates retained at each layer
	// during Complete's beam search. Default 25.
	Beam int

	// Limit bounds the number of paths Match enumerates. Default
	// unbounded (0 means no limit).
	Limit int
}

// QueryOption configures a QueryConfig using the functional options
// pattern.
type QueryOption func(*QueryConfig)

// WithBeam sets the beam width used by Complete.
//
// If beam <= 0, defaults to 25, matching the original library's
// "non-positive means pick a sensible default" convention.
func WithBeam(beam int) QueryOption {
	return func(c *QueryConfig) {
		if beam <= 0 {
			c.Beam = 25
		} else {
			c.Beam = beam
		}
	}
}

// WithLimit sets the maximum number of paths Match enumerates. A limit
// <= 0 means unbounded.
func WithLimit(limit int) QueryOption {
	return func(c *QueryConfig) { c.Limit = limit }
}

// DefaultQueryConfig returns a QueryConfig with sensible defaults and
// applies the provided options in order.
//
// Default values:
//   - Beam: 25
//   - Limit: 0 (unbounded)
func DefaultQueryConfig(opts ...QueryOption) QueryConfig {
	cfg := QueryConfig{
		Beam:  25,
		Limit: 0,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// parallelism returns the worker count to fan construction-time work out
// across, mirroring the original library's WithParallel(0) => NumCPU()
// convention without requiring every caller to configure it explicitly.
func parallelism() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		return 1
	}
	return n
}
