package mdd

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// DimType declares the semantic type of a Dimension.
type DimType int

const (
	// Categorical dimensions have no declared order among their values.
	Categorical DimType = iota
	// Ordinal dimensions carry a rank map from value to integer rank.
	Ordinal
	// Numeric dimensions are quantized into interval labels before
	// compilation via a BinModel.
	Numeric
	// Mixed dimensions may carry both string and numeric values; numeric
	// values are still bin-applied, strings pass through unchanged.
	Mixed
)

// DefaultMissingToken is used as a Dimension's MissingToken when the caller
// does not supply one.
const DefaultMissingToken = "__MISSING__"

// BinStrategy selects how a BinModel's cut points are derived from training
// data.
type BinStrategy int

const (
	// BinQuantile derives cut points from empirical quantiles of
	// non-missing training values.
	BinQuantile BinStrategy = iota
	// BinFixedWidth derives cut points from equal-width intervals over
	// [min, max] of non-missing training values.
	BinFixedWidth
	// BinExplicit uses caller-supplied cut points directly, skipping
	// fitting.
	BinExplicit
)

// BinConfig configures numeric binning for a Dimension.
type BinConfig struct {
	// Strategy selects quantile, fixed-width, or explicit cut points.
	Strategy BinStrategy
	// K is the target bin count for Quantile/FixedWidth strategies. Must
	// be >= 1.
	K int
	// CutPoints supplies explicit cut points when Strategy is BinExplicit.
	CutPoints []float64
}

// Dimension is a named column with a declared type, an optional ordinal
// rank map, an optional numeric bin configuration, and a distinguished
// missing token.
type Dimension struct {
	Name         string
	Type         DimType
	RankMap      map[string]int
	Bins         *BinConfig
	MissingToken string
}

func (d Dimension) missingToken() string {
	if d.MissingToken == "" {
		return DefaultMissingToken
	}
	return d.MissingToken
}

// Schema is an ordered sequence of dimensions declared by the caller. The
// schema defines dimension names and types but not the compilation order,
// which is chosen by the Ordering Engine and recorded on the MDD.
type Schema []Dimension

// Names returns the dimension names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, d := range s {
		names[i] = d.Name
	}
	return names
}

// ByName returns the Dimension with the given name and true, or the zero
// Dimension and false if no such dimension is declared.
func (s Schema) ByName(name string) (Dimension, bool) {
	for _, d := range s {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// validatePermutation checks that order is exactly a permutation of the
// schema's dimension names.
func (s Schema) validatePermutation(order []string) error {
	if len(order) != len(s) {
		return fmt.Errorf("%w: order has %d names, schema has %d", ErrOrdering, len(order), len(s))
	}
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if _, ok := s.ByName(name); !ok {
			return fmt.Errorf("%w: order references unknown dimension %q", ErrOrdering, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: order repeats dimension %q", ErrOrdering, name)
		}
		seen[name] = true
	}
	return nil
}

// BinModel is a sorted array of cut points derived from training data for
// one numeric dimension. A value maps to the unique interval whose range
// contains it; missing values map to the missing token.
type BinModel struct {
	cuts         []float64
	missingToken string
	degenerate   bool
}

// FitBinner computes a BinModel from training values according to cfg.
// Edges are unique and sorted; when the quantile strategy yields
// duplicates under heavy ties, duplicates are collapsed and the effective
// bin count may be less than cfg.K. A column with no non-missing values
// produces a degenerate model mapping every value to the missing token.
func FitBinner(values []float64, present []bool, cfg BinConfig, missingToken string) (*BinModel, error) {
	if cfg.Strategy != BinExplicit && cfg.K < 1 {
		return nil, fmt.Errorf("%w: bin count k must be >= 1, got %d", ErrSchema, cfg.K)
	}

	if cfg.Strategy == BinExplicit {
		cuts := append([]float64(nil), cfg.CutPoints...)
		sort.Float64s(cuts)
		cuts = dedupeSorted(cuts)
		return &BinModel{cuts: cuts, missingToken: missingToken}, nil
	}

	var nonMissing []float64
	for i, v := range values {
		if present == nil || present[i] {
			nonMissing = append(nonMissing, v)
		}
	}

	if len(nonMissing) == 0 {
		return &BinModel{missingToken: missingToken, degenerate: true}, nil
	}

	sorted := append([]float64(nil), nonMissing...)
	sort.Float64s(sorted)

	var cuts []float64
	switch cfg.Strategy {
	case BinQuantile:
		cuts = quantileCuts(sorted, cfg.K)
	case BinFixedWidth:
		cuts = fixedWidthCuts(sorted, cfg.K)
	default:
		return nil, fmt.Errorf("%w: unknown bin strategy %v", ErrSchema, cfg.Strategy)
	}

	cuts = dedupeSorted(cuts)
	return &BinModel{cuts: cuts, missingToken: missingToken}, nil
}

// quantileCuts returns the K-1 internal cut points at the empirical
// quantiles of sorted (already sorted ascending, non-empty).
func quantileCuts(sorted []float64, k int) []float64 {
	if k <= 1 {
		return nil
	}
	cuts := make([]float64, 0, k-1)
	n := len(sorted)
	for i := 1; i < k; i++ {
		// Ties are broken by stable sort already applied; index is
		// deterministic given n and k.
		idx := (n * i) / k
		if idx >= n {
			idx = n - 1
		}
		cuts = append(cuts, sorted[idx])
	}
	return cuts
}

// fixedWidthCuts returns the K-1 internal cut points of equal-width
// intervals spanning [min, max] of sorted (already sorted ascending,
// non-empty).
func fixedWidthCuts(sorted []float64, k int) []float64 {
	if k <= 1 {
		return nil
	}
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if hi == lo {
		return nil
	}
	width := (hi - lo) / float64(k)
	cuts := make([]float64, 0, k-1)
	for i := 1; i < k; i++ {
		cuts = append(cuts, lo+width*float64(i))
	}
	return cuts
}

func dedupeSorted(cuts []float64) []float64 {
	if len(cuts) == 0 {
		return cuts
	}
	out := cuts[:1]
	for _, c := range cuts[1:] {
		if c != out[len(out)-1] {
			out = append(out, c)
		}
	}
	return out
}

// Apply maps v to its interval-string label, or the missing token if v is
// absent. Interval strings have the form "[lo,hi)", with the last bin
// inclusive on both ends: "[lo,hi]".
func (m *BinModel) Apply(v Value) string {
	if m.degenerate || v.IsMissing() {
		return m.missingToken
	}
	f, ok := v.AsFloat()
	if !ok {
		return m.missingToken
	}
	return m.label(f)
}

// ApplyFloat maps a raw float64 (never missing) to its interval label.
func (m *BinModel) ApplyFloat(f float64) string {
	if m.degenerate {
		return m.missingToken
	}
	return m.label(f)
}

// label finds the unique bin containing f: the half-open interval
// [cuts[i-1], cuts[i]), with the final bin closed on both ends.
func (m *BinModel) label(f float64) string {
	n := len(m.cuts)
	bin := sort.Search(n, func(j int) bool { return f < m.cuts[j] })

	lo := math.Inf(-1)
	if bin > 0 {
		lo = m.cuts[bin-1]
	}
	hi := math.Inf(1)
	if bin < n {
		hi = m.cuts[bin]
	}

	if bin == n {
		return fmt.Sprintf("[%s,%s]", fmtCut(lo), fmtCut(hi))
	}
	return fmt.Sprintf("[%s,%s)", fmtCut(lo), fmtCut(hi))
}

func fmtCut(f float64) string {
	if math.IsInf(f, 1) {
		return "+Inf"
	}
	if math.IsInf(f, -1) {
		return "-Inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
