package mdd

import (
	"context"
	"fmt"
)

// Row is an input row: a mapping from dimension name to an opaque value.
// Extra keys not in the schema are ignored; missing keys are treated as
// Missing().
type Row map[string]Value

// Pattern is a partial specification for the query family: a mapping from
// dimension name to a fixed value. Dimensions absent from the pattern are
// wildcards.
type Pattern map[string]Value

// Stats reports aggregate statistics about a compiled MDD, the read-only
// output interface to renderers (§6) and the size/arc semantics §2 names.
type Stats struct {
	Nodes          int
	Arcs           int
	Layers         int
	RowCount       uint64
	ReductionRatio float64 // reduced nodes / trie nodes; 1 if unknown
}

// MDD is a reduced, layered, labeled directed acyclic graph compiled from
// a table of rows. It is read-only from the moment Fit returns; Append is
// the single sanctioned mutation, implemented by re-running the slice
// compiler (§9 open question, resolved as option (b)).
type MDD struct {
	schema      Schema
	order       []string
	nodes       *NodeTable
	binModels   map[string]*BinModel
	alpha       float64
	rowCount    uint64
	trieNodes   int // node count before reduction, for ReductionRatio; 0 if unknown
	sliceCompat bool
}

// Order returns the dimension order chosen for this MDD, a permutation of
// the schema's dimension names.
func (m *MDD) Order() []string {
	return append([]string(nil), m.order...)
}

// Schema returns the schema this MDD was compiled from.
func (m *MDD) Schema() Schema {
	return m.schema
}

// TerminalLayer returns the index of the terminal layer, D in spec
// notation.
func (m *MDD) TerminalLayer() int {
	return len(m.order)
}

// Root returns the MDD's root node ID.
func (m *MDD) Root() NodeID {
	return m.nodes.Root()
}

// GetNode retrieves a node by ID for read-only traversal.
func (m *MDD) GetNode(id NodeID) (Node, error) {
	return m.nodes.GetNode(id)
}

// NodesAtLayer returns the IDs of all nodes at the given layer.
func (m *MDD) NodesAtLayer(layer int) []NodeID {
	return m.nodes.NodesAtLayer(layer)
}

// BinModel returns the fitted bin model for a numeric dimension, or nil if
// the dimension is not numeric/mixed or carries no model.
func (m *MDD) BinModel(dimension string) *BinModel {
	return m.binModels[dimension]
}

// Alpha returns the Laplace smoothing parameter used by Complete.
func (m *MDD) Alpha() float64 {
	return m.alpha
}

// Stats computes the aggregate statistics named in §4.2/§6.
func (m *MDD) Stats() Stats {
	ratio := 1.0
	nodes := m.nodes.NodeCount()
	if m.trieNodes > 0 {
		ratio = float64(nodes) / float64(m.trieNodes)
	}
	return Stats{
		Nodes:          nodes,
		Arcs:           m.nodes.ArcCount(),
		Layers:         m.TerminalLayer(),
		RowCount:       m.rowCount,
		ReductionRatio: ratio,
	}
}

// encodeRow projects row through m's chosen order, applying bin models to
// numeric dimensions, and returns the per-layer label sequence.
func (m *MDD) encodeRow(row Row) ([]Label, error) {
	return encodeRowForOrder(m.schema, m.order, m.binModels, row)
}

// encodeRowForOrder is the shared row-to-label-sequence projection used by
// both compilers and by query-time pattern application.
func encodeRowForOrder(schema Schema, order []string, binModels map[string]*BinModel, row Row) ([]Label, error) {
	labels := make([]Label, len(order))
	for i, name := range order {
		dim, ok := schema.ByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: dimension %q not in schema", ErrSchema, name)
		}
		v, present := row[name]
		if !present {
			v = Missing()
		}
		labels[i] = labelFor(dim, binModels[name], v)
	}
	return labels, nil
}

// labelFor renders v as the arc label for dimension dim, applying dim's
// bin model when numeric/mixed.
func labelFor(dim Dimension, bm *BinModel, v Value) Label {
	switch dim.Type {
	case Numeric:
		if bm != nil {
			return Label(bm.Apply(v))
		}
		return Label(v.Label(dim.missingToken()))
	case Mixed:
		if !v.IsMissing() {
			if _, ok := v.AsFloat(); ok && bm != nil {
				return Label(bm.Apply(v))
			}
		}
		return Label(v.Label(dim.missingToken()))
	default:
		return Label(v.Label(dim.missingToken()))
	}
}

// Builder compiles a Schema and a BuildConfig into an MDD via Fit.
type Builder struct {
	schema Schema
	cfg    BuildConfig
}

// NewBuilder creates a Builder for the given schema and configuration.
func NewBuilder(schema Schema, cfg BuildConfig) *Builder {
	return &Builder{schema: schema, cfg: cfg}
}

// Fit compiles rows into a reduced MDD: it chooses a dimension order, fits
// numeric bin models, then runs the configured compilation method.
func (b *Builder) Fit(ctx context.Context, rows []Row) (*MDD, error) {
	if len(b.schema) == 0 {
		return nil, fmt.Errorf("%w: schema has no dimensions", ErrSchema)
	}

	orderResult, err := chooseOrder(ctx, b.schema, rows, b.cfg)
	if err != nil {
		return nil, err
	}

	binModels, err := fitBinModels(b.schema, rows, b.cfg.DefaultNumericBins)
	if err != nil {
		return nil, err
	}

	m := &MDD{
		schema:    b.schema,
		order:     orderResult.Order,
		binModels: binModels,
		alpha:     b.cfg.LaplaceAlpha,
		rowCount:  uint64(len(rows)),
	}

	switch b.cfg.Method {
	case MethodTrie:
		nt, root, trieNodes, err := compileTrie(ctx, b.schema, orderResult.Order, binModels, rows, b.cfg.EnableReduction)
		if err != nil {
			return nil, err
		}
		m.nodes = nt
		m.nodes.SetRoot(root)
		m.trieNodes = trieNodes
	case MethodSlice:
		nt, root, err := compileSlice(ctx, b.schema, orderResult.Order, binModels, rows)
		if err != nil {
			return nil, err
		}
		m.nodes = nt
		m.nodes.SetRoot(root)
		m.sliceCompat = true
	default:
		return nil, fmt.Errorf("%w: unknown compilation method %v", ErrSchema, b.cfg.Method)
	}

	return m, nil
}

// Append incrementally extends m with additional rows by re-running the
// slice compiler against the existing node table (§9 open question,
// option (b)): this preserves amortized O(R*D) behavior instead of a full
// rebuild. The bin models and dimension order are held fixed; new numeric
// values are binned by the existing models even if that pushes them into
// an existing interval's boundary rather than refitting cut points.
//
// Append only works on an MDD built with MethodSlice: a trie-compiled MDD
// has already been compacted and its node table no longer carries the
// signature index the slice compiler uses to decide when a node may be
// shared versus split.
func (m *MDD) Append(ctx context.Context, rows []Row) error {
	if !m.sliceCompat {
		return fmt.Errorf("%w: append requires an MDD compiled with MethodSlice", ErrCompile)
	}
	if err := appendSlice(ctx, m.schema, m.order, m.binModels, m.nodes, rows); err != nil {
		return err
	}
	m.rowCount += uint64(len(rows))
	return nil
}

// fitBinModels fits a BinModel for every Numeric/Mixed dimension using its
// own BinConfig if declared, else cfg.Default.
func fitBinModels(schema Schema, rows []Row, defaultCfg BinConfig) (map[string]*BinModel, error) {
	models := make(map[string]*BinModel)
	for _, dim := range schema {
		if dim.Type != Numeric && dim.Type != Mixed {
			continue
		}
		binCfg := defaultCfg
		if dim.Bins != nil {
			binCfg = *dim.Bins
		}

		var values []float64
		var present []bool
		for _, row := range rows {
			v, ok := row[dim.Name]
			if !ok || v.IsMissing() {
				values = append(values, 0)
				present = append(present, false)
				continue
			}
			f, isNum := v.AsFloat()
			if !isNum {
				if dim.Type == Mixed {
					values = append(values, 0)
					present = append(present, false)
					continue
				}
				return nil, fmt.Errorf("%w: dimension %q expects numeric values, got %v", ErrSchema, dim.Name, v)
			}
			values = append(values, f)
			present = append(present, true)
		}

		bm, err := FitBinner(values, present, binCfg, dim.missingToken())
		if err != nil {
			return nil, fmt.Errorf("%w: dimension %q: %v", ErrSchema, dim.Name, err)
		}
		models[dim.Name] = bm
	}
	return models, nil
}
