// Package mdd provides a Go-native compiler and query engine for
// Multi-Valued Decision Diagrams (MDDs) over tabular data.
//
// # Overview
//
// An MDD compactly represents a table of rows as a reduced, layered,
// labeled directed acyclic graph whose root-to-terminal paths are exactly
// the input rows (modulo numeric binning). This package provides a unified
// engine for compiling such diagrams and answering a fixed family of
// queries against them, eliminating the need to hand-roll trie compaction,
// dimension ordering, or beam/A* search per project.
//
// # Key Features
//
//   - Two compilation strategies: full trie-then-reduce and incremental
//     slice-based construction, guaranteed to produce equivalent diagrams
//   - Three dimension-ordering strategies, from a fixed caller order to
//     randomized local search over a size-correlated objective
//   - Five query algorithms: exists, count, match, complete (beam search
//     with Laplace smoothing), and nearest (A* over the layered DAG)
//   - Context-aware operations with cancellation and timeout support
//   - Automatic canonical reduction with structural-signature deduplication
//
// # Basic Usage
//
// To use this package, describe a Schema and feed it rows through a
// Builder:
//
//	schema := mdd.Schema{
//	    {Name: "region", Type: mdd.Categorical},
//	    {Name: "priority", Type: mdd.Ordinal},
//	}
//	b := mdd.NewBuilder(schema, mdd.DefaultBuildConfig())
//	diagram, err := b.Fit(ctx, rows)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("MDD has %d nodes over %d rows\n", diagram.Stats().Nodes, diagram.Stats().RowCount)
//
// # Performance Considerations
//
// For optimal performance:
//
//   - The slice compiler shares prefixes while rows are added and leaves
//     all suffix merging to its final reduction pass, so its peak memory
//     is that of the prefix trie, as with the trie compiler
//   - Order dimensions with low entropy and low cardinality first; the
//     heuristic ordering strategy does this automatically
//   - Use the search ordering strategy with a small beam_width for
//     moderate additional size reduction at bounded extra compile cost
package mdd

import "errors"

// Error taxonomy for the mdd package. These are sentinel errors: callers
// should use errors.Is/errors.As rather than string matching. Each is
// wrapped with fmt.Errorf at the call site to attach the failing dimension
// name, offending value, or operation being performed.
var (
	// ErrSchema indicates a dimension is not in the schema, a type
	// mismatch, or an invalid bin configuration.
	ErrSchema = errors.New("schema error")

	// ErrOrdering indicates a non-permutation order was supplied or the
	// order was empty. Non-positive search budget fields are not rejected:
	// a search with neither a time budget nor an evaluation budget returns
	// the heuristic order.
	ErrOrdering = errors.New("ordering error")

	// ErrCompile indicates a row was inconsistent with the schema during
	// fit, or numeric parsing failed.
	ErrCompile = errors.New("compile error")

	// ErrQuery indicates a pattern referenced an unknown dimension, or
	// exists was called with an incomplete specification.
	ErrQuery = errors.New("query error")

	// ErrInvalidNode indicates a node ID does not exist in the node table.
	ErrInvalidNode = errors.New("invalid node")
)
