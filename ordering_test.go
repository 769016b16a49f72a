package mdd_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/zzenonn/mdd"
)

func orderingTestSchema() mdd.Schema {
	return mdd.Schema{
		{Name: "region", Type: mdd.Categorical},
		{Name: "tier", Type: mdd.Categorical},
		{Name: "age", Type: mdd.Numeric},
	}
}

func orderingTestRows() []mdd.Row {
	regions := []string{"east", "west"}
	tiers := []string{"gold", "silver", "bronze"}
	var rows []mdd.Row
	for i := 0; i < 24; i++ {
		rows = append(rows, mdd.Row{
			"region": mdd.String(regions[i%len(regions)]),
			"tier":   mdd.String(tiers[i%len(tiers)]),
			"age":    mdd.Int(int64(20 + i)),
		})
	}
	return rows
}

type OrderingSuite struct {
	suite.Suite
}

func (s *OrderingSuite) TestFixedOrderRequiresPermutation() {
	schema := orderingTestSchema()
	cfg := mdd.DefaultBuildConfig(
		mdd.WithOrdering(mdd.OrderFixed),
		mdd.WithFixedOrder([]string{"region", "tier"}), // missing "age"
	)
	b := mdd.NewBuilder(schema, cfg)
	_, err := b.Fit(context.Background(), orderingTestRows())
	require.Error(s.T(), err)
	require.True(s.T(), errors.Is(err, mdd.ErrOrdering))
}

func (s *OrderingSuite) TestFixedOrderAccepted() {
	schema := orderingTestSchema()
	cfg := mdd.DefaultBuildConfig(
		mdd.WithOrdering(mdd.OrderFixed),
		mdd.WithFixedOrder([]string{"age", "tier", "region"}),
	)
	b := mdd.NewBuilder(schema, cfg)
	m, err := b.Fit(context.Background(), orderingTestRows())
	require.NoError(s.T(), err)
	require.Equal(s.T(), []string{"age", "tier", "region"}, m.Order())
}

func (s *OrderingSuite) TestHeuristicOrderIsPermutationOfSchema() {
	schema := orderingTestSchema()
	cfg := mdd.DefaultBuildConfig(mdd.WithOrdering(mdd.OrderHeuristic))
	b := mdd.NewBuilder(schema, cfg)
	m, err := b.Fit(context.Background(), orderingTestRows())
	require.NoError(s.T(), err)
	require.ElementsMatch(s.T(), schema.Names(), m.Order())
}

func (s *OrderingSuite) TestSearchWithZeroBudgetFallsBackToHeuristic() {
	schema := orderingTestSchema()
	heuristicCfg := mdd.DefaultBuildConfig(mdd.WithOrdering(mdd.OrderHeuristic))
	searchCfg := mdd.DefaultBuildConfig(
		mdd.WithOrdering(mdd.OrderSearch),
		mdd.WithOrderingConfig(mdd.OrderingConfig{}), // zero budget
	)

	rows := orderingTestRows()
	hm, err := mdd.NewBuilder(schema, heuristicCfg).Fit(context.Background(), rows)
	require.NoError(s.T(), err)
	sm, err := mdd.NewBuilder(schema, searchCfg).Fit(context.Background(), rows)
	require.NoError(s.T(), err)
	require.Equal(s.T(), hm.Order(), sm.Order())
}

func (s *OrderingSuite) TestSearchRespectsContextCancellation() {
	schema := orderingTestSchema()
	cfg := mdd.DefaultBuildConfig(
		mdd.WithOrdering(mdd.OrderSearch),
		mdd.WithOrderingConfig(mdd.DefaultOrderingConfig(
			mdd.WithTimeBudget(time.Minute),
			mdd.WithMaxEvals(10_000),
		)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mdd.NewBuilder(schema, cfg).Fit(ctx, orderingTestRows())
	require.Error(s.T(), err)
}

func (s *OrderingSuite) TestSearchBoundedByMaxEvalsProducesValidOrder() {
	schema := orderingTestSchema()
	cfg := mdd.DefaultBuildConfig(
		mdd.WithOrdering(mdd.OrderSearch),
		mdd.WithOrderingConfig(mdd.DefaultOrderingConfig(
			mdd.WithMaxEvals(5),
			mdd.WithBeamWidth(2),
			mdd.WithSeed(7),
		)),
	)
	m, err := mdd.NewBuilder(schema, cfg).Fit(context.Background(), orderingTestRows())
	require.NoError(s.T(), err)
	require.ElementsMatch(s.T(), schema.Names(), m.Order())
}

func TestOrderingSuite(t *testing.T) {
	suite.Run(t, new(OrderingSuite))
}
