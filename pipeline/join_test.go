package pipeline_test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/npipeline/pipeline"
)

type order struct {
	ID         int
	CustomerID string
}

type customer struct {
	ID   string
	Name string
}

type enriched struct {
	OrderID  int
	Customer string
}

// innerOuterJoin is an inner join that also reports unmatched orders
// (FromLeftOnly) with a sentinel customer name; unmatched customers are
// dropped (FromRightOnly returns ok=false).
type innerOuterJoin struct{}

func (innerOuterJoin) KeyLeft(o order) any       { return o.CustomerID }
func (innerOuterJoin) KeyRight(c customer) any   { return c.ID }
func (innerOuterJoin) Combine(o order, c customer) (enriched, error) {
	return enriched{OrderID: o.ID, Customer: c.Name}, nil
}
func (innerOuterJoin) FromLeftOnly(o order) (enriched, bool) {
	return enriched{OrderID: o.ID, Customer: "<unknown>"}, true
}
func (innerOuterJoin) FromRightOnly(customer) (enriched, bool) { return enriched{}, false }

func TestJoinMatchesAcrossArrivalOrderAndFlagsUnmatchedLeft(t *testing.T) {
	t.Parallel()
	orders := []order{
		{ID: 1, CustomerID: "c1"},
		{ID: 2, CustomerID: "c2"},
		{ID: 3, CustomerID: "c1"},
	}
	customers := []customer{
		{ID: "c1", Name: "Ada"},
		// c2's customer record never arrives: order 2 stays unmatched.
	}

	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "orders", pipeline.SourceFunc[order](func(ctx context.Context) (pipeline.Pipe[order], error) {
		return pipeline.FromSlice(ctx, "orders", orders), nil
	}))
	pipeline.AddSource(b, "customers", pipeline.SourceFunc[customer](func(ctx context.Context) (pipeline.Pipe[customer], error) {
		return pipeline.FromSlice(ctx, "customers", customers), nil
	}))
	pipeline.AddJoin[order, customer, enriched](b, "join", "orders", "customers", innerOuterJoin{})
	sink := &sliceSink[enriched]{}
	pipeline.AddSink(b, "out", []string{"join"}, sink)

	g, err := b.Build()
	require.NoError(t, err)
	r := pipeline.NewRunner(g, pipeline.DefaultRunnerOptions())
	require.NoError(t, r.Run(context.Background()))

	got := sink.Items()
	require.Len(t, got, 3)
	sort.Slice(got, func(i, j int) bool { return got[i].OrderID < got[j].OrderID })
	assert.Equal(t, []enriched{
		{OrderID: 1, Customer: "Ada"},
		{OrderID: 2, Customer: "<unknown>"},
		{OrderID: 3, Customer: "Ada"},
	}, got)
}
