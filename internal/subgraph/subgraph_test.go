package subgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graphidx/graphidx/internal/model"
)

type fakeStore struct {
	edges   []model.Edge
	symbols map[int64]model.Symbol
}

func id(v int64) *int64 { return &v }

func (f *fakeStore) EdgesForSymbols(ctx context.Context, ids []int64, version int64) ([]model.Edge, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Edge
	for _, e := range f.edges {
		if (e.SourceSymbolID != nil && want[*e.SourceSymbolID]) || (e.TargetSymbolID != nil && want[*e.TargetSymbolID]) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSymbolByID(ctx context.Context, symID int64) (*model.Symbol, error) {
	s, ok := f.symbols[symID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func chain() *fakeStore {
	return &fakeStore{
		edges: []model.Edge{
			{ID: 1, Kind: model.EdgeCalls, SourceSymbolID: id(1), TargetSymbolID: id(2)},
			{ID: 2, Kind: model.EdgeCalls, SourceSymbolID: id(2), TargetSymbolID: id(3)},
			{ID: 3, Kind: model.EdgeCalls, SourceSymbolID: id(3), TargetSymbolID: id(4)},
		},
		symbols: map[int64]model.Symbol{
			1: {ID: 1, Name: "a"}, 2: {ID: 2, Name: "b"}, 3: {ID: 3, Name: "c"}, 4: {ID: 4, Name: "d"},
		},
	}
}

func TestBuildRespectsDepth(t *testing.T) {
	fs := chain()
	res, err := Build(context.Background(), fs, fs, []int64{1}, 1, 100, 1, Filter{})
	require.NoError(t, err)
	require.Len(t, res.Nodes, 2)
	require.Equal(t, int64(1), res.Nodes[0].ID)
	require.Equal(t, int64(2), res.Nodes[1].ID)
}

func TestBuildRespectsMaxNodes(t *testing.T) {
	fs := chain()
	res, err := Build(context.Background(), fs, fs, []int64{1}, 10, 2, 1, Filter{})
	require.NoError(t, err)
	require.LessOrEqual(t, len(res.Nodes), 2)
}

func TestBuildExcludeAllYieldsNoEdges(t *testing.T) {
	fs := chain()
	res, err := Build(context.Background(), fs, fs, []int64{1}, 3, 100, 1, Filter{ExcludeAll: true})
	require.NoError(t, err)
	require.Len(t, res.Nodes, 1)
	require.Empty(t, res.Edges)
}

func TestBuildDeterministicOrdering(t *testing.T) {
	fs := chain()
	res, err := Build(context.Background(), fs, fs, []int64{1}, 3, 100, 1, Filter{})
	require.NoError(t, err)
	for i := 1; i < len(res.Nodes); i++ {
		require.Less(t, res.Nodes[i-1].ID, res.Nodes[i].ID)
	}
	for i := 1; i < len(res.Edges); i++ {
		require.Less(t, res.Edges[i-1].ID, res.Edges[i].ID)
	}
}
