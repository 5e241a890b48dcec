package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graphidx/graphidx/internal/model"
	"github.com/graphidx/graphidx/internal/store"
)

type fakeSource struct {
	edges   []model.Edge
	symbols map[int64]model.Symbol
	files   map[int64]model.File
}

func ptr(v int64) *int64    { return &v }
func strp(v string) *string { return &v }

func (f *fakeSource) EdgesForSymbols(ctx context.Context, ids []int64, version int64) ([]model.Edge, error) {
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

func (f *fakeSource) FindSymbolsByNamePrefix(ctx context.Context, prefix string, limit int, languages []string, version int64) ([]model.Symbol, error) {
	var out []model.Symbol
	for _, s := range f.symbols {
		if prefix == "" || s.Name == prefix {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSource) ListEdges(ctx context.Context, filt store.EdgeFilter) ([]model.Edge, error) {
	var out []model.Edge
	for _, e := range f.edges {
		if len(filt.Kinds) > 0 && e.Kind != filt.Kinds[0] {
			continue
		}
		if filt.TargetQual != nil && (e.TargetQualname == nil || *e.TargetQualname != *filt.TargetQual) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeSource) GetSymbolByID(ctx context.Context, id int64) (*model.Symbol, error) {
	s, ok := f.symbols[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeSource) GetFileByID(ctx context.Context, id int64) (*model.File, error) {
	file, ok := f.files[id]
	if !ok {
		return nil, nil
	}
	return &file, nil
}

func TestRunDirectCallChain(t *testing.T) {
	fs := &fakeSource{
		edges: []model.Edge{
			{ID: 1, Kind: model.EdgeCalls, SourceSymbolID: ptr(1), TargetSymbolID: ptr(2)},
			{ID: 2, Kind: model.EdgeCalls, SourceSymbolID: ptr(2), TargetSymbolID: ptr(3)},
		},
		symbols: map[int64]model.Symbol{
			1: {ID: 1, Name: "a", FileID: 1}, 2: {ID: 2, Name: "b", FileID: 1}, 3: {ID: 3, Name: "c", FileID: 1},
		},
		files: map[int64]model.File{1: {ID: 1, Language: "go"}},
	}

	end := int64(3)
	res, err := Run(context.Background(), fs, 1, &end, 1, Options{Direction: Downstream, MaxHops: 5})
	require.NoError(t, err)
	require.True(t, res.ReachedTarget)
	require.Equal(t, 1, res.PathsFound)
	require.Len(t, res.Hops, 2)
}

func TestRunChannelBridge(t *testing.T) {
	qualname := "orders.created"
	fs := &fakeSource{
		edges: []model.Edge{
			{ID: 1, Kind: model.EdgeChannelPublish, SourceSymbolID: ptr(1), TargetQualname: &qualname},
			{ID: 2, Kind: model.EdgeChannelSubscribe, SourceSymbolID: ptr(2), TargetQualname: &qualname},
		},
		symbols: map[int64]model.Symbol{
			1: {ID: 1, Name: "Publish", FileID: 1}, 2: {ID: 2, Name: "Consume", FileID: 2},
		},
		files: map[int64]model.File{1: {ID: 1, Language: "csharp"}, 2: {ID: 2, Language: "python"}},
	}

	res, err := Run(context.Background(), fs, 1, nil, 1, Options{Direction: Downstream, MaxHops: 5})
	require.NoError(t, err)
	require.Len(t, res.Hops, 1)
	require.True(t, res.Hops[0].CrossLanguage)
	require.Equal(t, "message_bus", res.Hops[0].BoundaryType)
	require.Contains(t, res.Hops[0].BoundaryDetail, "csharp")
	require.Contains(t, res.Hops[0].BoundaryDetail, "python")
}

func TestRunRespectsMaxHops(t *testing.T) {
	fs := &fakeSource{
		edges: []model.Edge{
			{ID: 1, Kind: model.EdgeCalls, SourceSymbolID: ptr(1), TargetSymbolID: ptr(2)},
			{ID: 2, Kind: model.EdgeCalls, SourceSymbolID: ptr(2), TargetSymbolID: ptr(3)},
		},
		symbols: map[int64]model.Symbol{
			1: {ID: 1, Name: "a"}, 2: {ID: 2, Name: "b"}, 3: {ID: 3, Name: "c"},
		},
		files: map[int64]model.File{},
	}

	res, err := Run(context.Background(), fs, 1, nil, 1, Options{Direction: Downstream, MaxHops: 1})
	require.NoError(t, err)
	require.Len(t, res.Hops, 1)
}

func TestRunUnresolvedNextFuzzyFallback(t *testing.T) {
	target := "_svc.Deploy"
	fs := &fakeSource{
		edges: []model.Edge{
			{ID: 1, Kind: model.EdgeCalls, SourceSymbolID: ptr(1), TargetSymbolID: nil, TargetQualname: &target},
		},
		symbols: map[int64]model.Symbol{
			1: {ID: 1, Name: "start"},
			2: {ID: 2, Name: "Deploy", Qualname: "mod.A.Deploy"},
		},
		files: map[int64]model.File{},
	}

	res, err := Run(context.Background(), fs, 1, nil, 1, Options{Direction: Downstream, MaxHops: 3})
	require.NoError(t, err)
	require.Len(t, res.Hops, 1)
	require.NotNil(t, res.Hops[0].Symbol)
	require.Equal(t, int64(2), res.Hops[0].Symbol.ID)
}
