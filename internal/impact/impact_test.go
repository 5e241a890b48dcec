package impact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graphidx/graphidx/internal/model"
)

type fakeStore struct {
	edges     []model.Edge
	symbols   map[int64]model.Symbol
	files     map[int64]model.File
	fileSyms  map[string][]model.Symbol
	coChanges map[string][]model.CoChange
}

func ptr(v int64) *int64 { return &v }

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

func (f *fakeStore) GetSymbolByID(ctx context.Context, id int64) (*model.Symbol, error) {
	s, ok := f.symbols[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStore) GetFileByID(ctx context.Context, id int64) (*model.File, error) {
	file, ok := f.files[id]
	if !ok {
		return nil, nil
	}
	return &file, nil
}

func (f *fakeStore) CoChangesForFile(ctx context.Context, path string) ([]model.CoChange, error) {
	return f.coChanges[path], nil
}

func (f *fakeStore) GetSymbolsForFile(ctx context.Context, path string, version int64) ([]model.Symbol, error) {
	return f.fileSyms[path], nil
}

func TestAnalyzeDirectLayerDecay(t *testing.T) {
	fs := &fakeStore{
		edges: []model.Edge{
			{ID: 1, Kind: model.EdgeCalls, SourceSymbolID: ptr(1), TargetSymbolID: ptr(2)},
			{ID: 2, Kind: model.EdgeCalls, SourceSymbolID: ptr(2), TargetSymbolID: ptr(3)},
		},
		symbols: map[int64]model.Symbol{
			1: {ID: 1, FileID: 1, Name: "a"}, 2: {ID: 2, FileID: 1, Name: "b"}, 3: {ID: 3, FileID: 1, Name: "c"},
		},
		files: map[int64]model.File{1: {ID: 1, Path: "f.go"}},
	}

	res, err := Analyze(context.Background(), fs, []int64{1}, DefaultConfig(), 1)
	require.NoError(t, err)
	require.Len(t, res.Impacted, 2)

	byID := map[int64]Impacted{}
	for _, imp := range res.Impacted {
		byID[imp.Symbol.ID] = imp
	}
	require.InDelta(t, 0.8, byID[2].Confidence, 0.0001)
	require.InDelta(t, 0.64, byID[3].Confidence, 0.0001)
}

func TestAnalyzeTestLayerMarksDirectCaller(t *testing.T) {
	fs := &fakeStore{
		edges: []model.Edge{
			{ID: 1, Kind: model.EdgeCalls, SourceSymbolID: ptr(2), TargetSymbolID: ptr(1)},
		},
		symbols: map[int64]model.Symbol{
			1: {ID: 1, FileID: 1, Name: "Target"},
			2: {ID: 2, FileID: 2, Name: "TestTarget"},
		},
		files: map[int64]model.File{1: {ID: 1, Path: "f.go"}, 2: {ID: 2, Path: "f_test.go"}},
	}

	res, err := Analyze(context.Background(), fs, []int64{1}, DefaultConfig(), 1)
	require.NoError(t, err)

	found := false
	for _, imp := range res.Impacted {
		if imp.Symbol.ID == 2 {
			found = true
			require.Contains(t, imp.Layers, "test")
			require.Equal(t, 1.0, imp.Confidence)
		}
	}
	require.True(t, found)
}

func TestAnalyzeHistoricalLayerFromCoChange(t *testing.T) {
	fs := &fakeStore{
		symbols: map[int64]model.Symbol{1: {ID: 1, FileID: 1, Name: "a"}},
		files:   map[int64]model.File{1: {ID: 1, Path: "f.go"}},
		coChanges: map[string][]model.CoChange{
			"f.go": {{FileA: "f.go", FileB: "g.go", Confidence: 0.9}},
		},
		fileSyms: map[string][]model.Symbol{
			"g.go": {{ID: 5, FileID: 2, Name: "g"}},
		},
	}

	res, err := Analyze(context.Background(), fs, []int64{1}, DefaultConfig(), 1)
	require.NoError(t, err)

	found := false
	for _, imp := range res.Impacted {
		if imp.Symbol.ID == 5 {
			found = true
			require.Contains(t, imp.Layers, "historical")
			require.InDelta(t, 0.9, imp.Confidence, 0.0001)
		}
	}
	require.True(t, found)
}

func TestAnalyzeIncludePathCarriesHopChain(t *testing.T) {
	fs := &fakeStore{
		edges: []model.Edge{
			{ID: 1, Kind: model.EdgeCalls, SourceSymbolID: ptr(1), TargetSymbolID: ptr(2)},
			{ID: 2, Kind: model.EdgeCalls, SourceSymbolID: ptr(2), TargetSymbolID: ptr(3)},
		},
		symbols: map[int64]model.Symbol{
			1: {ID: 1, FileID: 1, Name: "a"}, 2: {ID: 2, FileID: 1, Name: "b"}, 3: {ID: 3, FileID: 1, Name: "c"},
		},
		files: map[int64]model.File{1: {ID: 1, Path: "f.go"}},
	}

	cfg := DefaultConfig()
	cfg.IncludePath = true
	res, err := Analyze(context.Background(), fs, []int64{1}, cfg, 1)
	require.NoError(t, err)

	byID := map[int64]Impacted{}
	for _, imp := range res.Impacted {
		byID[imp.Symbol.ID] = imp
	}
	require.Equal(t, []int64{1, 2}, byID[2].Path)
	require.Equal(t, []int64{1, 2, 3}, byID[3].Path)

	cfg.IncludePath = false
	res, err = Analyze(context.Background(), fs, []int64{1}, cfg, 1)
	require.NoError(t, err)
	for _, imp := range res.Impacted {
		require.Nil(t, imp.Path)
	}
}

func TestAnalyzeMergesMaxConfidence(t *testing.T) {
	fs := &fakeStore{
		edges: []model.Edge{
			{ID: 1, Kind: model.EdgeCalls, SourceSymbolID: ptr(1), TargetSymbolID: ptr(2)},
		},
		symbols: map[int64]model.Symbol{
			1: {ID: 1, FileID: 1, Name: "a"},
			2: {ID: 2, FileID: 2, Name: "b"},
		},
		files: map[int64]model.File{1: {ID: 1, Path: "f.go"}, 2: {ID: 2, Path: "g.go"}},
		coChanges: map[string][]model.CoChange{
			"f.go": {{FileA: "f.go", FileB: "g.go", Confidence: 0.95}},
		},
		fileSyms: map[string][]model.Symbol{
			"g.go": {{ID: 2, FileID: 2, Name: "b"}},
		},
	}

	res, err := Analyze(context.Background(), fs, []int64{1}, DefaultConfig(), 1)
	require.NoError(t, err)

	var got Impacted
	for _, imp := range res.Impacted {
		if imp.Symbol.ID == 2 {
			got = imp
		}
	}
	require.InDelta(t, 0.95, got.Confidence, 0.0001)
}
