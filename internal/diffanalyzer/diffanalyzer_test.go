package diffanalyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graphidx/graphidx/internal/model"
)

const sampleDiff = `diff --git a/q/f.go b/q/f.go
index abc..def 100644
--- a/q/f.go
+++ b/q/f.go
@@ -8,4 +8,4 @@ package q
 func unrelated() {}

-func f(x int) int {
+func f(x string) int {
 	return x
 }
`

func TestParseUnifiedDiffExtractsHunk(t *testing.T) {
	files := ParseUnifiedDiff(sampleDiff)
	require.Len(t, files, 1)
	require.Equal(t, "q/f.go", files[0].Path)
	require.Len(t, files[0].Hunks, 1)
	require.Equal(t, 8, files[0].Hunks[0].NewStart)
	require.Equal(t, 4, files[0].Hunks[0].NewLines)
}

type fakeStore struct {
	fileSymbols map[string][]model.Symbol
	byQualname  map[string]model.Symbol
	edges       []model.Edge
	symbols     map[int64]model.Symbol
	files       map[int64]model.File
}

func ptr(v int64) *int64 { return &v }

func (f *fakeStore) GetSymbolsForFile(ctx context.Context, path string, version int64) ([]model.Symbol, error) {
	return f.fileSymbols[path], nil
}

func (f *fakeStore) GetSymbolByQualname(ctx context.Context, qualname string, version int64) (*model.Symbol, error) {
	s, ok := f.byQualname[qualname]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

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

func TestAnalyzeDiffClassifiesModified(t *testing.T) {
	fs := &fakeStore{
		fileSymbols: map[string][]model.Symbol{
			"q/f.go": {{ID: 1, FileID: 1, Kind: "function", Qualname: "q.f", Name: "f", StartLine: 10, EndLine: 12}},
		},
		symbols: map[int64]model.Symbol{1: {ID: 1, FileID: 1, Qualname: "q.f"}},
		files:   map[int64]model.File{1: {ID: 1, Path: "q/f.go", Language: "go"}},
	}
	files := []FileDiff{{Path: "q/f.go", Hunks: []Hunk{{NewStart: 8, NewLines: 4}}}}

	res, err := AnalyzeDiff(context.Background(), fs, nil, files, Options{IncludeRisk: true})
	require.NoError(t, err)
	require.Len(t, res.ChangedSymbols, 1)
	require.Equal(t, Modified, res.ChangedSymbols[0].ChangeType)
}

func TestAnalyzeDiffSignatureChangeEscalatesRisk(t *testing.T) {
	// The stored symbol carries the NEW signature and the stable id
	// derived from it, exactly as the incremental writer leaves it after
	// applying the change. The history fake keys by (qualname, path), so
	// the prior signature is found even though the stable id changed.
	newSig := "(x:str)->int"
	fs := &fakeStore{
		fileSymbols: map[string][]model.Symbol{
			"q/f.go": {{
				ID: 1, FileID: 1, Kind: "function", Qualname: "q.f", Name: "f",
				StartLine: 10, EndLine: 12, Signature: &newSig,
				StableID: model.StableID("function", "q.f", &newSig, "q/f.go"),
			}},
		},
		symbols: map[int64]model.Symbol{1: {ID: 1, FileID: 1, Qualname: "q.f"}},
		files:   map[int64]model.File{1: {ID: 1, Path: "q/f.go", Language: "go"}},
		edges: func() []model.Edge {
			edges := make([]model.Edge, 0, 12)
			for i := 0; i < 12; i++ {
				edges = append(edges, model.Edge{ID: int64(i + 1), Kind: model.EdgeCalls, SourceSymbolID: ptr(int64(100 + i)), TargetSymbolID: ptr(1)})
			}
			return edges
		}(),
	}
	for i := 0; i < 12; i++ {
		fs.symbols[int64(100+i)] = model.Symbol{ID: int64(100 + i), FileID: 2, Name: "caller"}
	}
	fs.files[2] = model.File{ID: 2, Path: "other.go", Language: "go"}

	files := []FileDiff{{Path: "q/f.go", Hunks: []Hunk{{NewStart: 8, NewLines: 4}}}}
	hist := fakeHistory{sigs: map[string]string{"q/f.go|q.f": "(x:int)->int"}}

	res, err := AnalyzeDiff(context.Background(), fs, hist, files, Options{IncludeRisk: true, IncludeTests: true})
	require.NoError(t, err)
	require.Equal(t, SignatureChanged, res.ChangedSymbols[0].ChangeType)
	require.Equal(t, SeverityCritical, res.Risk.Level)
	require.NotEmpty(t, res.ReviewChecklist)
}

func TestAnalyzeDiffUnchangedSignatureStaysModified(t *testing.T) {
	sig := "(x:int)->int"
	fs := &fakeStore{
		fileSymbols: map[string][]model.Symbol{
			"q/f.go": {{
				ID: 1, FileID: 1, Kind: "function", Qualname: "q.f", Name: "f",
				StartLine: 10, EndLine: 12, Signature: &sig,
				StableID: model.StableID("function", "q.f", &sig, "q/f.go"),
			}},
		},
		symbols: map[int64]model.Symbol{1: {ID: 1, FileID: 1, Qualname: "q.f"}},
		files:   map[int64]model.File{1: {ID: 1, Path: "q/f.go", Language: "go"}},
	}

	files := []FileDiff{{Path: "q/f.go", Hunks: []Hunk{{NewStart: 8, NewLines: 4}}}}
	hist := fakeHistory{sigs: map[string]string{"q/f.go|q.f": sig}}

	res, err := AnalyzeDiff(context.Background(), fs, hist, files, Options{})
	require.NoError(t, err)
	require.Len(t, res.ChangedSymbols, 1)
	require.Equal(t, Modified, res.ChangedSymbols[0].ChangeType)
}

func strp(s string) *string { return &s }

// fakeHistory keys prior signatures by "path|qualname", the same
// signature-invariant identity the production interface uses.
type fakeHistory struct{ sigs map[string]string }

func (h fakeHistory) PriorSignature(ctx context.Context, qualname, filePath string, version int64) (string, bool) {
	s, ok := h.sigs[filePath+"|"+qualname]
	return s, ok
}
