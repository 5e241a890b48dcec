package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/graphidx/graphidx/internal/model"
	"github.com/graphidx/graphidx/internal/store"
	"github.com/graphidx/graphidx/internal/symboldiff"
)

// fakeStore is a minimal in-memory store.Store good enough to exercise
// the dispatcher's routing, budget, and compaction behavior without a
// real database.
type fakeStore struct {
	symbols map[int64]model.Symbol
	byQual  map[string]int64
	files   map[int64]model.File
	edges   []model.Edge
	version int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{symbols: map[int64]model.Symbol{}, byQual: map[string]int64{}, files: map[int64]model.File{}, version: 1}
}

func (f *fakeStore) CurrentGraphVersion(ctx context.Context) (int64, error) { return f.version, nil }
func (f *fakeStore) NewGraphVersion(ctx context.Context, commitSHA *string) (int64, error) {
	f.version++
	return f.version, nil
}
func (f *fakeStore) ListGraphVersions(ctx context.Context) ([]model.GraphVersion, error) {
	return []model.GraphVersion{{ID: f.version}}, nil
}
func (f *fakeStore) GetMeta(ctx context.Context, key string) (string, bool, error) { return "", false, nil }
func (f *fakeStore) SetMeta(ctx context.Context, key, value string) error          { return nil }

func (f *fakeStore) UpsertFile(ctx context.Context, path, hash, language string, size int64, modified time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeStore) MarkFileDeleted(ctx context.Context, path string, version int64) error { return nil }
func (f *fakeStore) DeleteFileByPath(ctx context.Context, path string) error               { return nil }
func (f *fakeStore) GetFileByPath(ctx context.Context, path string) (*model.File, error) {
	for _, fl := range f.files {
		if fl.Path == path {
			ff := fl
			return &ff, nil
		}
	}
	return nil, store.ErrNotFound
}
func (f *fakeStore) GetFileByID(ctx context.Context, id int64) (*model.File, error) {
	if fl, ok := f.files[id]; ok {
		return &fl, nil
	}
	return nil, store.ErrNotFound
}
func (f *fakeStore) ListLiveFiles(ctx context.Context, version int64, languages, pathPrefixes []string) ([]model.File, error) {
	var out []model.File
	for _, fl := range f.files {
		out = append(out, fl)
	}
	return out, nil
}

func (f *fakeStore) GetSymbolsForFile(ctx context.Context, path string, version int64) ([]model.Symbol, error) {
	var out []model.Symbol
	for _, s := range f.symbols {
		out = append(out, s)
	}
	return out, nil
}
func (f *fakeStore) GetSymbolByID(ctx context.Context, id int64) (*model.Symbol, error) {
	if s, ok := f.symbols[id]; ok {
		return &s, nil
	}
	return nil, store.ErrNotFound
}
func (f *fakeStore) GetSymbolByQualname(ctx context.Context, qualname string, version int64) (*model.Symbol, error) {
	if id, ok := f.byQual[qualname]; ok {
		s := f.symbols[id]
		return &s, nil
	}
	return nil, store.ErrNotFound
}
func (f *fakeStore) GetSymbolByStableID(ctx context.Context, stableID string, version int64) (*model.Symbol, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) UpdateFileSymbols(ctx context.Context, fileID int64, filePath string, diff symboldiff.Diff, version int64, commitSHA *string) ([]model.Symbol, error) {
	return nil, nil
}
func (f *fakeStore) UpdateFilesSymbolsBatch(ctx context.Context, updates []store.FileSymbolsUpdate) ([]store.FileSymbolsResult, error) {
	return nil, nil
}

func (f *fakeStore) InsertEdges(ctx context.Context, fileID int64, edges []model.EdgeInput, symbolMap map[string]int64, version int64, commitSHA *string) error {
	return nil
}
func (f *fakeStore) ResolveNullTargetEdges(ctx context.Context, version int64) (int, error) { return 0, nil }
func (f *fakeStore) EdgesForSymbols(ctx context.Context, ids []int64, version int64) ([]model.Edge, error) {
	want := map[int64]bool{}
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
func (f *fakeStore) ListEdges(ctx context.Context, filt store.EdgeFilter) ([]model.Edge, error) {
	return f.edges, nil
}

func (f *fakeStore) UpsertFileMetrics(ctx context.Context, m model.FileMetrics) error       { return nil }
func (f *fakeStore) InsertSymbolMetrics(ctx context.Context, ms []model.SymbolMetrics) error { return nil }
func (f *fakeStore) InsertDiagnostics(ctx context.Context, ds []model.Diagnostic) (int, error) {
	return 0, nil
}
func (f *fakeStore) ListDiagnostics(ctx context.Context, filt store.DiagnosticFilter) ([]model.Diagnostic, error) {
	return nil, nil
}
func (f *fakeStore) DiagnosticsSummary(ctx context.Context) (store.DiagnosticsSummary, error) {
	return store.DiagnosticsSummary{BySeverity: map[string]int{}, ByTool: map[string]int{}}, nil
}
func (f *fakeStore) InsertCoChangesBatch(ctx context.Context, cs []model.CoChange) error { return nil }
func (f *fakeStore) CoChangesForFile(ctx context.Context, path string) ([]model.CoChange, error) {
	return nil, nil
}

func (f *fakeStore) Digest(ctx context.Context, version int64) (store.Digest, error) {
	return store.Digest{}, nil
}

func (f *fakeStore) FindSymbols(ctx context.Context, q string, limit int, languages []string, version int64) ([]model.Symbol, error) {
	var out []model.Symbol
	for _, s := range f.symbols {
		out = append(out, s)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
func (f *fakeStore) FindSymbolsByNamePrefix(ctx context.Context, prefix string, limit int, languages []string, version int64) ([]model.Symbol, error) {
	return nil, nil
}
func (f *fakeStore) EnclosingSymbolForLine(ctx context.Context, path string, line int, version int64) (*model.Symbol, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) TopComplexity(ctx context.Context, version int64, limit int) ([]store.SymbolComplexity, error) {
	return nil, nil
}
func (f *fakeStore) TopFanIn(ctx context.Context, version int64, limit int) ([]store.SymbolFanCount, error) {
	return nil, nil
}
func (f *fakeStore) TopFanOut(ctx context.Context, version int64, limit int) ([]store.SymbolFanCount, error) {
	return nil, nil
}
func (f *fakeStore) TopFanInByModule(ctx context.Context, version int64, limit int) ([]store.ModuleFanCount, error) {
	return nil, nil
}
func (f *fakeStore) CountSymbolsByKind(ctx context.Context, version int64) (map[string]int, error) {
	return map[string]int{"function": len(f.symbols)}, nil
}
func (f *fakeStore) DuplicateGroups(ctx context.Context, version int64, minCount, minLOC, perGroupLimit int) ([]store.DuplicateGroup, error) {
	return nil, nil
}
func (f *fakeStore) DeadSymbols(ctx context.Context, version int64, languages []string) ([]model.Symbol, error) {
	return nil, nil
}
func (f *fakeStore) UnusedImports(ctx context.Context, version int64) ([]model.Edge, error) { return nil, nil }
func (f *fakeStore) OrphanTests(ctx context.Context, version int64) ([]model.Symbol, error)  { return nil, nil }
func (f *fakeStore) CouplingHotspots(ctx context.Context, minConfidence float64, limit int) ([]model.CoChange, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) addSymbol(s model.Symbol) {
	f.symbols[s.ID] = s
	f.byQual[s.Qualname] = s.ID
}

func newDispatcher(st store.Store) *Dispatcher {
	return New(st, nil, nil, "/repo")
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := newDispatcher(newFakeStore())
	resp := d.Dispatch(context.Background(), Request{ID: 1, Method: "nonexistent"})
	require.NotNil(t, resp.Error)
	require.Contains(t, resp.Error.Message, "unknown method")
}

func TestDispatchResolvesAlias(t *testing.T) {
	fs := newFakeStore()
	fs.addSymbol(model.Symbol{ID: 1, Kind: "function", Name: "Foo", Qualname: "pkg.Foo"})
	d := newDispatcher(fs)
	resp := d.Dispatch(context.Background(), Request{ID: 1, Method: "search", Params: json.RawMessage(`{"query":"Foo"}`)})
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestDispatchPatternTooLong(t *testing.T) {
	d := newDispatcher(newFakeStore())
	params, _ := json.Marshal(map[string]string{"pattern": string(make([]byte, 600))})
	resp := d.Dispatch(context.Background(), Request{ID: 1, Method: "search_text", Params: params})
	require.NotNil(t, resp.Error)
	require.Contains(t, resp.Error.Message, "pattern exceeds")
}

func TestDispatchOpenSymbolNotFoundReturnsError(t *testing.T) {
	fs := newFakeStore()
	d := newDispatcher(fs)
	resp := d.Dispatch(context.Background(), Request{ID: 1, Method: "open_symbol", Params: json.RawMessage(`{"qualname":"pkg.Missing"}`)})
	require.NotNil(t, resp.Error)
	require.Contains(t, resp.Error.Message, "not found")
}

func TestApplyBudgetTruncatesListResult(t *testing.T) {
	names := stringSlice{"a", "b", "c", "d", "e"}
	wrapped, truncated, total := applyBudget(names, 12)
	require.True(t, truncated)
	require.Equal(t, 5, total)
	require.LessOrEqual(t, len(wrapped.([]string)), 5)
}

func TestApplyBudgetNoopUnderBudget(t *testing.T) {
	names := stringSlice{"a"}
	_, truncated, _ := applyBudget(names, DefaultResponseBudget)
	require.False(t, truncated)
}

func TestCanonicalizePathRejectsTraversal(t *testing.T) {
	_, err := canonicalizePath("/repo", "../../etc/passwd")
	require.Error(t, err)
}

func TestCanonicalizePathAllowsNested(t *testing.T) {
	rel, err := canonicalizePath("/repo", "src/pkg/file.go")
	require.NoError(t, err)
	require.Equal(t, "src/pkg/file.go", rel)
}

func TestRewriteSignaturesCompactsSymbolSlice(t *testing.T) {
	sig := "(x int) error"
	s := symbolSlice{Symbols: []model.Symbol{{ID: 1, Kind: "function", Name: "Foo", Qualname: "pkg.Foo", Signature: &sig}}}
	out := rewriteSignatures(s)
	views, ok := out.([]signatureView)
	require.True(t, ok)
	require.Len(t, views, 1)
	require.Equal(t, "pkg.Foo", views[0].Qualname)
}
