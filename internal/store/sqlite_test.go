package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphidx/graphidx/internal/model"
	"github.com/graphidx/graphidx/internal/symboldiff"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "graph.db"), DefaultSQLiteOptions(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sig(s string) *string { return &s }

func input(kind, name, qualname string, signature *string, startLine int) model.SymbolInput {
	return model.SymbolInput{
		Kind:      kind,
		Name:      name,
		Qualname:  qualname,
		Signature: signature,
		StartLine: startLine,
		EndLine:   startLine + 5,
		StartByte: startLine * 40,
		EndByte:   (startLine + 5) * 40,
	}
}

// seedFile upserts a file and applies its initial symbol set at version v,
// returning the file id and the stored symbols.
func seedFile(t *testing.T, s *SQLiteStore, path string, v int64, inputs []model.SymbolInput) (int64, []model.Symbol) {
	t.Helper()
	ctx := context.Background()
	fileID, err := s.UpsertFile(ctx, path, "h0", "go", 100, time.Unix(1700000000, 0))
	require.NoError(t, err)
	diff := symboldiff.Compute(nil, inputs, path)
	symbols, err := s.UpdateFileSymbols(ctx, fileID, path, diff, v, nil)
	require.NoError(t, err)
	return fileID, symbols
}

func symbolMapOf(symbols []model.Symbol) map[string]int64 {
	m := make(map[string]int64, len(symbols))
	for _, sy := range symbols {
		m[sy.Qualname] = sy.ID
	}
	return m
}

func TestMigrationsAddStableIDToExistingDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")

	// Build a database that predates the stable_id migration: schema
	// version 1 only, recorded in schema_migrations.
	raw, err := sqlx.Connect("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE schema_migrations (version INTEGER PRIMARY KEY, applied_ts DATETIME NOT NULL)`)
	require.NoError(t, err)
	_, err = raw.Exec(migrations[0].sqlite)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO schema_migrations (version, applied_ts) VALUES (1, ?)`, time.Now())
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err := NewSQLiteStore(dbPath, DefaultSQLiteOptions(), nil)
	require.NoError(t, err)
	defer s.Close()

	var count int
	require.NoError(t, s.writeDB.Get(&count, `SELECT COUNT(*) FROM pragma_table_info('symbols') WHERE name = 'stable_id'`))
	assert.Equal(t, 1, count, "migration 2 must add the stable_id column")

	var indexed int
	require.NoError(t, s.writeDB.Get(&indexed, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_symbols_stable_id'`))
	assert.Equal(t, 1, indexed)
}

func TestMigrationsIdempotentOnReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")

	s1, err := NewSQLiteStore(dbPath, DefaultSQLiteOptions(), nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(dbPath, DefaultSQLiteOptions(), nil)
	require.NoError(t, err)
	defer s2.Close()

	var applied int
	require.NoError(t, s2.writeDB.Get(&applied, `SELECT COUNT(*) FROM schema_migrations`))
	assert.Equal(t, len(migrations), applied)
}

func TestStableIDPreservedUnderLineChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v, err := s.NewGraphVersion(ctx, nil)
	require.NoError(t, err)

	const path = "m/f.py"
	fileID, symbols := seedFile(t, s, path, v, []model.SymbolInput{
		input("function", "f", "m.f", sig("(x:int)->int"), 10),
	})
	require.Len(t, symbols, 1)
	originalID := symbols[0].ID
	originalStable := symbols[0].StableID

	moved := []model.SymbolInput{input("function", "f", "m.f", sig("(x:int)->int"), 100)}
	diff := symboldiff.Compute(symbols, moved, path)
	assert.Len(t, diff.Modified, 1)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Deleted)
	assert.Empty(t, diff.Unchanged)

	updated, err := s.UpdateFileSymbols(ctx, fileID, path, diff, v, nil)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, originalID, updated[0].ID, "integer id must survive a position change")
	assert.Equal(t, originalStable, updated[0].StableID)
	assert.Equal(t, 100, updated[0].StartLine)
}

func TestSignatureChangeForcesRelink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v, err := s.NewGraphVersion(ctx, nil)
	require.NoError(t, err)

	const path = "m/g.py"
	fileID, symbols := seedFile(t, s, path, v, []model.SymbolInput{
		input("function", "g", "m.g", sig("(x:int)"), 10),
		input("function", "caller", "m.caller", nil, 30),
	})
	oldTarget := symbols[0]

	err = s.InsertEdges(ctx, fileID, []model.EdgeInput{
		{SourceQualname: "m.caller", TargetQualname: "m.g", Kind: model.EdgeCalls},
	}, symbolMapOf(symbols), v, nil)
	require.NoError(t, err)

	edges, err := s.EdgesForSymbols(ctx, []int64{oldTarget.ID}, v)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.NotNil(t, edges[0].TargetSymbolID)
	assert.Equal(t, oldTarget.ID, *edges[0].TargetSymbolID)

	// Changing the signature changes stable_id, so the diff is one delete
	// plus one add, never a modify.
	next := []model.SymbolInput{
		input("function", "g", "m.g", sig("(x:str)"), 10),
		input("function", "caller", "m.caller", nil, 30),
	}
	diff := symboldiff.Compute(symbols, next, path)
	assert.Len(t, diff.Deleted, 1)
	assert.Len(t, diff.Added, 1)
	assert.Len(t, diff.Unchanged, 1)

	updated, err := s.UpdateFileSymbols(ctx, fileID, path, diff, v, nil)
	require.NoError(t, err)

	var newTarget *model.Symbol
	for i := range updated {
		if updated[i].Qualname == "m.g" {
			newTarget = &updated[i]
		}
	}
	require.NotNil(t, newTarget)
	assert.NotEqual(t, oldTarget.ID, newTarget.ID)

	// The inbound edge survived the delete with a nulled target id and its
	// qualname intact.
	unresolved, err := s.ListEdges(ctx, EdgeFilter{Version: v, Kinds: []string{model.EdgeCalls}})
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Nil(t, unresolved[0].TargetSymbolID)
	require.NotNil(t, unresolved[0].TargetQualname)
	assert.Equal(t, "m.g", *unresolved[0].TargetQualname)

	n, err := s.ResolveNullTargetEdges(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	relinked, err := s.ListEdges(ctx, EdgeFilter{Version: v, Kinds: []string{model.EdgeCalls}})
	require.NoError(t, err)
	require.Len(t, relinked, 1)
	require.NotNil(t, relinked[0].TargetSymbolID)
	assert.Equal(t, newTarget.ID, *relinked[0].TargetSymbolID)

	// Monotonic: a second pass finds nothing left to resolve and nothing
	// already resolved comes undone.
	n, err = s.ResolveNullTargetEdges(ctx, v)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFuzzyResolutionEqualLengthTieBreaksByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v, err := s.NewGraphVersion(ctx, nil)
	require.NoError(t, err)

	fileID, symbols := seedFile(t, s, "svc/deploy.py", v, []model.SymbolInput{
		input("method", "Deploy", "mod.A.Deploy", nil, 10),
		input("method", "Deploy", "mod.B.Deploy", nil, 40),
	})

	err = s.InsertEdges(ctx, fileID, []model.EdgeInput{
		{SourceQualname: "mod.A.Deploy", TargetQualname: "_svc.Deploy", Kind: model.EdgeRPCCall},
	}, symbolMapOf(symbols), v, nil)
	require.NoError(t, err)

	edges, err := s.ListEdges(ctx, EdgeFilter{Version: v, Kinds: []string{model.EdgeRPCCall}})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.NotNil(t, edges[0].TargetSymbolID, "suffix lookup should resolve at write time")

	// mod.A.Deploy and mod.B.Deploy tie on qualname length; the tie breaks
	// by id ascending, which is mod.A.Deploy.
	assert.Equal(t, symbols[0].ID, *edges[0].TargetSymbolID)
	assert.Equal(t, "mod.A.Deploy", symbols[0].Qualname)
}

func TestBatchEquivalentToSequential(t *testing.T) {
	ctx := context.Background()

	inputsByPath := map[string][]model.SymbolInput{
		"a/one.go": {
			input("function", "Alpha", "one.Alpha", sig("()"), 5),
			input("function", "Beta", "one.Beta", nil, 25),
		},
		"b/two.go": {
			input("method", "Gamma", "two.T.Gamma", sig("(ctx)"), 8),
		},
	}
	paths := []string{"a/one.go", "b/two.go"}

	sequential := newTestStore(t)
	batched := newTestStore(t)

	vSeq, err := sequential.NewGraphVersion(ctx, nil)
	require.NoError(t, err)
	vBatch, err := batched.NewGraphVersion(ctx, nil)
	require.NoError(t, err)

	for _, p := range paths {
		seedFile(t, sequential, p, vSeq, inputsByPath[p])
	}

	var updates []FileSymbolsUpdate
	for _, p := range paths {
		fileID, err := batched.UpsertFile(ctx, p, "h0", "go", 100, time.Unix(1700000000, 0))
		require.NoError(t, err)
		updates = append(updates, FileSymbolsUpdate{
			FileID:   fileID,
			FilePath: p,
			Diff:     symboldiff.Compute(nil, inputsByPath[p], p),
			Version:  vBatch,
		})
	}
	results, err := batched.UpdateFilesSymbolsBatch(ctx, updates)
	require.NoError(t, err)
	require.Len(t, results, 2)

	dSeq, err := sequential.Digest(ctx, vSeq)
	require.NoError(t, err)
	dBatch, err := batched.Digest(ctx, vBatch)
	require.NoError(t, err)
	assert.Equal(t, dSeq.Tables, dBatch.Tables, "batch must produce the same final state as sequential application")
}

func TestDigestStableAcrossEquivalentIngestions(t *testing.T) {
	ctx := context.Background()
	build := func() Digest {
		s := newTestStore(t)
		v, err := s.NewGraphVersion(ctx, nil)
		require.NoError(t, err)
		fileID, symbols := seedFile(t, s, "x/y.go", v, []model.SymbolInput{
			input("function", "F", "y.F", sig("()"), 3),
			input("function", "G", "y.G", nil, 13),
		})
		err = s.InsertEdges(ctx, fileID, []model.EdgeInput{
			{SourceQualname: "y.F", TargetQualname: "y.G", Kind: model.EdgeCalls},
		}, symbolMapOf(symbols), v, nil)
		require.NoError(t, err)
		d, err := s.Digest(ctx, v)
		require.NoError(t, err)
		return d
	}

	assert.Equal(t, build().Tables, build().Tables)
}

func TestEmptyDiffIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v, err := s.NewGraphVersion(ctx, nil)
	require.NoError(t, err)

	const path = "m/noop.go"
	fileID, symbols := seedFile(t, s, path, v, []model.SymbolInput{
		input("function", "F", "noop.F", nil, 1),
	})

	same := symboldiff.Compute(symbols, []model.SymbolInput{input("function", "F", "noop.F", nil, 1)}, path)
	assert.Empty(t, same.Added)
	assert.Empty(t, same.Modified)
	assert.Empty(t, same.Deleted)

	after, err := s.UpdateFileSymbols(ctx, fileID, path, same, v, nil)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, symbols[0].ID, after[0].ID)
}

func TestDeleteLastSymbolKeepsFileRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v, err := s.NewGraphVersion(ctx, nil)
	require.NoError(t, err)

	const path = "m/last.go"
	fileID, symbols := seedFile(t, s, path, v, []model.SymbolInput{
		input("function", "F", "last.F", nil, 1),
	})

	diff := symboldiff.Compute(symbols, nil, path)
	require.Len(t, diff.Deleted, 1)
	after, err := s.UpdateFileSymbols(ctx, fileID, path, diff, v, nil)
	require.NoError(t, err)
	assert.Empty(t, after)

	f, err := s.GetFileByPath(ctx, path)
	require.NoError(t, err)
	assert.True(t, f.LiveAt(v))
}

func TestTombstoneLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v, err := s.NewGraphVersion(ctx, nil)
	require.NoError(t, err)

	const path = "m/tomb.go"
	_, err = s.UpsertFile(ctx, path, "h0", "go", 10, time.Unix(1700000000, 0))
	require.NoError(t, err)

	require.NoError(t, s.MarkFileDeleted(ctx, path, v))
	f, err := s.GetFileByPath(ctx, path)
	require.NoError(t, err)
	assert.False(t, f.LiveAt(v))

	// Re-upserting at the same version resurrects the file.
	_, err = s.UpsertFile(ctx, path, "h1", "go", 12, time.Unix(1700000100, 0))
	require.NoError(t, err)
	f, err = s.GetFileByPath(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, f.DeletedVersion)
	assert.True(t, f.LiveAt(v))
	assert.Equal(t, "h1", f.Hash)
}

func TestUpsertFileIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertFile(ctx, "m/a.go", "h0", "go", 10, time.Unix(1700000000, 0))
	require.NoError(t, err)
	id2, err := s.UpsertFile(ctx, "m/a.go", "h0", "go", 10, time.Unix(1700000000, 0))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestInsertDiagnosticsDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	line := 7
	rule := "E501"
	ds := []model.Diagnostic{
		{
			Path:           "m/a.py",
			Line:           &line,
			RuleID:         &rule,
			Message:        "line too long",
			DiagnosticHash: model.DiagnosticHash("m/a.py", line, rule, "line too long"),
		},
		{
			Path:           "m/a.py",
			Message:        "unused import",
			DiagnosticHash: model.DiagnosticHash("m/a.py", 0, "", "unused import"),
		},
	}

	n, err := s.InsertDiagnostics(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.InsertDiagnostics(ctx, ds)
	require.NoError(t, err)
	assert.Zero(t, n, "re-inserting the same diagnostics must insert nothing")
}

func TestEdgesForUnknownSymbolIsEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v, err := s.NewGraphVersion(ctx, nil)
	require.NoError(t, err)

	edges, err := s.EdgesForSymbols(ctx, []int64{99999}, v)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestQueryMissingGraphVersionIsEmptyNotError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	symbols, err := s.GetSymbolsForFile(ctx, "no/such.go", 42)
	require.NoError(t, err)
	assert.Empty(t, symbols)

	found, err := s.FindSymbols(ctx, "anything", 10, nil, 42)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestReaderPoolExhaustionSurfacesAsTypedError(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pool.db")
	s, err := NewSQLiteStore(dbPath, SQLiteOptions{
		MaxReaders:     1,
		MinIdleReaders: 1,
		AcquireTimeout: 20 * time.Millisecond,
		BusyTimeout:    time.Second,
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	release, err := s.acquireReader(context.Background())
	require.NoError(t, err)
	defer release()

	_, _, err = s.GetMeta(context.Background(), "graph_version")
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestDeadSymbolsSkipsEntrypointsAndCalledCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v, err := s.NewGraphVersion(ctx, nil)
	require.NoError(t, err)

	fileID, symbols := seedFile(t, s, "app/main.go", v, []model.SymbolInput{
		input("function", "main", "app.main", nil, 1),
		input("function", "run", "app.run", nil, 20),
		input("function", "forgotten", "app.forgotten", nil, 40),
	})

	err = s.InsertEdges(ctx, fileID, []model.EdgeInput{
		{SourceQualname: "app.main", TargetQualname: "app.run", Kind: model.EdgeCalls},
	}, symbolMapOf(symbols), v, nil)
	require.NoError(t, err)

	dead, err := s.DeadSymbols(ctx, v, nil)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "app.forgotten", dead[0].Qualname)
}

func TestOrphanTestsByDerivedTargetName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v, err := s.NewGraphVersion(ctx, nil)
	require.NoError(t, err)

	seedFile(t, s, "app/thing.go", v, []model.SymbolInput{
		input("function", "Deploy", "app.Deploy", nil, 1),
		input("function", "TestDeploy", "app.TestDeploy", nil, 20),
		input("function", "TestVanished", "app.TestVanished", nil, 40),
	})

	orphans, err := s.OrphanTests(ctx, v)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "TestVanished", orphans[0].Name)
}

func TestListDiagnosticsFiltersBySeverity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	errSev, warnSev := "error", "warning"
	_, err := s.InsertDiagnostics(ctx, []model.Diagnostic{
		{Path: "a.go", Severity: &errSev, Message: "boom", DiagnosticHash: model.DiagnosticHash("a.go", 0, "", "boom")},
		{Path: "b.go", Severity: &warnSev, Message: "meh", DiagnosticHash: model.DiagnosticHash("b.go", 0, "", "meh")},
	})
	require.NoError(t, err)

	got, err := s.ListDiagnostics(ctx, DiagnosticFilter{Severity: &errSev, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.go", got[0].Path)

	summary, err := s.DiagnosticsSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.BySeverity["error"])
	assert.Equal(t, 1, summary.BySeverity["warning"])
}

func TestEnclosingSymbolForLine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v, err := s.NewGraphVersion(ctx, nil)
	require.NoError(t, err)

	const path = "m/enc.py"
	outer := input("class", "C", "enc.C", nil, 1)
	outer.EndLine = 50
	inner := input("method", "m", "enc.C.m", nil, 10)
	inner.EndLine = 20
	seedFile(t, s, path, v, []model.SymbolInput{outer, inner})

	sym, err := s.EnclosingSymbolForLine(ctx, path, 15, v)
	require.NoError(t, err)
	require.NotNil(t, sym)
	assert.Equal(t, "enc.C.m", sym.Qualname, "smallest containing span wins")

	sym, err = s.EnclosingSymbolForLine(ctx, path, 40, v)
	require.NoError(t, err)
	require.NotNil(t, sym)
	assert.Equal(t, "enc.C", sym.Qualname)
}
