// Package store owns the relational database: schema migrations, the
// writer/reader connection pool, and every durable operation the rest of
// the indexer needs — file/symbol/edge CRUD, metrics, diagnostics,
// co-change, and content-hash digests.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/graphidx/graphidx/internal/model"
	"github.com/graphidx/graphidx/internal/symboldiff"
)

// Common store errors.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrConflict      = errors.New("store: conflict")
	ErrPoolExhausted = errors.New("store: reader pool acquisition timed out")
)

// TableDigest is the content hash of one relation at the current graph
// version, used by `gidx digest` and by determinism tests.
type TableDigest struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
	Hash  string `json:"hash"`
}

// Digest is the combined digest of files, symbols, and edges.
type Digest struct {
	GraphVersion int64         `json:"graph_version"`
	Tables       []TableDigest `json:"tables"`
}

// FileSymbolsUpdate is one file's worth of work for a batched symbol
// update: the file being touched, the diff already computed against its
// previous live symbol set, and the version/commit the update belongs to.
type FileSymbolsUpdate struct {
	FileID    int64
	FilePath  string
	Diff      symboldiff.Diff
	Version   int64
	CommitSHA *string
}

// FileSymbolsResult is the live symbol set resulting from one
// FileSymbolsUpdate, keyed by file id for the caller to fan back out to
// edge resolution.
type FileSymbolsResult struct {
	FileID  int64
	Symbols []model.Symbol
}

// Store is the full set of durable operations the indexer needs. Both the
// SQLite and PostgreSQL backends implement it identically from the
// caller's point of view; only their internal connection handling and SQL
// dialect differ.
type Store interface {
	// Meta / versioning.
	CurrentGraphVersion(ctx context.Context) (int64, error)
	NewGraphVersion(ctx context.Context, commitSHA *string) (int64, error)
	ListGraphVersions(ctx context.Context) ([]model.GraphVersion, error)
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error

	// Files.
	UpsertFile(ctx context.Context, path, hash, language string, size int64, modified time.Time) (int64, error)
	MarkFileDeleted(ctx context.Context, path string, version int64) error
	DeleteFileByPath(ctx context.Context, path string) error
	GetFileByPath(ctx context.Context, path string) (*model.File, error)
	GetFileByID(ctx context.Context, id int64) (*model.File, error)
	ListLiveFiles(ctx context.Context, version int64, languages, pathPrefixes []string) ([]model.File, error)

	// Symbols.
	GetSymbolsForFile(ctx context.Context, path string, version int64) ([]model.Symbol, error)
	GetSymbolByID(ctx context.Context, id int64) (*model.Symbol, error)
	GetSymbolByQualname(ctx context.Context, qualname string, version int64) (*model.Symbol, error)
	GetSymbolByStableID(ctx context.Context, stableID string, version int64) (*model.Symbol, error)
	UpdateFileSymbols(ctx context.Context, fileID int64, filePath string, diff symboldiff.Diff, version int64, commitSHA *string) ([]model.Symbol, error)
	UpdateFilesSymbolsBatch(ctx context.Context, updates []FileSymbolsUpdate) ([]FileSymbolsResult, error)

	// Edges.
	InsertEdges(ctx context.Context, fileID int64, edges []model.EdgeInput, symbolMap map[string]int64, version int64, commitSHA *string) error
	ResolveNullTargetEdges(ctx context.Context, version int64) (int, error)
	EdgesForSymbols(ctx context.Context, ids []int64, version int64) ([]model.Edge, error)
	ListEdges(ctx context.Context, f EdgeFilter) ([]model.Edge, error)

	// Metrics / diagnostics / co-change.
	UpsertFileMetrics(ctx context.Context, m model.FileMetrics) error
	InsertSymbolMetrics(ctx context.Context, ms []model.SymbolMetrics) error
	InsertDiagnostics(ctx context.Context, ds []model.Diagnostic) (int, error)
	ListDiagnostics(ctx context.Context, f DiagnosticFilter) ([]model.Diagnostic, error)
	DiagnosticsSummary(ctx context.Context) (DiagnosticsSummary, error)
	InsertCoChangesBatch(ctx context.Context, cs []model.CoChange) error
	CoChangesForFile(ctx context.Context, path string) ([]model.CoChange, error)

	// Digest.
	Digest(ctx context.Context, version int64) (Digest, error)

	// GraphQuery operations. These are plain aggregate/lookup queries
	// directly against the store; subgraph/trace/impact are built purely
	// from the lower-level symbol/edge primitives above instead, since
	// BFS orchestration belongs to those packages, not to the store.
	FindSymbols(ctx context.Context, q string, limit int, languages []string, version int64) ([]model.Symbol, error)
	FindSymbolsByNamePrefix(ctx context.Context, prefix string, limit int, languages []string, version int64) ([]model.Symbol, error)
	EnclosingSymbolForLine(ctx context.Context, path string, line int, version int64) (*model.Symbol, error)
	TopComplexity(ctx context.Context, version int64, limit int) ([]SymbolComplexity, error)
	TopFanIn(ctx context.Context, version int64, limit int) ([]SymbolFanCount, error)
	TopFanOut(ctx context.Context, version int64, limit int) ([]SymbolFanCount, error)
	TopFanInByModule(ctx context.Context, version int64, limit int) ([]ModuleFanCount, error)
	CountSymbolsByKind(ctx context.Context, version int64) (map[string]int, error)
	DuplicateGroups(ctx context.Context, version int64, minCount, minLOC, perGroupLimit int) ([]DuplicateGroup, error)
	DeadSymbols(ctx context.Context, version int64, languages []string) ([]model.Symbol, error)
	UnusedImports(ctx context.Context, version int64) ([]model.Edge, error)
	OrphanTests(ctx context.Context, version int64) ([]model.Symbol, error)
	CouplingHotspots(ctx context.Context, minConfidence float64, limit int) ([]model.CoChange, error)

	Close() error
}

// deriveTestTarget maps a test function's name to the name of the symbol
// it presumably exercises, by the fixed prefix/suffix conventions
// (test_foo, TestFoo, foo_test, FooTest/FooTests, foo_spec). Returns ""
// when the name doesn't look like a test at all.
func deriveTestTarget(name string) string {
	switch {
	case strings.HasPrefix(name, "test_"):
		return strings.TrimPrefix(name, "test_")
	case strings.HasPrefix(name, "Test") && len(name) > len("Test"):
		return strings.TrimPrefix(name, "Test")
	case strings.HasSuffix(name, "_test"):
		return strings.TrimSuffix(name, "_test")
	case strings.HasSuffix(name, "_spec"):
		return strings.TrimSuffix(name, "_spec")
	case strings.HasSuffix(name, "Tests"):
		return strings.TrimSuffix(name, "Tests")
	case strings.HasSuffix(name, "Test") && len(name) > len("Test"):
		return strings.TrimSuffix(name, "Test")
	}
	return ""
}

// SymbolComplexity pairs a symbol with its recorded complexity/loc metric.
type SymbolComplexity struct {
	Symbol     model.Symbol `json:"symbol"`
	Complexity int          `json:"complexity"`
	LOC        int          `json:"loc"`
}

// SymbolFanCount pairs a symbol with an inbound or outbound edge count.
type SymbolFanCount struct {
	Symbol model.Symbol `json:"symbol"`
	Count  int          `json:"count"`
}

// ModuleFanCount is a fan-in count aggregated by module key (the first
// path segment before "/", per the fixed policy decision in DESIGN.md).
type ModuleFanCount struct {
	Module string `json:"module"`
	Count  int    `json:"count"`
}

// DuplicateGroup is a set of symbols sharing a duplication_hash.
type DuplicateGroup struct {
	DuplicationHash string         `json:"duplication_hash"`
	Symbols         []model.Symbol `json:"symbols"`
}

// DiagnosticFilter narrows ListDiagnostics by path prefix, severity,
// and tool, with pagination.
type DiagnosticFilter struct {
	PathPrefixes []string
	Severity     *string
	Tool         *string
	Limit        int
	Offset       int
}

// DiagnosticsSummary aggregates stored diagnostics for the
// diagnostics_summary RPC method.
type DiagnosticsSummary struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
	ByTool     map[string]int `json:"by_tool"`
}

// EdgeFilter is the generic filter shape for ListEdges: kinds, source or
// target constraints, resolution state, confidence floor, trace window,
// and pagination.
type EdgeFilter struct {
	Version       int64
	Kinds         []string
	SourceID      *int64
	TargetID      *int64
	TargetQual    *string
	ResolvedOnly  bool
	MinConfidence *float64
	TraceID       *string
	EventAfter    *time.Time
	EventBefore   *time.Time
	Limit         int
	Offset        int
}
