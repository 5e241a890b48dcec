// Package model defines the relational data model shared by the store,
// incremental writer, resolver, and query engines: graph versions, files,
// symbols, edges, and the metrics/diagnostics/co-change tables that hang
// off them.
package model

import (
	"encoding/hex"
	"fmt"
	"time"

	"lukechampine.com/blake3"
)

// GraphVersion identifies a coherent snapshot of symbols and edges. Versions
// are monotonically increasing; the "current" one lives in the meta table.
type GraphVersion struct {
	ID        int64     `db:"id" json:"id"`
	CreatedTS time.Time `db:"created_ts" json:"created_ts"`
	CommitSHA *string   `db:"commit_sha" json:"commit_sha,omitempty"`
}

// File is a tracked source file. DeletedVersion is the graph version at
// which the file was tombstoned; nil means the file is live at every
// version greater than or equal to the one it was created at.
type File struct {
	ID             int64     `db:"id" json:"id"`
	Path           string    `db:"path" json:"path"`
	Hash           string    `db:"hash" json:"hash"`
	Language       string    `db:"language" json:"language"`
	Size           int64     `db:"size" json:"size"`
	Modified       time.Time `db:"modified" json:"modified"`
	DeletedVersion *int64    `db:"deleted_version" json:"deleted_version,omitempty"`
}

// LiveAt reports whether the file is live (not tombstoned) at version v.
func (f *File) LiveAt(v int64) bool {
	return f.DeletedVersion == nil || *f.DeletedVersion > v
}

// Symbol is one extracted code entity: a module, class, function, method,
// route, service, etc.
type Symbol struct {
	ID           int64   `db:"id" json:"id"`
	FileID       int64   `db:"file_id" json:"file_id"`
	Kind         string  `db:"kind" json:"kind"`
	Name         string  `db:"name" json:"name"`
	Qualname     string  `db:"qualname" json:"qualname"`
	StartLine    int     `db:"start_line" json:"start_line"`
	StartCol     int     `db:"start_col" json:"start_col"`
	EndLine      int     `db:"end_line" json:"end_line"`
	EndCol       int     `db:"end_col" json:"end_col"`
	StartByte    int     `db:"start_byte" json:"start_byte"`
	EndByte      int     `db:"end_byte" json:"end_byte"`
	Signature    *string `db:"signature" json:"signature,omitempty"`
	Docstring    *string `db:"docstring" json:"docstring,omitempty"`
	GraphVersion int64   `db:"graph_version" json:"graph_version"`
	CommitSHA    *string `db:"commit_sha" json:"commit_sha,omitempty"`
	StableID     string  `db:"stable_id" json:"stable_id"`
}

// SymbolInput is what an extractor produces for one symbol, before it has
// been assigned an integer id or a graph version. It carries everything
// needed to compute StableID and to diff against the previous version.
type SymbolInput struct {
	Kind      string
	Name      string
	Qualname  string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
	StartByte int
	EndByte   int
	Signature *string
	Docstring *string
}

// StableID computes the content-addressed identifier for a symbol:
// "sym_" + first 16 hex chars of blake3(kind|qualname|signature|file_path).
// It depends only on kind, qualname, signature, and file path — never on
// position — so moving a symbol within a file never changes its identity,
// while a signature change always does.
func StableID(kind, qualname string, signature *string, filePath string) string {
	sig := ""
	if signature != nil {
		sig = *signature
	}
	payload := kind + "|" + qualname + "|" + sig + "|" + filePath
	sum := blake3.Sum256([]byte(payload))
	return "sym_" + hex.EncodeToString(sum[:8])
}

// StableID computes the input's stable id given its owning file's path.
func (s SymbolInput) StableID(filePath string) string {
	return StableID(s.Kind, s.Qualname, s.Signature, filePath)
}

// Edge kinds recognized by default traversals. Unknown kinds are stored
// verbatim but excluded from default kind sets.
const (
	EdgeCalls            = "CALLS"
	EdgeImports          = "IMPORTS"
	EdgeContains         = "CONTAINS"
	EdgeExtends          = "EXTENDS"
	EdgeImplements       = "IMPLEMENTS"
	EdgeRPCImpl          = "RPC_IMPL"
	EdgeRPCCall          = "RPC_CALL"
	EdgeHTTPRoute        = "HTTP_ROUTE"
	EdgeHTTPCall         = "HTTP_CALL"
	EdgeChannelPublish   = "CHANNEL_PUBLISH"
	EdgeChannelSubscribe = "CHANNEL_SUBSCRIBE"
	EdgeXRef             = "XREF"
	EdgeReferences       = "REFERENCES"
)

// KnownEdgeKinds is the closed set of kinds recognized by default filters.
var KnownEdgeKinds = map[string]bool{
	EdgeCalls: true, EdgeImports: true, EdgeContains: true, EdgeExtends: true,
	EdgeImplements: true, EdgeRPCImpl: true, EdgeRPCCall: true, EdgeHTTPRoute: true,
	EdgeHTTPCall: true, EdgeChannelPublish: true, EdgeChannelSubscribe: true,
	EdgeXRef: true, EdgeReferences: true,
}

// complementKinds pairs edge kinds that form a bridge across a service or
// language boundary (the TraceEngine uses this to hop across them).
var complementKinds = map[string]string{
	EdgeChannelPublish:   EdgeChannelSubscribe,
	EdgeChannelSubscribe: EdgeChannelPublish,
	EdgeRPCCall:          EdgeRPCImpl,
	EdgeRPCImpl:          EdgeRPCCall,
	EdgeHTTPCall:         EdgeHTTPRoute,
	EdgeHTTPRoute:        EdgeHTTPCall,
}

// ComplementKind returns the bridge-pair kind for k, if any.
func ComplementKind(k string) (string, bool) {
	c, ok := complementKinds[k]
	return c, ok
}

// Edge connects two symbols (either end may be unresolved) or carries pure
// evidence when both ends are null.
type Edge struct {
	ID                int64      `db:"id" json:"id"`
	FileID            int64      `db:"file_id" json:"file_id"`
	SourceSymbolID    *int64     `db:"source_symbol_id" json:"source_symbol_id,omitempty"`
	TargetSymbolID    *int64     `db:"target_symbol_id" json:"target_symbol_id,omitempty"`
	Kind              string     `db:"kind" json:"kind"`
	TargetQualname    *string    `db:"target_qualname" json:"target_qualname,omitempty"`
	Detail            *string    `db:"detail" json:"detail,omitempty"`
	EvidenceSnippet   *string    `db:"evidence_snippet" json:"evidence_snippet,omitempty"`
	EvidenceStartLine *int       `db:"evidence_start_line" json:"evidence_start_line,omitempty"`
	EvidenceEndLine   *int       `db:"evidence_end_line" json:"evidence_end_line,omitempty"`
	Confidence        *float64   `db:"confidence" json:"confidence,omitempty"`
	GraphVersion      int64      `db:"graph_version" json:"graph_version"`
	CommitSHA         *string    `db:"commit_sha" json:"commit_sha,omitempty"`
	TraceID           *string    `db:"trace_id" json:"trace_id,omitempty"`
	SpanID            *string    `db:"span_id" json:"span_id,omitempty"`
	EventTS           *time.Time `db:"event_ts" json:"event_ts,omitempty"`
}

// EdgeInput is what an extractor produces for one edge before resolution.
type EdgeInput struct {
	SourceQualname    string
	TargetQualname    string
	Kind              string
	Detail            *string
	EvidenceSnippet   *string
	EvidenceStartLine *int
	EvidenceEndLine   *int
	Confidence        *float64
	TraceID           *string
	SpanID            *string
	EventTS           *time.Time
}

// FileMetrics holds size metrics for one file.
type FileMetrics struct {
	FileID  int64 `db:"file_id" json:"file_id"`
	LOC     int   `db:"loc" json:"loc"`
	Blank   int   `db:"blank" json:"blank"`
	Comment int   `db:"comment" json:"comment"`
	Code    int   `db:"code" json:"code"`
}

// SymbolMetrics holds size/complexity metrics for one symbol.
type SymbolMetrics struct {
	SymbolID        int64   `db:"symbol_id" json:"symbol_id"`
	FileID          int64   `db:"file_id" json:"file_id"`
	LOC             int     `db:"loc" json:"loc"`
	Complexity      int     `db:"complexity" json:"complexity"`
	DuplicationHash *string `db:"duplication_hash" json:"duplication_hash,omitempty"`
}

// Diagnostic is one finding imported from an external tool (ESLint, Ruff,
// Semgrep, clippy, dotnet, ...), deduplicated by DiagnosticHash.
type Diagnostic struct {
	ID             int64     `db:"id" json:"id"`
	FileID         *int64    `db:"file_id" json:"file_id,omitempty"`
	Path           string    `db:"path" json:"path"`
	Line           *int      `db:"line" json:"line,omitempty"`
	Column         *int      `db:"column" json:"column,omitempty"`
	EndLine        *int      `db:"end_line" json:"end_line,omitempty"`
	EndColumn      *int      `db:"end_column" json:"end_column,omitempty"`
	Severity       *string   `db:"severity" json:"severity,omitempty"`
	Message        string    `db:"message" json:"message"`
	RuleID         *string   `db:"rule_id" json:"rule_id,omitempty"`
	Tool           *string   `db:"tool" json:"tool,omitempty"`
	Snippet        *string   `db:"snippet" json:"snippet,omitempty"`
	DiagnosticHash string    `db:"diagnostic_hash" json:"diagnostic_hash"`
	CreatedTS      time.Time `db:"created_ts" json:"created_ts"`
}

// DiagnosticHash computes the dedup key for a diagnostic.
func DiagnosticHash(path string, line int, ruleID, message string) string {
	sum := blake3.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s", path, line, ruleID, message)))
	return hex.EncodeToString(sum[:16])
}

// CoChange records how often two files change together, mined externally
// and consumed here for impact/coupling queries.
type CoChange struct {
	FileA         string     `db:"file_a" json:"file_a"`
	FileB         string     `db:"file_b" json:"file_b"`
	CoChangeCount int        `db:"co_change_count" json:"co_change_count"`
	TotalCommitsA int        `db:"total_commits_a" json:"total_commits_a"`
	TotalCommitsB int        `db:"total_commits_b" json:"total_commits_b"`
	Confidence    float64    `db:"confidence" json:"confidence"`
	LastCommitSHA *string    `db:"last_commit_sha" json:"last_commit_sha,omitempty"`
	LastCommitTS  *time.Time `db:"last_commit_ts" json:"last_commit_ts,omitempty"`
	MinedAt       time.Time  `db:"mined_at" json:"mined_at"`
}
