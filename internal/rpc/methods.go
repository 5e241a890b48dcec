package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/graphidx/graphidx/internal/apperrors"
	"github.com/graphidx/graphidx/internal/diffanalyzer"
	"github.com/graphidx/graphidx/internal/impact"
	"github.com/graphidx/graphidx/internal/model"
	"github.com/graphidx/graphidx/internal/narrate"
	"github.com/graphidx/graphidx/internal/store"
	"github.com/graphidx/graphidx/internal/subgraph"
	"github.com/graphidx/graphidx/internal/trace"
)

func methodTable() map[string]Handler {
	return map[string]Handler{
		"help":                handleHelp,
		"list_methods":        handleListMethods,
		"list_languages":      handleListLanguages,
		"list_graph_versions": handleListGraphVersions,
		"find_symbol":         handleFindSymbol,
		"suggest_qualnames":   handleSuggestQualnames,
		"open_symbol":         handleOpenSymbol,
		"explain_symbol":      handleExplainSymbol,
		"open_file":           handleOpenFile,
		"neighbors":           handleNeighbors,
		"subgraph":            handleSubgraph,
		"analyze_impact":      handleAnalyzeImpact,
		"find_tests_for":      handleFindTestsFor,
		"references":          handleReferences,
		"trace_flow":          handleTraceFlow,
		"analyze_diff":        handleAnalyzeDiff,
		"list_edges":          handleListEdges,
		"list_xrefs":          handleListXrefs,
		"route_refs":          handleRouteRefs,
		"top_complexity":      handleTopComplexity,
		"duplicate_groups":    handleDuplicateGroups,
		"top_coupling":        handleTopCoupling,
		"co_changes":          handleCoChanges,
		"dead_symbols":        handleDeadSymbols,
		"unused_imports":      handleUnusedImports,
		"orphan_tests":        handleOrphanTests,
		"module_map":          handleModuleMap,
		"repo_map":            handleModuleMap,
		"repo_overview":       handleRepoOverview,
		"repo_insights":       handleRepoOverview,
		"search_text":         handleSearchText,
		"search_rg":           handleSearchText,
		"grep":                handleSearchText,
		"changed_files":       handleChangedFiles,
		"changed_since":       handleChangedFiles,
		"index_status":        handleIndexStatus,
		"flow_status":         handleIndexStatus,
		"reindex":             handleReindex,
		"diagnostics_run":     handleDiagnosticsRun,
		"diagnostics_import":  handleDiagnosticsImport,
		"diagnostics_list":    handleDiagnosticsList,
		"diagnostics_summary": handleDiagnosticsSummary,
		"gather_context":      handleGatherContext,
		"onboard":             handleOnboard,
		"reflect":             handleReflect,
	}
}

// canonicalMethodNames is the full list used by list_methods/help; kept
// separate from the routing table so aliases are documented without
// being double-counted.
var canonicalMethodNames = []string{
	"help", "list_methods", "list_languages", "list_graph_versions", "repo_overview", "repo_insights",
	"module_map", "repo_map", "top_complexity", "duplicate_groups", "top_coupling", "co_changes",
	"dead_symbols", "unused_imports", "orphan_tests", "find_symbol", "suggest_qualnames", "open_symbol",
	"explain_symbol", "open_file", "neighbors", "subgraph", "analyze_impact", "find_tests_for", "references",
	"trace_flow", "analyze_diff", "list_edges", "list_xrefs", "route_refs", "flow_status", "gather_context",
	"search_rg", "grep", "search_text", "changed_files", "index_status", "reindex", "diagnostics_run",
	"diagnostics_import", "diagnostics_list", "diagnostics_summary", "onboard", "reflect", "changed_since",
}

func handleHelp(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	return map[string]interface{}{
		"methods": canonicalMethodNames,
		"aliases": aliases,
		"common_params": []string{
			"graph_version", "languages", "path", "paths", "limit", "offset",
			"max_response_bytes", "max_tokens", "format",
		},
	}, nil
}

func handleListMethods(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	names := append([]string(nil), canonicalMethodNames...)
	sort.Strings(names)
	return stringSlice(names), nil
}

func handleListLanguages(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	files, err := d.Store.ListLiveFiles(ctx, version, nil, nil)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, f := range files {
		if !seen[f.Language] {
			seen[f.Language] = true
			out = append(out, f.Language)
		}
	}
	sort.Strings(out)
	return stringSlice(out), nil
}

func handleListGraphVersions(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	current, err := d.Store.CurrentGraphVersion(ctx)
	if err != nil {
		return nil, err
	}
	versions, err := d.Store.ListGraphVersions(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"current": current, "versions": versions}, nil
}

func handleFindSymbol(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	query := p.string("query", p.string("q", ""))
	languages := lowercaseAll(p.stringSlice("languages"))

	syms, err := d.Store.FindSymbols(ctx, query, p.limit(50), languages, version)
	if err != nil {
		return nil, err
	}
	return symbolSlice{Symbols: syms, FilePath: filePathLookup(ctx, d.Store)}, nil
}

func handleSuggestQualnames(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	query := p.string("query", "")
	languages := lowercaseAll(p.stringSlice("languages"))
	if d.Suggester == nil {
		return stringSlice(nil), nil
	}
	names, err := d.Suggester.Suggest(ctx, query, languages, version)
	if err != nil {
		return nil, err
	}
	return stringSlice(names), nil
}

// resolveTargetSymbol resolves the common symbol_id/qualname parameter
// pair shared by most single-symbol methods, surfacing a
// suggestion-bearing not-found error when resolution by qualname fails.
func resolveTargetSymbol(ctx context.Context, d *Dispatcher, p params, version int64) (*model.Symbol, error) {
	if id, ok := p.int64Opt("symbol_id"); ok {
		sym, err := d.Store.GetSymbolByID(ctx, id)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, fmt.Errorf("symbol_id %d not found", id)
			}
			return nil, err
		}
		return sym, nil
	}
	qualname := p.string("qualname", "")
	if qualname == "" {
		return nil, apperrors.ValidationError("symbol_id or qualname is required")
	}
	sym, err := d.Store.GetSymbolByQualname(ctx, qualname, version)
	if err != nil {
		if err == store.ErrNotFound {
			languages := lowercaseAll(p.stringSlice("languages"))
			return nil, symbolNotFound(ctx, d, qualname, languages, version)
		}
		return nil, err
	}
	if sym == nil {
		languages := lowercaseAll(p.stringSlice("languages"))
		return nil, symbolNotFound(ctx, d, qualname, languages, version)
	}
	return sym, nil
}

func handleOpenSymbol(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	return resolveTargetSymbol(ctx, d, p, version)
}

func handleExplainSymbol(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	sym, err := resolveTargetSymbol(ctx, d, p, version)
	if err != nil {
		return nil, err
	}
	edges, err := d.Store.EdgesForSymbols(ctx, []int64{sym.ID}, version)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"symbol": sym, "edges": edges}, nil
}

func handleOpenFile(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	rel, err := canonicalizePath(d.RepoRoot, p.string("path", ""))
	if err != nil {
		return nil, err
	}
	f, err := d.Store.GetFileByPath(ctx, rel)
	if err != nil {
		return nil, err
	}
	syms, err := d.Store.GetSymbolsForFile(ctx, rel, version)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"file": f, "symbols": syms}, nil
}

func handleNeighbors(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	sym, err := resolveTargetSymbol(ctx, d, p, version)
	if err != nil {
		return nil, err
	}
	edges, err := d.Store.EdgesForSymbols(ctx, []int64{sym.ID}, version)
	if err != nil {
		return nil, err
	}
	return edgeSlice(edges), nil
}

func handleSubgraph(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	startIDs := p.int64Slice("start_ids")
	if len(startIDs) == 0 {
		if id, ok := p.int64Opt("symbol_id"); ok {
			startIDs = []int64{id}
		}
	}
	if len(startIDs) == 0 {
		return nil, fmt.Errorf("start_ids or symbol_id is required")
	}
	depth := p.int("depth", 2)
	maxNodes := p.int("max_nodes", 200)

	filter := subgraph.Filter{ResolvedOnly: p.boolOpt("resolved_only")}
	if include := p.stringSlice("include_kinds"); len(include) > 0 {
		filter.Include = toSet(include)
	}
	if exclude := p.stringSlice("exclude_kinds"); len(exclude) > 0 {
		if len(exclude) == 1 && exclude[0] == "*" {
			filter.ExcludeAll = true
		} else {
			filter.Exclude = toSet(exclude)
		}
	}

	return subgraph.Build(ctx, d.Store, d.Store, startIDs, depth, maxNodes, version, filter)
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func handleAnalyzeImpact(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	seedIDs := p.int64Slice("seed_ids")
	if len(seedIDs) == 0 {
		if id, ok := p.int64Opt("symbol_id"); ok {
			seedIDs = []int64{id}
		}
	}
	if len(seedIDs) == 0 {
		return nil, fmt.Errorf("seed_ids must not be empty")
	}
	cfg := impact.DefaultConfig()
	if p.string("direction", "downstream") == "upstream" {
		cfg.Direction = impact.Upstream
	}
	if n, ok := p.intOpt("max_hops"); ok {
		cfg.MaxHops = n
	}
	if c, ok := p.floatOpt("min_confidence"); ok {
		cfg.MinConfidence = c
	}
	cfg.Limit = p.limit(100)
	cfg.IncludePath = p.boolOpt("include_path")

	return impact.Analyze(ctx, d.Store, seedIDs, cfg, version)
}

func handleFindTestsFor(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	sym, err := resolveTargetSymbol(ctx, d, p, version)
	if err != nil {
		return nil, err
	}
	cfg := impact.DefaultConfig()
	cfg.Direction = impact.Upstream
	res, err := impact.Analyze(ctx, d.Store, []int64{sym.ID}, cfg, version)
	if err != nil {
		return nil, err
	}
	var out []model.Symbol
	for _, imp := range res.Impacted {
		for _, layer := range imp.Layers {
			if layer == "test" {
				out = append(out, imp.Symbol)
				break
			}
		}
	}
	return symbolSlice{Symbols: out, FilePath: filePathLookup(ctx, d.Store)}, nil
}

func handleReferences(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	sym, err := resolveTargetSymbol(ctx, d, p, version)
	if err != nil {
		return nil, err
	}
	edges, err := d.Store.ListEdges(ctx, store.EdgeFilter{
		Version:  version,
		Kinds:    []string{model.EdgeXRef, model.EdgeReferences, model.EdgeCalls},
		TargetID: &sym.ID,
		Limit:    p.limit(200),
	})
	if err != nil {
		return nil, err
	}
	return edgeSlice(edges), nil
}

func handleTraceFlow(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	sym, err := resolveTargetSymbol(ctx, d, p, version)
	if err != nil {
		return nil, err
	}
	var endID *int64
	if id, ok := p.int64Opt("end_id"); ok {
		endID = &id
	} else if qualname, ok := p.stringOpt("end_qualname"); ok {
		if endSym, err := d.Store.GetSymbolByQualname(ctx, qualname, version); err == nil && endSym != nil {
			endID = &endSym.ID
		}
	}

	opts := trace.Options{
		MaxHops:         p.int("max_hops", 10),
		Kinds:           p.stringSlice("kinds"),
		IncludeSnippets: p.boolOpt("include_snippets"),
		MaxBytes:        p.int("max_bytes", 64*1024),
	}
	if p.string("direction", "downstream") == "upstream" {
		opts.Direction = trace.Upstream
	} else {
		opts.Direction = trace.Downstream
	}

	return trace.Run(ctx, d.Store, sym.ID, endID, version, opts)
}

func handleAnalyzeDiff(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	diffText := p.string("diff", "")
	var files []diffanalyzer.FileDiff
	if diffText != "" {
		files = diffanalyzer.ParseUnifiedDiff(diffText)
	} else {
		// Bare path list: every live symbol of each file counts as changed.
		paths, err := canonicalizePrefixes(d.RepoRoot, p.stringSlice("paths"))
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("diff or paths is required")
		}
		for _, path := range paths {
			files = append(files, diffanalyzer.FileDiff{Path: path})
		}
	}
	opts := diffanalyzer.Options{
		IncludeTests: p.boolOpt("include_tests"),
		IncludeRisk:  p.boolOpt("include_risk"),
		MaxDepth:     p.int("max_depth", 5),
		Version:      version,
	}
	return diffanalyzer.AnalyzeDiff(ctx, d.Store, noHistoryStore{}, files, opts)
}

// noHistoryStore is the default HistoryStore: neither backend currently
// retains per-version signature history, so signature_changed detection
// degrades to "modified" rather than failing the call. A future history
// table keyed by (qualname, file_path, version) would implement
// diffanalyzer.HistoryStore for real.
type noHistoryStore struct{}

func (noHistoryStore) PriorSignature(ctx context.Context, qualname, filePath string, version int64) (string, bool) {
	return "", false
}

func handleListEdges(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	filt := store.EdgeFilter{
		Version:      version,
		Kinds:        p.stringSlice("kinds"),
		ResolvedOnly: p.boolOpt("resolved_only"),
		Limit:        p.limit(200),
		Offset:       p.int("offset", 0),
	}
	if id, ok := p.int64Opt("source_id"); ok {
		filt.SourceID = &id
	}
	if id, ok := p.int64Opt("target_id"); ok {
		filt.TargetID = &id
	}
	edges, err := d.Store.ListEdges(ctx, filt)
	if err != nil {
		return nil, err
	}
	return edgeSlice(edges), nil
}

func handleListXrefs(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	edges, err := d.Store.ListEdges(ctx, store.EdgeFilter{Version: version, Kinds: []string{model.EdgeXRef}, Limit: p.limit(200)})
	if err != nil {
		return nil, err
	}
	return edgeSlice(edges), nil
}

func handleRouteRefs(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	edges, err := d.Store.ListEdges(ctx, store.EdgeFilter{
		Version: version,
		Kinds:   []string{model.EdgeHTTPRoute, model.EdgeHTTPCall},
		Limit:   p.limit(200),
	})
	if err != nil {
		return nil, err
	}
	return edgeSlice(edges), nil
}

func handleTopComplexity(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	return d.Store.TopComplexity(ctx, version, p.limit(20))
}

func handleDuplicateGroups(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	return d.Store.DuplicateGroups(ctx, version, p.int("min_count", 2), p.int("min_loc", 5), p.int("per_group_limit", 10))
}

func handleTopCoupling(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	minConf := 0.0
	if c, ok := p.floatOpt("min_confidence"); ok {
		minConf = c
	}
	return d.Store.CouplingHotspots(ctx, minConf, p.limit(20))
}

func handleCoChanges(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	rel, err := canonicalizePath(d.RepoRoot, p.string("path", ""))
	if err != nil {
		return nil, err
	}
	return d.Store.CoChangesForFile(ctx, rel)
}

func handleDeadSymbols(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	languages := lowercaseAll(p.stringSlice("languages"))
	syms, err := d.Store.DeadSymbols(ctx, version, languages)
	if err != nil {
		return nil, err
	}
	return symbolSlice{Symbols: syms, FilePath: filePathLookup(ctx, d.Store)}, nil
}

func handleUnusedImports(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	edges, err := d.Store.UnusedImports(ctx, version)
	if err != nil {
		return nil, err
	}
	return edgeSlice(edges), nil
}

func handleOrphanTests(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	syms, err := d.Store.OrphanTests(ctx, version)
	if err != nil {
		return nil, err
	}
	return symbolSlice{Symbols: syms, FilePath: filePathLookup(ctx, d.Store)}, nil
}

func handleModuleMap(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	return d.Store.TopFanInByModule(ctx, version, p.limit(50))
}

func handleRepoOverview(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	files, err := d.Store.ListLiveFiles(ctx, version, nil, nil)
	if err != nil {
		return nil, err
	}
	counts, err := d.Store.CountSymbolsByKind(ctx, version)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"graph_version":   version,
		"file_count":      len(files),
		"symbols_by_kind": counts,
	}, nil
}

func handleSearchText(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	query := p.string("pattern", p.string("query", ""))
	languages := lowercaseAll(p.stringSlice("languages"))
	syms, err := d.Store.FindSymbols(ctx, query, p.limit(100), languages, version)
	if err != nil {
		return nil, err
	}
	return symbolSlice{Symbols: syms, FilePath: filePathLookup(ctx, d.Store)}, nil
}

func handleChangedFiles(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	prefixes, err := canonicalizePrefixes(d.RepoRoot, p.stringSlice("paths"))
	if err != nil {
		return nil, err
	}
	return d.Store.ListLiveFiles(ctx, version, lowercaseAll(p.stringSlice("languages")), prefixes)
}

func handleIndexStatus(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := d.Store.CurrentGraphVersion(ctx)
	if err != nil {
		return nil, err
	}
	lastIndexed, _, err := d.Store.GetMeta(ctx, "last_indexed")
	if err != nil {
		return nil, err
	}
	digest, err := d.Store.Digest(ctx, version)
	if err != nil {
		return nil, err
	}
	files, err := d.Store.ListLiveFiles(ctx, version, nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"graph_version": version,
		"last_indexed":  lastIndexed,
		"file_count":    len(files),
		"digest":        digest,
	}, nil
}

func handleReindex(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	// The RPC surface only acknowledges the request; no indexing runs
	// here. The cmd/gidx `reindex` subcommand updates file rows only;
	// symbol and edge extraction is not part of this process.
	return map[string]interface{}{"status": "requested"}, nil
}

func handleDiagnosticsRun(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	tool := p.string("tool", "")
	if tool == "" {
		return nil, fmt.Errorf("tool is required")
	}
	return map[string]interface{}{"status": "requested", "tool": tool}, nil
}

// diagnosticEntry is the pre-parsed wire shape diagnostics_import accepts,
// either inline via the entries param or from .lidx/diagnostics/*.json
// files. SARIF-to-entry conversion belongs to the external tool runner.
type diagnosticEntry struct {
	Path      string  `json:"path"`
	Line      *int    `json:"line,omitempty"`
	Column    *int    `json:"column,omitempty"`
	EndLine   *int    `json:"end_line,omitempty"`
	EndColumn *int    `json:"end_column,omitempty"`
	Severity  *string `json:"severity,omitempty"`
	Message   string  `json:"message"`
	RuleID    *string `json:"rule_id,omitempty"`
	Tool      *string `json:"tool,omitempty"`
	Snippet   *string `json:"snippet,omitempty"`
}

func (e diagnosticEntry) toDiagnostic() model.Diagnostic {
	line := 0
	if e.Line != nil {
		line = *e.Line
	}
	rule := ""
	if e.RuleID != nil {
		rule = *e.RuleID
	}
	return model.Diagnostic{
		Path:           e.Path,
		Line:           e.Line,
		Column:         e.Column,
		EndLine:        e.EndLine,
		EndColumn:      e.EndColumn,
		Severity:       e.Severity,
		Message:        e.Message,
		RuleID:         e.RuleID,
		Tool:           e.Tool,
		Snippet:        e.Snippet,
		DiagnosticHash: model.DiagnosticHash(e.Path, line, rule, e.Message),
	}
}

func handleDiagnosticsImport(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	var diags []model.Diagnostic

	if raw, ok := p["entries"]; ok {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed entries: %w", err)
		}
		var entries []diagnosticEntry
		if err := json.Unmarshal(b, &entries); err != nil {
			return nil, fmt.Errorf("malformed entries: %w", err)
		}
		for _, e := range entries {
			diags = append(diags, e.toDiagnostic())
		}
	}

	dir := filepath.Join(d.RepoRoot, ".lidx", "diagnostics")
	var scanned []string
	dirEntries, err := os.ReadDir(dir)
	if err != nil && len(diags) == 0 {
		return map[string]interface{}{"imported": 0, "status": "skipped", "hint": "no .lidx/diagnostics directory and no inline entries"}, nil
	}
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			continue
		}
		var entries []diagnosticEntry
		if err := json.Unmarshal(b, &entries); err != nil {
			continue
		}
		scanned = append(scanned, de.Name())
		for _, e := range entries {
			diags = append(diags, e.toDiagnostic())
		}
	}

	inserted, err := d.Store.InsertDiagnostics(ctx, diags)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"imported":      inserted,
		"deduplicated":  len(diags) - inserted,
		"scanned_files": scanned,
		"status":        "ok",
	}, nil
}

func handleDiagnosticsList(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	prefixes, err := canonicalizePrefixes(d.RepoRoot, p.stringSlice("paths"))
	if err != nil {
		return nil, err
	}
	filt := store.DiagnosticFilter{
		PathPrefixes: prefixes,
		Limit:        p.limit(200),
		Offset:       p.int("offset", 0),
	}
	if sev, ok := p.stringOpt("severity"); ok {
		filt.Severity = &sev
	}
	if tool, ok := p.stringOpt("tool"); ok {
		filt.Tool = &tool
	}
	return d.Store.ListDiagnostics(ctx, filt)
}

func handleDiagnosticsSummary(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	return d.Store.DiagnosticsSummary(ctx)
}

func handleGatherContext(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	sym, err := resolveTargetSymbol(ctx, d, p, version)
	if err != nil {
		return nil, err
	}
	edges, err := d.Store.EdgesForSymbols(ctx, []int64{sym.ID}, version)
	if err != nil {
		return nil, err
	}
	neighborhood, err := subgraph.Build(ctx, d.Store, d.Store, []int64{sym.ID}, p.int("depth", 1), p.int("max_nodes", 40), version, subgraph.Filter{})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"symbol": sym, "direct_edges": edges, "neighborhood": neighborhood}, nil
}

func handleOnboard(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	version, err := p.graphVersion(ctx, d.Store)
	if err != nil {
		return nil, err
	}
	digest, err := buildNarrationDigest(ctx, d, version)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"narrative": d.Summarizer.Summarize(ctx, digest), "digest": digest}, nil
}

func handleReflect(ctx context.Context, d *Dispatcher, p params) (interface{}, error) {
	return handleOnboard(ctx, d, p)
}

func buildNarrationDigest(ctx context.Context, d *Dispatcher, version int64) (narrate.Digest, error) {
	files, err := d.Store.ListLiveFiles(ctx, version, nil, nil)
	if err != nil {
		return narrate.Digest{}, err
	}
	counts, err := d.Store.CountSymbolsByKind(ctx, version)
	if err != nil {
		return narrate.Digest{}, err
	}
	symbolCount := 0
	for _, c := range counts {
		symbolCount += c
	}
	top, err := d.Store.TopComplexity(ctx, version, 5)
	if err != nil {
		return narrate.Digest{}, err
	}
	var topNames []string
	for _, t := range top {
		topNames = append(topNames, t.Symbol.Qualname)
	}
	coupling, err := d.Store.CouplingHotspots(ctx, 0, 5)
	if err != nil {
		return narrate.Digest{}, err
	}
	var couplingNames []string
	for _, c := range coupling {
		couplingNames = append(couplingNames, c.FileA+" <-> "+c.FileB)
	}
	dead, err := d.Store.DeadSymbols(ctx, version, nil)
	if err != nil {
		return narrate.Digest{}, err
	}
	orphans, err := d.Store.OrphanTests(ctx, version)
	if err != nil {
		return narrate.Digest{}, err
	}

	return narrate.Digest{
		RepoName:        filepath.Base(d.RepoRoot),
		FileCount:       len(files),
		SymbolCount:     symbolCount,
		TopComplexity:   topNames,
		TopCoupling:     couplingNames,
		DeadSymbolCount: len(dead),
		OrphanTestCount: len(orphans),
	}, nil
}
