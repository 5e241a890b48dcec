// Package diffanalyzer parses a unified diff, maps its hunks onto live
// symbols by line-range overlap, classifies the change per symbol, walks
// the downstream call graph and test coverage, and assembles a risk
// taxonomy for the `analyze_diff` RPC method.
package diffanalyzer

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/graphidx/graphidx/internal/model"
)

// Store is the subset of store.Store the analyzer needs.
type Store interface {
	GetSymbolsForFile(ctx context.Context, path string, version int64) ([]model.Symbol, error)
	GetSymbolByQualname(ctx context.Context, qualname string, version int64) (*model.Symbol, error)
	EdgesForSymbols(ctx context.Context, ids []int64, version int64) ([]model.Edge, error)
	GetSymbolByID(ctx context.Context, id int64) (*model.Symbol, error)
	GetFileByID(ctx context.Context, id int64) (*model.File, error)
}

// HistoryStore optionally exposes a prior version's signature for a
// symbol, needed to detect signature_changed. The key is (qualname,
// file path) — the identity that survives a signature change. A stable
// id cannot serve here: it hashes the signature, so the post-change id
// never matches any pre-change history entry. Implementations that don't
// retain history may always return ("", false).
type HistoryStore interface {
	PriorSignature(ctx context.Context, qualname, filePath string, version int64) (signature string, ok bool)
}

const maxDownstream = 50

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Hunk is one parsed @@ block: the changed line ranges in old and new
// file coordinates.
type Hunk struct {
	OldStart, OldLines int
	NewStart, NewLines int
	AddedLines         []int
	DeletedLines       []int
}

// FileDiff is all hunks for one path.
type FileDiff struct {
	Path  string
	Hunks []Hunk
}

// ParseUnifiedDiff parses a standard unified diff (as produced by `git
// diff`) into per-file hunks. Only the `+++ b/path` header and `@@` hunk
// markers are consulted; context lines are ignored beyond counting.
func ParseUnifiedDiff(diff string) []FileDiff {
	var files []FileDiff
	var current *FileDiff
	var hunk *Hunk
	newLine := 0

	scanner := bufio.NewScanner(strings.NewReader(diff))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "+++ "):
			path := strings.TrimPrefix(line, "+++ ")
			path = strings.TrimPrefix(path, "b/")
			if current != nil {
				files = append(files, *current)
			}
			current = &FileDiff{Path: path}
			hunk = nil
		case hunkHeader.MatchString(line):
			m := hunkHeader.FindStringSubmatch(line)
			oldStart, _ := strconv.Atoi(m[1])
			newStart, _ := strconv.Atoi(m[3])
			oldLines, newLines := 1, 1
			if m[2] != "" {
				oldLines, _ = strconv.Atoi(m[2])
			}
			if m[4] != "" {
				newLines, _ = strconv.Atoi(m[4])
			}
			if current == nil {
				current = &FileDiff{}
			}
			current.Hunks = append(current.Hunks, Hunk{OldStart: oldStart, OldLines: oldLines, NewStart: newStart, NewLines: newLines})
			hunk = &current.Hunks[len(current.Hunks)-1]
			newLine = newStart
		case hunk != nil && strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			hunk.AddedLines = append(hunk.AddedLines, newLine)
			newLine++
		case hunk != nil && strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			hunk.DeletedLines = append(hunk.DeletedLines, newLine)
		case hunk != nil && strings.HasPrefix(line, " "):
			newLine++
		}
	}
	if current != nil {
		files = append(files, *current)
	}
	return files
}

// ChangeType classifies how a symbol relates to a diff.
type ChangeType string

const (
	Added            ChangeType = "added"
	Modified         ChangeType = "modified"
	SignatureChanged ChangeType = "signature_changed"
)

// Severity levels for risk factors, ordered low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3}

// RiskFactor is one entry in the risk taxonomy.
type RiskFactor struct {
	Factor      string   `json:"factor"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// ChangedSymbol is one symbol overlapping the diff, with its
// classification, downstream callers, and test coverage.
type ChangedSymbol struct {
	Symbol       model.Symbol `json:"symbol"`
	ChangeType   ChangeType   `json:"change_type"`
	Downstream   []Impacted   `json:"downstream,omitempty"`
	TestCoverage []model.Symbol `json:"test_coverage,omitempty"`
}

// Impacted is one caller found during the downstream BFS.
type Impacted struct {
	Symbol     model.Symbol `json:"symbol"`
	Distance   int          `json:"distance"`
	Confidence float64      `json:"confidence"`
}

// Result is the full analyze_diff response.
type Result struct {
	ChangedSymbols  []ChangedSymbol `json:"changed_symbols"`
	Risk            RiskAssessment  `json:"risk"`
	ReviewChecklist []string        `json:"review_checklist"`
}

// RiskAssessment aggregates the factor taxonomy into an overall level.
type RiskAssessment struct {
	Level   Severity     `json:"level"`
	Factors []RiskFactor `json:"factors"`
}

// Options configures one analyze_diff call.
type Options struct {
	IncludeTests bool
	IncludeRisk  bool
	MaxDepth     int
	Version      int64
}

// AnalyzeDiff resolves the diff's hunks against live symbols, classifies
// each overlapping symbol, walks downstream impact and test coverage, and
// assembles the risk taxonomy for the response.
func AnalyzeDiff(ctx context.Context, st Store, hist HistoryStore, files []FileDiff, opts Options) (Result, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}

	var changed []ChangedSymbol
	var downstreamTotal int
	affectedFiles := make(map[string]bool)
	testCoveredAll := true
	hasUncovered := false
	crossLangCaller := false
	interfaceChanged := false
	maxCallers := 0

	for _, fd := range files {
		symbols, err := st.GetSymbolsForFile(ctx, fd.Path, opts.Version)
		if err != nil {
			return Result{}, err
		}

		for _, sym := range symbols {
			// A FileDiff with no hunks is a bare path: the caller supplied
			// paths instead of a diff, so every live symbol of the file
			// counts as changed.
			overlap, entirelyAdded := true, false
			if len(fd.Hunks) > 0 {
				overlap, entirelyAdded = overlapsAnyHunk(sym, fd.Hunks)
			}
			if !overlap {
				continue
			}

			changeType := Modified
			if entirelyAdded {
				changeType = Added
			}
			if hist != nil && sym.Signature != nil {
				if prior, ok := hist.PriorSignature(ctx, sym.Qualname, fd.Path, opts.Version-1); ok && prior != "" && prior != *sym.Signature {
					changeType = SignatureChanged
				}
			}

			cs := ChangedSymbol{Symbol: sym, ChangeType: changeType}

			downstream, err := downstreamCallers(ctx, st, sym.ID, maxDepth, opts.Version)
			if err != nil {
				return Result{}, err
			}
			cs.Downstream = downstream
			downstreamTotal += len(downstream)
			if len(downstream) > maxCallers {
				maxCallers = len(downstream)
			}
			for _, d := range downstream {
				if f, err := st.GetFileByID(ctx, d.Symbol.FileID); err == nil && f != nil {
					affectedFiles[f.Path] = true
					if f.Language != "" {
						if curFile, err := st.GetFileByID(ctx, sym.FileID); err == nil && curFile != nil && curFile.Language != f.Language {
							crossLangCaller = true
						}
					}
				}
			}

			if sym.Kind == "interface" || sym.Kind == "trait" || sym.Kind == "abstract_class" {
				if changeType != Added {
					interfaceChanged = true
				}
			}

			if opts.IncludeTests {
				tests, err := testCoverage(ctx, st, sym.ID, opts.Version)
				if err != nil {
					return Result{}, err
				}
				cs.TestCoverage = tests
				if len(tests) == 0 {
					hasUncovered = true
					testCoveredAll = false
				}
			}

			changed = append(changed, cs)
		}
	}
	_ = testCoveredAll

	var risk RiskAssessment
	var checklist []string
	if opts.IncludeRisk {
		risk, checklist = assessRisk(changed, maxCallers, len(affectedFiles), crossLangCaller, interfaceChanged, hasUncovered)
	}

	sort.Slice(changed, func(i, j int) bool { return changed[i].Symbol.ID < changed[j].Symbol.ID })

	return Result{ChangedSymbols: changed, Risk: risk, ReviewChecklist: checklist}, nil
}

func overlapsAnyHunk(sym model.Symbol, hunks []Hunk) (overlap bool, entirelyAdded bool) {
	for _, h := range hunks {
		hunkEnd := h.NewStart + h.NewLines - 1
		if sym.StartLine <= hunkEnd && sym.EndLine >= h.NewStart {
			overlap = true
			if containsRange(h.AddedLines, sym.StartLine, sym.EndLine) {
				entirelyAdded = true
			}
		}
	}
	return overlap, overlap && entirelyAdded
}

func containsRange(lines []int, start, end int) bool {
	have := make(map[int]bool, len(lines))
	for _, l := range lines {
		have[l] = true
	}
	for l := start; l <= end; l++ {
		if !have[l] {
			return false
		}
	}
	return len(lines) > 0
}

// downstreamCallers walks incoming CALLS edges from the changed symbol
// up to maxDepth with decaying confidence. Unresolved edges attached by
// the store's qualname-pattern pass count as callers too, at a reduced
// confidence, since their target id is only a name match.
func downstreamCallers(ctx context.Context, st Store, seedID int64, maxDepth int, version int64) ([]Impacted, error) {
	visited := map[int64]bool{seedID: true}
	frontier := []int64{seedID}
	var out []Impacted
	confidence := 1.0

	for hop := 1; hop <= maxDepth && len(frontier) > 0 && len(out) < maxDownstream; hop++ {
		confidence *= 0.8
		edges, err := st.EdgesForSymbols(ctx, frontier, version)
		if err != nil {
			return nil, err
		}
		var next []int64
		for _, e := range edges {
			if e.Kind != model.EdgeCalls || e.SourceSymbolID == nil {
				continue
			}
			callerConfidence := confidence
			if e.TargetSymbolID == nil {
				// Qualname-pattern match only.
				callerConfidence *= 0.8
			} else {
				inFrontier := false
				for _, f := range frontier {
					if f == *e.TargetSymbolID {
						inFrontier = true
						break
					}
				}
				if !inFrontier {
					continue
				}
			}
			if visited[*e.SourceSymbolID] {
				continue
			}
			visited[*e.SourceSymbolID] = true
			sym, err := st.GetSymbolByID(ctx, *e.SourceSymbolID)
			if err != nil || sym == nil {
				continue
			}
			out = append(out, Impacted{Symbol: *sym, Distance: hop, Confidence: callerConfidence})
			next = append(next, *e.SourceSymbolID)
			if len(out) >= maxDownstream {
				break
			}
		}
		frontier = next
	}
	return out, nil
}

func isTestCaller(path string, sym model.Symbol) bool {
	lp := strings.ToLower(path)
	if strings.Contains(lp, "test") || strings.Contains(lp, "spec") {
		return true
	}
	name := sym.Name
	return sym.Kind == "test" || strings.HasPrefix(name, "test_") || strings.HasPrefix(name, "Test") ||
		strings.HasSuffix(name, "_test") || strings.HasSuffix(name, "Test") || strings.HasSuffix(name, "Tests")
}

func testCoverage(ctx context.Context, st Store, seedID int64, version int64) ([]model.Symbol, error) {
	edges, err := st.EdgesForSymbols(ctx, []int64{seedID}, version)
	if err != nil {
		return nil, err
	}
	var out []model.Symbol
	for _, e := range edges {
		if e.Kind != model.EdgeCalls || e.SourceSymbolID == nil {
			continue
		}
		if e.TargetSymbolID != nil && *e.TargetSymbolID != seedID {
			continue
		}
		sym, err := st.GetSymbolByID(ctx, *e.SourceSymbolID)
		if err != nil || sym == nil {
			continue
		}
		var path string
		if f, err := st.GetFileByID(ctx, sym.FileID); err == nil && f != nil {
			path = f.Path
		}
		if isTestCaller(path, *sym) {
			out = append(out, *sym)
		}
	}
	return out, nil
}

func assessRisk(changed []ChangedSymbol, maxCallers, affectedFiles int, crossLangCaller, interfaceChanged, hasUncovered bool) (RiskAssessment, []string) {
	var factors []RiskFactor
	var checklist []string

	for _, cs := range changed {
		if cs.ChangeType == SignatureChanged {
			callers := len(cs.Downstream)
			sev := SeverityHigh
			if callers > 10 {
				sev = SeverityCritical
			}
			factors = append(factors, RiskFactor{
				Factor:      "signature_changed",
				Description: fmt.Sprintf("%s changed signature with %d known callers", cs.Symbol.Qualname, callers),
				Severity:    sev,
			})
			for _, d := range cs.Downstream {
				checklist = append(checklist, fmt.Sprintf("Verify caller %s still compiles against %s's new signature", d.Symbol.Qualname, cs.Symbol.Qualname))
			}
		}
	}

	if crossLangCaller {
		factors = append(factors, RiskFactor{Factor: "cross_language_caller", Description: "a changed symbol has callers in a different language", Severity: SeverityHigh})
	}
	if interfaceChanged {
		factors = append(factors, RiskFactor{Factor: "interface_changed", Description: "an interface, trait, or abstract class changed", Severity: SeverityHigh})
	}
	if maxCallers > 10 {
		factors = append(factors, RiskFactor{Factor: "high_fan_in", Description: fmt.Sprintf("a changed symbol has %d downstream callers", maxCallers), Severity: SeverityHigh})
	}
	if affectedFiles > 3 {
		factors = append(factors, RiskFactor{Factor: "wide_blast_radius", Description: fmt.Sprintf("%d files affected downstream", affectedFiles), Severity: SeverityMedium})
	}
	if hasUncovered {
		factors = append(factors, RiskFactor{Factor: "uncovered_change", Description: "a changed symbol has no direct test caller", Severity: SeverityMedium})
		checklist = append(checklist, "Add or extend a test that directly exercises the changed symbol")
	}

	level := SeverityLow
	for _, f := range factors {
		if severityRank[f.Severity] > severityRank[level] {
			level = f.Severity
		}
	}

	return RiskAssessment{Level: level, Factors: factors}, checklist
}
