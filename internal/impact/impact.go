// Package impact implements the multi-layer impact analysis behind the
// `analyze_impact` RPC method: a direct call-graph layer, a test-coverage
// layer, and a historical co-change layer, computed independently and
// merged by maximum confidence.
package impact

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/graphidx/graphidx/internal/model"
)

// DefaultDirectKinds is the edge-kind set the direct layer follows.
var DefaultDirectKinds = []string{model.EdgeCalls, model.EdgeImplements, model.EdgeExtends, model.EdgeRPCImpl}

// DefaultDecay is the per-hop confidence multiplier.
const DefaultDecay = 0.8

// Store is the subset of store.Store the engine needs.
type Store interface {
	EdgesForSymbols(ctx context.Context, ids []int64, version int64) ([]model.Edge, error)
	GetSymbolByID(ctx context.Context, id int64) (*model.Symbol, error)
	GetFileByID(ctx context.Context, id int64) (*model.File, error)
	CoChangesForFile(ctx context.Context, path string) ([]model.CoChange, error)
	GetSymbolsForFile(ctx context.Context, path string, version int64) ([]model.Symbol, error)
}

// Direction mirrors trace.Direction for the direct layer.
type Direction string

const (
	Downstream Direction = "downstream"
	Upstream   Direction = "upstream"
)

// Config controls one analyze_impact call.
type Config struct {
	Direction     Direction
	DirectKinds   []string
	MaxHops       int
	Decay         float64
	IndirectDepth int
	MinConfidence float64
	Limit         int
	IncludePath   bool
}

// DefaultConfig returns the defaults analyze_impact runs with when the
// caller leaves everything unset.
func DefaultConfig() Config {
	return Config{
		Direction:     Downstream,
		DirectKinds:   DefaultDirectKinds,
		MaxHops:       5,
		Decay:         DefaultDecay,
		IndirectDepth: 3,
		MinConfidence: 0.0,
		Limit:         100,
	}
}

// Impacted is one symbol found by any layer, with the best confidence
// across all layers that found it and the layer names that contributed.
// Path is the symbol-id chain from the seed to this symbol, populated by
// the edge-walking layers (direct, test); the historical layer is
// file-granular and has no edge chain, so its entries carry no Path.
type Impacted struct {
	Symbol     model.Symbol `json:"symbol"`
	Confidence float64      `json:"confidence"`
	Distance   int          `json:"distance"`
	Layers     []string     `json:"layers"`
	Path       []int64      `json:"path,omitempty"`
}

// Result is the merged, sorted, capped output of analyze_impact.
type Result struct {
	Impacted []Impacted `json:"impacted"`
}

// Analyze runs the direct, test, and historical layers concurrently and
// merges their findings by maximum confidence per symbol id.
func Analyze(ctx context.Context, st Store, seedIDs []int64, cfg Config, version int64) (Result, error) {
	if cfg.Decay <= 0 {
		cfg.Decay = DefaultDecay
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 5
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if len(cfg.DirectKinds) == 0 {
		cfg.DirectKinds = DefaultDirectKinds
	}

	var direct, test, historical map[int64]Impacted

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		direct, err = directLayer(gctx, st, seedIDs, cfg, version)
		return err
	})
	g.Go(func() error {
		var err error
		test, err = testLayer(gctx, st, seedIDs, cfg, version)
		return err
	})
	g.Go(func() error {
		var err error
		historical, err = historicalLayer(gctx, st, seedIDs, version)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	merged := make(map[int64]Impacted)
	for _, layer := range []map[int64]Impacted{direct, test, historical} {
		for id, imp := range layer {
			existing, ok := merged[id]
			if !ok {
				merged[id] = imp
				continue
			}
			// Higher confidence wins the entry, but a hop chain from the
			// losing layer is still worth keeping when the winner (the
			// file-granular historical layer) has none.
			if imp.Confidence > existing.Confidence {
				imp.Layers = append(existing.Layers, imp.Layers...)
				if imp.Path == nil {
					imp.Path = existing.Path
				}
				merged[id] = imp
			} else {
				existing.Layers = append(existing.Layers, imp.Layers...)
				if existing.Path == nil {
					existing.Path = imp.Path
				}
				merged[id] = existing
			}
		}
	}

	out := make([]Impacted, 0, len(merged))
	for _, imp := range merged {
		if imp.Confidence < cfg.MinConfidence {
			continue
		}
		if !cfg.IncludePath {
			imp.Path = nil
		}
		out = append(out, imp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Symbol.ID < out[j].Symbol.ID
	})
	if len(out) > cfg.Limit {
		out = out[:cfg.Limit]
	}

	return Result{Impacted: out}, nil
}

func directLayer(ctx context.Context, st Store, seedIDs []int64, cfg Config, version int64) (map[int64]Impacted, error) {
	allowed := make(map[string]bool, len(cfg.DirectKinds))
	for _, k := range cfg.DirectKinds {
		allowed[k] = true
	}

	visited := make(map[int64]bool, len(seedIDs))
	paths := make(map[int64][]int64, len(seedIDs))
	for _, id := range seedIDs {
		visited[id] = true
		paths[id] = []int64{id}
	}
	frontier := append([]int64(nil), seedIDs...)

	out := make(map[int64]Impacted)
	confidence := 1.0

	for hop := 1; hop <= cfg.MaxHops && len(frontier) > 0; hop++ {
		confidence *= cfg.Decay

		edges, err := st.EdgesForSymbols(ctx, frontier, version)
		if err != nil {
			return nil, err
		}

		var next []int64
		for _, e := range edges {
			var fromID, toID *int64
			if cfg.Direction == Upstream {
				fromID, toID = e.TargetSymbolID, e.SourceSymbolID
			} else {
				fromID, toID = e.SourceSymbolID, e.TargetSymbolID
			}
			if !allowed[e.Kind] || fromID == nil || toID == nil {
				continue
			}
			inFrontier := false
			for _, f := range frontier {
				if f == *fromID {
					inFrontier = true
					break
				}
			}
			if !inFrontier || visited[*toID] {
				continue
			}
			visited[*toID] = true
			next = append(next, *toID)

			path := append(append([]int64(nil), paths[*fromID]...), *toID)
			paths[*toID] = path

			sym, err := st.GetSymbolByID(ctx, *toID)
			if err != nil || sym == nil {
				continue
			}
			out[*toID] = Impacted{Symbol: *sym, Confidence: confidence, Distance: hop, Layers: []string{"direct"}, Path: path}
		}
		frontier = next
	}

	return out, nil
}

func isTestSymbol(path, name string) bool {
	lp := strings.ToLower(path)
	if strings.Contains(lp, "test") || strings.Contains(lp, "spec") {
		return true
	}
	return strings.HasPrefix(name, "test_") || strings.HasPrefix(name, "Test") ||
		strings.HasSuffix(name, "_test") || strings.HasSuffix(name, "Test") || strings.HasSuffix(name, "Tests")
}

func testLayer(ctx context.Context, st Store, seedIDs []int64, cfg Config, version int64) (map[int64]Impacted, error) {
	depth := cfg.IndirectDepth
	if depth <= 0 {
		depth = 3
	}

	out := make(map[int64]Impacted)
	visited := make(map[int64]bool, len(seedIDs))
	paths := make(map[int64][]int64, len(seedIDs))
	for _, id := range seedIDs {
		visited[id] = true
		paths[id] = []int64{id}
	}
	frontier := append([]int64(nil), seedIDs...)
	confidence := 1.0

	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		edges, err := st.EdgesForSymbols(ctx, frontier, version)
		if err != nil {
			return nil, err
		}

		var next []int64
		for _, e := range edges {
			if e.Kind != model.EdgeCalls || e.TargetSymbolID == nil || e.SourceSymbolID == nil {
				continue
			}
			inFrontier := false
			for _, f := range frontier {
				if f == *e.TargetSymbolID {
					inFrontier = true
					break
				}
			}
			if !inFrontier || visited[*e.SourceSymbolID] {
				continue
			}
			visited[*e.SourceSymbolID] = true

			callerPath := append(append([]int64(nil), paths[*e.TargetSymbolID]...), *e.SourceSymbolID)
			paths[*e.SourceSymbolID] = callerPath

			sym, err := st.GetSymbolByID(ctx, *e.SourceSymbolID)
			if err != nil || sym == nil {
				continue
			}
			var path string
			if f, err := st.GetFileByID(ctx, sym.FileID); err == nil && f != nil {
				path = f.Path
			}
			if !isTestSymbol(path, sym.Name) {
				next = append(next, *e.SourceSymbolID)
				continue
			}

			c := 1.0
			if hop > 1 {
				c = confidence
			}
			out[*e.SourceSymbolID] = Impacted{Symbol: *sym, Confidence: c, Distance: hop, Layers: []string{"test"}, Path: callerPath}
			next = append(next, *e.SourceSymbolID)
		}
		frontier = next
		confidence *= DefaultDecay
	}

	return out, nil
}

// historicalLayer mines the co_changes table for files that tend to
// change alongside a seed's own file; co-change is file-granular, so
// every symbol of the co-changing file inherits the stored confidence.
func historicalLayer(ctx context.Context, st Store, seedIDs []int64, version int64) (map[int64]Impacted, error) {
	out := make(map[int64]Impacted)
	seen := make(map[string]bool)

	for _, id := range seedIDs {
		sym, err := st.GetSymbolByID(ctx, id)
		if err != nil || sym == nil {
			continue
		}
		f, err := st.GetFileByID(ctx, sym.FileID)
		if err != nil || f == nil || seen[f.Path] {
			continue
		}
		seen[f.Path] = true

		changes, err := st.CoChangesForFile(ctx, f.Path)
		if err != nil {
			return nil, err
		}
		for _, c := range changes {
			otherPath := c.FileB
			if otherPath == f.Path {
				otherPath = c.FileA
			}

			symbols, err := st.GetSymbolsForFile(ctx, otherPath, version)
			if err != nil {
				return nil, err
			}
			for _, s := range symbols {
				existing, ok := out[s.ID]
				if ok && existing.Confidence >= c.Confidence {
					continue
				}
				out[s.ID] = Impacted{Symbol: s, Confidence: c.Confidence, Distance: 1, Layers: []string{"historical"}}
			}
		}
	}

	return out, nil
}
