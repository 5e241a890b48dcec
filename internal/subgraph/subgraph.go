// Package subgraph implements the bounded, deterministic BFS that backs
// the `subgraph` RPC method: starting from a seed set of symbol ids,
// expand outward in both directions up to a hop limit or a node-count
// cap, whichever is reached first, applying an edge-kind allow/deny
// filter and an optional resolved-only restriction.
package subgraph

import (
	"context"
	"errors"
	"sort"

	"github.com/graphidx/graphidx/internal/model"
	"github.com/graphidx/graphidx/internal/store"
)

// EdgeSource is the subset of store.Store the engine needs to expand a
// node: all edges touching a batch of symbol ids.
type EdgeSource interface {
	EdgesForSymbols(ctx context.Context, ids []int64, version int64) ([]model.Edge, error)
}

// Filter controls which edges participate in traversal and in the final
// output. ExcludeAll is a sentinel meaning "no edges match" (the
// "exclude all kinds" sentinel), distinct from an empty
// Exclude set which means "exclude nothing".
type Filter struct {
	Include      map[string]bool // nil/empty = no include restriction
	Exclude      map[string]bool
	ExcludeAll   bool
	ResolvedOnly bool
}

func (f Filter) allows(e model.Edge) bool {
	if f.ExcludeAll {
		return false
	}
	if len(f.Include) > 0 && !f.Include[e.Kind] {
		return false
	}
	if f.Exclude[e.Kind] {
		return false
	}
	if f.ResolvedOnly && (e.SourceSymbolID == nil || e.TargetSymbolID == nil) {
		return false
	}
	return true
}

// Result is the bounded subgraph: nodes and edges are both sorted by id
// ascending so repeated calls against an unchanged store produce
// byte-identical output.
type Result struct {
	Nodes []model.Symbol `json:"nodes"`
	Edges []model.Edge   `json:"edges"`
}

// SymbolLookup resolves symbol ids to full Symbol rows for the final
// node list.
type SymbolLookup interface {
	GetSymbolByID(ctx context.Context, id int64) (*model.Symbol, error)
}

// Build runs the bounded BFS from startIDs.
//
// Invariant: len(result.Nodes) <= maxNodes, and every node
// is within depth hops of some start id — enforced directly by the loop
// structure below (nodes are only admitted at a known hop distance, and
// the loop stops expanding once depth is exhausted).
func Build(ctx context.Context, edges EdgeSource, symbols SymbolLookup, startIDs []int64, depth, maxNodes int, version int64, filter Filter) (Result, error) {
	visited := make(map[int64]bool, maxNodes)
	frontier := make([]int64, 0, len(startIDs))
	for _, id := range startIDs {
		if !visited[id] {
			visited[id] = true
			frontier = append(frontier, id)
		}
		if len(visited) >= maxNodes {
			break
		}
	}

	edgeByID := make(map[int64]model.Edge)

	for hop := 0; hop < depth && len(frontier) > 0 && len(visited) < maxNodes; hop++ {
		batch, err := edges.EdgesForSymbols(ctx, frontier, version)
		if err != nil {
			return Result{}, err
		}

		var next []int64
		for _, e := range batch {
			if !filter.allows(e) {
				continue
			}
			edgeByID[e.ID] = e

			for _, candidate := range []*int64{e.SourceSymbolID, e.TargetSymbolID} {
				if candidate == nil {
					continue
				}
				if visited[*candidate] {
					continue
				}
				if len(visited) >= maxNodes {
					continue
				}
				visited[*candidate] = true
				next = append(next, *candidate)
			}
		}
		frontier = next
	}

	ids := make([]int64, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	nodes := make([]model.Symbol, 0, len(ids))
	for _, id := range ids {
		sym, err := symbols.GetSymbolByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// A start id that doesn't exist at this version contributes
			// nothing rather than failing the whole subgraph.
			continue
		}
		if err != nil {
			return Result{}, err
		}
		if sym != nil {
			nodes = append(nodes, *sym)
		}
	}

	// Final edge set is restricted to edges with at least one resolved
	// end in the admitted node set; either end suffices. An edge none of
	// whose resolved ends is in the set (such as an unresolved edge
	// attached by name whose source lies outside it) is dropped.
	edgeIDs := make([]int64, 0, len(edgeByID))
	for id, e := range edgeByID {
		if edgeTouchesSet(e, visited) {
			edgeIDs = append(edgeIDs, id)
		}
	}
	sort.Slice(edgeIDs, func(i, j int) bool { return edgeIDs[i] < edgeIDs[j] })

	outEdges := make([]model.Edge, 0, len(edgeIDs))
	for _, id := range edgeIDs {
		outEdges = append(outEdges, edgeByID[id])
	}

	return Result{Nodes: nodes, Edges: outEdges}, nil
}

func edgeTouchesSet(e model.Edge, set map[int64]bool) bool {
	if e.SourceSymbolID != nil && set[*e.SourceSymbolID] {
		return true
	}
	if e.TargetSymbolID != nil && set[*e.TargetSymbolID] {
		return true
	}
	return false
}
