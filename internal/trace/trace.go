// Package trace implements directed breadth-first traversal of the call
// graph for the `trace_flow` RPC method: follow CALLS/RPC/HTTP/CHANNEL
// edges from a start symbol, optionally hopping across service or
// language boundaries via bridge (complement-kind) edges, until the
// target is reached, the hop limit is exhausted, or the serialized
// byte budget for the trace is used up.
package trace

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/graphidx/graphidx/internal/model"
	"github.com/graphidx/graphidx/internal/store"
)

// Direction controls which end of an edge is followed.
type Direction string

const (
	Downstream Direction = "downstream" // source -> target
	Upstream   Direction = "upstream"   // target -> source
)

// DefaultKinds is the edge-kind set trace_flow uses when the caller does
// not specify one.
var DefaultKinds = []string{
	model.EdgeCalls, model.EdgeRPCImpl, model.EdgeRPCCall, model.EdgeXRef,
	model.EdgeChannelPublish, model.EdgeChannelSubscribe, model.EdgeHTTPCall, model.EdgeHTTPRoute,
}

// EdgeSource is the store surface the engine needs: edges touching a
// symbol, and a name lookup for the unresolved-target fallback.
type EdgeSource interface {
	EdgesForSymbols(ctx context.Context, ids []int64, version int64) ([]model.Edge, error)
	FindSymbolsByNamePrefix(ctx context.Context, prefix string, limit int, languages []string, version int64) ([]model.Symbol, error)
	ListEdges(ctx context.Context, f store.EdgeFilter) ([]model.Edge, error)
	GetSymbolByID(ctx context.Context, id int64) (*model.Symbol, error)
	GetFileByID(ctx context.Context, id int64) (*model.File, error)
}

// ProtocolContext is the decoded form of an edge's detail JSON for
// RPC/HTTP/CHANNEL kinds.
type ProtocolContext struct {
	Framework string `json:"framework,omitempty"`
	Service   string `json:"service,omitempty"`
	RPC       string `json:"rpc,omitempty"`
	Package   string `json:"package,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Hop is one step of a trace: the edge traversed, plus the symbol it
// landed on and any cross-boundary annotation.
type Hop struct {
	Edge           model.Edge       `json:"edge"`
	Symbol         *model.Symbol    `json:"symbol,omitempty"`
	Protocol       *ProtocolContext `json:"protocol,omitempty"`
	CrossLanguage  bool             `json:"cross_language,omitempty"`
	BoundaryType   string           `json:"boundary_type,omitempty"`
	BoundaryDetail string           `json:"boundary_detail,omitempty"`
}

// Result is the full trace_flow response.
type Result struct {
	Hops          []Hop `json:"hops"`
	ReachedTarget bool  `json:"reached_target"`
	Truncated     bool  `json:"truncated"`
	PathsFound    int   `json:"paths_found"`
}

// Options configures one trace_flow call.
type Options struct {
	Direction       Direction
	MaxHops         int
	Kinds           []string
	IncludeSnippets bool
	MaxBytes        int
}

type queueItem struct {
	symbolID int64
	depth    int
}

// Run performs the bounded, budgeted BFS. end may be nil,
// meaning "explore as far as the budget allows".
func Run(ctx context.Context, src EdgeSource, start int64, end *int64, version int64, opts Options) (Result, error) {
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	maxHops := opts.MaxHops
	if maxHops <= 0 {
		maxHops = 10
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}

	visited := map[int64]bool{start: true}
	queue := []queueItem{{symbolID: start, depth: 0}}

	var hops []Hop
	reached := false
	truncated := false
	usedBytes := 0
	leavesAtDeepest := map[int64]bool{start: true}
	deepestDepth := 0

hopLoop:
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if item.depth >= maxHops {
			continue
		}

		edges, err := src.EdgesForSymbols(ctx, []int64{item.symbolID}, version)
		if err != nil {
			return Result{}, err
		}

		var itemName string
		if opts.Direction == Upstream {
			if sym, err := src.GetSymbolByID(ctx, item.symbolID); err == nil && sym != nil {
				itemName = sym.Name
			}
		}

		for _, e := range edges {
			if !allowed[e.Kind] {
				continue
			}

			var fromID, toID *int64
			if opts.Direction == Upstream {
				fromID, toID = e.TargetSymbolID, e.SourceSymbolID
			} else {
				fromID, toID = e.SourceSymbolID, e.TargetSymbolID
			}
			if fromID == nil {
				// Upstream only: an unresolved incoming edge whose
				// target_qualname suffix names this symbol is still a
				// caller worth following.
				patternMatch := opts.Direction == Upstream && itemName != "" &&
					e.TargetQualname != nil && strings.HasSuffix(*e.TargetQualname, "."+itemName)
				if !patternMatch {
					continue
				}
			} else if *fromID != item.symbolID {
				continue
			}

			hop := Hop{Edge: e}
			if !opts.IncludeSnippets {
				hop.Edge.EvidenceSnippet = nil
			}
			hop.Protocol = decodeProtocol(e.Detail)

			var nextID *int64
			if toID != nil {
				nextID = toID
			} else if e.TargetQualname != nil {
				// Unresolved-next fallback: one fuzzy suffix lookup.
				nextID, err = fuzzyResolve(ctx, src, *e.TargetQualname, version)
				if err != nil {
					return Result{}, err
				}
			}

			if complement, ok := model.ComplementKind(e.Kind); ok && e.TargetQualname != nil {
				if bridged, err := bridgeHop(ctx, src, complement, *e.TargetQualname, version); err == nil && bridged != nil {
					hop.CrossLanguage = true
					hop.BoundaryType, hop.BoundaryDetail = boundaryAnnotation(ctx, src, item.symbolID, bridged.ID, e.Kind)
					nextID = &bridged.ID
				}
			}

			// Cycle guard: a hop landing on an already-visited symbol is
			// dropped entirely, not recorded twice.
			if nextID != nil && visited[*nextID] {
				continue
			}

			if nextID != nil {
				sym, _ := src.GetSymbolByID(ctx, *nextID)
				hop.Symbol = sym
			}

			size := estimateSize(hop)
			if usedBytes+size > maxBytes {
				truncated = true
				break hopLoop
			}
			usedBytes += size
			hops = append(hops, hop)

			if nextID == nil {
				continue
			}
			if end != nil && *nextID == *end {
				reached = true
				break hopLoop
			}
			visited[*nextID] = true
			queue = append(queue, queueItem{symbolID: *nextID, depth: item.depth + 1})

			if item.depth+1 > deepestDepth {
				deepestDepth = item.depth + 1
				leavesAtDeepest = map[int64]bool{*nextID: true}
			} else if item.depth+1 == deepestDepth {
				leavesAtDeepest[*nextID] = true
			}
		}
	}

	if len(queue) > 0 && !reached {
		truncated = true
	}

	paths := 0
	if end != nil {
		if reached {
			paths = 1
		}
	} else {
		paths = len(leavesAtDeepest)
	}

	sort.SliceStable(hops, func(i, j int) bool { return hops[i].Edge.ID < hops[j].Edge.ID })

	return Result{Hops: hops, ReachedTarget: reached, Truncated: truncated, PathsFound: paths}, nil
}

func fuzzyResolve(ctx context.Context, src EdgeSource, qualname string, version int64) (*int64, error) {
	idx := strings.LastIndex(qualname, ".")
	name := qualname
	if idx >= 0 {
		name = qualname[idx+1:]
	}
	candidates, err := src.FindSymbolsByNamePrefix(ctx, name, 5, nil, version)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}
	for _, c := range candidates {
		if c.Name == name {
			id := c.ID
			return &id, nil
		}
	}
	return nil, nil
}

// bridgeHop finds the symbol on the other side of a boundary: the source
// of the complement-kind edge carrying the same target_qualname (e.g. the
// CHANNEL_SUBSCRIBE edge whose target_qualname matches a CHANNEL_PUBLISH
// edge's, or the RPC_IMPL edge matching an RPC_CALL's).
func bridgeHop(ctx context.Context, src EdgeSource, complementKind, qualname string, version int64) (*model.Symbol, error) {
	edges, err := src.ListEdges(ctx, store.EdgeFilter{
		Version:    version,
		Kinds:      []string{complementKind},
		TargetQual: &qualname,
		Limit:      1,
	})
	if err != nil || len(edges) == 0 {
		return nil, err
	}
	bridgeEdge := edges[0]
	if bridgeEdge.SourceSymbolID == nil {
		return nil, nil
	}
	return src.GetSymbolByID(ctx, *bridgeEdge.SourceSymbolID)
}

func boundaryAnnotation(ctx context.Context, src EdgeSource, fromSymbolID, toSymbolID int64, kind string) (boundaryType, detail string) {
	boundaryType = boundaryTypeForKind(kind)

	fromSym, _ := src.GetSymbolByID(ctx, fromSymbolID)
	toSym, _ := src.GetSymbolByID(ctx, toSymbolID)
	fromLang, toLang := "?", "?"
	if fromSym != nil {
		if f, err := src.GetFileByID(ctx, fromSym.FileID); err == nil && f != nil {
			fromLang = f.Language
		}
	}
	if toSym != nil {
		if f, err := src.GetFileByID(ctx, toSym.FileID); err == nil && f != nil {
			toLang = f.Language
		}
	}

	proto := "via " + boundaryType
	switch boundaryType {
	case "grpc":
		proto = "via gRPC"
	case "http":
		proto = "via HTTP"
	case "message_bus":
		proto = "via message bus"
	}
	detail = fromLang + " → " + toLang + " " + proto
	return boundaryType, detail
}

func boundaryTypeForKind(kind string) string {
	switch kind {
	case model.EdgeRPCCall, model.EdgeRPCImpl:
		return "grpc"
	case model.EdgeHTTPCall, model.EdgeHTTPRoute:
		return "http"
	case model.EdgeChannelPublish, model.EdgeChannelSubscribe:
		return "message_bus"
	default:
		return "xref"
	}
}

func decodeProtocol(detail *string) *ProtocolContext {
	if detail == nil || *detail == "" {
		return nil
	}
	var pc ProtocolContext
	if err := json.Unmarshal([]byte(*detail), &pc); err != nil {
		return nil
	}
	return &pc
}

func estimateSize(h Hop) int {
	b, err := json.Marshal(h)
	if err != nil {
		return 256
	}
	return len(b)
}
