// Package rpc implements the Dispatcher: a newline-delimited JSON
// transport over stdio plus the method routing, path safety, response
// budgets, and compact-format rewriting shared by every method.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/graphidx/graphidx/internal/apperrors"
	"github.com/graphidx/graphidx/internal/logging"
	"github.com/graphidx/graphidx/internal/model"
	"github.com/graphidx/graphidx/internal/narrate"
	"github.com/graphidx/graphidx/internal/resolver"
	"github.com/graphidx/graphidx/internal/store"
)

// MaxResponseLimit is the hard cap applied to every list endpoint's
// limit parameter.
const MaxResponseLimit = 500

// DefaultResponseBudget is the truncation budget applied when the caller
// sets neither max_response_bytes nor max_tokens.
const DefaultResponseBudget = 30 * 1024

// selfManagedBudget methods own their own response shaping and are
// exempt from the default 30 KB cap.
var selfManagedBudget = map[string]bool{
	"gather_context": true, "open_file": true, "help": true, "onboard": true, "reflect": true,
}

// aliases maps a caller-facing alias to its canonical method name.
var aliases = map[string]string{
	"search":         "search_text",
	"edges":          "list_edges",
	"xrefs":          "list_xrefs",
	"graph_versions": "list_graph_versions",
}

// Request is one JSON-RPC-shaped request read from the transport.
type Request struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is the reply written back; Error is populated instead of
// Result on failure.
type Response struct {
	ID     interface{} `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *errPayload `json:"error,omitempty"`
}

type errPayload struct {
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Handler resolves one method call against parsed params into a result.
type Handler func(ctx context.Context, d *Dispatcher, p params) (interface{}, error)

// Dispatcher routes method calls to handlers and applies the
// cross-cutting behavior every method shares.
type Dispatcher struct {
	Store         store.Store
	Suggester     *resolver.Suggester
	Summarizer    *narrate.Summarizer
	RepoRoot      string
	MaxPatternLen int
	Logger        *logging.Logger

	handlers  map[string]Handler
	slowLimit *rate.Limiter
}

// New builds a Dispatcher with the full canonical method table wired in.
func New(st store.Store, suggester *resolver.Suggester, summarizer *narrate.Summarizer, repoRoot string) *Dispatcher {
	d := &Dispatcher{
		Store:         st,
		Suggester:     suggester,
		Summarizer:    summarizer,
		RepoRoot:      repoRoot,
		MaxPatternLen: 500,
		slowLimit:     rate.NewLimiter(rate.Every(time.Second), 5),
	}
	d.handlers = methodTable()
	return d
}

// Dispatch resolves aliases, parses params, invokes the handler, applies
// response-budget truncation and format rewriting, and logs slow calls.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	method := req.Method
	if canon, ok := aliases[method]; ok {
		method = canon
	}

	handler, ok := d.handlers[method]
	if !ok {
		return Response{ID: req.ID, Error: &errPayload{Message: fmt.Sprintf("unknown method %q", req.Method)}}
	}

	p, err := parseParams(req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: &errPayload{Message: "malformed params: " + err.Error()}}
	}

	if pattern, ok := p.stringOpt("pattern"); ok && d.MaxPatternLen > 0 && len(pattern) > d.MaxPatternLen {
		return Response{ID: req.ID, Error: &errPayload{
			Message: apperrors.PatternTooLong(len(pattern), d.MaxPatternLen).Error(),
		}}
	}

	start := time.Now()
	result, err := handler(ctx, d, p)
	elapsed := time.Since(start)

	if elapsed > 100*time.Millisecond && d.slowLimit.Allow() && d.Logger != nil {
		// The caller's id may be any JSON value (or absent); a generated
		// correlation id keeps slow-query log lines greppable regardless.
		d.Logger.Warn("slow rpc dispatch",
			"method", method,
			"elapsed_ms", elapsed.Milliseconds(),
			"correlation_id", uuid.NewString())
	}

	if err != nil {
		if errors.Is(err, store.ErrPoolExhausted) {
			err = apperrors.PoolExhausted(err)
		}
		if apperrors.TypeOf(err) == apperrors.TypeSecurity && d.Logger != nil {
			d.Logger.Warn("rejected request", append([]any{"method", method}, logFieldsOf(err)...)...)
		}
		return Response{ID: req.ID, Error: &errPayload{
			Message:     err.Error(),
			Suggestions: apperrors.SuggestionsOf(err),
		}}
	}

	if format, _ := p.stringOpt("format"); format == "signatures" {
		result = rewriteSignatures(result)
	}

	budget := responseBudget(p, method)
	wrapped, truncated, total := applyBudget(result, budget)
	if truncated {
		return Response{ID: req.ID, Result: map[string]interface{}{
			"data":               wrapped,
			"truncated":          true,
			"max_response_bytes": budget,
			"total_available":    total,
		}}
	}

	return Response{ID: req.ID, Result: result}
}

func responseBudget(p params, method string) int {
	if v, ok := p.intOpt("max_response_bytes"); ok && v > 0 {
		return v
	}
	if v, ok := p.intOpt("max_tokens"); ok && v > 0 {
		return v * 4
	}
	if selfManagedBudget[method] {
		return 0
	}
	return DefaultResponseBudget
}

func logFieldsOf(err error) []any {
	var e *apperrors.Error
	if errors.As(err, &e) {
		return e.LogFields()
	}
	return nil
}

// symbolNotFound builds the resolution error for a qualname that failed
// to resolve, attaching nearest-name suggestions when the suggester is
// available. A suggester failure degrades to a bare not-found error
// rather than masking the original miss.
func symbolNotFound(ctx context.Context, d *Dispatcher, qualname string, languages []string, version int64) error {
	if d.Suggester == nil {
		return apperrors.ResolutionNotFound(qualname, nil)
	}
	suggestions, err := d.Suggester.Suggest(ctx, qualname, languages, version)
	if err != nil {
		return apperrors.ResolutionNotFound(qualname, nil)
	}
	return apperrors.ResolutionNotFound(qualname, suggestions)
}

// canonicalizePath resolves a repo-relative path against RepoRoot,
// rejecting traversal or absolute escapes. An absolute path is accepted
// only when it lies under repoRoot, and is returned relative to it.
func canonicalizePath(repoRoot, p string) (string, error) {
	if p == "" {
		return "", nil
	}
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if path.IsAbs(cleaned) {
		root := path.Clean(strings.ReplaceAll(repoRoot, "\\", "/"))
		if repoRoot == "" || (cleaned != root && !strings.HasPrefix(cleaned, root+"/")) {
			return "", apperrors.PathEscape(p)
		}
		cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, root), "/")
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", apperrors.PathEscape(p)
	}
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

func canonicalizePrefixes(repoRoot string, ps []string) ([]string, error) {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		c, err := canonicalizePath(repoRoot, p)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// --- stdio transport ---

// Transport reads newline-delimited JSON requests from r and writes
// responses to w, one per line.
type Transport struct {
	scanner    *bufio.Scanner
	out        io.Writer
	dispatcher *Dispatcher
}

// NewTransport builds a stdio transport bound to the given dispatcher.
func NewTransport(d *Dispatcher) *Transport {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Transport{scanner: scanner, out: os.Stdout, dispatcher: d}
}

// Serve blocks, handling one request per input line until EOF or a
// scanner error.
func (t *Transport) Serve(ctx context.Context) error {
	for t.scanner.Scan() {
		line := t.scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			t.write(Response{Error: &errPayload{Message: "parse error: " + err.Error()}})
			continue
		}

		resp := t.dispatcher.Dispatch(ctx, req)
		t.write(resp)
	}
	return t.scanner.Err()
}

func (t *Transport) write(resp Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(Response{ID: resp.ID, Error: &errPayload{Message: "failed to marshal response"}})
	}
	fmt.Fprintln(t.out, string(b))
}

// --- signature compaction ---

// signatureView is the compact symbol shape the "signatures" format
// rewrites full model.Symbol objects into.
type signatureView struct {
	ID        int64   `json:"id"`
	Kind      string  `json:"kind"`
	Name      string  `json:"name"`
	Qualname  string  `json:"qualname"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	Signature *string `json:"signature,omitempty"`
}

// symbolLister is implemented by any result type that can hand back its
// embedded symbols plus a way to label each with a file path, so format:
// "signatures" doesn't need a generic untyped JSON tree walk.
type symbolLister interface {
	symbolsForCompaction() []compactable
}

type compactable struct {
	Symbol   model.Symbol
	FilePath string
}

func rewriteSignatures(result interface{}) interface{} {
	lister, ok := result.(symbolLister)
	if !ok {
		return result
	}
	items := lister.symbolsForCompaction()
	views := make([]signatureView, 0, len(items))
	for _, it := range items {
		views = append(views, signatureView{
			ID: it.Symbol.ID, Kind: it.Symbol.Kind, Name: it.Symbol.Name, Qualname: it.Symbol.Qualname,
			FilePath: it.FilePath, StartLine: it.Symbol.StartLine, Signature: it.Symbol.Signature,
		})
	}
	return views
}

// --- response budget truncation ---

// listResult is implemented by handler results that are a bounded list
// and can be re-sliced to a smaller prefix for truncation.
type listResult interface {
	Len() int
	Slice(n int) interface{}
}

func applyBudget(result interface{}, budget int) (wrapped interface{}, truncated bool, total int) {
	if budget <= 0 {
		return result, false, 0
	}

	full, err := json.Marshal(result)
	if err != nil || len(full) <= budget {
		return result, false, 0
	}

	lr, ok := result.(listResult)
	if !ok {
		return result, true, 0
	}

	total = lr.Len()
	lo, hi := 0, total
	for lo < hi {
		mid := (lo + hi + 1) / 2
		b, err := json.Marshal(lr.Slice(mid))
		if err == nil && len(b) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lr.Slice(lo), true, total
}

// symbolSlice / edgeSlice / stringSlice adapt common result shapes to
// listResult and symbolLister without generic reflection.

type symbolSlice struct {
	Symbols  []model.Symbol
	FilePath func(model.Symbol) string
}

func (s symbolSlice) Len() int                  { return len(s.Symbols) }
func (s symbolSlice) Slice(n int) interface{}   { return s.Symbols[:n] }
func (s symbolSlice) symbolsForCompaction() []compactable {
	out := make([]compactable, len(s.Symbols))
	for i, sym := range s.Symbols {
		fp := ""
		if s.FilePath != nil {
			fp = s.FilePath(sym)
		}
		out[i] = compactable{Symbol: sym, FilePath: fp}
	}
	return out
}

type edgeSlice []model.Edge

func (e edgeSlice) Len() int                { return len(e) }
func (e edgeSlice) Slice(n int) interface{} { return []model.Edge(e)[:n] }

type stringSlice []string

func (s stringSlice) Len() int                { return len(s) }
func (s stringSlice) Slice(n int) interface{} { return []string(s)[:n] }

func filePathLookup(ctx context.Context, st store.Store) func(model.Symbol) string {
	cache := make(map[int64]string)
	return func(sym model.Symbol) string {
		if p, ok := cache[sym.FileID]; ok {
			return p
		}
		f, err := st.GetFileByID(ctx, sym.FileID)
		p := ""
		if err == nil && f != nil {
			p = f.Path
		}
		cache[sym.FileID] = p
		return p
	}
}

