// Package resolver memoizes "nearest name" suggestions for symbols that
// could not be resolved exactly, backed by a bbolt cache keyed by
// "<version>|<query>". It is a thin cache in front of Store.FindSymbolsByNamePrefix
// and substring search, not a resolution authority itself: the
// EdgeResolver's exact/fuzzy-suffix logic lives in internal/store because
// it runs inside the same write transaction as the edge insert.
//
// Its caller is the RPC dispatcher's "symbol not found, did you mean ..."
// error path; caching the nearest-name computation avoids re-scanning the
// symbols table for every repeated failed lookup.
package resolver

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/graphidx/graphidx/internal/model"
)

const suggestionsBucket = "fuzzy_suggestions"

// SymbolFinder is the subset of store.Store the suggester needs. Defined
// narrowly so tests can fake it without a full Store.
type SymbolFinder interface {
	FindSymbols(ctx context.Context, q string, limit int, languages []string, version int64) ([]model.Symbol, error)
	FindSymbolsByNamePrefix(ctx context.Context, prefix string, limit int, languages []string, version int64) ([]model.Symbol, error)
}

// Suggester produces "did you mean" suggestions for a qualname or name
// that failed to resolve, and caches them in a bbolt file keyed by
// "<version>|<query>" so repeated misses on the same query during one
// reindex don't re-hit the store.
type Suggester struct {
	finder     SymbolFinder
	cache      *bolt.DB
	maxResults int
	mu         sync.Mutex
	curVersion int64
}

// Open opens (creating if absent) the bbolt cache file at path and
// returns a Suggester bound to finder.
func Open(path string, finder SymbolFinder, maxResults int) (*Suggester, error) {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(suggestionsBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Suggester{finder: finder, cache: db, maxResults: maxResults}, nil
}

// Close closes the underlying bbolt file.
func (s *Suggester) Close() error {
	return s.cache.Close()
}

// InvalidateVersion wipes the cache wholesale and records newVersion.
// Keys already carry the graph version, so an entry cached at V is never
// read at V+1; this call drops such entries from the file. Nothing in the
// process calls it automatically when graph_version advances.
func (s *Suggester) InvalidateVersion(newVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.curVersion = newVersion
	return s.cache.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(suggestionsBucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(suggestionsBucket))
		return err
	})
}

// Suggest returns up to maxResults nearest-name candidates for query at
// version, checking the cache first.
func (s *Suggester) Suggest(ctx context.Context, query string, languages []string, version int64) ([]string, error) {
	key := cacheKey(version, query)

	if cached, ok := s.getCached(key); ok {
		return cached, nil
	}

	names, err := s.compute(ctx, query, languages, version)
	if err != nil {
		return nil, err
	}
	s.setCached(key, names)
	return names, nil
}

func (s *Suggester) compute(ctx context.Context, query string, languages []string, version int64) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	add := func(syms []model.Symbol) {
		for _, sym := range syms {
			if seen[sym.Qualname] {
				continue
			}
			seen[sym.Qualname] = true
			out = append(out, sym.Qualname)
		}
	}

	byName, err := s.finder.FindSymbols(ctx, query, s.maxResults*2, languages, version)
	if err != nil {
		return nil, err
	}
	add(byName)

	if short := lastSegment(query); short != "" && short != query {
		byPrefix, err := s.finder.FindSymbolsByNamePrefix(ctx, short, s.maxResults*2, languages, version)
		if err != nil {
			return nil, err
		}
		add(byPrefix)
	}

	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	if len(out) > s.maxResults {
		out = out[:s.maxResults]
	}
	return out, nil
}

func lastSegment(qualname string) string {
	idx := strings.LastIndex(qualname, ".")
	if idx < 0 {
		return qualname
	}
	return qualname[idx+1:]
}

func cacheKey(version int64, query string) []byte {
	return []byte(strconv.FormatInt(version, 10) + "|" + query)
}

func (s *Suggester) getCached(key []byte) ([]string, bool) {
	var result []string
	err := s.cache.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(suggestionsBucket))
		if b == nil {
			return bolt.ErrBucketNotFound
		}
		data := b.Get(key)
		if data == nil {
			return bolt.ErrBucketNotFound
		}
		return json.Unmarshal(data, &result)
	})
	return result, err == nil
}

func (s *Suggester) setCached(key []byte, names []string) {
	data, err := json.Marshal(names)
	if err != nil {
		return
	}
	_ = s.cache.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(suggestionsBucket))
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}
