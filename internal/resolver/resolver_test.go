package resolver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graphidx/graphidx/internal/model"
)

type fakeFinder struct {
	byName   []model.Symbol
	byPrefix []model.Symbol
	calls    int
}

func (f *fakeFinder) FindSymbols(ctx context.Context, q string, limit int, languages []string, version int64) ([]model.Symbol, error) {
	f.calls++
	return f.byName, nil
}

func (f *fakeFinder) FindSymbolsByNamePrefix(ctx context.Context, prefix string, limit int, languages []string, version int64) ([]model.Symbol, error) {
	return f.byPrefix, nil
}

func TestSuggestCachesResults(t *testing.T) {
	dir := t.TempDir()
	finder := &fakeFinder{byName: []model.Symbol{
		{Qualname: "mod.A.Deploy"},
		{Qualname: "mod.B.Deploy"},
	}}

	s, err := Open(filepath.Join(dir, "cache.db"), finder, 5)
	require.NoError(t, err)
	defer s.Close()

	first, err := s.Suggest(context.Background(), "Deploy", nil, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"mod.A.Deploy", "mod.B.Deploy"}, first)
	require.Equal(t, 1, finder.calls)

	second, err := s.Suggest(context.Background(), "Deploy", nil, 1)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, finder.calls, "second call should hit the cache, not the finder")
}

func TestInvalidateVersionClearsCache(t *testing.T) {
	dir := t.TempDir()
	finder := &fakeFinder{byName: []model.Symbol{{Qualname: "mod.A.Deploy"}}}

	s, err := Open(filepath.Join(dir, "cache.db"), finder, 5)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Suggest(context.Background(), "Deploy", nil, 1)
	require.NoError(t, err)
	require.NoError(t, s.InvalidateVersion(2))

	_, err = s.Suggest(context.Background(), "Deploy", nil, 1)
	require.NoError(t, err)
	require.Equal(t, 2, finder.calls, "cache should have been cleared by InvalidateVersion")
}
