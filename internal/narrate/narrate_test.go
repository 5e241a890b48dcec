package narrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarizeFallsBackWithoutAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	s := New()
	require.False(t, s.IsEnabled())

	out := s.Summarize(context.Background(), Digest{
		RepoName:      "graphidx",
		FileCount:     10,
		SymbolCount:   120,
		TopComplexity: []string{"pkg.Foo"},
	})
	require.Contains(t, out, "graphidx")
	require.Contains(t, out, "120")
	require.Contains(t, out, "pkg.Foo")
}

func TestStructuralSummaryMentionsDeadAndOrphan(t *testing.T) {
	out := structuralSummary(Digest{RepoName: "r", DeadSymbolCount: 3, OrphanTestCount: 2})
	require.Contains(t, out, "3 symbols")
	require.Contains(t, out, "2 tests")
}
