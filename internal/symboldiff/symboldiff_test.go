package symboldiff

import (
	"testing"

	"github.com/graphidx/graphidx/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sig(s string) *string { return &s }

func makeSymbol(filePath, kind, qualname string, signature *string, startLine int) model.Symbol {
	return model.Symbol{
		Kind:      kind,
		Qualname:  qualname,
		Signature: signature,
		StartLine: startLine,
		EndLine:   startLine + 5,
		StableID:  model.StableID(kind, qualname, signature, filePath),
	}
}

func makeInput(kind, qualname string, signature *string, startLine int) model.SymbolInput {
	return model.SymbolInput{
		Kind:      kind,
		Qualname:  qualname,
		Signature: signature,
		StartLine: startLine,
		EndLine:   startLine + 5,
	}
}

func TestComputeRoundTrip(t *testing.T) {
	const filePath = "m/f.go"
	prev := []model.Symbol{
		makeSymbol(filePath, "function", "m.f", sig("(x:int)->int"), 10),
		makeSymbol(filePath, "function", "m.g", sig("(x:int)->int"), 20),
	}
	next := []model.SymbolInput{
		makeInput("function", "m.f", sig("(x:int)->int"), 10),
		makeInput("function", "m.g", sig("(x:int)->int"), 20),
	}

	diff := Compute(prev, next, filePath)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Modified)
	assert.Empty(t, diff.Deleted)
	assert.Len(t, diff.Unchanged, 2)
}

func TestComputeStableIDUnderLineChange(t *testing.T) {
	const filePath = "m/f.go"
	signature := sig("(x:int)->int")
	prev := []model.Symbol{makeSymbol(filePath, "function", "m.f", signature, 10)}
	next := []model.SymbolInput{makeInput("function", "m.f", signature, 100)}

	diff := Compute(prev, next, filePath)
	require.Len(t, diff.Modified, 1)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Deleted)
	assert.Equal(t, prev[0].StableID, diff.Modified[0].Prev.StableID)
	assert.Equal(t, 100, diff.Modified[0].Next.StartLine)
}

func TestComputeSignatureChangeForcesDeleteAndAdd(t *testing.T) {
	const filePath = "m/g.go"
	prev := []model.Symbol{makeSymbol(filePath, "function", "m.g", sig("(x:int)"), 5)}
	next := []model.SymbolInput{makeInput("function", "m.g", sig("(x:str)"), 5)}

	diff := Compute(prev, next, filePath)
	require.Len(t, diff.Deleted, 1)
	require.Len(t, diff.Added, 1)
	assert.Empty(t, diff.Modified)
	assert.Empty(t, diff.Unchanged)
	assert.NotEqual(t, diff.Deleted[0].StableID, diff.Added[0].StableID(filePath))
}

func TestComputeAddedAndDeleted(t *testing.T) {
	const filePath = "m/h.go"
	prev := []model.Symbol{makeSymbol(filePath, "function", "m.old", sig("()"), 1)}
	next := []model.SymbolInput{makeInput("function", "m.new", sig("()"), 1)}

	diff := Compute(prev, next, filePath)
	assert.Len(t, diff.Added, 1)
	assert.Len(t, diff.Deleted, 1)
	assert.Equal(t, "m.new", diff.Added[0].Qualname)
	assert.Equal(t, "m.old", diff.Deleted[0].Qualname)
}

func TestComputeEmptyDiffIsNoOp(t *testing.T) {
	diff := Compute(nil, nil, "m/empty.go")
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Modified)
	assert.Empty(t, diff.Deleted)
	assert.Empty(t, diff.Unchanged)
}
