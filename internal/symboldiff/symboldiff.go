// Package symboldiff compares a file's previously stored symbols against a
// freshly extracted symbol set and classifies each by stable id. It is a
// pure function: no I/O, no locking, safe to call from multiple goroutines
// at once.
package symboldiff

import "github.com/graphidx/graphidx/internal/model"

// Diff classifies every symbol touched by a re-extraction of one file.
type Diff struct {
	Added     []model.SymbolInput
	Modified  []ModifiedPair
	Deleted   []model.Symbol
	Unchanged []model.Symbol
}

// ModifiedPair pairs a stored symbol with the new input that replaces its
// position and/or docstring while keeping the same stable id.
type ModifiedPair struct {
	Prev model.Symbol
	Next model.SymbolInput
}

// Compute diffs prev (the file's current live symbols) against next (a
// fresh extraction), keyed by stable_id computed against filePath.
//
// A symbol whose signature changes gets a different stable_id, so it is
// reported as one delete plus one add rather than a modification — this is
// intentional: downstream edges that reference the old symbol must be
// re-evaluated rather than silently repointed.
// Compute walks prev and next in slice order rather than by map iteration
// so the diff — and therefore the insertion order and integer ids the
// writer assigns — is deterministic for identical inputs. Store digests
// depend on this.
func Compute(prev []model.Symbol, next []model.SymbolInput, filePath string) Diff {
	prevByStable := make(map[string]model.Symbol, len(prev))
	for _, s := range prev {
		prevByStable[s.StableID] = s
	}

	var diff Diff
	seen := make(map[string]bool, len(next))

	for _, n := range next {
		stableID := n.StableID(filePath)
		if seen[stableID] {
			continue
		}
		seen[stableID] = true

		p, ok := prevByStable[stableID]
		if !ok {
			diff.Added = append(diff.Added, n)
			continue
		}
		if positionOrDocChanged(p, n) {
			diff.Modified = append(diff.Modified, ModifiedPair{Prev: p, Next: n})
		} else {
			diff.Unchanged = append(diff.Unchanged, p)
		}
	}

	for _, p := range prev {
		if !seen[p.StableID] {
			diff.Deleted = append(diff.Deleted, p)
		}
	}

	return diff
}

func positionOrDocChanged(p model.Symbol, n model.SymbolInput) bool {
	if p.StartLine != n.StartLine || p.StartCol != n.StartCol ||
		p.EndLine != n.EndLine || p.EndCol != n.EndCol ||
		p.StartByte != n.StartByte || p.EndByte != n.EndByte {
		return true
	}
	return !strPtrEqual(p.Docstring, n.Docstring)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
