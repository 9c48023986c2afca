// Package output renders comparisons between what a scenario expected and
// what the page showed.
package output

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffResult is one expected/observed comparison.
type DiffResult struct {
	Expected string `json:"expected"`
	Observed string `json:"observed"`
	// Similarity is 1 minus the Levenshtein distance over the longer input,
	// so 1 is identical and values near 1 are near misses.
	Similarity float64 `json:"similarity"`
	// Inline marks removals as [-text-] and insertions as {+text+}.
	Inline string `json:"diff,omitempty"`
}

// Identical reports whether nothing differs.
func (d *DiffResult) Identical() bool { return d.Expected == d.Observed }

// ComputeDiff compares expected text against observed text.
func ComputeDiff(expected, observed string) *DiffResult {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(expected, observed, false))

	maxLen := len(expected)
	if len(observed) > maxLen {
		maxLen = len(observed)
	}
	similarity := 1.0
	if maxLen > 0 {
		similarity = 1.0 - float64(dmp.DiffLevenshtein(diffs))/float64(maxLen)
	}

	return &DiffResult{
		Expected:   expected,
		Observed:   observed,
		Similarity: similarity,
		Inline:     inline(diffs),
	}
}

// InlineDiff renders only the inline form of ComputeDiff.
func InlineDiff(expected, observed string) string {
	return ComputeDiff(expected, observed).Inline
}

func inline(diffs []diffmatchpatch.Diff) string {
	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("{+" + d.Text + "+}")
		default:
			b.WriteString(d.Text)
		}
	}
	return b.String()
}
