package output

import (
	"strings"
	"testing"
)

func TestComputeDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name               string
		expected, observed string
		minSim, maxSim     float64
	}{
		{"identical", "Status: Deployed", "Status: Deployed", 1, 1},
		{"both empty", "", "", 1, 1},
		{"near miss", "Voted: Yes", "Voted: Yes!", 0.85, 0.99},
		{"unrelated", "abc", "xyz", 0, 0},
		{"nothing observed", "Test Proposal", "", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := ComputeDiff(tt.expected, tt.observed)
			if r.Similarity < tt.minSim || r.Similarity > tt.maxSim {
				t.Errorf("similarity = %v, want in [%v, %v]", r.Similarity, tt.minSim, tt.maxSim)
			}
			if r.Identical() != (tt.expected == tt.observed) {
				t.Errorf("Identical() = %v", r.Identical())
			}
		})
	}
}

func TestComputeDiff_RanksCloserText(t *testing.T) {
	t.Parallel()

	near := ComputeDiff("Status: Deployed", "Status: Deploying")
	far := ComputeDiff("Status: Deployed", "Status: Failed")
	if near.Similarity <= far.Similarity {
		t.Errorf("near = %v, far = %v", near.Similarity, far.Similarity)
	}
}

func TestInlineDiff(t *testing.T) {
	t.Parallel()
	got := InlineDiff("Voted: Yes", "Voted: No")
	if !strings.Contains(got, "[-") || !strings.Contains(got, "{+") {
		t.Errorf("InlineDiff = %q", got)
	}
	if InlineDiff("same", "same") != "same" {
		t.Error("identical input should render unchanged")
	}
}
