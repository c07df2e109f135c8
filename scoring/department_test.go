package scoring_test

import (
	"testing"

	"github.com/warp/score-engine/scoring"
)

// =============================================================================
// NORMALIZATION TESTS
// =============================================================================

func TestNormalizeDepartment_KnownSynonyms(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"programming", scoring.DeptProgramming},
		{"Programming", scoring.DeptProgramming},
		{"  DEV  ", scoring.DeptProgramming},
		{"Software", scoring.DeptProgramming},
		{"design", scoring.DeptDesign},
		{"UI/UX", scoring.DeptDesign},
		{"ux", scoring.DeptDesign},
		{"Graphic Design", scoring.DeptDesign},
		{"3d", scoring.Dept3D},
		{"3D Modeling", scoring.Dept3D},
		{"Blender", scoring.Dept3D},
	}

	for _, tc := range cases {
		got, known := scoring.NormalizeDepartment(tc.input)
		if !known {
			t.Errorf("NormalizeDepartment(%q): expected known label", tc.input)
		}
		if got != tc.want {
			t.Errorf("NormalizeDepartment(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestNormalizeDepartment_UnknownPassesThroughTrimmed(t *testing.T) {
	got, known := scoring.NormalizeDepartment("  Marketing  ")
	if known {
		t.Error("expected Marketing to be unrecognized")
	}
	if got != "Marketing" {
		t.Errorf("expected trimmed passthrough, got %q", got)
	}
}

func TestNormalizeDepartment_Idempotent(t *testing.T) {
	inputs := []string{"programming", "UI/UX", "3d modelling", "Marketing", "  QA  ", ""}

	for _, input := range inputs {
		once, _ := scoring.NormalizeDepartment(input)
		twice, _ := scoring.NormalizeDepartment(once)
		if once != twice {
			t.Errorf("normalize not idempotent for %q: %q != %q", input, once, twice)
		}
	}
}

func TestNormalizeDepartment_CanonicalMapsToItself(t *testing.T) {
	for _, canonical := range []string{scoring.DeptProgramming, scoring.DeptDesign, scoring.Dept3D} {
		got, known := scoring.NormalizeDepartment(canonical)
		if !known || got != canonical {
			t.Errorf("NormalizeDepartment(%q) = (%q, %v), want itself recognized", canonical, got, known)
		}
	}
}

// =============================================================================
// AGGREGATE KEY TESTS
// =============================================================================

func TestNewAggregateKey_Deterministic(t *testing.T) {
	a := scoring.NewAggregateKey("u1", "Programming")
	b := scoring.NewAggregateKey("u1", "Programming")
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	if a != "u1_programming" {
		t.Errorf("unexpected key shape: %q", a)
	}
}

func TestNewAggregateKey_SanitizesDepartment(t *testing.T) {
	key := scoring.NewAggregateKey("u1", "  UI/UX Team ")
	if key != "u1_ui_ux_team" {
		t.Errorf("unexpected sanitized key: %q", key)
	}
}

func TestNewAggregateKey_SeparatesDepartments(t *testing.T) {
	// One user holds independent aggregates per department.
	if scoring.NewAggregateKey("u1", "Programming") == scoring.NewAggregateKey("u1", "Design") {
		t.Error("different departments must map to different keys")
	}
}
