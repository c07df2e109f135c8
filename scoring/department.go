/*
department.go - Free-text department label canonicalization

PURPOSE:
  Task boards carry whatever department label the user typed. The ledger
  keys aggregates by department, so variants like "UI/UX", "ux design"
  and "Design" must collapse to one canonical name or a user's credit
  splits across phantom departments.

BEHAVIOR:
  - Known synonyms map case-insensitively to a canonical name
  - Unknown input is returned trimmed but otherwise unchanged; the
    caller logs a data-quality warning and aggregation proceeds under
    the raw label rather than dropping the award
  - Idempotent: normalizing a canonical name yields itself

SEE ALSO:
  - award.go: Normalizes once per award request, before fan-out
*/
package scoring

import "strings"

// =============================================================================
// CANONICAL DEPARTMENTS
// =============================================================================

const (
	DeptProgramming = "Programming"
	DeptDesign      = "Design"
	Dept3D          = "3D"
)

// departmentSynonyms maps lowercased labels to canonical names.
// Canonical names map to themselves so normalization is idempotent.
var departmentSynonyms = map[string]string{
	"programming":    DeptProgramming,
	"programmer":     DeptProgramming,
	"prog":           DeptProgramming,
	"dev":            DeptProgramming,
	"developer":      DeptProgramming,
	"development":    DeptProgramming,
	"coding":         DeptProgramming,
	"code":           DeptProgramming,
	"software":       DeptProgramming,

	"design":         DeptDesign,
	"designer":       DeptDesign,
	"ui":             DeptDesign,
	"ux":             DeptDesign,
	"ui/ux":          DeptDesign,
	"uiux":           DeptDesign,
	"ui-ux":          DeptDesign,
	"graphic design": DeptDesign,
	"graphics":       DeptDesign,

	"3d":             Dept3D,
	"3d modeling":    Dept3D,
	"3d modelling":   Dept3D,
	"modeling":       Dept3D,
	"modelling":      Dept3D,
	"blender":        Dept3D,
}

// NormalizeDepartment maps a free-text department label to its canonical
// name. The second return value reports whether the label was recognized;
// unrecognized labels come back trimmed but unchanged so downstream
// aggregation still proceeds under the raw label.
func NormalizeDepartment(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if canonical, ok := departmentSynonyms[strings.ToLower(trimmed)]; ok {
		return canonical, true
	}
	return trimmed, false
}
