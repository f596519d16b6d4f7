package schema

// ValidationIssue is one unresolvable-field finding from the compatibility
// analyzer. Suggestions list candidate sources the author could map the
// field to (context keys first, then a fixed_value fallback).
type ValidationIssue struct {
	StepID      string   `json:"stepId"`
	Field       string   `json:"field"`
	Issue       string   `json:"issue"`
	Suggestions []string `json:"suggestions"`
}

// ValidationReport is the analyzer's verdict on a workflow. It is a
// structured finding, not an error: an incompatible workflow can still be
// triggered, and execution silently omits fields the analyzer would flag.
type ValidationReport struct {
	Compatible bool              `json:"compatible"`
	Issues     []ValidationIssue `json:"issues"`
}

// AddIssue appends a finding. The analyzer never short-circuits, so every
// independent issue accumulates here. Suggestions marshal as an empty array,
// never null, so clients can range over them unconditionally.
func (r *ValidationReport) AddIssue(stepID, field, issue string, suggestions []string) {
	if suggestions == nil {
		suggestions = []string{}
	}
	r.Issues = append(r.Issues, ValidationIssue{
		StepID:      stepID,
		Field:       field,
		Issue:       issue,
		Suggestions: suggestions,
	})
}
