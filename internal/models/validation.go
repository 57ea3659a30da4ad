package models

import "strings"

// ValidationResult is the outcome of one validation check.
// A result is never mutated after it is returned.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// NewValidationResult builds a result from collected error messages.
func NewValidationResult(errs []string) ValidationResult {
	if len(errs) == 0 {
		return ValidationResult{Valid: true}
	}
	out := make([]string, len(errs))
	copy(out, errs)
	return ValidationResult{Valid: false, Errors: out}
}

// Merge returns a new result holding the errors of r followed by others.
func (r ValidationResult) Merge(others ...ValidationResult) ValidationResult {
	errs := append([]string(nil), r.Errors...)
	for _, o := range others {
		errs = append(errs, o.Errors...)
	}
	return NewValidationResult(errs)
}

// String joins the error messages, one per line.
func (r ValidationResult) String() string {
	if r.Valid {
		return "valid"
	}
	return strings.Join(r.Errors, "\n")
}
