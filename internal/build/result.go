package build

import "fmt"

// Result is the outcome of one manager phase: a verdict, a human-readable
// success message, and the warnings and errors collected along the way.
type Result struct {
	Success        bool
	SuccessMessage string
	Warnings       []string
	Errors         []string
}

func newResult() *Result {
	return &Result{Success: true}
}

// succeed sets the phase's success message.
func (r *Result) succeed(msg string) *Result {
	r.Success = true
	r.SuccessMessage = msg
	return r
}

// warnf records a non-fatal problem.
func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// failf records an error and marks the phase failed.
func (r *Result) failf(format string, args ...any) *Result {
	r.Success = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	return r
}

// merge folds another phase's messages into r; failure is contagious.
func (r *Result) merge(other *Result) {
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Errors = append(r.Errors, other.Errors...)
	if !other.Success {
		r.Success = false
	}
}
