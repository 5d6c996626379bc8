package study

import (
	"fmt"
	"strings"
)

// Reader scans one study file. Implementations exist per study type; both
// follow the same contract so the build pipeline can treat them uniformly.
type Reader interface {
	// FindSignificantHits streams the whole file and collects every row at
	// or below the cutoff. File-level failures are reported in the result,
	// not returned as errors; row-level problems are logged and skipped.
	FindSignificantHits(cutoff float64) *HitSearchResult

	// GetAssociation retrieves the statistics for a previously found hit.
	// A hit absent from the file yields (nil, nil).
	GetAssociation(h *Hit) (*Association, error)

	Close() error
}

// HitSearchResult is the outcome of scanning a study file for hits.
type HitSearchResult struct {
	Success      bool
	Hits         HitContainer
	HitCount     int
	ErrorMessage string
}

// HeaderError reports a study file whose header row is missing required
// columns. It carries the headers that were actually observed.
type HeaderError struct {
	Path    string
	Headers []string
	Missing []string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("bad file headers in %s: missing %s (saw: %s)",
		e.Path, strings.Join(e.Missing, ", "), strings.Join(e.Headers, ", "))
}

// ParseError reports a malformed row with line context.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %s", e.Line, e.Message)
}
