// Package study defines the core data model for association studies:
// projects, studies, significant hits, and the reader contract that the
// GWAS and MWAS file readers implement.
package study

import "fmt"

// Type identifies the kind of association study.
type Type string

// Supported study types.
const (
	GWAS Type = "GWAS"
	MWAS Type = "MWAS"
)

// ParseType converts a string into a study Type.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case GWAS:
		return GWAS, nil
	case MWAS:
		return MWAS, nil
	}
	return "", fmt.Errorf("unknown study type %q", s)
}

// Project is a named build namespace. Every edge written to the graph
// carries the id of the project that produced it.
type Project struct {
	ID   int64
	Name string
}

// Study describes one association study file and its build state.
// The boolean flags are monotonic within a non-forced rebuild:
// fresh -> trait_normalized -> searched -> hits_written -> associations_written.
type Study struct {
	ID        int64
	ProjectID int64

	StudyName string
	StudyType Type
	FilePath  string

	PValueCutoff float64
	// MaxPValue caps association p-values during build_associations.
	// Zero or negative means no cap.
	MaxPValue float64
	HasTabix  bool

	OriginalTraitID    string
	OriginalTraitType  string
	OriginalTraitLabel string

	TraitNormalized      bool
	NormalizedTraitID    string
	NormalizedTraitLabel string

	Searched bool
	Written  bool

	NumHits int64
	// NumAssociations accumulates across incremental rebuilds.
	NumAssociations int64
}

// HasMaxPValue reports whether the study caps association p-values.
func (s *Study) HasMaxPValue() bool {
	return s.MaxPValue > 0
}

// TraitID returns the normalized trait id, falling back to the original.
func (s *Study) TraitID() string {
	if s.NormalizedTraitID != "" {
		return s.NormalizedTraitID
	}
	return s.OriginalTraitID
}

// TraitLabel returns the normalized trait label, falling back to the original.
func (s *Study) TraitLabel() string {
	if s.NormalizedTraitLabel != "" {
		return s.NormalizedTraitLabel
	}
	return s.OriginalTraitLabel
}

// ErrorType classifies a recorded study error by the phase that produced it.
type ErrorType int

// Stored error type codes.
const (
	ErrorSearching     ErrorType = 1
	ErrorBuilding      ErrorType = 2
	ErrorNormalization ErrorType = 3
)

func (t ErrorType) String() string {
	switch t {
	case ErrorSearching:
		return "SEARCHING"
	case ErrorBuilding:
		return "BUILDING"
	case ErrorNormalization:
		return "NORMALIZATION"
	}
	return fmt.Sprintf("ErrorType(%d)", int(t))
}

// BuildError is a persisted per-study error. Errors are cleared per-type
// when the corresponding phase succeeds.
type BuildError struct {
	ID      int64
	StudyID int64
	Type    ErrorType
	Message string
}
