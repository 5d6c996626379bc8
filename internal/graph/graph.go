// Package graph models the property-graph side of a build: nodes and edges,
// a buffered batch writer, and a thin adapter over the Bolt driver.
package graph

import (
	"sort"
	"strings"
)

// RootType is the label every node carries; lookups match on it.
const RootType = "NamedThing"

// Node types assigned by the build pipeline.
const (
	TypeBiologicalEntity  = "BiologicalEntity"
	TypeGenomicEntity     = "GenomicEntity"
	TypeSequenceVariant   = "SequenceVariant"
	TypeChemicalSubstance = "ChemicalSubstance"
	TypeGene              = "Gene"
)

// VariantTypes returns the fixed type set assigned to sequence variant
// nodes, regardless of what the normalization service reports for them.
func VariantTypes() []string {
	return []string{RootType, TypeBiologicalEntity, TypeGenomicEntity, TypeSequenceVariant}
}

// Node is one graph node. Synonyms become the node's
// equivalent_identifiers property; AllTypes become its labels and its
// category property. The root type is implied and need not be listed.
type Node struct {
	ID         string
	Name       string
	AllTypes   []string
	Synonyms   []string
	Properties map[string]any
}

// Edge is one directed relationship. ProjectID and ProjectName stamp the
// edge so a project's subgraph can be selected and deleted; Namespace names
// the study that produced it. OriginalObjectID keeps the pre-normalization
// object id for provenance.
type Edge struct {
	SubjectID        string
	ObjectID         string
	OriginalObjectID string
	Predicate        string
	Relation         string
	ProvidedBy       string
	Namespace        string
	ProjectID        int64
	ProjectName      string
	Properties       map[string]any
}

// canonicalTypes returns the root type plus the given types, deduplicated
// and sorted. The result is the node's label set and queue identity.
func canonicalTypes(types []string) []string {
	seen := map[string]bool{RootType: true}
	out := []string{RootType}
	for _, t := range types {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TypeKey canonicalizes a type set into a stable queue key.
func TypeKey(types []string) string {
	return strings.Join(canonicalTypes(types), "|")
}
