// Package build drives the phase state machine that turns registered
// association studies into a project-scoped subgraph: trait normalization,
// significance search, hit normalization, association writing, and gene
// annotation. Phase progress is persisted per study, so an interrupted
// build resumes instead of starting over.
package build

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ragsbio/rags/internal/graph"
	"github.com/ragsbio/rags/internal/gwas"
	"github.com/ragsbio/rags/internal/mwas"
	"github.com/ragsbio/rags/internal/normalize"
	"github.com/ragsbio/rags/internal/study"
)

// AssociationRelation is the relation stamped on every trait-to-hit edge.
// It is also the input to predicate normalization; the resolved biolink
// predicate becomes the edge type.
const AssociationRelation = "RO:0002610"

// associationProvidedBy stamps every association edge.
const associationProvidedBy = "RAGS_Builder"

// Builder turns reader and normalizer output into graph nodes and edges.
// One builder serves one project.
type Builder struct {
	projectID   int64
	projectName string
	dataDir     string

	normalizer *normalize.Normalizer
	writer     *graph.BufferedWriter
	logger     *zap.Logger

	predicate string
}

// NewBuilder creates a builder writing through writer. Relative study file
// paths resolve against dataDir.
func NewBuilder(project *study.Project, dataDir string, normalizer *normalize.Normalizer, writer *graph.BufferedWriter) *Builder {
	return &Builder{
		projectID:   project.ID,
		projectName: project.Name,
		dataDir:     dataDir,
		normalizer:  normalizer,
		writer:      writer,
		logger:      zap.NewNop(),
	}
}

// SetLogger routes builder logging to l instead of the default no-op logger.
func (b *Builder) SetLogger(l *zap.Logger) {
	b.logger = l
}

// OpenReader opens the study's file with the reader for its type.
func (b *Builder) OpenReader(st *study.Study) (study.Reader, error) {
	path := st.FilePath
	if !filepath.IsAbs(path) && b.dataDir != "" {
		path = filepath.Join(b.dataDir, path)
	}
	switch st.StudyType {
	case study.GWAS:
		r := gwas.NewReader(path)
		r.SetTabix(st.HasTabix)
		r.SetLogger(b.logger)
		return r, nil
	case study.MWAS:
		r := mwas.NewReader(path)
		r.SetLogger(b.logger)
		return r, nil
	}
	return nil, fmt.Errorf("study %s has unknown type %q", st.StudyName, st.StudyType)
}

// AssociationPredicate resolves the biolink predicate for the association
// relation, memoized for the builder's lifetime.
func (b *Builder) AssociationPredicate(ctx context.Context) (string, error) {
	if b.predicate != "" {
		return b.predicate, nil
	}
	resolved, err := b.normalizer.NormalizePredicates(ctx, []string{AssociationRelation})
	if err != nil {
		return "", fmt.Errorf("normalize association predicate: %w", err)
	}
	b.predicate = resolved[AssociationRelation]
	if b.predicate == "" {
		b.predicate = normalize.DefaultPredicate
	}
	return b.predicate, nil
}

// TraitNode builds the graph node for a study's trait from its stored
// normalization outcome. Unnormalized traits keep their original identity
// and the declared trait type.
func (b *Builder) TraitNode(st *study.Study) *graph.Node {
	return &graph.Node{
		ID:       st.TraitID(),
		Name:     st.TraitLabel(),
		AllTypes: []string{graph.RootType, st.OriginalTraitType},
	}
}

// hitCurie is the identifier a hit is normalized under: GWAS hits go to the
// service as HGVS curies, MWAS hits already carry a curie.
func hitCurie(h *study.Hit) string {
	if h.Kind == study.GWAS {
		return "HGVS:" + h.HGVS
	}
	return h.OriginalID
}

// ProcessHits normalizes a batch of hits of one kind, writes their graph
// nodes, and records the outcome on each hit. Hits the service cannot
// resolve keep their curie as the node id so the graph stays navigable.
func (b *Builder) ProcessHits(ctx context.Context, kind study.Type, hits []*study.Hit) error {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = hitCurie(h)
	}

	var answers map[string]*graph.Node
	var err error
	if kind == study.GWAS {
		answers, err = b.normalizer.NormalizeVariants(ctx, ids)
	} else {
		answers, err = b.normalizer.NormalizeNodes(ctx, ids)
	}
	if err != nil {
		return err
	}

	unresolved := 0
	for i, h := range hits {
		node := answers[ids[i]]
		if node == nil {
			unresolved++
			node = b.fallbackHitNode(kind, ids[i], h.OriginalName)
		}
		h.Normalized = true
		h.NormalizedID = node.ID
		h.NormalizedName = node.Name
		if err := b.writer.WriteNode(ctx, node); err != nil {
			return err
		}
	}
	if unresolved > 0 {
		b.logger.Warn("hits kept their original identifiers",
			zap.String("kind", string(kind)), zap.Int("count", unresolved))
	}
	return b.writer.Flush(ctx)
}

func (b *Builder) fallbackHitNode(kind study.Type, curie, name string) *graph.Node {
	types := []string{graph.RootType, graph.TypeChemicalSubstance}
	if kind == study.GWAS {
		types = graph.VariantTypes()
	}
	return &graph.Node{ID: curie, Name: name, AllTypes: types}
}

// WriteAssociation emits one trait-to-hit association edge.
func (b *Builder) WriteAssociation(ctx context.Context, predicate string, st *study.Study, h *study.Hit, assoc *study.Association) error {
	props := map[string]any{
		"p_value": assoc.PValue,
		"ctime":   time.Now().Unix(),
	}
	if assoc.Beta != 0 {
		props["strength"] = assoc.Beta
	}
	return b.writer.WriteEdge(ctx, &graph.Edge{
		SubjectID:        st.TraitID(),
		ObjectID:         h.NodeID(),
		OriginalObjectID: h.OriginalID,
		Predicate:        predicate,
		Relation:         AssociationRelation,
		ProvidedBy:       associationProvidedBy,
		Namespace:        st.StudyName,
		ProjectID:        b.projectID,
		ProjectName:      b.projectName,
		Properties:       props,
	})
}

// GeneEdge project-stamps a raw annotator edge with its normalized
// predicate and object id. The raw predicate survives as the relation.
func (b *Builder) GeneEdge(raw *graph.Edge, predicate, objectID string) *graph.Edge {
	return &graph.Edge{
		SubjectID:        raw.SubjectID,
		ObjectID:         objectID,
		OriginalObjectID: raw.ObjectID,
		Predicate:        predicate,
		Relation:         raw.Predicate,
		ProvidedBy:       raw.ProvidedBy,
		ProjectID:        b.projectID,
		ProjectName:      b.projectName,
		Properties:       raw.Properties,
	}
}
