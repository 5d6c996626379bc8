package build

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ragsbio/rags/internal/graph"
	"github.com/ragsbio/rags/internal/normalize"
	"github.com/ragsbio/rags/internal/projectdb"
	"github.com/ragsbio/rags/internal/snpeff"
	"github.com/ragsbio/rags/internal/study"
)

// annotatedMarkerPredicate identifies variants that already carry gene
// annotations. snpEff's nearby-gene effects resolve to this biolink
// predicate, so a variant without such an edge still needs annotation.
const annotatedMarkerPredicate = "biolink:is_nearby_variant_of"

// GraphDB is the graph-store surface the manager needs: write sessions for
// the buffered writer plus the custom read and project-delete operations.
// *graph.Store satisfies it.
type GraphDB interface {
	graph.Cypher
	CustomReadQuery(ctx context.Context, cypher string, limit int) ([]map[string]any, error)
	DeleteProject(ctx context.Context, projectID int64) error
}

// VariantAnnotator produces variant-to-gene edges for AnnotateHits.
// *snpeff.Annotator satisfies it.
type VariantAnnotator interface {
	Annotate(ctx context.Context, variants []*graph.Node) (*snpeff.Result, error)
}

// Manager drives the build phases for one project. Each phase returns a
// Result; per-study problems are recorded on the study and do not stop the
// remaining studies, while whole-project failures abort the phase.
type Manager struct {
	project *study.Project
	db      *projectdb.Store
	graphDB GraphDB

	normalizer *normalize.Normalizer
	writer     *graph.BufferedWriter
	builder    *Builder
	annotator  VariantAnnotator
	logger     *zap.Logger
}

// NewManager assembles the build pipeline for one project. Relative study
// file paths resolve against dataDir.
func NewManager(project *study.Project, db *projectdb.Store, graphDB GraphDB, normalizer *normalize.Normalizer, dataDir string) *Manager {
	writer := graph.NewBufferedWriter(graphDB)
	return &Manager{
		project:    project,
		db:         db,
		graphDB:    graphDB,
		normalizer: normalizer,
		writer:     writer,
		builder:    NewBuilder(project, dataDir, normalizer, writer),
		logger:     zap.NewNop(),
	}
}

// SetLogger routes manager, builder, and writer logging to l.
func (m *Manager) SetLogger(l *zap.Logger) {
	m.logger = l
	m.writer.SetLogger(l)
	m.builder.SetLogger(l)
}

// SetAnnotator wires the variant annotator used by AnnotateHits.
func (m *Manager) SetAnnotator(a VariantAnnotator) {
	m.annotator = a
}

// ProcessTraits normalizes every study's trait and writes the trait nodes
// to the graph. Traits the service cannot resolve keep their original
// identity; that costs a warning, not the phase. A failed normalization
// call is recorded on every selected study and aborts the phase.
func (m *Manager) ProcessTraits(ctx context.Context, force bool) *Result {
	res := newResult()

	studies, err := m.db.StudiesByProject(ctx, m.project.ID)
	if err != nil {
		return res.failf("load studies: %v", err)
	}
	var selected []*study.Study
	for _, st := range studies {
		if force || !st.TraitNormalized {
			selected = append(selected, st)
		}
	}
	if len(selected) == 0 {
		return res.succeed("Traits normalized and written to the graph.")
	}

	ids := make([]string, len(selected))
	for i, st := range selected {
		ids[i] = st.OriginalTraitID
	}
	answers, err := m.normalizer.NormalizeNodes(ctx, ids)
	if err != nil {
		for _, st := range selected {
			if dbErr := m.db.CreateStudyError(ctx, st.ID, study.ErrorNormalization, err.Error()); dbErr != nil {
				m.logger.Error("record normalization error", zap.String("study", st.StudyName), zap.Error(dbErr))
			}
		}
		return res.failf("trait normalization failed: %v", err)
	}

	var unresolved []string
	for _, st := range selected {
		node := answers[st.OriginalTraitID]
		if node != nil {
			st.NormalizedTraitID = node.ID
			st.NormalizedTraitLabel = node.Name
		} else {
			st.NormalizedTraitID = ""
			st.NormalizedTraitLabel = ""
			unresolved = append(unresolved, st.OriginalTraitID)
			node = m.builder.TraitNode(st)
		}
		st.TraitNormalized = true
		if err := m.writer.WriteNode(ctx, node); err != nil {
			return res.failf("write trait node for %s: %v", st.StudyName, err)
		}
	}
	if len(unresolved) > 0 {
		res.warnf("Normalization could not find a result for these traits: %s", strings.Join(unresolved, ", "))
	}
	if err := m.writer.Flush(ctx); err != nil {
		return res.failf("write trait nodes: %v", err)
	}

	for _, st := range selected {
		if err := m.db.UpdateStudy(ctx, st); err != nil {
			return res.failf("save study %s: %v", st.StudyName, err)
		}
		if err := m.db.ClearStudyErrors(ctx, st.ID, study.ErrorNormalization); err != nil {
			return res.failf("clear errors for %s: %v", st.StudyName, err)
		}
	}
	return res.succeed("Traits normalized and written to the graph.")
}

// SearchStudies scans every unsearched study for significant hits and
// persists them, one study at a time so a crash loses at most the study in
// flight. Reader failures are recorded on the study and the scan continues.
func (m *Manager) SearchStudies(ctx context.Context) *Result {
	res := newResult()

	studies, err := m.db.StudiesByProject(ctx, m.project.ID)
	if err != nil {
		return res.failf("load studies: %v", err)
	}

	var failures []string
	for _, st := range studies {
		if st.Searched {
			continue
		}
		m.logger.Info("searching study for significant hits",
			zap.String("study", st.StudyName), zap.Float64("p_value_cutoff", st.PValueCutoff))

		search := m.searchStudy(st)
		if !search.Success {
			failures = append(failures, st.StudyName)
			m.logger.Warn("study search failed",
				zap.String("study", st.StudyName), zap.String("error", search.ErrorMessage))
			if err := m.db.CreateStudyError(ctx, st.ID, study.ErrorBuilding, search.ErrorMessage); err != nil {
				return res.failf("record search error for %s: %v", st.StudyName, err)
			}
			continue
		}

		if err := m.db.SaveHits(ctx, st, search.Hits); err != nil {
			return res.failf("save hits for %s: %v", st.StudyName, err)
		}
		st.Searched = true
		st.NumHits = int64(search.HitCount)
		if err := m.db.UpdateStudy(ctx, st); err != nil {
			return res.failf("save study %s: %v", st.StudyName, err)
		}
		if err := m.db.ClearStudyErrors(ctx, st.ID, study.ErrorSearching); err != nil {
			return res.failf("clear errors for %s: %v", st.StudyName, err)
		}
	}

	if len(failures) > 0 {
		return res.failf("Error searching for significant hits in these studies: %s", strings.Join(failures, ", "))
	}
	return res.succeed("Studies searched for significant hits.")
}

func (m *Manager) searchStudy(st *study.Study) *study.HitSearchResult {
	reader, err := m.builder.OpenReader(st)
	if err != nil {
		return &study.HitSearchResult{ErrorMessage: err.Error()}
	}
	defer reader.Close()
	return reader.FindSignificantHits(st.PValueCutoff)
}

// BuildRags runs hit normalization and then association writing.
func (m *Manager) BuildRags(ctx context.Context, force bool) *Result {
	res := newResult()

	m.logger.Info("normalizing and writing hits to the graph")
	res.merge(m.BuildHits(ctx, force))
	if !res.Success {
		return res
	}

	m.logger.Info("writing associations to the graph")
	res.merge(m.BuildAssociations(ctx, force))
	if !res.Success {
		return res
	}

	m.logger.Info("build complete", zap.Int64("project_id", m.project.ID))
	return res.succeed("The graph was built successfully.")
}

// BuildHits normalizes unprocessed hits (all of them when force) and writes
// their nodes to the graph.
func (m *Manager) BuildHits(ctx context.Context, force bool) *Result {
	res := newResult()

	filter := projectdb.UnprocessedHits
	if force {
		filter = projectdb.AllHits
	}
	for _, kind := range []study.Type{study.GWAS, study.MWAS} {
		hits, err := m.db.HitsByProject(ctx, m.project.ID, kind, filter)
		if err != nil {
			return res.failf("load %s hits: %v", kind, err)
		}
		if len(hits) == 0 {
			m.logger.Debug("no hits to process", zap.String("kind", string(kind)))
			continue
		}
		if err := m.builder.ProcessHits(ctx, kind, hits); err != nil {
			return res.failf("process %s hits: %v", kind, err)
		}
		if err := m.db.UpdateHitsNormalized(ctx, hits); err != nil {
			return res.failf("save %s hits: %v", kind, err)
		}
		m.logger.Info("hits normalized and written",
			zap.String("kind", string(kind)), zap.Int("count", len(hits)))
	}
	return res.succeed("Hits normalized and written to the graph.")
}

// BuildAssociations writes the trait-to-hit edges each searched study
// contributes. Every study file is probed for every hit of its kind in the
// project, so studies also pick up associations for variants and
// metabolites first seen elsewhere. A study that was already written only
// sees hits that are new since then, unless force re-emits everything.
func (m *Manager) BuildAssociations(ctx context.Context, force bool) *Result {
	res := newResult()

	predicate, err := m.builder.AssociationPredicate(ctx)
	if err != nil {
		return res.failf("resolve association predicate: %v", err)
	}
	studies, err := m.db.StudiesByProject(ctx, m.project.ID)
	if err != nil {
		return res.failf("load studies: %v", err)
	}

	unwritten := make(map[study.Type][]*study.Hit)
	for _, kind := range []study.Type{study.GWAS, study.MWAS} {
		if unwritten[kind], err = m.db.HitsByProject(ctx, m.project.ID, kind, projectdb.UnwrittenHits); err != nil {
			return res.failf("load unwritten %s hits: %v", kind, err)
		}
	}
	all := make(map[study.Type][]*study.Hit)
	fetched := make(map[study.Type]bool)

	var failures []string
	for i, st := range studies {
		if !st.Searched {
			res.warnf("Skipping associations for study %s: it has not been searched.", st.StudyName)
			continue
		}
		if st.TraitID() == "" {
			res.warnf("Skipping associations for study %s: it has no trait.", st.StudyName)
			continue
		}
		m.logger.Info("building associations",
			zap.Int("study", i+1), zap.Int("of", len(studies)), zap.String("name", st.StudyName))

		hits := unwritten[st.StudyType]
		if !st.Written || force {
			if !fetched[st.StudyType] {
				if all[st.StudyType], err = m.db.HitsByProject(ctx, m.project.ID, st.StudyType, projectdb.AllHits); err != nil {
					return res.failf("load %s hits: %v", st.StudyType, err)
				}
				fetched[st.StudyType] = true
			}
			hits = all[st.StudyType]
		}

		count, err := m.buildStudyAssociations(ctx, predicate, st, hits)
		if err != nil {
			failures = append(failures, st.StudyName)
			m.logger.Warn("association build failed", zap.String("study", st.StudyName), zap.Error(err))
			if dbErr := m.db.CreateStudyError(ctx, st.ID, study.ErrorBuilding, err.Error()); dbErr != nil {
				return res.failf("record build error for %s: %v", st.StudyName, dbErr)
			}
			continue
		}

		st.Written = true
		st.NumAssociations += int64(count)
		if err := m.db.UpdateStudy(ctx, st); err != nil {
			return res.failf("save study %s: %v", st.StudyName, err)
		}
		if err := m.db.ClearStudyErrors(ctx, st.ID, study.ErrorBuilding); err != nil {
			return res.failf("clear errors for %s: %v", st.StudyName, err)
		}
	}

	// A failed study is still unwritten and replays the full hit set on
	// retry, so the hit flags can advance even on a partial failure.
	for _, kind := range []study.Type{study.GWAS, study.MWAS} {
		if err := m.db.MarkHitsWritten(ctx, unwritten[kind]); err != nil {
			return res.failf("mark %s hits written: %v", kind, err)
		}
	}

	if len(failures) > 0 {
		return res.failf("Error building associations for these studies: %s", strings.Join(failures, ", "))
	}
	return res.succeed("Associations written to the graph.")
}

// buildStudyAssociations probes one study's file for every given hit and
// writes the edges that pass the study's p-value cap. It returns how many
// edges were written.
func (m *Manager) buildStudyAssociations(ctx context.Context, predicate string, st *study.Study, hits []*study.Hit) (int, error) {
	reader, err := m.builder.OpenReader(st)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	if !st.Written {
		if err := m.writer.WriteNode(ctx, m.builder.TraitNode(st)); err != nil {
			return 0, err
		}
	}

	written, missing, tooHigh := 0, 0, 0
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		id := h.NodeID()
		if seen[id] {
			continue
		}
		seen[id] = true

		assoc, err := reader.GetAssociation(h)
		if err != nil {
			return written, err
		}
		if assoc == nil {
			missing++
			continue
		}
		if st.HasMaxPValue() && assoc.PValue > st.MaxPValue {
			tooHigh++
			continue
		}
		if err := m.builder.WriteAssociation(ctx, predicate, st, h, assoc); err != nil {
			return written, err
		}
		written++
	}

	if missing > 0 {
		m.logger.Warn("hits missing from study file",
			zap.String("study", st.StudyName), zap.Int("count", missing))
	}
	if tooHigh > 0 {
		m.logger.Warn("hits exceeded the study's max p-value",
			zap.String("study", st.StudyName), zap.Int("count", tooHigh),
			zap.Float64("max_p_value", st.MaxPValue))
	}
	if written > 0 {
		m.logger.Info("study associations written",
			zap.String("study", st.StudyName), zap.Int("count", written))
	} else {
		m.logger.Info("no new valid associations found", zap.String("study", st.StudyName))
	}

	if err := m.writer.Flush(ctx); err != nil {
		return written, err
	}
	return written, nil
}

// AnnotateHits finds this project's variant nodes that have no gene edges
// yet, runs the annotator over them, and writes normalized variant-to-gene
// edges.
func (m *Manager) AnnotateHits(ctx context.Context) *Result {
	res := newResult()
	if m.annotator == nil {
		return res.failf("no variant annotator is configured")
	}

	predicate, err := m.builder.AssociationPredicate(ctx)
	if err != nil {
		return res.failf("resolve association predicate: %v", err)
	}

	query := fmt.Sprintf(
		"MATCH (v:`%s`)<-[r:`%s`]-() WHERE r.project_id = %d WITH DISTINCT v WHERE NOT (v)-[:`%s`]-() RETURN v.id AS id, v.equivalent_identifiers AS equivalent_identifiers",
		graph.TypeSequenceVariant, predicate, m.project.ID, annotatedMarkerPredicate)
	rows, err := m.graphDB.CustomReadQuery(ctx, query, 0)
	if err != nil {
		return res.failf("query variants for annotation: %v", err)
	}
	if len(rows) == 0 {
		m.logger.Info("no variants need genes")
		return res.succeed("Found no variants that need genes in the graph.")
	}

	variants := make([]*graph.Node, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		if id == "" {
			continue
		}
		node := &graph.Node{ID: id, AllTypes: graph.VariantTypes()}
		if syns, ok := row["equivalent_identifiers"].([]any); ok {
			for _, s := range syns {
				if syn, ok := s.(string); ok {
					node.Synonyms = append(node.Synonyms, syn)
				}
			}
		}
		variants = append(variants, node)
	}
	m.logger.Info("found variants that need genes", zap.Int("count", len(variants)))

	annotation, err := m.annotator.Annotate(ctx, variants)
	if err != nil {
		return res.failf("annotate variants: %v", err)
	}
	if err := m.writeAnnotations(ctx, annotation); err != nil {
		return res.failf("write annotations: %v", err)
	}
	return res.succeed(fmt.Sprintf("Annotated %d variants.", len(variants)))
}

// writeAnnotations normalizes the annotator's gene ids and predicates and
// writes the resulting nodes and edges, deduplicated per
// (variant, gene, predicate).
func (m *Manager) writeAnnotations(ctx context.Context, annotation *snpeff.Result) error {
	geneIDs := make([]string, len(annotation.Objects))
	for i, obj := range annotation.Objects {
		geneIDs[i] = obj.ID
	}
	genes, err := m.normalizer.NormalizeNodes(ctx, geneIDs)
	if err != nil {
		return err
	}

	rawPredicates := make([]string, len(annotation.Edges))
	for i, e := range annotation.Edges {
		rawPredicates[i] = e.Predicate
	}
	predicates, err := m.normalizer.NormalizePredicates(ctx, rawPredicates)
	if err != nil {
		return err
	}

	for _, obj := range annotation.Objects {
		node := genes[obj.ID]
		if node == nil {
			node = obj
		}
		if err := m.writer.WriteNode(ctx, node); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(annotation.Edges))
	edges := 0
	for _, raw := range annotation.Edges {
		objectID := raw.ObjectID
		if node := genes[raw.ObjectID]; node != nil {
			objectID = node.ID
		}
		predicate := predicates[raw.Predicate]
		if predicate == "" {
			predicate = normalize.DefaultPredicate
		}
		key := raw.SubjectID + "|" + objectID + "|" + predicate
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := m.writer.WriteEdge(ctx, m.builder.GeneEdge(raw, predicate, objectID)); err != nil {
			return err
		}
		edges++
	}
	m.logger.Info("gene annotations written", zap.Int("edges", edges))
	return m.writer.Flush(ctx)
}

// DeleteProject removes the project's edges from the graph and then its
// rows from the state store. Nodes stay; they may be shared with other
// projects.
func (m *Manager) DeleteProject(ctx context.Context) error {
	if err := m.graphDB.DeleteProject(ctx, m.project.ID); err != nil {
		return err
	}
	if err := m.db.DeleteProject(ctx, m.project.ID); err != nil {
		return fmt.Errorf("delete project rows: %w", err)
	}
	return nil
}
