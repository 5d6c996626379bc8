package snpeff

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ragsbio/rags/internal/graph"
	"github.com/ragsbio/rags/internal/hgvs"
)

// maxLineBytes bounds one annotated VCF line. ANN fields list every
// overlapping transcript and can run very long.
const maxLineBytes = 4 << 20

// writeVCF emits one VCF line per variant that carries a positional
// synonym, using the first such synonym found. It returns the number of
// lines written.
func (a *Annotator) writeVCF(variants []*graph.Node, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create vcf: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "##fileformat=VCFv4.2")
	fmt.Fprintln(w, "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO")

	count := 0
	for _, node := range variants {
		for _, syn := range node.Synonyms {
			if !strings.HasPrefix(syn, hgvs.RoboVarPrefix) {
				continue
			}
			coords, err := hgvs.ParseRoboVar(syn)
			if err != nil {
				a.logger.Warn("skipping variant with unreadable positional synonym",
					zap.String("id", node.ID), zap.Error(err))
				break
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t\tPASS\t\n",
				coords.Chrom, coords.Pos, node.ID, coords.Ref, coords.Alt)
			count++
			break
		}
	}

	if err := w.Flush(); err != nil {
		return count, fmt.Errorf("write vcf: %w", err)
	}
	return count, nil
}

// extractAnnotations parses snpEff output. Every data line's ANN info field
// is unpacked into (effect, gene) pairs; each pair becomes a gene node plus
// a variant-to-gene edge with a SNPEFF predicate, deduplicated per variant.
func extractAnnotations(r io.Reader) (*Result, error) {
	result := &Result{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.Contains(line, "SnpEffVersion") {
				if _, v, ok := strings.Cut(line, "="); ok {
					result.Metadata.SnpEffVersion = strings.TrimSpace(v)
				}
			}
			if strings.Contains(line, "SnpEffCmd") {
				if _, v, ok := strings.Cut(line, "="); ok {
					result.Metadata.SnpEffCmd = strings.TrimSpace(v)
				}
			}
			continue
		}

		cols := strings.Split(line, "\t")
		if len(cols) < 8 {
			continue
		}
		variantID := cols[2]
		for _, info := range strings.Split(cols[7], ";") {
			ann, ok := strings.CutPrefix(info, "ANN=")
			if !ok {
				continue
			}
			appendVariantAnnotations(result, variantID, ann)
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read annotated vcf: %w", err)
	}
	return result, nil
}

// appendVariantAnnotations unpacks one ANN value. Sub-fields follow the
// snpEff spec: [1] effects joined by &, [4] gene ids joined by - (intergenic
// regions name both flanking genes), [14] distance to the feature.
func appendVariantAnnotations(result *Result, variantID, ann string) {
	pairs := make(map[string]map[string]bool)
	distances := make(map[string]string)

	for _, annotation := range strings.Split(ann, ",") {
		fields := strings.Split(annotation, "|")
		if len(fields) < 15 {
			continue
		}
		effects := strings.Split(fields[1], "&")
		genes := strings.Split(fields[4], "-")
		distance := fields[14]

		for _, gene := range genes {
			if gene == "" {
				continue
			}
			geneID := "ENSEMBL:" + gene
			distances[geneID] = distance
			for _, effect := range effects {
				if effect == "" {
					continue
				}
				predicate := "SNPEFF:" + effect
				if effect == "intergenic_region" {
					predicate = "GAMMA:0000102"
				}
				if pairs[predicate] == nil {
					pairs[predicate] = make(map[string]bool)
				}
				pairs[predicate][geneID] = true
			}
		}
	}

	for _, predicate := range sortedKeys(pairs) {
		for _, geneID := range sortedKeys(pairs[predicate]) {
			var props map[string]any
			if d := distances[geneID]; d != "" {
				if n, err := strconv.Atoi(d); err == nil {
					props = map[string]any{"distance_to_feature": n}
				}
			}
			result.Objects = append(result.Objects, &graph.Node{
				ID:       geneID,
				AllTypes: []string{graph.RootType, graph.TypeGene},
			})
			result.Edges = append(result.Edges, &graph.Edge{
				SubjectID:        variantID,
				ObjectID:         geneID,
				OriginalObjectID: geneID,
				Predicate:        predicate,
				Relation:         predicate,
				ProvidedBy:       providedBy,
				Properties:       props,
			})
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
