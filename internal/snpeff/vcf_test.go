package snpeff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragsbio/rags/internal/graph"
)

const annotatedVCF = `##fileformat=VCFv4.2
##SnpEffVersion="5.1d (build 2022-04-19 15:49), by Pablo Cingolani"
##SnpEffCmd="SnpEff  -noStats -ud 500000 GRCh38.99 /workspace/temp_1724577600.vcf "
##INFO=<ID=ANN,Number=.,Type=String,Description="Functional annotations: 'Allele | Annotation | Annotation_Impact | Gene_Name | Gene_ID | Feature_Type | Feature_ID | Transcript_BioType | Rank | HGVS.c | HGVS.p | cDNA.pos / cDNA.length | CDS.pos / CDS.length | AA.pos / AA.length | Distance | ERRORS / WARNINGS / INFO'">
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO
19	44908822	CAID:CA128045	C	T		PASS	ANN=T|missense_variant|MODERATE|APOE|ENSG00000130203|transcript|ENST00000252486.9|protein_coding|4/4|c.526C>T|p.Arg176Cys|580/1166|526/954|176/317||,T|upstream_gene_variant|MODIFIER|TOMM40|ENSG00000130204|transcript|ENST00000252487.10|protein_coding||c.-13181C>T|||||13181|
11	117285304	CAID:CA6151238	G	A		PASS	ANN=A|intron_variant|MODIFIER|BACE1|ENSG00000186318|transcript|ENST00000313005.11|protein_coding|3/8|c.274-543G>A||||||,A|intron_variant|MODIFIER|BACE1|ENSG00000186318|transcript|ENST00000542569.5|protein_coding|2/7|c.157-543G>A||||||
18	67881920	HGVS:NC_000018.10:g.67881920G>A	G	A		PASS	ANN=A|intergenic_region|MODIFIER|RN7SL657P-MIR4283|ENSG00000263740-ENSG00000264589|intergenic_region|ENSG00000263740-ENSG00000264589|||||||||
`

func TestExtractAnnotations(t *testing.T) {
	result, err := extractAnnotations(strings.NewReader(annotatedVCF))
	require.NoError(t, err)

	assert.Equal(t, `"5.1d (build 2022-04-19 15:49), by Pablo Cingolani"`, result.Metadata.SnpEffVersion)
	assert.Contains(t, result.Metadata.SnpEffCmd, "GRCh38.99")

	require.Len(t, result.Edges, 5)

	// First variant: two effects, deterministic predicate order.
	assert.Equal(t, "CAID:CA128045", result.Edges[0].SubjectID)
	assert.Equal(t, "SNPEFF:missense_variant", result.Edges[0].Predicate)
	assert.Equal(t, "ENSEMBL:ENSG00000130203", result.Edges[0].ObjectID)
	assert.Nil(t, result.Edges[0].Properties)

	assert.Equal(t, "SNPEFF:upstream_gene_variant", result.Edges[1].Predicate)
	assert.Equal(t, "ENSEMBL:ENSG00000130204", result.Edges[1].ObjectID)
	require.NotNil(t, result.Edges[1].Properties)
	assert.Equal(t, 13181, result.Edges[1].Properties["distance_to_feature"])

	// Second variant: two transcripts collapse to one edge.
	assert.Equal(t, "CAID:CA6151238", result.Edges[2].SubjectID)
	assert.Equal(t, "SNPEFF:intron_variant", result.Edges[2].Predicate)
	assert.Equal(t, "ENSEMBL:ENSG00000186318", result.Edges[2].ObjectID)

	// Intergenic region: remapped predicate, one edge per flanking gene.
	assert.Equal(t, "GAMMA:0000102", result.Edges[3].Predicate)
	assert.Equal(t, "ENSEMBL:ENSG00000263740", result.Edges[3].ObjectID)
	assert.Equal(t, "GAMMA:0000102", result.Edges[4].Predicate)
	assert.Equal(t, "ENSEMBL:ENSG00000264589", result.Edges[4].ObjectID)

	for _, e := range result.Edges {
		assert.Equal(t, "infores:snpeff", e.ProvidedBy)
		assert.Equal(t, e.Predicate, e.Relation)
		assert.Equal(t, e.ObjectID, e.OriginalObjectID)
	}
	require.Len(t, result.Objects, len(result.Edges))
	for _, n := range result.Objects {
		assert.True(t, strings.HasPrefix(n.ID, "ENSEMBL:"))
		assert.Contains(t, n.AllTypes, graph.TypeGene)
	}
}

func TestExtractAnnotationsIntergenicGenes(t *testing.T) {
	vcf := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n" +
		"18\t67881920\tCAID:CA1\tG\tA\t\tPASS\tANN=A|intergenic_region|MODIFIER|A-B|ENSG00000001-ENSG00000002|intergenic_region|ENSG00000001-ENSG00000002|||||||||\n"
	result, err := extractAnnotations(strings.NewReader(vcf))
	require.NoError(t, err)

	require.Len(t, result.Edges, 2)
	assert.Equal(t, "ENSEMBL:ENSG00000001", result.Edges[0].ObjectID)
	assert.Equal(t, "ENSEMBL:ENSG00000002", result.Edges[1].ObjectID)
	for _, e := range result.Edges {
		assert.Equal(t, "GAMMA:0000102", e.Predicate)
	}
}

func TestExtractAnnotationsCombinedEffects(t *testing.T) {
	vcf := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n" +
		"19\t44912383\tCAID:CA2\tA\tT\t\tPASS\tANN=T|splice_region_variant&intron_variant|LOW|APOC1|ENSG00000130208|transcript|ENST00000252491.3|protein_coding|2/3|c.132+3A>T||||||\n"
	result, err := extractAnnotations(strings.NewReader(vcf))
	require.NoError(t, err)

	require.Len(t, result.Edges, 2)
	assert.Equal(t, "SNPEFF:intron_variant", result.Edges[0].Predicate)
	assert.Equal(t, "SNPEFF:splice_region_variant", result.Edges[1].Predicate)
	for _, e := range result.Edges {
		assert.Equal(t, "ENSEMBL:ENSG00000130208", e.ObjectID)
	}
}

func TestExtractAnnotationsSkipsMalformed(t *testing.T) {
	vcf := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n" +
		"1\t100\tCAID:CA3\tA\tG\t\tPASS\tANN=G|too|short\n" +
		"1\t200\tCAID:CA4\tA\tG\t\tPASS\tDP=12\n" +
		"bad line\n"
	result, err := extractAnnotations(strings.NewReader(vcf))
	require.NoError(t, err)
	assert.Empty(t, result.Edges)
	assert.Empty(t, result.Objects)
}

func TestWriteVCF(t *testing.T) {
	variants := []*graph.Node{
		{
			ID: "CAID:CA36853879",
			Synonyms: []string{
				"HGVS:NC_000019.10:g.44908822C>T",
				"ROBO_VAR:HG38|19|44908821|44908822|C|T",
				"DBSNP:rs7412",
			},
		},
		{
			ID:       "HGVS:NC_000001.11:g.1001del",
			Synonyms: []string{"ROBO_VAR:HG38|1|1000|1001|A|"},
		},
		{
			ID:       "CAID:CA-no-position",
			Synonyms: []string{"DBSNP:rs123"},
		},
	}

	a := NewAnnotator(t.TempDir())
	path := filepath.Join(t.TempDir(), "variants.vcf")
	count, err := a.writeVCF(variants, path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "##fileformat=VCFv4.2", lines[0])
	assert.Equal(t, "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO", lines[1])

	// Substitution: position steps past the anchor base.
	assert.Equal(t, "19\t44908822\tCAID:CA36853879\tC\tT\t\tPASS\t", lines[2])
	// Deletion: empty alt padded with N, position kept.
	assert.Equal(t, "1\t1000\tHGVS:NC_000001.11:g.1001del\tNA\tN\t\tPASS\t", lines[3])
}
