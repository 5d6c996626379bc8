package gwas

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/biogo/hts/bgzf"
	"github.com/biogo/hts/tabix"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragsbio/rags/internal/study"
)

const variantStudy = `CHROM	POS	REF	ALT	PVALUE	BETA
16	82335280	AAAC	A	1e-08	-0.3
19	45411941	T	C	0.049	0.005
19	45411950	G	A	0.2	0.12
`

func writeStudyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gwas.tsv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeGzippedStudyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gwas.tsv.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestFindSignificantHits(t *testing.T) {
	path := writeStudyFile(t, variantStudy)

	result := NewReader(path).FindSignificantHits(0.05)
	require.True(t, result.Success)
	require.Equal(t, 2, result.HitCount)

	hits := result.Hits.Hits()
	require.Len(t, hits, 2)
	deletion, substitution := hits[0], hits[1]

	assert.Equal(t, study.GWAS, substitution.Kind)
	assert.Equal(t, "NC_000019.9:g.45411941T>C", substitution.HGVS)
	assert.Equal(t, substitution.HGVS, substitution.OriginalID)
	assert.Equal(t, "19", substitution.Chrom)
	assert.Equal(t, int64(45411941), substitution.Pos)
	assert.Equal(t, "T", substitution.Ref)
	assert.Equal(t, "C", substitution.Alt)

	assert.Equal(t, "NC_000016.9:g.82335281_82335283del", deletion.HGVS)
}

func TestFindSignificantHitsHeaderAliases(t *testing.T) {
	path := writeStudyFile(t, `chr	position	ref	alt	p_val	beta
19	45411941	T	C	0.049	0.005
`)

	result := NewReader(path).FindSignificantHits(0.05)
	require.True(t, result.Success)
	assert.Equal(t, 1, result.HitCount)
}

func TestFindSignificantHitsGzipped(t *testing.T) {
	path := writeGzippedStudyFile(t, variantStudy)

	result := NewReader(path).FindSignificantHits(0.05)
	require.True(t, result.Success)
	assert.Equal(t, 2, result.HitCount)
}

func TestFindSignificantHitsDropsUnconvertibleVariants(t *testing.T) {
	// The structural variant is significant but has no HGVS form.
	path := writeStudyFile(t, `chrom	pos	ref	alt	pvalue	beta
1	100	A	<DEL>	1e-10	0.5
19	45411941	T	C	0.049	0.005
`)

	result := NewReader(path).FindSignificantHits(0.05)
	require.True(t, result.Success)
	require.Equal(t, 1, result.HitCount)
	assert.Equal(t, "NC_000019.9:g.45411941T>C", result.Hits.Hits()[0].HGVS)
}

func TestFindSignificantHitsSkipsBadRows(t *testing.T) {
	path := writeStudyFile(t, `chrom	pos	ref	alt	pvalue	beta
19	not-a-position	T	C	0.001	0.005
19	45411941	T	C	not-a-number	0.005
19	45411941	T	C
19	45411941	T	C	0.049	0.005
`)

	result := NewReader(path).FindSignificantHits(0.05)
	require.True(t, result.Success)
	assert.Equal(t, 1, result.HitCount)
}

func TestFindSignificantHitsBadHeaders(t *testing.T) {
	path := writeStudyFile(t, `chrom	pos	reference	alternate	pvalue	beta
19	45411941	T	C	0.049	0.005
`)

	result := NewReader(path).FindSignificantHits(0.05)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "ref")
	assert.Contains(t, result.ErrorMessage, "alt")
	assert.Contains(t, result.ErrorMessage, "reference", "observed headers are reported")
}

func TestFindSignificantHitsMissingFile(t *testing.T) {
	result := NewReader(filepath.Join(t.TempDir(), "absent.tsv")).FindSignificantHits(0.05)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestGetAssociationTextScan(t *testing.T) {
	path := writeStudyFile(t, variantStudy)
	r := NewReader(path)

	hit := study.NewGWASHit("NC_000019.9:g.45411941T>C", "19", 45411941, "T", "C")
	assoc, err := r.GetAssociation(hit)
	require.NoError(t, err)
	require.NotNil(t, assoc)
	assert.Equal(t, 0.049, assoc.PValue)
	assert.Equal(t, 0.005, assoc.Beta)

	// Same position, different alt allele.
	missing, err := r.GetAssociation(study.NewGWASHit("", "19", 45411941, "T", "G"))
	require.NoError(t, err)
	assert.Nil(t, missing, "absent variant is not an error")
}

func TestGetAssociationClampsZeroPValue(t *testing.T) {
	path := writeStudyFile(t, `chrom	pos	ref	alt	pvalue	beta
19	45411941	T	C	0	0.005
`)
	assoc, err := NewReader(path).GetAssociation(study.NewGWASHit("", "19", 45411941, "T", "C"))
	require.NoError(t, err)
	require.NotNil(t, assoc)
	assert.Equal(t, math.SmallestNonzeroFloat64, assoc.PValue)
}

// tabixRecord adapts a (chrom, 1-based pos) pair to the tabix record
// interface for index construction.
type tabixRecord struct {
	chrom string
	pos   int64
}

func (r tabixRecord) RefName() string { return r.chrom }
func (r tabixRecord) Start() int      { return int(r.pos - 1) }
func (r tabixRecord) End() int        { return int(r.pos) }

func fileOffset(t *testing.T, f *os.File) int64 {
	t.Helper()
	off, err := f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	return off
}

// writeIndexedStudyFile writes the header and rows as BGZF, cutting a block
// after every flush point, and builds the matching .tbi next to the data
// file. flushAfter marks row indexes that end a block; rows sharing a block
// share a chunk, which exercises the neighbour filtering in the reader.
func writeIndexedStudyFile(t *testing.T, rows []string, recs []tabixRecord, flushAfter map[int]bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gwas.tsv.gz")
	f, err := os.Create(path)
	require.NoError(t, err)

	bw := bgzf.NewWriter(f, 1)
	_, err = bw.Write([]byte("CHROM\tPOS\tREF\tALT\tPVALUE\tBETA\n"))
	require.NoError(t, err)
	require.NoError(t, bw.Flush())
	require.NoError(t, bw.Wait())

	idx := tabix.New()
	idx.NameColumn, idx.BeginColumn, idx.EndColumn = 1, 2, 2
	idx.MetaChar = '#'
	idx.Skip = 1

	type pending struct {
		rec   tabixRecord
		begin int64
	}
	var open []pending

	begin := fileOffset(t, f)
	for i, row := range rows {
		_, err = bw.Write([]byte(row + "\n"))
		require.NoError(t, err)
		open = append(open, pending{rec: recs[i], begin: begin})
		if !flushAfter[i] {
			continue
		}
		require.NoError(t, bw.Flush())
		require.NoError(t, bw.Wait())
		end := fileOffset(t, f)
		for _, p := range open {
			chunk := bgzf.Chunk{
				Begin: bgzf.Offset{File: p.begin},
				End:   bgzf.Offset{File: end},
			}
			require.NoError(t, idx.Add(p.rec, chunk, true, true))
		}
		open = nil
		begin = end
	}
	require.Empty(t, open, "every row must be covered by a flush point")
	require.NoError(t, bw.Close())
	require.NoError(t, f.Close())

	tf, err := os.Create(path + ".tbi")
	require.NoError(t, err)
	tw := bgzf.NewWriter(tf, 1)
	require.NoError(t, tabix.WriteTo(tw, idx))
	require.NoError(t, tw.Close())
	require.NoError(t, tf.Close())
	return path
}

func TestGetAssociationIndexed(t *testing.T) {
	rows := []string{
		"16\t82335280\tAAAC\tA\t1e-08\t-0.3",
		"19\t45411941\tT\tC\t0.049\t0.005",
		"19\t45411950\tG\tA\t0.2\t0.12",
	}
	recs := []tabixRecord{
		{"16", 82335280},
		{"19", 45411941},
		{"19", 45411950},
	}
	// Rows 1 and 2 share a BGZF block and therefore a chunk.
	path := writeIndexedStudyFile(t, rows, recs, map[int]bool{0: true, 2: true})

	r := NewReader(path)
	r.SetTabix(true)

	assoc, err := r.GetAssociation(study.NewGWASHit("", "19", 45411941, "T", "C"))
	require.NoError(t, err)
	require.NotNil(t, assoc)
	assert.Equal(t, 0.049, assoc.PValue)
	assert.Equal(t, 0.005, assoc.Beta)

	// The neighbouring row in the same block.
	assoc, err = r.GetAssociation(study.NewGWASHit("", "19", 45411950, "G", "A"))
	require.NoError(t, err)
	require.NotNil(t, assoc)
	assert.Equal(t, 0.2, assoc.PValue)

	assoc, err = r.GetAssociation(study.NewGWASHit("", "16", 82335280, "AAAC", "A"))
	require.NoError(t, err)
	require.NotNil(t, assoc)
	assert.Equal(t, 1e-08, assoc.PValue)
	assert.Equal(t, -0.3, assoc.Beta)
}

func TestGetAssociationIndexedMissingVariant(t *testing.T) {
	rows := []string{"19\t45411941\tT\tC\t0.049\t0.005"}
	recs := []tabixRecord{{"19", 45411941}}
	path := writeIndexedStudyFile(t, rows, recs, map[int]bool{0: true})

	r := NewReader(path)
	r.SetTabix(true)

	// Same position, different alleles.
	assoc, err := r.GetAssociation(study.NewGWASHit("", "19", 45411941, "T", "G"))
	require.NoError(t, err)
	assert.Nil(t, assoc)

	// Chromosome absent from the index entirely.
	assoc, err = r.GetAssociation(study.NewGWASHit("", "7", 100, "A", "G"))
	require.NoError(t, err)
	assert.Nil(t, assoc)
}

func TestGetAssociationIndexedMissingIndexFile(t *testing.T) {
	path := writeGzippedStudyFile(t, variantStudy)
	r := NewReader(path)
	r.SetTabix(true)

	_, err := r.GetAssociation(study.NewGWASHit("", "19", 45411941, "T", "C"))
	assert.Error(t, err)
}
