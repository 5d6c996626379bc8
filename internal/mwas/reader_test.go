package mwas

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragsbio/rags/internal/study"
)

func writeStudyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mwas.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const metaboliteStudy = `curie,label,pval,beta
PUBCHEM.COMPOUND:11146967,1-(1Z-hexadecenyl)-sn-glycero-3-phosphocholine (P-16:0 LPC),1.5e-10,0.0738210759226987
HMDB:HMDB0011352,1-linoleoylglycerophosphocholine,0.0077,0.092
`

func TestFindSignificantHitsCutoffs(t *testing.T) {
	path := writeStudyFile(t, metaboliteStudy)

	tests := []struct {
		name   string
		cutoff float64
		want   int
	}{
		{"strict cutoff keeps one", 0.005, 1},
		{"loose cutoff keeps both", 0.1, 2},
		{"cutoff is inclusive", 0.0077, 2},
		{"nothing significant", 1e-20, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewReader(path).FindSignificantHits(tt.cutoff)
			require.True(t, result.Success)
			assert.Equal(t, tt.want, result.HitCount)
		})
	}
}

func TestFindSignificantHitsCollectsMetabolites(t *testing.T) {
	path := writeStudyFile(t, metaboliteStudy)

	result := NewReader(path).FindSignificantHits(0.005)
	require.True(t, result.Success)
	hits := result.Hits.Hits()
	require.Len(t, hits, 1)
	assert.Equal(t, study.MWAS, hits[0].Kind)
	assert.Equal(t, "PUBCHEM.COMPOUND:11146967", hits[0].OriginalID)
	assert.Equal(t, "1-(1Z-hexadecenyl)-sn-glycero-3-phosphocholine (P-16:0 LPC)", hits[0].OriginalName)
}

func TestFindSignificantHitsDeduplicatesCuries(t *testing.T) {
	path := writeStudyFile(t, `curie,label,pvalue
HMDB:HMDB0000122,glucose,0.001
HMDB:HMDB0000122,d-glucose,0.002
`)

	result := NewReader(path).FindSignificantHits(0.01)
	require.True(t, result.Success)
	assert.Equal(t, 1, result.HitCount)
}

func TestFindSignificantHitsSkipsBadRows(t *testing.T) {
	path := writeStudyFile(t, `curie,label,pval
HMDB:HMDB0000001,one,not-a-number
HMDB:HMDB0000002,two,0.0001
,three,0.0001
`)

	result := NewReader(path).FindSignificantHits(0.01)
	require.True(t, result.Success)
	require.Equal(t, 1, result.HitCount)
	assert.Equal(t, "HMDB:HMDB0000002", result.Hits.Hits()[0].OriginalID)
}

func TestFindSignificantHitsBadHeaders(t *testing.T) {
	path := writeStudyFile(t, `identifier,label,pval
HMDB:HMDB0000001,one,0.001
`)

	result := NewReader(path).FindSignificantHits(0.01)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "curie")
	assert.Contains(t, result.ErrorMessage, "identifier", "observed headers are reported")
}

func TestFindSignificantHitsMissingFile(t *testing.T) {
	result := NewReader(filepath.Join(t.TempDir(), "absent.csv")).FindSignificantHits(0.01)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestGetAssociation(t *testing.T) {
	path := writeStudyFile(t, metaboliteStudy)
	r := NewReader(path)
	t.Cleanup(func() { _ = r.Close() })

	hit := study.NewMWASHit("PUBCHEM.COMPOUND:11146967", "")
	assoc, err := r.GetAssociation(hit)
	require.NoError(t, err)
	require.NotNil(t, assoc)
	assert.Equal(t, 1.5e-10, assoc.PValue)
	assert.Equal(t, 0.0738210759226987, assoc.Beta)

	missing, err := r.GetAssociation(study.NewMWASHit("HMDB:HMDB9999999", ""))
	require.NoError(t, err)
	assert.Nil(t, missing, "absent curie is not an error")
}

func TestGetAssociationClampsZeroPValue(t *testing.T) {
	path := writeStudyFile(t, `curie,label,pval,beta
HMDB:HMDB0000122,glucose,0,1.5
`)

	assoc, err := NewReader(path).GetAssociation(study.NewMWASHit("HMDB:HMDB0000122", ""))
	require.NoError(t, err)
	require.NotNil(t, assoc)
	assert.Equal(t, math.SmallestNonzeroFloat64, assoc.PValue)
	assert.Equal(t, 1.5, assoc.Beta)
}

func TestGetAssociationWithoutBetaColumn(t *testing.T) {
	path := writeStudyFile(t, `curie,label,pval
HMDB:HMDB0000122,glucose,0.004
`)

	assoc, err := NewReader(path).GetAssociation(study.NewMWASHit("HMDB:HMDB0000122", ""))
	require.NoError(t, err)
	require.NotNil(t, assoc)
	assert.Equal(t, 0.004, assoc.PValue)
	assert.Zero(t, assoc.Beta)
}
