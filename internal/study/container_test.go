package study

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceVariantContainerMultiAllelic(t *testing.T) {
	c := NewSequenceVariantContainer()
	c.Add(NewGWASHit("NC_000001.10:g.100A>G", "1", 100, "A", "G"))
	c.Add(NewGWASHit("NC_000001.10:g.100A>T", "1", 100, "A", "T"))
	c.Add(NewGWASHit("NC_000002.11:g.50C>T", "2", 50, "C", "T"))

	assert.Equal(t, 3, c.HitCount())

	hit := c.GetVariant("1", 100, "A", "T")
	require.NotNil(t, hit)
	assert.Equal(t, "NC_000001.10:g.100A>T", hit.HGVS)

	assert.Nil(t, c.GetVariant("1", 100, "A", "C"))
	assert.Nil(t, c.GetVariant("3", 100, "A", "G"))
}

func TestSequenceVariantContainerOrdering(t *testing.T) {
	c := NewSequenceVariantContainer()
	c.Add(NewGWASHit("h3", "2", 10, "A", "G"))
	c.Add(NewGWASHit("h1", "1", 300, "A", "G"))
	c.Add(NewGWASHit("h2", "1", 500, "A", "G"))

	var ids []string
	for _, h := range c.Hits() {
		ids = append(ids, h.OriginalID)
	}
	assert.Equal(t, []string{"h1", "h2", "h3"}, ids)

	// repeated iteration yields the same order
	var again []string
	for _, h := range c.Hits() {
		again = append(again, h.OriginalID)
	}
	assert.Equal(t, ids, again)
}

func TestMetaboliteContainerDeduplicates(t *testing.T) {
	c := NewMetaboliteContainer()
	c.Add(NewMWASHit("HMDB:HMDB0011352", "first"))
	c.Add(NewMWASHit("PUBCHEM.COMPOUND:11146967", "other"))
	c.Add(NewMWASHit("HMDB:HMDB0011352", "second"))

	assert.Equal(t, 2, c.HitCount())

	hits := c.Hits()
	require.Len(t, hits, 2)
	assert.Equal(t, "HMDB:HMDB0011352", hits[0].OriginalID)
	assert.Equal(t, "second", hits[0].OriginalName)
	assert.Equal(t, "PUBCHEM.COMPOUND:11146967", hits[1].OriginalID)
}

func TestHitNodeIDFallback(t *testing.T) {
	h := NewMWASHit("HMDB:HMDB0011352", "sphingomyelin")
	assert.Equal(t, "HMDB:HMDB0011352", h.NodeID())
	assert.Equal(t, "sphingomyelin", h.NodeName())

	h.NormalizedID = "PUBCHEM.COMPOUND:123"
	h.NormalizedName = "SM(d18:1/22:1)"
	assert.Equal(t, "PUBCHEM.COMPOUND:123", h.NodeID())
	assert.Equal(t, "SM(d18:1/22:1)", h.NodeName())
}

func TestParseType(t *testing.T) {
	got, err := ParseType("GWAS")
	require.NoError(t, err)
	assert.Equal(t, GWAS, got)

	got, err = ParseType("MWAS")
	require.NoError(t, err)
	assert.Equal(t, MWAS, got)

	_, err = ParseType("EWAS")
	assert.Error(t, err)
}

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "SEARCHING", ErrorSearching.String())
	assert.Equal(t, "BUILDING", ErrorBuilding.String())
	assert.Equal(t, "NORMALIZATION", ErrorNormalization.String())
}
