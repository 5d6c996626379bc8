package study

// Hit is a single significant row extracted from a study file. It is a
// tagged variant: Kind selects the GWAS or MWAS interpretation, and the
// positional fields are only populated for GWAS hits.
type Hit struct {
	ID        int64
	ProjectID int64
	StudyID   int64
	Kind      Type

	OriginalID   string
	OriginalName string

	Normalized     bool
	NormalizedID   string
	NormalizedName string

	Written bool

	// GWAS positional fields. For a GWAS hit OriginalID and OriginalName
	// both hold the HGVS expression.
	HGVS  string
	Chrom string
	Pos   int64
	Ref   string
	Alt   string
}

// NewGWASHit builds a hit for one significant GWAS row.
func NewGWASHit(hgvs, chrom string, pos int64, ref, alt string) *Hit {
	return &Hit{
		Kind:         GWAS,
		OriginalID:   hgvs,
		OriginalName: hgvs,
		HGVS:         hgvs,
		Chrom:        chrom,
		Pos:          pos,
		Ref:          ref,
		Alt:          alt,
	}
}

// NewMWASHit builds a hit for one significant MWAS row.
func NewMWASHit(curie, label string) *Hit {
	return &Hit{
		Kind:         MWAS,
		OriginalID:   curie,
		OriginalName: label,
	}
}

// NodeID returns the graph node id for this hit: the normalized id when
// normalization found an answer, the original id otherwise.
func (h *Hit) NodeID() string {
	if h.NormalizedID != "" {
		return h.NormalizedID
	}
	return h.OriginalID
}

// NodeName returns the display name for this hit's graph node.
func (h *Hit) NodeName() string {
	if h.NormalizedName != "" {
		return h.NormalizedName
	}
	return h.OriginalName
}

// Association holds the statistics retrieved for one hit from its study file.
type Association struct {
	PValue float64
	Beta   float64
}
