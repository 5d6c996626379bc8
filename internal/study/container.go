package study

import "sort"

// HitContainer aggregates the significant hits found in one study file.
// Iteration order is unspecified but deterministic within a process.
type HitContainer interface {
	Add(h *Hit)
	Hits() []*Hit
	HitCount() int
}

// NewContainer returns the hit container appropriate for a study type.
func NewContainer(t Type) HitContainer {
	if t == MWAS {
		return NewMetaboliteContainer()
	}
	return NewSequenceVariantContainer()
}

// SequenceVariantContainer holds GWAS hits keyed by chromosome and position.
// Multiple hits at one position (multi-allelic sites) are kept.
type SequenceVariantContainer struct {
	variants map[string]map[int64][]*Hit
	count    int
}

// NewSequenceVariantContainer creates an empty variant container.
func NewSequenceVariantContainer() *SequenceVariantContainer {
	return &SequenceVariantContainer{variants: make(map[string]map[int64][]*Hit)}
}

// Add appends a hit under its (chrom, pos) bucket.
func (c *SequenceVariantContainer) Add(h *Hit) {
	positions, ok := c.variants[h.Chrom]
	if !ok {
		positions = make(map[int64][]*Hit)
		c.variants[h.Chrom] = positions
	}
	positions[h.Pos] = append(positions[h.Pos], h)
	c.count++
}

// GetVariant returns the hit matching all four coordinates, or nil.
func (c *SequenceVariantContainer) GetVariant(chrom string, pos int64, ref, alt string) *Hit {
	for _, v := range c.variants[chrom][pos] {
		if v.Ref == ref && v.Alt == alt {
			return v
		}
	}
	return nil
}

// Hits returns all hits ordered by chromosome, position, then insertion.
func (c *SequenceVariantContainer) Hits() []*Hit {
	chroms := make([]string, 0, len(c.variants))
	for chrom := range c.variants {
		chroms = append(chroms, chrom)
	}
	sort.Strings(chroms)

	out := make([]*Hit, 0, c.count)
	for _, chrom := range chroms {
		positions := c.variants[chrom]
		sorted := make([]int64, 0, len(positions))
		for pos := range positions {
			sorted = append(sorted, pos)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for _, pos := range sorted {
			out = append(out, positions[pos]...)
		}
	}
	return out
}

// HitCount returns the number of hits added, counting multi-allelic
// variants individually.
func (c *SequenceVariantContainer) HitCount() int {
	return c.count
}

// MetaboliteContainer holds MWAS hits keyed by original id. Adding a hit
// with an id already present replaces the previous one.
type MetaboliteContainer struct {
	metabolites map[string]*Hit
}

// NewMetaboliteContainer creates an empty metabolite container.
func NewMetaboliteContainer() *MetaboliteContainer {
	return &MetaboliteContainer{metabolites: make(map[string]*Hit)}
}

// Add stores a hit by its original id.
func (c *MetaboliteContainer) Add(h *Hit) {
	c.metabolites[h.OriginalID] = h
}

// Hits returns the distinct hits ordered by original id.
func (c *MetaboliteContainer) Hits() []*Hit {
	ids := make([]string, 0, len(c.metabolites))
	for id := range c.metabolites {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*Hit, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.metabolites[id])
	}
	return out
}

// HitCount returns the number of distinct metabolites held.
func (c *MetaboliteContainer) HitCount() int {
	return len(c.metabolites)
}
