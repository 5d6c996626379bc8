package hgvs

import (
	"fmt"
	"strconv"
	"strings"
)

// RoboVarPrefix marks a synonym curie that encodes positional variant
// coordinates in a pipe-separated form: PREFIX:BUILD|chrom|pos|...|ref|alt.
const RoboVarPrefix = "ROBO_VAR"

// VariantCoordinates are VCF-ready coordinates recovered from a positional
// synonym. Empty alleles have already been padded with N and the position
// adjusted, so the values can be written to a VCF line directly.
type VariantCoordinates struct {
	Chrom string
	Pos   int64
	Ref   string
	Alt   string
}

// ParseRoboVar decodes a ROBO_VAR synonym curie into VCF coordinates.
func ParseRoboVar(curie string) (*VariantCoordinates, error) {
	_, key, found := strings.Cut(curie, ":")
	if !found {
		return nil, fmt.Errorf("robo_var synonym %q has no curie separator", curie)
	}

	params := strings.Split(key, "|")
	if len(params) < 6 {
		return nil, fmt.Errorf("robo_var synonym %q has %d fields, expected 6", curie, len(params))
	}

	pos, err := strconv.ParseInt(params[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("robo_var synonym %q has bad position: %w", curie, err)
	}

	v := &VariantCoordinates{
		Chrom: params[1],
		Pos:   pos,
		Ref:   params[4],
		Alt:   params[5],
	}

	// VCF cannot express empty alleles; pad with N, or step past the
	// anchor base when both alleles are present.
	switch {
	case v.Ref == "":
		v.Ref = "N"
		v.Alt = "N" + v.Alt
	case v.Alt == "":
		v.Ref = "N" + v.Ref
		v.Alt = "N"
	default:
		v.Pos++
	}

	return v, nil
}
