// Package hgvs converts VCF-style variant coordinates into HGVS genomic
// expressions and parses the positional synonym encoding used by the
// variant annotation pipeline.
package hgvs

import "fmt"

// Reference genome builds with known RefSeq chromosome accessions.
const (
	HG19 = "HG19"
	HG38 = "HG38"

	// DefaultPatch is the only patch level with accession data.
	DefaultPatch = "p1"
)

// referenceChromLabels maps (genome, patch, chromosome) to the NCBI RefSeq
// accession used to anchor an HGVS g. expression. Chromosomes 23 and 24 are
// accepted as aliases for X and Y.
var referenceChromLabels = map[string]map[string]map[string]string{
	HG19: {
		DefaultPatch: {
			"1":  "NC_000001.10",
			"2":  "NC_000002.11",
			"3":  "NC_000003.11",
			"4":  "NC_000004.11",
			"5":  "NC_000005.9",
			"6":  "NC_000006.11",
			"7":  "NC_000007.13",
			"8":  "NC_000008.10",
			"9":  "NC_000009.11",
			"10": "NC_000010.10",
			"11": "NC_000011.9",
			"12": "NC_000012.11",
			"13": "NC_000013.10",
			"14": "NC_000014.8",
			"15": "NC_000015.9",
			"16": "NC_000016.9",
			"17": "NC_000017.10",
			"18": "NC_000018.9",
			"19": "NC_000019.9",
			"20": "NC_000020.10",
			"21": "NC_000021.8",
			"22": "NC_000022.10",
			"23": "NC_000023.10",
			"24": "NC_000024.9",
			"X":  "NC_000023.10",
			"Y":  "NC_000024.9",
		},
	},
	HG38: {
		DefaultPatch: {
			"1":  "NC_000001.11",
			"2":  "NC_000002.12",
			"3":  "NC_000003.12",
			"4":  "NC_000004.12",
			"5":  "NC_000005.10",
			"6":  "NC_000006.12",
			"7":  "NC_000007.14",
			"8":  "NC_000008.11",
			"9":  "NC_000009.12",
			"10": "NC_000010.11",
			"11": "NC_000011.10",
			"12": "NC_000012.12",
			"13": "NC_000013.11",
			"14": "NC_000014.9",
			"15": "NC_000015.10",
			"16": "NC_000016.10",
			"17": "NC_000017.11",
			"18": "NC_000018.10",
			"19": "NC_000019.10",
			"20": "NC_000020.11",
			"21": "NC_000021.9",
			"22": "NC_000022.11",
			"23": "NC_000023.11",
			"24": "NC_000024.10",
			"X":  "NC_000023.11",
			"Y":  "NC_000024.10",
		},
	},
}

// Accession returns the RefSeq accession for a chromosome, or "" when the
// genome, patch, or chromosome is unknown.
func Accession(genome, patch, chrom string) string {
	return referenceChromLabels[genome][patch][chrom]
}

// FromVCF converts VCF-style coordinates into an HGVS g. expression.
// Unsupported shapes (structural variants, non-prefix indels) and unknown
// chromosomes return "", which callers treat as "drop this row".
func FromVCF(genome, patch, chrom string, pos int64, ref, alt string) string {
	accession := Accession(genome, patch, chrom)
	if accession == "" {
		return ""
	}

	lenRef := int64(len(ref))
	var variation string
	switch {
	case alt == ".":
		if lenRef == 1 {
			variation = fmt.Sprintf("%ddel", pos)
		} else {
			variation = fmt.Sprintf("%d_%ddel", pos, pos+lenRef-1)
		}

	case len(alt) > 0 && alt[0] == '<':
		// structural variants are recognized but not supported
		return ""

	default:
		lenAlt := int64(len(alt))
		switch {
		case lenRef == 1 && lenAlt == 1:
			variation = fmt.Sprintf("%d%s>%s", pos, ref, alt)
		case lenAlt > lenRef && len(alt) >= len(ref) && alt[:len(ref)] == ref:
			// insertion of the suffix between the last shared base and the next
			variation = fmt.Sprintf("%d_%dins%s", pos+lenRef-1, pos+lenRef, alt[lenRef:])
		case lenRef > lenAlt && len(ref) >= len(alt) && ref[:len(alt)] == alt:
			diff := lenRef - lenAlt
			if diff == 1 {
				variation = fmt.Sprintf("%ddel", pos+lenAlt)
			} else {
				variation = fmt.Sprintf("%d_%ddel", pos+lenAlt, pos+lenAlt+diff-1)
			}
		default:
			return ""
		}
	}

	return fmt.Sprintf("%s:g.%s", accession, variation)
}
