// Package gwas reads genome-wide association study files: whitespace
// separated tables, plain or gzipped, with a required header row. Studies
// carrying a Tabix index get random-access association lookups; plain files
// are re-scanned linearly.
package gwas

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	"go.uber.org/zap"

	"github.com/ragsbio/rags/internal/hgvs"
	"github.com/ragsbio/rags/internal/study"
)

// maxLineBytes bounds a single row. Association files occasionally carry
// very wide annotation columns.
const maxLineBytes = 4 << 20

// Header aliases, matched case-insensitively and in order against the
// header row. The first alias present wins.
var (
	chromAliases  = []string{"chrom", "chr", "chromosome"}
	posAliases    = []string{"pos", "position"}
	refAliases    = []string{"ref"}
	altAliases    = []string{"alt"}
	pValueAliases = []string{"pvalue", "pval", "p_value", "p_val"}
	betaAliases   = []string{"beta"}
)

// Reader scans one GWAS file. The file is opened per operation, so a Reader
// holds no resources between calls.
type Reader struct {
	path     string
	useTabix bool
	genome   string
	patch    string
	logger   *zap.Logger
}

var _ study.Reader = (*Reader)(nil)

// NewReader creates a reader for the file at path. The reference genome
// defaults to HG19 patch p1.
func NewReader(path string) *Reader {
	return &Reader{
		path:   path,
		genome: hgvs.HG19,
		patch:  hgvs.DefaultPatch,
		logger: zap.NewNop(),
	}
}

// SetTabix selects the indexed association lookup path. The index is
// expected next to the data file at path + ".tbi".
func (r *Reader) SetTabix(useTabix bool) {
	r.useTabix = useTabix
}

// SetReferenceGenome overrides the genome build and patch level used for
// HGVS conversion.
func (r *Reader) SetReferenceGenome(genome, patch string) {
	r.genome = genome
	r.patch = patch
}

// SetLogger routes reader logging to l instead of the default no-op logger.
func (r *Reader) SetLogger(l *zap.Logger) {
	r.logger = l
}

// columns holds probed header positions.
type columns struct {
	chrom  int
	pos    int
	ref    int
	alt    int
	pvalue int
	beta   int
}

// width is the minimum field count a row needs to cover every column.
func (c *columns) width() int {
	w := c.chrom
	for _, i := range []int{c.pos, c.ref, c.alt, c.pvalue, c.beta} {
		if i > w {
			w = i
		}
	}
	return w + 1
}

func firstIndex(headers, aliases []string) int {
	for _, a := range aliases {
		for i, h := range headers {
			if h == a {
				return i
			}
		}
	}
	return -1
}

// probeHeader locates the required columns. All six are mandatory, beta
// included.
func probeHeader(path string, fields []string) (*columns, error) {
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = strings.ToLower(f)
	}

	cols := &columns{
		chrom:  firstIndex(headers, chromAliases),
		pos:    firstIndex(headers, posAliases),
		ref:    firstIndex(headers, refAliases),
		alt:    firstIndex(headers, altAliases),
		pvalue: firstIndex(headers, pValueAliases),
		beta:   firstIndex(headers, betaAliases),
	}

	var missing []string
	for _, c := range []struct {
		name  string
		index int
	}{
		{"chrom", cols.chrom},
		{"pos", cols.pos},
		{"ref", cols.ref},
		{"alt", cols.alt},
		{"pvalue", cols.pvalue},
		{"beta", cols.beta},
	} {
		if c.index < 0 {
			missing = append(missing, c.name)
		}
	}
	if len(missing) > 0 {
		return nil, &study.HeaderError{Path: path, Headers: fields, Missing: missing}
	}
	return cols, nil
}

// scanFile is an open study file positioned at its first data row.
type scanFile struct {
	file    *os.File
	gzip    *pgzip.Reader
	scanner *bufio.Scanner
	cols    *columns
}

func (s *scanFile) Close() error {
	if s.gzip != nil {
		s.gzip.Close()
	}
	return s.file.Close()
}

// open opens the file, sniffs gzip compression from the magic bytes, and
// probes the header row. The caller closes the returned scanFile.
func (r *Reader) open() (*scanFile, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open study file: %w", err)
	}

	magic := make([]byte, 2)
	n, err := f.Read(magic)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("read magic bytes of %s: %w", r.path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewind %s: %w", r.path, err)
	}

	sf := &scanFile{file: f}
	var in io.Reader = f
	if n == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := pgzip.NewReader(bufio.NewReaderSize(f, 1<<20))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip stream of %s: %w", r.path, err)
		}
		sf.gzip = gz
		in = gz
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	if !sc.Scan() {
		sf.Close()
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read header row of %s: %w", r.path, err)
		}
		return nil, fmt.Errorf("read header row of %s: file is empty", r.path)
	}

	cols, err := probeHeader(r.path, strings.Fields(sc.Text()))
	if err != nil {
		sf.Close()
		return nil, err
	}
	sf.scanner = sc
	sf.cols = cols
	return sf, nil
}

// FindSignificantHits scans the whole file and collects every row at or
// below the cutoff, converted to an HGVS expression. Rows whose variant has
// no HGVS form are counted and dropped. File-level failures are reported in
// the result; row-level problems are logged and the row skipped.
func (r *Reader) FindSignificantHits(cutoff float64) *study.HitSearchResult {
	sf, err := r.open()
	if err != nil {
		r.logger.Error("gwas scan failed", zap.String("path", r.path), zap.Error(err))
		return &study.HitSearchResult{ErrorMessage: err.Error()}
	}
	defer sf.Close()

	hits := study.NewSequenceVariantContainer()
	line := 1
	failedConversion := 0
	for sf.scanner.Scan() {
		line++
		fields := strings.Fields(sf.scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < sf.cols.width() {
			r.logRowError(line, fmt.Sprintf("row has %d fields", len(fields)))
			continue
		}

		p, err := strconv.ParseFloat(fields[sf.cols.pvalue], 64)
		if err != nil {
			r.logRowError(line, fmt.Sprintf("bad p-value %q", fields[sf.cols.pvalue]))
			continue
		}
		if p > cutoff {
			continue
		}

		chrom := fields[sf.cols.chrom]
		pos, err := strconv.ParseInt(fields[sf.cols.pos], 10, 64)
		if err != nil {
			r.logRowError(line, fmt.Sprintf("bad position %q", fields[sf.cols.pos]))
			continue
		}
		ref := fields[sf.cols.ref]
		alt := fields[sf.cols.alt]

		expr := hgvs.FromVCF(r.genome, r.patch, chrom, pos, ref, alt)
		if expr == "" {
			failedConversion++
			continue
		}
		hits.Add(study.NewGWASHit(expr, chrom, pos, ref, alt))
	}
	if err := sf.scanner.Err(); err != nil {
		r.logger.Error("gwas scan failed", zap.String("path", r.path), zap.Error(err))
		return &study.HitSearchResult{ErrorMessage: err.Error()}
	}

	r.logger.Info("gwas scan complete",
		zap.String("path", r.path),
		zap.Int("lines", line),
		zap.Int("significant", hits.HitCount()))
	if failedConversion > 0 {
		r.logger.Warn("significant variants failed hgvs conversion",
			zap.String("path", r.path),
			zap.Int("count", failedConversion))
	}
	return &study.HitSearchResult{Success: true, Hits: hits, HitCount: hits.HitCount()}
}

func (r *Reader) logRowError(line int, msg string) {
	err := &study.ParseError{Line: line, Message: msg}
	r.logger.Warn("skipping row", zap.String("path", r.path), zap.Error(err))
}

// GetAssociation retrieves the statistics recorded in the file for the
// hit's exact variant. Variants absent from the file yield (nil, nil).
func (r *Reader) GetAssociation(h *study.Hit) (*study.Association, error) {
	var (
		fields []string
		cols   *columns
		err    error
	)
	if r.useTabix {
		fields, cols, err = r.findRowIndexed(h)
	} else {
		fields, cols, err = r.findRowText(h)
	}
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, nil
	}
	return r.association(fields, cols), nil
}

// findRowText reopens the file and scans for the variant's exact
// chromosome, position, and alleles.
func (r *Reader) findRowText(h *study.Hit) ([]string, *columns, error) {
	sf, err := r.open()
	if err != nil {
		return nil, nil, err
	}
	defer sf.Close()

	for sf.scanner.Scan() {
		fields := strings.Fields(sf.scanner.Text())
		if len(fields) < sf.cols.width() {
			continue
		}
		if matchesVariant(fields, sf.cols, h) {
			return fields, sf.cols, nil
		}
	}
	if err := sf.scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", r.path, err)
	}
	return nil, sf.cols, nil
}

func matchesVariant(fields []string, cols *columns, h *study.Hit) bool {
	if fields[cols.chrom] != h.Chrom || fields[cols.ref] != h.Ref || fields[cols.alt] != h.Alt {
		return false
	}
	pos, err := strconv.ParseInt(fields[cols.pos], 10, 64)
	return err == nil && pos == h.Pos
}

// association converts a located row into statistics. A p-value of exactly
// zero underflowed the file's precision and is clamped to the smallest
// positive float. Rows with unparseable statistics are logged and treated
// as absent.
func (r *Reader) association(fields []string, cols *columns) *study.Association {
	p, perr := strconv.ParseFloat(fields[cols.pvalue], 64)
	beta, berr := strconv.ParseFloat(fields[cols.beta], 64)
	if perr != nil || berr != nil {
		r.logger.Warn("bad p-value or beta on association row",
			zap.String("path", r.path),
			zap.Strings("fields", fields))
		return nil
	}
	if p == 0 {
		p = math.SmallestNonzeroFloat64
	}
	return &study.Association{PValue: p, Beta: beta}
}

// Close implements study.Reader. The file is opened per operation, so there
// is nothing to release.
func (r *Reader) Close() error { return nil }
