package gwas

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/biogo/hts/bgzf"
	"github.com/biogo/hts/bgzf/index"
	"github.com/biogo/hts/tabix"

	"github.com/ragsbio/rags/internal/study"
)

// findRowIndexed queries the Tabix index for rows spanning (pos-1, pos] on
// the hit's chromosome and returns the first whose position and alleles
// match. Tabix chunks are block-granular, so neighbouring rows can appear
// in the scan and are filtered out here. A chromosome absent from the index
// yields no row, not an error.
func (r *Reader) findRowIndexed(h *study.Hit) ([]string, *columns, error) {
	// The header row still comes from a plain sequential open; BGZF is
	// valid gzip, so the usual scan path reads it.
	sf, err := r.open()
	if err != nil {
		return nil, nil, err
	}
	cols := sf.cols
	if err := sf.Close(); err != nil {
		return nil, nil, fmt.Errorf("close %s: %w", r.path, err)
	}

	if h.Pos < 1 {
		return nil, cols, nil
	}

	idx, err := readIndex(r.path + ".tbi")
	if err != nil {
		return nil, nil, err
	}
	chunks, err := idx.Chunks(h.Chrom, int(h.Pos-1), int(h.Pos))
	if err != nil {
		if errors.Is(err, index.ErrNoReference) || errors.Is(err, index.ErrInvalid) {
			return nil, cols, nil
		}
		return nil, nil, fmt.Errorf("query tabix index of %s: %w", r.path, err)
	}
	if len(chunks) == 0 {
		return nil, cols, nil
	}

	f, err := os.Open(r.path)
	if err != nil {
		return nil, nil, fmt.Errorf("open study file: %w", err)
	}
	defer f.Close()
	bg, err := bgzf.NewReader(f, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("open block gzip stream of %s: %w", r.path, err)
	}
	defer bg.Close()

	cr, err := index.NewChunkReader(bg, chunks)
	if err != nil {
		return nil, nil, fmt.Errorf("read indexed chunks of %s: %w", r.path, err)
	}
	defer cr.Close()

	sc := bufio.NewScanner(cr)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < cols.width() {
			continue
		}
		if matchesVariant(fields, cols, h) {
			return fields, cols, nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan indexed chunks of %s: %w", r.path, err)
	}
	return nil, cols, nil
}

// readIndex loads a .tbi file. Tabix indexes are themselves BGZF
// compressed, so the raw index bytes are unwrapped before decoding.
func readIndex(path string) (*tabix.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tabix index: %w", err)
	}
	defer f.Close()

	bg, err := bgzf.NewReader(f, 1)
	if err != nil {
		return nil, fmt.Errorf("open tabix index %s: %w", path, err)
	}
	defer bg.Close()

	idx, err := tabix.ReadFrom(bg)
	if err != nil {
		return nil, fmt.Errorf("read tabix index %s: %w", path, err)
	}
	return idx, nil
}
