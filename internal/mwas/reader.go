// Package mwas reads metabolite association study files: CSV with a header
// row naming a curie column, a label column, and a p-value column.
package mwas

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ragsbio/rags/internal/study"
)

// Reader scans one MWAS CSV file. The file is opened per operation, so a
// Reader holds no resources between calls.
type Reader struct {
	path   string
	logger *zap.Logger
}

var _ study.Reader = (*Reader)(nil)

// NewReader creates a reader for the file at path.
func NewReader(path string) *Reader {
	return &Reader{path: path, logger: zap.NewNop()}
}

// SetLogger routes reader logging to l instead of the default no-op logger.
func (r *Reader) SetLogger(l *zap.Logger) {
	r.logger = l
}

// columns holds probed header positions. beta is optional (-1 when absent).
type columns struct {
	curie  int
	label  int
	pvalue int
	beta   int
}

// probeHeader locates the required columns, case-insensitively. The p-value
// column is the first whose name starts with "pval".
func probeHeader(path string, header []string) (*columns, error) {
	cols := &columns{curie: -1, label: -1, pvalue: -1, beta: -1}
	for i, name := range header {
		switch n := strings.ToLower(strings.TrimSpace(name)); {
		case n == "curie" && cols.curie < 0:
			cols.curie = i
		case n == "label" && cols.label < 0:
			cols.label = i
		case strings.HasPrefix(n, "pval") && cols.pvalue < 0:
			cols.pvalue = i
		case n == "beta" && cols.beta < 0:
			cols.beta = i
		}
	}

	var missing []string
	if cols.curie < 0 {
		missing = append(missing, "curie")
	}
	if cols.label < 0 {
		missing = append(missing, "label")
	}
	if cols.pvalue < 0 {
		missing = append(missing, "pvalue")
	}
	if len(missing) > 0 {
		return nil, &study.HeaderError{Path: path, Headers: header, Missing: missing}
	}
	return cols, nil
}

// open opens the file and probes its header. The caller closes the file.
func (r *Reader) open() (*os.File, *csv.Reader, *columns, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open study file: %w", err)
	}

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("read header row of %s: %w", r.path, err)
	}
	cols, err := probeHeader(r.path, header)
	if err != nil {
		f.Close()
		return nil, nil, nil, err
	}
	return f, cr, cols, nil
}

// FindSignificantHits scans the whole file and collects every metabolite at
// or below the cutoff. Duplicate curies collapse to one hit. File-level
// failures are reported in the result; row-level problems are logged and
// the row skipped.
func (r *Reader) FindSignificantHits(cutoff float64) *study.HitSearchResult {
	f, cr, cols, err := r.open()
	if err != nil {
		r.logger.Error("mwas scan failed", zap.String("path", r.path), zap.Error(err))
		return &study.HitSearchResult{ErrorMessage: err.Error()}
	}
	defer f.Close()

	hits := study.NewMetaboliteContainer()
	line := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			r.logger.Warn("skipping unreadable row", zap.String("path", r.path), zap.Int("line", line), zap.Error(err))
			continue
		}
		if len(record) <= cols.curie || len(record) <= cols.label || len(record) <= cols.pvalue {
			r.logRowError(line, fmt.Sprintf("row has %d fields", len(record)))
			continue
		}

		p, err := strconv.ParseFloat(strings.TrimSpace(record[cols.pvalue]), 64)
		if err != nil {
			r.logRowError(line, fmt.Sprintf("bad p-value %q", record[cols.pvalue]))
			continue
		}
		if p > cutoff {
			continue
		}

		curie := strings.TrimSpace(record[cols.curie])
		if curie == "" {
			r.logRowError(line, "significant row has no curie")
			continue
		}
		hits.Add(study.NewMWASHit(curie, strings.TrimSpace(record[cols.label])))
	}

	r.logger.Info("mwas scan complete",
		zap.String("path", r.path),
		zap.Int("lines", line),
		zap.Int("significant", hits.HitCount()))
	return &study.HitSearchResult{Success: true, Hits: hits, HitCount: hits.HitCount()}
}

func (r *Reader) logRowError(line int, msg string) {
	err := &study.ParseError{Line: line, Message: msg}
	r.logger.Warn("skipping row", zap.String("path", r.path), zap.Error(err))
}

// GetAssociation rescans the file for the hit's curie and returns its
// statistics. A curie absent from the file yields (nil, nil).
func (r *Reader) GetAssociation(h *study.Hit) (*study.Association, error) {
	f, cr, cols, err := r.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil || len(record) <= cols.curie || len(record) <= cols.pvalue {
			continue
		}
		if strings.TrimSpace(record[cols.curie]) != h.OriginalID {
			continue
		}

		p, err := strconv.ParseFloat(strings.TrimSpace(record[cols.pvalue]), 64)
		if err != nil {
			r.logger.Warn("bad p-value on association row",
				zap.String("path", r.path), zap.String("curie", h.OriginalID), zap.Error(err))
			return nil, nil
		}
		if p == 0 {
			p = math.SmallestNonzeroFloat64
		}

		var beta float64
		if cols.beta >= 0 && len(record) > cols.beta {
			if b, err := strconv.ParseFloat(strings.TrimSpace(record[cols.beta]), 64); err == nil {
				beta = b
			}
		}
		return &study.Association{PValue: p, Beta: beta}, nil
	}
	return nil, nil
}

// Close is a no-op; the reader opens the file per operation.
func (r *Reader) Close() error {
	return nil
}
