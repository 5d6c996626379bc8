package projectdb

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"

	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/ragsbio/rags/internal/study"
)

// HitFilter selects which of a project's hits a query returns.
type HitFilter int

const (
	// AllHits returns every saved hit.
	AllHits HitFilter = iota
	// UnprocessedHits returns hits that have not been normalized yet.
	UnprocessedHits
	// UnwrittenHits returns hits whose associations have not been written.
	UnwrittenHits
)

func hitTable(kind study.Type) (string, error) {
	switch kind {
	case study.GWAS:
		return "gwas_hits", nil
	case study.MWAS:
		return "mwas_hits", nil
	}
	return "", fmt.Errorf("unknown study type %q", kind)
}

// SaveHits replaces the study's saved hits with the container's contents in
// one batch through the appender, filling in hit ids, project ids, and
// study ids as it goes. Re-searching a study therefore never duplicates its
// hits.
func (s *Store) SaveHits(ctx context.Context, st *study.Study, hits study.HitContainer) error {
	table, err := hitTable(st.StudyType)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE study_id = ?`, table), st.ID); err != nil {
		return fmt.Errorf("clear saved hits for study %d: %w", st.ID, err)
	}
	if hits == nil || hits.HitCount() == 0 {
		return nil
	}

	var nextID int64
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT coalesce(max(id), 0) + 1 FROM %s`, table)).Scan(&nextID); err != nil {
		return fmt.Errorf("allocate hit ids: %w", err)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	var appender *goduckdb.Appender
	if err := conn.Raw(func(driverConn any) error {
		var err error
		appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", table)
		return err
	}); err != nil {
		return fmt.Errorf("create appender: %w", err)
	}
	defer appender.Close()

	for _, h := range hits.Hits() {
		h.ID = nextID
		h.ProjectID = st.ProjectID
		h.StudyID = st.ID
		nextID++

		var err error
		switch st.StudyType {
		case study.GWAS:
			err = appender.AppendRow(
				h.ID, h.ProjectID, h.StudyID, h.OriginalID, h.OriginalName,
				h.Normalized, h.NormalizedID, h.NormalizedName, h.Written,
				h.HGVS, h.Chrom, h.Pos, h.Ref, h.Alt,
			)
		case study.MWAS:
			err = appender.AppendRow(
				h.ID, h.ProjectID, h.StudyID, h.OriginalID, h.OriginalName,
				h.Normalized, h.NormalizedID, h.NormalizedName, h.Written,
			)
		}
		if err != nil {
			return fmt.Errorf("append hit %s: %w", h.OriginalID, err)
		}
	}

	return appender.Flush()
}

// HitsByProject lists a project's saved hits of one kind, narrowed by the
// filter, ordered by id.
func (s *Store) HitsByProject(ctx context.Context, projectID int64, kind study.Type, filter HitFilter) ([]*study.Hit, error) {
	table, err := hitTable(kind)
	if err != nil {
		return nil, err
	}

	var where string
	switch filter {
	case AllHits:
		where = ""
	case UnprocessedHits:
		where = " AND normalized = false"
	case UnwrittenHits:
		where = " AND written = false"
	default:
		return nil, fmt.Errorf("unknown hit filter %d", filter)
	}

	columns := "id, project_id, study_id, original_id, original_name, normalized, normalized_id, normalized_name, written"
	if kind == study.GWAS {
		columns += ", hgvs, chrom, pos, ref, alt"
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE project_id = ?%s ORDER BY id`, columns, table, where),
		projectID)
	if err != nil {
		return nil, fmt.Errorf("list %s hits for project %d: %w", kind, projectID, err)
	}
	defer rows.Close()

	var hits []*study.Hit
	for rows.Next() {
		h := &study.Hit{Kind: kind}
		dest := []any{
			&h.ID, &h.ProjectID, &h.StudyID, &h.OriginalID, &h.OriginalName,
			&h.Normalized, &h.NormalizedID, &h.NormalizedName, &h.Written,
		}
		if kind == study.GWAS {
			dest = append(dest, &h.HGVS, &h.Chrom, &h.Pos, &h.Ref, &h.Alt)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

// UpdateHitsNormalized persists the normalization outcome of the given hits
// in one transaction.
func (s *Store) UpdateHitsNormalized(ctx context.Context, hits []*study.Hit) error {
	if len(hits) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hit update: %w", err)
	}
	defer tx.Rollback()

	for _, h := range hits {
		table, err := hitTable(h.Kind)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET normalized = ?, normalized_id = ?, normalized_name = ? WHERE id = ?`, table),
			h.Normalized, h.NormalizedID, h.NormalizedName, h.ID); err != nil {
			return fmt.Errorf("update hit %d: %w", h.ID, err)
		}
	}
	return tx.Commit()
}

// MarkHitsWritten flags the given hits as written in one transaction.
func (s *Store) MarkHitsWritten(ctx context.Context, hits []*study.Hit) error {
	if len(hits) == 0 {
		return nil
	}

	ids := map[string][]string{}
	for _, h := range hits {
		table, err := hitTable(h.Kind)
		if err != nil {
			return err
		}
		h.Written = true
		ids[table] = append(ids[table], fmt.Sprintf("%d", h.ID))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hit update: %w", err)
	}
	defer tx.Rollback()

	for table, list := range ids {
		stmt := fmt.Sprintf(`UPDATE %s SET written = true WHERE id IN (%s)`,
			table, strings.Join(list, ", "))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mark hits written: %w", err)
		}
	}
	return tx.Commit()
}
