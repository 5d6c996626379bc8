// Package projectdb persists build state: projects, their studies, the
// significant hits extracted from study files, and per-study build errors.
// State lives in DuckDB so a build can stop and resume without repeating
// finished phases.
package projectdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/ragsbio/rags/internal/study"
)

// Store manages the DuckDB connection holding project build state.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the project database at the given path.
// Use an empty string for an in-memory database.
func Open(path string) (*Store, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create project db directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ensureSchema creates tables if they don't exist. Hit tables carry no
// sequence: SaveHits is the only writer and assigns ids itself so the
// batch can go through the appender.
func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS project_ids START 1`,
		`CREATE SEQUENCE IF NOT EXISTS study_ids START 1`,
		`CREATE SEQUENCE IF NOT EXISTS error_ids START 1`,
		`CREATE TABLE IF NOT EXISTS projects (
			id BIGINT PRIMARY KEY DEFAULT nextval('project_ids'),
			name VARCHAR NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS studies (
			id BIGINT PRIMARY KEY DEFAULT nextval('study_ids'),
			project_id BIGINT NOT NULL,
			study_name VARCHAR NOT NULL,
			study_type VARCHAR NOT NULL,
			file_path VARCHAR NOT NULL,
			p_value_cutoff DOUBLE NOT NULL,
			max_p_value DOUBLE NOT NULL DEFAULT 0,
			has_tabix BOOLEAN NOT NULL DEFAULT false,
			original_trait_id VARCHAR NOT NULL DEFAULT '',
			original_trait_type VARCHAR NOT NULL DEFAULT '',
			original_trait_label VARCHAR NOT NULL DEFAULT '',
			trait_normalized BOOLEAN NOT NULL DEFAULT false,
			normalized_trait_id VARCHAR NOT NULL DEFAULT '',
			normalized_trait_label VARCHAR NOT NULL DEFAULT '',
			searched BOOLEAN NOT NULL DEFAULT false,
			written BOOLEAN NOT NULL DEFAULT false,
			num_hits BIGINT NOT NULL DEFAULT 0,
			num_associations BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS build_errors (
			id BIGINT PRIMARY KEY DEFAULT nextval('error_ids'),
			study_id BIGINT NOT NULL,
			error_type INTEGER NOT NULL,
			error_message VARCHAR NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS gwas_hits (
			id BIGINT PRIMARY KEY,
			project_id BIGINT NOT NULL,
			study_id BIGINT NOT NULL,
			original_id VARCHAR NOT NULL,
			original_name VARCHAR NOT NULL,
			normalized BOOLEAN NOT NULL DEFAULT false,
			normalized_id VARCHAR NOT NULL DEFAULT '',
			normalized_name VARCHAR NOT NULL DEFAULT '',
			written BOOLEAN NOT NULL DEFAULT false,
			hgvs VARCHAR NOT NULL,
			chrom VARCHAR NOT NULL,
			pos BIGINT NOT NULL,
			ref VARCHAR NOT NULL,
			alt VARCHAR NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mwas_hits (
			id BIGINT PRIMARY KEY,
			project_id BIGINT NOT NULL,
			study_id BIGINT NOT NULL,
			original_id VARCHAR NOT NULL,
			original_name VARCHAR NOT NULL,
			normalized BOOLEAN NOT NULL DEFAULT false,
			normalized_id VARCHAR NOT NULL DEFAULT '',
			normalized_name VARCHAR NOT NULL DEFAULT '',
			written BOOLEAN NOT NULL DEFAULT false
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateProject inserts a new project and returns it with its id set.
// Project names are unique.
func (s *Store) CreateProject(ctx context.Context, name string) (*study.Project, error) {
	p := &study.Project{Name: name}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO projects (name) VALUES (?) RETURNING id`, name).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("create project %q: %w", name, err)
	}
	return p, nil
}

// ProjectByID fetches one project. A missing project returns (nil, nil).
func (s *Store) ProjectByID(ctx context.Context, id int64) (*study.Project, error) {
	p := &study.Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM projects WHERE id = ?`, id).Scan(&p.ID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	return p, nil
}

// ProjectByName fetches one project by name. A missing project returns
// (nil, nil).
func (s *Store) ProjectByName(ctx context.Context, name string) (*study.Project, error) {
	p := &study.Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM projects WHERE name = ?`, name).Scan(&p.ID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %q: %w", name, err)
	}
	return p, nil
}

// Projects lists all projects ordered by id.
func (s *Store) Projects(ctx context.Context) ([]*study.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*study.Project
	for rows.Next() {
		p := &study.Project{}
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// DeleteProject removes the project and everything under it: studies, hits
// of both kinds, and recorded errors, all in one transaction.
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete project %d: %w", id, err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM build_errors WHERE study_id IN (SELECT id FROM studies WHERE project_id = ?)`,
		`DELETE FROM gwas_hits WHERE project_id = ?`,
		`DELETE FROM mwas_hits WHERE project_id = ?`,
		`DELETE FROM studies WHERE project_id = ?`,
		`DELETE FROM projects WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete project %d: %w", id, err)
		}
	}
	return tx.Commit()
}

const studyColumns = `id, project_id, study_name, study_type, file_path,
	p_value_cutoff, max_p_value, has_tabix,
	original_trait_id, original_trait_type, original_trait_label,
	trait_normalized, normalized_trait_id, normalized_trait_label,
	searched, written, num_hits, num_associations`

// CreateStudy inserts a new study and fills in its id.
func (s *Store) CreateStudy(ctx context.Context, st *study.Study) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO studies (project_id, study_name, study_type, file_path,
			p_value_cutoff, max_p_value, has_tabix,
			original_trait_id, original_trait_type, original_trait_label,
			trait_normalized, normalized_trait_id, normalized_trait_label,
			searched, written, num_hits, num_associations)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		st.ProjectID, st.StudyName, string(st.StudyType), st.FilePath,
		st.PValueCutoff, st.MaxPValue, st.HasTabix,
		st.OriginalTraitID, st.OriginalTraitType, st.OriginalTraitLabel,
		st.TraitNormalized, st.NormalizedTraitID, st.NormalizedTraitLabel,
		st.Searched, st.Written, st.NumHits, st.NumAssociations,
	).Scan(&st.ID)
	if err != nil {
		return fmt.Errorf("create study %q: %w", st.StudyName, err)
	}
	return nil
}

// UpdateStudy persists the study's mutable build state: trait fields, phase
// flags, and counters.
func (s *Store) UpdateStudy(ctx context.Context, st *study.Study) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE studies SET
			trait_normalized = ?, normalized_trait_id = ?, normalized_trait_label = ?,
			searched = ?, written = ?, num_hits = ?, num_associations = ?
		WHERE id = ?`,
		st.TraitNormalized, st.NormalizedTraitID, st.NormalizedTraitLabel,
		st.Searched, st.Written, st.NumHits, st.NumAssociations, st.ID)
	if err != nil {
		return fmt.Errorf("update study %d: %w", st.ID, err)
	}
	return nil
}

// DeleteStudy removes a study along with its hits and errors.
func (s *Store) DeleteStudy(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete study %d: %w", id, err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM build_errors WHERE study_id = ?`,
		`DELETE FROM gwas_hits WHERE study_id = ?`,
		`DELETE FROM mwas_hits WHERE study_id = ?`,
		`DELETE FROM studies WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete study %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// StudyByID fetches one study. A missing study returns (nil, nil).
func (s *Store) StudyByID(ctx context.Context, id int64) (*study.Study, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+studyColumns+` FROM studies WHERE id = ?`, id)
	st, err := scanStudy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get study %d: %w", id, err)
	}
	return st, nil
}

// StudyByName fetches one study within a project by name. A missing study
// returns (nil, nil).
func (s *Store) StudyByName(ctx context.Context, projectID int64, name string) (*study.Study, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+studyColumns+` FROM studies WHERE project_id = ? AND study_name = ?`,
		projectID, name)
	st, err := scanStudy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get study %q: %w", name, err)
	}
	return st, nil
}

// StudiesByProject lists a project's studies ordered by id.
func (s *Store) StudiesByProject(ctx context.Context, projectID int64) ([]*study.Study, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+studyColumns+` FROM studies WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list studies for project %d: %w", projectID, err)
	}
	defer rows.Close()

	var studies []*study.Study
	for rows.Next() {
		st, err := scanStudy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		studies = append(studies, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate studies: %w", err)
	}
	return studies, nil
}

// rowScanner lets scanStudy work over both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudy(row rowScanner) (*study.Study, error) {
	st := &study.Study{}
	var studyType string
	err := row.Scan(
		&st.ID, &st.ProjectID, &st.StudyName, &studyType, &st.FilePath,
		&st.PValueCutoff, &st.MaxPValue, &st.HasTabix,
		&st.OriginalTraitID, &st.OriginalTraitType, &st.OriginalTraitLabel,
		&st.TraitNormalized, &st.NormalizedTraitID, &st.NormalizedTraitLabel,
		&st.Searched, &st.Written, &st.NumHits, &st.NumAssociations,
	)
	if err != nil {
		return nil, err
	}
	st.StudyType = study.Type(studyType)
	return st, nil
}

// CreateStudyError records a build error against a study.
func (s *Store) CreateStudyError(ctx context.Context, studyID int64, t study.ErrorType, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO build_errors (study_id, error_type, error_message) VALUES (?, ?, ?)`,
		studyID, int(t), msg)
	if err != nil {
		return fmt.Errorf("record %s error for study %d: %w", t, studyID, err)
	}
	return nil
}

// StudyErrors lists the errors recorded against a study, oldest first.
func (s *Store) StudyErrors(ctx context.Context, studyID int64) ([]*study.BuildError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, study_id, error_type, error_message
		FROM build_errors WHERE study_id = ? ORDER BY id`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list errors for study %d: %w", studyID, err)
	}
	defer rows.Close()

	var errs []*study.BuildError
	for rows.Next() {
		e := &study.BuildError{}
		var errorType int
		if err := rows.Scan(&e.ID, &e.StudyID, &errorType, &e.Message); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		e.Type = study.ErrorType(errorType)
		errs = append(errs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate errors: %w", err)
	}
	return errs, nil
}

// ClearStudyErrors removes the errors of one type recorded against a study.
// Phases call this after succeeding so stale failures don't linger.
func (s *Store) ClearStudyErrors(ctx context.Context, studyID int64, t study.ErrorType) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM build_errors WHERE study_id = ? AND error_type = ?`, studyID, int(t))
	if err != nil {
		return fmt.Errorf("clear %s errors for study %d: %w", t, studyID, err)
	}
	return nil
}
