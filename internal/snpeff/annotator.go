// Package snpeff produces variant-to-gene edges by running the snpEff
// annotator over the project's variant nodes. It provisions the snpEff
// distribution on first use, emits a minimal VCF from positional synonyms,
// runs the tool as a subprocess, and parses the annotated VCF back into
// graph nodes and edges.
package snpeff

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragsbio/rags/internal/graph"
)

// DefaultArchiveURL is the published snpEff core distribution.
const DefaultArchiveURL = "https://snpeff.blob.core.windows.net/versions/snpEff_latest_core.zip"

// DefaultGenome is the snpEff database annotated against. Gene ids and
// biotypes in the output are assumed to be Ensembl's, which holds for the
// GRCh38 databases.
const DefaultGenome = "GRCh38.99"

// upstreamDistance is the -ud flag: how far up/downstream of a gene a
// variant may sit and still be annotated against it.
const upstreamDistance = 500000

// providedBy stamps every edge this annotator emits.
const providedBy = "infores:snpeff"

// AnnotationFailedError reports a failed snpEff run.
type AnnotationFailedError struct {
	Message string
	Err     error
}

func (e *AnnotationFailedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AnnotationFailedError) Unwrap() error { return e.Err }

// Metadata is the tool provenance read back from the annotated VCF header.
type Metadata struct {
	SnpEffVersion string
	SnpEffCmd     string
}

// Result is the outcome of one annotation run: gene nodes, variant-to-gene
// edges carrying raw SNPEFF predicates, and tool provenance. The edges are
// not project-stamped; the build pipeline normalizes and stamps them.
type Result struct {
	Objects  []*graph.Node
	Edges    []*graph.Edge
	Metadata Metadata
}

// Annotator drives snpEff inside a workspace directory. The zero value is
// not usable; construct with NewAnnotator.
type Annotator struct {
	workspaceDir string
	archiveURL   string
	genome       string
	client       *http.Client
	logger       *zap.Logger
}

// NewAnnotator prepares an annotator working under workspaceDir. The snpEff
// distribution is downloaded into it on the first Annotate call if the
// snpEff directory does not already exist.
func NewAnnotator(workspaceDir string) *Annotator {
	return &Annotator{
		workspaceDir: workspaceDir,
		archiveURL:   DefaultArchiveURL,
		genome:       DefaultGenome,
		client:       &http.Client{Timeout: 10 * time.Minute},
		logger:       zap.NewNop(),
	}
}

// SetLogger routes annotator logging to l instead of the default no-op logger.
func (a *Annotator) SetLogger(l *zap.Logger) {
	a.logger = l
}

// SetArchiveURL overrides the distribution archive location.
func (a *Annotator) SetArchiveURL(url string) {
	if url != "" {
		a.archiveURL = url
	}
}

// SetGenome overrides the snpEff database the variants are annotated
// against.
func (a *Annotator) SetGenome(genome string) {
	if genome != "" {
		a.genome = genome
	}
}

func (a *Annotator) snpeffDir() string {
	return filepath.Join(a.workspaceDir, "snpEff")
}

// Annotate runs snpEff over the given variant nodes and returns the gene
// nodes and variant-to-gene edges read back from the annotated VCF.
// Variants without a positional synonym are skipped. The temporary VCFs are
// removed even when the run fails.
func (a *Annotator) Annotate(ctx context.Context, variants []*graph.Node) (*Result, error) {
	if err := a.provision(ctx); err != nil {
		return nil, err
	}

	base, err := filepath.Abs(filepath.Join(a.workspaceDir, fmt.Sprintf("temp_%d", time.Now().Unix())))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace path: %w", err)
	}
	vcfPath := base + ".vcf"
	annotatedPath := base + "_annotated.vcf"
	defer os.Remove(vcfPath)
	defer os.Remove(annotatedPath)

	count, err := a.writeVCF(variants, vcfPath)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("wrote variant vcf", zap.String("path", vcfPath), zap.Int("variants", count))

	if err := a.runSnpEff(ctx, vcfPath, annotatedPath); err != nil {
		return nil, err
	}

	f, err := os.Open(annotatedPath)
	if err != nil {
		return nil, fmt.Errorf("open annotated vcf: %w", err)
	}
	defer f.Close()

	result, err := extractAnnotations(f)
	if err != nil {
		return nil, err
	}
	a.logger.Info("snpEff annotation complete",
		zap.Int("variants", count),
		zap.Int("edges", len(result.Edges)),
		zap.String("snpeff_version", result.Metadata.SnpEffVersion))
	return result, nil
}

// provision downloads and extracts the snpEff distribution unless the
// snpEff directory already exists.
func (a *Annotator) provision(ctx context.Context) error {
	if info, err := os.Stat(a.snpeffDir()); err == nil && info.IsDir() {
		return nil
	}
	if err := os.MkdirAll(a.workspaceDir, 0o755); err != nil {
		return fmt.Errorf("create annotator workspace: %w", err)
	}

	a.logger.Info("downloading snpEff distribution", zap.String("url", a.archiveURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.archiveURL, nil)
	if err != nil {
		return fmt.Errorf("build snpEff download request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("download snpEff: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download snpEff: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(a.workspaceDir, "snpeff-*.zip")
	if err != nil {
		return fmt.Errorf("create snpEff archive file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("save snpEff archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save snpEff archive: %w", err)
	}
	if err := unzip(tmp.Name(), a.workspaceDir); err != nil {
		return fmt.Errorf("extract snpEff archive: %w", err)
	}
	return nil
}

func unzip(archivePath, dest string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	root := filepath.Clean(dest) + string(os.PathSeparator)
	for _, f := range zr.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("archive entry %q escapes the workspace", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// runSnpEff invokes the annotator jar against vcfPath, capturing combined
// stdout and stderr into annotatedPath. A non-zero exit is an
// AnnotationFailedError.
func (a *Annotator) runSnpEff(ctx context.Context, vcfPath, annotatedPath string) error {
	out, err := os.Create(annotatedPath)
	if err != nil {
		return fmt.Errorf("create annotated vcf: %w", err)
	}

	cmd := exec.CommandContext(ctx, "java", "-Xmx12g", "-jar", "snpEff.jar",
		"-noStats", "-ud", strconv.Itoa(upstreamDistance), a.genome, vcfPath)
	cmd.Dir = a.snpeffDir()
	cmd.Stdout = out
	cmd.Stderr = out

	a.logger.Debug("running snpEff", zap.String("vcf", vcfPath), zap.String("genome", a.genome))
	if err := cmd.Run(); err != nil {
		out.Close()
		return &AnnotationFailedError{Message: "snpEff failed", Err: err}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close annotated vcf: %w", err)
	}
	return nil
}
