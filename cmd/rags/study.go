package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragsbio/rags/internal/study"
)

func newStudyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "study",
		Short: "Manage the studies of a project",
	}
	cmd.AddCommand(
		newStudyAddCmd(),
		newStudyImportCmd(),
		newStudyListCmd(),
	)
	return cmd
}

func newStudyAddCmd() *cobra.Command {
	var (
		name       string
		studyType  string
		filePath   string
		traitID    string
		traitType  string
		traitLabel string
		cutoff     float64
		maxPValue  float64
		hasTabix   bool
	)
	cmd := &cobra.Command{
		Use:   "add <project>",
		Short: "Add a study to a project",
		Example: `  rags study add cardio-metabolic --name ldl-gwas --type GWAS \
      --file gwas/ldl.tsv.gz --trait-id EFO:0004611 --trait-type disease \
      --trait-label "LDL cholesterol" --p-value-cutoff 5e-08 --tabix`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			parsedType, err := study.ParseType(strings.ToUpper(studyType))
			if err != nil {
				return err
			}

			db, err := openProjectDB()
			if err != nil {
				return err
			}
			defer db.Close()

			project, err := findProject(ctx, db, args[0])
			if err != nil {
				return err
			}
			if existing, err := db.StudyByName(ctx, project.ID, name); err != nil {
				return err
			} else if existing != nil {
				return fmt.Errorf("study %q already exists in project %q", name, project.Name)
			}

			st := &study.Study{
				ProjectID:          project.ID,
				StudyName:          name,
				StudyType:          parsedType,
				FilePath:           filePath,
				PValueCutoff:       cutoff,
				MaxPValue:          maxPValue,
				HasTabix:           hasTabix,
				OriginalTraitID:    traitID,
				OriginalTraitType:  traitType,
				OriginalTraitLabel: traitLabel,
			}
			if err := db.CreateStudy(ctx, st); err != nil {
				return err
			}
			fmt.Printf("Added study %q (id %d) to project %q.\n", st.StudyName, st.ID, project.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "study name, unique within the project")
	cmd.Flags().StringVar(&studyType, "type", "", "study type, GWAS or MWAS")
	cmd.Flags().StringVar(&filePath, "file", "", "study file, resolved against the data directory")
	cmd.Flags().StringVar(&traitID, "trait-id", "", "trait curie, e.g. EFO:0001360")
	cmd.Flags().StringVar(&traitType, "trait-type", "", "trait node type, e.g. disease")
	cmd.Flags().StringVar(&traitLabel, "trait-label", "", "human readable trait name")
	cmd.Flags().Float64Var(&cutoff, "p-value-cutoff", 0, "significance threshold, e.g. 5e-08")
	cmd.Flags().Float64Var(&maxPValue, "max-p-value", 0, "cap applied when writing associations")
	cmd.Flags().BoolVar(&hasTabix, "tabix", false, "study file has a .tbi index next to it")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("p-value-cutoff")
	return cmd
}

func newStudyImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <project> <csv>",
		Short: "Add studies from a batch CSV file",
		Long: `Adds every study listed in a CSV file. The header must name the columns
study_name, study_type, trait_id, trait_type, trait_label, p_value_threshold
and file_path; the columns max_p_value and has_tabix are optional. The whole
file is validated before anything is written.`,
		Example: "  rags study import cardio-metabolic studies.csv",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			studies, err := readStudyCSV(args[1])
			if err != nil {
				return err
			}

			db, err := openProjectDB()
			if err != nil {
				return err
			}
			defer db.Close()

			project, err := findProject(ctx, db, args[0])
			if err != nil {
				return err
			}
			for _, st := range studies {
				if existing, err := db.StudyByName(ctx, project.ID, st.StudyName); err != nil {
					return err
				} else if existing != nil {
					return fmt.Errorf("study %q already exists in project %q", st.StudyName, project.Name)
				}
			}
			for _, st := range studies {
				st.ProjectID = project.ID
				if err := db.CreateStudy(ctx, st); err != nil {
					return err
				}
			}
			fmt.Printf("Imported %d studies into project %q.\n", len(studies), project.Name)
			return nil
		},
	}
}

func newStudyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list <project>",
		Short:   "List the studies of a project",
		Example: "  rags study list cardio-metabolic",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := openProjectDB()
			if err != nil {
				return err
			}
			defer db.Close()

			project, err := findProject(ctx, db, args[0])
			if err != nil {
				return err
			}
			studies, err := db.StudiesByProject(ctx, project.ID)
			if err != nil {
				return err
			}
			if len(studies) == 0 {
				fmt.Printf("Project %q has no studies yet.\n", project.Name)
				return nil
			}
			for _, st := range studies {
				fmt.Printf("%d\t%s\t%s\tcutoff %g\t%s\n",
					st.ID, st.StudyName, st.StudyType, st.PValueCutoff, studyProgress(st))
			}
			return nil
		},
	}
}

func studyProgress(st *study.Study) string {
	var steps []string
	if st.TraitNormalized {
		steps = append(steps, "trait normalized")
	}
	if st.Searched {
		steps = append(steps, fmt.Sprintf("searched (%d hits)", st.NumHits))
	}
	if st.Written {
		steps = append(steps, fmt.Sprintf("written (%d associations)", st.NumAssociations))
	}
	if len(steps) == 0 {
		return "not started"
	}
	return strings.Join(steps, ", ")
}

// importColumns holds the positions of the batch CSV columns, -1 when absent.
type importColumns struct {
	name       int
	studyType  int
	traitID    int
	traitType  int
	traitLabel int
	cutoff     int
	maxPValue  int
	filePath   int
	hasTabix   int
}

func probeImportHeader(header []string) (*importColumns, error) {
	cols := &importColumns{
		name: -1, studyType: -1, traitID: -1, traitType: -1, traitLabel: -1,
		cutoff: -1, maxPValue: -1, filePath: -1, hasTabix: -1,
	}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "study_name":
			cols.name = i
		case "study_type":
			cols.studyType = i
		case "trait_id":
			cols.traitID = i
		case "trait_type":
			cols.traitType = i
		case "trait_label":
			cols.traitLabel = i
		case "p_value_threshold":
			cols.cutoff = i
		case "max_p_value":
			cols.maxPValue = i
		case "file_path":
			cols.filePath = i
		case "has_tabix":
			cols.hasTabix = i
		}
	}

	var missing []string
	for _, required := range []struct {
		name string
		idx  int
	}{
		{"study_name", cols.name},
		{"study_type", cols.studyType},
		{"trait_id", cols.traitID},
		{"trait_type", cols.traitType},
		{"trait_label", cols.traitLabel},
		{"p_value_threshold", cols.cutoff},
		{"file_path", cols.filePath},
	} {
		if required.idx < 0 {
			missing = append(missing, required.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("import file is missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func studyFromRecord(cols *importColumns, record []string) (*study.Study, error) {
	st := &study.Study{
		StudyName:          field(record, cols.name),
		FilePath:           field(record, cols.filePath),
		OriginalTraitID:    field(record, cols.traitID),
		OriginalTraitType:  field(record, cols.traitType),
		OriginalTraitLabel: field(record, cols.traitLabel),
	}
	if st.StudyName == "" {
		return nil, errors.New("study_name is empty")
	}
	if st.FilePath == "" {
		return nil, errors.New("file_path is empty")
	}

	studyType, err := study.ParseType(strings.ToUpper(field(record, cols.studyType)))
	if err != nil {
		return nil, err
	}
	st.StudyType = studyType

	cutoff, err := strconv.ParseFloat(field(record, cols.cutoff), 64)
	if err != nil {
		return nil, fmt.Errorf("bad p_value_threshold %q", field(record, cols.cutoff))
	}
	st.PValueCutoff = cutoff

	if raw := field(record, cols.maxPValue); raw != "" {
		maxPValue, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("bad max_p_value %q", raw)
		}
		st.MaxPValue = maxPValue
	}
	switch strings.ToLower(field(record, cols.hasTabix)) {
	case "true", "yes", "1":
		st.HasTabix = true
	}
	return st, nil
}

func readStudyCSV(path string) ([]*study.Study, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read import header: %w", err)
	}
	cols, err := probeImportHeader(header)
	if err != nil {
		return nil, err
	}

	var studies []*study.Study
	seen := make(map[string]bool)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read import file line %d: %w", line, err)
		}
		st, err := studyFromRecord(cols, record)
		if err != nil {
			return nil, fmt.Errorf("import file line %d: %w", line, err)
		}
		if seen[st.StudyName] {
			return nil, fmt.Errorf("import file line %d: duplicate study %q", line, st.StudyName)
		}
		seen[st.StudyName] = true
		studies = append(studies, st)
	}
	if len(studies) == 0 {
		return nil, errors.New("import file has no studies")
	}
	return studies, nil
}
