package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ragsbio/rags/internal/build"
	"github.com/ragsbio/rags/internal/snpeff"
)

func newBuildCmd() *cobra.Command {
	var (
		force          bool
		withAnnotation bool
	)
	cmd := &cobra.Command{
		Use:   "build <project>",
		Short: "Run the build pipeline for a project",
		Long: `Runs every build phase in order: trait normalization, the significance
search, hit normalization and association writing. Finished studies are
skipped on a re-run, so a failed build can simply be run again; --force
redoes the finished work as well.`,
		Example: `  rags build cardio-metabolic
  rags build cardio-metabolic --force
  rags build cardio-metabolic --with-annotation`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			manager, cleanup, err := openManager(ctx, args[0], withAnnotation)
			if err != nil {
				return err
			}
			defer cleanup()

			type phase struct {
				name string
				run  func() *build.Result
			}
			phases := []phase{
				{"process traits", func() *build.Result { return manager.ProcessTraits(ctx, force) }},
				{"search studies", func() *build.Result { return manager.SearchStudies(ctx) }},
				{"build graph", func() *build.Result { return manager.BuildRags(ctx, force) }},
			}
			if withAnnotation {
				phases = append(phases, phase{"annotate hits", func() *build.Result { return manager.AnnotateHits(ctx) }})
			}
			for _, p := range phases {
				if err := reportResult(p.name, p.run()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "redo finished phases")
	cmd.Flags().BoolVar(&withAnnotation, "with-annotation", false, "annotate variants with nearby genes after building")
	return cmd
}

func newAnnotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "annotate <project>",
		Short: "Link a project's sequence variants to nearby genes",
		Long: `Finds the project's sequence variants that have no gene edges yet, runs
snpEff over them and writes normalized variant-to-gene edges. The snpEff
distribution is downloaded into the rags home directory on first use; java
must be on the PATH.`,
		Example: "  rags annotate cardio-metabolic",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			manager, cleanup, err := openManager(ctx, args[0], true)
			if err != nil {
				return err
			}
			defer cleanup()

			return reportResult("annotate hits", manager.AnnotateHits(ctx))
		},
	}
}

// openManager wires a build manager for the named project. The returned
// cleanup closes everything the manager was given.
func openManager(ctx context.Context, projectName string, withAnnotator bool) (*build.Manager, func(), error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}

	db, err := openProjectDB()
	if err != nil {
		return nil, nil, err
	}
	project, err := findProject(ctx, db, projectName)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	normalizer, err := newNormalizer(logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	store, err := connectGraph(ctx, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	manager := build.NewManager(project, db, store, normalizer, viper.GetString("data_dir"))
	manager.SetLogger(logger)
	if withAnnotator {
		annotator := snpeff.NewAnnotator(viper.GetString("home"))
		annotator.SetArchiveURL(viper.GetString("snpeff.url"))
		annotator.SetGenome(viper.GetString("snpeff.genome"))
		annotator.SetLogger(logger)
		manager.SetAnnotator(annotator)
	}

	cleanup := func() {
		store.Close(ctx)
		db.Close()
		_ = logger.Sync()
	}
	return manager, cleanup, nil
}

// reportResult prints a phase result and turns a failed phase into an error.
func reportResult(phase string, result *build.Result) error {
	for _, warning := range result.Warnings {
		fmt.Printf("Warning: %s\n", warning)
	}
	if !result.Success {
		for _, buildErr := range result.Errors {
			fmt.Fprintln(os.Stderr, buildErr)
		}
		return fmt.Errorf("%s failed", phase)
	}
	fmt.Println(result.SuccessMessage)
	return nil
}
