package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragsbio/rags/internal/study"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage build projects",
	}
	cmd.AddCommand(
		newProjectCreateCmd(),
		newProjectListCmd(),
		newProjectStatusCmd(),
		newProjectDeleteCmd(),
	)
	return cmd
}

func newProjectCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "create <name>",
		Short:   "Create a new project",
		Example: "  rags project create cardio-metabolic",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := openProjectDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if existing, err := db.ProjectByName(ctx, args[0]); err != nil {
				return err
			} else if existing != nil {
				return fmt.Errorf("project %q already exists", args[0])
			}

			project, err := db.CreateProject(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Created project %q (id %d).\n", project.Name, project.ID)
			return nil
		},
	}
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := openProjectDB()
			if err != nil {
				return err
			}
			defer db.Close()

			projects, err := db.Projects(ctx)
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Println("No projects yet. Create one with 'rags project create <name>'.")
				return nil
			}
			for _, project := range projects {
				studies, err := db.StudiesByProject(ctx, project.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%d\t%s\t%d studies\n", project.ID, project.Name, len(studies))
			}
			return nil
		},
	}
}

func newProjectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status <name>",
		Short:   "Show a project's build progress",
		Example: "  rags project status cardio-metabolic",
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

			fmt.Printf("Project %q (id %d), %d studies\n", project.Name, project.ID, len(studies))
			for _, st := range studies {
				fmt.Printf("\n%s (%s)\n", st.StudyName, st.StudyType)
				fmt.Printf("  file:            %s\n", st.FilePath)
				fmt.Printf("  trait:           %s\n", describeTrait(st))
				fmt.Printf("  p-value cutoff:  %g\n", st.PValueCutoff)
				if st.HasMaxPValue() {
					fmt.Printf("  max p-value:     %g\n", st.MaxPValue)
				}
				fmt.Printf("  searched:        %t (%d hits)\n", st.Searched, st.NumHits)
				fmt.Printf("  written:         %t (%d associations)\n", st.Written, st.NumAssociations)

				buildErrors, err := db.StudyErrors(ctx, st.ID)
				if err != nil {
					return err
				}
				for _, buildErr := range buildErrors {
					fmt.Printf("  %s error: %s\n", buildErr.Type, buildErr.Message)
				}
			}
			return nil
		},
	}
}

func describeTrait(st *study.Study) string {
	if st.OriginalTraitID == "" {
		return "(none)"
	}
	desc := st.OriginalTraitID
	if st.OriginalTraitLabel != "" {
		desc += " " + st.OriginalTraitLabel
	}
	if !st.TraitNormalized {
		return desc + " (not normalized)"
	}
	if st.NormalizedTraitID != st.OriginalTraitID {
		desc += " -> " + st.NormalizedTraitID
		if st.NormalizedTraitLabel != "" {
			desc += " " + st.NormalizedTraitLabel
		}
	}
	return desc
}

func newProjectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Short:   "Delete a project, its build state and its graph edges",
		Example: "  rags project delete cardio-metabolic",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := openProjectDB()
			if err != nil {
				return err
			}
			defer db.Close()

			project, err := findProject(ctx, db, args[0])
			if err != nil {
				return err
			}

			store, err := connectGraph(ctx, logger)
			if err != nil {
				return err
			}
			defer store.Close(ctx)

			// Edges first so a failure leaves the build state intact for a retry.
			if err := store.DeleteProject(ctx, project.ID); err != nil {
				return err
			}
			if err := db.DeleteProject(ctx, project.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted project %q and its graph edges.\n", project.Name)
			return nil
		},
	}
}
