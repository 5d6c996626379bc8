package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect or clean up the graph database",
	}
	cmd.AddCommand(
		newGraphEdgesCmd(),
		newGraphDeleteCmd(),
	)
	return cmd
}

func newGraphEdgesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "edges <project>",
		Short:   "Count the edges a project has written to the graph",
		Example: "  rags graph edges cardio-metabolic",
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

			query := fmt.Sprintf(
				"MATCH ()-[r]->() WHERE r.project_id = %d RETURN count(r) AS edges", project.ID)
			rows, err := store.CustomReadQuery(ctx, query, 1)
			if err != nil {
				return err
			}
			var count any = int64(0)
			if len(rows) > 0 {
				count = rows[0]["edges"]
			}
			fmt.Printf("Project %q has %v edges in the graph.\n", project.Name, count)
			return nil
		},
	}
}

func newGraphDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project>",
		Short: "Delete a project's edges from the graph",
		Long: `Deletes every edge the project has written to the graph. The build state
is kept, so 'rags build --force' repopulates the graph from the recorded
hits without searching the study files again.`,
		Example: "  rags graph delete cardio-metabolic",
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

			if err := store.DeleteProject(ctx, project.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted the graph edges of project %q.\n", project.Name)
			return nil
		},
	}
}
