package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ragsbio/rags/internal/graph"
	"github.com/ragsbio/rags/internal/normalize"
	"github.com/ragsbio/rags/internal/projectdb"
	"github.com/ragsbio/rags/internal/snpeff"
	"github.com/ragsbio/rags/internal/study"
)

// verbose is the root --verbose flag, shared by every command's logger.
var verbose bool

// usageError marks flag misuse so main can exit with ExitUsage.
type usageError struct{ error }

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rags",
		Short: "Build knowledge graphs from association studies",
		Long: `rags turns GWAS and MWAS summary files into a property graph: significant
hits become nodes, trait-to-hit associations become edges, and snpEff links
sequence variants to nearby genes. Build state is kept per project in an
embedded database, so an interrupted build resumes instead of starting over.`,
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return usageError{err}
	})

	cmd.AddCommand(
		newProjectCmd(),
		newStudyCmd(),
		newBuildCmd(),
		newAnnotateCmd(),
		newGraphCmd(),
		newConfigCmd(),
	)
	return cmd
}

// initConfig wires viper to ~/.rags.yaml and the environment. Environment
// variables win over the config file, defaults fill the rest.
func initConfig() error {
	userHome, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(userHome)
	}
	viper.SetConfigName(".rags")
	viper.SetConfigType("yaml")

	viper.SetDefault("home", defaultHome(userHome))
	viper.SetDefault("data_dir", "")
	viper.SetDefault("graph.host", "localhost")
	viper.SetDefault("graph.bolt_port", "7687")
	viper.SetDefault("graph.password", "")
	viper.SetDefault("normalization.node_endpoint", "")
	viper.SetDefault("normalization.edge_endpoint", "")
	viper.SetDefault("snpeff.url", snpeff.DefaultArchiveURL)
	viper.SetDefault("snpeff.genome", snpeff.DefaultGenome)

	bindings := map[string]string{
		"home":                        "RAGS_HOME",
		"data_dir":                    "RAGS_DATA_DIR",
		"graph.host":                  "GRAPH_HOST",
		"graph.bolt_port":             "GRAPH_BOLT_PORT",
		"graph.password":              "GRAPH_PASSWORD",
		"normalization.node_endpoint": "NODE_NORMALIZATION_ENDPOINT",
		"normalization.edge_endpoint": "EDGE_NORMALIZATION_ENDPOINT",
		"snpeff.url":                  "SNPEFF_URL",
		"snpeff.genome":               "SNPEFF_GENOME",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func defaultHome(userHome string) string {
	if userHome == "" {
		return ".rags"
	}
	return filepath.Join(userHome, ".rags")
}

// newLogger builds the CLI logger. Libraries stay quiet unless --verbose.
func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// openProjectDB opens the project database under the rags home directory,
// creating both on first use.
func openProjectDB() (*projectdb.Store, error) {
	home := viper.GetString("home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("create rags home: %w", err)
	}
	return projectdb.Open(filepath.Join(home, "projects.duckdb"))
}

// connectGraph opens the graph store and probes it so misconfiguration
// surfaces before any work is done.
func connectGraph(ctx context.Context, logger *zap.Logger) (*graph.Store, error) {
	store, err := graph.NewStore(
		viper.GetString("graph.host"),
		viper.GetString("graph.bolt_port"),
		viper.GetString("graph.password"),
	)
	if err != nil {
		return nil, err
	}
	store.SetLogger(logger)
	if err := store.VerifyConnectivity(ctx); err != nil {
		store.Close(ctx)
		return nil, err
	}
	return store, nil
}

func newNormalizer(logger *zap.Logger) (*normalize.Normalizer, error) {
	nodeEndpoint := viper.GetString("normalization.node_endpoint")
	edgeEndpoint := viper.GetString("normalization.edge_endpoint")
	if nodeEndpoint == "" || edgeEndpoint == "" {
		return nil, errors.New("normalization endpoints are not configured " +
			"(set NODE_NORMALIZATION_ENDPOINT and EDGE_NORMALIZATION_ENDPOINT)")
	}
	normalizer := normalize.NewNormalizer(nodeEndpoint, edgeEndpoint)
	normalizer.SetLogger(logger)
	return normalizer, nil
}

func findProject(ctx context.Context, db *projectdb.Store, name string) (*study.Project, error) {
	project, err := db.ProjectByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("project %q does not exist", name)
	}
	return project, nil
}
