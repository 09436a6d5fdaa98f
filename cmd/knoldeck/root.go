package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/collection"
	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/timing"
)

var (
	configPath string
	verbose    bool

	// cfg is loaded before every command runs.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "knoldeck",
	Short: "Spaced repetition flashcards from markdown notes",
	Long: `knoldeck schedules flashcards with a spaced repetition algorithm.
Cards come from Q:/A: blocks in markdown files or git repositories, and
collections sync with a knoldeck server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		if verbose {
			loaded.Log.Level = "debug"
		}
		cfg = loaded
		slog.SetDefault(slog.New(cfg.Log.Handler(cmd.ErrOrStderr())))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "knoldeck.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().String("db", "", "Path to the collection database")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text or json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

// openCollection opens the configured collection. The caller closes it.
func openCollection(ctx context.Context) (*collection.Collection, error) {
	return openCollectionAt(ctx, cfg.Collection.Path)
}

func openCollectionAt(ctx context.Context, path string) (*collection.Collection, error) {
	c := *cfg
	c.Collection.Path = path
	col, err := collection.Open(ctx, &c, timing.SystemClock{}, collection.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", path, err)
	}
	return col, nil
}

// withCollection runs fn against the configured collection and closes it.
func withCollection(cmd *cobra.Command, fn func(ctx context.Context, col *collection.Collection) error) error {
	ctx := cmd.Context()
	col, err := openCollection(ctx)
	if err != nil {
		return err
	}
	defer col.Close()
	return fn(ctx, col)
}
