package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/collection"
	"github.com/conorfennell/knoldeck/internal/ingest"
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage the markdown sources notes are ingested from",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <path/or/url.git>",
	Short: "Add a local directory or git repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCollection(cmd, func(ctx context.Context, col *collection.Collection) error {
			src, err := newIngester(col).AddSource(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Source %d: %s (%s)\n", src.ID, src.Path, src.Type)
			return nil
		})
	},
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCollection(cmd, func(ctx context.Context, col *collection.Collection) error {
			sources, err := newIngester(col).Sources(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tLAST SCANNED\tPATH")
			for _, src := range sources {
				scanned := "never"
				if !src.LastScanned.IsZero() {
					scanned = src.LastScanned.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", src.ID, src.Type, scanned, src.Path)
			}
			return w.Flush()
		})
	},
}

var sourceRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a source; its notes stay in the collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid source ID %q", args[0])
		}
		return withCollection(cmd, func(ctx context.Context, col *collection.Collection) error {
			return newIngester(col).RemoveSource(ctx, id)
		})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Scan all sources and update notes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCollection(cmd, func(ctx context.Context, col *collection.Collection) error {
			reports, err := newIngester(col).Run(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range reports {
				fmt.Fprintf(out, "%s: %d parsed, %d added, %d updated, %d deleted\n",
					r.Source.Path, r.Parsed, r.Added, r.Updated, r.Deleted)
				for _, e := range r.Errors {
					fmt.Fprintf(out, "- %s\n", e)
				}
				if len(r.Errors) > 0 {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sources had errors", failed, len(reports))
			}
			return nil
		})
	},
}

func newIngester(col *collection.Collection) *ingest.Ingester {
	return ingest.New(col, ingest.WithLogger(slog.Default()))
}

func init() {
	sourceCmd.AddCommand(sourceAddCmd, sourceListCmd, sourceRemoveCmd)
	ingestCmd.Flags().String("repos-dir", "", "Directory git sources are cloned into")
	rootCmd.AddCommand(sourceCmd, ingestCmd)
}
