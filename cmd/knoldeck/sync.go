package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/collection"
	"github.com/conorfennell/knoldeck/internal/sync"
	"github.com/conorfennell/knoldeck/internal/web"
)

var (
	forceUpload   bool
	forceDownload bool
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the collection with the server",
	Long: `Synchronize the local collection with the configured knoldeck server.
Changes since the last sync are merged in both directions. When the two
collections cannot be merged the whole collection is sent one way, which
you confirm interactively or with --upload / --download.

With --schedule the command keeps running and syncs on a cron schedule.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Sync.Endpoint == "" {
			return errors.New("no sync endpoint configured; set sync.endpoint or pass --endpoint")
		}
		if forceUpload && forceDownload {
			return errors.New("--upload and --download are mutually exclusive")
		}
		confirm := fullSyncConfirm(cmd.InOrStdin(), cmd.OutOrStdout())

		return withCollection(cmd, func(ctx context.Context, col *collection.Collection) error {
			remote := web.NewClient(cfg.Sync.Endpoint)
			if cfg.Sync.Schedule == "" {
				res, err := col.Sync(ctx, remote, confirm)
				if err != nil {
					return syncError(err)
				}
				printResult(cmd.OutOrStdout(), res)
				return nil
			}
			return runScheduled(ctx, cfg.Sync.Schedule, func() {
				// Nobody is there to confirm a full sync.
				res, err := col.Sync(ctx, remote, scheduledConfirm())
				if err != nil {
					slog.Error("scheduled sync failed", "error", syncError(err))
					return
				}
				slog.Info("scheduled sync done", "outcome", res.Outcome, "pulled", res.Pulled, "pushed", res.Pushed)
			})
		})
	},
}

// fullSyncConfirm picks the full sync direction from the flags, or asks.
func fullSyncConfirm(in io.Reader, out io.Writer) sync.Confirm {
	switch {
	case forceUpload:
		return sync.Always(sync.Upload)
	case forceDownload:
		return sync.Always(sync.Download)
	}
	return prompter(in, out)
}

func scheduledConfirm() sync.Confirm {
	switch {
	case forceUpload:
		return sync.Always(sync.Upload)
	case forceDownload:
		return sync.Always(sync.Download)
	}
	return nil
}

// prompter asks on out and reads the answer from in.
func prompter(in io.Reader, out io.Writer) sync.Confirm {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, p sync.Prompt) (sync.Choice, error) {
		fmt.Fprintf(out, "A full sync is required: %s\n", p.Reason)
		fmt.Fprintf(out, "  local:  %d notes, %d cards, %d reviews\n", p.Local.Notes, p.Local.Cards, p.Local.RevLog)
		fmt.Fprintf(out, "  remote: usn %d\n", p.Remote.USN)
		for {
			fmt.Fprint(out, "[u]pload local, [d]ownload remote or [c]ancel? ")
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				if errors.Is(err, io.EOF) {
					return sync.Cancel, nil
				}
				return sync.Cancel, err
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "u", "upload":
				return sync.Upload, nil
			case "d", "download":
				return sync.Download, nil
			case "c", "cancel", "":
				return sync.Cancel, nil
			}
			if err := ctx.Err(); err != nil {
				return sync.Cancel, err
			}
		}
	}
}

// runScheduled runs job on the cron spec until ctx is cancelled.
func runScheduled(ctx context.Context, spec string, job func()) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, job); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	slog.Info("scheduled sync started", "schedule", spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("scheduled sync stopped")
	return nil
}

func syncError(err error) error {
	switch {
	case errors.Is(err, sync.ErrFullSyncRequired):
		return fmt.Errorf("%w; rerun with --upload or --download", err)
	case errors.Is(err, sync.ErrSchemaMismatch):
		return fmt.Errorf("%w; upgrade knoldeck on both sides", err)
	case errors.Is(err, sync.ErrNetworkFailure):
		return fmt.Errorf("%w; nothing was changed, try again", err)
	}
	return err
}

func printResult(out io.Writer, res sync.Result) {
	switch res.Outcome {
	case sync.NoChanges:
		fmt.Fprintln(out, "Already in sync.")
	case sync.Merged:
		fmt.Fprintf(out, "Merged: %d pulled, %d pushed.\n", res.Pulled, res.Pushed)
		for _, c := range res.Conflicts {
			fmt.Fprintf(out, "- %s %d changed on both sides, kept %s\n", c.Kind, c.ID, c.Winner)
		}
	case sync.Uploaded:
		fmt.Fprintf(out, "Uploaded %d items.\n", res.Pushed)
	case sync.Downloaded:
		fmt.Fprintf(out, "Downloaded %d items.\n", res.Pulled)
	}
}

func init() {
	syncCmd.Flags().String("endpoint", "", "URL of the knoldeck server")
	syncCmd.Flags().Int("batch-size", 0, "Entities per sync batch")
	syncCmd.Flags().String("schedule", "", `Cron schedule for repeated syncs, e.g. "@every 30m"`)
	syncCmd.Flags().BoolVar(&forceUpload, "upload", false, "Settle a full sync by uploading the local collection")
	syncCmd.Flags().BoolVar(&forceDownload, "download", false, "Settle a full sync by downloading the remote collection")
	rootCmd.AddCommand(syncCmd)
}
