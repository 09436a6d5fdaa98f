package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/collection"
	"github.com/conorfennell/knoldeck/internal/ingest"
	"github.com/conorfennell/knoldeck/internal/timing"
	"github.com/conorfennell/knoldeck/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a collection to sync clients over HTTP",
	Long: `Serve the server collection (serve.collection) on serve.addr. Clients
sync against POST /sync/*; the study and source routes drive the same
collection directly. Buried cards are returned to their queues at every
day rollover.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		col, err := openCollectionAt(ctx, cfg.Serve.Collection)
		if err != nil {
			return err
		}
		defer col.Close()

		logger := slog.Default()
		srv, err := web.NewServer(col,
			web.WithLogger(logger),
			web.WithIngester(ingest.New(col, ingest.WithLogger(logger))),
		)
		if err != nil {
			return err
		}

		jobs := cron.New()
		if _, err := jobs.AddFunc(unburySpec(cfg.Collection.RolloverHour), func() { unburyAll(ctx, col) }); err != nil {
			return fmt.Errorf("failed to schedule unbury job: %w", err)
		}
		jobs.Start()
		defer func() { <-jobs.Stop().Done() }()

		httpServer := &http.Server{Addr: cfg.Serve.Addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
		errc := make(chan error, 1)
		go func() {
			logger.Info("server listening", "addr", cfg.Serve.Addr, "collection", cfg.Serve.Collection)
			errc <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Sync.Timeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	},
}

// unburySpec fires at the top of the rollover hour.
func unburySpec(rolloverHour int) string {
	return fmt.Sprintf("0 %d * * *", timing.NormalizeRolloverHour(rolloverHour))
}

func unburyAll(ctx context.Context, col *collection.Collection) {
	sc, err := col.Scheduler()
	if err != nil {
		slog.Error("unbury job skipped", "error", err)
		return
	}
	if err := sc.UnburyAll(ctx); err != nil {
		slog.Error("unbury job failed", "error", err)
		return
	}
	slog.Info("buried cards returned to their queues")
}

func init() {
	serveCmd.Flags().String("addr", "", "Address to listen on")
	serveCmd.Flags().String("serve-db", "", "Path to the server collection database")
	rootCmd.AddCommand(serveCmd)
}
