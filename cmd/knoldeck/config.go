package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/collection"
	"github.com/conorfennell/knoldeck/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var checksumCmd = &cobra.Command{
	Use:   "checksum",
	Short: "Print the collection checksum compared by sync",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCollection(cmd, func(ctx context.Context, col *collection.Collection) error {
			sum, err := col.Checksum(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(configCmd, checksumCmd)
}
