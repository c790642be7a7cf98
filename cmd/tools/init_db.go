package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lychee-technology/duplex/factory"
	"github.com/spf13/cobra"
)

func newInitDBCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the document tables and indexes of the configured backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := factory.InitSchema(ctx, opts.config); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (primary=%s cache=%s)\n",
				opts.config.Primary.Driver, opts.config.Cache.Driver)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Overall timeout")
	return cmd
}
