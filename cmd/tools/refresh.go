package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "refresh [entity...]",
		Short: "Make mirrored entities reload from Primary",
		Long: "Without --now the next list of each entity bypasses Cache and repopulates it. " +
			"With --now Cache is refreshed immediately; no entity names means every mirrored entity.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !now && len(args) == 0 {
				return fmt.Errorf("name at least one entity or pass --now")
			}
			svc, err := openService(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer svc.Close()

			if now {
				if err := svc.Warm(cmd.Context(), args...); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cache refreshed")
				return nil
			}
			if opts.config.Flags.Dir == "" {
				zap.S().Warnw("flags.dir is not set, refresh requests will not outlive this command")
			}
			for _, name := range args {
				if err := svc.RequestRefresh(name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "refresh requested for %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "Refresh Cache from Primary immediately")
	return cmd
}
