package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/factory"
	"github.com/lychee-technology/duplex/internal"
	"github.com/lychee-technology/duplex/internal/snapshotio"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newBackupCmd(opts *rootOptions) *cobra.Command {
	var out, format string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export every entity to a snapshot file or s3://bucket/key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = opts.config.Snapshot.Format
			}
			f, err := snapshotio.ParseFormat(format)
			if err != nil {
				return err
			}
			if out == "" {
				out = snapshotio.DefaultKey(time.Now(), f)
			}
			store, key, err := factory.OpenSnapshotStore(cmd.Context(), opts.config, out)
			if err != nil {
				return err
			}

			svc, err := openService(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer svc.Close()

			snap, err := svc.Backup(cmd.Context())
			if err != nil {
				return err
			}
			if err := snapshotio.Write(cmd.Context(), store, key, snap, f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records of %d entities to %s\n",
				snap.Metadata.TotalRecords, snap.Metadata.TotalEntities, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Destination file path or s3://bucket/key (default snapshot-<timestamp>.<format>)")
	cmd.Flags().StringVar(&format, "format", "", "json or cbor when the destination has no extension (default from config)")
	return cmd
}

func newRestoreCmd(opts *rootOptions) *cobra.Command {
	var in, mode string
	var entities []string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Apply a snapshot in replace or merge mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			restoreMode := duplex.RestoreMode(mode)
			if err := internal.ValidateRestoreMode(restoreMode); err != nil {
				return err
			}
			if in == "" {
				return duplex.NewValidationError("in", "snapshot location is required")
			}
			store, key, err := factory.OpenSnapshotStore(cmd.Context(), opts.config, in)
			if err != nil {
				return err
			}
			snap, err := snapshotio.Read(cmd.Context(), store, key)
			if err != nil {
				return err
			}

			svc, err := openService(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.Restore(cmd.Context(), snap, entities, restoreMode)
			if result != nil {
				renderRestoreResult(cmd, result)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "Snapshot file path or s3://bucket/key")
	cmd.Flags().StringVar(&mode, "mode", string(duplex.RestoreReplace), "replace or merge")
	cmd.Flags().StringSliceVar(&entities, "entities", nil, "Entities to restore (default every entity in the snapshot)")
	return cmd
}

func renderRestoreResult(cmd *cobra.Command, result *duplex.RestoreResult) {
	tw := tablewriter.NewWriter(cmd.OutOrStdout())
	tw.SetHeader([]string{"ENTITY", "RESTORED"})
	names := internal.MapKeys(result.PerEntity)
	slices.Sort(names)
	for _, name := range names {
		tw.Append([]string{name, fmt.Sprintf("%d", result.PerEntity[name])})
	}
	tw.SetFooter([]string{string(result.Mode), fmt.Sprintf("%d/%d (failed %d, deleted %d)",
		result.Restored, result.Attempted, result.Failed, result.Deleted)})
	tw.Render()
}
