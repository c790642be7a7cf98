package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/factory"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var defaultColumns = []string{duplex.FieldID, duplex.FieldName, duplex.FieldCreatedDate, duplex.FieldUpdatedDate}

// openService builds a service for one command run. The CLI never exposes
// metrics so collectors are not registered.
func openService(ctx context.Context, opts *rootOptions) (duplex.Service, error) {
	cfg := *opts.config
	cfg.Metrics.Enabled = false
	return factory.NewServiceWithConfig(ctx, &cfg)
}

type outputOptions struct {
	fields []string
	json   bool
}

func (o *outputOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&o.fields, "fields", defaultColumns, "Record fields shown as table columns")
	cmd.Flags().BoolVar(&o.json, "json", false, "Output JSON")
}

func (o *outputOptions) write(w io.Writer, recs []duplex.Record) error {
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	renderRecords(w, recs, o.fields)
	return nil
}

// renderRecords prints recs as a table with one column per field.
func renderRecords(w io.Writer, recs []duplex.Record, fields []string) {
	tw := tablewriter.NewWriter(w)
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = strings.ToUpper(f)
	}
	tw.SetHeader(header)
	for _, rec := range recs {
		row := make([]string, len(fields))
		for i, f := range fields {
			row[i] = cell(rec[f])
		}
		tw.Append(row)
	}
	tw.SetFooter(footer(len(fields), len(recs)))
	tw.Render()
}

func footer(columns, rows int) []string {
	out := make([]string, columns)
	if columns > 0 {
		out[columns-1] = fmt.Sprintf("%d rows", rows)
	}
	return out
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var out outputOptions
	var where []string
	var fresh bool
	cmd := &cobra.Command{
		Use:   "list <entity>",
		Short: "List the records of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria, err := parseWhere(where)
			if err != nil {
				return err
			}
			svc, err := openService(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer svc.Close()

			entity, err := svc.Entity(args[0])
			if err != nil {
				return err
			}
			var recs []duplex.Record
			if len(criteria) > 0 || fresh {
				var filterOpts []duplex.FilterOption
				if fresh {
					filterOpts = append(filterOpts, duplex.WithFresh())
				}
				recs, err = entity.Filter(cmd.Context(), criteria, filterOpts...)
			} else {
				recs, err = entity.List(cmd.Context())
			}
			if err != nil {
				return err
			}
			slices.SortFunc(recs, func(a, b duplex.Record) int { return strings.Compare(a.ID(), b.ID()) })
			return out.write(cmd.OutOrStdout(), recs)
		},
	}
	out.bind(cmd)
	cmd.Flags().StringArrayVar(&where, "where", nil, "Equality criterion field=value (repeatable)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Bypass driver-level caching")
	return cmd
}

// parseWhere turns field=value pairs into criteria. Repeating a field makes
// its criterion a membership list.
func parseWhere(pairs []string) (duplex.Criteria, error) {
	c := duplex.Criteria{}
	for _, p := range pairs {
		field, value, ok := strings.Cut(p, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, duplex.NewValidationError("where", fmt.Sprintf("expected field=value, got %q", p))
		}
		switch existing := c[field].(type) {
		case nil:
			c[field] = value
		case string:
			c[field] = []any{existing, value}
		case []any:
			c[field] = append(existing, value)
		}
	}
	return c, nil
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var out outputOptions
	var limit int
	cmd := &cobra.Command{
		Use:   "search <entity> <term>",
		Short: "Prefix search an entity by name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer svc.Close()

			entity, err := svc.Entity(args[0])
			if err != nil {
				return err
			}
			searcher, ok := entity.(duplex.Searcher)
			if !ok {
				return duplex.NewValidationError("entity", "entity is not searchable").WithEntity(args[0], "")
			}
			recs, err := searcher.Search(cmd.Context(), args[1], limit)
			if err != nil {
				return err
			}
			return out.write(cmd.OutOrStdout(), recs)
		},
	}
	out.bind(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (0 uses the configured default)")
	return cmd
}
