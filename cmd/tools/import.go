package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lychee-technology/duplex"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ImportError describes one CSV row that was not imported.
type ImportError struct {
	RowNumber int // 1-based, the header is row 1
	CSVColumn string
	Field     string
	RawValue  string
	Reason    string
}

func (e *ImportError) Error() string {
	if e.CSVColumn == "" {
		return fmt.Sprintf("row %d: %s", e.RowNumber, e.Reason)
	}
	return fmt.Sprintf("row %d, column %q -> field %q: value %q - %s",
		e.RowNumber, e.CSVColumn, e.Field, e.RawValue, e.Reason)
}

// ImportResult summarizes a CSV import.
type ImportResult struct {
	TotalRows    int
	SuccessCount int
	FailedCount  int
	Errors       []*ImportError
	Duration     time.Duration
}

func (r *ImportResult) Summary() string {
	return fmt.Sprintf("%d/%d rows imported, %d failed in %v",
		r.SuccessCount, r.TotalRows, r.FailedCount, r.Duration.Round(time.Millisecond))
}

// ImportOptions configures CSV parsing.
type ImportOptions struct {
	Delimiter rune
	Mappings  []string
	DryRun    bool
}

// CSVImporter creates one record per CSV row through an Entity so mirrored
// entities keep both backends in step.
type CSVImporter struct {
	entity duplex.Entity
	opts   ImportOptions
}

func NewCSVImporter(entity duplex.Entity, opts ImportOptions) *CSVImporter {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	return &CSVImporter{entity: entity, opts: opts}
}

// Import reads the header, maps every following row and creates it. Row
// failures are collected; only an unreadable header, a bad mapping spec or
// context cancellation abort the run.
func (i *CSVImporter) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	start := time.Now()

	reader := csv.NewReader(r)
	reader.Comma = i.opts.Delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	mapper, err := ParseMappings(i.entity.Name(), i.opts.Mappings, header)
	if err != nil {
		return nil, duplex.NewValidationError("map", err.Error())
	}

	result := &ImportResult{}
	rowNum := 1
	for {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		rowNum++
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		result.TotalRows++
		if err != nil {
			result.fail(&ImportError{RowNumber: rowNum, Reason: fmt.Sprintf("CSV parsing error: %v", err)})
			continue
		}

		cells := make(map[string]string, len(header))
		for idx, col := range header {
			if idx < len(row) {
				cells[col] = row[idx]
			}
		}
		data, err := mapper.MapRow(cells)
		if err != nil {
			importErr := &ImportError{RowNumber: rowNum, Reason: err.Error()}
			var mappingErr *MappingError
			if errors.As(err, &mappingErr) {
				importErr.CSVColumn = mappingErr.CSVColumn
				importErr.Field = mappingErr.Field
				importErr.RawValue = mappingErr.RawValue
				importErr.Reason = mappingErr.Reason
			}
			result.fail(importErr)
			continue
		}
		if i.opts.DryRun {
			result.SuccessCount++
			continue
		}
		if _, err := i.entity.Create(ctx, duplex.Record(data)); err != nil {
			result.fail(&ImportError{RowNumber: rowNum, Reason: err.Error()})
			continue
		}
		result.SuccessCount++
	}

	result.Duration = time.Since(start)
	zap.S().Infow("csv import finished", "entity", i.entity.Name(), "rows", result.TotalRows,
		"imported", result.SuccessCount, "failed", result.FailedCount, "dryRun", i.opts.DryRun)
	return result, nil
}

func (r *ImportResult) fail(err *ImportError) {
	zap.S().Debugw("csv row rejected", "error", err.Error())
	r.FailedCount++
	r.Errors = append(r.Errors, err)
}

const maxReportedErrors = 10

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		mappings  []string
		delimiter string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "import <entity> <file.csv>",
		Short: "Create records from a CSV export",
		Long: "Each data row becomes one record. --map Column=field[:type][!] selects columns; " +
			"types are string, int, float, bool, date (dd/mm/yyyy), isodate, datetime, money, phone, list and lower. " +
			"Without --map every column is imported as a string field.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delim := []rune(delimiter)
			if len(delim) != 1 {
				return duplex.NewValidationError("delimiter", "must be a single character")
			}
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open CSV file: %w", err)
			}
			defer f.Close()

			svc, err := openService(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer svc.Close()
			entity, err := svc.Entity(args[0])
			if err != nil {
				return err
			}

			importer := NewCSVImporter(entity, ImportOptions{Delimiter: delim[0], Mappings: mappings, DryRun: dryRun})
			result, err := importer.Import(cmd.Context(), f)
			if result != nil {
				printImportResult(cmd.OutOrStdout(), result)
			}
			if err != nil {
				return err
			}
			if result.FailedCount > 0 {
				return fmt.Errorf("%d of %d rows failed", result.FailedCount, result.TotalRows)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&mappings, "map", nil, "Column mapping Column=field[:type][!], repeatable")
	cmd.Flags().StringVar(&delimiter, "delimiter", ",", "CSV field delimiter")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and map rows without writing")
	return cmd
}

func printImportResult(w io.Writer, result *ImportResult) {
	fmt.Fprintln(w, result.Summary())
	for i, err := range result.Errors {
		if i >= maxReportedErrors {
			fmt.Fprintf(w, "  ... and %d more errors\n", len(result.Errors)-maxReportedErrors)
			break
		}
		fmt.Fprintf(w, "  %s\n", err.Error())
	}
}
