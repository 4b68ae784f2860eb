package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/blob"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/gc"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/refs"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/xerrors"
)

type sweepOptions struct {
	DryRun    bool
	SQLDriver string
	SQLDSN    string
	Columns   []string
	PurgeTemp time.Duration
}

// referenceSource combines the configured reference sources. At least one
// is required: sweeping against an empty set would delete every object.
func referenceSource(ctx context.Context, idx *refs.BoltIndex, opts sweepOptions) (refs.Source, func(), error) {
	var sources []refs.Source
	closeFn := func() {}
	if idx != nil {
		sources = append(sources, idx)
	}
	if opts.SQLDriver != "" || opts.SQLDSN != "" {
		cols, err := parseColumns(opts.Columns)
		if err != nil {
			return nil, closeFn, err
		}
		src, db, err := refs.OpenSQLSource(ctx, opts.SQLDriver, opts.SQLDSN, cols...)
		if err != nil {
			return nil, closeFn, err
		}
		closeFn = func() { _ = db.Close() }
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return nil, closeFn, xerrors.Wrap(xerrors.KindConfiguration, "mediavault.sweep", "",
			errors.New("no reference source: set --index or --sql-driver/--sql-dsn"))
	}
	return refs.Union(sources...), closeFn, nil
}

func parseColumns(specs []string) ([]refs.Column, error) {
	cols := make([]refs.Column, 0, len(specs))
	for _, spec := range specs {
		table, column, ok := strings.Cut(spec, ".")
		if !ok || table == "" || column == "" {
			return nil, xerrors.Wrap(xerrors.KindConfiguration, "mediavault.sweep", spec,
				errors.New("column must be table.column"))
		}
		cols = append(cols, refs.Column{Table: table, Column: column})
	}
	return cols, nil
}

func doSweep(ctx context.Context, store *blob.Vault, idx *refs.BoltIndex, logger *slog.Logger, w io.Writer, opts sweepOptions) error {
	source, closeFn, err := referenceSource(ctx, idx, opts)
	defer closeFn()
	if err != nil {
		return err
	}
	if tp, ok := store.Backend().(blob.TempPurger); ok && opts.PurgeTemp > 0 && !opts.DryRun {
		n, err := tp.PurgeTemp(ctx, opts.PurgeTemp)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("purged interrupted uploads", slog.Int("count", n))
		}
	}
	sweeper := gc.NewSweeper(gc.Options{
		Backend: store.Backend(),
		Refs:    source,
		DryRun:  opts.DryRun,
		Logger:  logger,
	})
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	printReport(w, report)
	return report.Err()
}

func printReport(w io.Writer, report gc.Report) {
	verb := "deleted"
	keys := report.Deleted
	if report.DryRun {
		verb = "orphan"
		keys = report.Orphans
	}
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", verb, k)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(w, "failed\t%s\t%v\n", f.Key, f.Err)
	}
	fmt.Fprintf(w, "stored=%d referenced=%d orphans=%d deleted=%d failed=%d\n",
		len(report.Stored), len(report.Referenced), len(report.Orphans), len(report.Deleted), len(report.Failures))
}
