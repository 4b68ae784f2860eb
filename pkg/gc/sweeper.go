// Package gc reconciles stored blobs against referenced names and removes
// orphans.
package gc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/blob"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/refs"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/xerrors"
)

// Backend is the slice of a blob backend the sweep needs.
type Backend interface {
	blob.Lister
	blob.Deleter
}

// Options configures a Sweeper.
type Options struct {
	Backend Backend
	Refs    refs.Source
	// DryRun computes orphans without deleting them.
	DryRun bool
	Logger *slog.Logger
}

// Sweeper removes stored objects that no media record references.
type Sweeper struct {
	backend Backend
	refs    refs.Source
	dryRun  bool
	log     *slog.Logger
}

// Failure records an orphan that could not be deleted.
type Failure struct {
	Key string
	Err error
}

func (f Failure) Error() string { return fmt.Sprintf("delete %s: %v", f.Key, f.Err) }

func (f Failure) Unwrap() error { return f.Err }

// Report summarises one sweep pass. Orphans lists every unreferenced key;
// Deleted is the subset actually removed (empty on a dry run).
type Report struct {
	RunID      string
	Stored     []string
	Referenced []string
	Orphans    []string
	Deleted    []string
	Failures   []Failure
	DryRun     bool
}

// Err joins the per-item failures, or returns nil when every orphan was
// handled.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// NewSweeper wires a backend and a reference source for reconciliation.
func NewSweeper(opts Options) *Sweeper {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		backend: opts.Backend,
		refs:    opts.Refs,
		dryRun:  opts.DryRun,
		log:     logger,
	}
}

// Sweep lists stored and referenced names, then deletes every orphan
// independently. A failed delete is recorded in the report and the pass
// continues. Listing failures abort before anything is deleted. An orphan
// that disappears concurrently counts as deleted.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString(), DryRun: s.dryRun}
	if s.backend == nil || s.refs == nil {
		return report, xerrors.Wrap(xerrors.KindConfiguration, "gc.Sweep", "", fmt.Errorf("sweeper missing dependencies"))
	}
	log := s.log.With(slog.String("run_id", report.RunID))
	start := time.Now()

	stored, err := s.backend.List(ctx)
	if err != nil {
		return report, fmt.Errorf("gc: list stored blobs: %w", err)
	}
	referenced, err := s.refs.ListReferencedBlobNames(ctx)
	if err != nil {
		return report, fmt.Errorf("gc: list referenced blobs: %w", err)
	}
	report.Stored = stored
	report.Referenced = referenced.Sorted()
	report.Orphans = orphans(stored, referenced)

	for _, key := range report.Orphans {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if s.dryRun {
			log.Info("orphan blob", slog.String("key", key))
			continue
		}
		err := s.backend.Delete(ctx, key)
		switch {
		case err == nil:
			log.Info("deleted orphan blob", slog.String("key", key))
		case xerrors.IsNotFound(err):
			log.Debug("orphan blob already gone", slog.String("key", key))
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			log.Warn("delete orphan blob failed", slog.String("key", key), slog.Any("err", err))
			report.Failures = append(report.Failures, Failure{Key: key, Err: err})
			continue
		}
		report.Deleted = append(report.Deleted, key)
	}

	log.Info("blob sweep finished",
		slog.Int("stored", len(report.Stored)),
		slog.Int("referenced", len(report.Referenced)),
		slog.Int("orphans", len(report.Orphans)),
		slog.Int("deleted", len(report.Deleted)),
		slog.Int("failed", len(report.Failures)),
		slog.Bool("dry_run", s.dryRun),
		slog.Duration("duration", time.Since(start)))
	return report, nil
}

// Start launches a background sweep loop until ctx is canceled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) context.CancelFunc {
	if interval <= 0 {
		interval = time.Hour
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			report, err := s.Sweep(ctx)
			if err == nil {
				err = report.Err()
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("blob sweep", slog.Any("err", err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return cancel
}

func orphans(stored []string, referenced refs.Set) []string {
	var out []string
	for _, key := range stored {
		if !referenced.References(key) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
