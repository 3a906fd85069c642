package diff

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/isometry/ldifdiff/internal/ldap"
)

// Options configures a diff run.
type Options struct {
	IgnoredDNs         *DNFilter
	IgnoredAttributes  *AttributeFilter
	SingleValueChanges bool
	ConcurrentLoad     bool
	Logger             ldap.Logger
}

// Result summarizes a diff run.
type Result struct {
	Source LoadStats
	Target LoadStats
	EmitStats
}

// Run loads source and target, merges them and writes the resulting change
// records to sink. Load failures wrap ldap.ErrSourceUnreadable or
// ldap.ErrTargetUnreadable; write failures wrap ldap.ErrOutputWrite.
func Run(ctx context.Context, source, target EntrySource, sink Sink, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = ldap.NopLogger{}
	}

	sourceSnapshot, targetSnapshot, err := loadBoth(ctx, source, target, opts, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Snapshots loaded", map[string]any{
		"source_entries": sourceSnapshot.Len(),
		"target_entries": targetSnapshot.Len(),
	})

	stats, err := Emit(Merge(sourceSnapshot, targetSnapshot), sink, EmitOptions{
		IgnoredAttributes:  opts.IgnoredAttributes,
		SingleValueChanges: opts.SingleValueChanges,
		Logger:             logger,
	})

	result := &Result{
		Source:    sourceSnapshot.Stats(),
		Target:    targetSnapshot.Stats(),
		EmitStats: stats,
	}
	if err != nil {
		return result, err
	}

	logger.Info("Diff completed", map[string]any{
		"added":    stats.Added,
		"deleted":  stats.Deleted,
		"modified": stats.Modified,
		"records":  stats.Records,
	})
	return result, nil
}

func loadBoth(ctx context.Context, source, target EntrySource, opts Options, logger ldap.Logger) (*Snapshot, *Snapshot, error) {
	var sourceSnapshot, targetSnapshot *Snapshot

	loadSource := func(ctx context.Context) error {
		s, err := load(ctx, "load source", ldap.ErrSourceUnreadable, source, opts.IgnoredDNs, logger)
		sourceSnapshot = s
		return err
	}
	loadTarget := func(ctx context.Context) error {
		s, err := load(ctx, "load target", ldap.ErrTargetUnreadable, target, opts.IgnoredDNs, logger)
		targetSnapshot = s
		return err
	}

	if !opts.ConcurrentLoad {
		if err := loadSource(ctx); err != nil {
			return nil, nil, err
		}
		if err := loadTarget(ctx); err != nil {
			return nil, nil, err
		}
		return sourceSnapshot, targetSnapshot, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loadSource(gctx) })
	g.Go(func() error { return loadTarget(gctx) })
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return sourceSnapshot, targetSnapshot, nil
}

func load(ctx context.Context, operation string, side error, src EntrySource, ignored *DNFilter, logger ldap.Logger) (*Snapshot, error) {
	var snapshot *Snapshot
	err := ldap.LogOperation(logger, operation, nil, func() error {
		var err error
		snapshot, err = LoadSnapshot(ctx, src, ignored, logger)
		return err
	})
	if err != nil {
		category := ldap.ErrorCategoryDecode
		var opErr *ldap.OperationError
		if errors.As(err, &opErr) {
			category = opErr.Category
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			category = ldap.ErrorCategoryUnknown
		}
		return nil, ldap.NewOperationError(operation, category, fmt.Errorf("%w: %w", side, err))
	}
	return snapshot, nil
}
