// Package aggregate merges per-unit results into the run's final layout.
// Each succeeded unit's output directory holds one subdirectory per
// application that ran; the aggregator relocates each of those under
// {root}/{app}/{unit}, a destination that is unique per unit so merges from
// different units can never clobber each other.
package aggregate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/gridfan/internal/ctxlog"
	"github.com/vk/gridfan/internal/engine"
	"github.com/vk/gridfan/internal/fsutil"
)

// AggregationConflictError reports a destination that already existed or a
// move that failed. One unit's conflict never blocks the remaining units.
type AggregationConflictError struct {
	Unit string
	Path string
	Err  error
}

func (e *AggregationConflictError) Error() string {
	return fmt.Sprintf("aggregating unit %q into %s: %v", e.Unit, e.Path, e.Err)
}

func (e *AggregationConflictError) Unwrap() error { return e.Err }

// Policy controls the merge.
type Policy struct {
	// Root is the directory the merged layout is built under.
	Root string

	// RemoveUnitDir deletes each unit's staging output directory after a
	// fully successful merge.
	RemoveUnitDir bool
}

// Merge relocates the outputs of every succeeded unit. It returns one error
// per unit that could not be merged; units without conflicts are merged even
// when others fail.
func Merge(ctx context.Context, policy Policy, outcomes []engine.UnitOutcome) []error {
	logger := ctxlog.FromContext(ctx)

	var errs []error
	for _, outcome := range outcomes {
		if outcome.OutputDir == "" {
			continue
		}
		if err := mergeUnit(policy, outcome.Unit, outcome.OutputDir); err != nil {
			logger.Error("Merge failed for unit.", "unit", outcome.Unit, "error", err)
			errs = append(errs, err)
			continue
		}
		logger.Debug("Unit results merged.", "unit", outcome.Unit)
	}
	return errs
}

func mergeUnit(policy Policy, unit, outputDir string) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return &AggregationConflictError{Unit: unit, Path: outputDir, Err: err}
	}

	moved := 0
	for _, entry := range entries {
		// Log files and other loose artifacts stay in the unit directory.
		if !entry.IsDir() {
			continue
		}
		src := filepath.Join(outputDir, entry.Name())
		dest := filepath.Join(policy.Root, entry.Name(), unit)

		if _, err := os.Stat(dest); err == nil {
			return &AggregationConflictError{Unit: unit, Path: dest, Err: os.ErrExist}
		} else if !os.IsNotExist(err) {
			return &AggregationConflictError{Unit: unit, Path: dest, Err: err}
		}

		if err := fsutil.EnsureDir(filepath.Dir(dest)); err != nil {
			return &AggregationConflictError{Unit: unit, Path: dest, Err: err}
		}
		if err := fsutil.MoveTree(src, dest); err != nil {
			return &AggregationConflictError{Unit: unit, Path: dest, Err: err}
		}
		moved++
	}

	if policy.RemoveUnitDir && moved > 0 {
		if err := os.RemoveAll(outputDir); err != nil {
			return &AggregationConflictError{Unit: unit, Path: outputDir, Err: err}
		}
	}
	return nil
}
