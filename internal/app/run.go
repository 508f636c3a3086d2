package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/vk/gridfan/internal/aggregate"
	"github.com/vk/gridfan/internal/chunk"
	"github.com/vk/gridfan/internal/ctxlog"
	"github.com/vk/gridfan/internal/discover"
	"github.com/vk/gridfan/internal/engine"
	"github.com/vk/gridfan/internal/lifecycle"
	"github.com/vk/gridfan/internal/scheduler"
	"github.com/vk/gridfan/internal/scheduler/gridlink"
	"github.com/vk/gridfan/internal/scheduler/localexec"
	"github.com/vk/gridfan/internal/session"
	"github.com/vk/gridfan/internal/staging"
	"github.com/vk/gridfan/internal/task"
)

// unitsDirName is where per-unit staging output lives under the output root;
// merged results land next to it, namespaced per app.
const unitsDirName = "units"

// Run executes one full run: discovery, staging, submission, the poll loop
// and final aggregation. The returned report covers every discovered unit
// even when the run was interrupted.
func (a *App) Run(ctx context.Context) (*engine.Report, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	cfg := a.config
	a.logger.Debug("App.Run method started.")

	units, err := a.discoverUnits(ctx)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		a.logger.Warn("No units discovered, nothing to run.", "input_root", cfg.InputRoot)
		return &engine.Report{}, nil
	}
	a.logger.Info("Units discovered.", "count", len(units))

	mode := staging.ModeShared
	if cfg.Transfer {
		mode = staging.ModeTransfer
	}
	planner, err := staging.NewPlanner(a.template, mode, filepath.Join(cfg.OutputRoot, unitsDirName), cfg.License, cfg.Level)
	if err != nil {
		return nil, err
	}
	builder, err := task.NewBuilder(a.template, cfg.MemoryBytes)
	if err != nil {
		return nil, err
	}
	tracker, err := lifecycle.NewTracker(lifecycle.Policy{
		Factor:       cfg.MemoryFactor,
		CeilingBytes: cfg.MaxMemoryBytes,
	})
	if err != nil {
		return nil, err
	}

	sched, closeSched, err := a.newScheduler(ctx)
	if err != nil {
		return nil, err
	}
	defer closeSched()

	var store *session.Store
	if cfg.SessionPath != "" {
		store, err = session.Open(cfg.SessionPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if err := store.RecordRun(ctx, uuid.NewString(), cfg.InputRoot, cfg.OutputRoot); err != nil {
			return nil, err
		}
		units, err = a.skipCompleted(ctx, store, units)
		if err != nil {
			return nil, err
		}
		if len(units) == 0 {
			a.logger.Info("Every unit already succeeded in this session, nothing to run.")
			return &engine.Report{}, nil
		}
	}

	a.logger.Info("Starting run.",
		"template", a.template.Name,
		"mode", string(mode),
		"initial_memory", humanize.IBytes(uint64(builder.InitialMemory())),
		"memory_ceiling", humanize.IBytes(uint64(cfg.MaxMemoryBytes)))

	report, runErr := engine.New(planner, builder, tracker, sched, store).Run(ctx, units)

	mergeErrs := aggregate.Merge(ctx, aggregate.Policy{
		Root:          cfg.OutputRoot,
		RemoveUnitDir: cfg.RemoveStaged,
	}, report.Succeeded())

	a.logger.Info("Run finished.",
		"units", len(report.Outcomes),
		"succeeded", len(report.Succeeded()),
		"failed", len(report.Failed()),
		"merge_conflicts", len(mergeErrs))

	return report, errors.Join(append([]error{runErr}, mergeErrs...)...)
}

// skipCompleted drops units the session already records as Succeeded, so a
// resumed run submits only the unfinished remainder. Failed units stay in:
// resubmitting them is the point of resuming.
func (a *App) skipCompleted(ctx context.Context, store *session.Store, units []discover.Unit) ([]discover.Unit, error) {
	done, err := store.Succeeded(ctx)
	if err != nil {
		return nil, err
	}
	if len(done) == 0 {
		return units, nil
	}
	doneSet := make(map[string]bool, len(done))
	for _, name := range done {
		doneSet[name] = true
	}

	remaining := make([]discover.Unit, 0, len(units))
	for _, unit := range units {
		if doneSet[unit.Name] {
			continue
		}
		remaining = append(remaining, unit)
	}
	if skipped := len(units) - len(remaining); skipped > 0 {
		a.logger.Info("Skipping units completed in a previous run.", "skipped", skipped)
	}
	return remaining, nil
}

// discoverUnits picks the discovery strategy from the configuration: chunked
// packing, one collective unit, or one unit per input entry.
func (a *App) discoverUnits(ctx context.Context) ([]discover.Unit, error) {
	cfg := a.config
	opts := discover.Options{Repeat: cfg.Repeat}

	if cfg.ChunkBytes > 0 {
		files, err := chunk.ListFiles(cfg.InputRoot)
		if err != nil {
			return nil, err
		}
		chunks, err := chunk.Plan(files, cfg.ChunkBytes)
		if err != nil {
			return nil, err
		}
		a.logger.Debug("Chunk plan ready.",
			"files", len(files), "chunks", len(chunks),
			"limit", humanize.IBytes(uint64(cfg.ChunkBytes)))
		return chunk.Units(ctx, chunks), nil
	}
	if cfg.Collective {
		return discover.Collective(ctx, cfg.InputRoot, opts)
	}
	return discover.PerEntry(ctx, cfg.InputRoot, opts)
}

// newScheduler selects the execution backend: the socket.io gateway when a
// URL is configured, the local executor otherwise.
func (a *App) newScheduler(ctx context.Context) (scheduler.Scheduler, func(), error) {
	cfg := a.config
	if cfg.GatewayURL != "" {
		client, err := gridlink.Dial(ctx, cfg.GatewayURL, gridlink.Options{})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to scheduler gateway: %w", err)
		}
		return client, client.Close, nil
	}
	return localexec.New(cfg.Runtime), func() {}, nil
}
