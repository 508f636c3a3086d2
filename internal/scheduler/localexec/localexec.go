// Package localexec is an in-process implementation of the scheduler
// boundary. It runs each task's container invocation on the local host,
// which is how development runs and the test suite execute tasks.
package localexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/vk/gridfan/internal/ctxlog"
	"github.com/vk/gridfan/internal/fsutil"
	"github.com/vk/gridfan/internal/lifecycle"
	"github.com/vk/gridfan/internal/scheduler"
	"github.com/vk/gridfan/internal/task"
)

// logName is the per-task log file collected next to the unit's results,
// mirroring the join=stdout+stderr convention of the old front-end scripts.
const logName = "gridfan.log"

// Executor runs tasks locally. The zero Runtime executes a task's argv
// directly; "docker" composes a docker run invocation from the spec's image
// and bindings.
type Executor struct {
	Runtime string

	mu      sync.Mutex
	pending map[scheduler.Handle]*outcome
}

type outcome struct {
	done   bool
	result *scheduler.Result
	err    error
}

// New returns an Executor using the given container runtime ("" or "docker").
func New(runtime string) *Executor {
	return &Executor{
		Runtime: runtime,
		pending: make(map[scheduler.Handle]*outcome),
	}
}

// Submit starts the task asynchronously and returns its handle.
func (e *Executor) Submit(ctx context.Context, spec *task.Spec) (scheduler.Handle, error) {
	handle := scheduler.Handle(uuid.NewString())

	e.mu.Lock()
	e.pending[handle] = &outcome{}
	e.mu.Unlock()

	go e.run(ctx, handle, spec)
	return handle, nil
}

// Poll reports the terminal result for a handle, or scheduler.ErrPending.
func (e *Executor) Poll(ctx context.Context, handle scheduler.Handle) (*scheduler.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.pending[handle]
	if !ok {
		return nil, &scheduler.ExternalSchedulerError{Op: "poll", Err: fmt.Errorf("unknown handle %q", handle)}
	}
	if !o.done {
		return nil, scheduler.ErrPending
	}
	return o.result, o.err
}

func (e *Executor) run(ctx context.Context, handle scheduler.Handle, spec *task.Spec) {
	logger := ctxlog.FromContext(ctx).With("unit", spec.Unit, "attempt", spec.Attempt)

	result, err := e.execute(ctx, spec)
	if err != nil {
		logger.Error("Local execution failed.", "error", err)
		err = &scheduler.ExternalSchedulerError{Unit: spec.Unit, Op: "execute", Err: err}
	} else {
		result.Handle = handle
		logger.Debug("Local execution terminated.", "exit_code", result.ExitCode)
	}

	e.mu.Lock()
	e.pending[handle] = &outcome{done: true, result: result, err: err}
	e.mu.Unlock()
}

func (e *Executor) execute(ctx context.Context, spec *task.Spec) (*scheduler.Result, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("task for unit %q has an empty argv", spec.Unit)
	}

	workDir := spec.OutputDir
	if len(spec.Inputs) > 0 {
		// Transfer mode: materialize the canonical staging layout first.
		staged, err := stageInputs(spec)
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(staged)
		workDir = staged
	}

	argv := spec.Argv
	if e.Runtime == "docker" {
		argv = dockerArgv(spec, workDir)
	}

	logFile, err := os.Create(filepath.Join(spec.OutputDir, logName))
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	exitCode := 0
	if err := cmd.Run(); err != nil {
		// A cancelled run kills the child with SIGKILL; report the
		// cancellation rather than letting it masquerade as an OOM kill.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, err
		}
		exitCode = exitStatus(exitErr)
	}

	if len(spec.Outputs) > 0 && workDir != spec.OutputDir {
		if err := collectOutputs(spec, workDir); err != nil {
			return nil, err
		}
	}

	return &scheduler.Result{
		Unit:      spec.Unit,
		Attempt:   spec.Attempt,
		ExitCode:  exitCode,
		OutputDir: spec.OutputDir,
	}, nil
}

// stageInputs copies the spec's declared inputs into a scratch directory laid
// out exactly as the canonical staging location the bindings reference.
func stageInputs(spec *task.Spec) (string, error) {
	staged, err := os.MkdirTemp("", "gridfan-stage-*")
	if err != nil {
		return "", err
	}
	for host, dest := range spec.Inputs {
		target := filepath.Join(staged, filepath.FromSlash(dest))
		if err := fsutil.EnsureDir(filepath.Dir(target)); err != nil {
			os.RemoveAll(staged)
			return "", err
		}
		if err := fsutil.CopyTree(host, target); err != nil {
			os.RemoveAll(staged)
			return "", fmt.Errorf("staging input %s: %w", host, err)
		}
	}
	for _, out := range spec.Outputs {
		if err := fsutil.EnsureDir(filepath.Join(staged, filepath.FromSlash(out))); err != nil {
			os.RemoveAll(staged)
			return "", err
		}
	}
	return staged, nil
}

// collectOutputs copies declared outputs back to the unit's output directory.
func collectOutputs(spec *task.Spec, workDir string) error {
	for _, out := range spec.Outputs {
		src := filepath.Join(workDir, filepath.FromSlash(out))
		entries, err := os.ReadDir(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, entry := range entries {
			if err := fsutil.CopyTree(filepath.Join(src, entry.Name()), filepath.Join(spec.OutputDir, entry.Name())); err != nil {
				return fmt.Errorf("collecting output %s: %w", entry.Name(), err)
			}
		}
	}
	return nil
}

// dockerArgv composes the docker run invocation from the spec's typed fields.
// Binding hosts in transfer mode are staging-relative and resolve against the
// staged work directory.
func dockerArgv(spec *task.Spec, workDir string) []string {
	argv := []string{"docker", "run", "-i", "--rm",
		"--memory", fmt.Sprintf("%d", spec.MemoryBytes)}
	for _, b := range spec.Bindings {
		host := b.Host
		if !filepath.IsAbs(host) {
			host = filepath.Join(workDir, host)
		}
		mount := fmt.Sprintf("%s:%s", host, b.Container)
		if b.Mode == "ro" {
			mount += ":ro"
		}
		argv = append(argv, "-v", mount)
	}
	argv = append(argv, spec.Image)
	return append(argv, spec.Argv...)
}

// exitStatus maps a SIGKILLed process to the conventional OOM sentinel the
// retry policy watches for; container runtimes report the same code.
func exitStatus(err *exec.ExitError) int {
	if ws, ok := err.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGKILL {
		return lifecycle.ExitOOM
	}
	return err.ExitCode()
}
