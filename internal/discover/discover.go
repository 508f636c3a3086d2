package discover

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/gridfan/internal/ctxlog"
	"github.com/vk/gridfan/internal/fsutil"
)

// DefaultControlSuffixes are the sidecar formats collected from the top level
// of the input root and attached to every unit.
var DefaultControlSuffixes = []string{".json", ".tsv"}

// Unit is one item of work. It is immutable once discovered.
type Unit struct {
	// Name uniquely identifies the unit within a run. It doubles as the
	// per-unit staging directory name and the aggregation namespace.
	Name string

	// Label is the participant label handed to the containerized app. It is
	// the directory basename with a leading "sub-"/"sub_" prefix stripped.
	Label string

	// Primary is the unit's primary data location (file or directory).
	// Empty for chunked file groups, which carry Files instead.
	Primary string

	// Files is the file group for size-bounded workloads.
	Files []string

	// ControlFiles are shared auxiliary inputs common to all units.
	ControlFiles []string
}

// InvalidInputError reports a missing or unusable input root.
type InvalidInputError struct {
	Path string
	Err  error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input root %q: %v", e.Path, e.Err)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// Options controls discovery behavior.
type Options struct {
	// ControlSuffixes overrides DefaultControlSuffixes when non-nil.
	ControlSuffixes []string

	// Repeat duplicates every discovered unit Repeat times. Values below 1
	// are treated as 1. Repetitions get distinct names ("{name}-rep{i}") so
	// unit identifiers stay unique within the run.
	Repeat int
}

func (o Options) suffixes() []string {
	if o.ControlSuffixes != nil {
		return o.ControlSuffixes
	}
	return DefaultControlSuffixes
}

// PerEntry treats every immediate subdirectory of root as one unit. Top-level
// files matching the control-file suffix set are collected once and attached
// to every unit as shared auxiliary inputs, not treated as units themselves.
// A missing root is an InvalidInputError; an empty root yields no units and
// no error.
func PerEntry(ctx context.Context, root string, opts Options) ([]Unit, error) {
	logger := ctxlog.FromContext(ctx)

	if err := checkRoot(root); err != nil {
		return nil, err
	}

	paths, entries, err := fsutil.ListDir(root)
	if err != nil {
		return nil, &InvalidInputError{Path: root, Err: err}
	}

	var controls []string
	var subjects []string
	for i, entry := range entries {
		switch {
		case entry.IsDir():
			subjects = append(subjects, paths[i])
		case hasAnySuffix(entry.Name(), opts.suffixes()):
			controls = append(controls, paths[i])
		}
	}
	logger.Debug("Scanned input root.",
		"root", root, "subjects", len(subjects), "control_files", len(controls))

	units := make([]Unit, 0, len(subjects))
	for _, subject := range subjects {
		base := filepath.Base(subject)
		units = append(units, Unit{
			Name:         base,
			Label:        participantLabel(base),
			Primary:      subject,
			ControlFiles: controls,
		})
	}

	return repeat(units, opts.Repeat), nil
}

// Collective treats the entire input root as a single unit, used for
// whole-dataset and group-level analyses.
func Collective(ctx context.Context, root string, opts Options) ([]Unit, error) {
	if err := checkRoot(root); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &InvalidInputError{Path: root, Err: err}
	}

	base := filepath.Base(abs)
	unit := Unit{
		Name:    base,
		Label:   participantLabel(base),
		Primary: abs,
	}
	ctxlog.FromContext(ctx).Debug("Collective discovery produced a single unit.", "unit", unit.Name)
	return repeat([]Unit{unit}, opts.Repeat), nil
}

func checkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return &InvalidInputError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return &InvalidInputError{Path: root, Err: fmt.Errorf("not a directory")}
	}
	return nil
}

func hasAnySuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// participantLabel strips the BIDS-style subject prefix; apps expect the
// label without it.
func participantLabel(name string) string {
	if strings.HasPrefix(name, "sub-") || strings.HasPrefix(name, "sub_") {
		return name[4:]
	}
	return name
}

func repeat(units []Unit, n int) []Unit {
	if n <= 1 {
		return units
	}
	out := make([]Unit, 0, len(units)*n)
	for _, u := range units {
		out = append(out, u)
		for i := 1; i < n; i++ {
			rep := u
			rep.Name = fmt.Sprintf("%s-rep%d", u.Name, i)
			out = append(out, rep)
		}
	}
	return out
}
