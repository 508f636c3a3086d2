package staging

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/vk/gridfan/internal/ctxlog"
	"github.com/vk/gridfan/internal/discover"
	"github.com/vk/gridfan/internal/fsutil"
	"github.com/vk/gridfan/internal/manifest"
	"github.com/zclconf/go-cty/cty"
)

// Mode selects how a unit's data reaches the execution side.
type Mode string

const (
	// ModeShared mounts host paths directly; no data copy is planned.
	ModeShared Mode = manifest.StagingShared
	// ModeTransfer declares inputs for copy to a canonical staging location
	// and the output directory for copy back after execution.
	ModeTransfer Mode = manifest.StagingTransfer
)

// BindMode tags a binding read-only or read-write.
type BindMode string

const (
	ReadOnly  BindMode = "ro"
	ReadWrite BindMode = "rw"
)

// Canonical staging-side directory names used in transfer mode. These are
// names on the execution side, never host paths.
const (
	stageDataDir   = "data"
	stageOutputDir = "output"
	stageLicense   = "license.txt"
)

// Binding maps one host (or staging-side) path into the container.
type Binding struct {
	Host      string
	Container string
	Mode      BindMode
}

// Plan is the staging decision for one unit.
type Plan struct {
	Unit discover.Unit
	Mode Mode

	// Bindings is the ordered mount set. Container paths are pairwise
	// distinct; this is validated at plan time.
	Bindings []Binding

	// Inputs maps host paths to their canonical staging-side destinations.
	// Only populated in transfer mode.
	Inputs map[string]string

	// Outputs lists staging-side paths copied back after execution. Only
	// populated in transfer mode.
	Outputs []string

	// OutputDir is the host directory where the unit's results end up.
	OutputDir string
}

// StagingError reports a malformed mount plan, typically two required
// bindings resolving to the same in-container path.
type StagingError struct {
	Unit      string
	Container string
	Hosts     []string
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging unit %q: container path %q claimed by %v", e.Unit, e.Container, e.Hosts)
}

// Planner turns units into staging plans and rendered invocations.
type Planner struct {
	tpl     *manifest.Template
	mode    Mode
	level   string
	outRoot string
	license string
}

// NewPlanner validates the run configuration against the template. license
// may be empty; level defaults to the template's first declared level.
func NewPlanner(tpl *manifest.Template, mode Mode, outputRoot, license, level string) (*Planner, error) {
	if !tpl.SupportsStaging(string(mode)) {
		return nil, fmt.Errorf("template %q does not support staging mode %q", tpl.Name, mode)
	}
	if level == "" {
		level = tpl.DefaultLevel()
	} else if !tpl.HasLevel(level) {
		return nil, fmt.Errorf("template %q does not define analysis level %q (known: %v)", tpl.Name, level, tpl.Levels)
	}
	return &Planner{
		tpl:     tpl,
		mode:    mode,
		level:   level,
		outRoot: outputRoot,
		license: license,
	}, nil
}

// Plan produces the staging plan and rendered argv for one unit. The per-unit
// output directory is created if absent.
func (p *Planner) Plan(ctx context.Context, unit discover.Unit) (*Plan, []string, error) {
	outputDir := filepath.Join(p.outRoot, unit.Name)
	if err := fsutil.EnsureDir(outputDir); err != nil {
		return nil, nil, fmt.Errorf("staging unit %q: creating output dir: %w", unit.Name, err)
	}

	plan := &Plan{Unit: unit, Mode: p.mode, OutputDir: outputDir}

	switch p.mode {
	case ModeShared:
		p.planShared(plan, unit, outputDir)
	case ModeTransfer:
		p.planTransfer(plan, unit, outputDir)
	default:
		return nil, nil, fmt.Errorf("staging unit %q: unknown mode %q", unit.Name, p.mode)
	}

	if err := checkCollisions(plan); err != nil {
		return nil, nil, err
	}

	argv, err := p.tpl.RenderArgs(p.renderVars(unit))
	if err != nil {
		return nil, nil, fmt.Errorf("staging unit %q: %w", unit.Name, err)
	}

	ctxlog.FromContext(ctx).Debug("Staging plan ready.",
		"unit", unit.Name, "mode", p.mode, "bindings", len(plan.Bindings), "argv", argv)
	return plan, argv, nil
}

// planShared mounts host paths in place under the template's canonical
// container paths. A per-entry unit's primary directory sits next to its
// control files under the data mount, so the container sees the same layout
// the dataset root has.
func (p *Planner) planShared(plan *Plan, unit discover.Unit, outputDir string) {
	if unit.Primary != "" {
		container := p.tpl.DataMount
		if len(unit.ControlFiles) > 0 {
			// Dataset root layout: the subject dir keeps its basename.
			container = path.Join(p.tpl.DataMount, filepath.Base(unit.Primary))
		}
		plan.Bindings = append(plan.Bindings, Binding{Host: unit.Primary, Container: container, Mode: ReadOnly})
	}
	for _, f := range unit.Files {
		plan.Bindings = append(plan.Bindings, Binding{
			Host:      f,
			Container: path.Join(p.tpl.DataMount, filepath.Base(f)),
			Mode:      ReadOnly,
		})
	}
	for _, ctrl := range unit.ControlFiles {
		plan.Bindings = append(plan.Bindings, Binding{
			Host:      ctrl,
			Container: path.Join(p.tpl.DataMount, filepath.Base(ctrl)),
			Mode:      ReadOnly,
		})
	}

	plan.Bindings = append(plan.Bindings, Binding{Host: outputDir, Container: p.tpl.OutputMount, Mode: ReadWrite})
	p.addLicense(plan, p.license)
}

// planTransfer declares input copies into the canonical staging layout and
// binds the staging directories, not the original host paths.
func (p *Planner) planTransfer(plan *Plan, unit discover.Unit, outputDir string) {
	plan.Inputs = make(map[string]string)

	if unit.Primary != "" {
		dest := stageDataDir
		if len(unit.ControlFiles) > 0 {
			dest = path.Join(stageDataDir, filepath.Base(unit.Primary))
		}
		plan.Inputs[unit.Primary] = dest
	}
	for _, f := range unit.Files {
		plan.Inputs[f] = path.Join(stageDataDir, filepath.Base(f))
	}
	for _, ctrl := range unit.ControlFiles {
		plan.Inputs[ctrl] = path.Join(stageDataDir, filepath.Base(ctrl))
	}

	plan.Bindings = append(plan.Bindings,
		Binding{Host: stageDataDir, Container: p.tpl.DataMount, Mode: ReadOnly},
		Binding{Host: stageOutputDir, Container: p.tpl.OutputMount, Mode: ReadWrite},
	)
	plan.Outputs = []string{stageOutputDir}

	if p.license != "" {
		plan.Inputs[p.license] = stageLicense
		plan.Bindings = append(plan.Bindings, Binding{Host: stageLicense, Container: p.tpl.LicenseMount, Mode: ReadOnly})
	}
}

// addLicense adds exactly one read-only binding for the optional credential
// file; without it no binding is added at all.
func (p *Planner) addLicense(plan *Plan, license string) {
	if license == "" {
		return
	}
	plan.Bindings = append(plan.Bindings, Binding{Host: license, Container: p.tpl.LicenseMount, Mode: ReadOnly})
}

func (p *Planner) renderVars(unit discover.Unit) map[string]cty.Value {
	licenseMount := ""
	if p.license != "" {
		licenseMount = p.tpl.LicenseMount
	}
	return map[string]cty.Value{
		"data":    cty.StringVal(p.tpl.DataMount),
		"output":  cty.StringVal(p.tpl.OutputMount),
		"subject": cty.StringVal(unit.Label),
		"level":   cty.StringVal(p.level),
		"license": cty.StringVal(licenseMount),
	}
}

// checkCollisions rejects plans where two bindings claim the same container
// path or two transfer inputs claim the same staging destination. Silently
// overwriting one binding with another is never acceptable.
func checkCollisions(plan *Plan) error {
	byContainer := make(map[string][]string, len(plan.Bindings))
	for _, b := range plan.Bindings {
		byContainer[b.Container] = append(byContainer[b.Container], b.Host)
	}
	for container, hosts := range byContainer {
		if len(hosts) > 1 {
			return &StagingError{Unit: plan.Unit.Name, Container: container, Hosts: hosts}
		}
	}

	byDest := make(map[string][]string, len(plan.Inputs))
	for host, dest := range plan.Inputs {
		byDest[dest] = append(byDest[dest], host)
	}
	for dest, hosts := range byDest {
		if len(hosts) > 1 {
			return &StagingError{Unit: plan.Unit.Name, Container: dest, Hosts: hosts}
		}
	}
	return nil
}
