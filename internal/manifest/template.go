package manifest

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Staging mode names accepted in a template's `staging` list.
const (
	StagingShared   = "shared"
	StagingTransfer = "transfer"
)

// Default canonical in-container mount points.
const (
	DefaultDataMount   = "/data"
	DefaultOutputMount = "/output"
)

// Template is one validated task template.
type Template struct {
	Name  string
	Image string

	// Levels are the analysis levels the app accepts (e.g. participant,
	// group). Empty means the app has no level argument.
	Levels []string

	// Staging lists the staging modes the template supports.
	Staging []string

	DataMount    string
	OutputMount  string
	LicenseMount string

	// MemoryBytes and MaxMemoryBytes are the template's resource defaults;
	// zero means "not specified, use the run-level setting".
	MemoryBytes    int64
	MaxMemoryBytes int64

	args hcl.Expression
}

// newTemplate validates a decoded block into a Template.
func newTemplate(block *templateBlock) (*Template, error) {
	t := &Template{
		Name:         block.Name,
		Image:        block.Image,
		Levels:       block.Levels,
		Staging:      block.Staging,
		DataMount:    block.DataMount,
		OutputMount:  block.OutputMount,
		LicenseMount: block.LicenseMount,
		args:         block.Args,
	}

	if t.Image == "" {
		return nil, fmt.Errorf("template %q: image must not be empty", t.Name)
	}
	if t.DataMount == "" {
		t.DataMount = DefaultDataMount
	}
	if t.OutputMount == "" {
		t.OutputMount = DefaultOutputMount
	}
	if len(t.Staging) == 0 {
		t.Staging = []string{StagingShared, StagingTransfer}
	}
	for _, mode := range t.Staging {
		if mode != StagingShared && mode != StagingTransfer {
			return nil, fmt.Errorf("template %q: unknown staging mode %q", t.Name, mode)
		}
	}
	if t.DataMount == t.OutputMount {
		return nil, fmt.Errorf("template %q: data_mount and output_mount collide on %q", t.Name, t.DataMount)
	}

	var err error
	if t.MemoryBytes, err = parseSize(block.Memory); err != nil {
		return nil, fmt.Errorf("template %q: memory: %w", t.Name, err)
	}
	if t.MaxMemoryBytes, err = parseSize(block.MaxMemory); err != nil {
		return nil, fmt.Errorf("template %q: max_memory: %w", t.Name, err)
	}

	return t, nil
}

func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// SupportsStaging reports whether the template allows the given staging mode.
func (t *Template) SupportsStaging(mode string) bool {
	for _, m := range t.Staging {
		if m == mode {
			return true
		}
	}
	return false
}

// DefaultLevel returns the first declared analysis level, or "".
func (t *Template) DefaultLevel() string {
	if len(t.Levels) == 0 {
		return ""
	}
	return t.Levels[0]
}

// HasLevel reports whether level is one of the template's declared levels.
func (t *Template) HasLevel(level string) bool {
	for _, l := range t.Levels {
		if l == level {
			return true
		}
	}
	return false
}

// RenderArgs evaluates the template's argument list against the per-unit
// variables supplied by the staging planner. The expression must evaluate to
// a list of strings.
func (t *Template) RenderArgs(vars map[string]cty.Value) ([]string, error) {
	evalCtx := &hcl.EvalContext{Variables: vars}
	val, diags := t.args.Value(evalCtx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("template %q: evaluating args: %w", t.Name, diags)
	}

	if !val.Type().IsTupleType() && !val.Type().IsListType() {
		return nil, fmt.Errorf("template %q: args must be a list of strings, got %s", t.Name, val.Type().FriendlyName())
	}

	var argv []string
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		if elem.Type() != cty.String || elem.IsNull() {
			return nil, fmt.Errorf("template %q: args element is not a string", t.Name)
		}
		argv = append(argv, elem.AsString())
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("template %q: args rendered an empty command line", t.Name)
	}
	return argv, nil
}
