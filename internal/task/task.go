// Package task builds the task descriptions handed to the external execution
// framework: one unit's staging plan, rendered argv and declared resources.
package task

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/vk/gridfan/internal/discover"
	"github.com/vk/gridfan/internal/manifest"
	"github.com/vk/gridfan/internal/staging"
)

// Spec is one submission of one unit. Retries of the same unit produce new
// Specs with fresh Attempt identifiers; a unit never has two Specs
// outstanding at the same time.
type Spec struct {
	Unit    string
	Attempt string

	Image string
	Argv  []string

	Bindings []staging.Binding
	Inputs   map[string]string
	Outputs  []string

	MemoryBytes int64
	OutputDir   string
}

// Builder combines units, staging plans and template resource defaults into
// Specs.
type Builder struct {
	tpl *manifest.Template

	// memory is the initial request; zero falls back to the template default.
	memory int64
}

// NewBuilder returns a Builder for the given template. initialMemory of zero
// uses the template's declared default.
func NewBuilder(tpl *manifest.Template, initialMemory int64) (*Builder, error) {
	if initialMemory == 0 {
		initialMemory = tpl.MemoryBytes
	}
	if initialMemory <= 0 {
		return nil, fmt.Errorf("template %q declares no memory default and none was given", tpl.Name)
	}
	return &Builder{tpl: tpl, memory: initialMemory}, nil
}

// InitialMemory is the memory request new units start with.
func (b *Builder) InitialMemory() int64 { return b.memory }

// Build creates the first Spec for a unit from its staging plan.
func (b *Builder) Build(unit discover.Unit, plan *staging.Plan, argv []string) *Spec {
	return b.build(unit.Name, plan, argv, b.memory)
}

// Rebuild derives the escalated Spec for the same unit: a fresh attempt
// identifier and an updated memory request, everything else unchanged.
func (b *Builder) Rebuild(prev *Spec, memoryBytes int64) *Spec {
	next := *prev
	next.Attempt = uuid.NewString()
	next.MemoryBytes = memoryBytes
	return &next
}

func (b *Builder) build(unit string, plan *staging.Plan, argv []string, memory int64) *Spec {
	return &Spec{
		Unit:        unit,
		Attempt:     uuid.NewString(),
		Image:       b.tpl.Image,
		Argv:        argv,
		Bindings:    plan.Bindings,
		Inputs:      plan.Inputs,
		Outputs:     plan.Outputs,
		MemoryBytes: memory,
		OutputDir:   plan.OutputDir,
	}
}
