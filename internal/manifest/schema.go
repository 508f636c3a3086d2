package manifest

import (
	"github.com/hashicorp/hcl/v2"
)

// templateBlock is the raw HCL shape of a `template` block.
type templateBlock struct {
	Name string `hcl:"name,label"`

	Image string `hcl:"image"`

	// Args stays an unevaluated expression so templates can interpolate the
	// per-unit variables (data, output, subject, level, license) that only
	// exist at staging time.
	Args hcl.Expression `hcl:"args"`

	Levels       []string `hcl:"levels,optional"`
	Staging      []string `hcl:"staging,optional"`
	DataMount    string   `hcl:"data_mount,optional"`
	OutputMount  string   `hcl:"output_mount,optional"`
	LicenseMount string   `hcl:"license_mount,optional"`
	Memory       string   `hcl:"memory,optional"`
	MaxMemory    string   `hcl:"max_memory,optional"`
}

// templateFile is the top-level structure of a template manifest file.
type templateFile struct {
	Templates []*templateBlock `hcl:"template,block"`
}
