package manifest

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/gridfan/internal/ctxlog"
	"github.com/vk/gridfan/internal/fsutil"
)

// builtinTemplates mirror the invocations the old per-tool scripts hardcoded,
// so the engine works out of the box without a templates directory.
const builtinTemplates = `
template "fmriprep" {
  image   = "poldracklab/fmriprep"
  args    = [data, output, level, "--participant_label", subject, "--no-submm-recon"]
  levels  = ["participant", "group"]
  staging = ["shared", "transfer"]

  data_mount    = "/bids"
  output_mount  = "/output"
  license_mount = "/opt/freesurfer/license.txt"

  memory     = "8GB"
  max_memory = "32GB"
}
`

// Registry holds the task templates known to one application instance.
type Registry struct {
	templates map[string]*Template
}

// NewRegistry creates a registry pre-populated with the built-in templates.
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: make(map[string]*Template)}
	if err := r.parse("<builtin>", []byte(builtinTemplates)); err != nil {
		return nil, fmt.Errorf("builtin templates: %w", err)
	}
	return r, nil
}

// Load parses every *.hcl file under dir and registers the templates found.
// User templates may not redefine an already registered name.
func (r *Registry) Load(ctx context.Context, dir string) error {
	logger := ctxlog.FromContext(ctx)

	files, err := fsutil.FindFilesByExtension(dir, ".hcl")
	if err != nil {
		return fmt.Errorf("scanning templates dir %s: %w", dir, err)
	}
	for _, file := range files {
		if err := r.parseFile(file); err != nil {
			return err
		}
	}
	logger.Debug("Templates loaded.", "dir", dir, "files", len(files), "templates", len(r.templates))
	return nil
}

func (r *Registry) parseFile(path string) error {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("parsing template file %s: %w", path, diags)
	}

	var parsed templateFile
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &parsed); diags.HasErrors() {
		return fmt.Errorf("decoding template file %s: %w", path, diags)
	}
	return r.register(parsed.Templates)
}

func (r *Registry) parse(name string, src []byte) error {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, name)
	if diags.HasErrors() {
		return fmt.Errorf("parsing %s: %w", name, diags)
	}

	var parsed templateFile
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &parsed); diags.HasErrors() {
		return fmt.Errorf("decoding %s: %w", name, diags)
	}
	return r.register(parsed.Templates)
}

func (r *Registry) register(blocks []*templateBlock) error {
	for _, block := range blocks {
		tpl, err := newTemplate(block)
		if err != nil {
			return err
		}
		if _, exists := r.templates[tpl.Name]; exists {
			return fmt.Errorf("duplicate template %q", tpl.Name)
		}
		r.templates[tpl.Name] = tpl
	}
	return nil
}

// Get returns the named template, or an error listing the known names.
func (r *Registry) Get(name string) (*Template, error) {
	if tpl, ok := r.templates[name]; ok {
		return tpl, nil
	}
	return nil, fmt.Errorf("unknown template %q (known: %v)", name, r.Names())
}

// Names returns the registered template names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
