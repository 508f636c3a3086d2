package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	return r
}

func writeTemplates(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestBuiltinTemplates(t *testing.T) {
	r := newTestRegistry(t)

	tpl, err := r.Get("fmriprep")
	require.NoError(t, err)
	assert.Equal(t, "poldracklab/fmriprep", tpl.Image)
	assert.Equal(t, "/bids", tpl.DataMount)
	assert.Equal(t, "/output", tpl.OutputMount)
	assert.Equal(t, "/opt/freesurfer/license.txt", tpl.LicenseMount)
	assert.Equal(t, "participant", tpl.DefaultLevel())
	assert.True(t, tpl.SupportsStaging(StagingShared))
	assert.True(t, tpl.SupportsStaging(StagingTransfer))
	assert.Equal(t, int64(8_000_000_000), tpl.MemoryBytes)
	assert.Equal(t, int64(32_000_000_000), tpl.MaxMemoryBytes)
}

func TestLoad(t *testing.T) {
	t.Run("registers user templates", func(t *testing.T) {
		dir := writeTemplates(t, map[string]string{
			"eager.hcl": `
template "eager" {
  image   = "apeltzer/eager-gui"
  args    = [data, "--config", subject]
  staging = ["shared"]
}
`,
		})
		r := newTestRegistry(t)
		require.NoError(t, r.Load(context.Background(), dir))

		tpl, err := r.Get("eager")
		require.NoError(t, err)
		assert.Equal(t, DefaultDataMount, tpl.DataMount, "mount defaults applied")
		assert.True(t, tpl.SupportsStaging(StagingShared))
		assert.False(t, tpl.SupportsStaging(StagingTransfer))
		assert.Contains(t, r.Names(), "fmriprep")
		assert.Contains(t, r.Names(), "eager")
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		dir := writeTemplates(t, map[string]string{
			"dup.hcl": `
template "fmriprep" {
  image = "someone/else"
  args  = [data]
}
`,
		})
		r := newTestRegistry(t)
		err := r.Load(context.Background(), dir)
		require.ErrorContains(t, err, "duplicate template")
	})

	t.Run("rejects unknown staging modes", func(t *testing.T) {
		dir := writeTemplates(t, map[string]string{
			"bad.hcl": `
template "bad" {
  image   = "x/y"
  args    = [data]
  staging = ["teleport"]
}
`,
		})
		r := newTestRegistry(t)
		err := r.Load(context.Background(), dir)
		require.ErrorContains(t, err, "unknown staging mode")
	})

	t.Run("rejects colliding mounts", func(t *testing.T) {
		dir := writeTemplates(t, map[string]string{
			"bad.hcl": `
template "bad" {
  image        = "x/y"
  args         = [data]
  data_mount   = "/same"
  output_mount = "/same"
}
`,
		})
		r := newTestRegistry(t)
		err := r.Load(context.Background(), dir)
		require.ErrorContains(t, err, "collide")
	})

	t.Run("rejects invalid HCL", func(t *testing.T) {
		dir := writeTemplates(t, map[string]string{"broken.hcl": `template "x" {`})
		r := newTestRegistry(t)
		require.Error(t, r.Load(context.Background(), dir))
	})

	t.Run("rejects unparseable sizes", func(t *testing.T) {
		dir := writeTemplates(t, map[string]string{
			"bad.hcl": `
template "bad" {
  image  = "x/y"
  args   = [data]
  memory = "lots"
}
`,
		})
		r := newTestRegistry(t)
		require.Error(t, r.Load(context.Background(), dir))
	})
}

func TestRenderArgs(t *testing.T) {
	r := newTestRegistry(t)
	tpl, err := r.Get("fmriprep")
	require.NoError(t, err)

	t.Run("substitutes per-unit variables", func(t *testing.T) {
		argv, err := tpl.RenderArgs(map[string]cty.Value{
			"data":    cty.StringVal("/bids"),
			"output":  cty.StringVal("/output"),
			"level":   cty.StringVal("participant"),
			"subject": cty.StringVal("01"),
			"license": cty.StringVal(""),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"/bids", "/output", "participant",
			"--participant_label", "01", "--no-submm-recon",
		}, argv)
	})

	t.Run("missing variable is an error", func(t *testing.T) {
		_, err := tpl.RenderArgs(map[string]cty.Value{"data": cty.StringVal("/bids")})
		require.Error(t, err)
	})

	t.Run("empty args are an error", func(t *testing.T) {
		dir := writeTemplates(t, map[string]string{
			"empty.hcl": `
template "empty" {
  image = "x/y"
  args  = []
}
`,
		})
		r := newTestRegistry(t)
		require.NoError(t, r.Load(context.Background(), dir))
		tpl, err := r.Get("empty")
		require.NoError(t, err)

		_, err = tpl.RenderArgs(nil)
		require.ErrorContains(t, err, "empty command line")
	})
}

func TestGetUnknown(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get("nope")
	require.ErrorContains(t, err, `unknown template "nope"`)
}
