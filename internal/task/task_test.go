package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridfan/internal/discover"
	"github.com/vk/gridfan/internal/manifest"
	"github.com/vk/gridfan/internal/staging"
)

func fmriprep(t *testing.T) *manifest.Template {
	t.Helper()
	r, err := manifest.NewRegistry()
	require.NoError(t, err)
	tpl, err := r.Get("fmriprep")
	require.NoError(t, err)
	return tpl
}

func TestNewBuilder(t *testing.T) {
	t.Run("explicit memory wins", func(t *testing.T) {
		b, err := NewBuilder(fmriprep(t), 1<<30)
		require.NoError(t, err)
		assert.Equal(t, int64(1<<30), b.InitialMemory())
	})

	t.Run("falls back to template default", func(t *testing.T) {
		b, err := NewBuilder(fmriprep(t), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(8_000_000_000), b.InitialMemory())
	})
}

func TestBuildAndRebuild(t *testing.T) {
	b, err := NewBuilder(fmriprep(t), 8_000_000_000)
	require.NoError(t, err)

	unit := discover.Unit{Name: "sub-01", Label: "01", Primary: "/ds/sub-01"}
	plan := &staging.Plan{
		Unit: unit,
		Mode: staging.ModeShared,
		Bindings: []staging.Binding{
			{Host: "/ds/sub-01", Container: "/bids", Mode: staging.ReadOnly},
			{Host: "/out/sub-01", Container: "/output", Mode: staging.ReadWrite},
		},
		OutputDir: "/out/sub-01",
	}
	argv := []string{"/bids", "/output", "participant"}

	spec := b.Build(unit, plan, argv)
	assert.Equal(t, "sub-01", spec.Unit)
	assert.NotEmpty(t, spec.Attempt)
	assert.Equal(t, "poldracklab/fmriprep", spec.Image)
	assert.Equal(t, argv, spec.Argv)
	assert.Equal(t, plan.Bindings, spec.Bindings)
	assert.Equal(t, int64(8_000_000_000), spec.MemoryBytes)
	assert.Equal(t, "/out/sub-01", spec.OutputDir)

	retry := b.Rebuild(spec, 16_000_000_000)
	assert.Equal(t, spec.Unit, retry.Unit)
	assert.NotEqual(t, spec.Attempt, retry.Attempt, "retries get fresh attempt ids")
	assert.Equal(t, int64(16_000_000_000), retry.MemoryBytes)
	assert.Equal(t, spec.Argv, retry.Argv)
	assert.Equal(t, spec.Bindings, retry.Bindings)
}
