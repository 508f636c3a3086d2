package discover

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree materializes a map of relative paths to file contents under a
// fresh temp dir. Entries ending in "/" become directories.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if len(name) > 0 && name[len(name)-1] == '/' {
			require.NoError(t, os.MkdirAll(path, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestPerEntry(t *testing.T) {
	t.Run("subjects and control files", func(t *testing.T) {
		root := writeTree(t, map[string]string{
			"sub-01/anat.nii":      "a",
			"sub-02/anat.nii":      "b",
			"sub-03/anat.nii":      "c",
			"sub-04/anat.nii":      "d",
			"sub-05/anat.nii":      "e",
			"dataset.json":         "{}",
			"participants.tsv":     "id",
			"README":               "not a control file",
			"CHANGES.txt":          "not a control file either",
		})

		units, err := PerEntry(context.Background(), root, Options{})
		require.NoError(t, err)
		require.Len(t, units, 5)

		for i, u := range units {
			assert.Len(t, u.ControlFiles, 2, "unit %d carries both control files", i)
			assert.Equal(t, filepath.Join(root, u.Name), u.Primary)
		}
		assert.Equal(t, "sub-01", units[0].Name)
		assert.Equal(t, "01", units[0].Label)
		assert.Equal(t, "sub-05", units[4].Name)
	})

	t.Run("deterministic order", func(t *testing.T) {
		root := writeTree(t, map[string]string{
			"sub-b/x": "", "sub-a/x": "", "sub-c/x": "",
		})
		first, err := PerEntry(context.Background(), root, Options{})
		require.NoError(t, err)
		second, err := PerEntry(context.Background(), root, Options{})
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, "sub-a", first[0].Name)
		assert.Equal(t, "sub-c", first[2].Name)
	})

	t.Run("top-level files are not units", func(t *testing.T) {
		root := writeTree(t, map[string]string{"stray.nii": ""})
		units, err := PerEntry(context.Background(), root, Options{})
		require.NoError(t, err)
		assert.Empty(t, units)
	})

	t.Run("empty root yields no units and no error", func(t *testing.T) {
		units, err := PerEntry(context.Background(), t.TempDir(), Options{})
		require.NoError(t, err)
		assert.Empty(t, units)
	})

	t.Run("missing root is an InvalidInputError", func(t *testing.T) {
		_, err := PerEntry(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{})
		var invalid *InvalidInputError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("file root is an InvalidInputError", func(t *testing.T) {
		root := writeTree(t, map[string]string{"f": ""})
		_, err := PerEntry(context.Background(), filepath.Join(root, "f"), Options{})
		var invalid *InvalidInputError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("repetitions get unique names", func(t *testing.T) {
		root := writeTree(t, map[string]string{"sub-01/x": ""})
		units, err := PerEntry(context.Background(), root, Options{Repeat: 3})
		require.NoError(t, err)
		require.Len(t, units, 3)
		assert.Equal(t, "sub-01", units[0].Name)
		assert.Equal(t, "sub-01-rep1", units[1].Name)
		assert.Equal(t, "sub-01-rep2", units[2].Name)
		assert.Equal(t, units[0].Primary, units[1].Primary)
	})

	t.Run("custom control suffixes", func(t *testing.T) {
		root := writeTree(t, map[string]string{
			"sub-01/cfg.xml": "",
			"design.xml":     "",
			"dataset.json":   "",
		})
		units, err := PerEntry(context.Background(), root, Options{ControlSuffixes: []string{".xml"}})
		require.NoError(t, err)
		require.Len(t, units, 1)
		require.Len(t, units[0].ControlFiles, 1)
		assert.Equal(t, "design.xml", filepath.Base(units[0].ControlFiles[0]))
	})
}

func TestCollective(t *testing.T) {
	t.Run("single unit covering the root", func(t *testing.T) {
		root := writeTree(t, map[string]string{"sub-01/x": "", "sub-02/x": ""})
		units, err := Collective(context.Background(), root, Options{})
		require.NoError(t, err)
		require.Len(t, units, 1)
		assert.Equal(t, filepath.Base(root), units[0].Name)
		abs, _ := filepath.Abs(root)
		assert.Equal(t, abs, units[0].Primary)
	})

	t.Run("missing root fails", func(t *testing.T) {
		_, err := Collective(context.Background(), "/does/not/exist", Options{})
		var invalid *InvalidInputError
		require.ErrorAs(t, err, &invalid)
	})
}
