package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFiles lays out a directory tree from a map of relative path to content.
func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestFindFilesByExtension(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.hcl":        "",
		"nested/b.hcl": "",
		"nested/c.txt": "",
	})

	files, err := FindFilesByExtension(root, ".hcl")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(root, "a.hcl"), files[0])
	assert.Equal(t, filepath.Join(root, "nested", "b.hcl"), files[1])
}

func TestListDir(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"beta.txt":  "",
		"alpha.txt": "",
	})
	require.NoError(t, os.Mkdir(filepath.Join(root, "gamma"), 0o755))

	paths, entries, err := ListDir(root)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	assert.Equal(t, "alpha.txt", entries[0].Name())
	assert.Equal(t, "beta.txt", entries[1].Name())
	assert.Equal(t, "gamma", entries[2].Name())
	assert.True(t, filepath.IsAbs(paths[0]))
	assert.True(t, entries[2].IsDir())
}

func TestEnsureDirIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCopyFilePreservesPermissions(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "script.sh")
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\n"), 0o755))

	dst := filepath.Join(root, "copy.sh")
	require.NoError(t, CopyFile(src, dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(content))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{
		"top.txt":          "top",
		"nested/inner.txt": "inner",
	})

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, CopyTree(src, dst))

	content, err := os.ReadFile(filepath.Join(dst, "nested", "inner.txt"))
	require.NoError(t, err)
	assert.Equal(t, "inner", string(content))

	// Source is untouched.
	_, err = os.Stat(filepath.Join(src, "top.txt"))
	assert.NoError(t, err)
}

func TestMoveTree(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"nested/inner.txt": "inner"})

	dst := filepath.Join(t.TempDir(), "moved")
	require.NoError(t, MoveTree(src, dst))

	content, err := os.ReadFile(filepath.Join(dst, "nested", "inner.txt"))
	require.NoError(t, err)
	assert.Equal(t, "inner", string(content))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source removed after move")
}
