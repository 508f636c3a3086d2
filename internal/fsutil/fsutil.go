// Package fsutil provides file system utility functions shared by the
// discovery, manifest and aggregation layers.
package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FindFilesByExtension recursively searches the given root path for all files
// ending with the specified extension. It returns a slice of their full paths
// in deterministic (lexical walk) order.
func FindFilesByExtension(rootPath string, extension string) ([]string, error) {
	if extension == "" {
		panic("extension must not be empty")
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), extension) {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}

// ListDir returns the immediate entries of dir sorted by name. Unlike
// os.ReadDir it resolves each entry to its absolute path.
func ListDir(dir string) ([]string, []fs.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	// os.ReadDir already sorts by filename; keep an explicit sort so the
	// ordering contract does not silently depend on that implementation detail.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		abs, err := filepath.Abs(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, nil, err
		}
		paths = append(paths, abs)
	}
	return paths, entries, nil
}

// EnsureDir creates dir (and parents) if absent. It is idempotent and never
// fails because the directory already exists.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// CopyFile copies a single regular file, preserving its permission bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyTree recursively copies src (a file or directory) to dst.
func CopyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return CopyFile(src, dst)
	}

	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := CopyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// MoveTree moves src to dst. It tries an atomic rename first and falls back
// to copy-and-remove when the rename fails (typically EXDEV across
// filesystems, which is common between scratch and result storage).
func MoveTree(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyTree(src, dst); err != nil {
		return fmt.Errorf("move %s -> %s: %w", src, dst, err)
	}
	return os.RemoveAll(src)
}
