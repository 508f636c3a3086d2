// Package chunk groups files into execution-sized units bounded by a
// cumulative byte limit.
package chunk

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/vk/gridfan/internal/ctxlog"
	"github.com/vk/gridfan/internal/discover"
	"github.com/vk/gridfan/internal/fsutil"
)

// File is one input file with its known size.
type File struct {
	Path string
	Size int64
}

// Chunk is a size-bounded group of files treated as one unit of work.
type Chunk struct {
	Files []File
	Total int64
}

// Plan packs files into chunks using first-fit greedy packing in input order:
// files accumulate into the current chunk while the running total stays
// within limit; a file that would exceed it closes the current chunk and
// starts the next one. A single file larger than the limit is emitted alone.
// The trailing partial chunk is emitted too, so no input file is ever
// dropped. The result is a pure function of (input order, limit), which is
// what makes re-submission of interrupted runs idempotent.
func Plan(files []File, limit int64) ([]Chunk, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("chunk limit must be positive, got %d", limit)
	}

	var chunks []Chunk
	var current Chunk
	for _, f := range files {
		if len(current.Files) > 0 && current.Total+f.Size > limit {
			chunks = append(chunks, current)
			current = Chunk{}
		}
		current.Files = append(current.Files, f)
		current.Total += f.Size
	}
	if len(current.Files) > 0 {
		chunks = append(chunks, current)
	}
	return chunks, nil
}

// ListFiles stats the immediate entries of root in deterministic order,
// returning regular files with their sizes. Subdirectories are skipped; the
// size-bounded strategy operates on flat file collections.
func ListFiles(root string) ([]File, error) {
	paths, entries, err := fsutil.ListDir(root)
	if err != nil {
		return nil, &discover.InvalidInputError{Path: root, Err: err}
	}

	var files []File
	for i, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		files = append(files, File{Path: paths[i], Size: info.Size()})
	}
	return files, nil
}

// Units adapts chunks into discovery units named chunk-0001, chunk-0002, …
// so they flow through staging and task building like any other unit.
func Units(ctx context.Context, chunks []Chunk) []discover.Unit {
	logger := ctxlog.FromContext(ctx)

	units := make([]discover.Unit, 0, len(chunks))
	for i, c := range chunks {
		name := fmt.Sprintf("chunk-%04d", i+1)
		paths := make([]string, 0, len(c.Files))
		for _, f := range c.Files {
			paths = append(paths, f.Path)
		}
		logger.Debug("Planned chunk.",
			"unit", name, "files", len(c.Files), "total", humanize.IBytes(uint64(c.Total)))
		units = append(units, discover.Unit{
			Name:  name,
			Label: name,
			Files: paths,
		})
	}
	return units
}
