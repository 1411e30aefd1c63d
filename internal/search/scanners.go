package search

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"slices"

	"linefind/internal/corpus"
	"linefind/internal/index"
)

// linearScan iterates the file line by line, returning on first equality.
func linearScan(ctx context.Context, path string, query []byte) (bool, error) {
	found := false
	err := corpus.EachLine(path, func(line []byte) bool {
		if bytes.Equal(line, query) {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// hashScan builds a throwaway set of the file's lines and probes it.
func hashScan(ctx context.Context, path string, query []byte) (bool, error) {
	lines := make(map[string]struct{})
	err := corpus.EachLine(path, func(line []byte) bool {
		lines[string(line)] = struct{}{}
		return true
	})
	if err != nil {
		return false, err
	}
	_, ok := lines[string(query)]
	return ok, nil
}

// mmapScan maps the file, scans its line records, and unmaps.
func mmapScan(ctx context.Context, path string, query []byte) (bool, error) {
	idx, err := index.BuildMmapScan(path)
	if err != nil {
		return false, err
	}
	defer func() {
		if c, ok := idx.(index.Closer); ok {
			_ = c.Close()
		}
	}()
	return idx.Contains(query), nil
}

// binaryScan sorts the file's lines (duplicates kept) and binary-searches
// them.
func binaryScan(ctx context.Context, path string, query []byte) (bool, error) {
	var lines []string
	err := corpus.EachLine(path, func(line []byte) bool {
		lines = append(lines, string(line))
		return true
	})
	if err != nil {
		return false, err
	}
	slices.Sort(lines)
	_, found := slices.BinarySearch(lines, string(query))
	return found, nil
}

// trieScan builds a throwaway trie of the file's lines and probes it.
func trieScan(ctx context.Context, path string, query []byte) (bool, error) {
	idx, err := index.BuildTrie(path)
	if err != nil {
		return false, err
	}
	return idx.Contains(query), nil
}

// shellGrep shells out to `grep -Fxq`. Queries that grep cannot express as
// an argument (empty, or containing NUL bytes) fall back to the linear
// scan; GNU and BSD grep disagree about empty fixed patterns, and argv
// strings cannot carry NULs.
func shellGrep(ctx context.Context, path string, query []byte) (bool, error) {
	if len(query) == 0 || bytes.IndexByte(query, 0) >= 0 {
		return linearScan(ctx, path, query)
	}

	cmd := exec.CommandContext(ctx, "grep", "-Fxq", string(query), path)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}
