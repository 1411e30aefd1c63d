package index

import (
	"bytes"
	"os"

	"golang.org/x/sys/unix"

	"linefind/internal/corpus"
)

// MmapScanIndex memory-maps the corpus read-only and precomputes one
// (offset, length) record per line. Lookup is a linear scan with early
// exit. Duplicate lines are preserved in the record table; they are
// irrelevant to membership.
//
// The mapping is shared read-only across all workers; the OS page cache
// handles concurrency. Close must be called once on shutdown.
type MmapScanIndex struct {
	data []byte
	recs []lineRec
}

type lineRec struct {
	off int
	n   int
}

// BuildMmapScan maps the corpus at path and scans it once for line
// boundaries. An empty file yields an index with no records and no
// mapping (zero-length files cannot be mapped).
func BuildMmapScan(path string) (Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &corpus.Error{Path: path, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &corpus.Error{Path: path, Err: err}
	}
	size := int(fi.Size())
	if size == 0 {
		return &MmapScanIndex{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, &corpus.Error{Path: path, Err: err}
	}

	idx := &MmapScanIndex{data: data}
	start := 0
	for i, b := range data {
		if b != '\n' {
			continue
		}
		end := i
		if end > start && data[end-1] == '\r' {
			end--
		}
		idx.recs = append(idx.recs, lineRec{off: start, n: end - start})
		start = i + 1
	}
	if start < size {
		// final fragment without a terminator is still a line
		idx.recs = append(idx.recs, lineRec{off: start, n: size - start})
	}
	return idx, nil
}

func (m *MmapScanIndex) Contains(q []byte) bool {
	for _, r := range m.recs {
		if r.n != len(q) {
			continue
		}
		if bytes.Equal(m.data[r.off:r.off+r.n], q) {
			return true
		}
	}
	return false
}

func (m *MmapScanIndex) Algorithm() string { return "mmap-scan" }
func (m *MmapScanIndex) Len() int          { return len(m.recs) }

// Close unmaps the corpus. The index must not be used afterwards.
func (m *MmapScanIndex) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	m.recs = nil
	return unix.Munmap(data)
}
