package index

import (
	"linefind/internal/corpus"
)

// HashIndex is a map-backed set of corpus lines. Duplicate lines collapse.
type HashIndex struct {
	lines map[string]struct{}
}

// BuildHash reads the corpus at path into a HashIndex.
func BuildHash(path string) (Index, error) {
	lines := make(map[string]struct{})
	err := corpus.EachLine(path, func(line []byte) bool {
		lines[string(line)] = struct{}{}
		return true
	})
	if err != nil {
		return nil, err
	}
	return &HashIndex{lines: lines}, nil
}

func (h *HashIndex) Contains(q []byte) bool {
	// string(q) in a map lookup does not allocate.
	_, ok := h.lines[string(q)]
	return ok
}

func (h *HashIndex) Algorithm() string { return "hash" }
func (h *HashIndex) Len() int          { return len(h.lines) }
