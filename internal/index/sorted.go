package index

import (
	"slices"

	"linefind/internal/corpus"
)

// SortedIndex stores unique corpus lines sorted lexicographically by byte
// value and answers lookups by binary search.
type SortedIndex struct {
	lines []string
}

// BuildSorted reads the corpus at path into a SortedIndex.
func BuildSorted(path string) (Index, error) {
	var lines []string
	err := corpus.EachLine(path, func(line []byte) bool {
		lines = append(lines, string(line))
		return true
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(lines)
	lines = slices.Compact(lines)
	return &SortedIndex{lines: lines}, nil
}

func (s *SortedIndex) Contains(q []byte) bool {
	_, found := slices.BinarySearch(s.lines, string(q))
	return found
}

func (s *SortedIndex) Algorithm() string { return "sorted" }
func (s *SortedIndex) Len() int          { return len(s.lines) }
