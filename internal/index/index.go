// Package index provides interchangeable membership oracles over a corpus.
//
// Every variant implements the same contract: Contains reports whether the
// normalized query equals some corpus line byte-for-byte. Indices are
// immutable after Build and safe for concurrent readers without locking.
package index

import (
	"fmt"
)

// Index answers exact line-membership queries. Implementations are
// immutable once built and may be shared across worker goroutines.
type Index interface {
	// Contains reports whether q equals some corpus line byte-for-byte.
	// q must already be normalized (see corpus.NormalizeQuery).
	Contains(q []byte) bool

	// Algorithm names the variant for log records (e.g. "hash").
	Algorithm() string

	// Len is the number of distinct entries (or raw line records for the
	// scan variant). Logged once after build.
	Len() int
}

// Closer is implemented by indices holding OS resources (the mmap scan
// variant). The supervisor closes these on shutdown.
type Closer interface {
	Close() error
}

// Builder constructs an Index from the corpus file at path.
type Builder func(path string) (Index, error)

// Option selects the prebuilt structure, matching the --buffer flag.
type Option int

const (
	OptionNativeSet Option = 0 // open-addressing probe table
	OptionHash      Option = 1 // built-in map set
	OptionTrie      Option = 2 // byte trie
	OptionMmapScan  Option = 3 // memory map + line record scan
)

// ForOption returns the Builder for a --buffer option.
func ForOption(opt Option) (Builder, error) {
	switch opt {
	case OptionNativeSet:
		return BuildNativeSet, nil
	case OptionHash:
		return BuildHash, nil
	case OptionTrie:
		return BuildTrie, nil
	case OptionMmapScan:
		return BuildMmapScan, nil
	}
	return nil, fmt.Errorf("unknown buffer option %d", int(opt))
}

// ForAlgorithm returns the Builder for an algorithm display name in
// preloaded mode. Structural algorithms map to their structure; the
// scanning algorithms all resolve to the mmap scan, which is what a
// per-query scan degenerates to once the corpus is resident.
func ForAlgorithm(name string) (Builder, error) {
	switch name {
	case "Hash Set":
		return BuildHash, nil
	case "Trie Search":
		return BuildTrie, nil
	case "Binary Search":
		return BuildSorted, nil
	case "Linear Search", "Memory Mapped Search", "Shell Grep",
		"KMP Search", "Boyer Moore Search", "Rabin Karp Search":
		return BuildMmapScan, nil
	}
	return nil, fmt.Errorf("unknown algorithm %q", name)
}
