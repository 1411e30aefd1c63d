package search

import (
	"context"

	"linefind/internal/corpus"
)

// The classic string matchers below exist for benchmark comparison. Each
// scans the file line by line and only runs its matcher against lines of
// the same length as the query, so "substring found" and "line equals
// query" coincide.

// kmpScan applies Knuth-Morris-Pratt to each equal-length line.
func kmpScan(ctx context.Context, path string, query []byte) (bool, error) {
	if len(query) == 0 {
		return hasEmptyLine(path)
	}
	prefix := kmpPrefixTable(query)
	found := false
	err := corpus.EachLine(path, func(line []byte) bool {
		if len(line) != len(query) {
			return true
		}
		if kmpMatch(line, query, prefix) {
			found = true
			return false
		}
		return true
	})
	return found, err
}

func kmpPrefixTable(pattern []byte) []int {
	table := make([]int, len(pattern))
	j := 0
	for i := 1; i < len(pattern); i++ {
		for j > 0 && pattern[i] != pattern[j] {
			j = table[j-1]
		}
		if pattern[i] == pattern[j] {
			j++
		}
		table[i] = j
	}
	return table
}

func kmpMatch(text, pattern []byte, prefix []int) bool {
	j := 0
	for i := 0; i < len(text); i++ {
		for j > 0 && text[i] != pattern[j] {
			j = prefix[j-1]
		}
		if text[i] == pattern[j] {
			j++
		}
		if j == len(pattern) {
			return true
		}
	}
	return false
}

// boyerMooreScan applies the bad-character rule to each equal-length line.
func boyerMooreScan(ctx context.Context, path string, query []byte) (bool, error) {
	if len(query) == 0 {
		return hasEmptyLine(path)
	}
	var skip [256]int
	for i := range skip {
		skip[i] = len(query)
	}
	for i := 0; i < len(query)-1; i++ {
		skip[query[i]] = len(query) - i - 1
	}
	found := false
	err := corpus.EachLine(path, func(line []byte) bool {
		if len(line) != len(query) {
			return true
		}
		if boyerMooreMatch(line, query, &skip) {
			found = true
			return false
		}
		return true
	})
	return found, err
}

func boyerMooreMatch(text, pattern []byte, skip *[256]int) bool {
	i := len(pattern) - 1
	for i < len(text) {
		j := len(pattern) - 1
		k := i
		for j >= 0 && text[k] == pattern[j] {
			j--
			k--
		}
		if j < 0 {
			return true
		}
		i += skip[text[i]]
	}
	return false
}

// rabinKarpScan hashes each equal-length line and confirms on collision.
func rabinKarpScan(ctx context.Context, path string, query []byte) (bool, error) {
	if len(query) == 0 {
		return hasEmptyLine(path)
	}
	qh := polyHash(query)
	found := false
	err := corpus.EachLine(path, func(line []byte) bool {
		if len(line) != len(query) {
			return true
		}
		if polyHash(line) == qh && string(line) == string(query) {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// polyHash is a simple polynomial rolling hash base.
func polyHash(b []byte) uint64 {
	const base = 257
	var h uint64
	for _, c := range b {
		h = h*base + uint64(c)
	}
	return h
}

// hasEmptyLine reports whether the file contains an empty line. The
// matchers special-case the empty query because a zero-length pattern has
// no characters to align.
func hasEmptyLine(path string) (bool, error) {
	found := false
	err := corpus.EachLine(path, func(line []byte) bool {
		if len(line) == 0 {
			found = true
			return false
		}
		return true
	})
	return found, err
}
