package index

import (
	"linefind/internal/corpus"
)

// TrieIndex is a byte trie with a terminal flag at accepting nodes. A
// query matches only when its final byte lands on a terminal node, so
// prefixes of corpus lines do not match unless they are lines themselves.
type TrieIndex struct {
	root  *trieNode
	count int
}

type trieNode struct {
	children map[byte]*trieNode
	terminal bool
}

// BuildTrie reads the corpus at path into a TrieIndex.
func BuildTrie(path string) (Index, error) {
	t := &TrieIndex{root: &trieNode{}}
	err := corpus.EachLine(path, func(line []byte) bool {
		t.insert(line)
		return true
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TrieIndex) insert(line []byte) {
	n := t.root
	for _, b := range line {
		child, ok := n.children[b]
		if !ok {
			if n.children == nil {
				n.children = make(map[byte]*trieNode)
			}
			child = &trieNode{}
			n.children[b] = child
		}
		n = child
	}
	if !n.terminal {
		n.terminal = true
		t.count++
	}
}

func (t *TrieIndex) Contains(q []byte) bool {
	n := t.root
	for _, b := range q {
		child, ok := n.children[b]
		if !ok {
			return false
		}
		n = child
	}
	return n.terminal
}

func (t *TrieIndex) Algorithm() string { return "trie" }
func (t *TrieIndex) Len() int          { return t.count }
