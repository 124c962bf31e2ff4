package retrieval

import (
	"strings"

	"github.com/armon/go-radix"
)

// identifierIndex maps lowercase document IDs to corpus positions in a
// radix tree, so part codes in a query match catalog entries by prefix
// as well as exactly. "AX-1200" in the corpus is found by the query
// term "ax-12".
type identifierIndex struct {
	tree *radix.Tree
}

func newIdentifierIndex() *identifierIndex {
	return &identifierIndex{tree: radix.New()}
}

func (idx *identifierIndex) insert(id string, pos int) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return
	}
	idx.tree.Insert(id, pos)
}

// exact returns the corpus position for an exact ID match.
func (idx *identifierIndex) exact(term string) (int, bool) {
	v, ok := idx.tree.Get(strings.ToLower(term))
	if !ok {
		return 0, false
	}
	return v.(int), true
}

// withPrefix returns the corpus positions of every ID the term is a
// prefix of.
func (idx *identifierIndex) withPrefix(term string) []int {
	var positions []int
	idx.tree.WalkPrefix(strings.ToLower(term), func(k string, v interface{}) bool {
		positions = append(positions, v.(int))
		return false
	})
	return positions
}
