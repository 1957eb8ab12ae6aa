package chash

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Ring returns a Hash which places numTokens tokens per node on a ring. A key
// is owned by the node of the first token at or after the key's position.
// Ties between tokens are broken by node name.
//
// Low values of numTokens cause poor distribution; 256 is a good default.
func Ring(numTokens int) Hash {
	if numTokens <= 0 {
		panic("chash: numTokens must be positive")
	}
	return &ring{numTokens: numTokens}
}

type ring struct {
	numTokens int

	mut    sync.RWMutex
	nodes  []string
	tokens []token // Sorted by position.
}

type token struct {
	pos  uint64
	node string
}

func (r *ring) Owner(key string) (string, error) {
	owners, err := r.Owners(key, 1)
	if err != nil {
		return "", err
	}
	return owners[0], nil
}

func (r *ring) Owners(key string, n int) ([]string, error) {
	r.mut.RLock()
	defer r.mut.RUnlock()

	switch {
	case len(r.nodes) == 0 && n > 0:
		return nil, ErrNoNodes
	case n > len(r.nodes):
		return nil, fmt.Errorf("not enough nodes: need at least %d, have %d", n, len(r.nodes))
	case n <= 0:
		return []string{}, nil
	}

	pos := Key(key)
	i := sort.Search(len(r.tokens), func(i int) bool { return r.tokens[i].pos >= pos })

	owners := make([]string, 0, n)
	for ; len(owners) < n; i++ {
		t := r.tokens[i%len(r.tokens)]
		if !contains(owners, t.node) {
			owners = append(owners, t.node)
		}
	}
	return owners, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func (r *ring) SetNodes(nodes []string) {
	uniq := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		uniq[n] = struct{}{}
	}

	var (
		d      = xxhash.New()
		sorted = make([]string, 0, len(uniq))
		tokens = make([]token, 0, len(uniq)*r.numTokens)
	)
	for n := range uniq {
		sorted = append(sorted, n)
		for i := 0; i < r.numTokens; i++ {
			tokens = append(tokens, token{pos: tokenKey(d, n, uint32(i)), node: n})
		}
	}
	sort.Strings(sorted)
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].pos == tokens[j].pos {
			return tokens[i].node < tokens[j].node
		}
		return tokens[i].pos < tokens[j].pos
	})

	r.mut.Lock()
	defer r.mut.Unlock()
	r.nodes = sorted
	r.tokens = tokens
}

func (r *ring) Nodes() []string {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return append([]string(nil), r.nodes...)
}
