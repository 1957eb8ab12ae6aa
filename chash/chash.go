// Package chash implements consistent hashing used to spread workers across
// peers.
package chash

import "errors"

// ErrNoNodes is returned when a Hash has no nodes to assign a key to.
var ErrNoNodes = errors.New("no nodes")

// Hash assigns keys to nodes. When the set of nodes changes, only a
// fraction of keys move to a different node.
//
// Implementations of Hash must be goroutine safe.
type Hash interface {
	// Owners returns the n nodes responsible for key, primary owner first.
	// Owners returns an error if there are fewer than n nodes.
	Owners(key string, n int) ([]string, error)

	// Owner returns the primary owner of key.
	Owner(key string) (string, error)

	// SetNodes replaces the set of nodes.
	SetNodes(nodes []string)

	// Nodes returns the current set of nodes in sorted order.
	Nodes() []string
}
