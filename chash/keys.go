package chash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Key returns the position of s on the ring.
func Key(s string) uint64 { return xxhash.Sum64String(s) }

// tokenKey returns the position of token i of node.
func tokenKey(d *xxhash.Digest, node string, i uint32) uint64 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], i)

	d.Reset()
	_, _ = d.Write([]byte(node))
	_, _ = d.Write(buf[:])
	return d.Sum64()
}
