// Package peer describes tally peers: their addresses and the status they
// report to each other during gossip.
package peer

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// StatusOnline is the status reported by every live peer.
const StatusOnline = "online"

// ErrInvalidAddr is returned by Normalize for addresses which cannot be used
// to reach a peer.
var ErrInvalidAddr = errors.New("invalid peer address")

// Status is the status a peer reports when pinged. It is used both for
// liveness checks and for gossiping peer sets.
type Status struct {
	Status string   `json:"status"` // Always StatusOnline.
	URL    string   `json:"url"`    // Address of the reporting peer.
	Files  int      `json:"files"`  // Number of files registered with the peer.
	Peers  []string `json:"peers"`  // Peers known by the reporting peer.
}

// Normalize validates a peer address and returns its canonical form. Peer
// addresses are absolute http or https URLs with a host and no query or
// fragment. Trailing slashes are removed.
func Normalize(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddr)
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidAddr, err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddr, u.Scheme)
	case u.Host == "":
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidAddr, addr)
	case u.RawQuery != "" || u.Fragment != "":
		return "", fmt.Errorf("%w: unexpected query or fragment in %q", ErrInvalidAddr, addr)
	}

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

// Set is a set of peer addresses.
type Set map[string]struct{}

// NewSet returns a Set holding addrs.
func NewSet(addrs ...string) Set {
	s := make(Set, len(addrs))
	for _, a := range addrs {
		s.Add(a)
	}
	return s
}

// Add adds addr to s.
func (s Set) Add(addr string) { s[addr] = struct{}{} }

// Has returns true if addr is in s.
func (s Set) Has(addr string) bool {
	_, ok := s[addr]
	return ok
}

// Slice returns the addresses of s in sorted order.
func (s Set) Slice() []string {
	res := make([]string, 0, len(s))
	for a := range s {
		res = append(res, a)
	}
	sort.Strings(res)
	return res
}

// Equal returns true if s and o hold the same addresses.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for a := range s {
		if !o.Has(a) {
			return false
		}
	}
	return true
}
