package tally

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rfratto/tally/client"
	"github.com/rfratto/tally/peer"
	"go.uber.org/atomic"
)

// RegisterPeer adds addr to the set of known peers. ErrInvalidPeer is
// returned for malformed addresses and ErrSelfPeer for the node's own
// address. Registering a known peer is a no-op.
func (n *Node) RegisterPeer(addr string) error {
	norm, err := peer.Normalize(addr)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPeer, err)
	}
	if norm == n.cfg.AdvertiseURL {
		return ErrSelfPeer
	}

	n.mut.Lock()
	defer n.mut.Unlock()

	if n.roundPeers != nil {
		n.roundPeers.Add(norm)
	}
	if n.peers.Has(norm) {
		return nil
	}

	n.peers.Add(norm)
	level.Debug(n.log).Log("msg", "registered peer", "peer", norm)
	n.handlePeersChanged()
	return nil
}

// Peers returns the known peers in sorted order.
func (n *Node) Peers() []string {
	n.mut.Lock()
	defer n.mut.Unlock()
	return n.peers.Slice()
}

// handlePeersChanged must be called with n.mut held whenever n.peers
// changes.
func (n *Node) handlePeersChanged() {
	peers := n.peers.Slice()
	n.m.peers.Set(float64(len(peers)))
	n.notifyObserversQueue.Enqueue(peers)
}

// Join announces the node to each of addrs. Addresses which accept the
// announcement are added as peers; unreachable addresses are ignored.
// Returns the number of addresses which accepted.
func (n *Node) Join(ctx context.Context, addrs []string) int {
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)

	for _, addr := range addrs {
		norm, err := peer.Normalize(addr)
		if err != nil || norm == n.cfg.AdvertiseURL {
			continue
		}

		wg.Add(1)
		go func(addr string) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
			defer cancel()

			err := n.pool.Do(ctx, addr, func(ctx context.Context, c *client.Client) error {
				return c.RegisterPeer(ctx, n.cfg.AdvertiseURL)
			})
			if err != nil {
				level.Debug(n.log).Log("msg", "failed to announce to peer", "peer", addr, "err", err)
				return
			}
			if err := n.RegisterPeer(addr); err == nil {
				accepted.Inc()
			}
		}(norm)
	}

	wg.Wait()
	return int(accepted.Load())
}

// announce joins the addresses returned by the bootstrap provider.
func (n *Node) announce(ctx context.Context) {
	addrs, err := n.cfg.Bootstrap.Addresses(ctx)
	if err != nil {
		level.Warn(n.log).Log("msg", "failed to get some bootstrap addresses", "err", err)
	}
	if len(addrs) == 0 {
		return
	}

	joined := n.Join(ctx, addrs)
	level.Debug(n.log).Log("msg", "announced to bootstrap peers", "candidates", len(addrs), "joined", joined)
}

func (n *Node) runGossip(ctx context.Context) {
	defer n.wg.Done()

	t := time.NewTicker(n.cfg.GossipInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.Gossip(ctx)
		}
	}
}

// Gossip runs one gossip round. Every known peer is polled for its status,
// and the peer set is replaced by the union of the polled peers and the
// peers they know about. Peers which do not respond are dropped. Peers
// registered while the round is in flight are kept.
//
// If the node knows no peers when the round starts, it first announces
// itself to the bootstrap provider's addresses.
func (n *Node) Gossip(ctx context.Context) {
	n.gossipMut.Lock()
	defer n.gossipMut.Unlock()

	timer := prometheus.NewTimer(n.m.gossipDuration)
	defer timer.ObserveDuration()
	n.m.gossipRounds.Inc()

	n.mut.Lock()
	known := n.peers.Slice()
	n.roundPeers = peer.NewSet()
	n.mut.Unlock()

	if len(known) == 0 && n.cfg.Bootstrap != nil {
		n.announce(ctx)
	}

	var (
		wg       sync.WaitGroup
		resMut   sync.Mutex
		statuses []peer.Status
	)
	for _, addr := range known {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
			defer cancel()

			var st peer.Status
			err := n.pool.Do(ctx, addr, func(ctx context.Context, c *client.Client) (err error) {
				st, err = c.Ping(ctx)
				return err
			})
			if err != nil {
				level.Debug(n.log).Log("msg", "peer did not respond to ping", "peer", addr, "err", err)
				return
			}
			if st.URL == "" {
				st.URL = addr
			}

			resMut.Lock()
			defer resMut.Unlock()
			statuses = append(statuses, st)
		}(addr)
	}
	wg.Wait()

	next := peer.NewSet()
	for _, st := range statuses {
		for _, addr := range append([]string{st.URL}, st.Peers...) {
			if norm, err := peer.Normalize(addr); err == nil {
				next.Add(norm)
			}
		}
	}

	n.mut.Lock()
	defer n.mut.Unlock()

	for addr := range n.roundPeers {
		next.Add(addr)
	}
	n.roundPeers = nil
	delete(next, n.cfg.AdvertiseURL)

	if next.Equal(n.peers) {
		return
	}
	n.peers = next
	level.Debug(n.log).Log("msg", "peers changed after gossip", "peers", len(next))
	n.handlePeersChanged()
}
