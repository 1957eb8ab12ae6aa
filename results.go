package tally

import (
	"context"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/rfratto/tally/client"
)

// Submit stores value as the result for chunkID if the chunk has no result
// yet. Accepted values are pushed to every known peer before Submit returns.
// Failed pushes are logged and not retried.
//
// Pushes run under the node's run context, so they are only cut short by
// PropagateTimeout or by the node stopping.
//
// StatusDuplicate is returned when the chunk already had a value, in which
// case value is discarded and nothing is propagated.
func (n *Node) Submit(chunkID string, value int64) (SubmitStatus, error) {
	if value < 0 {
		return 0, ErrInvalidValue
	}

	n.mut.Lock()
	if !n.storeResult(chunkID, value) {
		n.mut.Unlock()
		n.m.submissionsTotal.WithLabelValues(StatusDuplicate.String()).Inc()
		return StatusDuplicate, nil
	}
	peers := n.peers.Slice()
	n.mut.Unlock()

	n.m.submissionsTotal.WithLabelValues(StatusAccepted.String()).Inc()
	n.propagate(n.runContext(), chunkID, value, peers)
	return StatusAccepted, nil
}

// AcceptPropagated stores a value pushed by a peer if the chunk has no
// result yet. Propagated values are never pushed further. Returns true if
// the value was stored.
func (n *Node) AcceptPropagated(chunkID string, value int64) bool {
	if value < 0 {
		return false
	}

	n.mut.Lock()
	defer n.mut.Unlock()

	stored := n.storeResult(chunkID, value)
	if stored {
		n.m.submissionsTotal.WithLabelValues("propagated").Inc()
	}
	return stored
}

// Total returns the sum of all stored values.
func (n *Node) Total() int64 {
	n.mut.Lock()
	defer n.mut.Unlock()
	return n.total
}

// Result returns the value stored for chunkID.
func (n *Node) Result(chunkID string) (value int64, ok bool) {
	n.mut.Lock()
	defer n.mut.Unlock()
	value, ok = n.results[chunkID]
	return
}

// storeResult inserts value if chunkID has no result and marks the chunk as
// processed in every file holding it. n.mut must be held.
func (n *Node) storeResult(chunkID string, value int64) bool {
	if _, exist := n.results[chunkID]; exist {
		return false
	}

	n.results[chunkID] = value
	n.total += value

	for _, rec := range n.files {
		if c, ok := rec.chunks[chunkID]; ok {
			c.processed = true
		}
	}

	n.m.results.Set(float64(len(n.results)))
	n.m.total.Set(float64(n.total))
	return true
}

// propagate pushes a value to peers concurrently and waits for every push to
// finish or time out.
func (n *Node) propagate(ctx context.Context, chunkID string, value int64, peers []string) {
	var wg sync.WaitGroup
	wg.Add(len(peers))

	for _, p := range peers {
		go func(addr string) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(ctx, n.cfg.PropagateTimeout)
			defer cancel()

			err := n.pool.Do(ctx, addr, func(ctx context.Context, c *client.Client) error {
				return c.UpdateResult(ctx, chunkID, value)
			})
			if err != nil {
				n.m.propagationsTotal.WithLabelValues("error").Inc()
				level.Debug(n.log).Log("msg", "failed to propagate result", "peer", addr, "chunk", chunkID, "err", err)
				return
			}
			n.m.propagationsTotal.WithLabelValues("success").Inc()
		}(p)
	}

	wg.Wait()
}
