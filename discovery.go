package tally

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/tally/chunk"
)

// discover finds the chunks of rec until the whole file has been chunked or
// ctx is canceled.
//
// Each iteration reads a window of the file starting at the cursor and
// commits the settled chunks found in it. Chunks whose boundary could still
// move with more data are left for the next iteration. Windows hold at least
// chunk.MinWindow bytes, so every iteration settles at least one chunk.
func (n *Node) discover(ctx context.Context, rec *fileRecord) {
	l := log.With(n.log, "file", rec.id)
	level.Debug(l).Log("msg", "starting discovery")

	for {
		done, err := n.discoverOnce(ctx, rec)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			n.m.discoveryErrors.Inc()
			level.Warn(l).Log("msg", "discovery iteration failed", "err", err)
		case done:
			level.Debug(l).Log("msg", "discovery finished")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(n.cfg.DiscoveryInterval):
		}
	}
}

// discoverOnce runs a single discovery iteration. done is true once the
// cursor reached the end of the file.
func (n *Node) discoverOnce(ctx context.Context, rec *fileRecord) (done bool, err error) {
	n.mut.Lock()
	offset, size := rec.nextOffset, rec.size
	n.mut.Unlock()

	if offset >= size {
		return true, nil
	}

	window := int64(n.cfg.WindowSize)
	if rem := size - offset; rem < window {
		window = rem
	}

	data, err := rec.src.ReadRange(ctx, offset, int(window))
	if err != nil {
		return false, err
	} else if len(data) == 0 {
		return false, fmt.Errorf("read of %d bytes at offset %d returned no data", window, offset)
	}

	final := offset+int64(len(data)) >= size
	spans := chunk.Settled(chunk.Split(data, n.cfg.ChunkSize), final)
	if len(spans) == 0 {
		return false, fmt.Errorf("no chunk boundary settled in %d bytes at offset %d", len(data), offset)
	}
	chunks := chunk.Identify(data, offset, spans)

	n.mut.Lock()
	defer n.mut.Unlock()

	if rec.nextOffset != offset {
		return false, fmt.Errorf("cursor moved from %d to %d during read", offset, rec.nextOffset)
	}

	for _, c := range chunks {
		rec.nextOffset += int64(c.Length)

		if _, exist := rec.chunks[c.ID]; exist {
			continue
		}
		_, processed := n.results[c.ID]
		rec.chunks[c.ID] = &chunkState{offset: c.Offset, length: c.Length, processed: processed}
		n.work.Enqueue(workItem{FileID: rec.id, ChunkID: c.ID})
		n.m.chunksDiscovered.Inc()
	}

	return rec.nextOffset >= rec.size, nil
}
