// Package worker implements a process which pulls chunks from tally nodes,
// computes a value for each chunk, and submits it back.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rfratto/tally/bootstrap"
	"github.com/rfratto/tally/chash"
	"github.com/rfratto/tally/chunk"
	"github.com/rfratto/tally/client"
	"github.com/rfratto/tally/clientpool"
	"github.com/rfratto/tally/source"
	"github.com/rfratto/tally/wire"
	"go.uber.org/atomic"
)

// ErrNoPeers is returned when no live node could be found.
var ErrNoPeers = errors.New("no live peers")

// ValueFunc computes the value of a chunk.
type ValueFunc func(data []byte) (int64, error)

// WordCount counts whitespace-separated words in data.
func WordCount(data []byte) (int64, error) {
	return int64(len(bytes.Fields(data))), nil
}

// Options configures a Worker.
type Options struct {
	// Optional ID of the worker. A random ID is generated if empty.
	ID string

	// Optional logger to use.
	Log log.Logger

	// Client pool used to reach nodes. Required.
	Pool *clientpool.Pool

	// Addresses to find live nodes from. Required.
	Bootstrap bootstrap.Provider

	// Value computes chunk values. Defaults to WordCount.
	Value ValueFunc

	// Number of concurrent work loops. Defaults to 1.
	Concurrency int

	// Time to wait after a node reported no work. Defaults to 1s.
	IdleInterval time.Duration

	// How often to refresh the set of live nodes. Defaults to 10s.
	RefreshInterval time.Duration
}

// Stats holds counters for processed chunks.
type Stats struct {
	Processed  int64 // Values accepted by a node.
	Duplicates int64 // Values for chunks which already had a value.
	Failed     int64 // Assignments which could not be completed.
	Value      int64 // Sum of accepted values.
}

// Worker pulls and processes chunks.
type Worker struct {
	log  log.Logger
	opts Options
	ring chash.Hash

	peersMut    sync.Mutex
	refreshedAt time.Time

	processed, duplicates, failed, value atomic.Int64
}

// New creates a new Worker.
func New(opts Options) (*Worker, error) {
	switch {
	case opts.Pool == nil:
		return nil, fmt.Errorf("client pool is required")
	case opts.Bootstrap == nil:
		return nil, fmt.Errorf("bootstrap provider is required")
	}

	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Log == nil {
		opts.Log = log.NewNopLogger()
	}
	if opts.Value == nil {
		opts.Value = WordCount
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 10 * time.Second
	}

	return &Worker{
		log:  log.With(opts.Log, "worker", opts.ID),
		opts: opts,
		ring: chash.Ring(256),
	}, nil
}

// ID returns the ID of the worker.
func (w *Worker) ID() string { return w.opts.ID }

// Stats returns the current counters of w.
func (w *Worker) Stats() Stats {
	return Stats{
		Processed:  w.processed.Load(),
		Duplicates: w.duplicates.Load(),
		Failed:     w.failed.Load(),
		Value:      w.value.Load(),
	}
}

// Run processes chunks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(w.opts.Concurrency)

	for i := 0; i < w.opts.Concurrency; i++ {
		go func(key string) {
			defer wg.Done()
			w.loop(ctx, key)
		}(w.opts.ID + "-" + strconv.Itoa(i))
	}

	wg.Wait()
	return nil
}

func (w *Worker) loop(ctx context.Context, key string) {
	for ctx.Err() == nil {
		worked, err := w.Step(ctx, key)
		if err != nil && ctx.Err() == nil {
			level.Warn(w.log).Log("msg", "failed to process work", "err", err)
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(w.opts.IdleInterval):
		}
	}
}

// Step requests a single assignment and processes it. Live nodes are asked
// in ring order for key, starting with its owner, until one hands out work.
// worked is false if no node had work.
func (w *Worker) Step(ctx context.Context, key string) (worked bool, err error) {
	addrs, err := w.pick(ctx, key)
	if err != nil {
		return false, err
	}

	var errs *multierror.Error
	for _, addr := range addrs {
		work, ok, err := w.getWork(ctx, addr)
		if err != nil {
			w.invalidate()
			errs = multierror.Append(errs, fmt.Errorf("get work from %s: %w", addr, err))
			continue
		} else if !ok {
			continue
		}
		return true, w.complete(ctx, addr, work)
	}
	return false, errs.ErrorOrNil()
}

func (w *Worker) getWork(ctx context.Context, addr string) (work wire.WorkResponse, ok bool, err error) {
	err = w.opts.Pool.Do(ctx, addr, func(ctx context.Context, c *client.Client) (err error) {
		work, ok, err = c.GetWork(ctx)
		return err
	})
	return work, ok, err
}

// complete processes work and submits its value to the node at addr.
func (w *Worker) complete(ctx context.Context, addr string, work wire.WorkResponse) error {
	value, err := w.process(ctx, work)
	if err != nil {
		w.failed.Inc()
		return fmt.Errorf("chunk %s: %w", work.ChunkID, err)
	}

	var status string
	err = w.opts.Pool.Do(ctx, addr, func(ctx context.Context, c *client.Client) (err error) {
		status, err = c.SubmitWork(ctx, work.ChunkID, value)
		return err
	})
	if err != nil {
		w.failed.Inc()
		return fmt.Errorf("submit chunk %s to %s: %w", work.ChunkID, addr, err)
	}

	switch status {
	case wire.StatusAccepted:
		w.processed.Inc()
		w.value.Add(value)
	case wire.StatusDuplicate:
		w.duplicates.Inc()
	}
	level.Debug(w.log).Log("msg", "processed chunk", "chunk", work.ChunkID, "node", addr, "value", value, "status", status)
	return nil
}

func (w *Worker) process(ctx context.Context, work wire.WorkResponse) (int64, error) {
	src, err := source.Open(work.FileURL, w.opts.Pool.HTTPClient())
	if err != nil {
		return 0, err
	}

	data, err := src.ReadRange(ctx, work.Offset, work.Length)
	if err != nil {
		return 0, err
	}
	if len(data) != work.Length {
		return 0, fmt.Errorf("read %d bytes, expected %d", len(data), work.Length)
	}
	if id := chunk.ID(data); id != work.ChunkID {
		return 0, fmt.Errorf("content changed: read chunk %s", id)
	}

	return w.opts.Value(data)
}

// pick returns every live node ordered by preference for key, refreshing the
// set of live nodes if it is stale.
func (w *Worker) pick(ctx context.Context, key string) ([]string, error) {
	w.peersMut.Lock()
	stale := time.Since(w.refreshedAt) > w.opts.RefreshInterval
	w.peersMut.Unlock()

	if stale {
		if err := w.refresh(ctx); err != nil {
			return nil, err
		}
	}

	// The ring may shrink between Nodes and Owners; retry with the new size.
	for attempt := 0; attempt < 3; attempt++ {
		nodes := w.ring.Nodes()
		if len(nodes) == 0 {
			break
		}
		if owners, err := w.ring.Owners(key, len(nodes)); err == nil {
			return owners, nil
		}
	}
	return nil, ErrNoPeers
}

func (w *Worker) invalidate() {
	w.peersMut.Lock()
	defer w.peersMut.Unlock()
	w.refreshedAt = time.Time{}
}

// refresh pings every bootstrap address and updates the ring with the nodes
// which responded.
func (w *Worker) refresh(ctx context.Context) error {
	addrs, err := w.opts.Bootstrap.Addresses(ctx)
	if err != nil && len(addrs) == 0 {
		return fmt.Errorf("failed to get bootstrap addresses: %w", err)
	}

	var (
		wg      sync.WaitGroup
		liveMut sync.Mutex
		live    []string
	)
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()

			err := w.opts.Pool.Do(ctx, addr, func(ctx context.Context, c *client.Client) error {
				_, err := c.Ping(ctx)
				return err
			})
			if err != nil {
				return
			}

			liveMut.Lock()
			defer liveMut.Unlock()
			live = append(live, addr)
		}(addr)
	}
	wg.Wait()

	if len(live) == 0 {
		return ErrNoPeers
	}

	w.peersMut.Lock()
	defer w.peersMut.Unlock()
	w.refreshedAt = time.Now()
	w.ring.SetNodes(live)
	return nil
}
