package tally

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rfratto/tally/bootstrap"
	"github.com/rfratto/tally/chunk"
	"github.com/rfratto/tally/clientpool"
	"github.com/rfratto/tally/internal/queue"
	"github.com/rfratto/tally/peer"
	"go.uber.org/atomic"
)

// Default values used by Config.
const (
	DefaultChunkSize         = chunk.DefaultMaxSize
	DefaultDiscoveryInterval = time.Second
	DefaultGossipInterval    = 5 * time.Second
	DefaultRequestTimeout    = 2 * time.Second
	DefaultPropagateTimeout  = time.Second
)

// Config configures a Node.
type Config struct {
	// URL other nodes use to reach this Node. Required.
	AdvertiseURL string

	// Optional logger to use.
	Log log.Logger

	// Optional client pool to use for requests to peers. A client pool will
	// be made if one is not provided here.
	Pool *clientpool.Pool

	// Optional provider of addresses to announce the node to when it starts
	// and whenever it has no peers left.
	Bootstrap bootstrap.Provider

	// Maximum chunk size before a boundary is searched for. Defaults to
	// DefaultChunkSize.
	ChunkSize int

	// Number of bytes read per discovery iteration. Defaults to and must be
	// at least chunk.MinWindow(ChunkSize).
	WindowSize int

	// Delay between discovery iterations. Defaults to
	// DefaultDiscoveryInterval.
	DiscoveryInterval time.Duration

	// Delay between gossip rounds. Defaults to DefaultGossipInterval.
	GossipInterval time.Duration

	// Timeout for status polls and announcements. Defaults to
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Timeout for pushing a value to a single peer. Defaults to
	// DefaultPropagateTimeout.
	PropagateTimeout time.Duration
}

func (c *Config) validate() error {
	self, err := peer.Normalize(c.AdvertiseURL)
	if err != nil {
		return fmt.Errorf("advertise url: %w", err)
	}
	c.AdvertiseURL = self

	if c.Log == nil {
		c.Log = log.NewNopLogger()
	}

	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.WindowSize == 0 {
		c.WindowSize = chunk.MinWindow(c.ChunkSize)
	}
	if c.DiscoveryInterval == 0 {
		c.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if c.GossipInterval == 0 {
		c.GossipInterval = DefaultGossipInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.PropagateTimeout == 0 {
		c.PropagateTimeout = DefaultPropagateTimeout
	}

	switch {
	case c.ChunkSize < 0:
		return fmt.Errorf("chunk size must be positive")
	case c.WindowSize < chunk.MinWindow(c.ChunkSize):
		return fmt.Errorf("window size %d must be at least %d for chunk size %d", c.WindowSize, chunk.MinWindow(c.ChunkSize), c.ChunkSize)
	case c.DiscoveryInterval < 0, c.GossipInterval < 0, c.RequestTimeout < 0, c.PropagateTimeout < 0:
		return fmt.Errorf("intervals and timeouts must be positive")
	}
	return nil
}

// A Node scans registered files in cooperation with its peers.
type Node struct {
	log      log.Logger
	cfg      Config
	pool     *clientpool.Pool
	ownsPool bool
	m        *metrics

	notifyObserversQueue *queue.Queue[[]string]

	// mut guards all node state below. No I/O may be performed while it is
	// held.
	mut        sync.Mutex
	files      map[string]*fileRecord
	work       *queue.Queue[workItem]
	results    map[string]int64
	total      int64
	peers      peer.Set
	roundPeers peer.Set // Peers registered during an in-flight gossip round.

	gossipMut sync.Mutex // Serializes gossip rounds.

	observersMut sync.Mutex
	observers    []Observer

	runMut    sync.Mutex
	running   atomic.Bool
	stopped   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewNode creates an unstarted Node. An error will be returned if the
// provided config is invalid.
func NewNode(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	n := &Node{
		log:  cfg.Log,
		cfg:  cfg,
		pool: cfg.Pool,

		notifyObserversQueue: queue.New[[]string](1),

		files:   make(map[string]*fileRecord),
		work:    queue.New[workItem](queue.Unbounded),
		results: make(map[string]int64),
		peers:   peer.NewSet(),
	}

	if n.pool == nil {
		opts := clientpool.DefaultOptions
		opts.Log = cfg.Log
		pool, err := clientpool.New(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to build default client pool: %w", err)
		}
		n.pool, n.ownsPool = pool, true
	}

	n.m = newMetrics(func() float64 { return float64(n.work.Len()) })
	return n, nil
}

// URL returns the address the node advertises to its peers.
func (n *Node) URL() string { return n.cfg.AdvertiseURL }

// Metrics returns metrics for the Node.
func (n *Node) Metrics() prometheus.Collector { return n.m }

// Start runs the Node. Background goroutines for gossip and observer
// notifications are launched, and the node announces itself to the
// addresses of the bootstrap provider, if one is configured.
//
// A Node cannot be restarted after it was stopped.
func (n *Node) Start() error {
	n.runMut.Lock()
	defer n.runMut.Unlock()

	switch {
	case n.stopped:
		return fmt.Errorf("node has been stopped")
	case n.running.Load():
		return fmt.Errorf("node already running")
	}

	n.runCtx, n.runCancel = context.WithCancel(context.Background())
	n.running.Store(true)

	n.wg.Add(2)
	go n.runNotifier(n.runCtx)
	go n.runGossip(n.runCtx)

	if n.cfg.Bootstrap != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.announce(n.runCtx)
		}()
	}

	level.Info(n.log).Log("msg", "node started", "url", n.cfg.AdvertiseURL)
	return nil
}

func (n *Node) runNotifier(ctx context.Context) {
	defer n.wg.Done()

	for {
		peers, err := n.notifyObserversQueue.Dequeue(ctx)
		if err != nil {
			return
		}
		n.notifyObservers(peers)
	}
}

// goBackground launches f with the node's run context. ErrNotRunning is
// returned if the node is not running.
func (n *Node) goBackground(f func(ctx context.Context)) error {
	n.runMut.Lock()
	defer n.runMut.Unlock()

	if !n.running.Load() {
		return ErrNotRunning
	}

	ctx := n.runCtx
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		f(ctx)
	}()
	return nil
}

// runContext returns the context of the current run. It is canceled once
// the node stops.
func (n *Node) runContext() context.Context {
	n.runMut.Lock()
	defer n.runMut.Unlock()

	if n.runCtx == nil {
		return context.Background()
	}
	return n.runCtx
}

// Stop stops the Node. Background goroutines are stopped before Stop
// returns. Observers will no longer be notified about peer changes after
// Stop returns.
func (n *Node) Stop() error {
	n.runMut.Lock()
	if !n.running.Load() {
		n.runMut.Unlock()
		return ErrNotRunning
	}
	n.running.Store(false)
	n.stopped = true
	n.runCancel()
	n.runMut.Unlock()

	n.wg.Wait()

	var errs *multierror.Error
	errs = multierror.Append(errs, n.notifyObserversQueue.Close())
	errs = multierror.Append(errs, n.work.Close())
	if n.ownsPool {
		errs = multierror.Append(errs, n.pool.Close())
	}

	level.Info(n.log).Log("msg", "node stopped")
	return errs.ErrorOrNil()
}

// Status returns the status reported to peers and monitors.
func (n *Node) Status() peer.Status {
	n.mut.Lock()
	defer n.mut.Unlock()

	return peer.Status{
		Status: peer.StatusOnline,
		URL:    n.cfg.AdvertiseURL,
		Files:  len(n.files),
		Peers:  n.peers.Slice(),
	}
}
