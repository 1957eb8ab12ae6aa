// Package clientpool manages clients for a changing set of peers.
//
// All clients in a pool share one *http.Client, so TCP connections are
// reused across requests to the same peer. The pool tracks when each peer
// was last used and forgets peers which have not been contacted recently.
//
// Applications should use one pool across the entire node.
package clientpool

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rfratto/tally/client"
)

// Options configures options for the client pool.
type Options struct {
	// Optional logging interface.
	Log log.Logger

	// Optional HTTP client shared by all peers. A client with Timeout set
	// to RequestTimeout is created if nil.
	HTTPClient *http.Client

	// Upper bound for any single request made through the pool.
	RequestTimeout time.Duration

	// Time a client must be unused for before it's considered stale.
	StaleTime time.Duration

	// Frequency at which stale clients should be removed.
	StaleCleanupFrequency time.Duration

	// Maximum number of clients that may exist in the client pool. 0 means
	// unlimited.
	MaxClients int

	// CleanupLRU configures the least recently used client to be forcibly
	// removed when the maximum client size is hit.
	//
	// If this is false, no new clients can be generated past MaxClients.
	CleanupLRU bool
}

// DefaultOptions holds default options for creating client pools.
var DefaultOptions = Options{
	RequestTimeout:        10 * time.Second,
	StaleTime:             30 * time.Second,
	StaleCleanupFrequency: 1 * time.Minute,
	MaxClients:            100,
	CleanupLRU:            true,
}

// Pool manages a set of clients.
type Pool struct {
	log  log.Logger
	cli  *http.Client
	opts Options
	m    *metrics

	clientsMut sync.Mutex
	clients    map[string]*entry
	closed     bool

	exited    chan struct{}
	cancelRun context.CancelFunc
}

type entry struct {
	Addr     string
	Client   *client.Client
	LastUsed time.Time
}

// New creates a new Pool. An error will be returned if the options are
// invalid. Call Close to close the pool.
func New(opts Options) (*Pool, error) {
	switch {
	case opts.RequestTimeout <= 0:
		return nil, fmt.Errorf("RequestTimeout must be greater than 0")
	case opts.StaleTime <= 0:
		return nil, fmt.Errorf("StaleTime must be greater than 0")
	case opts.StaleCleanupFrequency <= 0:
		return nil, fmt.Errorf("StaleCleanupFrequency must be greater than 0")
	case opts.MaxClients < 0:
		return nil, fmt.Errorf("MaxClients must be greater or equal to 0")
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := opts.Log
	if l == nil {
		l = log.NewNopLogger()
	}

	cli := opts.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: opts.RequestTimeout}
	}

	p := &Pool{
		log:  l,
		cli:  cli,
		opts: opts,
		m:    newMetrics(opts),

		clients: make(map[string]*entry),

		exited:    make(chan struct{}),
		cancelRun: cancel,
	}

	go p.run(ctx)
	return p, nil
}

// Metrics returns metrics for the Pool.
func (p *Pool) Metrics() prometheus.Collector { return p.m }

// HTTPClient returns the *http.Client shared by clients in the pool.
func (p *Pool) HTTPClient() *http.Client { return p.cli }

func (p *Pool) run(ctx context.Context) {
	defer close(p.exited)

	t := time.NewTicker(p.opts.StaleCleanupFrequency)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.removeStaleClients()
		}
	}
}

// removeStaleClients removes all clients which have not been used within
// StaleTime.
func (p *Pool) removeStaleClients() {
	p.clientsMut.Lock()
	defer p.clientsMut.Unlock()

	p.m.gcActive.Set(1)
	defer p.m.gcActive.Set(0)

	timer := prometheus.NewTimer(p.m.gcTotal)
	defer timer.ObserveDuration()

	for addr, e := range p.clients {
		if time.Since(e.LastUsed) <= p.opts.StaleTime {
			continue
		}
		level.Debug(p.log).Log("msg", "removing stale client", "addr", addr)
		p.remove(addr)
	}
}

// remove forgets a client. clientsMut must be held.
func (p *Pool) remove(addr string) {
	delete(p.clients, addr)
	p.m.eventsTotal.WithLabelValues("closed").Inc()
	p.m.currentClients.Set(float64(len(p.clients)))
}

// Get retrieves a new or existing client for the peer at addr. Requests made
// by the returned client are bounded by the pool's RequestTimeout.
func (p *Pool) Get(addr string) (*client.Client, error) {
	p.clientsMut.Lock()
	defer p.clientsMut.Unlock()

	defer func() {
		p.m.currentClients.Set(float64(len(p.clients)))
	}()

	if p.closed {
		p.m.lookupsTotal.WithLabelValues("error_other").Inc()
		return nil, fmt.Errorf("clientpool has closed")
	}

	if e, ok := p.clients[addr]; ok {
		e.LastUsed = time.Now()
		p.m.lookupsTotal.WithLabelValues("success").Inc()
		return e.Client, nil
	}

	if p.opts.MaxClients > 0 && len(p.clients)+1 > p.opts.MaxClients {
		if !p.opts.CleanupLRU {
			p.m.lookupsTotal.WithLabelValues("error_max_clients").Inc()
			return nil, fmt.Errorf("maximum number of clients reached")
		}
		p.removeLRU()
	}

	e := &entry{
		Addr:     addr,
		Client:   client.New(addr, p.cli),
		LastUsed: time.Now(),
	}
	p.clients[addr] = e

	p.m.lookupsTotal.WithLabelValues("success").Inc()
	p.m.eventsTotal.WithLabelValues("opened").Inc()
	return e.Client, nil
}

// removeLRU removes the least recently used client. Must only be called with
// clientsMut held.
func (p *Pool) removeLRU() {
	entries := make([]*entry, 0, len(p.clients))
	for _, e := range p.clients {
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastUsed.Before(entries[j].LastUsed)
	})
	p.remove(entries[0].Addr)
}

// Do runs f with a client for addr. The context passed to f is bounded by
// the pool's RequestTimeout.
func (p *Pool) Do(ctx context.Context, addr string, f func(ctx context.Context, c *client.Client) error) error {
	c, err := p.Get(addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()

	err = f(ctx, c)
	if err != nil {
		p.m.requestsTotal.WithLabelValues("error").Inc()
	} else {
		p.m.requestsTotal.WithLabelValues("success").Inc()
	}
	return err
}

// Close closes the client pool. Once the pool is closed, no new clients may
// be retrieved and idle connections are closed.
func (p *Pool) Close() error {
	// The cleanup loop takes clientsMut, so it must exit before the lock is
	// held here.
	p.cancelRun()
	<-p.exited

	p.clientsMut.Lock()
	defer p.clientsMut.Unlock()

	if p.closed {
		return nil
	}

	for addr := range p.clients {
		p.remove(addr)
	}
	p.cli.CloseIdleConnections()

	p.closed = true
	return nil
}
