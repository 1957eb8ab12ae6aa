// Package monitor implements a client which submits a file to a tally
// cluster and follows the total until processing finishes.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/rfratto/tally/bootstrap"
	"github.com/rfratto/tally/client"
	"github.com/rfratto/tally/clientpool"
)

var (
	// ErrNoPeersAvailable is returned when none of the bootstrap addresses
	// responded.
	ErrNoPeersAvailable = errors.New("no peers available")

	// ErrTimeoutExceeded is returned when processing did not finish within
	// the maximum wait time.
	ErrTimeoutExceeded = errors.New("timeout exceeded")
)

// Options configures a Monitor.
type Options struct {
	// Optional logger to use.
	Log log.Logger

	// Client pool used to reach nodes. Required.
	Pool *clientpool.Pool

	// Addresses probed to find live nodes. Required.
	Bootstrap bootstrap.Provider

	// Timeout for each probe. Defaults to 1s.
	ProbeTimeout time.Duration

	// Delay between total polls. Defaults to 5s.
	PollInterval time.Duration

	// Maximum time to follow the total. Defaults to 1h.
	MaxWait time.Duration

	// Number of consecutive polls with an unchanged, non-zero total after
	// which processing is considered finished. 0 follows the total until
	// MaxWait or cancellation.
	StableRounds int
}

// Result is the outcome of a monitored run.
type Result struct {
	FileID  string
	Total   int64
	Elapsed time.Duration
}

// Monitor submits files and follows their progress.
type Monitor struct {
	log  log.Logger
	opts Options
}

// New creates a new Monitor.
func New(opts Options) (*Monitor, error) {
	switch {
	case opts.Pool == nil:
		return nil, fmt.Errorf("client pool is required")
	case opts.Bootstrap == nil:
		return nil, fmt.Errorf("bootstrap provider is required")
	case opts.StableRounds < 0:
		return nil, fmt.Errorf("stable rounds must not be negative")
	}

	if opts.Log == nil {
		opts.Log = log.NewNopLogger()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = time.Hour
	}

	return &Monitor{log: opts.Log, opts: opts}, nil
}

// Discover pings every bootstrap address and returns the addresses which
// responded, in the order the provider returned them.
func (m *Monitor) Discover(ctx context.Context) ([]string, error) {
	addrs, err := m.opts.Bootstrap.Addresses(ctx)
	if err != nil {
		level.Debug(m.log).Log("msg", "failed to get some bootstrap addresses", "err", err)
	}

	var (
		wg      sync.WaitGroup
		resMut  sync.Mutex
		live    = make(map[string]int)
		errs    *multierror.Error
		probeCt = len(addrs)
	)
	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
			defer cancel()

			err := m.opts.Pool.Do(ctx, addr, func(ctx context.Context, c *client.Client) error {
				_, err := c.Ping(ctx)
				return err
			})

			resMut.Lock()
			defer resMut.Unlock()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", addr, err))
				return
			}
			live[addr] = i
		}(i, addr)
	}
	wg.Wait()

	if len(live) == 0 {
		level.Debug(m.log).Log("msg", "no bootstrap address responded", "probed", probeCt, "err", errs.ErrorOrNil())
		return nil, ErrNoPeersAvailable
	}

	res := make([]string, 0, len(live))
	for addr := range live {
		res = append(res, addr)
	}
	sort.Slice(res, func(i, j int) bool { return live[res[i]] < live[res[j]] })
	return res, nil
}

// Register registers input with the node at addr. input is registered as a
// local file when it exists on the local filesystem, and as a URL otherwise.
func (m *Monitor) Register(ctx context.Context, addr, input string) (string, error) {
	var fileID string
	err := m.opts.Pool.Do(ctx, addr, func(ctx context.Context, c *client.Client) (err error) {
		if fi, statErr := os.Stat(input); statErr == nil && !fi.IsDir() {
			abs, err := filepath.Abs(input)
			if err != nil {
				return err
			}
			fileID, err = c.RegisterLocalFile(ctx, abs)
			return err
		}
		fileID, err = c.RegisterFile(ctx, input)
		return err
	})
	return fileID, err
}

// Run registers input with the first live node and follows the total until
// processing is finished, MaxWait elapses, or ctx is canceled. The last
// known total is always returned, alongside ErrTimeoutExceeded or
// ctx.Err() when the run did not finish.
func (m *Monitor) Run(ctx context.Context, input string) (Result, error) {
	start := time.Now()

	live, err := m.Discover(ctx)
	if err != nil {
		return Result{}, err
	}

	fileID, err := m.Register(ctx, live[0], input)
	if err != nil {
		return Result{}, fmt.Errorf("failed to register %s with %s: %w", input, live[0], err)
	}
	level.Info(m.log).Log("msg", "processing started", "file", fileID, "node", live[0])

	res := Result{FileID: fileID}
	runErr := m.follow(ctx, start, &res, &live)

	// Read the final total even if ctx was canceled.
	finalCtx, cancel := context.WithTimeout(context.Background(), m.opts.ProbeTimeout)
	defer cancel()
	if total, err := m.total(finalCtx, live[0]); err == nil {
		res.Total = total
	} else {
		level.Warn(m.log).Log("msg", "failed to read final total", "node", live[0], "err", err)
	}

	res.Elapsed = time.Since(start)
	return res, runErr
}

func (m *Monitor) follow(ctx context.Context, start time.Time, res *Result, live *[]string) error {
	deadline := time.NewTimer(m.opts.MaxWait)
	defer deadline.Stop()

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	var stable int
	for {
		select {
		case <-ctx.Done():
			level.Info(m.log).Log("msg", "monitoring interrupted")
			return ctx.Err()
		case <-deadline.C:
			return ErrTimeoutExceeded
		case <-ticker.C:
		}

		peers, err := m.Discover(ctx)
		if err != nil {
			level.Error(m.log).Log("msg", "all peers disconnected")
			return err
		}
		*live = peers

		total, err := m.total(ctx, peers[0])
		if err != nil {
			level.Warn(m.log).Log("msg", "peer temporarily unavailable", "node", peers[0], "err", err)
			continue
		}

		if total != res.Total {
			level.Info(m.log).Log("msg", "progress", "total", total, "elapsed", time.Since(start).Round(time.Millisecond))
			res.Total = total
			stable = 0
			continue
		}

		if total != 0 {
			stable++
		}
		if m.opts.StableRounds > 0 && stable >= m.opts.StableRounds {
			return nil
		}
	}
}

func (m *Monitor) total(ctx context.Context, addr string) (int64, error) {
	var total int64
	err := m.opts.Pool.Do(ctx, addr, func(ctx context.Context, c *client.Client) (err error) {
		total, err = c.Total(ctx)
		return err
	})
	return total, err
}
