package tally

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rfratto/tally/chunk"
	"github.com/rfratto/tally/internal/testlogger"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, l log.Logger, cfg Config) *Node {
	t.Helper()

	if l == nil {
		l = log.NewNopLogger()
	}
	if cfg.AdvertiseURL == "" {
		cfg.AdvertiseURL = "http://node-a.test:5000"
	}
	if cfg.DiscoveryInterval == 0 {
		cfg.DiscoveryInterval = 10 * time.Millisecond
	}
	if cfg.GossipInterval == 0 {
		// Tests drive gossip rounds manually.
		cfg.GossipInterval = time.Hour
	}
	cfg.Log = log.With(l, "node", cfg.AdvertiseURL)

	n, err := NewNode(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(func() { require.NoError(t, n.Stop()) })
	return n
}

// writeWords writes exactly size bytes of space-separated random words to a
// new file and returns its path.
func writeWords(t *testing.T, size int) string {
	t.Helper()
	return writeSeededWords(t, size, 0)
}

func writeSeededWords(t *testing.T, size int, seed int64) string {
	t.Helper()

	var (
		rnd     = rand.New(rand.NewSource(seed))
		letters = "abcdefghijklmnopqrstuvwxyz"
		sb      strings.Builder
	)
	sb.Grow(size + 16)
	for sb.Len() < size {
		wordLen := 1 + rnd.Intn(10)
		for i := 0; i < wordLen; i++ {
			sb.WriteByte(letters[rnd.Intn(len(letters))])
		}
		if rnd.Intn(12) == 0 {
			sb.WriteByte('\n')
		} else {
			sb.WriteByte(' ')
		}
	}

	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()[:size]), 0o644))
	return path
}

func waitDiscovered(t *testing.T, n *Node, id string) File {
	t.Helper()

	var f File
	require.Eventually(t, func() bool {
		var ok bool
		f, ok = n.File(id)
		return ok && f.NextOffset >= f.Size
	}, 10*time.Second, 10*time.Millisecond, "discovery did not finish")
	return f
}

func TestConfig_Validate(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := Config{AdvertiseURL: "http://localhost:5000/"}
		require.NoError(t, cfg.validate())

		require.Equal(t, "http://localhost:5000", cfg.AdvertiseURL)
		require.Equal(t, DefaultChunkSize, cfg.ChunkSize)
		require.Equal(t, 2*DefaultChunkSize, cfg.WindowSize)
		require.Equal(t, DefaultGossipInterval, cfg.GossipInterval)
		require.NotNil(t, cfg.Log)
	})

	t.Run("advertise url required", func(t *testing.T) {
		cfg := Config{}
		require.Error(t, cfg.validate())
	})

	t.Run("window smaller than chunk", func(t *testing.T) {
		cfg := Config{AdvertiseURL: "http://localhost:5000", ChunkSize: 100, WindowSize: 50}
		require.EqualError(t, cfg.validate(), "window size 50 must be at least 200 for chunk size 100")
	})

	t.Run("window smaller than two chunks", func(t *testing.T) {
		cfg := Config{AdvertiseURL: "http://localhost:5000", ChunkSize: 100, WindowSize: 150}
		require.EqualError(t, cfg.validate(), "window size 150 must be at least 200 for chunk size 100")
	})
}

func TestNode_Lifecycle(t *testing.T) {
	n, err := NewNode(Config{AdvertiseURL: "http://localhost:5000"})
	require.NoError(t, err)

	_, err = n.RegisterLocal(context.Background(), "/does/not/matter")
	require.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, n.Start())
	require.EqualError(t, n.Start(), "node already running")
	require.NoError(t, n.Stop())
	require.ErrorIs(t, n.Stop(), ErrNotRunning)
	require.EqualError(t, n.Start(), "node has been stopped")
}

func TestNode_RegisterLocal(t *testing.T) {
	path := writeWords(t, 4096)

	t.Run("registration is idempotent", func(t *testing.T) {
		n := newTestNode(t, testlogger.New(t), Config{})

		id, err := n.RegisterLocal(context.Background(), path)
		require.NoError(t, err)
		require.Equal(t, FileID(path), id)

		again, err := n.RegisterLocal(context.Background(), path)
		require.NoError(t, err)
		require.Equal(t, id, again)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := n.RegisterLocal(context.Background(), path)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		require.Len(t, n.Files(), 1)
		require.Equal(t, 1, n.Status().Files)
		require.Equal(t, float64(1), testutil.ToFloat64(n.m.discoveries))

		f := waitDiscovered(t, n, id)
		require.Equal(t, float64(f.Chunks), testutil.ToFloat64(n.m.chunksDiscovered))
		require.Equal(t, f.Chunks, n.QueueLength())
	})

	t.Run("relative paths are made absolute", func(t *testing.T) {
		n := newTestNode(t, testlogger.New(t), Config{})

		wd, err := os.Getwd()
		require.NoError(t, err)
		rel, err := filepath.Rel(wd, path)
		require.NoError(t, err)

		id, err := n.RegisterLocal(context.Background(), rel)
		require.NoError(t, err)
		require.Equal(t, FileID(path), id)
	})

	t.Run("missing file", func(t *testing.T) {
		n := newTestNode(t, testlogger.New(t), Config{})

		_, err := n.RegisterLocal(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
		require.ErrorIs(t, err, ErrSourceUnavailable)
		require.Empty(t, n.Files())
	})

	t.Run("empty file", func(t *testing.T) {
		n := newTestNode(t, testlogger.New(t), Config{})

		empty := filepath.Join(t.TempDir(), "empty.txt")
		require.NoError(t, os.WriteFile(empty, nil, 0o644))

		id, err := n.RegisterLocal(context.Background(), empty)
		require.NoError(t, err)

		f := waitDiscovered(t, n, id)
		require.Zero(t, f.Chunks)
		_, ok := n.GetWork()
		require.False(t, ok)
	})
}

func TestNode_RegisterRemote(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog\n")
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.ServeContent(rw, r, "input.txt", time.Time{}, strings.NewReader(string(content)))
	}))
	t.Cleanup(srv.Close)

	n := newTestNode(t, testlogger.New(t), Config{ChunkSize: 8})

	id, err := n.RegisterRemote(context.Background(), srv.URL+"/input.txt")
	require.NoError(t, err)

	f := waitDiscovered(t, n, id)
	require.Equal(t, int64(len(content)), f.Size)

	work, ok := n.GetWork()
	require.True(t, ok)
	require.Equal(t, srv.URL+"/input.txt", work.FileURL)
	require.Equal(t, "bytes=0-9", work.Range, "first chunk should end after the separator following the size bound")

	t.Run("unavailable source", func(t *testing.T) {
		down := httptest.NewServer(http.NotFoundHandler())
		down.Close()
		_, err := n.RegisterRemote(context.Background(), down.URL+"/input.txt")
		require.ErrorIs(t, err, ErrSourceUnavailable)
	})
}

// TestNode_Discovery checks that discovery of a 3 MiB file produces
// contiguous chunks covering the entire file.
func TestNode_Discovery(t *testing.T) {
	const size = 3 << 20
	path := writeWords(t, size)

	n := newTestNode(t, testlogger.New(t), Config{ChunkSize: 1 << 20})

	id, err := n.RegisterLocal(context.Background(), path)
	require.NoError(t, err)
	f := waitDiscovered(t, n, id)
	require.EqualValues(t, size, f.NextOffset)

	chunks, ok := n.FileChunks(id)
	require.True(t, ok)
	require.Equal(t, f.Chunks, len(chunks))

	var next int64
	for _, c := range chunks {
		require.Equal(t, next, c.Offset, "chunks must be contiguous")
		require.Positive(t, c.Length)
		require.False(t, c.Processed)
		next += int64(c.Length)
	}
	require.EqualValues(t, size, next)
}

func TestNode_GetWork(t *testing.T) {
	path := writeWords(t, 64<<10)
	n := newTestNode(t, testlogger.New(t), Config{ChunkSize: 4 << 10})

	id, err := n.RegisterLocal(context.Background(), path)
	require.NoError(t, err)
	f := waitDiscovered(t, n, id)
	require.Greater(t, f.Chunks, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	seen := make(map[string]struct{})
	for {
		work, ok := n.GetWork()
		if !ok {
			break
		}
		require.Equal(t, id, work.FileID)
		require.Equal(t, "file://"+filepath.ToSlash(path), work.FileURL)

		_, dup := seen[work.ChunkID]
		require.False(t, dup, "chunk %s assigned twice", work.ChunkID)
		seen[work.ChunkID] = struct{}{}

		chunkData := data[work.Offset : work.Offset+int64(work.Length)]
		require.Equal(t, work.ChunkID, chunk.ID(chunkData))
	}
	require.Len(t, seen, f.Chunks)

	// Work is exhausted until more chunks are discovered.
	_, ok := n.GetWork()
	require.False(t, ok)
	require.Zero(t, n.QueueLength())
}

func TestNode_GetWork_MultipleFiles(t *testing.T) {
	n := newTestNode(t, testlogger.New(t), Config{ChunkSize: 2 << 10})

	type fileInfo struct {
		path   string
		data   []byte
		chunks map[int64]Chunk
	}
	files := make(map[string]*fileInfo)

	for i, size := range []int{24 << 10, 40 << 10} {
		path := writeSeededWords(t, size, int64(i+1))
		id, err := n.RegisterLocal(context.Background(), path)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		files[id] = &fileInfo{path: path, data: data, chunks: make(map[int64]Chunk)}
	}
	require.Len(t, files, 2)

	total := 0
	for id, fi := range files {
		f := waitDiscovered(t, n, id)
		chunks, ok := n.FileChunks(id)
		require.True(t, ok)
		require.Len(t, chunks, f.Chunks)
		for _, c := range chunks {
			fi.chunks[c.Offset] = c
		}
		total += f.Chunks
	}

	assigned := make(map[string]int)
	for {
		work, ok := n.GetWork()
		if !ok {
			break
		}

		fi, ok := files[work.FileID]
		require.True(t, ok, "unknown file %s", work.FileID)
		require.Equal(t, "file://"+filepath.ToSlash(fi.path), work.FileURL)

		c, ok := fi.chunks[work.Offset]
		require.True(t, ok, "no chunk of %s at offset %d", work.FileID, work.Offset)
		require.Equal(t, c.ID, work.ChunkID)
		require.Equal(t, c.Length, work.Length)
		require.Equal(t, work.ChunkID, chunk.ID(fi.data[work.Offset:work.Offset+int64(work.Length)]))

		assigned[work.FileID]++
	}

	sum := 0
	for id, fi := range files {
		require.Equal(t, len(fi.chunks), assigned[id], "assignments for %s", id)
		sum += assigned[id]
	}
	require.Equal(t, total, sum)
}

func TestNode_Discovery_WindowIndependent(t *testing.T) {
	const chunkSize = 1 << 10

	// Tokens longer than two chunks force cuts without a separator.
	var sb strings.Builder
	for i := 0; i < 4; i++ {
		sb.WriteString(strings.Repeat(string(rune('a'+i)), 3000))
		sb.WriteByte(' ')
	}
	long := filepath.Join(t.TempDir(), "long.txt")
	require.NoError(t, os.WriteFile(long, []byte(sb.String()), 0o644))

	for _, path := range []string{long, writeWords(t, 48<<10)} {
		var expect []string
		for _, window := range []int{2 * chunkSize, 3*chunkSize + 7, 8 * chunkSize} {
			n := newTestNode(t, testlogger.New(t), Config{ChunkSize: chunkSize, WindowSize: window})

			id, err := n.RegisterLocal(context.Background(), path)
			require.NoError(t, err)
			waitDiscovered(t, n, id)

			chunks, _ := n.FileChunks(id)
			ids := make([]string, 0, len(chunks))
			for _, c := range chunks {
				ids = append(ids, c.ID)
			}
			sort.Strings(ids)

			if expect == nil {
				expect = ids
				continue
			}
			require.Equal(t, expect, ids, "window %d", window)
		}
	}
}

func TestNode_GetWork_SkipsProcessed(t *testing.T) {
	path := writeWords(t, 16<<10)
	n := newTestNode(t, testlogger.New(t), Config{ChunkSize: 4 << 10})

	id, err := n.RegisterLocal(context.Background(), path)
	require.NoError(t, err)
	waitDiscovered(t, n, id)

	chunks, _ := n.FileChunks(id)
	require.True(t, n.AcceptPropagated(chunks[0].ID, 1))

	for {
		work, ok := n.GetWork()
		if !ok {
			break
		}
		require.NotEqual(t, chunks[0].ID, work.ChunkID)
	}

	f, _ := n.File(id)
	require.Equal(t, 1, f.Processed)
}

func TestNode_Submit(t *testing.T) {
	n := newTestNode(t, testlogger.New(t), Config{})

	status, err := n.Submit("chunk-a", 10)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)

	status, err = n.Submit("chunk-a", 99)
	require.NoError(t, err)
	require.Equal(t, StatusDuplicate, status)

	require.False(t, n.AcceptPropagated("chunk-a", 7))
	require.True(t, n.AcceptPropagated("chunk-b", 5))

	_, err = n.Submit("chunk-c", -1)
	require.ErrorIs(t, err, ErrInvalidValue)

	value, ok := n.Result("chunk-a")
	require.True(t, ok)
	require.EqualValues(t, 10, value)
	require.EqualValues(t, 15, n.Total())
}

func TestNode_RegisterPeer(t *testing.T) {
	n := newTestNode(t, testlogger.New(t), Config{AdvertiseURL: "http://self.test:5000"})

	require.NoError(t, n.RegisterPeer("http://peer.test:5001/"))
	require.NoError(t, n.RegisterPeer("http://peer.test:5001"))
	require.Equal(t, []string{"http://peer.test:5001"}, n.Peers())

	require.True(t, errors.Is(n.RegisterPeer("http://self.test:5000"), ErrSelfPeer))
	require.True(t, errors.Is(n.RegisterPeer("not a url"), ErrInvalidPeer))
	require.Len(t, n.Peers(), 1)
}

func TestNode_Observe(t *testing.T) {
	n := newTestNode(t, testlogger.New(t), Config{})

	notified := make(chan []string, 10)
	n.Observe(FuncObserver(func(peers []string) bool {
		notified <- peers
		return true
	}))

	require.NoError(t, n.RegisterPeer("http://peer.test:5001"))

	select {
	case peers := <-notified:
		require.Equal(t, []string{"http://peer.test:5001"}, peers)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "observer was not notified")
	}
}

func TestNode_Gossip_DropsUnreachable(t *testing.T) {
	n := newTestNode(t, testlogger.New(t), Config{RequestTimeout: 100 * time.Millisecond})

	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	require.NoError(t, n.RegisterPeer(down.URL))
	n.Gossip(context.Background())
	require.Empty(t, n.Peers())
}
