package tally

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/rfratto/tally/source"
)

// fileRecord tracks the discovery progress of a registered file. Fields are
// guarded by Node.mut.
type fileRecord struct {
	id   string
	src  source.Source
	size int64

	// nextOffset is the offset discovery continues from. It never decreases.
	nextOffset int64
	chunks     map[string]*chunkState
}

type chunkState struct {
	offset    int64
	length    int
	processed bool
}

// File summarizes a registered file.
type File struct {
	ID         string      `json:"id"`
	Kind       source.Kind `json:"kind"`
	Source     string      `json:"source"`
	Size       int64       `json:"size"`
	NextOffset int64       `json:"next_offset"`
	Chunks     int         `json:"chunks"`
	Processed  int         `json:"processed"`
}

// Chunk is a discovered chunk of a file.
type Chunk struct {
	ID        string `json:"id"`
	Offset    int64  `json:"offset"`
	Length    int    `json:"length"`
	Processed bool   `json:"processed"`
}

// FileID returns the ID of the file with the given source identifier.
func FileID(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}

// RegisterLocal registers the file at path on the node's filesystem and
// returns its file ID. The path is made absolute.
//
// Registering a file which is already known returns its existing ID.
// ErrSourceUnavailable is returned if the file cannot be sized.
func (n *Node) RegisterLocal(ctx context.Context, path string) (string, error) {
	src, err := source.Local(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrSourceUnavailable, err)
	}
	return n.register(ctx, src)
}

// RegisterRemote registers the file at url and returns its file ID. The
// size of the file is read from the Content-Length of a HEAD request.
//
// Registering a file which is already known returns its existing ID.
// ErrSourceUnavailable is returned if the file cannot be sized.
func (n *Node) RegisterRemote(ctx context.Context, url string) (string, error) {
	return n.register(ctx, source.Remote(url, n.pool.HTTPClient()))
}

func (n *Node) register(ctx context.Context, src source.Source) (string, error) {
	if !n.running.Load() {
		return "", ErrNotRunning
	}

	id := FileID(src.Identifier())

	n.mut.Lock()
	_, exist := n.files[id]
	n.mut.Unlock()
	if exist {
		return id, nil
	}

	size, err := src.Size(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrSourceUnavailable, err)
	}

	rec := &fileRecord{
		id:     id,
		src:    src,
		size:   size,
		chunks: make(map[string]*chunkState),
	}

	n.mut.Lock()
	if _, exist := n.files[id]; exist {
		// Lost a race with a concurrent registration; keep the first record.
		n.mut.Unlock()
		return id, nil
	}
	n.files[id] = rec
	n.m.files.Set(float64(len(n.files)))
	n.mut.Unlock()

	level.Info(n.log).Log("msg", "registered file", "id", id, "source", src.Identifier(), "size", humanize.IBytes(uint64(size)))

	err = n.goBackground(func(ctx context.Context) { n.discover(ctx, rec) })
	if err != nil {
		return "", err
	}
	n.m.discoveries.Inc()
	return id, nil
}

// Files returns a summary of every registered file, ordered by ID.
func (n *Node) Files() []File {
	n.mut.Lock()
	defer n.mut.Unlock()

	res := make([]File, 0, len(n.files))
	for _, rec := range n.files {
		res = append(res, rec.summary())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// File returns a summary of the file with the given ID.
func (n *Node) File(id string) (File, bool) {
	n.mut.Lock()
	defer n.mut.Unlock()

	rec, ok := n.files[id]
	if !ok {
		return File{}, false
	}
	return rec.summary(), true
}

// FileChunks returns the chunks discovered so far for a file, ordered by
// offset.
func (n *Node) FileChunks(id string) ([]Chunk, bool) {
	n.mut.Lock()
	defer n.mut.Unlock()

	rec, ok := n.files[id]
	if !ok {
		return nil, false
	}

	res := make([]Chunk, 0, len(rec.chunks))
	for cid, c := range rec.chunks {
		res = append(res, Chunk{ID: cid, Offset: c.offset, Length: c.length, Processed: c.processed})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Offset < res[j].Offset })
	return res, true
}

// summary must be called with Node.mut held.
func (rec *fileRecord) summary() File {
	f := File{
		ID:         rec.id,
		Kind:       rec.src.Kind(),
		Source:     rec.src.Identifier(),
		Size:       rec.size,
		NextOffset: rec.nextOffset,
		Chunks:     len(rec.chunks),
	}
	for _, c := range rec.chunks {
		if c.processed {
			f.Processed++
		}
	}
	return f
}
