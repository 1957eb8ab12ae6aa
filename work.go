package tally

import "github.com/rfratto/tally/source"

// workItem is an entry in the work queue. The chunk is resolved through its
// owning file when the item is assigned.
type workItem struct {
	FileID  string
	ChunkID string
}

// Assignment is a chunk handed to a worker.
type Assignment struct {
	ChunkID string
	FileID  string
	FileURL string // file://<abs path> for local files.
	Offset  int64
	Length  int
	Range   string // HTTP Range header value covering the chunk.
}

// GetWork pops the next chunk to process. ok is false when no work is
// queued. Chunks which already have a value are skipped.
func (n *Node) GetWork() (a Assignment, ok bool) {
	n.mut.Lock()
	defer n.mut.Unlock()

	for {
		item, ok := n.work.TryDequeue()
		if !ok {
			return Assignment{}, false
		}
		if _, done := n.results[item.ChunkID]; done {
			continue
		}

		rec, ok := n.files[item.FileID]
		if !ok {
			continue
		}
		c, ok := rec.chunks[item.ChunkID]
		if !ok {
			continue
		}

		n.m.workAssigned.Inc()
		return Assignment{
			ChunkID: item.ChunkID,
			FileID:  rec.id,
			FileURL: rec.src.URL(),
			Offset:  c.offset,
			Length:  c.length,
			Range:   source.FormatRange(c.offset, c.length),
		}, true
	}
}

// QueueLength returns the number of queued work items.
func (n *Node) QueueLength() int { return n.work.Len() }
