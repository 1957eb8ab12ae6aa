// Package chunk implements content-defined chunking of byte buffers.
//
// Chunk boundaries prefer to land right after a separator byte (space, line
// feed, or carriage return) so that tokens are not split across chunks.
// Identical bytes always produce identical boundaries and identical chunk
// IDs, which lets independent nodes agree on chunk identity without
// coordinating.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultMaxSize is the default maximum chunk size (1 MiB).
const DefaultMaxSize = 1 << 20

// IDLength is the length of a chunk ID string.
const IDLength = sha256.Size * 2

// Span is a byte range within a buffer passed to Split.
type Span struct {
	Offset int // Offset of the span within the buffer.
	Length int // Length of the span. Never zero.

	// Open is true when the end of the span was decided by the end of the
	// buffer rather than by a separator. Reading more data past the buffer
	// could move the boundary of an open span.
	Open bool
}

// End returns the exclusive end offset of s.
func (s Span) End() int { return s.Offset + s.Length }

// A Chunk is an identified span of data.
type Chunk struct {
	ID     string
	Offset int64
	Length int
}

// IsSeparator reports whether b is a byte chunk boundaries prefer to follow.
func IsSeparator(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r'
}

// ID returns the content ID of data: the hex-encoded SHA-256 digest.
func ID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Split splits data into spans of at least one byte.
//
// Starting from the beginning of a span, Split looks for the first separator
// within the maxSize bytes starting at the last byte of the maxSize boundary
// and cuts immediately after it. If there is none, the span is cut at
// maxSize. The remainder of data is emitted as the final span once it fits
// within maxSize. Spans are therefore shorter than 2*maxSize, and each
// boundary depends only on the 2*maxSize bytes starting at the span.
//
// Split panics if maxSize is not positive.
func Split(data []byte, maxSize int) []Span {
	if maxSize <= 0 {
		panic("chunk: maxSize must be positive")
	}

	var spans []Span
	for start := 0; start < len(data); {
		hard := start + maxSize
		if hard >= len(data) {
			spans = append(spans, Span{Offset: start, Length: len(data) - start, Open: true})
			break
		}

		// The search window ends at limit. When data ends before limit, the
		// search was incomplete and the boundary may still move.
		limit := hard + maxSize - 1
		end, open := hard, limit > len(data)
		for i := hard - 1; i < limit && i < len(data); i++ {
			if IsSeparator(data[i]) {
				end, open = i+1, false
				break
			}
		}

		spans = append(spans, Span{Offset: start, Length: end - start, Open: open})
		start = end
	}
	return spans
}

// MinWindow returns the smallest buffer size for which Split always
// settles at least one span of a buffer that does not end the source.
func MinWindow(maxSize int) int { return 2 * maxSize }

// Settled returns the prefix of spans whose boundaries can no longer move
// when more data is appended to the buffer.
//
// When final is true, the buffer ends at the end of the source and every
// span is settled. Otherwise, trailing open spans are dropped. A buffer of at
// least MinWindow bytes always has a settled first span.
func Settled(spans []Span, final bool) []Span {
	if final || len(spans) == 0 {
		return spans
	}

	n := len(spans)
	for n > 0 && spans[n-1].Open {
		n--
	}
	if n == 0 {
		return nil
	}
	return spans[:n]
}

// ChunkAll splits data with Split and identifies every span. Offsets of the
// returned chunks are relative to base.
func ChunkAll(data []byte, base int64, maxSize int) []Chunk {
	spans := Split(data, maxSize)
	return Identify(data, base, spans)
}

// Identify converts spans of data into Chunks. Offsets of the returned chunks
// are relative to base.
func Identify(data []byte, base int64, spans []Span) []Chunk {
	chunks := make([]Chunk, 0, len(spans))
	for _, s := range spans {
		chunks = append(chunks, Chunk{
			ID:     ID(data[s.Offset:s.End()]),
			Offset: base + int64(s.Offset),
			Length: s.Length,
		})
	}
	return chunks
}
