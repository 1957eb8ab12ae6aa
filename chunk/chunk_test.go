package chunk

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tt := []struct {
		name    string
		input   string
		maxSize int
		expect  []Span
	}{
		{
			name:    "empty input",
			input:   "",
			maxSize: 4,
			expect:  nil,
		},
		{
			name:    "input fits",
			input:   "abc",
			maxSize: 4,
			expect:  []Span{{Offset: 0, Length: 3, Open: true}},
		},
		{
			name:    "separator at boundary",
			input:   "abc def",
			maxSize: 4,
			expect: []Span{
				{Offset: 0, Length: 4},
				{Offset: 4, Length: 3, Open: true},
			},
		},
		{
			name:    "separator past boundary",
			input:   "abcd efgh",
			maxSize: 3,
			expect: []Span{
				{Offset: 0, Length: 5},
				{Offset: 5, Length: 3, Open: true},
				{Offset: 8, Length: 1, Open: true},
			},
		},
		{
			name:    "separator beyond search window cuts at max",
			input:   "abcdef ghi",
			maxSize: 3,
			expect: []Span{
				{Offset: 0, Length: 3},
				{Offset: 3, Length: 4},
				{Offset: 7, Length: 3, Open: true},
			},
		},
		{
			name:    "no separator cuts at max",
			input:   "abcdefghij",
			maxSize: 4,
			expect: []Span{
				{Offset: 0, Length: 4},
				{Offset: 4, Length: 4, Open: true},
				{Offset: 8, Length: 2, Open: true},
			},
		},
		{
			name:    "line feed and carriage return",
			input:   "ab\r\ncd\nef",
			maxSize: 3,
			expect: []Span{
				{Offset: 0, Length: 3},
				{Offset: 3, Length: 4},
				{Offset: 7, Length: 2, Open: true},
			},
		},
		{
			name:    "max size of one",
			input:   "a b",
			maxSize: 1,
			expect: []Span{
				{Offset: 0, Length: 1},
				{Offset: 1, Length: 1},
				{Offset: 2, Length: 1, Open: true},
			},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			actual := Split([]byte(tc.input), tc.maxSize)
			require.Equal(t, tc.expect, actual)
		})
	}
}

func TestSplit_InvalidMaxSize(t *testing.T) {
	require.Panics(t, func() { Split([]byte("abc"), 0) })
}

func TestSplit_Deterministic(t *testing.T) {
	input := randomText(rand.New(rand.NewSource(1)), 256*1024)

	a := ChunkAll(input, 0, 4096)
	b := ChunkAll(input, 0, 4096)
	require.Equal(t, a, b)
}

func TestSplit_BoundaryPolicy(t *testing.T) {
	const maxSize = 1024

	rnd := rand.New(rand.NewSource(2))
	inputs := [][]byte{
		randomText(rnd, 64*1024),
		bytes.Repeat([]byte{'x'}, 10*maxSize+17),
		[]byte(strings.Repeat("a ", 5000)),
	}

	for _, input := range inputs {
		spans := Split(input, maxSize)

		var next int
		for i, s := range spans {
			require.NotZero(t, s.Length, "span %d has zero length", i)
			require.Less(t, s.Length, 2*maxSize, "span %d is too long", i)
			require.Equal(t, next, s.Offset, "span %d is not contiguous", i)
			next = s.End()

			if i == len(spans)-1 {
				continue
			}
			endsAtMax := s.Length == maxSize
			endsAfterSeparator := IsSeparator(input[s.End()-1])
			require.True(t, endsAtMax || endsAfterSeparator, "span %d ends mid-token", i)
		}
		require.Equal(t, len(input), next, "spans must cover the whole input")
	}
}

func TestSettled(t *testing.T) {
	tt := []struct {
		name   string
		spans  []Span
		final  bool
		expect []Span
	}{
		{
			name:   "nothing",
			spans:  nil,
			expect: nil,
		},
		{
			name:   "final keeps everything",
			spans:  []Span{{Offset: 0, Length: 4}, {Offset: 4, Length: 2, Open: true}},
			final:  true,
			expect: []Span{{Offset: 0, Length: 4}, {Offset: 4, Length: 2, Open: true}},
		},
		{
			name:   "trailing open span dropped",
			spans:  []Span{{Offset: 0, Length: 4}, {Offset: 4, Length: 2, Open: true}},
			expect: []Span{{Offset: 0, Length: 4}},
		},
		{
			name:   "all open",
			spans:  []Span{{Offset: 0, Length: 4, Open: true}, {Offset: 4, Length: 4, Open: true}},
			expect: nil,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expect, Settled(tc.spans, tc.final))
		})
	}
}

// windowed chunks data the way discovery does: reading window bytes at the
// cursor and committing only settled spans.
func windowed(data []byte, window, maxSize int) []Chunk {
	var res []Chunk
	for off := 0; off < len(data); {
		end := off + window
		if end > len(data) {
			end = len(data)
		}
		buf := data[off:end]

		spans := Settled(Split(buf, maxSize), end == len(data))
		if len(spans) == 0 {
			panic("window settled nothing")
		}
		chunks := Identify(buf, int64(off), spans)
		res = append(res, chunks...)
		off += spans[len(spans)-1].End()
	}
	return res
}

func TestSplit_WindowIndependent(t *testing.T) {
	const maxSize = 1024

	rnd := rand.New(rand.NewSource(3))

	// Long tokens interleaved with short words: boundaries land both after
	// separators and at hard cuts.
	var mixed bytes.Buffer
	for mixed.Len() < 64*1024 {
		mixed.Write(bytes.Repeat([]byte{'x'}, rnd.Intn(3000)))
		mixed.WriteByte(' ')
		mixed.Write(randomText(rnd, rnd.Intn(2000)))
	}

	inputs := [][]byte{
		bytes.Repeat(append(bytes.Repeat([]byte{'t'}, 3000), ' '), 4),
		randomText(rnd, 96*1024),
		mixed.Bytes(),
	}

	for i, input := range inputs {
		expect := ChunkAll(input, 0, maxSize)
		for _, window := range []int{MinWindow(maxSize), MinWindow(maxSize) + 1, 3000, 8192, 64 * 1024} {
			require.Equal(t, expect, windowed(input, window, maxSize), "input %d, window %d", i, window)
		}
	}
}

func TestSettled_MinWindow(t *testing.T) {
	const maxSize = 16

	input := bytes.Repeat([]byte{'x'}, 10*maxSize)
	spans := Settled(Split(input[:MinWindow(maxSize)], maxSize), false)
	require.NotEmpty(t, spans)
	require.Equal(t, Span{Offset: 0, Length: maxSize}, spans[0])
}

func TestChunkAll(t *testing.T) {
	input := []byte("hello world foo")
	chunks := ChunkAll(input, 100, 6)

	require.Equal(t, []Chunk{
		{ID: ID([]byte("hello ")), Offset: 100, Length: 6},
		{ID: ID([]byte("world ")), Offset: 106, Length: 6},
		{ID: ID([]byte("foo")), Offset: 112, Length: 3},
	}, chunks)

	for _, c := range chunks {
		require.Len(t, c.ID, IDLength)
	}
}

func TestID_SameContentSameID(t *testing.T) {
	// Identical bytes found at different offsets of different buffers must
	// share an ID.
	a := ChunkAll([]byte("foo bar "), 0, 4)
	b := ChunkAll([]byte("xxxx foo bar "), 0, 4)

	require.Equal(t, a[0].ID, b[1].ID)
	require.Equal(t, a[1].ID, b[2].ID)
}

func randomText(rnd *rand.Rand, n int) []byte {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"

	buf := make([]byte, n)
	for i := range buf {
		switch v := rnd.Intn(100); {
		case v < 12:
			buf[i] = ' '
		case v < 14:
			buf[i] = '\n'
		default:
			buf[i] = alphabet[rnd.Intn(len(alphabet))]
		}
	}
	return buf
}
