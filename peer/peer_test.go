package peer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONRepresentation(t *testing.T) {
	s := Status{
		Status: StatusOnline,
		URL:    "http://localhost:5000",
		Files:  2,
		Peers:  []string{"http://localhost:5001"},
	}

	b, err := json.Marshal(s)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"status": "online",
		"url": "http://localhost:5000",
		"files": 2,
		"peers": ["http://localhost:5001"]
	}`, string(b))

	var q Status
	require.NoError(t, json.Unmarshal(b, &q))
	require.Equal(t, s, q)
}

func TestNormalize(t *testing.T) {
	tt := []struct {
		input       string
		expect      string
		expectError bool
	}{
		{input: "http://localhost:5000", expect: "http://localhost:5000"},
		{input: "http://localhost:5000/", expect: "http://localhost:5000"},
		{input: " https://node-a.example:443 ", expect: "https://node-a.example:443"},
		{input: "http://10.0.0.1:5000/tally/", expect: "http://10.0.0.1:5000/tally"},
		{input: "", expectError: true},
		{input: "localhost:5000", expectError: true},
		{input: "ftp://localhost:5000", expectError: true},
		{input: "http://", expectError: true},
		{input: "http://localhost:5000/?x=1", expectError: true},
	}

	for _, tc := range tt {
		t.Run(tc.input, func(t *testing.T) {
			actual, err := Normalize(tc.input)
			if tc.expectError {
				require.ErrorIs(t, err, ErrInvalidAddr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expect, actual)
		})
	}
}

func TestSet(t *testing.T) {
	s := NewSet("http://b", "http://a")
	s.Add("http://a")

	require.True(t, s.Has("http://a"))
	require.False(t, s.Has("http://c"))
	require.Equal(t, []string{"http://a", "http://b"}, s.Slice())

	require.True(t, s.Equal(NewSet("http://a", "http://b")))
	require.False(t, s.Equal(NewSet("http://a")))
	require.False(t, s.Equal(NewSet("http://a", "http://c")))
}
