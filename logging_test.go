package tally

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPErrorLog(t *testing.T) {
	cases := []struct {
		name     string
		message  string
		expected string
	}{
		{
			name:     "panic",
			message:  "http: panic serving 127.0.0.1:5432: runtime error\n",
			expected: `level="error", msg="http: panic serving 127.0.0.1:5432: runtime error"`,
		},
		{
			name:     "tls handshake",
			message:  "http: TLS handshake error from 127.0.0.1:5432: EOF\n",
			expected: `level="debug", msg="http: TLS handshake error from 127.0.0.1:5432: EOF"`,
		},
		{
			name:     "http2",
			message:  "http2: received GOAWAY\n",
			expected: `level="debug", msg="http2: received GOAWAY"`,
		},
		{
			name:     "default level",
			message:  "http: Accept error: too many open files; retrying in 5ms\n",
			expected: `level="warn", msg="http: Accept error: too many open files; retrying in 5ms"`,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			capture := &captureLogger{}
			logger := NewHTTPErrorLog(capture)
			logger.Print(c.message)
			require.Len(t, capture.lines, 1)
			require.Equal(t, c.expected, capture.lines[0])
		})
	}
}

type captureLogger struct {
	lines []string
}

func (c *captureLogger) Log(keyvals ...interface{}) error {
	lineParts := make([]string, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		lineParts = append(lineParts, fmt.Sprintf("%v=%q", keyvals[i], fmt.Sprint(keyvals[i+1])))
	}
	c.lines = append(c.lines, strings.Join(lineParts, ", "))
	return nil
}
