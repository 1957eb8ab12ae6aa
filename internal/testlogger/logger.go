// Package testlogger provides go-kit loggers bound to a test.
package testlogger

import (
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
)

// New returns a new log.Logger that writes through t.Log, so output is only
// shown for failing tests or when running with -v.
func New(t *testing.T) log.Logger {
	t.Helper()

	l := log.NewSyncLogger(log.NewLogfmtLogger(&testWriter{t: t}))
	l = log.WithPrefix(l,
		"ts", log.Valuer(testTimestamp),
	)

	return l
}

type testWriter struct {
	t *testing.T
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// testTimestamp is a log.Valuer that returns the timestamp
// without the date or timezone, reducing the noise in the test.
func testTimestamp() interface{} {
	t := time.Now().UTC()
	return t.Format("15:04:05.000")
}
