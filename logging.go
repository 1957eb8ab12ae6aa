package tally

import (
	"bytes"
	"io"
	golog "log"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// NewHTTPErrorLog returns a *log.Logger suitable for http.Server.ErrorLog
// which forwards messages to l.
func NewHTTPErrorLog(l log.Logger) *golog.Logger {
	return golog.New(&httpOutputLogger{logger: l}, "", 0)
}

// httpOutputLogger does best-effort classification of the messages logged by
// net/http servers and logs them to logger with a matching level. Unknown
// messages are logged at warn.
type httpOutputLogger struct {
	logger log.Logger
}

var _ io.Writer = (*httpOutputLogger)(nil)

func (h *httpOutputLogger) Write(p []byte) (int, error) {
	msg := string(bytes.TrimSpace(p))

	var err error
	switch {
	case bytes.Contains(p, []byte("panic serving")):
		err = level.Error(h.logger).Log("msg", msg)
	case bytes.Contains(p, []byte("TLS handshake error")),
		bytes.Contains(p, []byte("superfluous response.WriteHeader")),
		bytes.HasPrefix(p, []byte("http2:")):
		err = level.Debug(h.logger).Log("msg", msg)
	default:
		err = level.Warn(h.logger).Log("msg", msg)
	}

	if err != nil {
		return 0, err
	}
	return len(p), nil
}
