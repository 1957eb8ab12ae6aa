// Package source reads byte ranges from local files and remote URLs.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind tags where a Source reads from.
type Kind string

const (
	KindLocal  Kind = "local"  // File on the local filesystem.
	KindRemote Kind = "remote" // File fetched over HTTP.
)

// A Source is a sized, randomly readable file.
type Source interface {
	// Kind returns where the Source reads from.
	Kind() Kind

	// Identifier returns the absolute path of a local file or the URL of a
	// remote file. File IDs are derived from it.
	Identifier() string

	// URL returns a URL which Open resolves back to an equivalent Source.
	URL() string

	// Size returns the size of the file in bytes.
	Size(ctx context.Context) (int64, error)

	// ReadRange reads up to n bytes starting at offset. Fewer bytes are
	// returned when the file ends before offset+n.
	ReadRange(ctx context.Context, offset int64, n int) ([]byte, error)
}

// Open returns a Source for a file:// URL or an http(s):// URL. cli is used
// for remote sources; http.DefaultClient is used if cli is nil.
func Open(rawURL string, cli *http.Client) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source url: %w", err)
	}

	switch u.Scheme {
	case "file":
		return Local(u.Path)
	case "http", "https":
		return Remote(rawURL, cli), nil
	default:
		return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

// LocalFile reads from a file on the local filesystem.
type LocalFile struct {
	path string
}

var _ Source = (*LocalFile)(nil)

// Local returns a Source for the file at path. path is made absolute.
func Local(path string) (*LocalFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	return &LocalFile{path: abs}, nil
}

// Kind implements Source.
func (l *LocalFile) Kind() Kind { return KindLocal }

// Identifier implements Source.
func (l *LocalFile) Identifier() string { return l.path }

// URL implements Source.
func (l *LocalFile) URL() string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(l.path)}).String()
}

// Size implements Source.
func (l *LocalFile) Size(_ context.Context) (int64, error) {
	fi, err := os.Stat(l.path)
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%s is a directory", l.path)
	}
	return fi.Size(), nil
}

// ReadRange implements Source.
func (l *LocalFile) ReadRange(_ context.Context, offset int64, n int) ([]byte, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read %s at offset %d: %w", l.path, offset, err)
	}
	return buf[:read], nil
}

// RemoteFile reads from a URL using HEAD and ranged GET requests.
type RemoteFile struct {
	url string
	cli *http.Client
}

var _ Source = (*RemoteFile)(nil)

// Remote returns a Source for the file at rawURL. http.DefaultClient is used
// if cli is nil.
func Remote(rawURL string, cli *http.Client) *RemoteFile {
	if cli == nil {
		cli = http.DefaultClient
	}
	return &RemoteFile{url: rawURL, cli: cli}
}

// Kind implements Source.
func (r *RemoteFile) Kind() Kind { return KindRemote }

// Identifier implements Source.
func (r *RemoteFile) Identifier() string { return r.url }

// URL implements Source.
func (r *RemoteFile) URL() string { return r.url }

// Size implements Source. The size is read from the Content-Length of a HEAD
// request.
func (r *RemoteFile) Size(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to format http request: %w", err)
	}

	resp, err := r.cli.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("unexpected response: %s", resp.Status)
	case resp.ContentLength < 0:
		return 0, fmt.Errorf("%s did not report a content length", r.url)
	}
	return resp.ContentLength, nil
}

// ReadRange implements Source. Servers which ignore the Range header and
// respond with the whole file are supported.
func (r *RemoteFile) ReadRange(ctx context.Context, offset int64, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to format http request: %w", err)
	}
	req.Header.Set("Range", FormatRange(offset, n))

	resp, err := r.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// no-op: body starts at offset
	case http.StatusOK:
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			return nil, fmt.Errorf("failed to skip to offset %d: %w", offset, err)
		}
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected response: %s", resp.Status)
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return buf, nil
}

// FormatRange returns an HTTP Range header value for n bytes starting at
// offset. The end of the range is inclusive.
func FormatRange(offset int64, n int) string {
	return fmt.Sprintf("bytes=%d-%d", offset, offset+int64(n)-1)
}

// ParseRange parses a range produced by FormatRange.
func ParseRange(s string) (offset int64, n int, err error) {
	if !strings.HasPrefix(s, "bytes=") {
		return 0, 0, fmt.Errorf("range %q must start with bytes=", s)
	}
	startStr, endStr, ok := strings.Cut(strings.TrimPrefix(s, "bytes="), "-")
	if !ok {
		return 0, 0, fmt.Errorf("range %q is missing an end", s)
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start: %w", err)
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end: %w", err)
	}
	if start < 0 || end < start {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	return start, int(end - start + 1), nil
}
