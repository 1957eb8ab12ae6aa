// Package client implements a client for the tally node API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rfratto/tally/peer"
	"github.com/rfratto/tally/wire"
)

// ErrSourceUnavailable is returned when a node could not size a file passed
// to RegisterLocalFile or RegisterFile.
var ErrSourceUnavailable = errors.New("source unavailable")

// ErrInvalidPeer is returned by RegisterPeer when the node rejected the
// address.
var ErrInvalidPeer = errors.New("peer rejected registration")

// Client invokes requests against a node API.
type Client struct {
	baseURL string
	c       *http.Client
}

// New returns a new Client for the node at baseURL. http.DefaultClient is
// used if c is nil.
func New(baseURL string, c *http.Client) *Client {
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{baseURL: baseURL, c: c}
}

// BaseURL returns the node address c sends requests to.
func (c *Client) BaseURL() string { return c.baseURL }

// Ping retrieves the status of the node.
func (c *Client) Ping(ctx context.Context) (peer.Status, error) {
	var resp peer.Status
	err := c.do(ctx, http.MethodGet, wire.PathPing, nil, &resp)
	return resp, err
}

// RegisterLocalFile registers a file on the node's filesystem and returns its
// file ID.
func (c *Client) RegisterLocalFile(ctx context.Context, path string) (string, error) {
	var resp wire.RegisterFileResponse
	req := wire.RegisterLocalFileRequest{Path: path}
	if err := c.do(ctx, http.MethodPost, wire.PathRegisterLocalFile, req, &resp); err != nil {
		return "", err
	}
	return registerResult(resp)
}

// RegisterFile registers a remote file and returns its file ID.
func (c *Client) RegisterFile(ctx context.Context, url string) (string, error) {
	var resp wire.RegisterFileResponse
	req := wire.RegisterFileRequest{URL: url}
	if err := c.do(ctx, http.MethodPost, wire.PathRegisterFile, req, &resp); err != nil {
		return "", err
	}
	return registerResult(resp)
}

func registerResult(resp wire.RegisterFileResponse) (string, error) {
	switch resp.Status {
	case wire.StatusProcessing:
		return resp.FileID, nil
	case wire.StatusSourceUnavailable:
		return "", fmt.Errorf("%w: %s", ErrSourceUnavailable, resp.Error)
	default:
		return "", fmt.Errorf("unexpected status %q", resp.Status)
	}
}

// GetWork requests a chunk assignment. ok is false when the node has no work.
func (c *Client) GetWork(ctx context.Context) (resp wire.WorkResponse, ok bool, err error) {
	if err := c.do(ctx, http.MethodGet, wire.PathGetWork, nil, &resp); err != nil {
		return resp, false, err
	}
	if resp.Status == wire.StatusNoWork {
		return resp, false, nil
	}
	return resp, true, nil
}

// SubmitWork submits a computed value for a chunk. The returned status is
// either wire.StatusAccepted or wire.StatusDuplicate.
func (c *Client) SubmitWork(ctx context.Context, chunkID string, count int64) (string, error) {
	var resp wire.StatusResponse
	req := wire.ResultRequest{ChunkID: chunkID, Count: &count}
	if err := c.do(ctx, http.MethodPost, wire.PathSubmitWork, req, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// UpdateResult pushes a result accepted elsewhere to the node.
func (c *Client) UpdateResult(ctx context.Context, chunkID string, count int64) error {
	var resp wire.StatusResponse
	req := wire.ResultRequest{ChunkID: chunkID, Count: &count}
	return c.do(ctx, http.MethodPost, wire.PathUpdateResult, req, &resp)
}

// Total retrieves the node's current total.
func (c *Client) Total(ctx context.Context) (int64, error) {
	var resp wire.TotalResponse
	err := c.do(ctx, http.MethodGet, wire.PathTotal, nil, &resp)
	return resp.Total, err
}

// RegisterPeer asks the node to add addr to its peers.
func (c *Client) RegisterPeer(ctx context.Context, addr string) error {
	var resp wire.StatusResponse
	req := wire.RegisterPeerRequest{URL: addr}
	if err := c.do(ctx, http.MethodPost, wire.PathRegisterPeer, req, &resp); err != nil {
		return err
	}
	if resp.Status != wire.StatusRegistered {
		return fmt.Errorf("%w: status %q", ErrInvalidPeer, resp.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		bb, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(bb)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to format http request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.c.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		return nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected response: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
}
