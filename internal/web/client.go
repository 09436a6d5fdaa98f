package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/sync"
)

// Client is a sync.Remote that talks to a Server over HTTP.
type Client struct {
	base string
	http *http.Client
}

var _ sync.Remote = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient returns a client for the server at endpoint, e.g.
// "http://localhost:8085".
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{base: strings.TrimRight(endpoint, "/"), http: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Meta(ctx context.Context) (sync.Meta, error) {
	var m sync.Meta
	err := c.post(ctx, "/sync/meta", struct{}{}, &m)
	return m, err
}

func (c *Client) Start(ctx context.Context, req sync.StartRequest) (sync.StartResponse, error) {
	var resp sync.StartResponse
	err := c.post(ctx, "/sync/start", req, &resp)
	return resp, err
}

func (c *Client) Pull(ctx context.Context, req sync.PullRequest) (sync.Batch, error) {
	var b sync.Batch
	err := c.post(ctx, "/sync/pull", req, &b)
	return b, err
}

func (c *Client) Push(ctx context.Context, req sync.PushRequest) error {
	return c.post(ctx, "/sync/push", req, nil)
}

func (c *Client) Finish(ctx context.Context, req sync.FinishRequest) (sync.FinishResponse, error) {
	var resp sync.FinishResponse
	err := c.post(ctx, "/sync/finish", req, &resp)
	return resp, err
}

func (c *Client) Abort(ctx context.Context, session string) error {
	return c.post(ctx, "/sync/abort", abortRequest{Session: session}, nil)
}

func (c *Client) Download(ctx context.Context) (sync.Snapshot, error) {
	var snap sync.Snapshot
	err := c.post(ctx, "/sync/download", struct{}{}, &snap)
	return snap, err
}

func (c *Client) Upload(ctx context.Context, snap storage.Snapshot) (int64, error) {
	var resp uploadResponse
	err := c.post(ctx, "/sync/upload", snap, &resp)
	return resp.USN, err
}

// post sends in as JSON and decodes the reply into out. Errors the server
// reports by code come back as the matching sentinel; everything that went
// wrong in transit wraps sync.ErrNetworkFailure.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", sync.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(path, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", sync.ErrNetworkFailure, path, err)
	}
	return nil
}

func decodeError(path string, resp *http.Response) error {
	var e errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&e); err != nil || e.Code == "" {
		return fmt.Errorf("%w: %s returned %s", sync.ErrNetworkFailure, path, resp.Status)
	}
	for _, c := range errorCodes {
		if c.code == e.Code {
			return fmt.Errorf("%w: %s", c.err, e.Error)
		}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s: %s", sync.ErrNetworkFailure, path, e.Error)
	}
	return errors.New("remote: " + e.Error)
}
