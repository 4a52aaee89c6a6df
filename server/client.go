package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guseggert/omrbridge/dispatch"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// CallError is a failed call as reported by a remote server.
type CallError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Kind)
}

// Client talks to a running server, for example from the CLI while the desktop app is open.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL                  string
	waitInterval             time.Duration
	customizeRetryableClient func(*retryablehttp.Client)
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Error(msg string, kv ...interface{}) { a.Warnw(msg, kv...) }
func (a *logAdapter) Warn(msg string, kv ...interface{})  { a.Warnw(msg, kv...) }
func (a *logAdapter) Info(msg string, kv ...interface{})  { a.Debugw(msg, kv...) }
func (a *logAdapter) Debug(msg string, kv ...interface{}) { a.Debugw(msg, kv...) }

// retryConnErrors retries only when no response arrived. A call that reached the server is never
// repeated, since the backend may already have acted on it.
func retryConnErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err != nil, nil
}

func NewClient(log *zap.SugaredLogger, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		Logger:       log.Named("server_client"),
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 50 * time.Millisecond
	}
	retryClient.RetryMax = 5
	retryClient.CheckRetry = retryConnErrors
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}
	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}
	c.HTTPClient = retryClient.StandardClient()
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(b, &errResp); err != nil || errResp.Error.Kind == "" {
			return &CallError{StatusCode: resp.StatusCode, Kind: KindInternal, Message: strings.TrimSpace(string(b))}
		}
		return &CallError{StatusCode: resp.StatusCode, Kind: errResp.Error.Kind, Message: errResp.Error.Message}
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/health", nil, &st)
	return st, err
}

func (c *Client) Methods(ctx context.Context) ([]dispatch.Method, error) {
	var methods []dispatch.Method
	err := c.do(ctx, http.MethodGet, "/methods", nil, &methods)
	return methods, err
}

// Invoke calls method on the server's bridge. params may be nil, a json.RawMessage, or any value
// encoding to a JSON object.
func (c *Client) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var body []byte
	switch p := params.(type) {
	case nil:
	case json.RawMessage:
		body = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding params: %w", err)
		}
		body = b
	}
	var resp InvokeResponse
	if err := c.do(ctx, http.MethodPost, "/invoke/"+method, body, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// WaitForServer polls /health until the bridge behind the server is ready.
func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		st, err := c.Health(ctx)
		if err == nil {
			c.Logger.Debugw("server ready", "Session", st.Session)
			return nil
		}
		c.Logger.Debugf("server not ready: %s", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
