package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guseggert/sidecarshell/internal/httpretry"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Client calls a running shell's bridge. It is used by the command-line invoker and by tests.
type Client struct {
	Logger *zap.SugaredLogger
	// HTTPClient retries transient failures and is used for heartbeats.
	HTTPClient *http.Client
	// InvokeHTTPClient never retries, since a retried backend_call could run twice.
	InvokeHTTPClient *http.Client

	baseURL                  string
	customizeRetryableClient func(*retryablehttp.Client)
	waitInterval             time.Duration
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

// InvokeError is a failed invocation as reported by the bridge.
type InvokeError struct {
	Command    string
	Kind       string
	Message    string
	StatusCode int
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("%s failed (%s): %s", e.Command, e.Kind, e.Message)
}

// NewClient builds a client for the bridge at addr ("host:port" or a full http URL).
func NewClient(log *zap.SugaredLogger, addr string, opts ...ClientOption) *Client {
	baseURL := addr
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		Logger:       log.Named("shell_client"),
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	retryClient := httpretry.NewClient(c.Logger)
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.RetryMax = 10
	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}
	c.HTTPClient = retryClient.StandardClient()
	c.InvokeHTTPClient = retryClient.HTTPClient
	return c
}

func (c *Client) SendHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/heartbeat", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected heartbeat status code %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := c.SendHeartbeat(ctx)
			if err == nil {
				c.Logger.Debug("heartbeat succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got heartbeat error: %s", err)
		}
	}
}

// Invoke runs command with args (any JSON-encodable value, or nil) and decodes its result into result, which may be nil.
// Failures reported by the bridge are returned as *InvokeError.
func (c *Client) Invoke(ctx context.Context, command string, args any, result any) error {
	var body io.Reader
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("encoding args: %w", err)
		}
		body = bytes.NewReader(b)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke/"+command, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	httpResp, err := c.InvokeHTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("invoking %s over HTTP: %w", command, err)
	}
	defer httpResp.Body.Close()

	var resp InvokeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("decoding %s response (HTTP status %d): %w", command, httpResp.StatusCode, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return &InvokeError{
			Command:    command,
			Kind:       resp.Kind,
			Message:    resp.Error,
			StatusCode: httpResp.StatusCode,
		}
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decoding %s result: %w", command, err)
	}
	return nil
}
