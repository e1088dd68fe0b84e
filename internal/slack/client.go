package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Static errors for Slack client operations.
var (
	// ErrTokenRequired is returned when no token is provided.
	ErrTokenRequired = errors.New("slack: token is required")
	// ErrFileIDRequired is returned when files.info is called without a file ID.
	ErrFileIDRequired = errors.New("slack: file ID is required")
	// ErrChannelRequired is returned when a channel is not provided.
	ErrChannelRequired = errors.New("slack: channel is required")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("slack: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("slack: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("slack: request failed")
)

// DefaultBaseURL is the Slack Web API root.
const DefaultBaseURL = "https://slack.com/api"

// Client defines the Slack operations used while processing a shared video.
type Client interface {
	// FileInfo resolves a file ID to its metadata.
	FileInfo(ctx context.Context, fileID string) (*File, error)

	// PostMessage posts text to channel, threaded under threadTS when set,
	// and returns the new message timestamp.
	PostMessage(ctx context.Context, channel, threadTS, text string) (ts string, err error)

	// UpdateMessage replaces the text of an existing message.
	UpdateMessage(ctx context.Context, channel, ts, text string) error

	// AddReaction adds an emoji reaction to a message.
	AddReaction(ctx context.Context, channel, ts, name string) error

	// RemoveReaction removes an emoji reaction from a message.
	RemoveReaction(ctx context.Context, channel, ts, name string) error

	// UploadFile uploads a local file into a conversation.
	UploadFile(ctx context.Context, params UploadParams) error

	// Download streams a private file URL to destPath.
	Download(ctx context.Context, fileURL, destPath string) error
}

// HTTPClient is the HTTP implementation of the Slack Client interface.
type HTTPClient struct {
	token            string
	baseURL          string
	httpClient       *http.Client
	downloadClient   *http.Client
	maxRetries       int
	baseBackoff      time.Duration
	maxDownloadBytes int64
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client for Web API calls.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithDownloadClient sets the HTTP client used for file transfers.
// Transfers have no client-level timeout by default; callers bound them
// through the request context.
func WithDownloadClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.downloadClient = c
	}
}

// WithBaseURL sets a custom base URL for the Slack Web API.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimRight(u, "/")
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// WithMaxDownloadBytes caps the size of downloaded files. Zero means no limit.
func WithMaxDownloadBytes(n int64) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxDownloadBytes = n
	}
}

// NewClient creates a new Slack HTTP client authenticated with token.
// Bot tokens (xoxb-) drive the Web API; app-level tokens (xapp-) are only
// needed for OpenConnection.
func NewClient(token string, opts ...ClientOption) (*HTTPClient, error) {
	if token == "" {
		return nil, ErrTokenRequired
	}

	c := &HTTPClient{
		token:          token,
		baseURL:        DefaultBaseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		downloadClient: &http.Client{},
		maxRetries:     3,
		baseBackoff:    1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// FileInfo resolves a file ID via files.info.
func (c *HTTPClient) FileInfo(ctx context.Context, fileID string) (*File, error) {
	if fileID == "" {
		return nil, ErrFileIDRequired
	}

	var resp fileInfoResponse
	if err := c.call(ctx, "files.info", url.Values{"file": {fileID}}, &resp); err != nil {
		return nil, err
	}
	return &resp.File, nil
}

// PostMessage posts a message via chat.postMessage.
func (c *HTTPClient) PostMessage(ctx context.Context, channel, threadTS, text string) (string, error) {
	if channel == "" {
		return "", ErrChannelRequired
	}

	form := url.Values{
		"channel": {channel},
		"text":    {text},
	}
	if threadTS != "" {
		form.Set("thread_ts", threadTS)
	}

	var resp postMessageResponse
	if err := c.call(ctx, "chat.postMessage", form, &resp); err != nil {
		return "", err
	}
	return resp.TS, nil
}

// UpdateMessage edits a message via chat.update.
func (c *HTTPClient) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	if channel == "" {
		return ErrChannelRequired
	}

	form := url.Values{
		"channel": {channel},
		"ts":      {ts},
		"text":    {text},
	}
	return c.call(ctx, "chat.update", form, nil)
}

// AddReaction adds an emoji via reactions.add.
func (c *HTTPClient) AddReaction(ctx context.Context, channel, ts, name string) error {
	return c.reaction(ctx, "reactions.add", channel, ts, name)
}

// RemoveReaction removes an emoji via reactions.remove.
func (c *HTTPClient) RemoveReaction(ctx context.Context, channel, ts, name string) error {
	return c.reaction(ctx, "reactions.remove", channel, ts, name)
}

func (c *HTTPClient) reaction(ctx context.Context, method, channel, ts, name string) error {
	if channel == "" {
		return ErrChannelRequired
	}
	form := url.Values{
		"channel":   {channel},
		"timestamp": {ts},
		"name":      {name},
	}
	return c.call(ctx, method, form, nil)
}

// OpenConnection asks apps.connections.open for a Socket Mode websocket URL.
// The client must hold an app-level token.
func (c *HTTPClient) OpenConnection(ctx context.Context) (string, error) {
	var resp connectionsOpenResponse
	if err := c.call(ctx, "apps.connections.open", url.Values{}, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("%w: apps.connections.open returned no url", ErrRequestFailed)
	}
	return resp.URL, nil
}

// rateLimitRetryOnly lists methods that may already have taken effect when a
// transport error or 5xx comes back. They are retried only after a 429.
var rateLimitRetryOnly = map[string]bool{
	"chat.postMessage":             true,
	"files.completeUploadExternal": true,
}

// call performs a Web API method with retries and decodes the response into result.
func (c *HTTPClient) call(ctx context.Context, method string, form url.Values, result interface{}) error {
	endpoint := c.baseURL + "/" + method
	return c.doRequestWithRetry(ctx, method, endpoint, form, result)
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
// A Retry-After header on a 429 overrides the computed backoff.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, endpoint string, form url.Values, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff
	var wait time.Duration

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if wait < backoff {
				wait = backoff
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("slack: context cancelled: %w", ctx.Err())
			case <-time.After(wait):
				backoff *= 2 // Exponential backoff
			}
		}

		err := c.doRequest(ctx, method, endpoint, form, result)
		if err == nil {
			return nil
		}

		var re *retryableError
		if !errors.As(err, &re) {
			return err
		}
		if rateLimitRetryOnly[method] && !errors.Is(err, ErrRateLimited) {
			return err
		}

		lastErr = err
		wait = re.retryAfter
	}

	return fmt.Errorf("slack: max retries exceeded: %w", lastErr)
}

// doRequest performs a single Web API request.
func (c *HTTPClient) doRequest(ctx context.Context, method, endpoint string, form url.Values, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("slack: %s: %w", method, ctx.Err())
		}
		return &retryableError{err: fmt.Errorf("slack: %s: request failed: %w", method, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("slack: %s: read response: %w", method, err)}
	}

	// Handle non-2xx status codes
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 5xx errors are retryable
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		// 429 (rate limit) is retryable after the advertised delay
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{
				err:        fmt.Errorf("%w: %s", ErrRateLimited, method),
				retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}
		// Other errors are not retryable
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("slack: %s: unmarshal response: %w", method, err)
	}
	if !envelope.OK {
		return &APIError{Method: method, Code: envelope.Error}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("slack: %s: unmarshal response: %w", method, err)
		}
	}

	return nil
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err        error
	retryAfter time.Duration
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
