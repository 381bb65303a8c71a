package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sceneflow/internal/config"
)

const (
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 5
)

// Client talks to the generation provider's HTTP API. Transient failures are
// retried with capped exponential backoff; everything else surfaces to the
// caller unchanged so the quality loop can treat it opaquely.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

var _ Provider = (*Client)(nil)

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count (defaults to 5).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a provider client from configuration.
func NewClient(cfg config.Provider, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		apiKey:           strings.TrimSpace(cfg.APIKey),
		baseURL:          strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:            strings.TrimSpace(cfg.Model),
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.baseURL == "" {
		client.baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("generation request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type contentRequestBody struct {
	SystemInstruction *contentPart `json:"system_instruction,omitempty"`
	Prompt            string       `json:"prompt"`
	ResponseMIMEType  string       `json:"response_mime_type,omitempty"`
}

type contentPart struct {
	Text string `json:"text"`
}

type contentResponseBody struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateContent issues a completion request and returns the model's text.
func (c *Client) GenerateContent(ctx context.Context, req ContentRequest) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("generate content: prompt required")
	}
	if c.apiKey == "" {
		return "", errors.New("generate content: api key required")
	}
	body := contentRequestBody{Prompt: prompt}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		body.SystemInstruction = &contentPart{Text: system}
	}
	if req.JSONOutput {
		body.ResponseMIMEType = "application/json"
	}

	var parsed contentResponseBody
	if err := c.postWithRetry(ctx, c.modelEndpoint("generateContent"), body, &parsed, "generate content"); err != nil {
		return "", err
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("generate content: api error: %s", strings.TrimSpace(parsed.Error.Message))
	}
	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return "", errors.New("generate content: empty response")
	}
	return text, nil
}

type imageRequestBody struct {
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	Count           int      `json:"count,omitempty"`
}

type imageResponseBody struct {
	Images []string `json:"images"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateImages issues an image request and returns the produced image URIs.
func (c *Client) GenerateImages(ctx context.Context, req ImageRequest) ([]string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("generate images: prompt required")
	}
	if c.apiKey == "" {
		return nil, errors.New("generate images: api key required")
	}
	body := imageRequestBody{Prompt: prompt, ReferenceImages: req.ReferenceImages, Count: req.Count}

	var parsed imageResponseBody
	if err := c.postWithRetry(ctx, c.modelEndpoint("generateImages"), body, &parsed, "generate images"); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("generate images: api error: %s", strings.TrimSpace(parsed.Error.Message))
	}
	if len(parsed.Images) == 0 {
		return nil, errors.New("generate images: empty response")
	}
	return parsed.Images, nil
}

type videoRequestBody struct {
	Prompt          string  `json:"prompt"`
	ImageURI        string  `json:"image_uri,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

type videoOperationBody struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Response *struct {
		Videos []string `json:"videos"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b videoOperationBody) toOperation() VideoOperation {
	op := VideoOperation{Name: b.Name, Done: b.Done}
	if b.Response != nil {
		op.VideoURIs = b.Response.Videos
	}
	if b.Error != nil {
		op.ErrorMessage = strings.TrimSpace(b.Error.Message)
	}
	return op
}

// GenerateVideos starts a long-running video generation call and returns its
// operation handle. The call itself is not awaited here.
func (c *Client) GenerateVideos(ctx context.Context, req VideoRequest) (VideoOperation, error) {
	var empty VideoOperation
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return empty, errors.New("generate videos: prompt required")
	}
	if c.apiKey == "" {
		return empty, errors.New("generate videos: api key required")
	}
	body := videoRequestBody{Prompt: prompt, ImageURI: req.ImageURI, DurationSeconds: req.DurationSeconds}

	var parsed videoOperationBody
	if err := c.postWithRetry(ctx, c.modelEndpoint("generateVideos"), body, &parsed, "generate videos"); err != nil {
		return empty, err
	}
	if parsed.Name == "" {
		return empty, errors.New("generate videos: operation name missing")
	}
	return parsed.toOperation(), nil
}

// GetVideosOperation polls the state of a long-running video call.
func (c *Client) GetVideosOperation(ctx context.Context, name string) (VideoOperation, error) {
	var empty VideoOperation
	name = strings.TrimSpace(name)
	if name == "" {
		return empty, errors.New("get videos operation: name required")
	}
	if c.apiKey == "" {
		return empty, errors.New("get videos operation: api key required")
	}

	var parsed videoOperationBody
	endpoint := c.baseURL + "/" + strings.TrimLeft(name, "/")
	if err := c.getWithRetry(ctx, endpoint, &parsed, "get videos operation"); err != nil {
		return empty, err
	}
	return parsed.toOperation(), nil
}

type countTokensBody struct {
	Prompt string `json:"prompt"`
}

type countTokensResponse struct {
	TotalTokens int `json:"total_tokens"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CountTokens returns the token count the model assigns to a prompt.
func (c *Client) CountTokens(ctx context.Context, prompt string) (int, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return 0, errors.New("count tokens: prompt required")
	}
	if c.apiKey == "" {
		return 0, errors.New("count tokens: api key required")
	}

	var parsed countTokensResponse
	if err := c.postWithRetry(ctx, c.modelEndpoint("countTokens"), countTokensBody{Prompt: prompt}, &parsed, "count tokens"); err != nil {
		return 0, err
	}
	if parsed.Error != nil {
		return 0, fmt.Errorf("count tokens: api error: %s", strings.TrimSpace(parsed.Error.Message))
	}
	return parsed.TotalTokens, nil
}

func (c *Client) modelEndpoint(method string) string {
	return fmt.Sprintf("%s/models/%s:%s", c.baseURL, c.model, method)
}

func (c *Client) postWithRetry(ctx context.Context, endpoint string, body, target any, op string) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode body: %w", op, err)
	}
	return c.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, target, op)
}

func (c *Client) getWithRetry(ctx context.Context, endpoint string, target any, op string) error {
	return c.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}, target, op)
}

func (c *Client) doWithRetry(ctx context.Context, build func(context.Context) (*http.Request, error), target any, op string) error {
	attempts := c.retryAttempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.sendOnce(ctx, build, target)
		if err == nil {
			return nil
		}

		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return fmt.Errorf("%s: %w", op, err)
		}
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%s: %w", op, sleepErr)
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

func (c *Client) sendOnce(ctx context.Context, build func(context.Context) (*http.Request, error), target any) error {
	req, err := build(ctx)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error (timeout=%s): %w", c.timeoutDuration(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) timeoutDuration() time.Duration {
	if c == nil || c.httpClient == nil || c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

func (c *Client) retryAttempts() int {
	if c == nil || c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil {
		return 0, false
	}
	if ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return c.backoffDelay(attempt), true
	}

	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := defaultRetryBaseDelay
	maxDelay := defaultRetryMaxDelay
	if c != nil {
		if c.retryBaseDelay >= 0 {
			base = c.retryBaseDelay
		}
		if c.retryMaxDelay > 0 {
			maxDelay = c.retryMaxDelay
		}
	}
	if base <= 0 {
		return 0
	}

	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := defaultRetryMaxDelay
	if c != nil && c.retryMaxDelay > 0 {
		maxDelay = c.retryMaxDelay
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx == nil {
		return errors.New("generation retry: nil context")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c != nil && c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
