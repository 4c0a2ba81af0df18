// Package vision talks to a local Ollama server for image analysis. Model
// selection is preference-ordered: the configured model always wins, then
// the best installed vision model, with an automatic pull as a last resort.
package vision

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"gridtag/internal/logging"
	"gridtag/internal/services"
)

const (
	defaultTimeout       = 300 * time.Second
	connectTimeout       = 5 * time.Second
	listTimeout          = 10 * time.Second
	pullTimeout          = time.Hour
	defaultRetryAttempts = 3
	defaultRetryBase     = 2 * time.Second
	defaultRetryMax      = 20 * time.Second
)

// defaultModels in preference order. Qwen2.5-VL reads car numbers most
// reliably; the llava variants hallucinate digits but work everywhere.
var defaultModels = []string{
	"qwen2.5vl:7b",
	"minicpm-v",
	"llava:7b",
	"llava:13b",
	"llava",
}

// Config captures the runtime settings for the vision server.
type Config struct {
	ServerURL      string
	Model          string
	TimeoutSeconds int
}

// Client wraps the Ollama HTTP API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	sleeper          func(time.Duration)

	mu       sync.Mutex
	resolved string
}

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

// WithRetryMaxAttempts overrides the default retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a vision client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	client := &Client{
		cfg: Config{
			ServerURL:      strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/"),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		logger:           logger,
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBase,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.ServerURL == "" {
		client.cfg.ServerURL = "http://localhost:11434"
	}
	return client
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("vision request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// CheckConnection verifies the server is reachable. Used at startup so an
// unreachable server fails the batch before any work happens.
func (c *Client) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ServerURL+"/api/tags", nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "vision", "check_connection", "build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "vision", "check_connection",
			fmt.Sprintf("vision server unreachable at %s", c.cfg.ServerURL), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrConfiguration, "vision", "check_connection",
			fmt.Sprintf("vision server returned status %d", resp.StatusCode), nil)
	}
	return nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ResolveModel returns the model to use for inference. A configured model
// is taken as-is; otherwise installed models are matched against the
// preference list, first exactly and then by base name. The result is
// cached for the lifetime of the client.
func (c *Client) ResolveModel(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved != "" {
		return c.resolved, nil
	}
	if c.cfg.Model != "" {
		c.resolved = c.cfg.Model
		return c.resolved, nil
	}

	installed, err := c.listModels(ctx)
	if err != nil {
		return "", err
	}

	for _, candidate := range defaultModels {
		if _, ok := installed[candidate]; ok {
			c.resolved = candidate
			c.logger.Info("using vision model", logging.String("model", candidate))
			return candidate, nil
		}
		base := strings.SplitN(candidate, ":", 2)[0]
		for name := range installed {
			if strings.HasPrefix(name, base) {
				c.resolved = name
				c.logger.Info("using vision model", logging.String("model", name))
				return name, nil
			}
		}
	}

	return "", services.Wrap(services.ErrNotFound, "vision", "resolve_model",
		fmt.Sprintf("no vision model installed (checked %s)", strings.Join(defaultModels, ", ")), nil)
}

// EnsureModel resolves a model, pulling the preferred one when nothing
// suitable is installed.
func (c *Client) EnsureModel(ctx context.Context) (string, error) {
	model, err := c.ResolveModel(ctx)
	if err == nil {
		return model, nil
	}
	if !errors.Is(err, services.ErrNotFound) {
		return "", err
	}

	target := c.cfg.Model
	if target == "" {
		target = defaultModels[0]
	}
	c.logger.Info("vision model not found, pulling", logging.String("model", target))
	if err := c.PullModel(ctx, target); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.resolved = target
	c.mu.Unlock()
	return target, nil
}

// PullModel downloads a model, streaming status lines to the log.
func (c *Client) PullModel(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, pullTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return fmt.Errorf("vision pull: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("vision pull: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// The pull response streams one JSON status object per line and can
	// outlast any sane per-request timeout, so bypass the client timeout.
	puller := &http.Client{Transport: c.httpClient.Transport}
	resp, err := puller.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "vision", "pull_model",
			fmt.Sprintf("pulling %s failed", name), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return services.Wrap(services.ErrExternalTool, "vision", "pull_model",
			fmt.Sprintf("pulling %s failed", name),
			&httpStatusError{StatusCode: resp.StatusCode, Body: string(raw)})
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var last string
	for scanner.Scan() {
		var status struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &status); err != nil {
			continue
		}
		if status.Status != "" && status.Status != last {
			c.logger.Info("model pull", logging.String("status", status.Status))
			last = status.Status
		}
	}
	return scanner.Err()
}

// WarmUp loads the model into GPU memory ahead of the first real request,
// so the first image does not absorb the load latency.
func (c *Client) WarmUp(ctx context.Context) error {
	model, err := c.EnsureModel(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("warming up vision model", logging.String("model", model))

	payload := generateRequest{Model: model, Prompt: "", Stream: false}
	_, err = c.generateOnce(ctx, payload)
	return err
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Images  []string        `json:"images,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options,omitzero"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Analyze sends one base64-encoded image with a prompt and returns the
// model's raw text response. Transient server failures are retried with
// exponential backoff.
func (c *Client) Analyze(ctx context.Context, imageBase64, prompt string) (string, error) {
	model, err := c.EnsureModel(ctx)
	if err != nil {
		return "", err
	}
	if imageBase64 == "" {
		return "", errors.New("vision analyze: image required")
	}

	payload := generateRequest{
		Model:  model,
		Prompt: prompt,
		Images: []string{imageBase64},
		Stream: false,
		Options: generateOptions{
			// Low temperature keeps number readings consistent between runs.
			Temperature: 0.1,
			NumPredict:  500,
		},
	}

	attempts := c.retryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		response, err := c.generateOnce(ctx, payload)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if attempt == attempts || !retryable(ctx, err) {
			break
		}
		attrs := []any{logging.Int("attempt", attempt), logging.Error(err)}
		if key, ok := services.ItemKeyFromContext(ctx); ok {
			attrs = append(attrs, logging.String(logging.FieldItem, key))
		}
		c.logger.Warn("inference attempt failed, retrying", attrs...)
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return "", err
		}
	}
	marker := services.ErrTransient
	if errors.Is(lastErr, context.DeadlineExceeded) {
		marker = services.ErrTimeout
	}
	return "", services.Wrap(marker, "vision", "analyze", "inference failed", lastErr)
}

func (c *Client) generateOnce(ctx context.Context, payload generateRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("vision request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+"/api/generate", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("vision request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("vision request: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &httpStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("vision request: decode response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("vision request: server error: %s", parsed.Error)
	}
	return parsed.Response, nil
}

func (c *Client) listModels(ctx context.Context) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ServerURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("vision tags: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "vision", "list_models",
			"listing installed models failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vision tags: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("vision tags: decode response: %w", err)
	}
	installed := make(map[string]struct{}, len(tags.Models))
	for _, model := range tags.Models {
		installed[model.Name] = struct{}{}
	}
	return installed, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if delay > defaultRetryMax {
		delay = defaultRetryMax
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if c.sleeper != nil {
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
