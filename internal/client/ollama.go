package client

import (
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
	"time"

	"github.com/markis/seqthink/internal/stream"
)

// Constants
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "deepseek-coder:1.3b"

	defaultTimeout = 60 * time.Second
)

// Options are sampling parameters forwarded to the backend untouched.
// Nil fields are left to the backend's defaults.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	MaxTokens   *int     `json:"num_predict,omitempty"`
}

func (o Options) empty() bool {
	return o.Temperature == nil && o.TopP == nil && o.TopK == nil && o.MaxTokens == nil
}

// Request is one generation call.
type Request struct {
	Prompt  string
	Model   string
	Options Options
}

// generateRequest is the body of POST /api/generate.
type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Options *Options `json:"options,omitempty"`
}

// generateResponse is a non-streaming /api/generate reply.
type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// ModelInfo describes one locally available model.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Client talks to an Ollama server.
type Client struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the server address.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds non-streaming calls. Streams are bounded only by the
// caller's context.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for model.
func New(model string, opts ...ClientOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		model:   model,
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimSuffix(c.baseURL, "/")
	if c.httpClient == nil {
		c.httpClient = newHTTPClient()
	}
	return c
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	// Add context-aware dial options
	transport.DialContext = (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{Transport: transport}
}

// Model returns the default model id.
func (c *Client) Model() string {
	return c.model
}

// Generate returns the complete response text for req.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("failed to close response body", slog.String("error", err.Error()))
		}
	}()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", NewTransportError(resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	if out.Error != "" {
		return "", &ModelError{Message: out.Error}
	}
	return out.Response, nil
}

// Stream starts a streaming generation and returns its raw fragments. The
// channel is closed when the body ends; cancelling ctx releases the body.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan stream.Chunk, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	parser := stream.NewParser(ctx)
	go parser.Process(resp.Body)
	return parser.Chunks(), nil
}

func (c *Client) post(ctx context.Context, req Request, streaming bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	payload := generateRequest{
		Model:  model,
		Prompt: req.Prompt,
		Stream: streaming,
	}
	if !req.Options.empty() {
		opts := req.Options
		payload.Options = &opts
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if streaming {
		httpReq.Header.Set("Accept", "application/x-ndjson")
	}

	c.logger.Debug("generate request",
		slog.String("model", model),
		slog.Bool("stream", streaming),
		slog.Int("prompt_bytes", len(req.Prompt)))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransportError(0, fmt.Errorf("request failed: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

// statusError turns a non-200 reply into a TransportError, preferring the
// backend's own error message when the body carries one.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return NewTransportError(resp.StatusCode, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, msg))
}

// Ping checks that the server answers and returns its version.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/api/version", &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// ListModels returns the models installed on the server.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out struct {
		Models []ModelInfo `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/tags", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewTransportError(0, fmt.Errorf("failed to execute request: %w", err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("failed to close response body", slog.String("error", err.Error()))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return NewTransportError(resp.StatusCode, errors.New("received empty response"))
		}
		return NewTransportError(resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
