package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Result is the uniform outcome of a catalog operation as the assistant
// sees it. Transport and database failures are folded into the same shape
// so the dispatch loop never has to branch on error kind.
type Result struct {
	Success     bool             `json:"success"`
	Operation   string           `json:"operation"`
	RecordCount int              `json:"recordCount"`
	Rows        []map[string]any `json:"data,omitempty"`
	Error       string           `json:"error,omitempty"`
	ExecutedAt  time.Time        `json:"executedAt"`
}

// Executor runs catalog operations. The assistant depends on this interface
// so it works identically against the HTTP client, the in-process store,
// or a test fake.
type Executor interface {
	Execute(ctx context.Context, operation string, params map[string]any) Result
}

// ClientConfig holds the HTTP client settings for a remote gateway.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client calls a remote gateway server over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds an HTTP gateway client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With("component", "gateway-client"),
	}
}

// Execute posts the operation to /query. Any transport failure becomes a
// failed Result rather than an error.
func (c *Client) Execute(ctx context.Context, operation string, params map[string]any) Result {
	body, err := json.Marshal(QueryRequest{Operation: operation, Params: params})
	if err != nil {
		return failure(operation, fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return failure(operation, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("gateway request failed", "operation", operation, "error", err)
		return failure(operation, fmt.Sprintf("gateway unreachable: %v", err))
	}
	defer resp.Body.Close()

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return failure(operation, fmt.Sprintf("decode response (status %d): %v", resp.StatusCode, err))
	}
	if out.Operation == "" {
		out.Operation = operation
	}
	return out
}

// LocalExecutor runs operations against an in-process store, for
// single-binary deployments where the bot and the database live together.
type LocalExecutor struct {
	Store *Store
}

// Execute runs the operation directly on the store.
func (l *LocalExecutor) Execute(ctx context.Context, operation string, params map[string]any) Result {
	rows, err := l.Store.Execute(ctx, operation, params)
	if err != nil {
		return failure(operation, err.Error())
	}
	return Result{
		Success:     true,
		Operation:   operation,
		RecordCount: len(rows),
		Rows:        rows,
		ExecutedAt:  time.Now(),
	}
}

func failure(operation, msg string) Result {
	return Result{
		Success:    false,
		Operation:  operation,
		Error:      msg,
		ExecutedAt: time.Now(),
	}
}

var (
	_ Executor = (*Client)(nil)
	_ Executor = (*LocalExecutor)(nil)
)
