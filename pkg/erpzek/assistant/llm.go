// llm.go implements the chat completion client used for the two-phase
// dispatch protocol. It speaks the OpenAI-compatible API format, which works
// with OpenAI, Gemini's compatibility endpoint, and local servers.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Per-phase deadlines. The decide call carries the tool catalog and may
// plan; the compose call only has to phrase results and gets less time so
// the whole exchange stays under the platform's patience.
const (
	decideTimeout  = 30 * time.Second
	composeTimeout = 25 * time.Second
)

// ErrLLMTimeout marks a phase that ran out of time, so the dispatch loop
// can apologize specifically rather than generically.
var ErrLLMTimeout = errors.New("model call timed out")

// ToolDefinition is an OpenAI-compatible tool definition.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes one callable function exposed to the model.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and serialized arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Args decodes the serialized tool arguments.
func (f FunctionCall) Args() (map[string]any, error) {
	if strings.TrimSpace(f.Arguments) == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(f.Arguments), &out); err != nil {
		return nil, fmt.Errorf("decode arguments for %s: %w", f.Name, err)
	}
	return out, nil
}

// Decision is the outcome of the first phase: either a direct answer or a
// list of tools to run.
type Decision struct {
	Answer    string
	ToolCalls []ToolCall
}

// ToolExchange pairs an executed tool call with its serialized result, for
// the compose phase.
type ToolExchange struct {
	Call   ToolCall
	Result string
}

// LLMConfig holds the model client settings.
type LLMConfig struct {
	BaseURL string  `yaml:"base_url"`
	APIKey  string  `yaml:"api_key"`
	Model   string  `yaml:"model"`
	Temp    float64 `yaml:"temperature"`
}

// LLMClient calls the chat completions API.
type LLMClient struct {
	baseURL string
	apiKey  string
	model   string
	temp    float64
	http    *http.Client
	logger  *slog.Logger
}

// NewLLMClient creates the client. Calls carry their own deadlines, so the
// HTTP client has no global timeout.
func NewLLMClient(cfg LLMConfig, logger *slog.Logger) *LLMClient {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if cfg.Temp == 0 {
		cfg.Temp = 0.3
	}
	return &LLMClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		temp:    cfg.Temp,
		http: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     120 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}},
		logger: logger.With("component", "llm"),
	}
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []chatMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Decide runs the first phase: the model sees the tool catalog and either
// answers directly or requests tool calls.
func (c *LLMClient) Decide(ctx context.Context, system string, history []Turn, userMsg string, tools []ToolDefinition) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, decideTimeout)
	defer cancel()

	messages := buildMessages(system, history, userMsg)
	resp, err := c.complete(ctx, chatRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: c.temp,
	})
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Answer:    resp.Choices[0].Message.Content,
		ToolCalls: resp.Choices[0].Message.ToolCalls,
	}, nil
}

// Compose runs the second phase: the model sees the tool results and writes
// the reply. No tools are offered, so it cannot request another round.
func (c *LLMClient) Compose(ctx context.Context, system string, history []Turn, userMsg string, exchanges []ToolExchange) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, composeTimeout)
	defer cancel()

	messages := buildMessages(system, history, userMsg)

	calls := make([]ToolCall, 0, len(exchanges))
	for _, ex := range exchanges {
		calls = append(calls, ex.Call)
	}
	messages = append(messages, chatMessage{Role: "assistant", ToolCalls: calls})
	for _, ex := range exchanges {
		messages = append(messages, chatMessage{
			Role:       "tool",
			ToolCallID: ex.Call.ID,
			Content:    ex.Result,
		})
	}

	resp, err := c.complete(ctx, chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temp,
	})
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

func buildMessages(system string, history []Turn, userMsg string) []chatMessage {
	messages := make([]chatMessage, 0, len(history)+2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	for _, t := range history {
		messages = append(messages, chatMessage{Role: t.Role, Content: t.Content})
	}
	return append(messages, chatMessage{Role: "user", Content: userMsg})
}

func (c *LLMClient) complete(ctx context.Context, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("model call timed out", "elapsed", time.Since(start))
			return nil, ErrLLMTimeout
		}
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode chat response (status %d): %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("model error (status %d): %s", resp.StatusCode, out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK || len(out.Choices) == 0 {
		return nil, fmt.Errorf("model returned status %d with no choices", resp.StatusCode)
	}

	c.logger.Debug("chat completion",
		"tools_offered", len(req.Tools),
		"tool_calls", len(out.Choices[0].Message.ToolCalls),
		"duration", time.Since(start))
	return &out, nil
}
