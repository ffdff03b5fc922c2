// Package completion wraps the OpenRouter chat-completions endpoint behind a
// single blocking call. The client performs no retries; retry policy belongs
// to the worker pool driving it.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultTimeout = 30 * time.Second

	maxErrorBodyBytes = 64 * 1024
)

// Request describes one completion call. Model and prompts are chosen by
// the pool that owns the task.
type Request struct {
	Model        string
	SystemPrompt string
	UserText     string
	MaxTokens    int
	Temperature  float64
}

// Result is the successful outcome of one completion call.
type Result struct {
	Content    string
	Model      string
	TokensUsed int
	Latency    time.Duration
}

// Client issues chat-completion requests. Implementations must be safe for
// concurrent use; the HTTP client below is stateless.
type Client interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("completions api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  client,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete performs one chat-completion POST. Failures come back as one of
// the typed errors in this package, never as a panic; the caller decides
// whether to retry via Retryable.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (Result, error) {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserText})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return Result{Latency: latency}, &TransportError{Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close completion response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Result{Latency: latency}, &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(errBody)),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{Latency: latency}, &MalformedResponse{Reason: fmt.Sprintf("decode body: %v", err)}
	}
	if len(parsed.Choices) == 0 {
		return Result{Latency: latency}, &MalformedResponse{Reason: "no choices in response"}
	}
	content := parsed.Choices[0].Message.Content
	if content == "" {
		return Result{Latency: latency}, &MalformedResponse{Reason: "empty message content"}
	}

	model := parsed.Model
	if model == "" {
		model = req.Model
	}

	return Result{
		Content:    content,
		Model:      model,
		TokensUsed: parsed.Usage.TotalTokens,
		Latency:    latency,
	}, nil
}
