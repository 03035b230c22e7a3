// Package llm implements the completion client: a single request/response
// call to an OpenAI-compatible chat completions endpoint. Perplexity is the
// default provider; any compatible base URL works.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the Perplexity API root.
	DefaultBaseURL = "https://api.perplexity.ai"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "mistral-7b-instruct"

	// DefaultTimeout bounds a single completion call.
	DefaultTimeout = 60 * time.Second
)

// Config configures the completion endpoint.
type Config struct {
	// BaseURL is the API root; "/chat/completions" is appended.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token (supports ${ENV_VAR} expansion).
	APIKey string `yaml:"api_key"`

	// Model is the model identifier sent with every request.
	Model string `yaml:"model"`

	// Timeout bounds a single call (default: 60s).
	Timeout time.Duration `yaml:"timeout"`
}

// Effective returns a copy with defaults applied for zero fields.
func (c Config) Effective() Config {
	out := c
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	out.BaseURL = strings.TrimRight(out.BaseURL, "/")
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	return out
}

// Client talks to the completion API. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client from cfg.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Effective()
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			// The per-call timeout comes from the request context.
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     120 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: logger.With("component", "llm", "model", cfg.Model),
	}
}

// Model returns the configured model.
func (c *Client) Model() string { return c.cfg.Model }

// chatEndpoint returns the chat completions URL.
func (c *Client) chatEndpoint() string {
	return c.cfg.BaseURL + "/chat/completions"
}

// ---------- Wire types ----------

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ---------- Public Methods ----------

// Complete sends systemContext as the system message and userText as the
// user message, and returns the first choice's content. It never retries.
func (c *Client) Complete(ctx context.Context, systemContext, userText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemContext},
			{Role: "user", Content: userText},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatEndpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	c.logger.Debug("sending chat completion", "context_len", len(systemContext), "text_len", len(userText))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &APIError{Kind: ErrorTimeout, Body: ctx.Err().Error()}
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("API request cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apierr := &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Kind:       classifyAPIError(resp.StatusCode, string(respBody)),
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if sec, err := strconv.Atoi(ra); err == nil && sec > 0 {
				apierr.RetryAfter = time.Duration(sec) * time.Second
			}
		}
		c.logger.Error("API error",
			"status", resp.StatusCode,
			"kind", apierr.Kind,
			"body", truncate(string(respBody), 500),
		)
		return "", apierr
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if chatResp.Error != nil {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Body:       chatResp.Error.Message,
			Kind:       classifyAPIError(resp.StatusCode, chatResp.Error.Message),
		}
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty response from model (finish_reason=%q)", chatResp.Choices[0].FinishReason)
	}

	c.logger.Info("chat completion done",
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"finish_reason", chatResp.Choices[0].FinishReason,
	)
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
