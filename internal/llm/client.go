// Package llm provides the language-model client shared by the agents.
// The wire format is the Anthropic-style messages API; anything serving
// that shape (including local proxies) works as a backend.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jaakkos/deskwork/internal/config"
	"github.com/jaakkos/deskwork/internal/domain"
)

// Completer is the surface agents depend on. Tests substitute a canned
// implementation.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Client talks to a messages-API endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	logger      *log.Logger
	httpClient  *http.Client
}

// NewClient builds a client from the LLM config section. The API key is
// resolved from the environment variable the config names.
func NewClient(cfg config.LLMConfig, logger *log.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      os.Getenv(cfg.APIKeyEnv),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type messagesRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature,omitempty"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage Usage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a system + user prompt and returns the assistant text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	text, _, err := c.CompleteWithUsage(ctx, system, user)
	return text, err
}

// CompleteWithUsage is Complete plus token accounting.
func (c *Client) CompleteWithUsage(ctx context.Context, system, user string) (string, Usage, error) {
	maxTokens := c.maxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	payload := messagesRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
		System:      system,
		Messages:    []apiMessage{{Role: "user", Content: user}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, domain.E(domain.KindLLMError, "llm.complete", err)
	}

	url := c.baseURL + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, domain.E(domain.KindLLMError, "llm.complete", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, domain.E(domain.KindLLMError, "llm.complete", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, domain.E(domain.KindLLMError, "llm.complete", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, domain.Errorf(domain.KindLLMError, "llm.complete", "HTTP %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", Usage{}, domain.E(domain.KindLLMError, "llm.complete", err)
	}
	if parsed.Error != nil {
		return "", Usage{}, domain.Errorf(domain.KindLLMError, "llm.complete", "API error %s: %s", parsed.Error.Type, parsed.Error.Message)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", Usage{}, domain.Errorf(domain.KindLLMError, "llm.complete", "no text content in response")
	}

	if c.logger != nil {
		c.logger.Printf("llm: %s in=%d out=%d", c.model, parsed.Usage.InputTokens, parsed.Usage.OutputTokens)
	}
	return text.String(), parsed.Usage, nil
}

func truncateBody(b []byte) string {
	const max = 500
	s := string(b)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// StripFences removes a surrounding markdown code fence (```json ... ```)
// from model output before JSON parsing.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

var _ Completer = (*Client)(nil)
