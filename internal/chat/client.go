// Package chat answers questions about an indexed site by retrieving its
// content and streaming a completion from an OpenAI-compatible chat endpoint.
package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Defaults used when Config leaves a field unset.
const (
	DefaultBaseURL = "https://api.mistral.ai"
	DefaultModel   = "mistral-small-latest"
	DefaultTimeout = 2 * time.Minute
)

const maxSSELine = 1 << 20

// Config controls the completion client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client streams chat completions.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type flusher interface {
	Flush()
}

// NewClient builds a Client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger.Named("chat_client")}
}

// Stream sends prompt as a single user message and writes every content
// delta to w as it arrives, flushing w when it supports it.
func (c *Client) Stream(ctx context.Context, prompt string, w io.Writer) error {
	payload, err := json.Marshal(completionRequest{
		Model:    c.cfg.Model,
		Messages: []Message{{Role: RoleUser, Content: prompt}},
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("marshal completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call chat service: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("chat body close failed", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("chat service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	f, canFlush := w.(flusher)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	for scanner.Scan() {
		delta, ok := parseEvent(scanner.Text())
		if !ok {
			continue
		}
		if _, err := io.WriteString(w, delta); err != nil {
			return fmt.Errorf("write delta: %w", err)
		}
		if canFlush {
			f.Flush()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read completion stream: %w", err)
	}
	return nil
}

// parseEvent extracts the content delta from one SSE line.
func parseEvent(line string) (string, bool) {
	data, ok := strings.CutPrefix(line, "data: ")
	if !ok {
		return "", false
	}
	data = strings.TrimSpace(data)
	if data == "" || data == "[DONE]" {
		return "", false
	}
	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, true
}
