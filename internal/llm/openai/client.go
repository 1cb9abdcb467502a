// Package openai is a Completer backed by an OpenAI-compatible
// chat/completions endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
	Retry       llm.RetryConfig
}

type Client struct {
	cfg      Config
	endpoint string
	api      *llm.JSONClient
	logger   *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.Retry == (llm.RetryConfig{}) {
		cfg.Retry = llm.DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", "openai")
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	return &Client{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		api:      &llm.JSONClient{HTTP: &http.Client{Timeout: cfg.Timeout}, Header: header, Logger: logger},
		logger:   logger,
	}
}

func (c *Client) Model() string { return c.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Temperature    float32        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
	Messages       []chatMessage  `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete asks for a single JSON object in JSON mode. The schema travels as
// a trailing system message.
func (c *Client) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	start := time.Now()
	req := chatRequest{
		Model:          c.cfg.Model,
		Temperature:    c.cfg.Temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User + "\n\nReturn ONLY JSON that matches the provided schema."},
			{Role: "system", Content: llm.SchemaInstruction(p.Schema)},
		},
	}

	var resp chatResponse
	err := llm.WithRetry(ctx, c.cfg.Retry, c.logger, llm.HTTPStatus, func() error {
		resp = chatResponse{}
		return c.api.PostJSON(ctx, c.endpoint, req, &resp)
	})
	if err != nil {
		c.logger.Error("llm.openai.failed", "prompt", p.Name, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", fmt.Errorf("openai %s: %w", p.Name, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in openai response")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("empty content in openai response")
	}
	c.logger.Info("llm.openai.ok", "prompt", p.Name, "model", c.cfg.Model, "bytes", len(content), "elapsed_ms", time.Since(start).Milliseconds())
	return content, nil
}
