// Package gemini implements llm.Completer on the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
)

type Config struct {
	APIKey      string // empty falls back to GEMINI_API_KEY / GOOGLE_API_KEY in the SDK
	Model       string // default gemini-2.5-flash
	Temperature float32
	Retry       llm.RetryConfig
}

type Client struct {
	cfg    Config
	models *genai.Models
	logger *slog.Logger
}

func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Retry == (llm.RetryConfig{}) {
		cfg.Retry = llm.DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{cfg: cfg, models: client.Models, logger: logger.With("provider", "gemini")}, nil
}

func (c *Client) Model() string { return c.cfg.Model }

// Complete sends the system prompt, schema and user prompt as one user turn.
func (c *Client) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	start := time.Now()
	prompt := p.System + "\n\n" + llm.SchemaInstruction(p.Schema) + "\n\n" + p.User +
		"\n\nReturn ONLY valid raw JSON. Do NOT wrap the response in code fences."
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	temp := c.cfg.Temperature
	gc := &genai.GenerateContentConfig{Temperature: &temp}

	var text string
	err := llm.WithRetry(ctx, c.cfg.Retry, c.logger, apiStatus, func() error {
		resp, err := c.models.GenerateContent(ctx, c.cfg.Model, contents, gc)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(resp.Text())
		return nil
	})
	if err != nil {
		c.logger.Error("llm.gemini.error", "prompt", p.Name, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", fmt.Errorf("gemini %s: %w", p.Name, err)
	}
	if text == "" {
		return "", fmt.Errorf("gemini %s: empty response from model", p.Name)
	}

	c.logger.Info("llm.gemini.ok", "prompt", p.Name, "model", c.cfg.Model, "bytes", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return text, nil
}

func apiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
