package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxResponseBytes = 8 << 20

// JSONClient posts JSON to provider endpoints and decodes JSON replies.
// Header is sent on every request. Non-2xx replies become *StatusError.
type JSONClient struct {
	HTTP   *http.Client
	Header http.Header
	Logger *slog.Logger
}

func (c *JSONClient) PostJSON(ctx context.Context, url string, in, out any) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(in); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.Header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	size := buf.Len()
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	logger.Debug("llm.http.exchange",
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"sent", size,
		"received", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(raw[:min(len(raw), 512)]))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
