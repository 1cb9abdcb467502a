package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		APIKey:  "sk-test",
		BaseURL: url,
		Model:   "gpt-test",
		Retry:   llm.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}, nil)
}

func TestCompleteRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": ` {"entries": []} `}}},
		})
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).Complete(context.Background(), llm.Prompt{Name: "extract", System: "s", User: "u", Schema: llm.ExtractionSchema()})
	require.NoError(t, err)
	assert.Equal(t, `{"entries": []}`, out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteNonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), llm.Prompt{Name: "extract"})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, llm.HTTPStatus(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), llm.Prompt{Name: "verify"})
	assert.ErrorContains(t, err, "no choices")
}
