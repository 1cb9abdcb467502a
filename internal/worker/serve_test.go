package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeFraming(t *testing.T) {
	in := strings.Join([]string{
		`{"id":"a","payload":{"pdfPath":"/tmp/x.pdf"}}`,
		``,
		`{"id":"b","payload":{"pdfPath":""}}`,
		`not json`,
	}, "\n") + "\n"

	var out bytes.Buffer
	err := Serve(context.Background(), strings.NewReader(in), &out, func(_ context.Context, payload json.RawMessage) (any, error) {
		var req TextRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if req.PDFPath == "" {
			return nil, errors.New("pdfPath is required")
		}
		return Result{FullText: "hello", Pages: []string{"hello"}, TotalPages: 1}, nil
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var first responseFrame
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a", first.ID)
	var res Result
	require.NoError(t, json.Unmarshal(first.Result, &res))
	assert.Equal(t, 1, res.TotalPages)

	var second responseFrame
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "b", second.ID)
	assert.Equal(t, "pdfPath is required", second.Error)

	var third responseFrame
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))
	assert.Empty(t, third.ID)
	assert.Contains(t, third.Error, "decode request")
}
