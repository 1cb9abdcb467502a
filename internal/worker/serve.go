package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// HandlerFunc handles one request payload inside a worker process.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Serve reads request frames from r and writes one response frame per
// request to w until r is exhausted or ctx is done. Handler errors and panics
// are reported to the caller in the frame; they do not stop the loop.
func Serve(ctx context.Context, r io.Reader, w io.Writer, h HandlerFunc) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), defaultMaxLineBytes)
	enc := json.NewEncoder(w)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp responseFrame
		var req incomingFrame
		if err := json.Unmarshal(line, &req); err != nil {
			resp.Error = "decode request: " + err.Error()
		} else {
			resp.ID = req.ID
			result, err := call(ctx, h, req.Payload)
			if err != nil {
				resp.Error = err.Error()
			} else if b, err := json.Marshal(result); err != nil {
				resp.Error = "encode result: " + err.Error()
			} else {
				resp.Result = b
			}
		}

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return sc.Err()
}

func call(ctx context.Context, h HandlerFunc, payload json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, payload)
}
