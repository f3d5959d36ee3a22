package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ib-77/procworker/pkg/worker"
)

// ErrorField carries a handler failure back to the caller.
const ErrorField = "error"

// Handler answers one request on the child side.
type Handler func(ctx context.Context, req worker.Message) (worker.Message, error)

// Serve is the child-side counterpart of Channel: it reads requests from r,
// answers each with h and writes the reply to w with the request identifier
// echoed back. A handler error is reported in ErrorField of the reply.
// Serve returns nil when r ends.
func Serve(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), DefaultMaxMessageSize)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req worker.Message
		if err := json.Unmarshal(line, &req); err != nil {
			return fmt.Errorf("stream: serve: decode request: %w", err)
		}

		reply, err := h(ctx, req)
		if err != nil {
			reply = worker.Message{ErrorField: err.Error()}
		}
		if id, ok := req[worker.RequestIDField]; ok {
			reply = reply.With(worker.RequestIDField, id)
		}

		if err := enc.Encode(reply); err != nil {
			return fmt.Errorf("stream: serve: encode reply: %w", err)
		}
	}
	return scanner.Err()
}
