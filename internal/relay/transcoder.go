package relay

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wolfman30/chat-relay/internal/llm"
)

// StreamEvent is one incremental piece of the assistant reply sent to the client.
type StreamEvent struct {
	Content string `json:"content"`
}

// EventSink receives events in order. A Send error means the client is gone.
type EventSink interface {
	Send(StreamEvent) error
}

// StreamState is the transcoder state. Streaming is the only non-terminal state.
type StreamState int

const (
	StateStreaming StreamState = iota
	StateClosedOK
	StateClosedError
)

func (s StreamState) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateClosedOK:
		return "closed-ok"
	case StateClosedError:
		return "closed-error"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

// TranscodeResult summarizes a finished transcode.
type TranscodeResult struct {
	State        StreamState
	Events       int
	FinishReason string
}

// Transcode forwards every non-empty upstream fragment to sink as soon as it arrives.
// It returns nil only when the upstream finished cleanly. Cancelling ctx or a failing
// sink closes the upstream stream instead of draining it.
func Transcode(ctx context.Context, upstream llm.Stream, sink EventSink) (TranscodeResult, error) {
	defer upstream.Close()
	// Unblocks a pending Recv when the client goes away.
	stop := context.AfterFunc(ctx, func() { _ = upstream.Close() })
	defer stop()

	res := TranscodeResult{State: StateStreaming}
	for {
		if err := ctx.Err(); err != nil {
			res.State = StateClosedError
			return res, fmt.Errorf("%w: %w", ErrDownstreamClosed, context.Cause(ctx))
		}

		chunk, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			res.State = StateClosedOK
			return res, nil
		}
		if err != nil {
			res.State = StateClosedError
			if ctx.Err() != nil {
				return res, fmt.Errorf("%w: %w", ErrDownstreamClosed, context.Cause(ctx))
			}
			return res, err
		}
		if chunk.FinishReason != "" {
			res.FinishReason = chunk.FinishReason
		}
		if chunk.Text == "" {
			continue
		}
		if err := sink.Send(StreamEvent{Content: chunk.Text}); err != nil {
			res.State = StateClosedError
			return res, fmt.Errorf("%w: %w", ErrDownstreamClosed, err)
		}
		res.Events++
	}
}
