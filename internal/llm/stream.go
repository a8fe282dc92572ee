package llm

import (
	"context"
	"errors"
	"io"

	"github.com/fudanyi/agentflow/internal/bus"
	"github.com/fudanyi/agentflow/internal/model"
)

// toolCallAccumulator assembles streamed tool-call deltas keyed by their
// index, concatenating argument fragments in arrival order. Providers only
// send id/name on the delta that opens a given call; every later fragment
// for that index carries only an arguments chunk.
type toolCallAccumulator struct {
	order []int
	byIdx map[int]*model.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIdx: make(map[int]*model.ToolCall)}
}

func (a *toolCallAccumulator) add(d *model.ToolCallDelta) {
	if d == nil {
		return
	}
	tc, ok := a.byIdx[d.Index]
	if !ok {
		tc = &model.ToolCall{}
		a.byIdx[d.Index] = tc
		a.order = append(a.order, d.Index)
	}
	if d.ID != "" {
		tc.ID = d.ID
	}
	if d.Name != "" {
		tc.Function.Name = d.Name
	}
	tc.Function.Arguments += d.ArgumentsFragment
}

func (a *toolCallAccumulator) calls() []model.ToolCall {
	out := make([]model.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.byIdx[idx])
	}
	return out
}

// streamText drains a streaming completion, emitting a "streaming" bus
// envelope per text delta and a final "chat" envelope with the full text,
// matching the OpenManus CLI's incremental print-as-you-go behavior. It
// returns the assembled text and usage once the stream terminates.
func (g *Gateway) streamText(ctx context.Context, req *model.Request) (string, model.TokenUsage, error) {
	stream, err := g.client.Stream(ctx, req)
	if err != nil {
		return "", model.TokenUsage{}, err
	}
	defer stream.Close()

	var text string
	var usage model.TokenUsage

	for {
		chunk, recvErr := stream.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				break
			}
			return "", model.TokenUsage{}, recvErr
		}

		switch chunk.Type {
		case model.ChunkText:
			text += chunk.TextDelta
			if g.bus != nil && chunk.TextDelta != "" {
				g.bus.Print(bus.TypeStreaming, chunk.TextDelta, nil)
			}
		case model.ChunkUsage:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		case model.ChunkStop:
			// no-op: StopReason surfaces via the non-streaming Response path;
			// plain-text Ask callers don't need it.
		}
	}

	if g.bus != nil && text != "" {
		g.bus.Print(bus.TypeChat, text, nil)
	}
	return text, usage, nil
}

// streamTool drains a streaming tool-calling completion, assembling any
// tool-call deltas via toolCallAccumulator and emitting the same bus
// envelopes as streamText for any interleaved text content. It is unexported
// and is the Gateway's only tool-call path: every tool-calling request is
// streamed.
func (g *Gateway) streamTool(ctx context.Context, req *model.Request) (*model.Response, error) {
	stream, err := g.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var text string
	var usage model.TokenUsage
	var stopReason string
	calls := newToolCallAccumulator()

	for {
		chunk, recvErr := stream.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				break
			}
			return nil, recvErr
		}

		switch chunk.Type {
		case model.ChunkText:
			text += chunk.TextDelta
			if g.bus != nil && chunk.TextDelta != "" {
				g.bus.Print(bus.TypeStreaming, chunk.TextDelta, nil)
			}
		case model.ChunkToolCall:
			calls.add(chunk.ToolCallDelta)
		case model.ChunkUsage:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		case model.ChunkStop:
			stopReason = chunk.StopReason
		}
	}

	if g.bus != nil && text != "" {
		g.bus.Print(bus.TypeChat, text, nil)
	}

	return &model.Response{
		Content:    text,
		ToolCalls:  calls.calls(),
		Usage:      usage,
		StopReason: stopReason,
	}, nil
}
