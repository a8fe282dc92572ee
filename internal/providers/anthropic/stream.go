package anthropic

import (
	"context"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/fudanyi/agentflow/internal/model"
)

// streamer adapts an Anthropic Messages SSE stream to model.Streamer,
// running the blocking SDK iteration on a goroutine and delivering chunks
// over a channel so Recv can be called from the gateway's goroutine.
type streamer struct {
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan model.Chunk

	mu       sync.Mutex
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		cancel: cancel,
		stream: stream,
		chunks: make(chan model.Chunk, 32),
	}
	go s.run(cctx)
	return s
}

func (s *streamer) Recv() (model.Chunk, error) {
	chunk, ok := <-s.chunks
	if !ok {
		s.mu.Lock()
		err := s.finalErr
		s.mu.Unlock()
		if err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	}
	return chunk, nil
}

func (s *streamer) Close() error {
	s.cancel()
	return s.stream.Close()
}

func (s *streamer) run(ctx context.Context) {
	defer close(s.chunks)

	toolBlocks := make(map[int64]*toolBuffer)
	var stopReason string

	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBlocks[ev.Index] = &toolBuffer{id: tu.ID, name: tu.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				select {
				case s.chunks <- model.Chunk{Type: model.ChunkText, TextDelta: delta.Text}:
				case <-ctx.Done():
					s.setErr(ctx.Err())
					return
				}
			case sdk.InputJSONDelta:
				tb, ok := toolBlocks[ev.Index]
				if !ok || delta.PartialJSON == "" {
					continue
				}
				tb.fragments = append(tb.fragments, delta.PartialJSON)
				select {
				case s.chunks <- model.Chunk{Type: model.ChunkToolCall, ToolCallDelta: &model.ToolCallDelta{
					Index:             int(ev.Index),
					ID:                tb.id,
					Name:              tb.name,
					ArgumentsFragment: delta.PartialJSON,
				}}:
				case <-ctx.Done():
					s.setErr(ctx.Err())
					return
				}
			}
		case sdk.ContentBlockStopEvent:
			delete(toolBlocks, ev.Index)
		case sdk.MessageDeltaEvent:
			stopReason = string(ev.Delta.StopReason)
			usage := model.TokenUsage{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
				TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
			}
			select {
			case s.chunks <- model.Chunk{Type: model.ChunkUsage, Usage: &usage}:
			case <-ctx.Done():
				s.setErr(ctx.Err())
				return
			}
		case sdk.MessageStopEvent:
			select {
			case s.chunks <- model.Chunk{Type: model.ChunkStop, StopReason: stopReason}:
			case <-ctx.Done():
			}
			return
		}
	}
	if err := s.stream.Err(); err != nil {
		s.setErr(err)
	}
}

func (s *streamer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalErr == nil {
		s.finalErr = err
	}
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) joined() string {
	return strings.Join(tb.fragments, "")
}
