package anthropic

import (
	"context"
	"errors"
	"io"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/cenecahq/ceneca/completion"
)

// streamer adapts an Anthropic Messages stream to completion.Streamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan completion.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) completion.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		chunks: make(chan completion.Chunk, 32),
	}
	go s.run()
	return s
}

func (s *streamer) Recv() (completion.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return completion.Chunk{}, err
		}
		return completion.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return completion.Chunk{}, err
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) Metadata() map[string]any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	if len(s.metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	index := 0
	stopReason := ""
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
				s.setErr(err)
			}
			return
		}
		switch ev := s.stream.Current().AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
				if err := s.emit(completion.Chunk{Type: completion.ChunkTypeText, Text: delta.Text, Index: index}); err != nil {
					return
				}
				index++
			}
		case sdk.MessageDeltaEvent:
			stopReason = string(ev.Delta.StopReason)
			usage := completion.TokenUsage{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
				TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
			}
			s.recordUsage(usage)
			if err := s.emit(completion.Chunk{Type: completion.ChunkTypeUsage, UsageDelta: &usage}); err != nil {
				return
			}
		case sdk.MessageStopEvent:
			if err := s.emit(completion.Chunk{Type: completion.ChunkTypeStop, StopReason: stopReason}); err != nil {
				return
			}
		}
	}
}

func (s *streamer) emit(chunk completion.Chunk) error {
	select {
	case <-s.ctx.Done():
		s.setErr(s.ctx.Err())
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *streamer) recordUsage(usage completion.TokenUsage) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = map[string]any{"provider": "anthropic"}
	}
	s.metadata["usage"] = usage
	s.metaMu.Unlock()
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
