package llm

import (
	"context"
	stderrors "errors"
	"io"
	"sync"

	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/llmtypes"
	"github.com/user/llmgate/internal/transform"
)

// ChatStream is a pull-based sequence of canonical chunks read from an open
// upstream response. Recv returns chunks in order; after the terminal chunk
// (Finish or Error) it returns io.EOF. Close releases the connection and may
// be called from any goroutine.
type ChatStream struct {
	ctx      context.Context
	provider string
	body     io.ReadCloser
	parser   *transform.SSEParser
	decoder  transform.StreamDecoder

	queue    []llmtypes.ChatChunk
	done     bool
	terminal bool

	closeOnce sync.Once
	closeErr  error
}

func newChatStream(ctx context.Context, provider string, body io.ReadCloser, dec transform.StreamDecoder) *ChatStream {
	return &ChatStream{
		ctx:      ctx,
		provider: provider,
		body:     body,
		parser:   transform.NewSSEParser(body),
		decoder:  dec,
	}
}

// NewChatStream wraps an SSE body with a decoder. Used by passthrough callers
// and tests that already hold an upstream response.
func NewChatStream(ctx context.Context, provider string, body io.ReadCloser, dec transform.StreamDecoder) *ChatStream {
	return newChatStream(ctx, provider, body, dec)
}

// Recv returns the next chunk. Once the context is cancelled, chunks still
// queued from the last event are dropped in favour of Finish{cancelled}.
func (s *ChatStream) Recv() (llmtypes.ChatChunk, error) {
	if !s.done && s.ctx.Err() != nil {
		s.queue = nil
		s.terminate(llmtypes.FinishChunk(llmtypes.FinishCancelled))
	}
	for len(s.queue) == 0 {
		if s.done {
			return llmtypes.ChatChunk{}, io.EOF
		}
		s.fill()
	}
	chunk := s.queue[0]
	s.queue = s.queue[1:]
	return chunk, nil
}

// fill reads one SSE event and queues whatever chunks it yields
func (s *ChatStream) fill() {
	if s.ctx.Err() != nil {
		s.terminate(llmtypes.FinishChunk(llmtypes.FinishCancelled))
		return
	}

	ev, err := s.parser.NextEvent()
	if err != nil {
		switch {
		case s.ctx.Err() != nil:
			s.terminate(llmtypes.FinishChunk(llmtypes.FinishCancelled))
		case stderrors.Is(err, io.EOF):
			chunks, endErr := s.decoder.End()
			s.enqueue(chunks)
			if endErr != nil {
				s.terminate(llmtypes.ErrorChunk(errors.NewStreamError(s.provider, "upstream closed before completion", endErr)))
				return
			}
			s.finish()
		default:
			s.terminate(llmtypes.ErrorChunk(errors.NewNetworkError(s.provider, err)))
		}
		return
	}

	chunks, err := s.decoder.Decode(ev)
	s.enqueue(chunks)
	if err != nil {
		s.terminate(llmtypes.ErrorChunk(err))
		return
	}
	if s.terminal {
		s.finish()
	}
}

func (s *ChatStream) enqueue(chunks []llmtypes.ChatChunk) {
	for _, c := range chunks {
		if s.terminal {
			return
		}
		s.queue = append(s.queue, c)
		s.terminal = c.IsTerminal()
	}
}

// terminate appends a terminal chunk unless one was already queued
func (s *ChatStream) terminate(chunk llmtypes.ChatChunk) {
	s.enqueue([]llmtypes.ChatChunk{chunk})
	s.finish()
}

func (s *ChatStream) finish() {
	s.done = true
	_ = s.Close()
}

// Close releases the upstream connection. It is safe to call more than once.
func (s *ChatStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// Collect drains the stream into a response. A terminal error chunk becomes the returned error.
func (s *ChatStream) Collect() (llmtypes.ChatResponse, error) {
	defer func() { _ = s.Close() }()
	acc := llmtypes.NewStreamAccumulator()
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return llmtypes.ChatResponse{}, err
		}
		if err := acc.Apply(chunk); err != nil {
			return llmtypes.ChatResponse{}, errors.NewStreamError(s.provider, "malformed chunk sequence", err)
		}
	}
	if err := acc.Err(); err != nil {
		return llmtypes.ChatResponse{}, err
	}
	return acc.Response()
}
