// Package mock provides scripted exchange collaborators for tests.
package mock

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/exchange"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
)

// A ResponseStream yielding a fixed sequence of chunks.
//
// Chunks may be gated (delivered only when released through Release) to let
// tests control exactly when response audio becomes available.
type Stream struct {
	mu      sync.Mutex
	chunks  []exchange.PlaybackChunk
	next    int
	gated   bool
	release chan struct{}
	closed  atomic.Bool

	// Error returned instead of io.EOF once the chunks run out.
	FinalErr error
}

// NewStream builds a stream of the given chunks, delivered as fast as the
// consumer asks for them.
func NewStream(chunks ...exchange.PlaybackChunk) *Stream {
	return &Stream{chunks: chunks}
}

// NewGatedStream builds a stream that withholds each chunk until Release
// is called once per chunk.
func NewGatedStream(chunks ...exchange.PlaybackChunk) *Stream {
	return &Stream{
		chunks:  chunks,
		gated:   true,
		release: make(chan struct{}, len(chunks)+1),
	}
}

func (s *Stream) Release() {
	s.release <- struct{}{}
}

func (s *Stream) Next(ctx context.Context) (exchange.PlaybackChunk, error) {
	s.mu.Lock()
	remaining := s.next < len(s.chunks)
	s.mu.Unlock()
	if s.gated && remaining {
		select {
		case <-s.release:
		case <-ctx.Done():
			return exchange.PlaybackChunk{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return exchange.PlaybackChunk{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.chunks) {
		if s.FinalErr != nil {
			return exchange.PlaybackChunk{}, s.FinalErr
		}
		return exchange.PlaybackChunk{}, io.EOF
	}
	chunk := s.chunks[s.next]
	s.next++
	return chunk, nil
}

func (s *Stream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Stream) Closed() bool {
	return s.closed.Load()
}

// An Exchanger returning scripted results in order. Each call consumes the
// next scripted result; when the script runs out, calls block until the
// context is cancelled, mimicking a hung backend.
type Exchanger struct {
	mu      sync.Mutex
	script  []Result
	nextIdx int

	calls       atomic.Int64
	cancelled   atomic.Int64
	utterancesM sync.Mutex
	utterances  []frame.PCMFrame
}

type Result struct {
	Stream exchange.ResponseStream
	Err    error
}

func NewExchanger(script ...Result) *Exchanger {
	return &Exchanger{script: script}
}

func (e *Exchanger) Exchange(ctx context.Context, utterance frame.PCMFrame) (exchange.ResponseStream, error) {
	e.calls.Add(1)
	e.utterancesM.Lock()
	e.utterances = append(e.utterances, utterance)
	e.utterancesM.Unlock()

	e.mu.Lock()
	var result *Result
	if e.nextIdx < len(e.script) {
		result = &e.script[e.nextIdx]
		e.nextIdx++
	}
	e.mu.Unlock()

	if result == nil {
		// Hung backend: block until cancelled.
		<-ctx.Done()
		e.cancelled.Add(1)
		return nil, ctx.Err()
	}
	return result.Stream, result.Err
}

// Calls reports how many Exchange calls have been made.
func (e *Exchanger) Calls() int {
	return int(e.calls.Load())
}

// Cancelled reports how many hung calls observed a cancellation signal.
func (e *Exchanger) Cancelled() int {
	return int(e.cancelled.Load())
}

// Utterances returns the utterance payloads received so far.
func (e *Exchanger) Utterances() []frame.PCMFrame {
	e.utterancesM.Lock()
	defer e.utterancesM.Unlock()
	return append([]frame.PCMFrame(nil), e.utterances...)
}
