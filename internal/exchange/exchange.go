// Package exchange defines the boundary to the external conversational
// backend: one sealed utterance goes up, a lazy stream of synthesized
// response audio comes back.
//
// The core treats this purely as an asynchronous request/response-stream
// boundary. Speech-to-text, the chat model turn, and text-to-speech all live
// behind it and are of no concern to the audio pipeline.
package exchange

import (
	"context"
	"errors"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
)

// The exchange backend rejected or failed the utterance, or timed out.
// Recoverable: the turn controller returns to listening.
var ErrResponseFailed = errors.New("exchange response failed")

// An ordered batch of synthesized response audio frames.
// Owned by the playback scheduler until drained or cancelled.
type PlaybackChunk struct {
	Frames []frame.PCMFrame
}

// A lazy, finite, non-restartable sequence of PlaybackChunks.
//
// Next blocks until the next chunk is available and returns io.EOF once the
// response is complete. Cancelling the context passed to Next (or to the
// originating Exchange call) aborts the stream; timeout and barge-in
// cancellation both flow through that one mechanism. Close releases the
// stream's resources and is idempotent.
type ResponseStream interface {
	Next(ctx context.Context) (PlaybackChunk, error)
	Close() error
}

// The external exchange collaborator.
//
// Exchange hands over one sealed utterance's audio and returns the response
// stream, or fails. Implementations must honor context cancellation both
// while the call is in flight and for the returned stream, so an abandoned
// turn frees its resources rather than being merely ignored.
type Exchanger interface {
	Exchange(ctx context.Context, utterance frame.PCMFrame) (ResponseStream, error)
}
