package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/device"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/exchange"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/exchange/mock"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A FrameWriter recording every accepted frame. Optionally rejects the
// first rejectWrites attempts with backpressure.
type recordingWriter struct {
	mu           sync.Mutex
	frames       []frame.PCMFrame
	flushes      int
	rejectWrites int
}

func (w *recordingWriter) WriteFrame(f frame.PCMFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rejectWrites > 0 {
		w.rejectWrites--
		return device.ErrBackpressureExceeded
	}
	w.frames = append(w.frames, f)
	return nil
}

func (w *recordingWriter) FlushPlayback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func (w *recordingWriter) written() []frame.PCMFrame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]frame.PCMFrame(nil), w.frames...)
}

func chunkOf(markers ...float32) exchange.PlaybackChunk {
	chunk := exchange.PlaybackChunk{}
	for _, m := range markers {
		chunk.Frames = append(chunk.Frames, frame.PCMFrame{m})
	}
	return chunk
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not complete in time")
		return nil
	}
}

func TestPlayDrainsStreamInOrder(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	s := NewScheduler(writer, 20*time.Millisecond, nil)
	stream := mock.NewStream(chunkOf(1, 2), chunkOf(3), chunkOf(4, 5))

	done := make(chan error, 1)
	firstBefore := make(chan struct{}, 1)
	s.Play(context.Background(), stream,
		func() { firstBefore <- struct{}{} },
		func(err error) { done <- err },
	)

	require.NoError(t, waitDone(t, done))
	assert.Equal(t, []frame.PCMFrame{{1}, {2}, {3}, {4}, {5}}, writer.written())
	assert.Len(t, firstBefore, 1)
	assert.True(t, stream.Closed())
}

func TestCancelStopsEmissionImmediately(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	s := NewScheduler(writer, time.Millisecond, nil)

	// 10 chunks buffered behind a gate; release only the first two.
	chunks := make([]exchange.PlaybackChunk, 10)
	for i := range chunks {
		chunks[i] = chunkOf(float32(i))
	}
	stream := mock.NewGatedStream(chunks...)

	done := make(chan error, 1)
	s.Play(context.Background(), stream, func() {}, func(err error) { done <- err })

	stream.Release()
	stream.Release()
	// Wait until both released frames have been written.
	require.Eventually(t, func() bool { return len(writer.written()) == 2 }, time.Second, time.Millisecond)

	s.Cancel()
	written := len(writer.written())

	// Releasing the rest must not produce any further emission.
	for range 8 {
		stream.Release()
	}
	err := waitDone(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, written, len(writer.written()))

	// Frames buffered downstream were flushed.
	writer.mu.Lock()
	assert.Positive(t, writer.flushes)
	writer.mu.Unlock()
}

func TestBackpressurePausesWithoutDuplication(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{rejectWrites: 3}
	s := NewScheduler(writer, 2*time.Millisecond, nil)
	stream := mock.NewStream(chunkOf(1, 2, 3))

	done := make(chan error, 1)
	s.Play(context.Background(), stream, func() {}, func(err error) { done <- err })

	require.NoError(t, waitDone(t, done))
	// Every frame exactly once, in order, despite the rejected attempts.
	assert.Equal(t, []frame.PCMFrame{{1}, {2}, {3}}, writer.written())
}

func TestStreamErrorSurfacesThroughOnDone(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	s := NewScheduler(writer, time.Millisecond, nil)
	streamErr := errors.New("backend hiccup")
	stream := mock.NewStream(chunkOf(1))
	stream.FinalErr = streamErr

	done := make(chan error, 1)
	s.Play(context.Background(), stream, func() {}, func(err error) { done <- err })

	err := waitDone(t, done)
	assert.ErrorIs(t, err, streamErr)
	assert.Equal(t, []frame.PCMFrame{{1}}, writer.written())
}

func TestDeadlineSurfacesAsDeadlineExceeded(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	s := NewScheduler(writer, time.Millisecond, nil)
	stream := mock.NewGatedStream(chunkOf(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	s.Play(ctx, stream, func() {}, func(err error) { done <- err })

	err := waitDone(t, done)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
