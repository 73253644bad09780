package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/device"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/exchange"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
)

// The playback side of a FrameSource, as the scheduler needs it.
type FrameWriter interface {
	WriteFrame(f frame.PCMFrame) error
	FlushPlayback()
}

// Feeds a response stream to the device's playback path at the device frame
// cadence, pausing consumption under backpressure.
//
// Frames are emitted in the order received and never emitted twice. After
// Cancel returns, no further frame of the cancelled response reaches the
// writer, and frames already buffered downstream are flushed.
type Scheduler struct {
	logger *slog.Logger
	writer FrameWriter

	// How long to back off before retrying a backpressured write.
	// Half a device frame keeps the ring close to full without spinning.
	backoff time.Duration

	// The mutex serializes writer access against Cancel, so that
	// cancellation takes effect at frame granularity: once Cancel holds
	// the lock, the in-flight frame has either been written or never will be.
	mu         sync.Mutex
	cancelPlay context.CancelFunc
}

func NewScheduler(writer FrameWriter, frameDuration time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	backoff := frameDuration / 2
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	return &Scheduler{
		logger:  logger,
		writer:  writer,
		backoff: backoff,
	}
}

// Play drains the given response stream into the frame writer.
//
// onFirstFrame is invoked just before the first frame is written, the signal
// that the response has begun playing. onDone is invoked exactly once when
// the stream is fully drained (nil), fails (the stream error), or is
// cancelled (context.Canceled). Any playback still in flight is cancelled
// first; the turn controller never has two responses playing.
func (s *Scheduler) Play(
	ctx context.Context,
	stream exchange.ResponseStream,
	onFirstFrame func(),
	onDone func(err error),
) {
	playCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancelPlay != nil {
		s.cancelPlay()
	}
	s.cancelPlay = cancel
	s.mu.Unlock()

	go s.run(playCtx, stream, onFirstFrame, onDone)
}

// Cancel discards all buffered and in-flight frames of the current playback.
// Completion is reported immediately through the playback's onDone.
// Idempotent, and a no-op when nothing is playing.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelPlay != nil {
		s.cancelPlay()
		s.cancelPlay = nil
	}
	// Frames already handed to the device but not yet emitted are stale now.
	s.writer.FlushPlayback()
}

func (s *Scheduler) run(
	ctx context.Context,
	stream exchange.ResponseStream,
	onFirstFrame func(),
	onDone func(err error),
) {
	defer stream.Close()

	first := true
	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				onDone(nil)
			case ctx.Err() != nil:
				// Canceled on barge-in or teardown, DeadlineExceeded on an
				// exchange timeout. The caller tells these apart.
				onDone(ctx.Err())
			default:
				onDone(err)
			}
			return
		}

		for _, f := range chunk.Frames {
			if first {
				onFirstFrame()
				first = false
			}
			if err := s.writeFrame(ctx, f); err != nil {
				onDone(err)
				return
			}
		}
	}
}

// writeFrame writes one frame, backing off while the playback ring is full.
// The write happens under the scheduler mutex so it cannot race a Cancel.
func (s *Scheduler) writeFrame(ctx context.Context, f frame.PCMFrame) error {
	for {
		s.mu.Lock()
		if err := ctx.Err(); err != nil {
			s.mu.Unlock()
			return err
		}
		err := s.writer.WriteFrame(f)
		s.mu.Unlock()

		switch {
		case err == nil:
			return nil
		case errors.Is(err, device.ErrBackpressureExceeded):
			select {
			case <-time.After(s.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			return err
		}
	}
}
