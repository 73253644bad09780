package ringbuffer

import (
	"errors"
	"sync"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
)

var (
	// Returned by Push when the buffer is at capacity. The producer must
	// drop the frame or back off, it is never blocked.
	ErrOverflow = errors.New("ring buffer overflow")

	// Returned by Pop when no frame arrived within the timeout.
	// Transient silence is expected, so this is not a failure condition.
	ErrEmpty = errors.New("ring buffer empty")

	// Returned once the buffer has been closed and drained.
	ErrClosed = errors.New("ring buffer closed")
)

// A fixed-capacity circular buffer of PCMFrames, decoupling the real-time
// device callback cadence from the consumer processing cadence.
//
// Push never blocks: the producing side is a real-time audio callback that
// must never stall waiting on consumer-side work. Pop blocks with a timeout.
// All critical sections are short (slice index bookkeeping only) to bound
// worst-case latency on the callback side.
type RingBuffer struct {
	mu     sync.Mutex
	frames []frame.PCMFrame
	head   int
	size   int
	closed bool

	// Capacity-1 signal channel, nudged on every successful Push
	// so a blocked Pop can wake without holding the mutex.
	pushed chan struct{}
	done   chan struct{}
}

// Create a new RingBuffer holding at most capacity frames.
//
// Size the capacity to tolerate the expected jitter between producer and
// consumer: at 20ms frames, a capacity of 25 covers 500ms of drift.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		frames: make([]frame.PCMFrame, capacity),
		pushed: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Append one frame to the buffer.
// Returns ErrOverflow if the buffer is full, ErrClosed after Close.
func (b *RingBuffer) Push(f frame.PCMFrame) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.size == len(b.frames) {
		b.mu.Unlock()
		return ErrOverflow
	}
	b.frames[(b.head+b.size)%len(b.frames)] = f
	b.size++
	b.mu.Unlock()

	select {
	case b.pushed <- struct{}{}:
	default:
	}
	return nil
}

// Remove and return the oldest frame in the buffer.
//
// Blocks for at most timeout waiting for a frame to arrive, then returns
// ErrEmpty. Returns ErrClosed once the buffer is closed and fully drained;
// frames pushed before Close are still delivered.
func (b *RingBuffer) Pop(timeout time.Duration) (frame.PCMFrame, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		if b.size > 0 {
			f := b.frames[b.head]
			b.frames[b.head] = nil
			b.head = (b.head + 1) % len(b.frames)
			b.size--
			b.mu.Unlock()
			return f, nil
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-b.pushed:
		case <-b.done:
		case <-deadline.C:
			return nil, ErrEmpty
		}
	}
}

// Discard all buffered frames, e.g. when flushing stale playback on barge-in.
// The buffer remains usable.
func (b *RingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.frames {
		b.frames[i] = nil
	}
	b.head = 0
	b.size = 0
}

// Close the buffer. Idempotent.
// Pending frames may still be popped, after which Pop returns ErrClosed.
func (b *RingBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// The number of frames currently buffered.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// The maximum number of frames this buffer can hold.
func (b *RingBuffer) Cap() int {
	return len(b.frames)
}
