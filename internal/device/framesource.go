package device

import (
	"errors"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/audiodevice"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
)

var (
	// No compatible duplex device exists, the device is already held,
	// or the device was lost mid-session. Fatal to the owning session:
	// no pipeline progress is possible without the device.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// The stream was closed while a read was pending or before it started.
	// Expected on orderly shutdown, not an error to surface to the user.
	ErrStreamClosed = errors.New("audio stream closed")

	// The playback ring buffer is full. The caller must pause consumption
	// of response audio until the device drains some frames.
	ErrBackpressureExceeded = errors.New("playback backpressure exceeded")
)

// A duplex audio boundary yielding fixed-size capture frames and accepting
// fixed-size playback frames at a stable sample rate.
//
// The device's real-time callback never blocks on consumer-side work: both
// directions are decoupled through bounded ring buffers, so ReadFrame and
// WriteFrame are safe to call from the (blocking-permitted) worker context.
type FrameSource interface {
	// Acquire the device exclusively. Returns ErrDeviceUnavailable if no
	// compatible device exists or it is already held by this process.
	Open() error

	// Block until one capture frame is available or the source is closed,
	// in which case ErrStreamClosed is returned.
	ReadFrame() (frame.PCMFrame, error)

	// Enqueue one playback frame. Returns ErrBackpressureExceeded if the
	// playback ring buffer is full, signaling the caller to throttle.
	WriteFrame(f frame.PCMFrame) error

	// Discard all playback frames buffered but not yet emitted by the
	// device. Used on barge-in so no stale response audio plays after a
	// new utterance begins.
	FlushPlayback()

	// Release the device. Idempotent, and safe to call on every exit path:
	// a FrameSource must never leak an exclusive device handle.
	Close() error

	GetDeviceProperties() audiodevice.DeviceProperties

	// Samples per frame (per channel) for both directions.
	FrameSize() int
}
