package device

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/observe"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/ringbuffer"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/audiodevice"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"
)

const (
	// Frames buffered per direction between the real-time callback and the
	// worker context. At 20ms frames this covers 500ms of cadence jitter,
	// comfortably over the 200ms floor the pipeline is designed for.
	ringCapacityFrames = 25

	// How long a blocked ReadFrame waits per ring poll before re-checking
	// whether the device was closed underneath it.
	readPollInterval = 100 * time.Millisecond
)

// A FrameSource backed by the default PortAudio duplex device
// (ALSA on Linux).
//
// The PortAudio callback runs on a real-time thread and touches nothing but
// the two ring buffers: capture frames are cloned and pushed, playback frames
// are popped or replaced by silence. All blocking work happens on the caller's
// side of the rings.
type PortAudioFrameSource struct {
	logger *slog.Logger
	uuid   uuid.UUID

	properties audiodevice.DeviceProperties
	frameSize  int

	captureRing  *ringbuffer.RingBuffer
	playbackRing *ringbuffer.RingBuffer

	// Set once a playback frame has been written, cleared when the callback
	// drains the ring dry. Distinguishes a real underrun from expected
	// silence while nothing is playing.
	playbackActive atomic.Bool

	mu           sync.Mutex
	stream       *portaudio.Stream
	opened       bool
	shutdownOnce sync.Once
}

// Create a new PortAudioFrameSource for the default duplex device.
// The device is not acquired until Open is called.
func NewPortAudioFrameSource(sampleRate int, numChannels int, frameSize int) *PortAudioFrameSource {
	uuid := uuid.New()
	logger := slog.Default().With(
		"portaudio device uuid", uuid,
	)

	return &PortAudioFrameSource{
		logger: logger,
		uuid:   uuid,
		properties: audiodevice.DeviceProperties{
			SampleRate:  sampleRate,
			NumChannels: numChannels,
		},
		frameSize:    frameSize,
		captureRing:  ringbuffer.NewRingBuffer(ringCapacityFrames),
		playbackRing: ringbuffer.NewRingBuffer(ringCapacityFrames),
	}
}

// Acquire the default duplex device exclusively and start streaming.
func (d *PortAudioFrameSource) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.opened {
		return fmt.Errorf("%w: device already held by this process", ErrDeviceUnavailable)
	}

	if err := portaudio.Initialize(); err != nil {
		d.logger.Error("could not initialize portaudio", "err", err)
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	stream, err := portaudio.OpenDefaultStream(
		d.properties.NumChannels,
		d.properties.NumChannels,
		float64(d.properties.SampleRate),
		d.frameSize,
		d.callback,
	)
	if err != nil {
		d.logger.Error("could not open duplex stream", "err", err)
		portaudio.Terminate()
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		d.logger.Error("could not start duplex stream", "err", err)
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	d.stream = stream
	d.opened = true
	d.logger.Info(
		"portaudio duplex device opened",
		"sampleRate", d.properties.SampleRate,
		"channels", d.properties.NumChannels,
		"frameSize", d.frameSize,
	)
	return nil
}

// The real-time duplex callback. Must never block.
func (d *PortAudioFrameSource) callback(in, out []float32) {
	// Capture direction. The portaudio buffer is reused between callbacks,
	// so the frame is cloned before crossing into the ring.
	captured := frame.PCMFrame(in).Clone()
	if err := d.captureRing.Push(captured); err == ringbuffer.ErrOverflow {
		// Consumer is lagging. Drop the oldest frame so capture keeps
		// moving forward, and count the loss.
		observe.CaptureOverflowTotal.Inc()
		d.captureRing.Pop(0)
		d.captureRing.Push(captured)
	}

	// Playback direction.
	played, err := d.playbackRing.Pop(0)
	if err != nil {
		for i := range out {
			out[i] = 0
		}
		if d.playbackActive.CompareAndSwap(true, false) {
			observe.PlaybackUnderrunTotal.Inc()
		}
		return
	}
	n := copy(out, played)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

// Block until one capture frame is available, or return ErrStreamClosed
// once the device has been closed and the capture ring drained.
func (d *PortAudioFrameSource) ReadFrame() (frame.PCMFrame, error) {
	for {
		f, err := d.captureRing.Pop(readPollInterval)
		switch err {
		case nil:
			return f, nil
		case ringbuffer.ErrEmpty:
			continue
		default:
			return nil, ErrStreamClosed
		}
	}
}

// Enqueue one playback frame for the device callback to emit.
func (d *PortAudioFrameSource) WriteFrame(f frame.PCMFrame) error {
	switch err := d.playbackRing.Push(f); err {
	case nil:
		d.playbackActive.Store(true)
		return nil
	case ringbuffer.ErrOverflow:
		observe.PlaybackBackpressureTotal.Inc()
		return ErrBackpressureExceeded
	default:
		return ErrStreamClosed
	}
}

func (d *PortAudioFrameSource) FlushPlayback() {
	d.playbackRing.Clear()
	d.playbackActive.Store(false)
}

// Stop streaming and release the device. Idempotent.
func (d *PortAudioFrameSource) Close() error {
	d.shutdownOnce.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.stream != nil {
			if err := d.stream.Stop(); err != nil {
				d.logger.Error("error stopping duplex stream", "err", err)
			}
			if err := d.stream.Close(); err != nil {
				d.logger.Error("error closing duplex stream", "err", err)
			}
			d.stream = nil
		}
		if d.opened {
			portaudio.Terminate()
			d.opened = false
		}

		d.captureRing.Close()
		d.playbackRing.Close()
		d.logger.Info("portaudio duplex device closed")
	})
	return nil
}

func (d *PortAudioFrameSource) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

func (d *PortAudioFrameSource) FrameSize() int {
	return d.frameSize
}
