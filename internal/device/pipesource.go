package device

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/observe"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/ringbuffer"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/audiodevice"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
	"github.com/google/uuid"
)

// A FrameSource with no hardware behind it.
//
// The capture side is fed either directly (Feed) or from a channel-based
// AudioSourceDevice such as a WAV file device (AttachSource). The playback
// side collects written frames for inspection (PopPlayed) or forwards them
// to an AudioSinkDevice (AttachSink).
//
// Used by tests to drive a full session without hardware, and by the file
// device mode of the assistant binary.
type PipeFrameSource struct {
	logger *slog.Logger
	uuid   uuid.UUID

	properties audiodevice.DeviceProperties
	frameSize  int

	captureRing  *ringbuffer.RingBuffer
	playbackRing *ringbuffer.RingBuffer

	mu           sync.Mutex
	opened       bool
	shutdownOnce sync.Once
	attachWg     sync.WaitGroup
}

func NewPipeFrameSource(sampleRate int, numChannels int, frameSize int) *PipeFrameSource {
	uuid := uuid.New()
	return &PipeFrameSource{
		logger: slog.Default().With(
			"pipe device uuid", uuid,
		),
		uuid: uuid,
		properties: audiodevice.DeviceProperties{
			SampleRate:  sampleRate,
			NumChannels: numChannels,
		},
		frameSize:    frameSize,
		captureRing:  ringbuffer.NewRingBuffer(ringCapacityFrames),
		playbackRing: ringbuffer.NewRingBuffer(ringCapacityFrames),
	}
}

func (d *PipeFrameSource) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return fmt.Errorf("%w: device already held by this process", ErrDeviceUnavailable)
	}
	d.opened = true
	return nil
}

// Feed one frame into the capture direction, as the device callback would.
// Overflow drops the oldest buffered frame, mirroring the hardware path.
func (d *PipeFrameSource) Feed(f frame.PCMFrame) error {
	err := d.captureRing.Push(f)
	if err == ringbuffer.ErrOverflow {
		observe.CaptureOverflowTotal.Inc()
		d.captureRing.Pop(0)
		err = d.captureRing.Push(f)
	}
	return err
}

// Forward every frame of the given source device into the capture direction.
// The goroutine exits when the source's stream is closed; if this device is
// closed first, remaining source frames are drained and discarded so the
// upstream device never blocks on a dead pipe.
func (d *PipeFrameSource) AttachSource(source audiodevice.AudioSourceDevice) {
	d.attachWg.Add(1)
	go func() {
		defer d.attachWg.Done()
		stream := source.GetStream()
		for f := range stream {
			if d.Feed(f) == ringbuffer.ErrClosed {
				for range stream {
				}
				return
			}
		}
		d.logger.Debug("attached source stream closed")
	}()
}

// Forward every played frame to the given sink device.
// The sink's stream is closed when this device is closed.
func (d *PipeFrameSource) AttachSink(sink audiodevice.AudioSinkDevice) {
	sinkStream := make(chan frame.PCMFrame)
	sink.SetStream(sinkStream)

	d.attachWg.Add(1)
	go func() {
		defer d.attachWg.Done()
		defer close(sinkStream)
		for {
			f, err := d.playbackRing.Pop(readPollInterval)
			switch err {
			case nil:
				sinkStream <- f
			case ringbuffer.ErrEmpty:
				continue
			default:
				return
			}
		}
	}()
}

// Pop one frame from the playback direction, as the device callback would.
func (d *PipeFrameSource) PopPlayed(timeout time.Duration) (frame.PCMFrame, error) {
	return d.playbackRing.Pop(timeout)
}

func (d *PipeFrameSource) ReadFrame() (frame.PCMFrame, error) {
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

func (d *PipeFrameSource) WriteFrame(f frame.PCMFrame) error {
	switch err := d.playbackRing.Push(f); err {
	case nil:
		return nil
	case ringbuffer.ErrOverflow:
		observe.PlaybackBackpressureTotal.Inc()
		return ErrBackpressureExceeded
	default:
		return ErrStreamClosed
	}
}

func (d *PipeFrameSource) FlushPlayback() {
	d.playbackRing.Clear()
}

func (d *PipeFrameSource) Close() error {
	d.shutdownOnce.Do(func() {
		d.captureRing.Close()
		d.playbackRing.Close()
		d.attachWg.Wait()
	})
	return nil
}

func (d *PipeFrameSource) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

func (d *PipeFrameSource) FrameSize() int {
	return d.frameSize
}
