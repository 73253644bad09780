package device

import (
	"testing"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/audiodevice"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeFrameSourceCaptureDirection(t *testing.T) {
	t.Parallel()

	pipe := NewPipeFrameSource(16000, 1, 320)
	require.NoError(t, pipe.Open())
	defer pipe.Close()

	require.NoError(t, pipe.Feed(frame.PCMFrame{0.1}))
	require.NoError(t, pipe.Feed(frame.PCMFrame{0.2}))

	first, err := pipe.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frame.PCMFrame{0.1}, first)

	second, err := pipe.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frame.PCMFrame{0.2}, second)
}

func TestPipeFrameSourceCaptureOverflowDropsOldest(t *testing.T) {
	t.Parallel()

	pipe := NewPipeFrameSource(16000, 1, 320)
	require.NoError(t, pipe.Open())
	defer pipe.Close()

	for i := range ringCapacityFrames + 1 {
		require.NoError(t, pipe.Feed(frame.PCMFrame{float32(i)}))
	}

	// Frame 0 was dropped to make room for the newest frame.
	first, err := pipe.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frame.PCMFrame{1}, first)
}

func TestPipeFrameSourcePlaybackDirection(t *testing.T) {
	t.Parallel()

	pipe := NewPipeFrameSource(16000, 1, 320)
	require.NoError(t, pipe.Open())
	defer pipe.Close()

	require.NoError(t, pipe.WriteFrame(frame.PCMFrame{0.5}))
	played, err := pipe.PopPlayed(time.Second)
	require.NoError(t, err)
	assert.Equal(t, frame.PCMFrame{0.5}, played)
}

func TestPipeFrameSourceWriteBackpressure(t *testing.T) {
	t.Parallel()

	pipe := NewPipeFrameSource(16000, 1, 320)
	require.NoError(t, pipe.Open())
	defer pipe.Close()

	for range ringCapacityFrames {
		require.NoError(t, pipe.WriteFrame(frame.PCMFrame{0}))
	}
	assert.ErrorIs(t, pipe.WriteFrame(frame.PCMFrame{0}), ErrBackpressureExceeded)

	// Flush clears the backlog and writes resume.
	pipe.FlushPlayback()
	assert.NoError(t, pipe.WriteFrame(frame.PCMFrame{0}))
}

func TestPipeFrameSourceOpenTwiceFails(t *testing.T) {
	t.Parallel()

	pipe := NewPipeFrameSource(16000, 1, 320)
	require.NoError(t, pipe.Open())
	defer pipe.Close()

	assert.ErrorIs(t, pipe.Open(), ErrDeviceUnavailable)
}

func TestPipeFrameSourceCloseReleasesReader(t *testing.T) {
	t.Parallel()

	pipe := NewPipeFrameSource(16000, 1, 320)
	require.NoError(t, pipe.Open())

	readErr := make(chan error, 1)
	go func() {
		_, err := pipe.ReadFrame()
		readErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, pipe.Close())

	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked read not released by close")
	}
}

func TestPipeFrameSourceAttachSourceFeedsCapture(t *testing.T) {
	t.Parallel()

	pipe := NewPipeFrameSource(16000, 1, 320)
	require.NoError(t, pipe.Open())
	defer pipe.Close()

	sourceStream := make(chan frame.PCMFrame)
	pipe.AttachSource(streamSource{stream: sourceStream})

	go func() {
		sourceStream <- frame.PCMFrame{0.25}
		close(sourceStream)
	}()

	f, err := pipe.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frame.PCMFrame{0.25}, f)
}

func TestPipeFrameSourceAttachSinkReceivesPlayback(t *testing.T) {
	t.Parallel()

	pipe := NewPipeFrameSource(16000, 1, 320)
	require.NoError(t, pipe.Open())

	sink := &collectingSink{frames: make(chan frame.PCMFrame, 8)}
	pipe.AttachSink(sink)

	require.NoError(t, pipe.WriteFrame(frame.PCMFrame{0.75}))

	select {
	case f := <-sink.frames:
		assert.Equal(t, frame.PCMFrame{0.75}, f)
	case <-time.After(time.Second):
		t.Fatal("sink never received the written frame")
	}

	// Closing the pipe closes the sink's stream per the cascade convention.
	require.NoError(t, pipe.Close())
	select {
	case _, open := <-sink.closed:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("sink stream not closed on pipe close")
	}
}

// --------------------------------------------------------------------------------

type streamSource struct {
	stream chan frame.PCMFrame
}

func (s streamSource) GetStream() <-chan frame.PCMFrame { return s.stream }
func (s streamSource) Close()                           {}
func (s streamSource) GetDeviceProperties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{SampleRate: 16000, NumChannels: 1}
}

type collectingSink struct {
	frames chan frame.PCMFrame
	closed chan struct{}
}

func (s *collectingSink) SetStream(sourceStream <-chan frame.PCMFrame) {
	s.closed = make(chan struct{})
	go func() {
		defer close(s.closed)
		for f := range sourceStream {
			s.frames <- f
		}
	}()
}

func (s *collectingSink) GetDeviceProperties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{SampleRate: 16000, NumChannels: 1}
}
