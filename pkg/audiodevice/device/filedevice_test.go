package device

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDeviceRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "roundtrip.wav")

	// Write two frames of a recognizable ramp through the output device.
	outputDevice, err := NewFileAudioOutputDevice(path, 16000, 1)
	require.NoError(t, err)

	written := frame.PCMFrame{}
	outputStream := make(chan frame.PCMFrame)
	outputDevice.SetStream(outputStream)
	for _, f := range []frame.PCMFrame{{0.0, 0.25, 0.5}, {-0.25, -0.5, -0.75}} {
		written = append(written, f...)
		outputStream <- f
	}
	close(outputStream)
	outputDevice.WaitForClose()

	// Read it back through the input device, as fast as possible.
	inputDevice, err := NewFileAudioInputDevice(path, 20*time.Millisecond, false)
	require.NoError(t, err)
	assert.Equal(t, 16000, inputDevice.GetDeviceProperties().SampleRate)
	assert.Equal(t, 1, inputDevice.GetDeviceProperties().NumChannels)

	inputDevice.Play(context.Background())

	read := frame.PCMFrame{}
	for f := range inputDevice.GetStream() {
		read = append(read, f...)
	}

	require.Len(t, read, len(written))
	for i := range written {
		// 16-bit quantization on the way through the file.
		assert.InDelta(t, written[i], read[i], 1e-4)
	}
}

func TestFileAudioInputDeviceMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFileAudioInputDevice(
		filepath.Join(t.TempDir(), "does-not-exist.wav"),
		20*time.Millisecond,
		false,
	)
	assert.Error(t, err)
}

func TestFileAudioInputDevicePlayStopsOnCancel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cancel.wav")
	outputDevice, err := NewFileAudioOutputDevice(path, 16000, 1)
	require.NoError(t, err)

	outputStream := make(chan frame.PCMFrame)
	outputDevice.SetStream(outputStream)
	for range 100 {
		outputStream <- make(frame.PCMFrame, 320)
	}
	close(outputStream)
	outputDevice.WaitForClose()

	inputDevice, err := NewFileAudioInputDevice(path, 20*time.Millisecond, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	inputDevice.Play(ctx)

	// Consume a few paced frames, then cancel mid-file.
	for range 3 {
		select {
		case <-inputDevice.GetStream():
		case <-time.After(time.Second):
			t.Fatal("paced input device produced no frame")
		}
	}
	cancel()

	select {
	case _, open := <-inputDevice.GetStream():
		for open {
			_, open = <-inputDevice.GetStream()
		}
	case <-time.After(time.Second):
		t.Fatal("input device stream not closed after cancel")
	}
}
