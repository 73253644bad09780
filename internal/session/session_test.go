package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/device"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/exchange"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/exchange/mock"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/turn"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSampleRate = 16000
	testFrameSize  = 320
)

func testSessionConfig() Config {
	return Config{
		OnsetThreshold: 0.1,
		OnsetHold:      60 * time.Millisecond,
		Hangover:       200 * time.Millisecond,
		MaxUtterance:   10 * time.Second,
		BargeInEnabled: true,
	}
}

func constantFrame(amplitude float32) frame.PCMFrame {
	f := make(frame.PCMFrame, testFrameSize)
	for i := range f {
		f[i] = amplitude
	}
	return f
}

func feedFrames(pipe *device.PipeFrameSource, amplitude float32, n int) {
	for range n {
		pipe.Feed(constantFrame(amplitude))
		// Pace roughly at frame cadence so the capture ring never overflows.
		time.Sleep(time.Millisecond)
	}
}

func runSession(t *testing.T, s *Session) (cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	ctx, cancelFunc := context.WithCancel(context.Background())
	doneChan := make(chan error, 1)
	go func() { doneChan <- s.Run(ctx) }()
	return cancelFunc, doneChan
}

func waitStopped(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop within the teardown budget")
		return nil
	}
}

func TestSessionFullExchangeCycle(t *testing.T) {
	t.Parallel()

	response := mock.NewStream(exchange.PlaybackChunk{
		Frames: []frame.PCMFrame{{0.1}, {0.2}, {0.3}},
	})
	exchanger := mock.NewExchanger(mock.Result{Stream: response})

	pipe := device.NewPipeFrameSource(testSampleRate, 1, testFrameSize)
	s := New(pipe, exchanger, testSessionConfig(), nil)

	cancel, done := runSession(t, s)
	defer cancel()

	require.Eventually(t, func() bool { return s.TurnState() == turn.StateListeningUser },
		time.Second, time.Millisecond)

	// A spoken burst followed by silence past the hangover.
	feedFrames(pipe, 0.5, 10)
	feedFrames(pipe, 0.0, 15)

	require.Eventually(t, func() bool { return exchanger.Calls() == 1 },
		2*time.Second, time.Millisecond)

	// The utterance payload covers the burst.
	utterances := exchanger.Utterances()
	require.Len(t, utterances, 1)
	assert.Equal(t, 10*testFrameSize, len(utterances[0]))

	// Response audio reaches the playback direction, in order.
	for _, want := range []frame.PCMFrame{{0.1}, {0.2}, {0.3}} {
		played, err := pipe.PopPlayed(time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, played)
	}

	cancel()
	require.NoError(t, waitStopped(t, done))
}

func TestSessionSurvivesResponseFailure(t *testing.T) {
	t.Parallel()

	exchanger := mock.NewExchanger(mock.Result{Err: exchange.ErrResponseFailed})
	pipe := device.NewPipeFrameSource(testSampleRate, 1, testFrameSize)
	s := New(pipe, exchanger, testSessionConfig(), nil)

	cancel, done := runSession(t, s)
	defer cancel()

	feedFrames(pipe, 0.5, 10)
	feedFrames(pipe, 0.0, 15)

	// The failure is surfaced as an event and the session keeps listening.
	require.Eventually(t, func() bool {
		for {
			select {
			case event := <-s.Events():
				if event.Kind == turn.EventResponseFailed {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, turn.StateListeningUser, s.TurnState())

	cancel()
	require.NoError(t, waitStopped(t, done))
}

func TestSessionTeardownCancelsHungExchange(t *testing.T) {
	t.Parallel()

	// Empty script: the backend hangs until cancelled.
	exchanger := mock.NewExchanger()
	pipe := device.NewPipeFrameSource(testSampleRate, 1, testFrameSize)
	s := New(pipe, exchanger, testSessionConfig(), nil)

	cancel, done := runSession(t, s)

	feedFrames(pipe, 0.5, 10)
	feedFrames(pipe, 0.0, 15)
	require.Eventually(t, func() bool { return s.TurnState() == turn.StateProcessingResponse },
		2*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, waitStopped(t, done))
	assert.Equal(t, turn.StateIdle, s.TurnState())
	require.Eventually(t, func() bool { return exchanger.Cancelled() == 1 },
		time.Second, time.Millisecond)
}

func TestSessionFailsWhenDeviceUnavailable(t *testing.T) {
	t.Parallel()

	pipe := device.NewPipeFrameSource(testSampleRate, 1, testFrameSize)
	// Hold the device so the session's open fails.
	require.NoError(t, pipe.Open())

	s := New(pipe, mock.NewExchanger(), testSessionConfig(), nil)
	err := s.Run(context.Background())
	assert.ErrorIs(t, err, device.ErrDeviceUnavailable)
	assert.Equal(t, turn.StateIdle, s.TurnState())
}

func TestSessionRecordsUtterances(t *testing.T) {
	t.Parallel()

	recordingDir := t.TempDir()
	config := testSessionConfig()
	config.RecordingDir = recordingDir

	response := mock.NewStream()
	exchanger := mock.NewExchanger(mock.Result{Stream: response})
	pipe := device.NewPipeFrameSource(testSampleRate, 1, testFrameSize)
	s := New(pipe, exchanger, config, nil)

	cancel, done := runSession(t, s)
	defer cancel()

	feedFrames(pipe, 0.5, 10)
	feedFrames(pipe, 0.0, 15)
	require.Eventually(t, func() bool { return exchanger.Calls() == 1 },
		2*time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		matches, err := filepath.Glob(filepath.Join(recordingDir, "utterance-*.wav"))
		return err == nil && len(matches) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, waitStopped(t, done))
}
