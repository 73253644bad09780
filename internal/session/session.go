// Package session owns one full voice interaction: a duplex frame source,
// its segmenter, the turn controller, and the playback scheduler, wired
// device -> segmenter -> controller -> exchange backend -> scheduler -> device.
//
// Exactly one controller is active per session; sessions never share a frame
// source. The presentation layer starts and stops sessions and consumes the
// event stream; it never touches the pipeline directly.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/device"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/exchange"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/playback"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/turn"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/vad"
	audiofiledevice "github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/audiodevice/device"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Voice activity segmentation tuning. SampleRate and NumChannels are
	// filled in from the frame source, callers set only the thresholds.
	OnsetThreshold float64
	OnsetHold      time.Duration
	Hangover       time.Duration
	MaxUtterance   time.Duration

	BargeInEnabled  bool
	ExchangeTimeout time.Duration

	// When non-empty, every sealed utterance is also written to
	// <RecordingDir>/utterance-<id>.wav for debugging and transcripts.
	RecordingDir string
}

type Session struct {
	logger *slog.Logger
	uuid   uuid.UUID

	config     Config
	source     device.FrameSource
	segmenter  *vad.Segmenter
	scheduler  *playback.Scheduler
	controller *turn.Controller

	events chan turn.Event
}

// Create a new Session over the given frame source and exchange backend.
// The source must not be open yet; the session owns its full lifecycle.
func New(
	source device.FrameSource,
	exchanger exchange.Exchanger,
	config Config,
	logger *slog.Logger,
) *Session {
	uuid := uuid.New()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session uuid", uuid)

	properties := source.GetDeviceProperties()
	segmenter := vad.NewSegmenter(vad.Config{
		OnsetThreshold: config.OnsetThreshold,
		OnsetHold:      config.OnsetHold,
		Hangover:       config.Hangover,
		MaxUtterance:   config.MaxUtterance,
		SampleRate:     properties.SampleRate,
		NumChannels:    properties.NumChannels,
	}, logger)

	frameDuration := time.Duration(source.FrameSize()) * time.Second /
		time.Duration(max(properties.SampleRate, 1))
	scheduler := playback.NewScheduler(source, frameDuration, logger)

	events := make(chan turn.Event, 64)
	controller := turn.NewController(
		exchanger,
		scheduler,
		turn.Config{
			BargeInEnabled:  config.BargeInEnabled,
			ExchangeTimeout: config.ExchangeTimeout,
		},
		events,
		logger,
	)

	return &Session{
		logger:     logger,
		uuid:       uuid,
		config:     config,
		source:     source,
		segmenter:  segmenter,
		scheduler:  scheduler,
		controller: controller,
		events:     events,
	}
}

// Events exposes turn transitions and recoverable failures to the
// presentation layer. The channel is buffered and never blocks the pipeline.
func (s *Session) Events() <-chan turn.Event {
	return s.events
}

// The current turn state, mainly for inspection and tests.
func (s *Session) TurnState() turn.State {
	return s.controller.State()
}

// Run opens the device and drives the session until the context is canceled
// or the device is lost.
//
// A device that cannot be opened is fatal: Run returns an error wrapping
// device.ErrDeviceUnavailable and the session never starts. Recoverable
// exchange failures are surfaced on Events and do not end the run. On return
// the device is released, the in-flight exchange call (if any) has been
// cancelled, and the controller is back in Idle.
func (s *Session) Run(ctx context.Context) error {
	if err := s.source.Open(); err != nil {
		s.logger.Error("could not open frame source", "err", err)
		return fmt.Errorf("session start: %w", err)
	}
	defer s.source.Close()
	defer s.controller.Stop()

	if err := s.controller.Start(ctx); err != nil {
		return fmt.Errorf("session start: %w", err)
	}
	s.logger.Info("session started")

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.captureLoop(groupCtx)
	})

	// Close the source when the session is told to stop, releasing the
	// capture loop from its blocking read.
	group.Go(func() error {
		<-groupCtx.Done()
		s.controller.Stop()
		s.source.Close()
		return nil
	})

	err := group.Wait()
	s.logger.Info("session stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// captureLoop consumes capture frames, drives the segmenter, and forwards
// its events to the turn controller.
// Blocking work (the exchange call) is spawned from the controller, never
// done on this loop, so barge-in onsets are detected while a response plays.
func (s *Session) captureLoop(ctx context.Context) error {
	for {
		pcmFrame, err := s.source.ReadFrame()
		if err != nil {
			// ErrStreamClosed is the orderly-shutdown signal.
			if ctx.Err() != nil || errors.Is(err, device.ErrStreamClosed) {
				return nil
			}
			return fmt.Errorf("%w: %w", device.ErrDeviceUnavailable, err)
		}

		utterance, onset := s.segmenter.Process(pcmFrame)
		if onset {
			s.controller.OnSpeechOnset()
		}
		if utterance != nil {
			s.recordUtterance(utterance)
			s.controller.OnUtterance(utterance)
		}
	}
}

// recordUtterance tees a sealed utterance to a WAV file when recording is
// enabled. Failures are logged and ignored; recording never stalls a turn.
func (s *Session) recordUtterance(utterance *vad.Utterance) {
	if s.config.RecordingDir == "" {
		return
	}

	properties := s.source.GetDeviceProperties()
	path := filepath.Join(s.config.RecordingDir, fmt.Sprintf("utterance-%d.wav", utterance.ID))
	fileDevice, err := audiofiledevice.NewFileAudioOutputDevice(
		path,
		properties.SampleRate,
		properties.NumChannels,
	)
	if err != nil {
		s.logger.Warn("could not create utterance recording", "path", path, "err", err)
		return
	}

	recordingStream := make(chan frame.PCMFrame)
	fileDevice.SetStream(recordingStream)
	go func() {
		for _, pcmFrame := range utterance.Frames {
			recordingStream <- pcmFrame
		}
		close(recordingStream)
		fileDevice.WaitForClose()
		s.logger.Debug("utterance recorded", "path", path, "utteranceID", utterance.ID)
	}()
}
