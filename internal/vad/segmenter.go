package vad

import (
	"log/slog"
	"math"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/observe"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
)

// One sealed span of detected speech audio.
//
// Created when speech onset is confirmed, sealed when silence persists past
// the hangover threshold (or the maximum utterance duration is hit).
// Consumed exactly once by the turn controller, then discarded.
type Utterance struct {
	// Monotonically increasing per segmenter, starting at 1.
	ID uint64

	// Offsets from the start of the capture stream.
	Start time.Duration
	End   time.Duration

	Frames []frame.PCMFrame
}

// Duration of the speech span covered by this utterance.
func (u *Utterance) Duration() time.Duration {
	return u.End - u.Start
}

// PCM returns all frames of the utterance concatenated into one buffer.
func (u *Utterance) PCM() frame.PCMFrame {
	total := 0
	for _, f := range u.Frames {
		total += len(f)
	}
	pcm := make(frame.PCMFrame, 0, total)
	for _, f := range u.Frames {
		pcm = append(pcm, f...)
	}
	return pcm
}

type Config struct {
	// RMS score above which a frame counts as speech.
	// Samples are float32 full-scale, so sensible thresholds sit well below 1.0.
	OnsetThreshold float64

	// Sustained activity required to confirm genuine speech.
	// Rejects clicks and pops shorter than this.
	OnsetHold time.Duration

	// Grace period of sub-threshold frames tolerated mid-utterance
	// before the utterance is sealed. Covers brief pauses mid-sentence.
	Hangover time.Duration

	// Utterances longer than this are force-sealed and emitted early,
	// with a continuation utterance started on the next frame.
	MaxUtterance time.Duration

	SampleRate  int
	NumChannels int
}

type segmenterState int

const (
	stateSilence segmenterState = iota
	stateSpeechCandidate
	stateSpeech
)

// Classifies captured frames as speech or silence and emits bounded
// utterance spans.
//
// State machine: Silence -> SpeechCandidate on the first frame scoring above
// the onset threshold, SpeechCandidate -> Speech once activity is sustained
// for the onset hold, Speech -> Silence once sub-threshold frames persist
// past the hangover. Candidate frames that never reach Speech are discarded
// as a false trigger.
//
// Not safe for concurrent use; a segmenter belongs to exactly one capture worker.
type Segmenter struct {
	logger *slog.Logger
	config Config

	state segmenterState

	nextID  uint64
	clock   time.Duration // stream position, advanced one frame duration per Process call
	pending []frame.PCMFrame
	start   time.Duration

	holdCount     int
	hangoverCount int

	onsetHoldFrames    int
	hangoverFrames     int
	maxUtteranceFrames int
}

func NewSegmenter(config Config, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Segmenter{
		logger: logger,
		config: config,
		nextID: 1,
	}
}

// frameDuration returns the stream time covered by one frame of n samples.
func (s *Segmenter) frameDuration(samples int) time.Duration {
	samplesPerChannel := samples / max(s.config.NumChannels, 1)
	return time.Duration(samplesPerChannel) * time.Second / time.Duration(max(s.config.SampleRate, 1))
}

func (s *Segmenter) framesFor(d, frameDuration time.Duration) int {
	if frameDuration <= 0 {
		return 1
	}
	n := int(d / frameDuration)
	if n < 1 {
		n = 1
	}
	return n
}

// Process consumes one captured frame and advances the state machine.
//
// The returned utterance is non-nil exactly when an utterance was sealed on
// this frame. onset is true exactly when this frame confirmed speech
// (SpeechCandidate -> Speech), the signal the turn controller uses for barge-in.
func (s *Segmenter) Process(f frame.PCMFrame) (sealed *Utterance, onset bool) {
	frameDuration := s.frameDuration(len(f))
	frameStart := s.clock
	s.clock += frameDuration

	// Threshold counts depend only on the (fixed) frame duration, so they are
	// derived lazily from the first non-empty frame seen. An empty frame has
	// no duration and must not pin the thresholds to one frame each.
	if s.onsetHoldFrames == 0 && frameDuration > 0 {
		s.onsetHoldFrames = s.framesFor(s.config.OnsetHold, frameDuration)
		s.hangoverFrames = s.framesFor(s.config.Hangover, frameDuration)
		s.maxUtteranceFrames = s.framesFor(s.config.MaxUtterance, frameDuration)
	}

	active := Score(f) > s.config.OnsetThreshold

	switch s.state {
	case stateSilence:
		if !active {
			return nil, false
		}
		s.state = stateSpeechCandidate
		s.start = frameStart
		s.pending = append(s.pending[:0], f)
		s.holdCount = 1
		if s.holdCount >= s.onsetHoldFrames {
			s.state = stateSpeech
			return nil, true
		}
		return nil, false

	case stateSpeechCandidate:
		if !active {
			// False trigger, e.g. a click or pop. Discard the candidate frames.
			s.logger.Debug("discarding false speech trigger", "frames", len(s.pending))
			s.reset()
			return nil, false
		}
		s.pending = append(s.pending, f)
		s.holdCount++
		if s.holdCount >= s.onsetHoldFrames {
			s.state = stateSpeech
			return nil, true
		}
		return nil, false

	case stateSpeech:
		s.pending = append(s.pending, f)
		if active {
			s.hangoverCount = 0
		} else {
			s.hangoverCount++
			if s.hangoverCount >= s.hangoverFrames {
				return s.seal(frameDuration, false), false
			}
		}
		if len(s.pending) >= s.maxUtteranceFrames {
			// Bound memory and latency: emit now, continue in a fresh utterance.
			sealed := s.seal(frameDuration, true)
			s.state = stateSpeech
			s.start = s.clock
			return sealed, false
		}
		return nil, false
	}

	return nil, false
}

// seal the accumulated utterance. For a hangover seal the trailing silent
// frames are trimmed so the utterance covers only the speech span.
//
// Returns nil when trimming leaves no frames at all. This happens when a
// force-sealed utterance's continuation never sees another speech frame:
// the continuation held only trailing silence, and an empty utterance must
// not reach the turn controller.
func (s *Segmenter) seal(frameDuration time.Duration, forced bool) *Utterance {
	trim := 0
	if !forced {
		trim = s.hangoverCount
	}
	if len(s.pending)-trim == 0 {
		s.logger.Debug("discarding empty continuation", "frames", len(s.pending))
		s.reset()
		return nil
	}
	frames := make([]frame.PCMFrame, len(s.pending)-trim)
	copy(frames, s.pending[:len(s.pending)-trim])

	utterance := &Utterance{
		ID:     s.nextID,
		Start:  s.start,
		End:    s.start + time.Duration(len(frames))*frameDuration,
		Frames: frames,
	}
	s.nextID++

	observe.UtteranceSealedTotal.Inc()
	if forced {
		observe.UtteranceForceSealedTotal.Inc()
	}
	s.logger.Debug(
		"utterance sealed",
		"utteranceID", utterance.ID,
		"duration", utterance.Duration(),
		"forced", forced,
	)

	s.reset()
	return utterance
}

func (s *Segmenter) reset() {
	s.state = stateSilence
	s.pending = s.pending[:0]
	s.holdCount = 0
	s.hangoverCount = 0
}

// Score returns the RMS energy of a frame.
//
// The metric is monotone under signal amplitude scaling: scaling every
// sample by c > 1 scales the score by c.
func Score(f frame.PCMFrame) float64 {
	if len(f) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range f {
		sum += float64(sample) * float64(sample)
	}
	return math.Sqrt(sum / float64(len(f)))
}
