package turn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/exchange"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/observe"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/playback"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/vad"
)

// Which party currently holds the right to produce audio.
// Exactly one state is active per session at any instant: the underlying
// device is full duplex, but the conversation is half duplex.
type State int

const (
	// No interaction open.
	StateIdle State = iota
	// Accumulating utterances from the segmenter.
	StateListeningUser
	// An utterance is with the exchange backend; awaiting its response stream.
	StateProcessingResponse
	// Draining the response through the playback scheduler.
	StatePlayingResponse
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListeningUser:
		return "ListeningUser"
	case StateProcessingResponse:
		return "ProcessingResponse"
	case StatePlayingResponse:
		return "PlayingResponse"
	default:
		return "Unknown"
	}
}

type EventKind int

const (
	// The turn state changed. Event.State carries the new state.
	EventTurnChanged EventKind = iota
	// The exchange backend failed or timed out. Recoverable: the
	// controller has already returned to listening. Event.Err has the cause.
	EventResponseFailed
)

type Event struct {
	Kind  EventKind
	State State
	Err   error
}

// The state machine governing whose turn it is to speak.
//
// Driven by segmenter events (sealed utterances, confirmed speech onsets)
// from the capture worker, and by completion signals from the exchange
// backend and playback scheduler. All transitions happen under one mutex
// over a single state field, so the half-duplex invariant (never listening
// and playing at once) holds by construction.
type Controller struct {
	logger    *slog.Logger
	exchanger exchange.Exchanger
	scheduler *playback.Scheduler

	// Cancel playback the moment a new speech onset is confirmed.
	bargeIn bool

	// Upper bound on one exchange call including its response stream.
	// Zero means no timeout beyond session cancellation.
	exchangeTimeout time.Duration

	events chan<- Event

	mu             sync.Mutex
	state          State
	sessionCtx     context.Context
	cancelExchange context.CancelFunc

	// Incremented whenever in-flight work is invalidated (stop, barge-in).
	// Completion callbacks carry the generation they were started under and
	// are ignored if it is stale.
	generation uint64
}

type Config struct {
	BargeInEnabled  bool
	ExchangeTimeout time.Duration
}

// Create a new Controller in the Idle state.
// events may be nil if the caller does not care about turn events;
// otherwise it should be buffered, as emission never blocks.
func NewController(
	exchanger exchange.Exchanger,
	scheduler *playback.Scheduler,
	config Config,
	events chan<- Event,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		logger:          logger,
		exchanger:       exchanger,
		scheduler:       scheduler,
		bargeIn:         config.BargeInEnabled,
		exchangeTimeout: config.ExchangeTimeout,
		events:          events,
		state:           StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens the interaction: Idle -> ListeningUser.
// The given context bounds every exchange call made during the session.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return errors.New("turn controller already started")
	}
	c.sessionCtx = ctx
	c.setStateLocked(StateListeningUser)
	return nil
}

// OnUtterance hands a sealed utterance to the exchange backend:
// ListeningUser -> ProcessingResponse.
//
// Utterances arriving in any other state are discarded. This is the
// suppression that prevents overlapping concurrent requests to the backend
// while a response is in flight or playing.
func (c *Controller) OnUtterance(utterance *vad.Utterance) {
	c.mu.Lock()
	if c.state != StateListeningUser {
		c.logger.Debug(
			"utterance suppressed",
			"utteranceID", utterance.ID,
			"state", c.state.String(),
		)
		c.mu.Unlock()
		return
	}

	exchangeCtx, cancel := c.newExchangeContext()
	c.cancelExchange = cancel
	generation := c.generation
	c.setStateLocked(StateProcessingResponse)
	c.mu.Unlock()

	go c.process(exchangeCtx, generation, utterance)
}

// OnSpeechOnset is the barge-in signal: confirmed user speech while a
// response is playing cancels playback immediately and returns to listening,
// guaranteeing no stale audio plays after the new utterance begins.
func (c *Controller) OnSpeechOnset() {
	c.mu.Lock()
	if !c.bargeIn || c.state != StatePlayingResponse {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.clearExchangeLocked()
	c.setStateLocked(StateListeningUser)
	c.mu.Unlock()

	c.scheduler.Cancel()
	observe.BargeInTotal.Inc()
	c.logger.Info("barge-in: response playback cancelled")
}

// Stop closes the interaction from any state: -> Idle.
// Any in-flight exchange call is cancelled (not merely ignored) so the
// backend frees its resources, and pending playback is discarded.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.clearExchangeLocked()
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	c.scheduler.Cancel()
}

// --------------------------------------------------------------------------------

// process runs one utterance through the exchange backend and, on success,
// hands the response stream to the playback scheduler. Runs outside the
// mutex; this is the worker context where blocking is permitted.
func (c *Controller) process(ctx context.Context, generation uint64, utterance *vad.Utterance) {
	stream, err := c.exchanger.Exchange(ctx, utterance.PCM())
	if err != nil {
		c.failResponse(generation, err)
		return
	}

	c.mu.Lock()
	if c.generation != generation || c.state != StateProcessingResponse {
		// Stopped or barged in while the call was in flight.
		c.mu.Unlock()
		stream.Close()
		return
	}
	c.mu.Unlock()

	c.scheduler.Play(
		ctx,
		stream,
		func() { c.onFirstFrame(generation) },
		func(err error) { c.onPlaybackDone(generation, err) },
	)
}

// onFirstFrame: ProcessingResponse -> PlayingResponse, on the first
// response frame reaching the playback path.
func (c *Controller) onFirstFrame(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation || c.state != StateProcessingResponse {
		return
	}
	c.setStateLocked(StatePlayingResponse)
}

// onPlaybackDone: PlayingResponse -> ListeningUser on drain-complete,
// or a recoverable failure event if the stream broke mid-response.
func (c *Controller) onPlaybackDone(generation uint64, err error) {
	if errors.Is(err, context.Canceled) {
		// Cancellation is always initiated by Stop or barge-in,
		// which have already transitioned the state.
		return
	}
	if err != nil {
		c.failResponse(generation, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return
	}
	c.clearExchangeLocked()
	if c.state == StatePlayingResponse || c.state == StateProcessingResponse {
		c.setStateLocked(StateListeningUser)
	}
}

// failResponse surfaces a recoverable ResponseFailed event and resumes
// listening. The pipeline never crashes on a backend failure.
func (c *Controller) failResponse(generation uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return
	}
	if errors.Is(err, context.Canceled) {
		// Session teardown cancelled the call. Still release the exchange
		// context here: when the parent context is cancelled before Stop
		// runs, the generation matches and nobody else cleans it up.
		c.clearExchangeLocked()
		return
	}

	observe.ResponseFailedTotal.Inc()
	c.logger.Warn("exchange response failed, resuming listening", "err", err)
	c.clearExchangeLocked()
	if c.state != StateIdle {
		c.setStateLocked(StateListeningUser)
	}
	c.emit(Event{Kind: EventResponseFailed, State: c.state, Err: err})
}

func (c *Controller) newExchangeContext() (context.Context, context.CancelFunc) {
	if c.exchangeTimeout > 0 {
		return context.WithTimeout(c.sessionCtx, c.exchangeTimeout)
	}
	return context.WithCancel(c.sessionCtx)
}

func (c *Controller) clearExchangeLocked() {
	if c.cancelExchange != nil {
		c.cancelExchange()
		c.cancelExchange = nil
	}
}

func (c *Controller) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.logger.Debug("turn transition", "from", c.state.String(), "to", state.String())
	c.state = state
	c.emit(Event{Kind: EventTurnChanged, State: state})
}

func (c *Controller) emit(event Event) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- event:
	default:
		c.logger.Warn("turn event dropped, events channel full", "kind", event.Kind)
	}
}
