package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/audiodevice"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/encoderdecoder"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Control messages framing the binary audio payload on the websocket.
// Audio itself travels as binary messages, one encoded frame per message.
type controlMessage struct {
	Type        string `json:"type"`
	SampleRate  int    `json:"samplerate,omitempty"`
	NumChannels int    `json:"channels,omitempty"`
	Codec       string `json:"codec,omitempty"`
	Message     string `json:"message,omitempty"`
}

const (
	controlTypeUtterance = "utterance"
	controlTypeEnd       = "end"
	controlTypeDone      = "done"
	controlTypeError     = "error"
)

// An Exchanger speaking a websocket protocol to the chat backend.
//
// Each Exchange call dials a fresh connection, uploads the encoded utterance,
// and hands back a ResponseStream over the same connection. Cancelling the
// Exchange context tears the connection down, which is what frees the
// backend's resources on session end or barge-in.
type WebsocketExchanger struct {
	logger *slog.Logger

	url        string
	properties audiodevice.DeviceProperties
	frameSize  int
	codec      encoderdecoder.EncoderDecoder
	codecName  encoderdecoder.EncoderDecoderTypeEnum
}

func NewWebsocketExchanger(
	url string,
	properties audiodevice.DeviceProperties,
	frameSize int,
	codecName encoderdecoder.EncoderDecoderTypeEnum,
	logger *slog.Logger,
) (*WebsocketExchanger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	codec, err := encoderdecoder.NewEncoderDecoder(codecName, properties.SampleRate, properties.NumChannels, frameSize)
	if err != nil {
		return nil, fmt.Errorf("could not create exchange codec: %w", err)
	}

	return &WebsocketExchanger{
		logger:     logger.With("exchange uuid", uuid.New()),
		url:        url,
		properties: properties,
		frameSize:  frameSize,
		codec:      codec,
		codecName:  codecName,
	}, nil
}

func (e *WebsocketExchanger) Exchange(ctx context.Context, utterance frame.PCMFrame) (ResponseStream, error) {
	conn, _, err := websocket.Dial(ctx, e.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrResponseFailed, e.url, err)
	}

	if err := e.sendUtterance(ctx, conn, utterance); err != nil {
		conn.Close(websocket.StatusInternalError, "utterance upload failed")
		return nil, fmt.Errorf("%w: %w", ErrResponseFailed, err)
	}

	return &websocketResponseStream{
		logger: e.logger,
		conn:   conn,
		codec:  e.codec,
	}, nil
}

func (e *WebsocketExchanger) sendUtterance(ctx context.Context, conn *websocket.Conn, utterance frame.PCMFrame) error {
	header := controlMessage{
		Type:        controlTypeUtterance,
		SampleRate:  e.properties.SampleRate,
		NumChannels: e.properties.NumChannels,
		Codec:       string(e.codecName),
	}
	if err := wsjson.Write(ctx, conn, header); err != nil {
		return fmt.Errorf("write utterance header: %w", err)
	}

	// One encoded frame per binary message. The final partial frame is
	// zero-padded to the codec frame size.
	samplesPerFrame := e.frameSize * e.properties.NumChannels
	for start := 0; start < len(utterance); start += samplesPerFrame {
		end := min(start+samplesPerFrame, len(utterance))
		pcm := utterance[start:end]
		if len(pcm) < samplesPerFrame {
			padded := make(frame.PCMFrame, samplesPerFrame)
			copy(padded, pcm)
			pcm = padded
		}

		encoded, err := e.codec.Encode(pcm)
		if err != nil {
			return fmt.Errorf("encode utterance frame: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, encoded); err != nil {
			return fmt.Errorf("write utterance frame: %w", err)
		}
	}

	if err := wsjson.Write(ctx, conn, controlMessage{Type: controlTypeEnd}); err != nil {
		return fmt.Errorf("write utterance end: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------------

type websocketResponseStream struct {
	logger *slog.Logger
	conn   *websocket.Conn
	codec  encoderdecoder.EncoderDecoder
	done   bool
}

func (s *websocketResponseStream) Next(ctx context.Context) (PlaybackChunk, error) {
	if s.done {
		return PlaybackChunk{}, io.EOF
	}

	for {
		messageType, data, err := s.conn.Read(ctx)
		if err != nil {
			s.done = true
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return PlaybackChunk{}, err
			}
			return PlaybackChunk{}, fmt.Errorf("%w: read response: %w", ErrResponseFailed, err)
		}

		switch messageType {
		case websocket.MessageBinary:
			pcm, err := s.codec.Decode(frame.EncodedFrame(data))
			if err != nil {
				s.done = true
				return PlaybackChunk{}, fmt.Errorf("%w: decode response frame: %w", ErrResponseFailed, err)
			}
			return PlaybackChunk{Frames: []frame.PCMFrame{pcm}}, nil

		case websocket.MessageText:
			var control controlMessage
			if err := json.Unmarshal(data, &control); err != nil {
				s.done = true
				return PlaybackChunk{}, fmt.Errorf("%w: malformed control message: %w", ErrResponseFailed, err)
			}
			switch control.Type {
			case controlTypeDone:
				s.done = true
				return PlaybackChunk{}, io.EOF
			case controlTypeError:
				s.done = true
				return PlaybackChunk{}, fmt.Errorf("%w: %s", ErrResponseFailed, control.Message)
			default:
				s.logger.Warn("unexpected control message from exchange backend", "type", control.Type)
			}
		}
	}
}

func (s *websocketResponseStream) Close() error {
	s.done = true
	return s.conn.Close(websocket.StatusNormalClosure, "response stream closed")
}
