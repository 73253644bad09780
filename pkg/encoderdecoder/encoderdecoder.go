package encoderdecoder

import (
	"errors"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
)

type EncoderDecoderTypeEnum string

var (
	EncoderDecoderTypeRaw  EncoderDecoderTypeEnum = "raw"
	EncoderDecoderTypeOpus EncoderDecoderTypeEnum = "opus"
)

var (
	errEncoderDecoderTypeNotImplemented = errors.New("specified encoderdecoder type is not implemented")
)

// Audio encoder/decoder interface.
// Used to encode raw PCM frames to an encoded frame for the exchange wire,
// and decode those frames back to PCM frames.
type EncoderDecoder interface {
	Encode(pcmData frame.PCMFrame) (frame.EncodedFrame, error)
	Decode(encodedData frame.EncodedFrame) (frame.PCMFrame, error)
}

// Create a new encoder/decoder for the configured exchange wire codec.
// If something goes wrong during creation (e.g. the codec name has no
// implementation) then a nil EncoderDecoder and an error is returned.
func NewEncoderDecoder(
	encoderdecoderID EncoderDecoderTypeEnum,
	sampleRate int,
	numChannels int,
	frameSize int,
) (EncoderDecoder, error) {
	switch encoderdecoderID {
	case EncoderDecoderTypeRaw:
		return RawEncoderDecoder{}, nil
	case EncoderDecoderTypeOpus:
		return newOpusEncoderDecoder(sampleRate, numChannels, frameSize)
	default:
		return nil, errEncoderDecoderTypeNotImplemented
	}
}
