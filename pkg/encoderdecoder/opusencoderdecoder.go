package encoderdecoder

import (
	"errors"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
	"layeh.com/gopus"
)

// Opus requires the frame duration to be 2.5, 5, 10, 20, 40 or 60 ms.
// With the pipeline's fixed frame cadence this means the frame size passed
// at construction must already satisfy that constraint.
const maxOpusPacketBytes = 4000

type OpusEncoderDecoder struct {
	sampleRate  int
	numChannels int
	// Samples per channel in one frame. Every Encode call must present
	// exactly this many samples per channel.
	frameSize int

	encoder *gopus.Encoder
	decoder *gopus.Decoder
}

func newOpusEncoderDecoder(sampleRate int, numChannels int, frameSize int) (*OpusEncoderDecoder, error) {
	encoder, errEnc := gopus.NewEncoder(sampleRate, numChannels, gopus.Voip)
	decoder, errDec := gopus.NewDecoder(sampleRate, numChannels)
	if err := errors.Join(errEnc, errDec); err != nil {
		return nil, err
	}

	return &OpusEncoderDecoder{
		sampleRate:  sampleRate,
		numChannels: numChannels,
		frameSize:   frameSize,
		encoder:     encoder,
		decoder:     decoder,
	}, nil
}

func (encdec *OpusEncoderDecoder) Encode(pcmData frame.PCMFrame) (frame.EncodedFrame, error) {
	pcm := make([]int16, len(pcmData))
	for i, sample := range pcmData {
		pcm[i] = pcmSampleToInt16(sample)
	}

	encoded, err := encdec.encoder.Encode(pcm, encdec.frameSize, maxOpusPacketBytes)
	if err != nil {
		return nil, err
	}
	return frame.EncodedFrame(encoded), nil
}

func (encdec *OpusEncoderDecoder) Decode(encodedData frame.EncodedFrame) (frame.PCMFrame, error) {
	pcm, err := encdec.decoder.Decode(encodedData, encdec.frameSize, false)
	if err != nil {
		return nil, err
	}

	decoded := make(frame.PCMFrame, len(pcm))
	for i, sample := range pcm {
		decoded[i] = int16SampleToPCM(sample)
	}
	return decoded, nil
}
