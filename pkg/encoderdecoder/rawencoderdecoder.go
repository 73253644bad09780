package encoderdecoder

import (
	"encoding/binary"
	"math"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
)

// An encoder/decoder that performs NO compression.
//
// PCM samples are packed as little-endian int16, the format PCM-speaking
// exchange backends expect on the wire. Useful when the backend does its own
// transcoding, and as the stand-in codec in tests.
type RawEncoderDecoder struct{}

func (encdec RawEncoderDecoder) Encode(pcmData frame.PCMFrame) (frame.EncodedFrame, error) {
	encoded := make(frame.EncodedFrame, 2*len(pcmData))
	for i, sample := range pcmData {
		binary.LittleEndian.PutUint16(encoded[2*i:], uint16(pcmSampleToInt16(sample)))
	}
	return encoded, nil
}

func (encdec RawEncoderDecoder) Decode(encodedData frame.EncodedFrame) (frame.PCMFrame, error) {
	pcm := make(frame.PCMFrame, len(encodedData)/2)
	for i := range pcm {
		pcm[i] = int16SampleToPCM(int16(binary.LittleEndian.Uint16(encodedData[2*i:])))
	}
	return pcm, nil
}

func pcmSampleToInt16(sample float32) int16 {
	scaled := sample * math.MaxInt16
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int16(scaled)
}

func int16SampleToPCM(sample int16) float32 {
	return float32(sample) / math.MaxInt16
}
