package encoderdecoder

import (
	"testing"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawEncoderDecoderRoundTrip(t *testing.T) {
	t.Parallel()

	codec, err := NewEncoderDecoder(EncoderDecoderTypeRaw, 16000, 1, 4)
	require.NoError(t, err)

	original := frame.PCMFrame{-1.0, -0.5, 0.5, 1.0}
	encoded, err := codec.Encode(original)
	require.NoError(t, err)
	assert.Len(t, encoded, 2*len(original))

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, len(original))
	for i := range original {
		assert.InDelta(t, original[i], decoded[i], 1e-4)
	}
}

func TestRawEncoderDecoderClampsOutOfRangeSamples(t *testing.T) {
	t.Parallel()

	codec, err := NewEncoderDecoder(EncoderDecoderTypeRaw, 16000, 1, 2)
	require.NoError(t, err)

	encoded, err := codec.Encode(frame.PCMFrame{2.0, -2.0})
	require.NoError(t, err)

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, decoded[0], 1e-4)
	assert.InDelta(t, -1.0, decoded[1], 1e-4)
}

func TestNewEncoderDecoderUnknownType(t *testing.T) {
	t.Parallel()

	codec, err := NewEncoderDecoder("mp3", 16000, 1, 320)
	assert.Nil(t, codec)
	assert.Error(t, err)
}
