package frame

// A single frame of raw PCM audio data.
//
// Samples are float32 in the range [-1.0, 1.0], interleaved by channel.
// A PCMFrame is immutable once captured: whichever pipeline stage currently
// holds the frame owns it until it is consumed.
type PCMFrame []float32

// A single frame of encoded (e.g. Opus) audio data,
// the unit of payload handed to the exchange backend.
type EncodedFrame []byte

// Clone returns a copy of the frame backed by fresh memory.
//
// Device callbacks reuse their sample buffers between invocations,
// so any frame that outlives the callback must be cloned first.
func (f PCMFrame) Clone() PCMFrame {
	c := make(PCMFrame, len(f))
	copy(c, f)
	return c
}
