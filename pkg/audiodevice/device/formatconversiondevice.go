package device

import (
	"sync"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/audiodevice"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
	"github.com/oov/audio/resampler"
)

const (
	// To avoid reallocating for every source frame, conversions reuse a
	// buffer with "enough size". 48000Hz stereo audio at 120ms latency is
	// 11520 samples, so 2**14 = 16384 covers anything the pipeline produces.
	conversionBufferSize = 16384

	resampleQuality = 10
)

// Middle-man processing device bridging format mismatches between a source
// and a sink, e.g. a 44.1kHz stereo WAV file feeding a 16kHz mono engine.
//
// This device is both a sink and a source: call SetStream with the channel
// data arrives on, and GetStream for the channel converted data leaves on.
// Conversion starts once SetStream is called, and the sink channel closes
// when the source channel does.
type FormatConversionDevice struct {
	// The stream that data *arrives on*, in the source format.
	sourceStream     <-chan frame.PCMFrame
	sourceProperties audiodevice.DeviceProperties

	// The stream that data *leaves on*, in the sink format.
	sinkStream     chan frame.PCMFrame
	sinkProperties audiodevice.DeviceProperties

	conversions []conversionFunction

	shutdownOnce sync.Once
}

// Create a new FormatConversionDevice converting audio in the source format
// to the sink format. Channel layout is converted before resampling.
func NewFormatConversionDevice(
	sourceProperties audiodevice.DeviceProperties,
	sinkProperties audiodevice.DeviceProperties,
) *FormatConversionDevice {
	conversions := make([]conversionFunction, 0)
	if sourceProperties.NumChannels == 1 && sinkProperties.NumChannels == 2 {
		conversions = append(conversions, monoToStereo())
	}
	if sourceProperties.NumChannels == 2 && sinkProperties.NumChannels == 1 {
		conversions = append(conversions, stereoToMono())
	}
	if sourceProperties.SampleRate != sinkProperties.SampleRate {
		conversions = append(conversions, newResampleFunction(
			sourceProperties.SampleRate,
			sinkProperties.SampleRate,
			sinkProperties.NumChannels,
		))
	}

	return &FormatConversionDevice{
		sourceProperties: sourceProperties,
		sinkProperties:   sinkProperties,
		sinkStream:       make(chan frame.PCMFrame),
		conversions:      conversions,
	}
}

// --------------------------------------------------------------------------------
// AudioSourceDevice interface

func (d *FormatConversionDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *FormatConversionDevice) Close() {
	d.shutdownOnce.Do(func() {
		close(d.sinkStream)
	})
}

// The properties of the LEAVING data, i.e. the data that exits this device.
// For the properties of the data entering, call GetSourceDeviceProperties.
func (d *FormatConversionDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.sinkProperties
}

// --------------------------------------------------------------------------------
// AudioSinkDevice interface

func (d *FormatConversionDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	d.sourceStream = sourceStream
	go func() {
		for pcmFrame := range d.sourceStream {
			for _, convert := range d.conversions {
				pcmFrame = convert(pcmFrame)
			}
			d.sinkStream <- pcmFrame.Clone()
		}
		// This goroutine dies when the source stream is closed.
		d.Close()
	}()
}

func (d *FormatConversionDevice) GetSourceDeviceProperties() audiodevice.DeviceProperties {
	return d.sourceProperties
}

// --------------------------------------------------------------------------------

// Conversion functions may return the conversion buffer itself, so the
// pipeline clones the final frame before it crosses the sink channel.
type conversionFunction func(sourceFrame frame.PCMFrame) frame.PCMFrame

func monoToStereo() conversionFunction {
	buf := make(frame.PCMFrame, conversionBufferSize)
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		for i, sample := range sourceFrame {
			buf[2*i] = sample
			buf[2*i+1] = sample
		}
		return buf[:2*len(sourceFrame)]
	}
}

func stereoToMono() conversionFunction {
	buf := make(frame.PCMFrame, conversionBufferSize)
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		if len(sourceFrame)%2 == 1 {
			sourceFrame = sourceFrame[:len(sourceFrame)-1]
		}
		for i := range len(sourceFrame) / 2 {
			buf[i] = (sourceFrame[2*i] + sourceFrame[2*i+1]) / 2
		}
		return buf[:len(sourceFrame)/2]
	}
}

func newResampleFunction(sourceRate int, sinkRate int, numChannels int) conversionFunction {
	if numChannels == 1 {
		r := resampler.New(1, sourceRate, sinkRate, resampleQuality)
		buf := make(frame.PCMFrame, conversionBufferSize)
		return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
			_, written := r.ProcessFloat32(0, sourceFrame, buf)
			return buf[:written]
		}
	}

	r := resampler.New(2, sourceRate, sinkRate, resampleQuality)
	leftSourceBuf := make(frame.PCMFrame, conversionBufferSize/2)
	rightSourceBuf := make(frame.PCMFrame, conversionBufferSize/2)
	leftSinkBuf := make(frame.PCMFrame, conversionBufferSize/2)
	rightSinkBuf := make(frame.PCMFrame, conversionBufferSize/2)
	buf := make(frame.PCMFrame, conversionBufferSize)
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		if len(sourceFrame)%2 == 1 {
			sourceFrame = sourceFrame[:len(sourceFrame)-1]
		}

		// Deinterleave, resample each channel, interleave again.
		for i := range len(sourceFrame) / 2 {
			leftSourceBuf[i] = sourceFrame[2*i]
			rightSourceBuf[i] = sourceFrame[2*i+1]
		}
		_, written := r.ProcessFloat32(0, leftSourceBuf[:len(sourceFrame)/2], leftSinkBuf)
		r.ProcessFloat32(1, rightSourceBuf[:len(sourceFrame)/2], rightSinkBuf)
		for i := range written {
			buf[2*i] = leftSinkBuf[i]
			buf[2*i+1] = rightSinkBuf[i]
		}
		return buf[:2*written]
	}
}
