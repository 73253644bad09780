package device

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/audiodevice"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/frame"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------------
// FileAudioInputDevice

// An AudioSourceDevice that reads a .WAV file and streams its PCM frames
// at the frame cadence, standing in for a microphone.
//
// Lets a full session run against recorded audio: tests and the file device
// mode of the assistant binary both use this.
type FileAudioInputDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	shutdownOnce sync.Once

	decoder         *wav.Decoder
	fileHandle      *os.File
	frameDuration   time.Duration
	samplesPerFrame int
	realtime        bool
	sinkStream      chan frame.PCMFrame
}

// Make a new FileAudioInputDevice from a .WAV file.
//
// The sample rate and channel count are determined by the file; the duration
// between frames is determined by the frameDuration parameter. When realtime
// is true frames are paced at the frame cadence, as a live microphone would
// deliver them; when false the file is streamed as fast as the consumer pops.
func NewFileAudioInputDevice(
	audioFilePath string,
	frameDuration time.Duration,
	realtime bool,
) (*FileAudioInputDevice, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"file input device uuid", uuid,
	)

	f, err := os.Open(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		logger.Error(
			"could not decode audio file",
			"audioFile", audioFilePath,
			"err", decoder.Err(),
		)
		f.Close()
		return nil, errors.New("error while decoding audio file")
	}

	samplesPerFrame := int(float64(decoder.NumChans) * float64(decoder.SampleRate) *
		float64(frameDuration) / float64(time.Second))
	if samplesPerFrame <= 0 {
		logger.Error(
			"non-positive samples per frame during opening of file audio input",
			"audioFile", audioFilePath,
			"sampleRate", decoder.SampleRate,
			"channels", decoder.NumChans,
			"samplesPerFrame", samplesPerFrame,
		)
		f.Close()
		return nil, errors.New("non-positive samples per frame")
	}

	logger.Debug(
		"loaded audio file",
		"audioFile", audioFilePath,
		"sampleRate", decoder.SampleRate,
		"channels", decoder.NumChans,
		"samplesPerFrame", samplesPerFrame,
	)

	return &FileAudioInputDevice{
		logger:          logger,
		uuid:            uuid,
		decoder:         decoder,
		fileHandle:      f,
		frameDuration:   frameDuration,
		samplesPerFrame: samplesPerFrame,
		realtime:        realtime,
		sinkStream:      make(chan frame.PCMFrame),
	}, nil
}

// Play the audio file loaded by this input device.
// The stream is closed when the file ends or the context is canceled.
func (d *FileAudioInputDevice) Play(ctx context.Context) {
	d.logger.Debug("playing audio file")
	const maxInt16 = float32(math.MaxInt16)
	go func() {
		defer d.Close()

		buf, err := d.decoder.FullPCMBuffer()
		if err != nil {
			d.logger.Error(
				"could not get full PCM buffer from audio file",
				"err", err,
			)
			return
		}

		var ticker *time.Ticker
		if d.realtime {
			ticker = time.NewTicker(d.frameDuration)
			defer ticker.Stop()
		}

		for frameStart := 0; frameStart < len(buf.Data); frameStart += d.samplesPerFrame {
			frameEnd := min(frameStart+d.samplesPerFrame, len(buf.Data))
			pcmFrame := make(frame.PCMFrame, frameEnd-frameStart)
			for i := range pcmFrame {
				pcmFrame[i] = float32(buf.Data[frameStart+i]) / maxInt16
			}

			if d.realtime {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return
				}
			}
			select {
			case d.sinkStream <- pcmFrame:
			case <-ctx.Done():
				return
			}
		}
		d.logger.Debug("finished playing audio file")
	}()
}

func (d *FileAudioInputDevice) Close() {
	d.shutdownOnce.Do(func() {
		close(d.sinkStream)
		d.fileHandle.Close()
	})
}

func (d *FileAudioInputDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *FileAudioInputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{
		SampleRate:  int(d.decoder.SampleRate),
		NumChannels: int(d.decoder.NumChans),
	}
}

// --------------------------------------------------------------------------------
// FileAudioOutputDevice

// An AudioSinkDevice that writes incoming PCM frames to a .WAV file.
// Used to record sealed utterances and played responses to disk.
// Note the resulting file is only valid once the source stream is closed.
type FileAudioOutputDevice struct {
	ctx           context.Context
	ctxCancelFunc context.CancelFunc
	logger        *slog.Logger
	uuid          uuid.UUID
	encoder       *wav.Encoder
	fileHandle    *os.File
}

// Create a new FileAudioOutputDevice writing to a .WAV file at the given path.
func NewFileAudioOutputDevice(
	audioFilePath string,
	sampleRate int,
	numChannels int,
) (*FileAudioOutputDevice, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"file output device uuid", uuid,
	)

	f, err := os.Create(audioFilePath)
	if err != nil {
		logger.Error(
			"could not create audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	encoder := wav.NewEncoder(f, sampleRate, 16, numChannels, 1)
	ctx, ctxCancelFunc := context.WithCancel(context.Background())
	return &FileAudioOutputDevice{
		ctx:           ctx,
		ctxCancelFunc: ctxCancelFunc,
		logger:        logger,
		uuid:          uuid,
		encoder:       encoder,
		fileHandle:    f,
	}, nil
}

// Wait for this device to finish writing.
// Blocks until the source stream has been closed and the file flushed.
func (d *FileAudioOutputDevice) WaitForClose() {
	<-d.ctx.Done()
}

func (d *FileAudioOutputDevice) close() {
	d.encoder.Close()
	d.fileHandle.Sync()
	d.fileHandle.Close()
	d.ctxCancelFunc()
}

// Set the source channel of this audio device, i.e. where data comes from.
//
// When the given stream is closed the WAV headers are finalized and the
// file handle released.
func (d *FileAudioOutputDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	const maxInt16 = float32(math.MaxInt16)
	go func() {
		bufFormat := &goaudio.Format{
			SampleRate:  d.encoder.SampleRate,
			NumChannels: d.encoder.NumChans,
		}
		for pcmFrame := range sourceStream {
			buf := &goaudio.IntBuffer{
				Format:         bufFormat,
				Data:           make([]int, len(pcmFrame)),
				SourceBitDepth: 16,
			}
			for i, sample := range pcmFrame {
				buf.Data[i] = int(sample * maxInt16)
			}

			if err := d.encoder.Write(buf); err != nil {
				d.logger.Error("error while writing frame to file", "err", err)
				continue
			}
		}
		d.logger.Debug("source stream closed, finalizing audio file")
		d.close()
	}()
}

func (d *FileAudioOutputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{
		SampleRate:  d.encoder.SampleRate,
		NumChannels: d.encoder.NumChans,
	}
}
