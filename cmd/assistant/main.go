package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zeustheprogrammer/Multi-model-chat-application/cmd/assistant/config"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/device"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/exchange"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/observe"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/session"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/turn"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/internal/utils"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/audiodevice"
	audiofiledevice "github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/audiodevice/device"
	"github.com/Zeustheprogrammer/Multi-model-chat-application/pkg/encoderdecoder"
	"github.com/spf13/viper"
)

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer, err := utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		slog.HandlerOptions{},
	)
	if err != nil {
		slog.Error("error when configuring logger", "err", err)
		panic(err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	if metricsAddr := viper.GetString("metricsaddr"); metricsAddr != "" {
		go observe.Serve(metricsAddr)
	}

	// --------------------------------------------------------------------------------

	sampleRate := viper.GetInt("samplerate")
	numChannels := viper.GetInt("numchannels")
	frameSize := viper.GetInt("framesize")
	frameDuration := time.Duration(frameSize) * time.Second / time.Duration(sampleRate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var frameSource device.FrameSource
	switch deviceKind := viper.GetString("audiodevice"); deviceKind {
	case "portaudio":
		frameSource = device.NewPortAudioFrameSource(sampleRate, numChannels, frameSize)
	case "file":
		frameSource = newFileFrameSource(ctx, sampleRate, numChannels, frameSize, frameDuration)
	default:
		slog.Error("unknown audio device kind", "audiodevice", deviceKind)
		panic("unknown audio device kind")
	}

	// --------------------------------------------------------------------------------

	exchanger, err := exchange.NewWebsocketExchanger(
		viper.GetString("exchangeurl"),
		audiodevice.DeviceProperties{
			SampleRate:  sampleRate,
			NumChannels: numChannels,
		},
		frameSize,
		encoderdecoder.EncoderDecoderTypeEnum(viper.GetString("codec")),
		nil,
	)
	if err != nil {
		slog.Error("error when creating exchange backend client", "err", err)
		panic(err)
	}

	voiceSession := session.New(frameSource, exchanger, session.Config{
		OnsetThreshold:  viper.GetFloat64("onsetthreshold"),
		OnsetHold:       time.Duration(viper.GetInt("onsetholdms")) * time.Millisecond,
		Hangover:        time.Duration(viper.GetInt("hangoverms")) * time.Millisecond,
		MaxUtterance:    time.Duration(viper.GetInt("maxutterancems")) * time.Millisecond,
		BargeInEnabled:  viper.GetBool("bargein"),
		ExchangeTimeout: time.Duration(viper.GetInt("exchangetimeoutms")) * time.Millisecond,
		RecordingDir:    viper.GetString("recordingdir"),
	}, nil)

	go func() {
		for event := range voiceSession.Events() {
			switch event.Kind {
			case turn.EventTurnChanged:
				slog.Info("turn state changed", "state", event.State)
			case turn.EventResponseFailed:
				slog.Warn("response failed, listening again", "err", event.Err)
			}
		}
	}()

	// --------------------------------------------------------------------------------

	slog.Info("starting voice session",
		"samplerate", sampleRate,
		"numchannels", numChannels,
		"framesize", frameSize,
	)
	if err := voiceSession.Run(ctx); err != nil {
		slog.Error("voice session ended with error", "err", err)
		panic(err)
	}
	slog.Info("voice session ended")
}

// newFileFrameSource builds a frame source fed from a WAV file instead of a
// microphone. The file's format is converted to the configured session format
// when they differ, and response playback is discarded.
func newFileFrameSource(
	ctx context.Context,
	sampleRate int,
	numChannels int,
	frameSize int,
	frameDuration time.Duration,
) device.FrameSource {
	fileDevice, err := audiofiledevice.NewFileAudioInputDevice(
		viper.GetString("audioinputfile"),
		frameDuration,
		true,
	)
	if err != nil {
		slog.Error("error when opening audio input file", "err", err)
		panic(err)
	}

	sessionProperties := audiodevice.DeviceProperties{
		SampleRate:  sampleRate,
		NumChannels: numChannels,
	}

	pipe := device.NewPipeFrameSource(sampleRate, numChannels, frameSize)
	if fileDevice.GetDeviceProperties() == sessionProperties {
		pipe.AttachSource(fileDevice)
	} else {
		conversionDevice := audiofiledevice.NewFormatConversionDevice(
			fileDevice.GetDeviceProperties(),
			sessionProperties,
		)
		conversionDevice.SetStream(fileDevice.GetStream())
		pipe.AttachSource(conversionDevice)
	}
	pipe.AttachSink(audiofiledevice.NewDummyAudioSinkDevice(sessionProperties))

	fileDevice.Play(ctx)
	return pipe
}
