package config

import (
	"log/slog"

	"github.com/spf13/viper"
)

func setViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")

	viper.SetDefault("samplerate", 16000)
	viper.SetDefault("numchannels", 1)
	viper.SetDefault("framesize", 320)

	viper.SetDefault("onsetthreshold", 0.015)
	viper.SetDefault("onsetholdms", 60)
	viper.SetDefault("hangoverms", 600)
	viper.SetDefault("maxutterancems", 15000)

	viper.SetDefault("bargein", true)
	viper.SetDefault("exchangetimeoutms", 30000)
	viper.SetDefault("codec", "opus")

	// "portaudio" for real hardware, "file" to read audioinputfile and
	// discard playback, for development on machines without a microphone.
	viper.SetDefault("audiodevice", "portaudio")
	viper.SetDefault("audioinputfile", "")

	viper.SetDefault("recordingdir", "")
	viper.SetDefault("metricsaddr", "")
}

func LoadConfig(configFilePath string) {
	setViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			slog.Error("error during config read", "err", err)
			panic(err)
		}
	}

	// The user *must* specify the exchange backend endpoint.
	if !viper.IsSet("exchangeurl") || viper.GetString("exchangeurl") == "" {
		slog.Error("an exchange backend url must be specified. See the `config` section of the README.")
		panic("no exchange backend url specified")
	}

	if viper.GetString("audiodevice") == "file" && viper.GetString("audioinputfile") == "" {
		slog.Error("audiodevice is set to `file` but audioinputfile is not set")
		panic("no audio input file specified")
	}
}
