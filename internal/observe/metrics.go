// Package observe holds the pipeline's prometheus collectors.
//
// Buffer-local conditions (capture overflow, playback backpressure) are
// handled inside the owning component and never surface as errors,
// so counters here are the only record that they happened at all.
package observe

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CaptureOverflowTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_capture_overflow_frames_total",
		Help: "Capture frames dropped because the capture ring buffer was full.",
	})

	PlaybackUnderrunTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_playback_underrun_total",
		Help: "Device callbacks that found the playback ring buffer empty and emitted silence.",
	})

	PlaybackBackpressureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_playback_backpressure_total",
		Help: "Writes to the playback path deferred because the playback ring buffer was full.",
	})

	UtteranceSealedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_utterance_sealed_total",
		Help: "Utterances sealed and emitted by the voice activity segmenter.",
	})

	UtteranceForceSealedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_utterance_force_sealed_total",
		Help: "Utterances force-sealed for exceeding the maximum utterance duration.",
	})

	BargeInTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_barge_in_total",
		Help: "Response playbacks cancelled because the user started speaking.",
	})

	ResponseFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_response_failed_total",
		Help: "Exchange calls that failed or timed out while a response was awaited.",
	})
)

// Serve exposes the prometheus registry on addr under /metrics,
// blocking until the server stops. Intended to be run in its own goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server stopped", "addr", addr, "err", err)
	}
}
