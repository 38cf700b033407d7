// Package main wires the voice capture pipeline: a capture engine
// reading from the platform input device, per-buffer quality analysis,
// post-capture processing, transcription, and an HTTP surface to drive
// it all.
//
// Configuration comes from the environment; see internal/config.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/wavecap/wavecap/internal/capture"
	"github.com/wavecap/wavecap/internal/config"
	"github.com/wavecap/wavecap/internal/dsp"
	"github.com/wavecap/wavecap/internal/eventlog"
	"github.com/wavecap/wavecap/internal/focus"
	"github.com/wavecap/wavecap/internal/recorder"
	"github.com/wavecap/wavecap/internal/transcribe"
	"github.com/wavecap/wavecap/internal/upload"
	"github.com/wavecap/wavecap/internal/util"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if err := util.CheckPathWritable(cfg.OutputDir); err != nil {
		logger.Error("output directory not usable", "dir", cfg.OutputDir, "error", err)
		os.Exit(1)
	}

	constraints := config.DefaultConstraints()
	logger.Info("starting wavecap",
		"output_dir", cfg.OutputDir,
		"preset", cfg.Preset,
		"sample_rate", constraints.SampleRate,
		"max_duration", constraints.MaxRecordingDuration().String())

	var events *eventlog.Logger
	if cfg.EventLogPath != "" {
		events, err = eventlog.NewLogger(cfg.EventLogPath)
		if err != nil {
			logger.Error("failed to open event log", "path", cfg.EventLogPath, "error", err)
			os.Exit(1)
		}
		defer func() { _ = events.Close() }()
	}

	processor := dsp.NewProcessor(dsp.PresetOptions(dsp.Preset(cfg.Preset), constraints.SampleRate))

	var transcriber recorder.Transcriber
	if cfg.TranscribeURL != "" {
		var opts []transcribe.Option
		if cfg.OAuthTokenURL != "" {
			opts = append(opts, transcribe.WithClientCredentials(
				cfg.OAuthTokenURL, cfg.OAuthClientID, cfg.OAuthClientSecret))
		}
		transcriber = transcribe.NewClient(cfg.TranscribeURL, cfg.TranscribeAPIKey, opts...)
	} else {
		logger.Warn("transcription disabled, TRANSCRIBE_URL not set")
	}

	var archiver *upload.Archiver
	if cfg.S3Enabled() {
		settings := upload.Settings{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}
		if err := upload.TestConnection(ctx, settings); err != nil {
			logger.Warn("S3 archive unreachable, uploads will retry", "error", err)
		}
		archiver = upload.NewArchiver(settings, eventSink(events), logger)
		archiver.Start()
		defer archiver.Close()
	}

	cleaner := upload.NewCleaner(cfg.OutputDir, cfg.RetentionDays, eventSink(events), logger)
	cleaner.Start()
	defer cleaner.Stop()

	rec, err := recorder.New(recorder.Options{
		Constraints: constraints,
		OutputDir:   cfg.OutputDir,
		NewEngine: func(callbacks capture.Callbacks) recorder.Engine {
			device := capture.NewCommandDevice(cfg.Device, constraints.SampleRate)
			return capture.NewEngine(constraints, device, processor, callbacks)
		},
		Focus:             focus.NewController(focus.NewInProcessArbiter()),
		Transcriber:       transcriber,
		TranscribeOptions: transcribeOptions(cfg),
		Events:            eventSink(events),
		Uploader:          uploader(archiver),
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create recorder", "error", err)
		os.Exit(1)
	}

	srv := NewServer(cfg, rec, logger)
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	logger.Info("shutting down")

	// Discard any in-flight session; partial audio is not finalized on
	// process exit.
	rec.CancelRecording()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// eventSink converts the nilable concrete logger into the recorder's
// event surface without handing it a typed nil.
func eventSink(events *eventlog.Logger) recorder.EventSink {
	if events == nil {
		return nil
	}
	return events
}

// uploader avoids the same typed-nil trap for the archiver.
func uploader(archiver *upload.Archiver) recorder.Uploader {
	if archiver == nil {
		return nil
	}
	return archiver
}
