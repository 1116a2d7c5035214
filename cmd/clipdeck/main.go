package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/clipdeck/internal/audio"
	"github.com/satindergrewal/clipdeck/internal/config"
	"github.com/satindergrewal/clipdeck/internal/device"
	"github.com/satindergrewal/clipdeck/internal/device/otodev"
	"github.com/satindergrewal/clipdeck/internal/device/padev"
	"github.com/satindergrewal/clipdeck/internal/engine"
	"github.com/satindergrewal/clipdeck/internal/logging"
	"github.com/satindergrewal/clipdeck/internal/midibridge"
	"github.com/satindergrewal/clipdeck/internal/stream"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "clipdeck: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("clipdeck stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	settings, err := config.OpenFileStore(cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	logger.Info("clipdeck starting", zap.String("settings", settings.Path()))

	// Output drivers: system default first so an empty selection uses it.
	monitor := device.NewMonitor(logger)
	go monitor.Run(ctx)

	devices := device.NewManager(logger, nil, otodev.New(logger))
	if pa, err := padev.Drivers(logger); err != nil {
		logger.Warn("portaudio unavailable", zap.Error(err))
	} else {
		devices.Register(pa...)
	}
	devices.Register(monitor)
	warnMissingOutput(logger, settings, devices)

	var bridge *midibridge.Bridge
	opts := engine.Options{
		Decoder:      audio.NewDecoder(cfg.FFmpeg, logger),
		Output:       devices,
		Settings:     settings,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
	}
	if cfg.MIDI {
		bridge = midibridge.New(logger, midibridge.NewDriver, cfg.MIDIMatch)
		opts.Indicator = bridge
	}

	eng := engine.New(opts)
	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	if bridge != nil {
		if err := bridge.Start(eng.Trigger, eng.Reconcile); err != nil {
			logger.Warn("midi unavailable", zap.Error(err))
		} else {
			logger.Info("midi ready", zap.Strings("devices", bridge.Devices()))
		}
	}

	if cfg.ClipsFile != "" {
		if err := eng.LoadFromFile(cfg.ClipsFile); err != nil {
			logger.Warn("loading clip list", zap.String("path", cfg.ClipsFile), zap.Error(err))
		}
	}

	// Monitor stream: fan out frames rendered by the monitor output.
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, monitor.Frames())
	webrtcHandler := stream.NewWebRTCHandler(broadcaster, logger)
	defer webrtcHandler.Close()

	mux := http.NewServeMux()
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, cfg.FFmpeg, logger))
	mux.Handle("/offer", webrtcHandler)
	(&api{
		engine:  eng,
		drivers: devices.Drivers,
		midi:    midiOrNil(bridge),
		http:    broadcaster,
		webrtc:  webrtcHandler,
		log:     logger.Named("api"),
	}).routes(mux)

	if cfg.Keyboard {
		go readKeys(ctx, os.Stdin, eng, cancel, logger.Named("keys"))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("clipdeck live", zap.String("addr", addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server", zap.Error(err))
		}
		cancel()
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Close()
	}

	eng.Close()
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("engine", zap.Error(err))
	}
	if bridge != nil {
		if err := bridge.Stop(); err != nil {
			logger.Warn("closing midi", zap.Error(err))
		}
	}
	return nil
}

// midiOrNil keeps a nil bridge a nil interface.
func midiOrNil(b *midibridge.Bridge) midiControl {
	if b == nil {
		return nil
	}
	return b
}

// warnMissingOutput reports a remembered PortAudio output that is no longer
// attached. Playback then fails until another output is chosen.
func warnMissingOutput(logger *zap.Logger, settings config.Store, devices *device.Manager) {
	id, ok := settings.Get(config.KeyOutputDriver)
	if !ok || !padev.HasPrefix(id) {
		return
	}
	for _, d := range devices.Drivers() {
		if d.ID == id {
			return
		}
	}
	logger.Warn("stored output not found", zap.String("driver", id))
}
