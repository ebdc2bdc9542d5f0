package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/petems/signal-tray/internal/app"
	"github.com/petems/signal-tray/internal/audio"
	"github.com/petems/signal-tray/internal/config"
	"github.com/petems/signal-tray/internal/logging"
	"github.com/petems/signal-tray/internal/permissions"
	"github.com/petems/signal-tray/internal/publish"
	"github.com/petems/signal-tray/internal/serial"
	"github.com/petems/signal-tray/internal/source"
	"github.com/petems/signal-tray/internal/stream"
	"github.com/petems/signal-tray/internal/tray"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	printVersion := flag.Bool("version", false, "print version and quit")
	listDevices := flag.Bool("list-devices", false, "list audio inputs and serial ports and quit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("signal-tray %s (%s)\n", Version, Commit)
		return
	}
	if *listDevices {
		if err := printDevices(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.NewWithLevel("info")
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level and rotation
	log := logging.New(cfg.Log)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Str("path", cfg.Path()).Msg("Invalid config")
	}

	// macOS requires explicit microphone approval before audio capture works
	if err := permissions.EnsureForSource(cfg.Source.Kind); err != nil {
		log.Fatal().Err(err).Msg("Required permissions not granted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	factory := func(c *config.Config) (stream.Stream, error) {
		return source.New(c, log)
	}
	src, err := factory(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build source")
	}

	var pub app.Publisher
	if cfg.Publish.Enabled {
		p, err := publish.New(cfg.Publish.Endpoint, log.With().Str("component", "publish").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start publisher")
		}
		pub = p
	}

	// Create tray UI first (we'll pass it to app)
	trayUI := tray.New(nil, cfg, Version, Commit, log) // App reference set below

	// Create app with tray as status updater
	application := app.New(app.Config{
		Source:        src,
		Factory:       factory,
		Publisher:     pub,
		Config:        cfg,
		Logger:        log,
		StatusUpdater: trayUI,
	})

	// Set app reference in tray
	trayUI.SetApp(application)

	log.Info().Str("source", src.Name()).Str("config", cfg.Path()).Msg("SignalTray starting...")

	// Setup shutdown signal handling; the tray shuts the app down on exit
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	// Start tray UI - MUST run on main thread
	if err := trayUI.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Tray error")
	}
}

func printDevices() error {
	devices, err := audio.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "audio: %v\n", err)
	}
	fmt.Println("Audio inputs:")
	for _, d := range devices {
		mark := " "
		if d.Default {
			mark = "*"
		}
		fmt.Printf("  %s %s\n", mark, d.Name)
	}

	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	fmt.Println("Serial ports:")
	for i, p := range ports {
		fmt.Printf("  %d %s\n", i, p)
	}
	return nil
}
