package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/perovskite-lab/mpptctl/internal/config"
	"github.com/perovskite-lab/mpptctl/internal/datalog"
	"github.com/perovskite-lab/mpptctl/internal/instrument"
	"github.com/perovskite-lab/mpptctl/internal/logger"
	"github.com/perovskite-lab/mpptctl/internal/session"
	"github.com/perovskite-lab/mpptctl/internal/shutter"
	"github.com/perovskite-lab/mpptctl/internal/telemetry"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")
}

func main() {
	os.Exit(run())
}

// run carries the real main body so deferred cleanup still fires on
// the failure paths.
func run() int {
	if err := session.WritePIDFile(); err != nil {
		logger.Error().Err(err).Msg("failed to write PID file")
		return 1
	}
	defer session.RemovePIDFile()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	deps, release, err := buildDeps()
	if err != nil {
		logger.Error().Err(err).Msg("failed to assemble session")
		return 1
	}
	defer release()

	if err := session.Run(ctx, cfg, deps); err != nil {
		logger.Error().Err(err).Msg("tracking session failed")
		return 1
	}

	return 0
}

// buildDeps wires the instrument, shutter, data log and telemetry
// store from the loaded configuration.  The returned release closes
// whatever was opened.
func buildDeps() (session.Deps, func(), error) {
	sink, err := datalog.NewFile(cfg.LogFile)
	if err != nil {
		return session.Deps{}, func() {}, err
	}

	collector, err := telemetry.NewService(telemetry.Config{
		DBPath:  cfg.TelemetryDB,
		Enabled: cfg.Telemetry,
	})
	if err != nil {
		sink.Close()
		return session.Deps{}, func() {}, err
	}

	var sh shutter.Controller = shutter.Nop{}
	if cfg.Shutter != "" {
		line, err := shutter.New(cfg.Shutter)
		if err != nil {
			sink.Close()
			collector.Close()
			return session.Deps{}, func() {}, err
		}
		sh = line
	}

	deps := session.Deps{
		Instrument: instrument.NewKeithley2400(cfg.Address, cfg.Serial, cfg.DeviceArea),
		Shutter:    sh,
		Sink:       sink,
		Telemetry:  collector,
	}

	release := func() {
		if err := sink.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close data log")
		}
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close telemetry store")
		}
	}

	return deps, release, nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
