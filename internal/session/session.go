// Package session owns a single tracking run: it acquires the
// instrument and the shutter, seeds the tracker, drives the timed
// perturb-and-observe loop and guarantees that the shutter is closed
// and the source output disabled on every exit path.
package session

import (
	"context"
	"math"
	"time"

	"github.com/perovskite-lab/mpptctl/internal/config"
	"github.com/perovskite-lab/mpptctl/internal/datalog"
	"github.com/perovskite-lab/mpptctl/internal/errors"
	"github.com/perovskite-lab/mpptctl/internal/instrument"
	"github.com/perovskite-lab/mpptctl/internal/logger"
	"github.com/perovskite-lab/mpptctl/internal/shutter"
	"github.com/perovskite-lab/mpptctl/internal/telemetry"
	"github.com/perovskite-lab/mpptctl/internal/tracker"
)

// Deps are the collaborators a session drives.  They are injected so
// tests can substitute simulated hardware.
type Deps struct {
	Instrument instrument.Sourcemeter
	Shutter    shutter.Controller
	Sink       datalog.Sink
	Telemetry  telemetry.Collector
}

// Run executes one tracking session.  Instrument faults abort the
// session; the partial sample log is retained.  Cancelling ctx ends
// the session early through the same release path.
func Run(ctx context.Context, cfg *config.Config, deps Deps) error {
	errFactory := errors.New()

	if err := deps.Instrument.Connect(); err != nil {
		return errFactory.Wrap(ErrAcquireFailed, err)
	}
	defer func() {
		if err := deps.Instrument.OutputOff(); err != nil {
			logger.Error().Err(err).Msg("failed to disable source output")
		}
		if err := deps.Instrument.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to release instrument")
		}
	}()

	if err := acquireShutter(cfg, deps.Shutter); err != nil {
		return err
	}
	defer func() {
		if err := deps.Shutter.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close shutter")
		}
		if err := deps.Shutter.Release(); err != nil {
			logger.Error().Err(err).Msg("failed to release shutter line")
		}
	}()

	seedVoltage, step, bounds, err := seed(ctx, cfg, deps.Instrument)
	if err != nil {
		return err
	}

	tr := tracker.New(seedVoltage, step, bounds)
	if cfg.StepDecay < 1 {
		tr.SetDecay(cfg.StepDecay, cfg.MinStep)
	}

	if err := deps.Instrument.ConfigureFixedVoltage(); err != nil {
		return errFactory.Wrap(ErrAcquireFailed, err)
	}
	if err := deps.Instrument.OutputOn(); err != nil {
		return errFactory.Wrap(ErrAcquireFailed, err)
	}

	walkIn := !cfg.NoSweep && tr.Voltage() > 0
	return loop(ctx, cfg, deps, tr, walkIn)
}

// acquireShutter connects and opens the shutter.  Failures are fatal
// only when the configuration demands a working shutter; otherwise
// the operator is warned to control the shutter by hand.
func acquireShutter(cfg *config.Config, sh shutter.Controller) error {
	if err := sh.Connect(); err != nil {
		return reportShutter(cfg, err, "could not acquire shutter control, control shutter manually")
	}
	if err := sh.Open(); err != nil {
		return reportShutter(cfg, err, "could not open shutter, control shutter manually")
	}

	return nil
}

func reportShutter(cfg *config.Config, err error, msg string) error {
	if cfg.ShutterRequired {
		return errors.New().Wrap(ErrShutterFailed, err)
	}
	logger.Warn().Err(err).Msg(msg)

	return nil
}

// seed determines the tracker's starting point.  By default it
// measures Voc and sweeps down to zero to locate the initial maximum
// power point, the sweep also fixing the safety ceiling; with
// sweeping disabled the configured start voltage, step and ceiling
// are used as-is.
func seed(ctx context.Context, cfg *config.Config, sm instrument.Sourcemeter) (voltage, step float64, bounds tracker.Bounds, err error) {
	errFactory := errors.New()

	step = cfg.Step
	bounds = tracker.Bounds{Min: 0, Max: cfg.MaxVoltage}
	if cfg.NoSweep {
		return cfg.StartVoltage, step, bounds, nil
	}

	voc, err := sm.MeasureVoc(ctx)
	if err != nil {
		return 0, 0, bounds, errFactory.Wrap(ErrSeedFailed, err)
	}
	if voc > 0 {
		bounds.Max = math.Min(voc, cfg.MaxVoltage)
	}

	vmpp, sweepStep, err := sm.SweepVmpp(ctx, voc)
	if err != nil {
		return 0, 0, bounds, errFactory.Wrap(ErrSeedFailed, err)
	}
	if sweepStep > 0 {
		step = sweepStep
	}

	return bounds.Clamp(vmpp), step, bounds, nil
}

// loop runs the timed sampling loop.  The first sample is taken
// immediately, so a session of T seconds at cadence c logs samples at
// 0, c, 2c, … strictly below T.  When walkIn is set the bias first
// ramps gently from zero up to the seed voltage, logging along the
// way, before perturb-and-observe takes over.
func loop(ctx context.Context, cfg *config.Config, deps Deps, tr *tracker.Tracker, walkIn bool) error {
	errFactory := errors.New()

	interval := time.Duration(cfg.Interval) * time.Millisecond
	total := time.Duration(cfg.TrackingTime) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	deadline := start.Add(total)
	logger.Info().
		Float64("seed_voltage", tr.Voltage()).
		Float64("step", tr.Step()).
		Float64("max_voltage", tr.Bounds().Max).
		Dur("duration", total).
		Msg("tracking maximum power point")

	if walkIn {
		for vset := 0.0; vset < tr.Voltage(); vset += tr.Step() {
			if err := deps.Instrument.SetVoltage(vset); err != nil {
				return errFactory.Wrap(ErrLoopFailed, err)
			}
			volts, amps, err := deps.Instrument.Measure()
			if err != nil {
				return errFactory.Wrap(ErrLoopFailed, err)
			}
			sample := tracker.Sample{
				Elapsed: time.Since(start).Seconds(),
				Voltage: volts,
				Current: amps,
			}
			if err := deps.Sink.Append(sample); err != nil {
				return errFactory.Wrap(ErrLoopFailed, err)
			}
			select {
			case <-ctx.Done():
				logger.Info().Msg("session cancelled")
				return nil
			case <-ticker.C:
			}
			if !time.Now().Before(deadline) {
				logger.Info().Msg("tracking time elapsed")
				return nil
			}
		}
		logger.Info().Float64("voltage", tr.Voltage()).Msg("device at seed voltage, tracking begins")
	}

	for {
		if err := deps.Instrument.SetVoltage(tr.Voltage()); err != nil {
			return errFactory.Wrap(ErrLoopFailed, err)
		}
		volts, amps, err := deps.Instrument.Measure()
		if err != nil {
			return errFactory.Wrap(ErrLoopFailed, err)
		}

		sample := tracker.Sample{
			Elapsed: time.Since(start).Seconds(),
			Voltage: volts,
			Current: amps,
		}
		if err := deps.Sink.Append(sample); err != nil {
			return errFactory.Wrap(ErrLoopFailed, err)
		}

		next := tr.Update(sample)
		record(ctx, deps.Telemetry, start, sample, tr)

		logger.Debug().
			Float64("elapsed", sample.Elapsed).
			Float64("voltage", sample.Voltage).
			Float64("current", sample.Current).
			Float64("power", sample.Power()).
			Float64("next_voltage", next).
			Float64("step", tr.Step()).
			Int("direction", tr.Direction()).
			Msg("")

		select {
		case <-ctx.Done():
			logger.Info().Msg("session cancelled")
			return nil
		case <-ticker.C:
		}
		if !time.Now().Before(deadline) {
			logger.Info().Msg("tracking time elapsed")
			return nil
		}
	}
}

// record stores one telemetry snapshot; storage faults must not kill
// a measurement that is otherwise healthy.
func record(ctx context.Context, collector telemetry.Collector, start time.Time, sample tracker.Sample, tr *tracker.Tracker) {
	snapshot := &telemetry.Snapshot{
		SessionStart:  start,
		Sample:        sample,
		Power:         sample.Power(),
		TargetVoltage: tr.Voltage(),
		Step:          tr.Step(),
		Direction:     tr.Direction(),
	}
	if err := collector.Record(ctx, snapshot); err != nil {
		logger.Warn().Err(err).Msg("telemetry record failed")
	}
}
