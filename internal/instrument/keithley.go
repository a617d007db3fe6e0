// Package instrument drives Keithley 2400-class source-measure units
// over SCPI.  The wire protocol is newline-framed ASCII on either a
// TCP endpoint (GPIB-LAN gateway or ethernet option) or the native
// RS-232 port.
package instrument

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/perovskite-lab/mpptctl/internal/errors"
	"github.com/perovskite-lab/mpptctl/internal/logger"
)

const (
	defaultTimeout = 5 * time.Second
	sweepTimeout   = 2 * time.Minute

	// measurement setup constants carried over from the lab's 2400
	// procedure for solar cells
	voltageProtection = 10     // volts
	vocSettle         = 5 * time.Second
	sweepPoints       = 600
	sweepSourceDelay  = 0.05 // seconds per point

	// compliance current scales with the device's active area so
	// minimodules are not clipped; small cells get the 40 mA floor
	complianceFloor   = 0.040 // amps
	complianceDensity = 0.040 // amps per cm²
	complianceCeiling = 1.0   // the 2400's source limit
)

// ComplianceFor returns the compliance current for a device of the
// given active area in cm².
func ComplianceFor(areaCm2 float64) float64 {
	c := complianceDensity * areaCm2
	if c < complianceFloor {
		c = complianceFloor
	}
	if c > complianceCeiling {
		c = complianceCeiling
	}

	return c
}

// Keithley2400 is a sourcemeter reached over TCP or serial.
type Keithley2400 struct {
	addr       string
	useSerial  bool
	timeout    time.Duration
	compliance float64
	conn       io.ReadWriteCloser
	rdr        *bufio.Reader
}

// NewKeithley2400 creates a driver for the sourcemeter at addr.  The
// device's active area in cm² sizes the compliance current.
func NewKeithley2400(addr string, useSerial bool, areaCm2 float64) *Keithley2400 {
	return &Keithley2400{
		addr:       addr,
		useSerial:  useSerial,
		timeout:    defaultTimeout,
		compliance: ComplianceFor(areaCm2),
	}
}

// Connect opens the transport and runs the measurement setup
// sequence: reset, buffer clear, autozero, concurrent V/I sensing and
// a voltage,current,time reply format.
func (k *Keithley2400) Connect() error {
	errFactory := errors.New()

	conn, err := dial(k.addr, k.useSerial, k.timeout)
	if err != nil {
		return err
	}
	k.conn = conn
	k.rdr = bufio.NewReader(conn)

	err = k.write(
		"*RST",
		":trace:clear",
		":system:azero on",
		":sense:function:concurrent on",
		`:sense:function "current:dc", "voltage:dc"`,
		":format:elements voltage,current,time",
	)
	if err != nil {
		return errFactory.Wrap(ErrSetupFailed, err)
	}
	logger.Info().Str("addr", k.addr).Msg("sourcemeter initialised")

	return nil
}

// Close releases the connection.  The output should already be off;
// Close does not touch it so it stays usable after communication
// faults.
func (k *Keithley2400) Close() error {
	if k.conn == nil {
		return nil
	}
	err := k.conn.Close()
	k.conn = nil
	k.rdr = nil
	if err != nil {
		return errors.New().Wrap(ErrCloseFailed, err)
	}

	return nil
}

// ConfigureFixedVoltage puts the source into fixed-voltage mode with
// single-shot triggering, ready for the tracking loop.
func (k *Keithley2400) ConfigureFixedVoltage() error {
	errFactory := errors.New()

	err := k.write(
		":source:function voltage",
		":source:voltage:mode fixed",
		":trigger:count 1",
		fmt.Sprintf(":sense:current:protection %.6f", k.compliance),
		fmt.Sprintf(":sense:current:range %.6f", k.compliance),
		":sense:voltage:nplcycles 1",
		":sense:current:nplcycles 1",
	)
	if err != nil {
		return errFactory.Wrap(ErrSetupFailed, err)
	}

	return nil
}

// SetVoltage applies a bias voltage to the device under test.
func (k *Keithley2400) SetVoltage(volts float64) error {
	if err := k.write(fmt.Sprintf(":source:voltage %.4f", volts)); err != nil {
		return errors.New().Wrap(ErrSourceFailed, err)
	}

	return nil
}

// Measure triggers a reading and returns the measured voltage and
// current.
func (k *Keithley2400) Measure() (float64, float64, error) {
	errFactory := errors.New()

	vals, err := k.queryFloats("READ?", k.timeout)
	if err != nil {
		return 0, 0, errFactory.Wrap(ErrMeasureFailed, err)
	}
	if len(vals) < 2 {
		return 0, 0, errFactory.WithData(ErrMalformedReply, fmt.Sprintf("READ? returned %d values, expected 3", len(vals)))
	}

	return vals[0], vals[1], nil
}

// OutputOn enables the source output.
func (k *Keithley2400) OutputOn() error {
	if err := k.write(":output on"); err != nil {
		return errors.New().Wrap(ErrSourceFailed, err)
	}

	return nil
}

// OutputOff disables the source output.  Safe to call when not
// connected so the release path never trips over a dead link.
func (k *Keithley2400) OutputOff() error {
	if k.conn == nil {
		return nil
	}
	if err := k.write(":output off"); err != nil {
		return errors.New().Wrap(ErrSourceFailed, err)
	}

	return nil
}

// MeasureVoc sources zero current, lets the device settle and
// measures the open-circuit voltage.
func (k *Keithley2400) MeasureVoc(ctx context.Context) (float64, error) {
	errFactory := errors.New()

	err := k.write(
		":source:function current",
		":source:current:mode fixed",
		":source:current:range min",
		":source:current 0",
		fmt.Sprintf(":sense:voltage:protection %d", voltageProtection),
		fmt.Sprintf(":sense:voltage:range %d", voltageProtection),
		":sense:voltage:nplcycles 1",
		":sense:current:nplcycles 1",
	)
	if err != nil {
		return 0, errFactory.Wrap(ErrSetupFailed, err)
	}
	if err := k.OutputOn(); err != nil {
		return 0, err
	}

	logger.Info().Dur("settle", vocSettle).Msg("holding device at zero current before measuring Voc")
	select {
	case <-ctx.Done():
		k.OutputOff()
		return 0, errFactory.Wrap(errors.ErrTimeout, ctx.Err())
	case <-time.After(vocSettle):
	}

	vals, err := k.queryFloats("READ?", k.timeout)
	if err != nil {
		return 0, errFactory.Wrap(ErrMeasureFailed, err)
	}
	if len(vals) < 1 {
		return 0, errFactory.WithData(ErrMalformedReply, "empty Voc reading")
	}
	if err := k.OutputOff(); err != nil {
		return 0, err
	}
	logger.Info().Float64("voc", vals[0]).Msg("measured open-circuit voltage")

	return vals[0], nil
}

// SweepVmpp sweeps the bias linearly from voc down to zero and
// returns the voltage of maximum power along with the sweep's step
// size, which seeds the tracking loop.
func (k *Keithley2400) SweepVmpp(ctx context.Context, voc float64) (float64, float64, error) {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return 0, 0, errFactory.Wrap(errors.ErrTimeout, err)
	}

	err := k.write(
		":source:function voltage",
		":source:voltage:mode sweep",
		":source:sweep:spacing linear",
		fmt.Sprintf(":source:delay %.2f", sweepSourceDelay),
		fmt.Sprintf(":trigger:count %d", sweepPoints),
		fmt.Sprintf(":source:sweep:points %d", sweepPoints),
		fmt.Sprintf(":source:voltage:start %.4f", voc),
		":source:voltage:stop 0.0000",
	)
	if err != nil {
		return 0, 0, errFactory.Wrap(ErrSetupFailed, err)
	}

	step, err := k.queryFloat(":source:voltage:step?", k.timeout)
	if err != nil {
		return 0, 0, errFactory.Wrap(ErrSweepFailed, err)
	}
	step = math.Abs(step)

	err = k.write(
		fmt.Sprintf(":source:voltage:range %.4f", voc),
		":source:sweep:ranging best",
		fmt.Sprintf(":sense:current:protection %.6f", k.compliance),
		fmt.Sprintf(":sense:current:range %.6f", k.compliance),
		":sense:voltage:nplcycles 0.5",
		":sense:current:nplcycles 0.5",
		fmt.Sprintf(":source:voltage %.4f", voc),
	)
	if err != nil {
		return 0, 0, errFactory.Wrap(ErrSetupFailed, err)
	}
	if err := k.OutputOn(); err != nil {
		return 0, 0, err
	}

	vals, err := k.queryFloats("READ?", sweepTimeout)
	if err != nil {
		k.OutputOff()
		return 0, 0, errFactory.Wrap(ErrSweepFailed, err)
	}
	if err := k.OutputOff(); err != nil {
		return 0, 0, err
	}
	if len(vals) < 3 || len(vals)%3 != 0 {
		return 0, 0, errFactory.WithData(ErrMalformedReply, fmt.Sprintf("sweep returned %d values", len(vals)))
	}

	vmpp, best := 0.0, math.Inf(-1)
	for i := 0; i < len(vals); i += 3 {
		v, a := vals[i], vals[i+1]
		if p := math.Abs(v * a); p > best {
			vmpp, best = v, p
		}
	}
	logger.Info().
		Float64("vmpp", vmpp).
		Float64("power", best).
		Float64("step", step).
		Msg("initial maximum power point located")

	return vmpp, step, nil
}

// write sends each command on its own line.
func (k *Keithley2400) write(cmds ...string) error {
	errFactory := errors.New()

	if k.conn == nil {
		return errFactory.New(ErrNotConnected)
	}
	rearm(k.conn, k.timeout)
	for _, cmd := range cmds {
		if _, err := k.conn.Write(append([]byte(cmd), '\n')); err != nil {
			return errFactory.Wrap(ErrWriteFailed, err)
		}
	}

	return nil
}

// query sends a command and reads one newline-terminated reply.
func (k *Keithley2400) query(cmd string, timeout time.Duration) (string, error) {
	errFactory := errors.New()

	if k.conn == nil {
		return "", errFactory.New(ErrNotConnected)
	}
	if err := k.write(cmd); err != nil {
		return "", err
	}
	rearm(k.conn, timeout)
	resp, err := k.rdr.ReadString('\n')
	if err != nil {
		return "", errFactory.Wrap(ErrReadFailed, err)
	}

	return strings.TrimRight(resp, "\r\n"), nil
}

func (k *Keithley2400) queryFloat(cmd string, timeout time.Duration) (float64, error) {
	resp, err := k.query(cmd, timeout)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, errors.New().WithData(ErrMalformedReply, resp)
	}

	return f, nil
}

func (k *Keithley2400) queryFloats(cmd string, timeout time.Duration) ([]float64, error) {
	resp, err := k.query(cmd, timeout)
	if err != nil {
		return nil, err
	}
	fields := strings.Split(resp, ",")
	vals := make([]float64, 0, len(fields))
	for _, field := range fields {
		f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, errors.New().WithData(ErrMalformedReply, resp)
		}
		vals = append(vals, f)
	}

	return vals, nil
}
