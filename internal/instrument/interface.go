package instrument

import "context"

// Sourcemeter is the measurement capability the session driver
// consumes.  The production implementation is the Keithley 2400
// driver; tests substitute a simulated device.
type Sourcemeter interface {
	// Connect establishes the connection and runs the measurement
	// setup sequence.
	Connect() error

	// ConfigureFixedVoltage puts the source into fixed-voltage mode,
	// ready for the tracking loop.
	ConfigureFixedVoltage() error

	// SetVoltage applies a bias voltage to the device under test.
	SetVoltage(volts float64) error

	// Measure reads back the momentary voltage and current.
	Measure() (volts, amps float64, err error)

	// MeasureVoc sources zero current, lets the device settle and
	// measures the open-circuit voltage.
	MeasureVoc(ctx context.Context) (float64, error)

	// SweepVmpp sweeps the bias from voc down to zero and returns the
	// voltage of maximum power along with the sweep's step size.
	SweepVmpp(ctx context.Context, voc float64) (vmpp, step float64, err error)

	// OutputOn enables the source output.
	OutputOn() error

	// OutputOff disables the source output.  It must be safe to call
	// on every exit path, connected or not.
	OutputOff() error

	// Close releases the connection.
	Close() error
}
