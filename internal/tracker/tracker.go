// Package tracker implements perturb-and-observe maximum power point
// tracking.  The tracker is pure decision logic: it consumes
// voltage/current samples and produces the next bias voltage to apply,
// clamped into the session's safety bounds.  It performs no I/O and
// never fails; out-of-bounds proposals are absorbed by clamping.
package tracker

import "math"

// Sample is a single measurement taken during a tracking session.
type Sample struct {
	Elapsed float64 // seconds since session start
	Voltage float64 // volts
	Current float64 // amps
}

// Power returns the electrical power of the sample in watts.
func (s Sample) Power() float64 {
	return s.Voltage * s.Current
}

// Bounds is the session's safety envelope for the bias voltage.
// Min is never negative: reverse bias is forbidden.
type Bounds struct {
	Min, Max float64
}

// Clamp forces v into the bounds.
func (b Bounds) Clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}

	return v
}

// Tracker holds the perturb-and-observe state machine.
type Tracker struct {
	voltage   float64
	step      float64
	lastPower float64
	primed    bool // lastPower holds a real measurement
	direction float64
	bounds    Bounds
	decay     float64
	minStep   float64
}

// New constructs a tracker seeded at startVoltage (clamped into
// bounds) with a fixed perturbation step.  The initial travel
// direction is upward.
func New(startVoltage, startStep float64, bounds Bounds) *Tracker {
	if bounds.Min < 0 {
		bounds.Min = 0
	}

	return &Tracker{
		voltage:   bounds.Clamp(startVoltage),
		step:      startStep,
		direction: 1,
		bounds:    bounds,
		decay:     1,
		minStep:   startStep,
	}
}

// SetDecay enables step-size decay on direction reversal.  The step
// multiplies by factor at every reversal and never drops below floor,
// so the tracker keeps making forward progress.  Invalid parameters
// leave the fixed-step policy in place.
func (t *Tracker) SetDecay(factor, floor float64) {
	if factor <= 0 || factor > 1 || floor <= 0 || floor > t.step {
		return
	}
	t.decay = factor
	t.minStep = floor
}

// Update consumes a sample and returns the next bias voltage.
//
// Classical perturb-and-observe: keep stepping in the same direction
// while power improves, reverse when it regresses.  Equal power counts
// as a regression so the tracker does not stall on a plateau; on a
// perfectly flat region this oscillates, which is accepted.  The first
// sample only primes the comparison and leaves the direction alone.
func (t *Tracker) Update(s Sample) float64 {
	// magnitude: the sourcemeter reports photocurrent as negative
	power := math.Abs(s.Power())

	if t.primed && power <= t.lastPower {
		t.reverse()
	}
	t.primed = true
	t.lastPower = power

	candidate := t.voltage + t.direction*t.step
	if candidate < t.bounds.Min || candidate > t.bounds.Max {
		// pinned against a bound; reverse so the next step walks away
		// from it instead of clamping forever
		candidate = t.bounds.Clamp(candidate)
		t.reverse()
	}
	t.voltage = candidate

	return t.voltage
}

func (t *Tracker) reverse() {
	t.direction = -t.direction
	if step := t.step * t.decay; step >= t.minStep {
		t.step = step
	} else {
		t.step = t.minStep
	}
}

// Voltage returns the bias voltage the tracker currently commands.
func (t *Tracker) Voltage() float64 {
	return t.voltage
}

// Step returns the current perturbation step size.
func (t *Tracker) Step() float64 {
	return t.step
}

// Direction returns the current direction of travel, +1 or -1.
func (t *Tracker) Direction() int {
	return int(t.direction)
}

// Bounds returns the safety envelope the tracker clamps into.
func (t *Tracker) Bounds() Bounds {
	return t.bounds
}
