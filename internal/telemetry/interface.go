package telemetry

import (
	"context"
	"time"

	"github.com/perovskite-lab/mpptctl/internal/tracker"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository defines the interface for telemetry data storage
type Repository interface {
	Store(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Snapshot captures one tick of a tracking session: the measurement
// and the tracker state that produced the next command.
type Snapshot struct {
	SessionStart  time.Time
	Sample        tracker.Sample
	Power         float64
	TargetVoltage float64
	Step          float64
	Direction     int
}
