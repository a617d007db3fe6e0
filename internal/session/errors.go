package session

import "github.com/perovskite-lab/mpptctl/internal/errors"

const (
	ErrAcquireFailed = errors.ErrorCode("session_acquire_failed")
	ErrSeedFailed    = errors.ErrorCode("session_seed_phase_failed")
	ErrLoopFailed    = errors.ErrorCode("session_loop_failed")
	ErrShutterFailed = errors.ErrorCode("session_shutter_failed")
)
