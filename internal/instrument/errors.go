package instrument

import "github.com/perovskite-lab/mpptctl/internal/errors"

const (
	// Connection Errors
	ErrConnectFailed  = errors.ErrorCode("instrument_connect_failed")
	ErrNotConnected   = errors.ErrorCode("instrument_not_connected")
	ErrCloseFailed    = errors.ErrorCode("instrument_close_failed")
	ErrNoSerialConfig = errors.ErrorCode("instrument_no_serial_config")

	// Communication Errors
	ErrWriteFailed    = errors.ErrorCode("instrument_write_failed")
	ErrReadFailed     = errors.ErrorCode("instrument_read_failed")
	ErrMalformedReply = errors.ErrorCode("instrument_malformed_reply")

	// Operation Errors
	ErrSetupFailed   = errors.ErrorCode("instrument_setup_failed")
	ErrSourceFailed  = errors.ErrorCode("instrument_source_failed")
	ErrMeasureFailed = errors.ErrorCode("instrument_measure_failed")
	ErrSweepFailed   = errors.ErrorCode("instrument_sweep_failed")
)

// IsInstrumentError reports whether err carries one of this package's
// error codes.  The session driver treats every one of them as fatal.
func IsInstrumentError(err error) bool {
	switch errors.CodeOf(err) {
	case ErrConnectFailed, ErrNotConnected, ErrCloseFailed, ErrNoSerialConfig,
		ErrWriteFailed, ErrReadFailed, ErrMalformedReply,
		ErrSetupFailed, ErrSourceFailed, ErrMeasureFailed, ErrSweepFailed:
		return true
	}

	return false
}
