// Package datalog persists tracking samples as plain text, one sample
// per line: elapsed seconds, voltage in volts, current in amps.  The
// file is flushed on every append so a session killed mid-run keeps
// everything recorded up to that point.
package datalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/perovskite-lab/mpptctl/internal/errors"
	"github.com/perovskite-lab/mpptctl/internal/tracker"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644
)

const (
	ErrOpenFailed   = errors.ErrorCode("datalog_open_failed")
	ErrAppendFailed = errors.ErrorCode("datalog_append_failed")
	ErrCloseFailed  = errors.ErrorCode("datalog_close_failed")
)

// Sink receives every sample taken during a session.
type Sink interface {
	Append(s tracker.Sample) error
	Close() error
}

// File is a Sink writing to a text file.
type File struct {
	f *os.File
	w *bufio.Writer
}

// NewFile creates (or truncates) the sample log at path.
func NewFile(path string) (*File, error) {
	errFactory := errors.New()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
			return nil, errFactory.Wrap(ErrOpenFailed, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, defaultFilePerm)
	if err != nil {
		return nil, errFactory.Wrap(ErrOpenFailed, err)
	}

	return &File{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one sample line and flushes it to disk.
func (l *File) Append(s tracker.Sample) error {
	errFactory := errors.New()

	if _, err := fmt.Fprintf(l.w, "%.6f, %.6f, %.8f\n", s.Elapsed, s.Voltage, s.Current); err != nil {
		return errFactory.Wrap(ErrAppendFailed, err)
	}
	if err := l.w.Flush(); err != nil {
		return errFactory.Wrap(ErrAppendFailed, err)
	}

	return nil
}

// Close flushes and closes the log file.
func (l *File) Close() error {
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return errors.New().Wrap(ErrCloseFailed, err)
	}
	if err := l.f.Close(); err != nil {
		return errors.New().Wrap(ErrCloseFailed, err)
	}

	return nil
}
