// Package audioerr defines the error kinds shared by the ambisonics packages.
//
// Every package wraps one of these sentinels with fmt.Errorf("%w: ...") so
// callers can branch with errors.Is.
package audioerr

import (
	"errors"
	"fmt"
)

var (
	// ErrFormatUnsupported reports a WAV layout the reader cannot decode.
	ErrFormatUnsupported = errors.New("unsupported audio format")

	// ErrSampleRateMismatch reports inputs that disagree on sample rate.
	ErrSampleRateMismatch = errors.New("sample rate mismatch")

	// ErrChannelCount reports fewer channels than an operation requires.
	ErrChannelCount = errors.New("insufficient channel count")

	// ErrFileTooLarge reports an input that exceeds the configured memory budget.
	ErrFileTooLarge = errors.New("file too large")

	// ErrIO wraps an underlying read, write or sync failure.
	ErrIO = errors.New("i/o failure")

	// ErrBufferAllocation reports an allocation request that cannot be satisfied.
	ErrBufferAllocation = errors.New("buffer allocation failed")

	ErrEmptyInput    = errors.New("empty input")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidLayout = errors.New("invalid frame layout")
)

// IO wraps err as an ErrIO failure for op while keeping err reachable
// through errors.Is and errors.As.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
