package capture

import (
	"errors"
	"io"
	"os"
	"syscall"
)

// ErrorCategory classifies read failures for telemetry
type ErrorCategory int

const (
	// ErrCategoryTimeout is a poll deadline expiring; not a failure
	ErrCategoryTimeout ErrorCategory = iota
	// ErrCategoryShort is a read returning fewer bytes than one block
	ErrCategoryShort
	// ErrCategoryInterrupted is a read interrupted by a signal (EINTR, EAGAIN)
	ErrCategoryInterrupted
	// ErrCategoryEOF is the endpoint reporting end of stream
	ErrCategoryEOF
	// ErrCategoryClosed is the handle having been closed
	ErrCategoryClosed
	// ErrCategoryIO is any other read error
	ErrCategoryIO

	numCategories
)

// String returns a human-readable category name
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryShort:
		return "short"
	case ErrCategoryInterrupted:
		return "interrupted"
	case ErrCategoryEOF:
		return "eof"
	case ErrCategoryClosed:
		return "closed"
	default:
		return "io"
	}
}

// ClassifyReadError maps a device read error to a category.
// Only ErrCategoryClosed ends the capture loop; everything else is retried.
func ClassifyReadError(err error) ErrorCategory {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrCategoryTimeout
	case errors.Is(err, os.ErrClosed):
		return ErrCategoryClosed
	case errors.Is(err, syscall.EINTR), errors.Is(err, syscall.EAGAIN):
		return ErrCategoryInterrupted
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrShortBuffer):
		return ErrCategoryShort
	case errors.Is(err, io.EOF):
		return ErrCategoryEOF
	default:
		return ErrCategoryIO
	}
}
