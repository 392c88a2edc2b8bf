package provider

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownVariable = errors.New("provider: unknown variable")
	ErrNotWritable     = errors.New("provider: variable is read-only")
	ErrTypeMismatch    = errors.New("provider: type mismatch")
	ErrOutOfRange      = errors.New("provider: value out of range")
	// ErrInvalidToken means the parameter service holds an enumerated state
	// outside the known token set
	ErrInvalidToken = errors.New("provider: invalid enumerated token")
	// ErrUnavailable means the parameter service could not be reached; the
	// caller should treat any previously read value as last usable
	ErrUnavailable = errors.New("provider: parameter service unavailable")
)

// StatusCode is a remote-access status code
type StatusCode uint32

const (
	StatusGood                                    StatusCode = 0x00000000
	StatusUncertainNoCommunicationLastUsableValue StatusCode = 0x408F0000
	StatusBadInternalError                        StatusCode = 0x80020000
	StatusBadNodeIDUnknown                        StatusCode = 0x80340000
	StatusBadNotWritable                          StatusCode = 0x803B0000
	StatusBadOutOfRange                           StatusCode = 0x803C0000
	StatusBadTypeMismatch                         StatusCode = 0x80740000
)

// String returns the symbolic name of the status code
func (s StatusCode) String() string {
	switch s {
	case StatusGood:
		return "Good"
	case StatusUncertainNoCommunicationLastUsableValue:
		return "UncertainNoCommunicationLastUsableValue"
	case StatusBadInternalError:
		return "BadInternalError"
	case StatusBadNodeIDUnknown:
		return "BadNodeIdUnknown"
	case StatusBadNotWritable:
		return "BadNotWritable"
	case StatusBadOutOfRange:
		return "BadOutOfRange"
	case StatusBadTypeMismatch:
		return "BadTypeMismatch"
	default:
		return fmt.Sprintf("0x%08X", uint32(s))
	}
}

// IsGood reports whether the code is in the Good range
func (s StatusCode) IsGood() bool {
	return s&0xC0000000 == 0
}

// StatusOf maps an adapter error to a status code
func StatusOf(err error) StatusCode {
	switch {
	case err == nil:
		return StatusGood
	case errors.Is(err, ErrUnavailable):
		return StatusUncertainNoCommunicationLastUsableValue
	case errors.Is(err, ErrUnknownVariable):
		return StatusBadNodeIDUnknown
	case errors.Is(err, ErrNotWritable):
		return StatusBadNotWritable
	case errors.Is(err, ErrTypeMismatch):
		return StatusBadTypeMismatch
	case errors.Is(err, ErrOutOfRange), errors.Is(err, ErrInvalidToken):
		return StatusBadOutOfRange
	default:
		return StatusBadInternalError
	}
}
