package loanerr

import (
	"errors"
	"io/fs"
)

// Process exit codes. Argument and configuration errors are raised by the
// command layer directly; everything else is derived from the error code.
const (
	ExitOK               = 0
	ExitGeneric          = 1
	ExitArguments        = 2
	ExitConfig           = 3
	ExitFile             = 4
	ExitChannel          = 5
	ExitWriteExhausted   = 6
	ExitHandshakeTimeout = 7
	ExitRejected         = 8
	ExitProtocol         = 9
	ExitCorruptDatabase  = 10
)

// ExitError pins the exit status of an error raised outside the loan
// taxonomy, such as a bad flag or an invalid configuration file.
type ExitError struct {
	Status int
	Err    error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// WithExit wraps err so that ExitCode reports status for it.
func WithExit(status int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Status: status, Err: err}
}

// ExitCode maps err to the process exit status. A nil error maps to ExitOK.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Status
	}

	code, ok := CodeOf(err)
	if !ok {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return ExitFile
		}
		return ExitGeneric
	}

	switch code {
	case ChannelUnavailable, PeerGone:
		return ExitChannel
	case WriteExhausted:
		return ExitWriteExhausted
	case HandshakeTimeout, DisconnectTimeout:
		return ExitHandshakeTimeout
	case HandshakeRejected:
		return ExitRejected
	case ProtocolViolation:
		return ExitProtocol
	case CorruptDatabase:
		return ExitCorruptDatabase
	case PersistenceFailure:
		return ExitFile
	default:
		return ExitGeneric
	}
}
