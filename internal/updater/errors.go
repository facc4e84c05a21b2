package updater

import "errors"

// ErrorKind classifies where in the update pipeline a failure originated.
type ErrorKind int

const (
	// ConfigError: the HTTP client could not be constructed.
	ConfigError ErrorKind = iota + 1
	// NetworkError: request, response status, or body transfer failed.
	NetworkError
	// IoError: the artifact file could not be created, written, or closed.
	IoError
	// LaunchError: the OS refused to start the installer.
	LaunchError
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigError:
		return "config"
	case NetworkError:
		return "network"
	case IoError:
		return "io"
	case LaunchError:
		return "launch"
	default:
		return "unknown"
	}
}

// ErrUpdateInProgress is returned when Run is invoked while another update
// is still downloading or handing off.
var ErrUpdateInProgress = errors.New("an update is already in progress")

// Error is a pipeline failure tagged with its kind. Error() is the flat,
// user-facing message.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Kind
	}
	return 0
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
