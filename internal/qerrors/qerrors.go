// Package qerrors classifies QTask errors into the four propagation classes
// from the error handling design: Configuration, Connectivity, Protocol, and
// Handler. Callers branch on class with errors.Is against the exported
// sentinels rather than matching error strings.
package qerrors

import "errors"

// Class identifies which of the four propagation policies an error follows.
type Class string

const (
	ClassConfiguration Class = "configuration"
	ClassConnectivity  Class = "connectivity"
	ClassProtocol      Class = "protocol"
	ClassHandler       Class = "handler"
)

// Sentinels usable with errors.Is. A wrapped error (see Wrap) compares equal
// to the sentinel matching its class.
var (
	Configuration = errors.New("qtask: configuration error")
	Connectivity  = errors.New("qtask: connectivity error")
	Protocol      = errors.New("qtask: protocol error")
	Handler       = errors.New("qtask: handler error")

	// InvalidArgument, NotConnected and InvalidPartitionIndex are the
	// specific Configuration-class conditions spec.md names by name.
	InvalidArgument       = errors.New("qtask: invalid argument")
	NotConnected          = errors.New("qtask: not connected")
	InvalidPartitionIndex = errors.New("qtask: invalid partition index")
)

func sentinelFor(class Class) error {
	switch class {
	case ClassConfiguration:
		return Configuration
	case ClassConnectivity:
		return Connectivity
	case ClassProtocol:
		return Protocol
	case ClassHandler:
		return Handler
	default:
		return nil
	}
}

// classifiedError wraps a cause with a class sentinel so both
// errors.Is(err, qerrors.Connectivity) and errors.Is(err, cause) succeed,
// and the message carries the original context.
type classifiedError struct {
	class   Class
	cause   error
	message string
}

func (e *classifiedError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() []error {
	return []error{sentinelFor(e.class), e.cause}
}

// Wrap annotates cause with class, producing an error that satisfies
// errors.Is for both the class sentinel and cause itself.
func Wrap(class Class, message string, cause error) error {
	return &classifiedError{class: class, cause: cause, message: message}
}

// New builds a classified error with no underlying cause.
func New(class Class, message string) error {
	return &classifiedError{class: class, cause: errors.New(message), message: message}
}

// Is reports whether err belongs to the given class.
func Is(err error, class Class) bool {
	return errors.Is(err, sentinelFor(class))
}
