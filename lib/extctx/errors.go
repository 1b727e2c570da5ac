package extctx

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedEngine is returned by the registry for unknown engine names.
	ErrUnsupportedEngine = errors.New("unsupported browser engine")
	// ErrClosed reports use of a context or baseline that was already closed,
	// torn down or reopened.
	ErrClosed = errors.New("extension context already closed")
)

// LaunchError reports that a browser did not start with the extension loaded.
type LaunchError struct {
	Engine  string
	DataDir string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s against %s: %v", e.Engine, e.DataDir, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// DiscoveryError reports that the extension identifier could not be resolved
// after launch.
type DiscoveryError struct {
	Engine string
	Reason string
	Err    error
}

func (e *DiscoveryError) Error() string {
	msg := fmt.Sprintf("discover extension in %s: %s", e.Engine, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DiscoveryError) Unwrap() error { return e.Err }
