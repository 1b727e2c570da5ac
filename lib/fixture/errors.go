package fixture

import (
	"errors"
	"fmt"
)

// ErrNoGlobalBaseline is returned in GlobalOnce mode when the baseline made
// by the globalsetup command is missing.
var ErrNoGlobalBaseline = errors.New("global baseline not found, run globalsetup first")

// ErrWorkerClosed reports use of a Worker after Close.
var ErrWorkerClosed = errors.New("fixture worker closed")

// ConfigurationError reports an unusable setting, with guidance for the
// operator.
type ConfigurationError struct {
	Setting  string
	Value    string
	Guidance string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Setting, e.Value, e.Guidance)
}

// SetupFailure reports that the baseline could not be built. Every test
// depending on that baseline gets the same failure.
type SetupFailure struct {
	Strategy Strategy
	Err      error
}

func (e *SetupFailure) Error() string {
	return fmt.Sprintf("%s baseline setup failed: %v", e.Strategy, e.Err)
}

func (e *SetupFailure) Unwrap() error { return e.Err }
