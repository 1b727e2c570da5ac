package fixture

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Strategy selects when the baseline setup runs and how tests derive their
// contexts from it.
type Strategy string

const (
	// Isolated gives every test a fresh, never configured profile.
	Isolated Strategy = "isolated"
	// GlobalOnce clones every test from a baseline built once per run by the
	// globalsetup command.
	GlobalOnce Strategy = "global"
	// PersistedPerFile builds the baseline once per worker on first use and
	// clones every test from it.
	PersistedPerFile Strategy = "persisted"
)

// Strategies lists the accepted strategies.
var Strategies = []Strategy{Isolated, GlobalOnce, PersistedPerFile}

// ParseStrategy parses a strategy name. The empty string selects
// PersistedPerFile.
func ParseStrategy(s string) (Strategy, error) {
	switch v := Strategy(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return PersistedPerFile, nil
	case Isolated, GlobalOnce, PersistedPerFile:
		return v, nil
	}
	return "", &ConfigurationError{
		Setting:  "strategy",
		Value:    s,
		Guidance: "choose one of " + choices(Strategies),
	}
}

// choices joins the accepted values as "a, b or c".
func choices[T ~string](values []T) string {
	names := lo.Map(values, func(v T, _ int) string { return string(v) })
	if len(names) < 2 {
		return strings.Join(names, "")
	}
	return fmt.Sprintf("%s or %s", strings.Join(names[:len(names)-1], ", "), names[len(names)-1])
}

// Network selects which baseline routine prepares the extension state.
type Network string

const (
	Peregrine Network = "peregrine"
	Spiritnet Network = "spiritnet"
)

// Networks lists the accepted networks.
var Networks = []Network{Peregrine, Spiritnet}

// ParseNetwork parses a network selector. There is no default: an empty or
// unknown value is a configuration error.
func ParseNetwork(s string) (Network, error) {
	switch v := Network(strings.ToLower(strings.TrimSpace(s))); v {
	case Peregrine, Spiritnet:
		return v, nil
	}
	return "", &ConfigurationError{
		Setting:  "network",
		Value:    s,
		Guidance: "choose " + choices(Networks),
	}
}
