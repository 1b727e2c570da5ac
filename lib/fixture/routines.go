package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
)

// SetupRoutine brings a freshly created context to the baseline state. It
// drives the extension UI and is supplied by the test suite.
type SetupRoutine func(ctx context.Context, c *extctx.Context) error

// NetworkRoutine is a SetupRoutine for a network that needs an existing
// identity, given by its seed phrase and password.
type NetworkRoutine func(ctx context.Context, c *extctx.Context, phrase, password string) error

// Importer imports an identity through the extension UI.
type Importer interface {
	Import(ctx context.Context, c *extctx.Context, phrase, password string) error
}

// ImportRoutine adapts imp to a NetworkRoutine.
func ImportRoutine(imp Importer) NetworkRoutine {
	return imp.Import
}

var errNoNetworkRoutine = errors.New("no network routine configured")

// Noop leaves the context as launched.
func Noop(context.Context, *extctx.Context) error { return nil }

// OpenEntry opens the extension entry page once and closes it again, letting
// the extension initialise its storage.
func OpenEntry(ctx context.Context, c *extctx.Context) error {
	page, err := c.Open(ctx, "")
	if err != nil {
		return err
	}
	return page.Close()
}

func missingNetworkRoutine(context.Context, *extctx.Context, string, string) error {
	return errNoNetworkRoutine
}

// ScriptRoutine opens the entry page and evaluates script there as the body
// of an async function taking phrase and password. The routine fails when
// the script throws or its promise rejects.
func ScriptRoutine(script string) NetworkRoutine {
	return func(ctx context.Context, c *extctx.Context, phrase, password string) error {
		args, err := json.Marshal([]string{phrase, password})
		if err != nil {
			return err
		}
		page, err := c.Open(ctx, "")
		if err != nil {
			return err
		}
		defer page.Close()
		expr := fmt.Sprintf("(async (phrase, password) => {\n%s\n})(...%s)", script, args)
		if err := page.Evaluate(ctx, expr, nil); err != nil {
			return fmt.Errorf("setup script: %w", err)
		}
		return nil
	}
}

// WithoutCredentials runs r as a SetupRoutine with empty credentials.
func WithoutCredentials(r NetworkRoutine) SetupRoutine {
	return func(ctx context.Context, c *extctx.Context) error {
		return r(ctx, c, "", "")
	}
}
