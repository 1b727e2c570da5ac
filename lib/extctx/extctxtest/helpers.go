package extctxtest

import (
	"context"
	"fmt"

	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
)

// Import stores identity name in the extension state of c.
func Import(ctx context.Context, c *extctx.Context, name string) error {
	page, err := c.Open(ctx, "")
	if err != nil {
		return err
	}
	defer page.Close()
	return page.Evaluate(ctx, "import:"+name, nil)
}

// Identities reads the identity names stored in the extension state of c.
func Identities(ctx context.Context, c *extctx.Context) ([]string, error) {
	page, err := c.Open(ctx, "")
	if err != nil {
		return nil, err
	}
	defer page.Close()
	var ids []string
	if err := page.Evaluate(ctx, "identities", &ids); err != nil {
		return nil, fmt.Errorf("read identities: %w", err)
	}
	return ids, nil
}
