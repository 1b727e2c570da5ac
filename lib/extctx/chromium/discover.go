package chromium

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
	"github.com/kiltprotocol/sporran-e2e/lib/logger"
)

const (
	inspectURL = "chrome://inspect/#extensions"
	// the url column of every extension target on the inspect page
	inspectURLs = `Array.from(document.querySelectorAll('#extensions-list div[class="url"]'), e => e.textContent || "")`

	discoverAttempts = 20
	discoverDelay    = 250 * time.Millisecond
)

var errNotListed = errors.New("extension not listed yet")

// Discover reads the extension identifier from the browser's extension
// inspection page. The listing fills in asynchronously after launch, so it
// is polled for a bounded time. When the id of the loaded extension can be
// predicted, polling waits for that id and other listed extensions are only
// used if it never shows up.
func (e *Engine) Discover(ctx context.Context, s extctx.Session) (string, error) {
	var want string
	if cs, ok := s.(*session); ok {
		want = cs.wantID
	}

	page, err := s.NewPage(ctx)
	if err != nil {
		return "", &extctx.DiscoveryError{Engine: Name, Reason: "cannot open inspection page", Err: err}
	}
	defer page.Close()

	if err := page.Navigate(ctx, inspectURL); err != nil {
		return "", &extctx.DiscoveryError{Engine: Name, Reason: "cannot load " + inspectURL, Err: err}
	}

	var id, fallback string
	err = retry.New(
		retry.Attempts(discoverAttempts),
		retry.Delay(discoverDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		var urls []string
		if err := page.Evaluate(ctx, inspectURLs, &urls); err != nil {
			return err
		}
		found, ok := pickExtensionID(urls, want)
		if ok {
			id = found
			return nil
		}
		if found != "" {
			fallback = found
		}
		return errNotListed
	})
	if err != nil && fallback != "" && ctx.Err() == nil {
		logger.FromContext(ctx).Warn("loaded extension not listed under its expected id",
			"engine", Name, "expected", want, "using", fallback)
		return fallback, nil
	}
	if err != nil {
		return "", &extctx.DiscoveryError{Engine: Name, Reason: "no extension identifier on " + inspectURL, Err: err}
	}
	return id, nil
}

// pickExtensionID chooses among the extension urls of the inspection page.
// With want set, it reports ok only when want is listed and otherwise
// returns the first listed id as a candidate. Without want, the first listed
// id is the answer.
func pickExtensionID(urls []string, want string) (string, bool) {
	var first string
	for _, u := range urls {
		id, err := parseExtensionID(u)
		if err != nil {
			continue
		}
		if want == "" || id == want {
			return id, true
		}
		if first == "" {
			first = id
		}
	}
	return first, false
}

// parseExtensionID extracts the identifier from an extension url such as
// chrome-extension://<id>/background.js.
func parseExtensionID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	rest, ok := strings.CutPrefix(raw, "chrome-extension://")
	if !ok {
		return "", fmt.Errorf("not an extension url: %q", raw)
	}
	id, _, _ := strings.Cut(rest, "/")
	if !validID(id) {
		return "", fmt.Errorf("invalid extension id %q", id)
	}
	return id, nil
}

// validID reports whether id has the shape Chromium gives extension ids:
// 32 characters from a to p.
func validID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, r := range id {
		if r < 'a' || r > 'p' {
			return false
		}
	}
	return true
}
