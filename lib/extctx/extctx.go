// Package extctx manages browser sessions that run with a single unpacked
// extension loaded against a dedicated profile directory.
//
// A Context is a live session. Closing it yields a Baseline: a token for a
// profile directory that no browser holds anymore, which is the only thing
// Clone accepts as a source.
package extctx

import (
	"context"
	"slices"

	"github.com/samber/lo"
)

// Viewport is the page size given to every page of a session.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Options are the launch options of a session. Nil fields fall back to the
// engine defaults.
type Options struct {
	Viewport *Viewport
	Headless *bool
	ExecPath *string
	// Args are extra command-line switches passed to the browser.
	Args []string
	// Prefs are engine specific key/value launch switches.
	Prefs map[string]string
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return lo.ToPtr(*p)
}

// MergeOptions returns base overridden by override. Pointer fields set in
// override win, Prefs are merged key-wise with override winning, and Args are
// concatenated keeping the first occurrence of each switch.
func MergeOptions(base, override Options) Options {
	out := Options{
		Viewport: clonePtr(base.Viewport),
		Headless: clonePtr(base.Headless),
		ExecPath: clonePtr(base.ExecPath),
	}
	if override.Viewport != nil {
		out.Viewport = clonePtr(override.Viewport)
	}
	if override.Headless != nil {
		out.Headless = clonePtr(override.Headless)
	}
	if override.ExecPath != nil {
		out.ExecPath = clonePtr(override.ExecPath)
	}
	if args := lo.Uniq(append(slices.Clone(base.Args), override.Args...)); len(args) > 0 {
		out.Args = args
	}
	if len(base.Prefs)+len(override.Prefs) > 0 {
		out.Prefs = lo.Assign(base.Prefs, override.Prefs)
	}
	return out
}

// Engine launches one browser family. Implementations own the discovery of
// the extension identifier since it depends on browser internals.
type Engine interface {
	Name() string
	// Launch starts a browser against dataDir with only the extension at
	// sourceDir enabled.
	Launch(ctx context.Context, sourceDir, dataDir string, opts Options) (Session, error)
	// Discover returns the runtime identifier the browser assigned to the
	// extension loaded in s.
	Discover(ctx context.Context, s Session) (string, error)
	// BaseURL is the address of the extension entry page for an identifier.
	BaseURL(extensionID string) string
	// LockFiles are the names of entries a live browser keeps in its profile.
	LockFiles() []string
}

// Session is a live browser session.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Pages() []Page
	// Close ends the browser process. It returns once the browser exited.
	Close(ctx context.Context) error
}

// Page is a single tab of a session.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a script expression in the page and stores its result
	// into out, which must be a pointer or nil.
	Evaluate(ctx context.Context, expr string, out any) error
	URL() string
	Close() error
}
