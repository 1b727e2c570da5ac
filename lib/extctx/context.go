package extctx

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/nrednav/cuid2"

	"github.com/kiltprotocol/sporran-e2e/lib/logger"
	"github.com/kiltprotocol/sporran-e2e/lib/profiledir"
)

// TeardownTimeout bounds cleanup that runs on an error path, where the
// caller's context may already be done.
const TeardownTimeout = 30 * time.Second

// Context is a live browser session with the extension loaded.
type Context struct {
	ID          string
	Engine      string
	SourceDir   string
	DataDir     string
	ExtensionID string
	// BaseURL is the entry page of the extension.
	BaseURL string
	Options Options

	engine Engine

	mu      sync.Mutex
	session Session
	closed  bool
	owned   bool
	release sync.Once
}

// Create launches engine against dataDir with the extension at sourceDir and
// resolves the extension address. The returned Context owns dataDir: on any
// failure the session is closed and dataDir removed before returning. An empty
// dataDir is allocated in the system temp directory.
func Create(ctx context.Context, engine Engine, sourceDir, dataDir string, opts Options) (*Context, error) {
	return create(ctx, engine, sourceDir, dataDir, opts, true)
}

func create(ctx context.Context, engine Engine, sourceDir, dataDir string, opts Options, owned bool) (_ *Context, err error) {
	if dataDir == "" {
		if dataDir, err = profiledir.Allocate("", ""); err != nil {
			return nil, err
		}
		owned = true
	}
	c := &Context{
		ID:        cuid2.Generate(),
		Engine:    engine.Name(),
		SourceDir: sourceDir,
		DataDir:   dataDir,
		Options:   opts,
		engine:    engine,
		owned:     owned,
	}
	log := logger.FromContext(ctx).With("context", c.ID, "engine", c.Engine, "dir", dataDir)

	defer func() {
		if err == nil {
			return
		}
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), TeardownTimeout)
		defer cancel()
		if terr := c.Teardown(tctx); terr != nil {
			log.Warn("teardown after failed create", "err", terr)
		}
	}()

	session, err := engine.Launch(ctx, sourceDir, dataDir, opts)
	if err != nil {
		var le *LaunchError
		if !errors.As(err, &le) {
			err = &LaunchError{Engine: c.Engine, DataDir: dataDir, Err: err}
		}
		return nil, err
	}
	c.session = session

	id, err := engine.Discover(ctx, session)
	if err == nil && id == "" {
		err = &DiscoveryError{Engine: c.Engine, Reason: "no extension identifier found"}
	}
	if err != nil {
		var de *DiscoveryError
		if !errors.As(err, &de) {
			err = &DiscoveryError{Engine: c.Engine, Reason: "inspection failed", Err: err}
		}
		return nil, err
	}
	c.ExtensionID = id
	c.BaseURL = engine.BaseURL(id)
	log.Debug("extension context ready", "extension", id)
	return c, nil
}

// Session returns the live session, or nil after Close or Teardown.
func (c *Context) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// URL resolves ref against the extension entry page. An empty ref yields the
// entry page itself.
func (c *Context) URL(ref string) (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", c.BaseURL, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	return base.ResolveReference(r).String(), nil
}

// Open opens a new page at ref, resolved with URL.
func (c *Context) Open(ctx context.Context, ref string) (Page, error) {
	s := c.Session()
	if s == nil {
		return nil, ErrClosed
	}
	target, err := c.URL(ref)
	if err != nil {
		return nil, err
	}
	page, err := s.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if err := page.Navigate(ctx, target); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("failed to navigate to %s: %w", target, err)
	}
	return page, nil
}

// Close ends the session, waits until the browser released the profile and
// returns the Baseline that from then on owns the directory. When Close fails
// the Context keeps ownership and Teardown must still be called.
func (c *Context) Close(ctx context.Context) (*Baseline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.session != nil {
		if err := c.session.Close(ctx); err != nil {
			return nil, fmt.Errorf("failed to close session %s: %w", c.ID, err)
		}
		c.session = nil
	}
	if err := profiledir.WaitUnlocked(ctx, c.DataDir, c.engine.LockFiles()...); err != nil {
		return nil, err
	}
	c.closed = true

	b := &Baseline{
		Engine:      c.Engine,
		SourceDir:   c.SourceDir,
		DataDir:     c.DataDir,
		ExtensionID: c.ExtensionID,
		Options:     c.Options,
		engine:      c.engine,
		owned:       c.owned,
	}
	c.owned = false
	logger.FromContext(ctx).Debug("extension context closed", "context", c.ID, "dir", c.DataDir)
	return b, nil
}

// Teardown closes the session if it is still open and removes the profile
// directory if the Context still owns it. It is safe after a partial launch
// and after Close, and later calls are no-ops.
func (c *Context) Teardown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true

	var errs []error
	if c.session != nil {
		if err := c.session.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close session %s: %w", c.ID, err))
		}
		c.session = nil
	}
	if c.owned {
		c.release.Do(func() {
			if err := profiledir.Release(c.DataDir); err != nil {
				errs = append(errs, err)
			}
		})
	}
	return errors.Join(errs...)
}
