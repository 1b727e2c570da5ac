// Package fixture decides when the expensive baseline setup of an extension
// profile runs and derives a private browser context from it for every test.
//
// A Worker holds the state of one test process. Its baseline is built at
// most once, on first use, and each test gets a clone that is torn down when
// the test ends.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
	"github.com/kiltprotocol/sporran-e2e/lib/logger"
	"github.com/kiltprotocol/sporran-e2e/lib/profiledir"
)

// State is the baseline lifecycle of a Worker.
type State int

const (
	Uninitialized State = iota
	BaselineBuilding
	BaselineReady
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case BaselineBuilding:
		return "baseline-building"
	case BaselineReady:
		return "baseline-ready"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Option customises a Worker.
type Option func(*Worker)

// WithSetup sets the peregrine baseline routine.
func WithSetup(r SetupRoutine) Option { return func(w *Worker) { w.setup = r } }

// WithNetworkRoutine sets the spiritnet baseline routine.
func WithNetworkRoutine(r NetworkRoutine) Option { return func(w *Worker) { w.network = r } }

// WithEngine uses e instead of looking the engine up in a registry.
func WithEngine(e extctx.Engine) Option { return func(w *Worker) { w.engine = e } }

// WithRegistry looks the engine up in r instead of the default registry.
func WithRegistry(r *extctx.Registry) Option { return func(w *Worker) { w.registry = r } }

// WithLogger sets the logger used when a call's context carries none.
func WithLogger(l *slog.Logger) Option { return func(w *Worker) { w.log = l } }

// pendingBuild is a baseline build in flight. done is closed once base and
// err are set.
type pendingBuild struct {
	done chan struct{}
	base *extctx.Baseline
	err  error
}

// Worker owns the baseline and the per-test contexts of one test process.
// It is safe for concurrent use by parallel tests.
type Worker struct {
	ID       string
	settings Settings

	setup    SetupRoutine
	network  NetworkRoutine
	engine   extctx.Engine
	registry *extctx.Registry
	log      *slog.Logger
	// engineErr is set when no engine is available for settings.Engine.
	engineErr error

	// mu guards the baseline state; no clone starts before the baseline is
	// ready.
	mu       sync.Mutex
	state    State
	baseline *extctx.Baseline
	failure  error
	builds   int
	pending  *pendingBuild

	clonesMu sync.Mutex
	clones   map[*extctx.Context]struct{}
}

// New validates settings and returns an uninitialised Worker. A bad network
// or strategy is a *ConfigurationError and no browser is ever started.
// Network and strategy are matched case-insensitively and stored in canonical
// form.
func New(settings Settings, opts ...Option) (*Worker, error) {
	settings, err := settings.normalize()
	if err != nil {
		return nil, err
	}
	w := &Worker{
		ID:       uuid.New().String(),
		settings: settings,
		setup:    Noop,
		network:  missingNetworkRoutine,
		registry: extctx.DefaultRegistry(),
		log:      slog.Default(),
		clones:   map[*extctx.Context]struct{}{},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("worker", w.ID, "strategy", string(settings.Strategy))

	if w.engine == nil {
		e, err := w.registry.Lookup(settings.Engine, settings.EngineConfig)
		switch {
		case errors.Is(err, extctx.ErrUnsupportedEngine):
			w.engineErr = err
		case err != nil:
			return nil, fmt.Errorf("failed to create engine %q: %w", settings.Engine, err)
		default:
			w.engine = e
		}
	}
	return w, nil
}

// Settings returns the worker settings.
func (w *Worker) Settings() Settings { return w.settings }

// State returns the baseline state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Builds returns how many times a baseline build was started.
func (w *Worker) Builds() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.builds
}

func (w *Worker) logger(ctx context.Context) *slog.Logger {
	if l := logger.FromContext(ctx); l != slog.Default() {
		return l
	}
	return w.log
}

// Context returns a new context for one test. In Isolated mode it starts
// from an empty profile; otherwise it is a clone of the worker baseline,
// which is built first if needed. The caller hands it back with Release.
func (w *Worker) Context(ctx context.Context) (*extctx.Context, error) {
	if w.engineErr != nil {
		return nil, w.engineErr
	}
	if w.State() == Closed {
		return nil, ErrWorkerClosed
	}

	dir, err := profiledir.Allocate(w.settings.DataDir, "")
	if err != nil {
		return nil, err
	}

	var c *extctx.Context
	if w.settings.Strategy == Isolated {
		c, err = extctx.Create(ctx, w.engine, w.settings.SourceDir, dir, w.settings.LaunchOptions())
	} else {
		var base *extctx.Baseline
		if base, err = w.Baseline(ctx); err != nil {
			_ = profiledir.Release(dir)
			return nil, err
		}
		c, err = extctx.Clone(ctx, base, dir, extctx.CloneOptions{
			InheritState: true,
			Options:      w.settings.LaunchOptions(),
		})
	}
	if err != nil {
		return nil, err
	}

	w.clonesMu.Lock()
	w.clones[c] = struct{}{}
	w.clonesMu.Unlock()
	if w.State() == Closed {
		// Close ran while the context was launching
		_ = w.Release(context.WithoutCancel(ctx), c)
		return nil, ErrWorkerClosed
	}
	return c, nil
}

// Release tears down a context returned by Context.
func (w *Worker) Release(ctx context.Context, c *extctx.Context) error {
	if c == nil {
		return nil
	}
	w.clonesMu.Lock()
	delete(w.clones, c)
	w.clonesMu.Unlock()
	return c.Teardown(ctx)
}

// Baseline returns the worker baseline, building it on first use. A failed
// build is remembered and returned to every later caller.
//
// The build runs detached from ctx under Settings.SetupTimeout: ctx only
// bounds how long this caller waits, so a caller that gives up does not fail
// the build for the callers after it.
func (w *Worker) Baseline(ctx context.Context) (*extctx.Baseline, error) {
	if w.engineErr != nil {
		return nil, w.engineErr
	}
	w.mu.Lock()
	switch w.state {
	case BaselineReady:
		defer w.mu.Unlock()
		return w.baseline, nil
	case Failed:
		defer w.mu.Unlock()
		return nil, w.failure
	case Closed:
		defer w.mu.Unlock()
		return nil, ErrWorkerClosed
	}
	p := w.pending
	if p == nil {
		p = &pendingBuild{done: make(chan struct{})}
		w.pending = p
		w.state = BaselineBuilding
		w.builds++
		go w.runBuild(context.WithoutCancel(ctx), p)
	}
	w.mu.Unlock()

	select {
	case <-p.done:
		return p.base, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Worker) runBuild(ctx context.Context, p *pendingBuild) {
	log := w.logger(ctx)
	log.Info("building baseline", "network", string(w.settings.Network))
	ctx, cancel := context.WithTimeout(ctx, w.settings.SetupTimeout)
	defer cancel()

	var (
		base *extctx.Baseline
		err  error
	)
	if w.settings.Strategy == GlobalOnce {
		base, err = w.adoptGlobal(ctx)
	} else {
		base, err = w.build(ctx)
	}
	if err != nil {
		var sf *SetupFailure
		if !errors.As(err, &sf) {
			err = &SetupFailure{Strategy: w.settings.Strategy, Err: err}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	defer close(p.done)
	w.pending = nil
	switch {
	case w.state == Closed:
		// Close ran during the build and already returned the clones
		if base != nil {
			if terr := base.Teardown(); terr != nil {
				log.Warn("teardown of baseline built after close", "dir", base.DataDir, "err", terr)
			}
		}
		p.err = ErrWorkerClosed
	case err != nil:
		w.state = Failed
		w.failure = err
		p.err = err
		log.Error("baseline setup failed", "err", err)
	default:
		w.baseline = base
		w.state = BaselineReady
		p.base = base
		log.Info("baseline ready", "dir", base.DataDir)
	}
}

// routine returns the baseline routine for the configured network.
func (w *Worker) routine() SetupRoutine {
	if w.settings.Network == Spiritnet {
		return func(ctx context.Context, c *extctx.Context) error {
			return w.network(ctx, c, w.settings.Phrase, w.settings.Password)
		}
	}
	return w.setup
}

// build creates a context in a private directory, runs the baseline routine
// and closes the context so the directory can be copied.
func (w *Worker) build(ctx context.Context) (*extctx.Baseline, error) {
	dir, err := profiledir.Allocate(w.settings.DataDir, "")
	if err != nil {
		return nil, err
	}
	return createBaseline(ctx, w.engine, w.settings, dir, w.routine())
}

func createBaseline(ctx context.Context, engine extctx.Engine, s Settings, dir string, routine SetupRoutine) (*extctx.Baseline, error) {
	c, err := extctx.Create(ctx, engine, s.SourceDir, dir, s.LaunchOptions())
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*extctx.Baseline, error) {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), extctx.TeardownTimeout)
		defer cancel()
		if terr := c.Teardown(tctx); terr != nil {
			logger.FromContext(ctx).Warn("teardown after failed setup", "dir", dir, "err", terr)
		}
		return nil, &SetupFailure{Strategy: s.Strategy, Err: err}
	}
	if err := routine(ctx, c); err != nil {
		return fail(err)
	}
	base, err := c.Close(ctx)
	if err != nil {
		return fail(err)
	}
	return base, nil
}

// Close tears down every outstanding context and then the baseline. A build
// still in flight is waited for, bounded by ctx, and its baseline removed
// once it finishes. The Worker cannot be used afterwards.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.state == Closed {
		w.mu.Unlock()
		return nil
	}
	w.state = Closed
	base := w.baseline
	w.baseline = nil
	pending := w.pending
	w.mu.Unlock()

	if pending != nil {
		select {
		case <-pending.done:
		case <-ctx.Done():
		}
	}

	w.clonesMu.Lock()
	clones := make([]*extctx.Context, 0, len(w.clones))
	for c := range w.clones {
		clones = append(clones, c)
	}
	w.clones = map[*extctx.Context]struct{}{}
	w.clonesMu.Unlock()

	errs := make([]error, len(clones)+1)
	var g errgroup.Group
	for i, c := range clones {
		g.Go(func() error {
			errs[i] = c.Teardown(ctx)
			return nil
		})
	}
	_ = g.Wait()
	if base != nil {
		errs[len(clones)] = base.Teardown()
	}
	return errors.Join(errs...)
}
