package chromium

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
)

const urlTimeout = 5 * time.Second

// await runs fn and returns its error, or calls cancel and returns once ctx
// is done. chromedp contexts cannot take the caller's deadline directly
// without tying the tab or browser lifetime to it.
func await(ctx context.Context, cancel context.CancelFunc, fn func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// bind derives a context from a tab that is also cancelled with ctx.
func bind(ctx, tab context.Context) (context.Context, context.CancelFunc) {
	actx, cancel := context.WithCancel(tab)
	stop := context.AfterFunc(ctx, cancel)
	return actx, func() {
		stop()
		cancel()
	}
}

type session struct {
	dataDir  string
	viewport *extctx.Viewport
	// wantID is the predicted extension id, empty when unknown
	wantID string
	log      *slog.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	pages  []*page
	closed bool
}

func (s *session) NewPage(ctx context.Context) (extctx.Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, extctx.ErrClosed
	}

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	var actions []chromedp.Action
	if s.viewport != nil {
		actions = append(actions, chromedp.EmulateViewport(int64(s.viewport.Width), int64(s.viewport.Height)))
	}
	if err := await(ctx, tabCancel, func() error { return chromedp.Run(tabCtx, actions...) }); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	p := &page{session: s, ctx: tabCtx, cancel: tabCancel}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		tabCancel()
		return nil, extctx.ErrClosed
	}
	s.pages = append(s.pages, p)
	return p, nil
}

func (s *session) Pages() []extctx.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]extctx.Page, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p)
	}
	return out
}

func (s *session) forget(p *page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.pages {
		if q == p {
			s.pages = append(s.pages[:i], s.pages[i+1:]...)
			return
		}
	}
}

// Close asks the browser to exit and waits for the process to end.
func (s *session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pages = nil
	s.mu.Unlock()

	err := await(ctx, s.browserCancel, func() error { return chromedp.Cancel(s.browserCtx) })
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.shutdown()
	return err
}

// shutdown kills the browser if it is still running and waits for it.
// Chromium leaves its singleton entries behind when it does not exit on its
// own; the process is gone at this point so they are stale.
func (s *session) shutdown() {
	s.browserCancel()
	s.allocCancel()
	for _, name := range lockFiles {
		if err := os.Remove(filepath.Join(s.dataDir, name)); err == nil {
			s.log.Warn("removed stale lock", "file", name)
		}
	}
}

type page struct {
	session *session
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

func (p *page) run(ctx context.Context, actions ...chromedp.Action) error {
	actx, cancel := bind(ctx, p.ctx)
	defer cancel()
	err := chromedp.Run(actx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func awaitPromise(params *runtime.EvaluateParams) *runtime.EvaluateParams {
	return params.WithAwaitPromise(true)
}

func (p *page) Evaluate(ctx context.Context, expr string, out any) error {
	if out == nil {
		var discard any
		out = &discard
	}
	return p.run(ctx, chromedp.Evaluate(expr, out, awaitPromise))
}

func (p *page) URL() string {
	ctx, cancel := context.WithTimeout(context.Background(), urlTimeout)
	defer cancel()
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return ""
	}
	return loc
}

func (p *page) Close() error {
	var err error
	p.once.Do(func() {
		p.session.forget(p)
		err = chromedp.Cancel(p.ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}
