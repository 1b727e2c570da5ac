// Package chromium drives Chromium-family browsers through the DevTools
// protocol with chromedp.
package chromium

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/chromedp/chromedp"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/kiltprotocol/sporran-e2e/lib/chromiumflags"
	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
	"github.com/kiltprotocol/sporran-e2e/lib/logger"
)

// Name is the registry key of the engine.
const Name = "chromium"

// lockFiles are the entries Chromium keeps in a profile it has open.
var lockFiles = []string{"SingletonLock", "SingletonSocket", "SingletonCookie"}

func init() {
	extctx.Register(Name, func(cfg extctx.EngineConfig) (extctx.Engine, error) {
		return New(cfg), nil
	})
}

// Engine launches Chromium with one unpacked extension.
type Engine struct {
	execPath string
	download bool

	lookPath func() (string, bool)
	fetch    func() (string, error)
}

func New(cfg extctx.EngineConfig) *Engine {
	return &Engine{
		execPath: cfg.ExecPath,
		download: cfg.Download,
		lookPath: launcher.LookPath,
		fetch:    func() (string, error) { return launcher.NewBrowser().Get() },
	}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) LockFiles() []string { return append([]string(nil), lockFiles...) }

func (e *Engine) BaseURL(extensionID string) string {
	return "chrome-extension://" + extensionID + "/popup.html"
}

// resolveExecPath returns the browser binary. An empty result leaves the
// choice to chromedp.
func (e *Engine) resolveExecPath(opts extctx.Options) (string, error) {
	if opts.ExecPath != nil && *opts.ExecPath != "" {
		return *opts.ExecPath, nil
	}
	if e.execPath != "" {
		return e.execPath, nil
	}
	if p, ok := e.lookPath(); ok {
		return p, nil
	}
	if e.download {
		p, err := e.fetch()
		if err != nil {
			return "", fmt.Errorf("failed to download chromium: %w", err)
		}
		return p, nil
	}
	return "", nil
}

// launchFlags returns the switches set on top of chromedp's defaults, keyed
// by switch name without leading dashes.
func launchFlags(sourceDir string, opts extctx.Options) map[string]any {
	tokens := chromiumflags.Merge(opts.Args, chromiumflags.ExtensionFlags(sourceDir))
	flags := chromiumflags.Switches(tokens)
	for k, v := range opts.Prefs {
		flags[k] = v
	}

	// extensions are disabled by chromedp's defaults and by headless
	// shells, so the new headless mode is the only headless option
	flags["disable-extensions"] = false
	if opts.Headless != nil && *opts.Headless {
		flags["headless"] = "new"
	} else {
		flags["headless"] = false
		flags["hide-scrollbars"] = false
		flags["mute-audio"] = false
	}
	if opts.Viewport != nil {
		flags["window-size"] = strconv.Itoa(opts.Viewport.Width) + "," + strconv.Itoa(opts.Viewport.Height)
	}
	return flags
}

// Launch starts a browser against dataDir. The browser outlives ctx, which
// only bounds the startup, and is stopped by the session's Close.
func (e *Engine) Launch(ctx context.Context, sourceDir, dataDir string, opts extctx.Options) (extctx.Session, error) {
	src, err := filepath.Abs(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("invalid extension source %s: %w", sourceDir, err)
	}
	execPath, err := e.resolveExecPath(opts)
	if err != nil {
		return nil, &extctx.LaunchError{Engine: Name, DataDir: dataDir, Err: err}
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(dataDir),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	for name, value := range launchFlags(src, opts) {
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}
	if execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(execPath))
	}

	log := logger.FromContext(ctx).With("engine", Name, "dir", dataDir)
	log.Info("launching browser", "exec", execPath, "extension", src)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logf(log, slog.LevelDebug)),
		chromedp.WithErrorf(logf(log, slog.LevelWarn)),
	)
	s := &session{
		dataDir:       dataDir,
		viewport:      opts.Viewport,
		wantID:        unpackedID(src),
		log:           log,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}

	// the first Run starts the process and must see the undecorated browser
	// context, otherwise the browser dies with the caller's deadline
	if err := await(ctx, browserCancel, func() error { return chromedp.Run(browserCtx) }); err != nil {
		s.shutdown()
		return nil, &extctx.LaunchError{Engine: Name, DataDir: dataDir, Err: err}
	}
	return s, nil
}

func logf(log *slog.Logger, level slog.Level) func(string, ...any) {
	return func(format string, args ...any) {
		log.Log(context.Background(), level, fmt.Sprintf(format, args...))
	}
}
