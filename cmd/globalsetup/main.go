// Command globalsetup builds the baseline profile used by the global fixture
// strategy. Run it once before the test run.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiltprotocol/sporran-e2e/cmd/config"
	_ "github.com/kiltprotocol/sporran-e2e/lib/extctx/chromium"
	"github.com/kiltprotocol/sporran-e2e/lib/fixture"
	"github.com/kiltprotocol/sporran-e2e/lib/logger"
	"github.com/kiltprotocol/sporran-e2e/lib/profiledir"
)

func main() {
	archive := flag.String("archive", "", "also write the baseline to this .tar.zst archive")
	script := flag.String("script", "", "JavaScript file run on the extension entry page to build the baseline")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall time limit")
	flag.Parse()

	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		slogger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	slogger.Info("globalsetup configuration", "config", cfg.LogSafeConfig())

	settings, err := cfg.Settings()
	if err != nil {
		var ce *fixture.ConfigurationError
		if errors.As(err, &ce) {
			slogger.Error("invalid configuration", "setting", ce.Setting, "value", ce.Value, "hint", ce.Guidance)
			os.Exit(2)
		}
		slogger.Error("failed to build settings", "err", err)
		os.Exit(1)
	}
	if *archive != "" && !profiledir.IsArchive(*archive) {
		slogger.Error("archive path must end in " + profiledir.ArchiveExt)
		os.Exit(2)
	}

	// context cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	ctx = logger.AddToContext(ctx, slogger)

	opts := []fixture.Option{fixture.WithLogger(slogger), fixture.WithSetup(fixture.OpenEntry)}
	if *script != "" {
		body, err := os.ReadFile(*script)
		if err != nil {
			slogger.Error("failed to read setup script", "err", err)
			os.Exit(1)
		}
		r := fixture.ScriptRoutine(string(body))
		opts = append(opts, fixture.WithSetup(fixture.WithoutCredentials(r)), fixture.WithNetworkRoutine(r))
	}

	start := time.Now()
	base, err := fixture.BuildGlobal(ctx, settings, opts...)
	if err != nil {
		slogger.Error("failed to build global baseline", "err", err)
		os.Exit(1)
	}
	slogger.Info("global baseline ready", "dir", base.DataDir, "took", time.Since(start))

	if *archive != "" {
		if err := profiledir.ArchiveFile(base.DataDir, *archive, base.LockFiles()...); err != nil {
			slogger.Error("failed to archive global baseline", "err", err)
			os.Exit(1)
		}
		slogger.Info("global baseline archived", "archive", *archive)
	}
}
