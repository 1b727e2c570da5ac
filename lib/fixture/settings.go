package fixture

import (
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
)

// Settings configure a Worker.
type Settings struct {
	// Engine is the registry name of the browser engine.
	Engine       string
	EngineConfig extctx.EngineConfig

	// SourceDir is the unpacked extension build.
	SourceDir string
	// DataDir is the root for temporary profiles, the system temp directory
	// when empty.
	DataDir string
	// GlobalDataDir is the GlobalOnce baseline: a profile directory or a
	// profiledir archive. Relative paths are resolved against DataDir.
	GlobalDataDir string

	Viewport extctx.Viewport
	Headless bool
	Args     []string

	Network  Network
	Phrase   string
	Password string

	// TestTimeout bounds every test using the fixture. Zero disables it.
	TestTimeout time.Duration
	// SetupTimeout bounds one baseline build. It defaults to
	// DefaultSetupTimeout and is not shortened by the deadline of the test
	// that triggered the build.
	SetupTimeout time.Duration
	Strategy    Strategy
}

// LaunchOptions are the extctx options every context of the worker uses.
func (s Settings) LaunchOptions() extctx.Options {
	opts := extctx.Options{
		Headless: lo.ToPtr(s.Headless),
		Args:     s.Args,
	}
	if s.Viewport.Width > 0 && s.Viewport.Height > 0 {
		opts.Viewport = lo.ToPtr(s.Viewport)
	}
	return opts
}

// GlobalDir resolves GlobalDataDir.
func (s Settings) GlobalDir() string {
	if s.GlobalDataDir == "" || filepath.IsAbs(s.GlobalDataDir) {
		return s.GlobalDataDir
	}
	root := s.DataDir
	if root == "" {
		root = os.TempDir()
	}
	return filepath.Join(root, s.GlobalDataDir)
}

// DefaultSetupTimeout is used when Settings.SetupTimeout is zero.
const DefaultSetupTimeout = 5 * time.Minute

// normalize returns s with Network and Strategy in canonical form, so later
// comparisons against the constants hold for any accepted spelling.
func (s Settings) normalize() (Settings, error) {
	network, err := ParseNetwork(string(s.Network))
	if err != nil {
		return s, err
	}
	strategy, err := ParseStrategy(string(s.Strategy))
	if err != nil {
		return s, err
	}
	s.Network, s.Strategy = network, strategy
	if s.SetupTimeout <= 0 {
		s.SetupTimeout = DefaultSetupTimeout
	}
	if s.buildsBaseline() {
		if err := s.checkCredentials(); err != nil {
			return s, err
		}
	}
	return s, nil
}

// buildsBaseline reports whether a Worker with these settings runs the
// baseline routine itself. GlobalOnce workers adopt the baseline that
// BuildGlobal produced.
func (s Settings) buildsBaseline() bool {
	return s.Strategy == PersistedPerFile
}

func (s Settings) checkCredentials() error {
	if s.Network == Spiritnet && s.Phrase == "" {
		return &ConfigurationError{
			Setting:  "phrase",
			Value:    "",
			Guidance: "the spiritnet baseline imports an identity and needs its seed phrase",
		}
	}
	return nil
}
