package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/kelseyhightower/envconfig"

	"github.com/kiltprotocol/sporran-e2e/lib/chromiumflags"
	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
	"github.com/kiltprotocol/sporran-e2e/lib/fixture"
)

const redacted = "[REDACTED]"

// Config holds all configuration of the test harness
type Config struct {
	// Browser configuration
	Browser         string `envconfig:"BROWSER" default:"chromium"`
	BrowserPath     string `envconfig:"BROWSER_PATH"`
	BrowserDownload bool   `envconfig:"BROWSER_DOWNLOAD" default:"false"`
	BrowserFlags    string `envconfig:"BROWSER_FLAGS"`
	Headless        bool   `envconfig:"HEADLESS" default:"false"`

	// Extension builds per network
	SourceIntern string `envconfig:"EXTENSION_SOURCE_CHROMIUM_INTERN" default:"./sporran/chromium/intern"`
	SourcePublic string `envconfig:"EXTENSION_SOURCE_CHROMIUM_PUBLIC" default:"./sporran/chromium/public"`

	ViewportWidth  int `envconfig:"EXTENSION_VIEWPORT_WIDTH" default:"480"`
	ViewportHeight int `envconfig:"EXTENSION_VIEWPORT_HEIGHT" default:"600"`

	// Profile directories. An empty DataDir uses the system temp directory.
	DataDir       string `envconfig:"EXTENSION_DATA_DIR"`
	GlobalDataDir string `envconfig:"GLOBAL_SETUP_DATA_DIR" default:"./sporran-chromium-global"`

	// Network selection and the identity imported on spiritnet
	KiltBlockchain    string `envconfig:"KILT_BLOCKCHAIN" default:"peregrine"`
	PhraseSpiritnet   string `envconfig:"PHRASE_SPIRITNET"`
	PasswordSpiritnet string `envconfig:"PASSWORD_SPIRITNET"`

	Strategy    string        `envconfig:"FIXTURE_STRATEGY" default:"persisted"`
	TestTimeout time.Duration `envconfig:"TEST_TIMEOUT" default:"2m"`
	// SetupTimeout bounds one baseline build, independent of TestTimeout
	SetupTimeout time.Duration `envconfig:"SETUP_TIMEOUT" default:"5m"`

	// Optional YAML file overriding per network settings
	NetworksFile string `envconfig:"NETWORKS_FILE"`
}

// NetworkOverlay is one network entry of the networks file.
type NetworkOverlay struct {
	SourceDir string `json:"sourceDir,omitempty"`
	Phrase    string `json:"phrase,omitempty"`
	Password  string `json:"password,omitempty"`
}

// NetworksFile is the document read from NETWORKS_FILE, for example
//
//	networks:
//	  peregrine:
//	    sourceDir: ./build/intern
//	  spiritnet:
//	    sourceDir: ./build/public
//	    phrase: crack slam certain ...
//	    password: secret
type NetworksFile struct {
	Networks map[string]NetworkOverlay `json:"networks"`
}

// Load loads configuration from environment variables and the optional
// networks file
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if config.NetworksFile != "" {
		if err := applyNetworksFile(&config, config.NetworksFile); err != nil {
			return nil, err
		}
	}
	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyNetworksFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read NETWORKS_FILE: %w", err)
	}
	var nf NetworksFile
	if err := yaml.Unmarshal(data, &nf); err != nil {
		return fmt.Errorf("failed to parse NETWORKS_FILE %s: %w", path, err)
	}

	for name, overlay := range nf.Networks {
		network, err := fixture.ParseNetwork(name)
		if err != nil {
			return fmt.Errorf("NETWORKS_FILE %s: %w", path, err)
		}
		switch network {
		case fixture.Peregrine:
			setIfNotEmpty(&config.SourceIntern, overlay.SourceDir)
		case fixture.Spiritnet:
			setIfNotEmpty(&config.SourcePublic, overlay.SourceDir)
			setIfNotEmpty(&config.PhraseSpiritnet, overlay.Phrase)
			setIfNotEmpty(&config.PasswordSpiritnet, overlay.Password)
		}
	}
	return nil
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func validate(config *Config) error {
	if config.Browser == "" {
		return fmt.Errorf("BROWSER is required")
	}
	if config.ViewportWidth < 1 || config.ViewportWidth > 10000 {
		return fmt.Errorf("EXTENSION_VIEWPORT_WIDTH must be between 1 and 10000")
	}
	if config.ViewportHeight < 1 || config.ViewportHeight > 10000 {
		return fmt.Errorf("EXTENSION_VIEWPORT_HEIGHT must be between 1 and 10000")
	}
	if config.TestTimeout <= 0 {
		return fmt.Errorf("TEST_TIMEOUT must be greater than 0")
	}
	if config.SetupTimeout <= 0 {
		return fmt.Errorf("SETUP_TIMEOUT must be greater than 0")
	}
	if _, err := fixture.ParseStrategy(config.Strategy); err != nil {
		return fmt.Errorf("FIXTURE_STRATEGY: %w", err)
	}
	return nil
}

// Settings converts the configuration into fixture settings, picking the
// extension build of the selected network. An unknown KILT_BLOCKCHAIN is a
// *fixture.ConfigurationError.
func (c *Config) Settings() (fixture.Settings, error) {
	network, err := fixture.ParseNetwork(c.KiltBlockchain)
	if err != nil {
		return fixture.Settings{}, err
	}
	strategy, err := fixture.ParseStrategy(c.Strategy)
	if err != nil {
		return fixture.Settings{}, err
	}

	source := c.SourceIntern
	if network == fixture.Spiritnet {
		source = c.SourcePublic
	}
	return fixture.Settings{
		Engine: c.Browser,
		EngineConfig: extctx.EngineConfig{
			ExecPath: c.BrowserPath,
			Download: c.BrowserDownload,
		},
		SourceDir:     source,
		DataDir:       c.DataDir,
		GlobalDataDir: c.GlobalDataDir,
		Viewport:      extctx.Viewport{Width: c.ViewportWidth, Height: c.ViewportHeight},
		Headless:      c.Headless,
		Args:          chromiumflags.Parse(c.BrowserFlags),
		Network:       network,
		Phrase:        c.PhraseSpiritnet,
		Password:      c.PasswordSpiritnet,
		TestTimeout:   c.TestTimeout,
		SetupTimeout:  c.SetupTimeout,
		Strategy:      strategy,
	}, nil
}

// LogSafeConfig returns the configuration with credentials redacted
func (c *Config) LogSafeConfig() map[string]interface{} {
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	return map[string]interface{}{
		"browser":            c.Browser,
		"browser_path":       c.BrowserPath,
		"browser_download":   c.BrowserDownload,
		"browser_flags":      c.BrowserFlags,
		"headless":           c.Headless,
		"source_intern":      c.SourceIntern,
		"source_public":      c.SourcePublic,
		"viewport_width":     c.ViewportWidth,
		"viewport_height":    c.ViewportHeight,
		"data_dir":           c.DataDir,
		"global_data_dir":    c.GlobalDataDir,
		"kilt_blockchain":    c.KiltBlockchain,
		"phrase_spiritnet":   redact(c.PhraseSpiritnet),
		"password_spiritnet": redact(c.PasswordSpiritnet),
		"strategy":           c.Strategy,
		"test_timeout":       c.TestTimeout.String(),
		"networks_file":      c.NetworksFile,
	}
}
