// Package extctxtest provides an in-process extctx.Engine for tests. It keeps
// a small identity list in the profile directory so profile copies behave
// like browser state.
package extctxtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
	"github.com/kiltprotocol/sporran-e2e/lib/profiledir"
)

const (
	// Name is the engine name the fake reports.
	Name = "fake"
	// ExtensionID is the identifier every launch discovers.
	ExtensionID = "abcdefghijklmnopabcdefghijklmnop"
	// LockFile is created in the profile while a session is live.
	LockFile = "LOCK"
)

// StateFile is where identities are persisted, relative to the profile.
var StateFile = filepath.Join("Default", "Local Extension Settings", "identities.json")

// ErrProfileInUse is returned by Launch when another session holds the profile.
var ErrProfileInUse = errors.New("profile in use")

// Engine is a fake engine. The zero value is ready to use.
type Engine struct {
	// LaunchErr and DiscoverErr, when set, fail every Launch or Discover.
	LaunchErr   error
	DiscoverErr error
	// NoIdentifier makes Discover succeed without finding an identifier.
	NoIdentifier bool

	mu       sync.Mutex
	launches []LaunchRecord
	live     map[string]*Session
}

// LaunchRecord is one call to Launch.
type LaunchRecord struct {
	SourceDir string
	DataDir   string
	Options   extctx.Options
}

// Factory returns an extctx.Factory that always yields e.
func (e *Engine) Factory() extctx.Factory {
	return func(extctx.EngineConfig) (extctx.Engine, error) { return e, nil }
}

func (e *Engine) Name() string { return Name }

func (e *Engine) LockFiles() []string { return []string{LockFile} }

func (e *Engine) BaseURL(id string) string {
	return "fake-extension://" + id + "/popup.html"
}

func (e *Engine) Launch(ctx context.Context, sourceDir, dataDir string, opts extctx.Options) (extctx.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launches = append(e.launches, LaunchRecord{SourceDir: sourceDir, DataDir: dataDir, Options: opts})
	if e.LaunchErr != nil {
		return nil, e.LaunchErr
	}
	if profiledir.Locked(dataDir, LockFile) {
		return nil, fmt.Errorf("%s: %w", dataDir, ErrProfileInUse)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dataDir, LockFile), nil, 0o644); err != nil {
		return nil, err
	}
	if e.live == nil {
		e.live = map[string]*Session{}
	}
	s := &Session{engine: e, dataDir: dataDir}
	e.live[dataDir] = s
	return s, nil
}

func (e *Engine) Discover(ctx context.Context, s extctx.Session) (string, error) {
	if e.DiscoverErr != nil {
		return "", e.DiscoverErr
	}
	if e.NoIdentifier {
		return "", nil
	}
	if _, ok := s.(*Session); !ok {
		return "", fmt.Errorf("foreign session %T", s)
	}
	return ExtensionID, nil
}

// Launches returns every Launch call so far.
func (e *Engine) Launches() []LaunchRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]LaunchRecord(nil), e.launches...)
}

// Live returns the profile directories with an open session.
func (e *Engine) Live() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.live))
	for dir := range e.live {
		out = append(out, dir)
	}
	return out
}

// Session is a fake live session.
type Session struct {
	engine  *Engine
	dataDir string

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

func (s *Session) NewPage(ctx context.Context) (extctx.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, extctx.ErrClosed
	}
	p := &Page{session: s}
	s.pages = append(s.pages, p)
	return p, nil
}

func (s *Session) Pages() []extctx.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]extctx.Page, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p)
	}
	return out
}

func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.engine.mu.Lock()
	delete(s.engine.live, s.dataDir)
	s.engine.mu.Unlock()
	if err := os.Remove(filepath.Join(s.dataDir, LockFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Page is a fake tab. Evaluate understands two expressions: "identities"
// returns the stored identity names and "import:<name>" appends one.
type Page struct {
	session *Session
	mu      sync.Mutex
	url     string
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Close() error { return nil }

func (p *Page) Evaluate(ctx context.Context, expr string, out any) error {
	p.session.mu.Lock()
	defer p.session.mu.Unlock()
	if p.session.closed {
		return extctx.ErrClosed
	}
	path := filepath.Join(p.session.dataDir, StateFile)
	ids, err := readIdentities(path)
	if err != nil {
		return err
	}

	var result any
	switch {
	case expr == "identities":
		result = ids
	case strings.HasPrefix(expr, "import:"):
		ids = append(ids, strings.TrimPrefix(expr, "import:"))
		if err := writeIdentities(path, ids); err != nil {
			return err
		}
		result = len(ids)
	default:
		return fmt.Errorf("unsupported expression %q", expr)
	}
	if out == nil {
		return nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func readIdentities(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func writeIdentities(path string, ids []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
