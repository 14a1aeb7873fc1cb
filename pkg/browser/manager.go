package browser

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/pubino/bsp/pkg/config"
	"github.com/pubino/bsp/pkg/form"
	"github.com/pubino/bsp/pkg/keepalive"
	"github.com/pubino/bsp/pkg/logging"
	"github.com/pubino/bsp/pkg/schema"
	"github.com/pubino/bsp/pkg/sessionstore"
)

// SessionHandle is the engine, context and page triple. Context and Page are
// only set while Engine is set.
type SessionHandle struct {
	Engine  Engine
	Context BrowserContext
	Page    Page
}

// Options configures a Manager.
type Options struct {
	Config   *config.Config
	Launcher Launcher
	Store    sessionstore.Store
	Schemas  schema.Loader
	Logger   *logging.Logger
	// Strategies are appended to the default field resolution strategies.
	Strategies []form.Strategy
}

// Manager owns a single browser session and runs every operation against it.
// Operations are serialized; the keepalive supervisor skips its tick while an
// operation is in flight.
type Manager struct {
	cfg       *config.Config
	launcher  Launcher
	store     sessionstore.Store
	schemas   schema.Loader
	resolver  *form.Resolver
	logger    *logging.Logger
	keepalive *keepalive.Supervisor

	// opMu serializes operations that drive the page.
	opMu sync.Mutex

	// mu guards handle.
	mu     sync.RWMutex
	handle SessionHandle
}

// NewManager creates an idle manager. Nothing is launched until first use.
func NewManager(opts Options) *Manager {
	cfg := opts.Config
	if cfg == nil {
		cfg, _ = config.Resolve(func(string) (string, bool) { return "", false })
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = PlaywrightLauncher{}
	}
	store := opts.Store
	if store == nil {
		store = sessionstore.NewFileStore(cfg.SessionFile)
	}
	schemas := opts.Schemas
	if schemas == nil {
		schemas = schema.NewDirLoader(cfg.SchemaDir, logger.With("schema"))
	}

	m := &Manager{
		cfg:      cfg,
		launcher: launcher,
		store:    store,
		schemas:  schemas,
		resolver: form.NewResolver(logger.With("form"), opts.Strategies...),
		logger:   logger,
	}
	m.keepalive = keepalive.New(cfg.Keepalive, keepalive.TouchFunc(m.touch), logger.With("keepalive"))
	return m
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() *config.Config {
	return m.cfg
}

// IsReady reports whether engine, context and page are all live.
func (m *Manager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle.Engine != nil && m.handle.Context != nil && m.handle.Page != nil
}

// CurrentURL returns the location of the live page, or "" when idle.
func (m *Manager) CurrentURL() string {
	page := m.currentPage()
	if page == nil {
		return ""
	}
	return page.URL()
}

// LaunchEngine starts the browser if it is not running yet.
func (m *Manager) LaunchEngine() error {
	return m.run("launchEngine", func() error {
		_, err := m.ensureEngine()
		return err
	})
}

// InteractiveResult describes a fresh, empty session awaiting manual login.
type InteractiveResult struct {
	URL          string `json:"url"`
	LoginURL     string `json:"loginUrl,omitempty"`
	VNCURL       string `json:"vncUrl,omitempty"`
	Instructions string `json:"instructions"`
}

// CreateInteractiveContext replaces any live session with an empty one whose
// page shows a blank document. The operator navigates and logs in by hand
// over the remote display.
func (m *Manager) CreateInteractiveContext() (*InteractiveResult, error) {
	var res *InteractiveResult
	err := m.run("createInteractiveContext", func() error {
		var err error
		res, err = m.createInteractive()
		return err
	})
	return res, err
}

func (m *Manager) createInteractive() (*InteractiveResult, error) {
	page, err := m.replaceLive(nil)
	if err != nil {
		return nil, err
	}
	if err := page.Goto(BlankURL, m.cfg.NavigationTimeout); err != nil {
		return nil, navigationFailed("createInteractiveContext", BlankURL, err)
	}

	instructions := "Connect to the remote display and log in manually"
	if m.cfg.LoginURL != "" {
		instructions += fmt.Sprintf(" by typing %s into the address bar", m.cfg.LoginURL)
	}
	instructions += ", then call POST /login/save."

	m.logger.Infof("interactive session ready on %s", BlankURL)
	return &InteractiveResult{
		URL:          page.URL(),
		LoginURL:     m.cfg.LoginURL,
		VNCURL:       m.cfg.VNCURL,
		Instructions: instructions,
	}, nil
}

// LoadResult describes the outcome of restoring a saved session.
type LoadResult struct {
	Restored bool   `json:"restored"`
	URL      string `json:"url"`
	Source   string `json:"source,omitempty"`
	// Fallback is set when no usable state existed and an interactive
	// session was opened instead.
	Fallback *InteractiveResult `json:"fallback,omitempty"`
	Message  string             `json:"message"`
}

// LoadAuthenticatedContext seeds a new context from the default store.
func (m *Manager) LoadAuthenticatedContext() (*LoadResult, error) {
	return m.LoadAuthenticatedContextFrom(m.store)
}

// LoadAuthenticatedContextFrom seeds a new context from store and opens the
// site origin. A missing or unreadable state degrades to an interactive
// session. Keepalive is (re)started after a successful restore.
func (m *Manager) LoadAuthenticatedContextFrom(store sessionstore.Store) (*LoadResult, error) {
	var res *LoadResult
	err := m.run("loadAuthenticatedContext", func() error {
		state, err := store.Load()
		if err != nil {
			m.logger.Warnf("saved session at %s unusable (%v); falling back to interactive login", store.Path(), err)
			fallback, ferr := m.createInteractive()
			if ferr != nil {
				return ferr
			}
			res = &LoadResult{
				URL:      fallback.URL,
				Fallback: fallback,
				Message:  fmt.Sprintf("No usable saved session (%v). Opened an interactive session instead.", err),
			}
			return nil
		}

		page, err := m.replaceLive(state)
		if err != nil {
			return err
		}
		res = &LoadResult{Restored: true, Source: store.Path()}

		if m.cfg.BaseURL == "" {
			m.logger.Warnf("session restored but %s is unset; staying on %s", config.EnvBaseURL, page.URL())
			res.URL = page.URL()
			res.Message = "Session restored. Base URL not configured, so no page was opened."
			return nil
		}
		if err := page.Goto(m.cfg.BaseURL, m.cfg.NavigationTimeout); err != nil {
			return navigationFailed("loadAuthenticatedContext", m.cfg.BaseURL, err)
		}
		res.URL = page.URL()
		res.Message = fmt.Sprintf("Session restored with %d cookies", len(state.Cookies))
		m.logger.Infof("restored session from %s (%d cookies)", store.Path(), len(state.Cookies))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Restored && m.cfg.BaseURL != "" {
		if kerr := m.keepalive.Start(); kerr != nil {
			m.logger.Warnf("keepalive not started: %v", kerr)
		}
	}
	return res, nil
}

// SaveResult summarizes a persisted session.
type SaveResult struct {
	Path    string `json:"path"`
	Cookies int    `json:"cookies"`
	Origins int    `json:"origins"`
}

// SaveStorageState persists the live context to the default store.
func (m *Manager) SaveStorageState() (*SaveResult, error) {
	return m.SaveStorageStateTo(m.store)
}

// SaveStorageStateTo persists the live context's cookies and storage to store.
func (m *Manager) SaveStorageStateTo(store sessionstore.Store) (*SaveResult, error) {
	var res *SaveResult
	err := m.run("saveStorageState", func() error {
		m.mu.RLock()
		bctx := m.handle.Context
		m.mu.RUnlock()
		if bctx == nil {
			return noSession("saveStorageState")
		}

		state, err := bctx.StorageState()
		if err != nil {
			return &Error{Kind: KindInternal, Op: "saveStorageState", Message: "failed to read storage state", Err: err}
		}
		if err := store.Save(state); err != nil {
			return &Error{Kind: KindInternal, Op: "saveStorageState", Message: "failed to write session file", Err: err}
		}

		m.logger.Infof("saved session to %s (%d cookies, %d origins)", store.Path(), len(state.Cookies), len(state.Origins))
		res = &SaveResult{Path: store.Path(), Cookies: len(state.Cookies), Origins: len(state.Origins)}
		return nil
	})
	return res, err
}

// Close tears down page, context and engine and stops keepalive. Teardown
// errors are logged. Calling Close on an idle manager is a no-op.
func (m *Manager) Close() {
	m.keepalive.Stop()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	h := m.handle
	m.handle = SessionHandle{}
	m.mu.Unlock()

	m.release(h.Page, h.Context)
	if h.Engine != nil {
		if err := h.Engine.Close(); err != nil {
			m.logger.Warnf("error closing browser: %v", err)
		}
		m.logger.Infof("browser closed")
	}
}

// Shutdown closes the session and the keepalive scheduler. The manager must
// not be used afterwards.
func (m *Manager) Shutdown() {
	m.Close()
	m.keepalive.Close()
}

// KeepaliveStatus reports the supervisor state.
func (m *Manager) KeepaliveStatus() keepalive.Status {
	return m.keepalive.Status()
}

// StartKeepalive (re)starts the supervisor against the live page.
func (m *Manager) StartKeepalive() error {
	if m.currentPage() == nil {
		return noPage("startKeepalive")
	}
	return m.keepalive.Start()
}

// StopKeepalive cancels scheduled refreshes.
func (m *Manager) StopKeepalive() {
	m.keepalive.Stop()
}

// touch is the keepalive refresh: open the site origin on the live page.
func (m *Manager) touch() error {
	if !m.opMu.TryLock() {
		return keepalive.ErrBusy
	}
	defer m.opMu.Unlock()

	page := m.currentPage()
	if page == nil {
		return noPage("keepalive")
	}
	if m.cfg.BaseURL == "" {
		return noBaseURL("keepalive")
	}
	if err := page.Goto(m.cfg.BaseURL, m.cfg.NavigationTimeout); err != nil {
		return navigationFailed("keepalive", m.cfg.BaseURL, err)
	}
	return nil
}

// run executes fn as one serialized operation. Panics and foreign errors are
// converted to *Error.
func (m *Manager) run(op string, fn func() error) (err error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf("%s panicked: %v", op, r)
			err = &Error{Kind: KindInternal, Op: op, Message: fmt.Sprintf("unexpected failure: %v", r)}
		}
	}()

	if err = fn(); err != nil {
		err = classify(op, err)
		m.logger.Warnf("%s failed: %v", op, err)
	}
	return err
}

func classify(op string, err error) error {
	if e, ok := err.(*Error); ok {
		if e.Op == "" {
			e.Op = op
		}
		return e
	}
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

func (m *Manager) ensureEngine() (Engine, error) {
	m.mu.RLock()
	engine := m.handle.Engine
	m.mu.RUnlock()
	if engine != nil {
		return engine, nil
	}

	if !m.cfg.LaunchAllowed() {
		return nil, &Error{
			Kind: KindEnvironment,
			Op:   "launchEngine",
			Message: fmt.Sprintf("refusing to launch a headful browser: %s and %s must be set",
				config.EnvSanctioned, config.EnvDisplay),
			Suggestion: "Run inside the provisioned display container, or set BSP_SANCTIONED_ENV=1 and DISPLAY explicitly",
		}
	}

	m.logger.Infof("launching browser on display %s", m.cfg.Display)
	engine, err := m.launcher.Launch(LaunchOptions{Headless: false, Display: m.cfg.Display})
	if err != nil {
		return nil, &Error{Kind: KindEnvironment, Op: "launchEngine", Message: "failed to launch browser", Err: err}
	}

	m.mu.Lock()
	m.handle.Engine = engine
	m.mu.Unlock()
	return engine, nil
}

// replaceLive builds a new context and page, swaps them in, then releases
// the previous pair. Keepalive is stopped because it targets the old page.
func (m *Manager) replaceLive(state *sessionstore.State) (Page, error) {
	engine, err := m.ensureEngine()
	if err != nil {
		return nil, err
	}

	bctx, err := engine.NewContext(ContextOptions{
		StorageState: state,
		Viewport:     &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
	})
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: "failed to create browsing context", Err: err}
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, &Error{Kind: KindInternal, Message: "failed to create page", Err: err}
	}

	m.keepalive.Stop()

	m.mu.Lock()
	oldPage, oldCtx := m.handle.Page, m.handle.Context
	m.handle.Context, m.handle.Page = bctx, page
	m.mu.Unlock()

	if oldPage != nil || oldCtx != nil {
		m.logger.Infof("replacing previous session")
		m.release(oldPage, oldCtx)
	}
	return page, nil
}

func (m *Manager) release(page Page, bctx BrowserContext) {
	if page != nil {
		if err := page.Close(); err != nil {
			m.logger.Warnf("error closing page: %v", err)
		}
	}
	if bctx != nil {
		if err := bctx.Close(); err != nil {
			m.logger.Warnf("error closing context: %v", err)
		}
	}
}

func (m *Manager) currentPage() Page {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle.Page
}

// requirePage returns the live page or a NoSession error.
func (m *Manager) requirePage(op string) (Page, error) {
	page := m.currentPage()
	if page == nil {
		return nil, noPage(op)
	}
	return page, nil
}

// siteURL joins path onto the configured base origin.
func (m *Manager) siteURL(op, path string) (string, error) {
	if m.cfg.BaseURL == "" {
		return "", noBaseURL(op)
	}
	return strings.TrimRight(m.cfg.BaseURL, "/") + path, nil
}

// snapshot parses the current page's DOM.
func snapshot(op string, page Page) (*html.Node, error) {
	raw, err := page.Content()
	if err != nil {
		return nil, &Error{Kind: KindExtraction, Op: op, Message: "failed to read page content", Err: err}
	}
	doc, err := parseHTML(raw)
	if err != nil {
		return nil, &Error{Kind: KindExtraction, Op: op, Err: err}
	}
	return doc, nil
}
