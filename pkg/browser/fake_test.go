package browser

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pubino/bsp/pkg/config"
	"github.com/pubino/bsp/pkg/schema"
	"github.com/pubino/bsp/pkg/sessionstore"
)

const testBase = "https://cms.test"

// fakeSite is an in-memory website. Pages are keyed by absolute URL.
type fakeSite struct {
	mu sync.Mutex

	pages     map[string]string
	redirects map[string]string
	failing   map[string]bool
	// selectors lists the elements present per URL, keyed by exact selector
	// string, with their type attribute.
	selectors map[string]map[string]string
	// clicks maps "url|selector" to the URL reached by clicking.
	clicks map[string]string

	gotos   []string
	filled  map[string]string
	checked map[string]bool
	chosen  map[string]string
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:     map[string]string{},
		redirects: map[string]string{},
		failing:   map[string]bool{},
		selectors: map[string]map[string]string{},
		clicks:    map[string]string{},
		filled:    map[string]string{},
		checked:   map[string]bool{},
		chosen:    map[string]string{},
	}
}

func (s *fakeSite) page(path, body string, selectors ...string) {
	url := path
	if !strings.HasPrefix(path, "about:") && !strings.HasPrefix(path, "http") {
		url = testBase + path
	}
	s.pages[url] = body
	if s.selectors[url] == nil {
		s.selectors[url] = map[string]string{}
	}
	for _, sel := range selectors {
		s.selectors[url][sel] = ""
	}
}

func (s *fakeSite) input(path, selector, typ string) {
	url := testBase + path
	if s.selectors[url] == nil {
		s.selectors[url] = map[string]string{}
	}
	s.selectors[url][selector] = typ
}

func (s *fakeSite) click(path, selector, target string) {
	s.input(path, selector, "submit")
	s.clicks[testBase+path+"|"+selector] = testBase + target
}

func (s *fakeSite) visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.gotos...)
}

type fakeLauncher struct {
	site     *fakeSite
	launches int
	engines  []*fakeEngine
	err      error
}

func (l *fakeLauncher) Launch(opts LaunchOptions) (Engine, error) {
	l.launches++
	if l.err != nil {
		return nil, l.err
	}
	e := &fakeEngine{site: l.site, opts: opts}
	l.engines = append(l.engines, e)
	return e, nil
}

type fakeEngine struct {
	site     *fakeSite
	opts     LaunchOptions
	contexts []*fakeContext
	closed   bool
	closeErr error
}

func (e *fakeEngine) NewContext(opts ContextOptions) (BrowserContext, error) {
	c := &fakeContext{site: e.site}
	if opts.StorageState != nil {
		c.cookies = append(c.cookies, opts.StorageState.Cookies...)
		c.origins = append(c.origins, opts.StorageState.Origins...)
	}
	e.contexts = append(e.contexts, c)
	return c, nil
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return e.closeErr
}

type fakeContext struct {
	site     *fakeSite
	cookies  []sessionstore.Cookie
	origins  []sessionstore.Origin
	pages    []*fakePage
	closed   bool
	closeErr error
}

func (c *fakeContext) NewPage() (Page, error) {
	p := &fakePage{site: c.site, url: BlankURL}
	c.pages = append(c.pages, p)
	return p, nil
}

func (c *fakeContext) Cookies() ([]sessionstore.Cookie, error) {
	return append([]sessionstore.Cookie(nil), c.cookies...), nil
}

func (c *fakeContext) StorageState() (*sessionstore.State, error) {
	return &sessionstore.State{
		Cookies: append([]sessionstore.Cookie{}, c.cookies...),
		Origins: append([]sessionstore.Origin{}, c.origins...),
	}, nil
}

func (c *fakeContext) Close() error {
	c.closed = true
	return c.closeErr
}

type fakePage struct {
	site     *fakeSite
	url      string
	closed   bool
	closeErr error
}

func (p *fakePage) Goto(url string, _ time.Duration) error {
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotos = append(s.gotos, url)
	if s.failing[url] {
		return fmt.Errorf("net::ERR_CONNECTION_REFUSED at %s", url)
	}
	if target, ok := s.redirects[url]; ok {
		url = target
	}
	p.url = url
	return nil
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Title() (string, error) {
	doc, err := parseHTML(p.html())
	if err != nil {
		return "", err
	}
	return textOf(findFirst(doc, byTag("title"))), nil
}

func (p *fakePage) html() string {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return p.site.pages[p.url]
}

func (p *fakePage) Content() (string, error) {
	if p.url == BlankURL {
		return "<html><head></head><body></body></html>", nil
	}
	return p.html(), nil
}

func (p *fakePage) lookup(selector string) (string, bool) {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	typ, ok := p.site.selectors[p.url][selector]
	return typ, ok
}

func (p *fakePage) WaitForSelector(selector string, _ time.Duration) error {
	if _, ok := p.lookup(selector); ok {
		return nil
	}
	return fmt.Errorf("timeout waiting for %s", selector)
}

func (p *fakePage) WaitForNetworkIdle(time.Duration) error {
	return errors.New("timeout 10000ms exceeded")
}

func (p *fakePage) Click(selector string) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	target, ok := p.site.clicks[p.url+"|"+selector]
	if !ok {
		return fmt.Errorf("element %s not clickable", selector)
	}
	p.url = target
	return nil
}

func (p *fakePage) Count(selector string) (int, error) {
	if _, ok := p.lookup(selector); ok {
		return 1, nil
	}
	return 0, nil
}

func (p *fakePage) GetAttribute(selector, name string) (string, error) {
	typ, _ := p.lookup(selector)
	if name == "type" {
		return typ, nil
	}
	return "", nil
}

func (p *fakePage) Fill(selector, value string) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.site.filled[selector] = value
	return nil
}

func (p *fakePage) SetChecked(selector string, checked bool) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.site.checked[selector] = checked
	return nil
}

func (p *fakePage) SelectOption(selector, value string) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.site.chosen[selector] = value
	return nil
}

func (p *fakePage) Close() error {
	p.closed = true
	return p.closeErr
}

type mapLoader map[string]*schema.Schema

func (l mapLoader) Load(contentType string) *schema.Schema { return l[contentType] }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		BaseURL:           testBase,
		LoginURL:          testBase + "/user/login",
		Display:           ":99",
		Sanctioned:        true,
		Keepalive:         config.KeepaliveSettings{Enabled: false, IntervalMinutes: 60, MaxFailures: 3},
		SessionFile:       t.TempDir() + "/session.json",
		NavigationTimeout: time.Second,
	}
}

type harness struct {
	m        *Manager
	site     *fakeSite
	launcher *fakeLauncher
	store    *sessionstore.FileStore
}

func newHarness(t *testing.T, schemas mapLoader) *harness {
	t.Helper()
	return newHarnessWithConfig(t, testConfig(t), schemas)
}

func newHarnessWithConfig(t *testing.T, cfg *config.Config, schemas mapLoader) *harness {
	t.Helper()
	site := newFakeSite()
	launcher := &fakeLauncher{site: site}
	store := sessionstore.NewFileStore(cfg.SessionFile)
	if schemas == nil {
		schemas = mapLoader{}
	}
	m := NewManager(Options{
		Config:   cfg,
		Launcher: launcher,
		Store:    store,
		Schemas:  schemas,
	})
	t.Cleanup(m.Shutdown)
	return &harness{m: m, site: site, launcher: launcher, store: store}
}

// live opens an interactive session so page operations have a target.
func (h *harness) live(t *testing.T) *fakePage {
	t.Helper()
	if _, err := h.m.CreateInteractiveContext(); err != nil {
		t.Fatalf("CreateInteractiveContext: %v", err)
	}
	return h.m.currentPage().(*fakePage)
}
