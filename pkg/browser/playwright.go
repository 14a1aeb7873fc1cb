package browser

import (
	"fmt"
	"io"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/pubino/bsp/pkg/sessionstore"
)

// PlaywrightLauncher launches Chromium through playwright-go.
type PlaywrightLauncher struct {
	// SkipInstall disables the driver and browser download check.
	SkipInstall bool
}

// Launch installs (if needed) and starts the playwright driver, then launches
// Chromium rendering to opts.Display.
func (l PlaywrightLauncher) Launch(opts LaunchOptions) (Engine, error) {
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if !l.SkipInstall {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     append([]string{"--disable-dev-shm-usage", "--no-first-run"}, opts.Args...),
	}
	if opts.Display != "" {
		launchOpts.Env = map[string]string{"DISPLAY": opts.Display}
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &pwEngine{pw: pw, browser: b}, nil
}

type pwEngine struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

func (e *pwEngine) NewContext(opts ContextOptions) (BrowserContext, error) {
	ctxOpts := playwright.BrowserNewContextOptions{}
	if opts.Viewport != nil {
		ctxOpts.Viewport = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
	}
	if opts.StorageState != nil {
		ctxOpts.StorageState = toPlaywrightState(opts.StorageState)
	}

	c, err := e.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	return &pwContext{ctx: c}, nil
}

// Close closes the browser, then stops the driver.
func (e *pwEngine) Close() error {
	berr := e.browser.Close()
	perr := e.pw.Stop()
	if berr != nil {
		return fmt.Errorf("failed to close browser: %w", berr)
	}
	if perr != nil {
		return fmt.Errorf("failed to stop playwright: %w", perr)
	}
	return nil
}

type pwContext struct {
	ctx playwright.BrowserContext
}

func (c *pwContext) NewPage() (Page, error) {
	p, err := c.ctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &pwPage{page: p}, nil
}

func (c *pwContext) Cookies() ([]sessionstore.Cookie, error) {
	pwCookies, err := c.ctx.Cookies()
	if err != nil {
		return nil, fmt.Errorf("get cookies failed: %w", err)
	}
	return fromPlaywrightCookies(pwCookies), nil
}

func (c *pwContext) StorageState() (*sessionstore.State, error) {
	st, err := c.ctx.StorageState()
	if err != nil {
		return nil, fmt.Errorf("storage state failed: %w", err)
	}

	state := &sessionstore.State{
		Cookies: fromPlaywrightCookies(st.Cookies),
		Origins: make([]sessionstore.Origin, 0, len(st.Origins)),
	}
	for _, o := range st.Origins {
		origin := sessionstore.Origin{Origin: o.Origin, LocalStorage: make([]sessionstore.NameValue, 0, len(o.LocalStorage))}
		for _, kv := range o.LocalStorage {
			origin.LocalStorage = append(origin.LocalStorage, sessionstore.NameValue{Name: kv.Name, Value: kv.Value})
		}
		state.Origins = append(state.Origins, origin)
	}
	return state, nil
}

func (c *pwContext) Close() error {
	return c.ctx.Close()
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Goto(url string, timeout time.Duration) error {
	opts := playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateDomcontentloaded}
	if timeout > 0 {
		opts.Timeout = playwright.Float(ms(timeout))
	}
	if _, err := p.page.Goto(url, opts); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Title() (string, error) {
	return p.page.Title()
}

func (p *pwPage) Content() (string, error) {
	return p.page.Content()
}

func (p *pwPage) WaitForSelector(selector string, timeout time.Duration) error {
	opts := playwright.PageWaitForSelectorOptions{State: playwright.WaitForSelectorStateAttached}
	if timeout > 0 {
		opts.Timeout = playwright.Float(ms(timeout))
	}
	if _, err := p.page.WaitForSelector(selector, opts); err != nil {
		return fmt.Errorf("wait failed: %w", err)
	}
	return nil
}

func (p *pwPage) WaitForNetworkIdle(timeout time.Duration) error {
	opts := playwright.PageWaitForLoadStateOptions{State: playwright.LoadStateNetworkidle}
	if timeout > 0 {
		opts.Timeout = playwright.Float(ms(timeout))
	}
	return p.page.WaitForLoadState(opts)
}

func (p *pwPage) Click(selector string) error {
	if err := p.page.Locator(selector).First().Click(); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (p *pwPage) Count(selector string) (int, error) {
	return p.page.Locator(selector).Count()
}

func (p *pwPage) GetAttribute(selector, name string) (string, error) {
	return p.page.Locator(selector).First().GetAttribute(name)
}

func (p *pwPage) Fill(selector, value string) error {
	if err := p.page.Locator(selector).First().Fill(value); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

func (p *pwPage) SetChecked(selector string, checked bool) error {
	if err := p.page.Locator(selector).First().SetChecked(checked); err != nil {
		return fmt.Errorf("set checked failed: %w", err)
	}
	return nil
}

func (p *pwPage) SelectOption(selector, value string) error {
	_, err := p.page.Locator(selector).First().SelectOption(playwright.SelectOptionValues{Values: &[]string{value}})
	if err != nil {
		return fmt.Errorf("select failed: %w", err)
	}
	return nil
}

func (p *pwPage) Close() error {
	return p.page.Close()
}

func ms(d time.Duration) float64 {
	return float64(d.Milliseconds())
}

func fromPlaywrightCookies(in []playwright.Cookie) []sessionstore.Cookie {
	out := make([]sessionstore.Cookie, len(in))
	for i, c := range in {
		sameSite := ""
		if c.SameSite != nil {
			sameSite = string(*c.SameSite)
		}
		out[i] = sessionstore.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
			SameSite: sameSite,
		}
	}
	return out
}

func toPlaywrightState(st *sessionstore.State) *playwright.OptionalStorageState {
	out := &playwright.OptionalStorageState{
		Cookies: make([]playwright.OptionalCookie, 0, len(st.Cookies)),
		Origins: make([]playwright.Origin, 0, len(st.Origins)),
	}
	for _, c := range st.Cookies {
		pc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			Expires:  playwright.Float(c.Expires),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		switch c.SameSite {
		case "Strict":
			pc.SameSite = playwright.SameSiteAttributeStrict
		case "None":
			pc.SameSite = playwright.SameSiteAttributeNone
		case "Lax":
			pc.SameSite = playwright.SameSiteAttributeLax
		}
		out.Cookies = append(out.Cookies, pc)
	}
	for _, o := range st.Origins {
		origin := playwright.Origin{Origin: o.Origin, LocalStorage: make([]playwright.NameValue, 0, len(o.LocalStorage))}
		for _, kv := range o.LocalStorage {
			origin.LocalStorage = append(origin.LocalStorage, playwright.NameValue{Name: kv.Name, Value: kv.Value})
		}
		out.Origins = append(out.Origins, origin)
	}
	return out
}
