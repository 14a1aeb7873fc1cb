package browser

import (
	"time"

	"github.com/pubino/bsp/pkg/form"
	"github.com/pubino/bsp/pkg/sessionstore"
)

// Launcher starts the automation engine.
type Launcher interface {
	Launch(opts LaunchOptions) (Engine, error)
}

// Engine is a running browser process.
type Engine interface {
	NewContext(opts ContextOptions) (BrowserContext, error)
	Close() error
}

// BrowserContext is an isolated cookie and storage profile.
type BrowserContext interface {
	NewPage() (Page, error)
	Cookies() ([]sessionstore.Cookie, error)
	StorageState() (*sessionstore.State, error)
	Close() error
}

// Page is a single navigable document. Selector actions apply to the first
// matching element.
type Page interface {
	form.Page

	Goto(url string, timeout time.Duration) error
	URL() string
	Title() (string, error)
	// Content returns the serialized DOM of the current document.
	Content() (string, error)
	WaitForSelector(selector string, timeout time.Duration) error
	WaitForNetworkIdle(timeout time.Duration) error
	Click(selector string) error
	Close() error
}

// LaunchOptions configures the browser process.
type LaunchOptions struct {
	Headless bool
	// Display is the X display the headful browser renders to.
	Display string
	Args    []string
}

// ContextOptions configures a new browsing context.
type ContextOptions struct {
	// StorageState seeds cookies and local storage. Nil starts empty.
	StorageState *sessionstore.State
	Viewport     *Viewport
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Default values
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800

	BlankURL = "about:blank"

	indicatorTimeout = 2 * time.Second
	formTimeout      = 10 * time.Second
	settleTimeout    = 10 * time.Second
)
