// Package browser defines the browser driver used by a tracking session.
package browser

import (
	"context"
	"time"
)

// DefaultArgs are passed to every launched Chromium.
var DefaultArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-accelerated-2d-canvas",
	"--no-first-run",
	"--no-zygote",
	"--disable-gpu",
}

// Size is a viewport size in CSS pixels.
type Size struct {
	Width  int
	Height int
}

// DefaultViewport matches a 14" laptop display.
var DefaultViewport = Size{Width: 1512, Height: 982}

// LaunchOptions configure one browser instance.
type LaunchOptions struct {
	Headless bool
	// SlowMo is applied only when Headless is false.
	SlowMo        time.Duration
	Args          []string
	Viewport      Size
	ActionTimeout time.Duration
}

// DefaultLaunchOptions returns headless defaults.
func DefaultLaunchOptions() LaunchOptions {
	return LaunchOptions{
		Headless:      true,
		SlowMo:        100 * time.Millisecond,
		Args:          DefaultArgs,
		Viewport:      DefaultViewport,
		ActionTimeout: 10 * time.Second,
	}
}

// Launcher starts browser instances. Each session launches its own.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is one running browser instance. Close terminates it and makes
// any blocked page call return.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab.
type Page interface {
	// Goto navigates and waits for network idle.
	Goto(url string, timeout time.Duration) error
	Reload(timeout time.Duration) error
	Title() (string, error)
	URL() string
	Content() (string, error)
	// Screenshot returns a PNG of the viewport.
	Screenshot() ([]byte, error)
	QueryAll(selector string) ([]Element, error)
	// Subscribe delivers network events for the rest of the page lifetime.
	// Events may arrive on any goroutine.
	Subscribe(sink NetworkSink)
}

// Element is a live DOM element.
type Element interface {
	// Property reads a DOM property such as type, tagName, name, id,
	// placeholder, value or textContent. Missing properties read as "".
	Property(name string) (string, error)
	Attribute(name string) (string, error)
	IsVisible() (bool, error)
	IsDisabled() (bool, error)
	Click() error
	TypeText(text string, delay time.Duration) error
	SelectOption(value string) error
	OptionValues() ([]string, error)
	RemoveAttribute(name string) error
	QueryAll(selector string) ([]Element, error)
	// LabelText returns the text of label[for=id] or the enclosing label.
	LabelText() (string, error)
}

// NetworkRequest is an outgoing request.
type NetworkRequest struct {
	ID     uint64
	Method string
	URL    string
}

// NetworkResponse is the response to the request with RequestID.
type NetworkResponse struct {
	RequestID uint64
	URL       string
	Status    int
}

// NetworkSink receives network events.
type NetworkSink interface {
	OnRequest(NetworkRequest)
	OnResponse(NetworkResponse)
}
