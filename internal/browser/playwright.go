package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// PlaywrightLauncher launches Chromium through a shared playwright driver.
type PlaywrightLauncher struct {
	logger *zap.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywrightLauncher creates a launcher. The driver starts on first use.
func NewPlaywrightLauncher(logger *zap.Logger) *PlaywrightLauncher {
	return &PlaywrightLauncher{logger: logger}
}

func (l *PlaywrightLauncher) driver() (*playwright.Playwright, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw != nil {
		return l.pw, nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}
	l.pw = pw
	return pw, nil
}

// Launch starts a new Chromium instance with its own context.
func (l *PlaywrightLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := l.driver()
	if err != nil {
		return nil, err
	}

	args := opts.Args
	if args == nil {
		args = DefaultArgs
	}
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     args,
	}
	if !opts.Headless && opts.SlowMo > 0 {
		launchOpts.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	viewport := opts.Viewport
	if viewport.Width == 0 || viewport.Height == 0 {
		viewport = DefaultViewport
	}
	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  viewport.Width,
			Height: viewport.Height,
		},
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("creating browser context: %w", err)
	}

	actionTimeout := opts.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = 10 * time.Second
	}
	l.logger.Debug("browser launched",
		zap.Bool("headless", opts.Headless),
		zap.Int("viewport_width", viewport.Width),
		zap.Int("viewport_height", viewport.Height),
	)
	return &pwBrowser{browser: b, context: bctx, actionTimeout: actionTimeout, logger: l.logger}, nil
}

// Close stops the playwright driver.
func (l *PlaywrightLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	return err
}

type pwBrowser struct {
	browser       playwright.Browser
	context       playwright.BrowserContext
	actionTimeout time.Duration
	logger        *zap.Logger
	closeOnce     sync.Once
	closeErr      error
}

func (b *pwBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}
	return &pwPage{page: p, actionTimeout: b.actionTimeout, requestIDs: make(map[playwright.Request]uint64)}, nil
}

func (b *pwBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.context.Close()
		b.closeErr = b.browser.Close()
		b.logger.Debug("browser closed")
	})
	return b.closeErr
}

type pwPage struct {
	page          playwright.Page
	actionTimeout time.Duration

	nextID     atomic.Uint64
	mu         sync.Mutex
	requestIDs map[playwright.Request]uint64
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *pwPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   ms(timeout),
	})
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (p *pwPage) Reload(timeout time.Duration) error {
	_, err := p.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   ms(timeout),
	})
	if err != nil {
		return fmt.Errorf("reloading: %w", err)
	}
	return nil
}

func (p *pwPage) Title() (string, error) { return p.page.Title() }

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Content() (string, error) { return p.page.Content() }

func (p *pwPage) Screenshot() ([]byte, error) {
	return p.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
}

func (p *pwPage) QueryAll(selector string) ([]Element, error) {
	return wrapLocators(p.page.Locator(selector), p.actionTimeout)
}

func (p *pwPage) Subscribe(sink NetworkSink) {
	p.page.OnRequest(func(req playwright.Request) {
		id := p.nextID.Add(1)
		p.mu.Lock()
		p.requestIDs[req] = id
		p.mu.Unlock()
		sink.OnRequest(NetworkRequest{ID: id, Method: req.Method(), URL: req.URL()})
	})
	p.page.OnResponse(func(resp playwright.Response) {
		p.mu.Lock()
		id, ok := p.requestIDs[resp.Request()]
		delete(p.requestIDs, resp.Request())
		p.mu.Unlock()
		if !ok {
			id = 0
		}
		sink.OnResponse(NetworkResponse{RequestID: id, URL: resp.URL(), Status: resp.Status()})
	})
}

func wrapLocators(loc playwright.Locator, timeout time.Duration) ([]Element, error) {
	all, err := loc.All()
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(all))
	for _, l := range all {
		out = append(out, &pwElement{loc: l, timeout: timeout})
	}
	return out, nil
}

type pwElement struct {
	loc     playwright.Locator
	timeout time.Duration
}

const (
	propertyJS = `(el, name) => { const v = el[name]; return v == null ? "" : String(v); }`
	optionsJS  = `el => Array.from(el.options || []).map(o => o.value)`
	removeJS   = `(el, name) => el.removeAttribute(name)`
	labelJS    = `el => {
		let text = "";
		if (el.id) {
			const l = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (l) text = l.textContent || "";
		}
		if (!text) {
			const wrap = el.closest("label");
			if (wrap) text = wrap.textContent || "";
		}
		return text.trim();
	}`
)

func (e *pwElement) evalString(js string, arg interface{}) (string, error) {
	v, err := e.loc.Evaluate(js, arg, playwright.LocatorEvaluateOptions{Timeout: ms(e.timeout)})
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (e *pwElement) Property(name string) (string, error) {
	return e.evalString(propertyJS, name)
}

func (e *pwElement) Attribute(name string) (string, error) {
	return e.loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{Timeout: ms(e.timeout)})
}

func (e *pwElement) IsVisible() (bool, error) {
	return e.loc.IsVisible()
}

func (e *pwElement) IsDisabled() (bool, error) {
	return e.loc.IsDisabled(playwright.LocatorIsDisabledOptions{Timeout: ms(e.timeout)})
}

func (e *pwElement) Click() error {
	return e.loc.Click(playwright.LocatorClickOptions{Timeout: ms(e.timeout)})
}

func (e *pwElement) TypeText(text string, delay time.Duration) error {
	return e.loc.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay:   playwright.Float(float64(delay.Milliseconds())),
		Timeout: ms(e.timeout),
	})
}

func (e *pwElement) SelectOption(value string) error {
	_, err := e.loc.SelectOption(playwright.SelectOptionValues{Values: &[]string{value}},
		playwright.LocatorSelectOptionOptions{Timeout: ms(e.timeout)})
	return err
}

func (e *pwElement) OptionValues() ([]string, error) {
	v, err := e.loc.Evaluate(optionsJS, nil, playwright.LocatorEvaluateOptions{Timeout: ms(e.timeout)})
	if err != nil {
		return nil, err
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, errors.New("unexpected options result")
	}
	out := make([]string, 0, len(raw))
	for _, o := range raw {
		s, _ := o.(string)
		out = append(out, s)
	}
	return out, nil
}

func (e *pwElement) RemoveAttribute(name string) error {
	_, err := e.loc.Evaluate(removeJS, name, playwright.LocatorEvaluateOptions{Timeout: ms(e.timeout)})
	return err
}

func (e *pwElement) QueryAll(selector string) ([]Element, error) {
	return wrapLocators(e.loc.Locator(selector), e.timeout)
}

func (e *pwElement) LabelText() (string, error) {
	return e.evalString(labelJS, nil)
}
