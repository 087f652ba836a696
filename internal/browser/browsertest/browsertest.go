// Package browsertest provides an in-memory browser driver backed by parsed
// HTML. Behaviour is declared on elements with data attributes:
//
//	data-navigate="https://site.test/thanks"   clicking navigates
//	data-fire="https://tracker/collect?..."    clicking fires a request (repeatable, space separated)
//	data-click-error="message"                 clicking fails
//	data-type-error="message"                  typing fails
//	data-stay-disabled                         removing disabled has no effect on IsDisabled
//	data-reveal="#company"                     clicking removes hidden from the matched elements
//	data-conceal="#phone"                      clicking sets hidden on the matched elements
//
// An element is invisible when it or an ancestor has the hidden attribute or
// an inline style with display:none or visibility:hidden.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/testforge/trackingtester/internal/browser"
)

// Request is a network call fired by a route or an element.
type Request struct {
	Method string
	URL    string
	Status int
}

// Route is the content served for one URL.
type Route struct {
	HTML     string
	Requests []Request
	// Err fails navigation to this route.
	Err error
	// Hang blocks navigation until the browser is closed.
	Hang bool
	// AfterReload replaces the route once the page is reloaded.
	AfterReload *Route
}

// Launcher hands out a fresh Browser per Launch.
type Launcher struct {
	Routes map[string]*Route
	Err    error

	mu       sync.Mutex
	browsers []*Browser
	opts     []browser.LaunchOptions
}

// NewLauncher serves routes keyed by absolute URL.
func NewLauncher(routes map[string]*Route) *Launcher {
	return &Launcher{Routes: routes}
}

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := &Browser{routes: l.Routes, closed: make(chan struct{})}
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.opts = append(l.opts, opts)
	l.mu.Unlock()
	return b, nil
}

// Browsers returns every browser launched so far.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

// LaunchOptions returns the options of every launch.
func (l *Launcher) LaunchOptions() []browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.LaunchOptions(nil), l.opts...)
}

// Browser is a fake browser instance.
type Browser struct {
	routes map[string]*Route

	mu        sync.Mutex
	pages     []*Page
	closed    chan struct{}
	closeOnce sync.Once
}

// NewBrowser returns a browser serving routes without a launcher.
func NewBrowser(routes map[string]*Route) *Browser {
	return &Browser{routes: routes, closed: make(chan struct{})}
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if b.IsClosed() {
		return nil, errors.New("browser has been closed")
	}
	p := &Page{browser: b, url: "about:blank", clicks: make(map[*html.Node]int), reloaded: make(map[string]bool)}
	p.doc, _ = goquery.NewDocumentFromReader(strings.NewReader("<html><head></head><body></body></html>"))
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

func (b *Browser) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// IsClosed reports whether Close was called.
func (b *Browser) IsClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// Pages returns the pages opened on this browser.
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// Page is a fake tab.
type Page struct {
	browser *Browser

	mu       sync.Mutex
	url      string
	route    *Route
	doc      *goquery.Document
	sinks    []browser.NetworkSink
	nextID   uint64
	clicks   map[*html.Node]int
	clickLog []string
	reloaded map[string]bool
	visited  []string
}

func (p *Page) lookup(url string) (*Route, error) {
	r, ok := p.browser.routes[url]
	if !ok {
		return nil, fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", url)
	}
	if p.reloaded[url] && r.AfterReload != nil {
		r = r.AfterReload
	}
	return r, nil
}

func (p *Page) load(url string, r *Route) error {
	if r.Hang {
		<-p.browser.closed
		return errors.New("Target page, context or browser has been closed")
	}
	if r.Err != nil {
		return r.Err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(r.HTML))
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.route = r
	p.doc = doc
	p.visited = append(p.visited, url)
	p.mu.Unlock()

	p.fire(Request{Method: "GET", URL: url, Status: 200})
	for _, req := range r.Requests {
		p.fire(req)
	}
	return nil
}

func (p *Page) fire(req Request) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	sinks := append([]browser.NetworkSink(nil), p.sinks...)
	p.mu.Unlock()

	method := req.Method
	if method == "" {
		method = "GET"
	}
	status := req.Status
	if status == 0 {
		status = 200
	}
	for _, s := range sinks {
		s.OnRequest(browser.NetworkRequest{ID: id, Method: method, URL: req.URL})
		s.OnResponse(browser.NetworkResponse{RequestID: id, URL: req.URL, Status: status})
	}
}

// Fire delivers a network event as if the page made the request.
func (p *Page) Fire(req Request) {
	p.fire(req)
}

func (p *Page) Goto(url string, timeout time.Duration) error {
	if p.browser.IsClosed() {
		return errors.New("Target page, context or browser has been closed")
	}
	r, err := p.lookup(url)
	if err != nil {
		return err
	}
	return p.load(url, r)
}

func (p *Page) Reload(timeout time.Duration) error {
	p.mu.Lock()
	url := p.url
	p.reloaded[url] = true
	p.mu.Unlock()
	return p.Goto(url, timeout)
}

func (p *Page) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.TrimSpace(p.doc.Find("title").First().Text()), nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return goquery.OuterHtml(p.doc.Selection)
}

// Screenshot returns a fixed PNG signature followed by the current URL.
func (p *Page) Screenshot() ([]byte, error) {
	if p.browser.IsClosed() {
		return nil, errors.New("Target page, context or browser has been closed")
	}
	return append([]byte("\x89PNG\r\n\x1a\n"), p.URL()...), nil
}

func (p *Page) QueryAll(selector string) ([]browser.Element, error) {
	m, err := compile(selector)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	sel := p.doc.FindMatcher(m)
	p.mu.Unlock()
	return p.wrap(sel), nil
}

// compile rejects selectors a real browser would reject.
func compile(selector string) (cascadia.Selector, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%q is not a valid selector: %w", selector, err)
	}
	return m, nil
}

func (p *Page) Subscribe(sink browser.NetworkSink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, sink)
	p.mu.Unlock()
}

// Visited lists URLs loaded by this page in order.
func (p *Page) Visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visited...)
}

// Clicks counts clicks on elements matching selector.
func (p *Page) Clicks(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		n += p.clicks[s.Get(0)]
	})
	return n
}

// ClickCount counts clicks on elements whose id, or name when there is no
// id, equals key. Unlike Clicks it survives navigation.
func (p *Page) ClickCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.clickLog {
		if k == key {
			n++
		}
	}
	return n
}

// Value returns the value attribute of the first element matching selector.
func (p *Page) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, _ := p.doc.Find(selector).First().Attr("value")
	return v
}

// Checked reports whether the first element matching selector is checked.
func (p *Page) Checked(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.doc.Find(selector).First().Attr("checked")
	return ok
}

// SelectedOption returns the value of the selected option of a select.
func (p *Page) SelectedOption(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, _ := p.doc.Find(selector).First().Find("option[selected]").First().Attr("value")
	return v
}

func (p *Page) wrap(sel *goquery.Selection) []browser.Element {
	out := make([]browser.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{page: p, sel: s})
	})
	return out
}

// Element is a fake DOM element.
type Element struct {
	page *Page
	sel  *goquery.Selection
}

func (e *Element) node() *html.Node { return e.sel.Get(0) }

func (e *Element) key() string {
	if id := e.attr("id"); id != "" {
		return id
	}
	if name := e.attr("name"); name != "" {
		return name
	}
	return e.tag()
}

func (e *Element) tag() string { return goquery.NodeName(e.sel) }

func (e *Element) attr(name string) string {
	v, _ := e.sel.Attr(name)
	return v
}

func (e *Element) hasAttr(name string) bool {
	_, ok := e.sel.Attr(name)
	return ok
}

// domType mirrors HTMLElement.type.
func (e *Element) domType() string {
	t := strings.ToLower(e.attr("type"))
	switch e.tag() {
	case "input":
		if t == "" {
			return "text"
		}
		return t
	case "textarea":
		return "textarea"
	case "select":
		if e.hasAttr("multiple") {
			return "select-multiple"
		}
		return "select-one"
	case "button":
		if t == "" {
			return "submit"
		}
		return t
	}
	return ""
}

func (e *Element) Property(name string) (string, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	switch name {
	case "type":
		return e.domType(), nil
	case "tagName":
		return strings.ToUpper(e.tag()), nil
	case "textContent":
		return e.sel.Text(), nil
	case "className":
		return e.attr("class"), nil
	case "value":
		if e.tag() == "textarea" && !e.hasAttr("value") {
			return e.sel.Text(), nil
		}
		return e.attr("value"), nil
	default:
		return e.attr(name), nil
	}
}

func (e *Element) Attribute(name string) (string, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return e.attr(name), nil
}

func (e *Element) visible() bool {
	if e.tag() == "input" && strings.EqualFold(e.attr("type"), "hidden") {
		return false
	}
	for s := e.sel; s.Length() > 0; s = s.Parent() {
		if _, ok := s.Attr("hidden"); ok {
			return false
		}
		style, _ := s.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func (e *Element) IsVisible() (bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return e.visible(), nil
}

func (e *Element) IsDisabled() (bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return e.hasAttr("disabled") || e.hasAttr("data-stay-disabled"), nil
}

func (e *Element) Click() error {
	if e.page.browser.IsClosed() {
		return errors.New("Target page, context or browser has been closed")
	}
	e.page.mu.Lock()
	if msg := e.attr("data-click-error"); msg != "" {
		e.page.mu.Unlock()
		return errors.New(msg)
	}
	if e.hasAttr("disabled") {
		e.page.mu.Unlock()
		return errors.New("element is not enabled")
	}
	if !e.visible() {
		e.page.mu.Unlock()
		return errors.New("element is not visible")
	}
	e.page.clicks[e.node()]++
	e.page.clickLog = append(e.page.clickLog, e.key())
	switch e.domType() {
	case "checkbox", "radio":
		if e.hasAttr("checked") {
			e.sel.RemoveAttr("checked")
		} else {
			e.sel.SetAttr("checked", "")
		}
	}
	if sel := e.attr("data-reveal"); sel != "" {
		e.page.doc.Find(sel).RemoveAttr("hidden")
	}
	if sel := e.attr("data-conceal"); sel != "" {
		e.page.doc.Find(sel).SetAttr("hidden", "")
	}
	fires := strings.Fields(e.attr("data-fire"))
	navigate := e.attr("data-navigate")
	e.page.mu.Unlock()

	for _, u := range fires {
		e.page.fire(Request{Method: "GET", URL: u, Status: 200})
	}
	if navigate != "" {
		return e.page.Goto(navigate, 0)
	}
	return nil
}

func (e *Element) TypeText(text string, delay time.Duration) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if msg := e.attr("data-type-error"); msg != "" {
		return errors.New(msg)
	}
	if e.hasAttr("disabled") {
		return errors.New("element is not enabled")
	}
	e.sel.SetAttr("value", e.attr("value")+text)
	return nil
}

func (e *Element) SelectOption(value string) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	found := false
	e.sel.Find("option").Each(func(_ int, o *goquery.Selection) {
		v, ok := o.Attr("value")
		if !ok {
			v = strings.TrimSpace(o.Text())
		}
		if v == value && !found {
			o.SetAttr("selected", "")
			found = true
			return
		}
		o.RemoveAttr("selected")
	})
	if !found {
		return fmt.Errorf("no option with value %q", value)
	}
	return nil
}

func (e *Element) OptionValues() ([]string, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	var out []string
	e.sel.Find("option").Each(func(_ int, o *goquery.Selection) {
		v, ok := o.Attr("value")
		if !ok {
			v = strings.TrimSpace(o.Text())
		}
		out = append(out, v)
	})
	return out, nil
}

func (e *Element) RemoveAttribute(name string) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	e.sel.RemoveAttr(name)
	return nil
}

func (e *Element) QueryAll(selector string) ([]browser.Element, error) {
	m, err := compile(selector)
	if err != nil {
		return nil, err
	}
	e.page.mu.Lock()
	sel := e.sel.FindMatcher(m)
	e.page.mu.Unlock()
	return e.page.wrap(sel), nil
}

func (e *Element) LabelText() (string, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if id := e.attr("id"); id != "" {
		var text string
		e.page.doc.Find("label").EachWithBreak(func(_ int, l *goquery.Selection) bool {
			if f, _ := l.Attr("for"); f == id {
				text = l.Text()
				return false
			}
			return true
		})
		if text != "" {
			return strings.TrimSpace(text), nil
		}
	}
	if l := e.sel.Closest("label"); l.Length() > 0 {
		return strings.TrimSpace(l.Text()), nil
	}
	return "", nil
}

var (
	_ browser.Launcher = (*Launcher)(nil)
	_ browser.Browser  = (*Browser)(nil)
	_ browser.Page     = (*Page)(nil)
	_ browser.Element  = (*Element)(nil)
)
