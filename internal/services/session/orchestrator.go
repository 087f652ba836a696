// Package session runs one end-to-end tracking test against a page.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/browser"
	"github.com/testforge/trackingtester/internal/config"
	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/services/fields"
	"github.com/testforge/trackingtester/internal/services/forms"
	"github.com/testforge/trackingtester/internal/services/navigation"
	"github.com/testforge/trackingtester/internal/services/submit"
	"github.com/testforge/trackingtester/internal/services/tracking"
)

// Timings are the fixed waits of a session.
type Timings struct {
	Navigation     time.Duration
	FieldSettle    time.Duration
	KeystrokeDelay time.Duration
	SubmitSettle   time.Duration
	ConfirmSettle  time.Duration
	CaptchaWait    time.Duration
}

// DefaultTimings mirror the configuration defaults.
func DefaultTimings() Timings {
	return Timings{
		Navigation:     30 * time.Second,
		FieldSettle:    300 * time.Millisecond,
		KeystrokeDelay: 50 * time.Millisecond,
		SubmitSettle:   3 * time.Second,
		ConfirmSettle:  2 * time.Second,
		CaptchaWait:    5 * time.Second,
	}
}

// Options configure an Orchestrator.
type Options struct {
	Timings          Timings
	Launch           browser.LaunchOptions
	KeepUnrecognized bool
	// Fallback is used when a page has no forms and the test asks for AI.
	Fallback *navigation.Fallback
	Metrics  *observability.Metrics
}

// OptionsFromConfig maps tester settings to orchestrator options.
func OptionsFromConfig(cfg config.TesterConfig) Options {
	launch := browser.DefaultLaunchOptions()
	launch.SlowMo = cfg.SlowMo
	launch.ActionTimeout = cfg.ActionTimeout
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		launch.Viewport = browser.Size{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight}
	}
	return Options{
		Timings: Timings{
			Navigation:     cfg.NavigationTimeout,
			FieldSettle:    cfg.FieldSettle,
			KeystrokeDelay: cfg.KeystrokeDelay,
			SubmitSettle:   cfg.SubmitSettle,
			ConfirmSettle:  cfg.ConfirmSettle,
			CaptchaWait:    cfg.CaptchaWait,
		},
		Launch:           launch,
		KeepUnrecognized: cfg.KeepUnrecognized,
	}
}

// Orchestrator drives sessions. It holds no per-session state and may run
// sessions concurrently.
type Orchestrator struct {
	launcher browser.Launcher
	opts     Options
	fields   *fields.Classifier
	logger   *zap.Logger
}

// New creates an orchestrator.
func New(launcher browser.Launcher, opts Options, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		launcher: launcher,
		opts:     opts,
		fields:   fields.NewClassifier(fields.DefaultRules),
		logger:   logger,
	}
}

// RunOption adjusts a single run.
type RunOption func(*run)

// WithRunID tags log entries with id.
func WithRunID(id string) RunOption {
	return func(r *run) { r.id = id }
}

// WithActionHook receives every action line as it is logged. Hooks from
// several options run in order.
func WithActionHook(fn func(string)) RunOption {
	return func(r *run) {
		prev := r.onAction
		if prev == nil {
			r.onAction = fn
			return
		}
		r.onAction = func(line string) {
			prev(line)
			fn(line)
		}
	}
}

// ActionHook returns the hook set by opts, or nil.
func ActionHook(opts ...RunOption) func(string) {
	var r run
	for _, opt := range opts {
		opt(&r)
	}
	return r.onAction
}

// run is the state owned by one session.
type run struct {
	id       string
	cfg      domain.TestConfiguration
	state    State
	page     browser.Page
	recorder *Recorder
	actions  []string
	onAction func(string)
	logger   *zap.Logger
}

func (r *run) log(lines ...string) {
	for _, l := range lines {
		r.actions = append(r.actions, l)
		if r.onAction != nil {
			r.onAction(l)
		}
	}
}

func (r *run) enter(s State) {
	r.logger.Debug("session state", zap.String("from", r.state.String()), zap.String("state", s.String()))
	r.state = s
}

// Run executes one session in a browser of its own. The browser is closed
// on every exit path, including cancellation of ctx, which also unblocks
// any driver call in flight. Fatal errors are returned as *domain.SessionError.
func (o *Orchestrator) Run(ctx context.Context, cfg domain.TestConfiguration, options ...RunOption) (result *domain.SessionResult, err error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &run{id: uuid.NewString(), cfg: cfg, state: StateStart}
	for _, opt := range options {
		opt(r)
	}
	r.logger = o.logger.With(zap.String("run_id", r.id), zap.String("url", cfg.URL))

	defer func() {
		if p := recover(); p != nil {
			at := r.state
			r.enter(StateErrored)
			result = nil
			err = &domain.SessionError{
				Message: fmt.Sprint(p),
				Stack:   string(debug.Stack()),
				State:   at.String(),
			}
			r.logger.Error("session panicked", zap.Any("panic", p))
		}
	}()

	launch := o.opts.Launch
	launch.Headless = cfg.Headless
	b, err := o.launcher.Launch(ctx, launch)
	if err != nil {
		return nil, r.fail(ctx, fmt.Errorf("launching browser: %w", err))
	}
	defer func() { _ = b.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = b.Close() })
	defer stop()

	page, err := b.NewPage(ctx)
	if err != nil {
		return nil, r.fail(ctx, fmt.Errorf("opening page: %w", err))
	}
	r.page = page
	r.recorder = NewRecorder(tracking.New(o.opts.KeepUnrecognized), o.opts.Metrics)
	page.Subscribe(r.recorder)

	result, err = o.drive(ctx, r)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return result, nil
}

func (r *run) fail(ctx context.Context, err error) error {
	at := r.state
	r.enter(StateErrored)
	if ctxErr := ctx.Err(); ctxErr != nil {
		r.logger.Warn("session cancelled", zap.Error(ctxErr))
		return ctxErr
	}
	r.logger.Error("session failed", zap.Error(err))

	msg := err.Error()
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
		if appErr.Cause != nil {
			msg += ": " + appErr.Cause.Error()
		}
	}
	return &domain.SessionError{Message: msg, State: at.String(), Err: err}
}

func (o *Orchestrator) drive(ctx context.Context, r *run) (*domain.SessionResult, error) {
	t := o.opts.Timings
	page := r.page
	result := domain.NewSessionResult()

	if err := page.Goto(r.cfg.URL, t.Navigation); err != nil {
		return nil, domain.ErrNavigation(r.cfg.URL, err)
	}
	r.enter(StateNavigated)

	title, _ := page.Title()
	r.log("📄 Loaded: "+title, "🌐 URL: "+page.URL())

	if IsChallenge(title, page.URL()) {
		r.enter(StateCaptchaRetry)
		r.log(fmt.Sprintf("🤖 Captcha or bot challenge detected, retrying in %s", seconds(t.CaptchaWait)))
		r.logger.Warn("bot challenge detected", zap.String("title", title))
		if err := browser.Pause(ctx, t.CaptchaWait); err != nil {
			return nil, err
		}
		if err := page.Reload(t.Navigation); err != nil {
			return nil, domain.ErrNavigation(r.cfg.URL, err)
		}
		title, _ = page.Title()
		r.log("🤖 After retry: " + title)
	}

	before, err := screenshot(page)
	if err != nil {
		return nil, fmt.Errorf("screenshot before: %w", err)
	}
	result.Screenshots = append(result.Screenshots, before)

	discovered, err := forms.Discover(page)
	if err != nil {
		return nil, err
	}
	r.enter(StateFormsDiscovered)
	r.log(forms.CountLine(len(discovered)))

	if len(discovered) == 0 {
		if discovered, err = o.fallback(ctx, r); err != nil {
			return nil, err
		}
	}

	preFillURL := page.URL()
	o.process(ctx, r, discovered)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := browser.Pause(ctx, t.ConfirmSettle); err != nil {
		return nil, err
	}
	r.enter(StateConfirmed)

	thankYou := o.confirm(r, preFillURL)
	result.ThankYouPage = thankYou
	if thankYou.Detected {
		r.log("🎉 Thank-you page detected")
	} else {
		r.log("ℹ No thank-you page detected")
	}
	o.opts.Metrics.RecordThankYou(thankYou.Detected)

	after, err := screenshot(page)
	if err != nil {
		return nil, fmt.Errorf("screenshot after: %w", err)
	}
	result.Screenshots = append(result.Screenshots, after)

	events, requests := r.recorder.Snapshot()
	result.Events = events
	result.Requests = requests
	result.DetectedTools = domain.DetectTools(events)
	result.Actions = append(result.Actions, r.actions...)
	r.enter(StateDone)

	r.logger.Info("session finished",
		zap.Int("events", len(result.Events)),
		zap.Int("requests", len(result.Requests)),
		zap.Bool("thank_you", thankYou.Detected),
	)
	return result, nil
}

// fallback asks the language model for a contact page and rediscovers forms
// there. Only cancellation is returned as an error.
func (o *Orchestrator) fallback(ctx context.Context, r *run) ([]forms.FormDescriptor, error) {
	nav := o.opts.Fallback
	if !r.cfg.UseAI || !nav.Enabled() {
		r.log("AI navigation disabled")
		o.opts.Metrics.RecordAIFallback("disabled")
		return nil, nil
	}

	r.enter(StateAIFallback)
	r.log("🤖 Asking AI for a contact page link")

	html, err := r.page.Content()
	if err != nil {
		o.aiFailed(r, domain.ErrAIFallback(err))
		return nil, nil
	}
	link, err := nav.Choose(ctx, r.page.URL(), html)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.aiFailed(r, err)
		return nil, nil
	}
	if link == nil {
		r.log("🤖 AI found no suitable link")
		o.opts.Metrics.RecordAIFallback("none")
		return nil, nil
	}

	r.log(fmt.Sprintf("🤖 AI selected: %q → %s", link.Text, link.Href))
	o.opts.Metrics.RecordAIFallback("selected")

	if err := r.page.Goto(link.Href, o.opts.Timings.Navigation); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.aiFailed(r, domain.ErrAIFallback(err))
		return nil, nil
	}
	title, _ := r.page.Title()
	r.log("📄 Loaded: "+title, "🌐 URL: "+r.page.URL())

	discovered, err := forms.Discover(r.page)
	if err != nil {
		return nil, err
	}
	r.enter(StateFormsDiscovered)
	r.log(forms.CountLine(len(discovered)))
	return discovered, nil
}

func (o *Orchestrator) aiFailed(r *run, err error) {
	r.log("✗ AI navigation failed: " + causeText(err))
	r.logger.Warn("ai navigation failed", zap.Error(err))
	o.opts.Metrics.RecordAIFallback("failed")
}

// process fills and submits the first eligible form. The others are only
// described.
func (o *Orchestrator) process(ctx context.Context, r *run, discovered []forms.FormDescriptor) {
	t := o.opts.Timings
	done := false

	for _, form := range discovered {
		r.log(form.Describe())
		if done {
			continue
		}
		if ok, reason := forms.Eligible(form, r.cfg.SkipNewsletters); !ok {
			r.log(forms.SkipLine(form, reason))
			continue
		}
		done = true

		filler := forms.NewFiller(o.fields, r.logger)
		r.log(filler.Fill(ctx, form, forms.FillOptions{
			Mode:           r.cfg.Mode,
			Overrides:      r.cfg.Fields,
			KeystrokeDelay: t.KeystrokeDelay,
			FieldSettle:    t.FieldSettle,
		})...)
		r.enter(StateFilled)
		if ctx.Err() != nil {
			return
		}

		lines := submit.New(r.logger, t.SubmitSettle).Run(ctx, form, r.cfg.SubmitSelector)
		r.log(lines...)
		r.enter(StateSubmitted)
		o.opts.Metrics.RecordSubmission(submissionOutcome(lines))
	}
}

func (o *Orchestrator) confirm(r *run, preFillURL string) domain.ThankYouResult {
	title, _ := r.page.Title()
	html, err := r.page.Content()
	if err != nil {
		r.logger.Warn("reading page content", zap.Error(err))
	}
	return DetectThankYou(preFillURL, r.page.URL(), title, VisibleText(html))
}

func submissionOutcome(lines []string) string {
	for _, l := range lines {
		switch {
		case strings.Contains(l, "submitted successfully"):
			return "submitted"
		case strings.Contains(l, "No submit button found"):
			return "not_found"
		case strings.Contains(l, "not visible"):
			return "not_visible"
		}
	}
	return "failed"
}

func screenshot(page browser.Page) (string, error) {
	png, err := page.Screenshot()
	if err != nil {
		return "", err
	}
	return domain.ScreenshotPrefix + base64.StdEncoding.EncodeToString(png), nil
}

func causeText(err error) string {
	var appErr *domain.AppError
	if errors.As(err, &appErr) && appErr.Cause != nil {
		return appErr.Cause.Error()
	}
	return err.Error()
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%gs", d.Seconds())
}
