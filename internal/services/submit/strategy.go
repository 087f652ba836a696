// Package submit locates and clicks the submit control of a form.
package submit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/browser"
	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/services/forms"
)

// Tier selectors, tried in order.
const (
	SelectorExplicit  = `button[type="submit"], input[type="submit"]`
	SelectorUntyped   = `button:not([type="button"]):not([type="reset"])`
	SelectorCandidate = `button, input[type="button"]`
	SelectorAnyButton = `button, input[type="submit"], input[type="button"]`
)

// IntentKeywords mark a button as a submit control by its text.
var IntentKeywords = []string{"submit", "send", "verzend", "verstuur", "aanvragen", "contact"}

// MaxDiagnostics bounds the buttons listed when no control is found.
const MaxDiagnostics = 3

// Strategy resolves and clicks submit controls.
type Strategy struct {
	logger *zap.Logger
	// Settle is waited after a successful click.
	Settle time.Duration
}

// New creates a strategy.
func New(logger *zap.Logger, settle time.Duration) *Strategy {
	return &Strategy{logger: logger, Settle: settle}
}

// Locate returns the submit control of form, or nil. An override selector
// other than the default is tried before the built-in tiers; a selector the
// page rejects is logged and skipped.
func (s *Strategy) Locate(form forms.FormDescriptor, override string) (browser.Element, error) {
	if override != "" && override != domain.DefaultSubmitSelector {
		el, err := first(form.Element, override)
		if err != nil {
			s.logger.Warn("submit selector rejected, using built-in selectors",
				zap.Int("form", form.Index),
				zap.String("selector", override),
				zap.Error(err),
			)
		} else if el != nil {
			return el, nil
		}
	}
	for _, sel := range []string{SelectorExplicit, SelectorUntyped} {
		if el, err := first(form.Element, sel); err != nil || el != nil {
			return el, err
		}
	}

	candidates, err := form.Element.QueryAll(SelectorCandidate)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if hasIntent(buttonText(c, "")) {
			return c, nil
		}
	}
	return nil, nil
}

func first(el browser.Element, selector string) (browser.Element, error) {
	found, err := el.QueryAll(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func hasIntent(text string) bool {
	t := strings.ToLower(text)
	for _, kw := range IntentKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// buttonText is the trimmed textContent, else value, else fallback.
func buttonText(el browser.Element, fallback string) string {
	if t, _ := el.Property("textContent"); strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	if v, _ := el.Property("value"); v != "" {
		return v
	}
	return fallback
}

// Submit clicks control. Invisible controls are logged and left alone.
// Disabled controls are enabled by removing the attribute, then clicked
// once.
func (s *Strategy) Submit(ctx context.Context, form forms.FormDescriptor, control browser.Element) []string {
	var actions []string
	text := buttonText(control, "Submit")

	visible, err := control.IsVisible()
	if err != nil {
		return append(actions, s.failed(form, err))
	}
	if !visible {
		return append(actions, fmt.Sprintf(`⚠ Submit button found but not visible: "%s"`, text))
	}

	disabled, err := control.IsDisabled()
	if err != nil {
		return append(actions, s.failed(form, err))
	}
	if disabled {
		if err := control.RemoveAttribute("disabled"); err != nil {
			return append(actions, s.failed(form, err))
		}
		actions = append(actions, fmt.Sprintf(`⚙ Enabled disabled submit button: "%s"`, text))
	}

	actions = append(actions, fmt.Sprintf(`🚀 Clicking submit button: "%s"`, text))
	if err := control.Click(); err != nil {
		return append(actions, s.failed(form, err))
	}
	if err := browser.Pause(ctx, s.Settle); err != nil {
		s.logger.Debug("submit settle interrupted", zap.Error(err))
	}
	return append(actions, fmt.Sprintf("✓ Form %d submitted successfully", form.Index))
}

func (s *Strategy) failed(form forms.FormDescriptor, err error) string {
	s.logger.Warn("submit failed",
		zap.Int("form", form.Index),
		zap.Error(domain.ErrInteraction("submit", err)),
	)
	return fmt.Sprintf("✗ Could not submit form %d: %s", form.Index, domain.OneLine(err.Error()))
}

// Diagnose lists up to MaxDiagnostics buttons when no control was found.
func (s *Strategy) Diagnose(form forms.FormDescriptor) []string {
	buttons, err := form.Element.QueryAll(SelectorAnyButton)
	if err != nil {
		s.logger.Debug("listing buttons failed", zap.Error(err))
	}
	actions := []string{
		fmt.Sprintf("⚠ No submit button found in form %d (found %d button(s) total)", form.Index, len(buttons)),
	}
	for j, b := range buttons {
		if j == MaxDiagnostics {
			break
		}
		actions = append(actions, "  "+describeButton(j+1, b))
	}
	return actions
}

func describeButton(n int, b browser.Element) string {
	tag, _ := b.Property("tagName")
	typ, _ := b.Property("type")
	if typ == "" {
		typ = "none"
	}
	text := strings.TrimSpace(buttonText(b, ""))
	if r := []rune(text); len(r) > 30 {
		text = string(r[:30])
	}
	return fmt.Sprintf(`Button %d: %s type="%s" text="%s"`, n, tag, typ, text)
}

// Run locates and submits in one step.
func (s *Strategy) Run(ctx context.Context, form forms.FormDescriptor, override string) []string {
	control, err := s.Locate(form, override)
	if err != nil {
		return []string{s.failed(form, err)}
	}
	if control == nil {
		return s.Diagnose(form)
	}
	return s.Submit(ctx, form, control)
}
