// Package navigation asks a language model which link on a page most
// likely leads to a contact form.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/llm"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/resilience"
)

const (
	// MaxLinks is the number of candidates offered to the model.
	MaxLinks = 20
	// MaxLinkText drops links with longer anchor text.
	MaxLinkText = 80
	// MaxTokens is the completion budget for one choice.
	MaxTokens = 16
)

const systemPrompt = `You help an automated tester find the contact form of a website. ` +
	`You answer with a single number and nothing else.`

// Link is a candidate navigation target.
type Link struct {
	Text string
	Href string
}

var skipPrefixes = []string{"#", "mailto:", "tel:", "javascript:"}

// ExtractLinks returns anchors with short, non-empty text, resolved against
// pageURL, without duplicates, in document order. At most MaxLinks are kept.
func ExtractLinks(pageURL, html string) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parsing page url: %w", err)
	}

	var links []Link
	seen := make(map[string]bool)
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" || len([]rune(text)) > MaxLinkText {
			return true
		}
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || hasSkipPrefix(href) {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		target := abs.String()
		if seen[target] || target == base.String() {
			return true
		}
		seen[target] = true
		links = append(links, Link{Text: text, Href: target})
		return len(links) < MaxLinks
	})
	return links, nil
}

func hasSkipPrefix(href string) bool {
	lower := strings.ToLower(href)
	for _, p := range skipPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// BuildPrompt renders the numbered link list.
func BuildPrompt(pageURL string, links []Link) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The page %s has no form. These are its links:\n\n", pageURL)
	for i, l := range links {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, l.Text, l.Href)
	}
	b.WriteString("\nWhich link most likely leads to a contact or quote request page? ")
	b.WriteString("Answer with its number only, or 0 if none of them do.")
	return b.String()
}

var firstInt = regexp.MustCompile(`\d+`)

// ParseChoice returns the zero-based index picked by the model, or -1 when
// it chose none or an out-of-range number.
func ParseChoice(answer string, n int) int {
	m := firstInt.FindString(answer)
	if m == "" {
		return -1
	}
	choice, err := strconv.Atoi(m)
	if err != nil || choice < 1 || choice > n {
		return -1
	}
	return choice - 1
}

// Fallback picks a navigation target with a language model.
type Fallback struct {
	completer llm.Completer
	breaker   *resilience.Breaker
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// New creates a fallback. breaker and metrics may be nil.
func New(completer llm.Completer, breaker *resilience.Breaker, metrics *observability.Metrics, logger *zap.Logger) *Fallback {
	return &Fallback{completer: completer, breaker: breaker, metrics: metrics, logger: logger}
}

// Enabled reports whether a language model is configured.
func (f *Fallback) Enabled() bool {
	return f != nil && f.completer != nil
}

// Choose returns the chosen link, or nil when the page has no candidates or
// the model picked none. Every failure is an AIFallbackError.
func (f *Fallback) Choose(ctx context.Context, pageURL, html string) (*Link, error) {
	if !f.Enabled() {
		return nil, domain.ErrAIFallback(errors.New("no language model configured"))
	}

	links, err := ExtractLinks(pageURL, html)
	if err != nil {
		return nil, domain.ErrAIFallback(err)
	}
	if len(links) == 0 {
		return nil, nil
	}

	answer, err := f.complete(ctx, BuildPrompt(pageURL, links))
	if err != nil {
		return nil, domain.ErrAIFallback(err)
	}

	idx := ParseChoice(answer, len(links))
	f.logger.Debug("language model answered",
		zap.String("answer", answer),
		zap.Int("candidates", len(links)),
		zap.Int("choice", idx+1),
	)
	if idx < 0 {
		return nil, nil
	}
	return &links[idx], nil
}

func (f *Fallback) complete(ctx context.Context, prompt string) (string, error) {
	call := func(ctx context.Context) (string, error) {
		start := time.Now()
		text, usage, err := f.completer.Complete(ctx, systemPrompt, prompt, MaxTokens)
		status := "success"
		if err != nil {
			status = "error"
		}
		var in, out int
		if usage != nil {
			in, out = usage.InputTokens, usage.OutputTokens
		}
		f.metrics.RecordLLMRequest(f.completer.Provider(), f.completer.Model(), status, time.Since(start), in, out)
		return text, err
	}

	if f.breaker == nil {
		return call(ctx)
	}
	text, err := resilience.Call(ctx, f.breaker, call)
	f.metrics.SetBreakerState(f.breaker.Name(), int(f.breaker.State()))
	return text, err
}
