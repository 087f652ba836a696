// Package tracking recognizes marketing and analytics network calls.
package tracking

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/testforge/trackingtester/internal/domain"
)

// Domains whose traffic counts as tracking traffic.
var Domains = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"googleadservices.com",
	"facebook.com/tr",
	"doubleclick.net",
}

// IsTrackingURL reports whether raw targets a known tracking domain.
func IsTrackingURL(raw string) bool {
	for _, d := range Domains {
		if strings.Contains(raw, d) {
			return true
		}
	}
	return false
}

// Rule recognizes one vendor family.
type Rule struct {
	Platform domain.Platform
	Pattern  string
	Extract  func(u *url.URL) (eventName, details string, payload domain.TrackingPayload)
}

// Rules in evaluation order.
var Rules = []Rule{
	{Platform: domain.PlatformGA4, Pattern: "google-analytics.com/g/collect", Extract: extractGA4},
	{Platform: domain.PlatformGTM, Pattern: "googletagmanager.com/gtm.js", Extract: extractGTM},
	{Platform: domain.PlatformGoogleAds, Pattern: "googleadservices.com/pagead/conversion", Extract: extractGoogleAds},
	{Platform: domain.PlatformMetaPixel, Pattern: "facebook.com/tr", Extract: extractMetaPixel},
}

// Classifier turns network responses into tracking events.
type Classifier struct {
	// KeepUnrecognized records tracking-domain calls that match no rule
	// as Unrecognized events instead of dropping them.
	KeepUnrecognized bool
}

// New returns a classifier.
func New(keepUnrecognized bool) *Classifier {
	return &Classifier{KeepUnrecognized: keepUnrecognized}
}

// Classify returns nil when raw is not a recognized tracking call.
func (c *Classifier) Classify(raw string, status int) *domain.TrackingEvent {
	for _, r := range Rules {
		if !strings.Contains(raw, r.Pattern) {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil
		}
		name, details, payload := r.Extract(u)
		return &domain.TrackingEvent{
			Platform:  r.Platform,
			EventName: name,
			Details:   details,
			URL:       domain.TruncateURL(raw),
			Status:    domain.ClassifyStatus(status),
			Payload:   payload,
		}
	}

	if c.KeepUnrecognized && IsTrackingURL(raw) {
		host := ""
		if u, err := url.Parse(raw); err == nil {
			host = u.Host
		}
		return &domain.TrackingEvent{
			Platform:  domain.PlatformUnrecognized,
			EventName: "Tracking Request",
			Details:   host,
			URL:       domain.TruncateURL(raw),
			Status:    domain.ClassifyStatus(status),
			Payload:   domain.UnrecognizedPayload{Host: host},
		}
	}
	return nil
}

var defaultClassifier = &Classifier{}

// Classify drops unrecognized tracking calls.
func Classify(raw string, status int) *domain.TrackingEvent {
	return defaultClassifier.Classify(raw, status)
}

func param(q url.Values, key string) *string {
	if !q.Has(key) {
		return nil
	}
	v := q.Get(key)
	return &v
}

func valueOr(p *string, fallback string) string {
	if p == nil || *p == "" {
		return fallback
	}
	return *p
}

func extractGA4(u *url.URL) (string, string, domain.TrackingPayload) {
	q := u.Query()
	p := domain.GA4Payload{
		EventName:     param(q, "en"),
		EventSequence: param(q, "_s"),
		MeasurementID: param(q, "tid"),
		ClientID:      param(q, "cid"),
		SessionID:     param(q, "sid"),
		UserID:        param(q, "uid"),
		Currency:      param(q, "cu"),
		EventValue:    param(q, "ev"),
		UserData:      ga4UserData(q),
	}

	details := ""
	if p.EventSequence != nil {
		details = "Event ID: " + *p.EventSequence
	}
	return valueOr(p.EventName, "page_view"), details, p
}

// ga4UserData reads the em parameter. It carries either a bare hash or a
// tilde-separated list like "tv.1~em.<hash>~ph.<hash>".
func ga4UserData(q url.Values) *domain.HashedUserData {
	raw := q.Get("em")
	if raw == "" {
		return nil
	}
	ud := &domain.HashedUserData{}
	if !strings.Contains(raw, "~") && !strings.Contains(raw, ".") {
		ud.Email = &raw
		return ud
	}
	for _, part := range strings.Split(raw, "~") {
		key, value, ok := strings.Cut(part, ".")
		if !ok || value == "" {
			continue
		}
		v := value
		switch key {
		case "em":
			ud.Email = &v
		case "ph":
			ud.Phone = &v
		case "fn":
			ud.FirstName = &v
		case "ln":
			ud.LastName = &v
		}
	}
	if ud.IsEmpty() {
		return nil
	}
	return ud
}

var gtmContainer = regexp.MustCompile(`GTM-[A-Z0-9]+`)

func extractGTM(u *url.URL) (string, string, domain.TrackingPayload) {
	q := u.Query()
	p := domain.GTMPayload{
		ContainerID: param(q, "id"),
		DataLayer:   param(q, "l"),
	}
	details := ""
	if p.ContainerID != nil {
		details = gtmContainer.FindString(*p.ContainerID)
	}
	return "GTM Container Loaded", details, p
}

func extractGoogleAds(u *url.URL) (string, string, domain.TrackingPayload) {
	q := u.Query()
	p := domain.GoogleAdsPayload{
		Label:        param(q, "label"),
		ConversionID: param(q, "id"),
		Value:        param(q, "value"),
		CurrencyCode: param(q, "currency_code"),
	}
	if p.ConversionID == nil {
		p.ConversionID = conversionIDFromPath(u.Path)
	}
	details := ""
	if p.Label != nil {
		details = "Label: " + *p.Label
	}
	return "Conversion", details, p
}

// conversionIDFromPath reads /pagead/conversion/<id>/.
func conversionIDFromPath(path string) *string {
	const marker = "/conversion/"
	i := strings.Index(path, marker)
	if i < 0 {
		return nil
	}
	rest := strings.Trim(path[i+len(marker):], "/")
	if j := strings.Index(rest, "/"); j >= 0 {
		rest = rest[:j]
	}
	if rest == "" {
		return nil
	}
	return &rest
}

var numeric = regexp.MustCompile(`^\d+$`)

func extractMetaPixel(u *url.URL) (string, string, domain.TrackingPayload) {
	q := u.Query()
	p := domain.MetaPixelPayload{
		Event:   param(q, "ev"),
		PixelID: param(q, "id"),
	}
	ud := domain.HashedUserData{
		Email:     param(q, "ud[em]"),
		Phone:     param(q, "ud[ph]"),
		FirstName: param(q, "ud[fn]"),
		LastName:  param(q, "ud[ln]"),
	}
	if !ud.IsEmpty() {
		p.UserData = &ud
	}

	details := ""
	if p.PixelID != nil && numeric.MatchString(*p.PixelID) {
		details = "Pixel ID: " + *p.PixelID
	}
	return valueOr(p.Event, "PageView"), details, p
}
