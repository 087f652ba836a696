package session

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testforge/trackingtester/internal/browser"
	"github.com/testforge/trackingtester/internal/config"
	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/services/tracking"
)

func configForTest() config.TesterConfig {
	return config.TesterConfig{
		SessionTimeout:    2 * time.Minute,
		NavigationTimeout: 30 * time.Second,
		ActionTimeout:     10 * time.Second,
		FieldSettle:       300 * time.Millisecond,
		KeystrokeDelay:    50 * time.Millisecond,
		SubmitSettle:      3 * time.Second,
		ConfirmSettle:     2 * time.Second,
		CaptchaWait:       5 * time.Second,
		ViewportWidth:     1512,
		ViewportHeight:    982,
		SlowMo:            100 * time.Millisecond,
		KeepUnrecognized:  true,
	}
}

func TestIsChallenge(t *testing.T) {
	tests := []struct {
		name  string
		title string
		url   string
		want  bool
	}{
		{"cloudflare title", "Just a moment...", "https://site.test/", true},
		{"robot title", "Are you a robot?", "https://site.test/", true},
		{"captcha url", "Site", "https://geo.captcha-delivery.com/captcha/?x=1", true},
		{"challenge platform", "Site", "https://site.test/cdn-cgi/challenge-platform/h/b", true},
		{"google sorry", "Site", "https://www.google.com/sorry/index?continue=x", true},
		{"cf param", "Site", "https://site.test/?__cf_chl_rt_tk=abc", true},
		{"normal page", "Contact - Acme", "https://site.test/contact", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsChallenge(tt.title, tt.url))
		})
	}
}

func TestDetectThankYou(t *testing.T) {
	tests := []struct {
		name   string
		before string
		url    string
		title  string
		body   string
		want   domain.ThankYouResult
	}{
		{
			name:   "nothing changed",
			before: "https://site.test/contact",
			url:    "https://site.test/contact",
			title:  "Contact",
			body:   "Vul het formulier in",
			want:   domain.ThankYouResult{URL: "https://site.test/contact", Title: "Contact"},
		},
		{
			name:   "url changed only",
			before: "https://site.test/contact",
			url:    "https://site.test/contact?sent=1",
			title:  "Contact",
			want: domain.ThankYouResult{
				Detected: true, URL: "https://site.test/contact?sent=1", Title: "Contact", URLChanged: true,
			},
		},
		{
			name:   "inline confirmation",
			before: "https://site.test/contact",
			url:    "https://site.test/contact",
			title:  "Contact",
			body:   "Thank you! We will get back to you.",
			want: domain.ThankYouResult{
				Detected: true, URL: "https://site.test/contact", Title: "Contact",
				Indicators: domain.ThankYouIndicators{ContentMatch: true},
			},
		},
		{
			name:   "dutch confirmation page",
			before: "https://site.test/contact",
			url:    "https://site.test/bedankt",
			title:  "Bedankt voor je aanvraag",
			body:   "Je bericht is verzonden",
			want: domain.ThankYouResult{
				Detected: true, URL: "https://site.test/bedankt", Title: "Bedankt voor je aanvraag", URLChanged: true,
				Indicators: domain.ThankYouIndicators{URLMatch: true, TitleMatch: true, ContentMatch: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectThankYou(tt.before, tt.url, tt.title, tt.body)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DetectThankYou() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVisibleText(t *testing.T) {
	html := `<html><head><title>T</title><style>.x{}</style></head><body>
		<script>var thanks = 1;</script>
		<h1>Bedankt</h1>
		<p>We   nemen
		contact op.</p>
	</body></html>`
	assert.Equal(t, "Bedankt We nemen contact op.", VisibleText(html))
}

func TestRecorder_PatchesStatusAndClassifies(t *testing.T) {
	r := NewRecorder(tracking.New(false), nil)

	r.OnRequest(browser.NetworkRequest{ID: 1, Method: "GET", URL: "https://site.test/"})
	r.OnRequest(browser.NetworkRequest{ID: 2, Method: "GET", URL: gtmURL})
	r.OnRequest(browser.NetworkRequest{ID: 3, Method: "POST", URL: "https://ad.doubleclick.net/x"})
	r.OnResponse(browser.NetworkResponse{RequestID: 2, URL: gtmURL, Status: 200})
	r.OnResponse(browser.NetworkResponse{RequestID: 3, URL: "https://ad.doubleclick.net/x", Status: 204})

	events, requests := r.Snapshot()
	require.Len(t, requests, 3)
	assert.Nil(t, requests[0].Status)
	require.NotNil(t, requests[1].Status)
	assert.Equal(t, 200, *requests[1].Status)
	assert.Equal(t, "POST", requests[2].Method)

	require.Len(t, events, 1)
	assert.Equal(t, domain.PlatformGTM, events[0].Platform)
}

func TestRecorder_KeepsUnrecognized(t *testing.T) {
	r := NewRecorder(tracking.New(true), nil)
	r.OnRequest(browser.NetworkRequest{ID: 1, Method: "GET", URL: "https://ad.doubleclick.net/x"})
	r.OnResponse(browser.NetworkResponse{RequestID: 1, URL: "https://ad.doubleclick.net/x", Status: 500})

	events, _ := r.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, domain.PlatformUnrecognized, events[0].Platform)
	assert.Equal(t, domain.StatusFailed, events[0].Status)
}

func TestRecorder_LastFiftyRequests(t *testing.T) {
	r := NewRecorder(nil, nil)
	for i := uint64(1); i <= 80; i++ {
		r.OnRequest(browser.NetworkRequest{ID: i, Method: "GET", URL: "https://site.test/a"})
	}
	_, requests := r.Snapshot()
	assert.Len(t, requests, domain.MaxRequestRecords)

	n, _ := r.Counts()
	assert.Equal(t, 80, n)
}

func TestRecorder_ConcurrentDelivery(t *testing.T) {
	r := NewRecorder(nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			r.OnRequest(browser.NetworkRequest{ID: id, Method: "GET", URL: gtmURL})
			r.OnResponse(browser.NetworkResponse{RequestID: id, URL: gtmURL, Status: 200})
		}(uint64(i + 1))
	}
	wg.Wait()

	requests, events := r.Counts()
	assert.Equal(t, 100, requests)
	assert.Equal(t, 100, events)

	// Snapshots are copies.
	evs, _ := r.Snapshot()
	evs[0].EventName = "changed"
	again, _ := r.Snapshot()
	assert.NotEqual(t, "changed", again[0].EventName)
}
