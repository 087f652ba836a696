package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestSessionResult_EmptyCollectionsSerializeAsArrays(t *testing.T) {
	data, err := json.Marshal(SessionResult{})
	require.NoError(t, err)

	s := string(data)
	for _, key := range []string{`"screenshots":[]`, `"events":[]`, `"actions":[]`, `"requests":[]`, `"detectedTools":[]`} {
		assert.Contains(t, s, key)
	}
	assert.Contains(t, s, `"thankYouPage":{"detected":false`)
}

func TestSessionResult_JSONRoundTrip(t *testing.T) {
	status := 204
	in := &SessionResult{
		Screenshots: []string{ScreenshotPrefix + "AAA", ScreenshotPrefix + "BBB"},
		Events: []TrackingEvent{
			{
				Platform:  PlatformGA4,
				EventName: "generate_lead",
				Details:   "Event ID: 3",
				URL:       "https://www.google-analytics.com/g/collect?en=generate_lead",
				Status:    StatusSuccess,
				Payload: GA4Payload{
					EventName:     strPtr("generate_lead"),
					EventSequence: strPtr("3"),
					MeasurementID: strPtr("G-ABC123"),
				},
			},
			{
				Platform:  PlatformGTM,
				EventName: "GTM Container Loaded",
				Details:   "GTM-XYZ",
				Status:    StatusSuccess,
				Payload:   GTMPayload{ContainerID: strPtr("GTM-XYZ")},
			},
			{
				Platform:  PlatformMetaPixel,
				EventName: "Lead",
				Status:    StatusFailed,
				Payload: MetaPixelPayload{
					Event:    strPtr("Lead"),
					PixelID:  strPtr("123"),
					UserData: &HashedUserData{Email: strPtr("abc")},
				},
			},
			{
				Platform: PlatformGoogleAds,
				Status:   StatusSuccess,
				Payload:  GoogleAdsPayload{Label: strPtr("lbl")},
			},
			{
				Platform: PlatformUnrecognized,
				Status:   StatusSuccess,
				Payload:  UnrecognizedPayload{Host: "ad.doubleclick.net"},
			},
		},
		Actions:       []string{"📄 Loaded: Home"},
		Requests:      []RequestRecord{{Method: "GET", URL: "https://example.com", Status: &status}, {Method: "POST", URL: "https://x.test"}},
		DetectedTools: []Platform{PlatformGA4, PlatformGTM, PlatformMetaPixel},
		ThankYouPage:  ThankYouResult{Detected: true, URL: "https://example.com/bedankt", URLChanged: true, Indicators: ThankYouIndicators{URLMatch: true}},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out SessionResult
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, *in, out)

	empty := NewSessionResult()
	data, err = json.Marshal(empty)
	require.NoError(t, err)
	var back SessionResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.NotNil(t, back.Events)
	assert.Empty(t, back.Events)
}

func TestTrackingEvent_UnmarshalUnknownPlatform(t *testing.T) {
	var e TrackingEvent
	err := json.Unmarshal([]byte(`{"platform":"Pinterest","payload":{}}`), &e)
	assert.Error(t, err)
}

func TestTrackingEvent_NullFieldsSerialize(t *testing.T) {
	data, err := json.Marshal(TrackingEvent{Platform: PlatformGoogleAds, Payload: GoogleAdsPayload{}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"label":null`)
	assert.Contains(t, string(data), `"currency_code":null`)
}

func TestDetectTools(t *testing.T) {
	events := []TrackingEvent{
		{Platform: PlatformGTM}, {Platform: PlatformGA4}, {Platform: PlatformGTM}, {Platform: PlatformGA4},
	}
	assert.Equal(t, []Platform{PlatformGTM, PlatformGA4}, DetectTools(events))
	assert.Equal(t, []Platform{}, DetectTools(nil))
}

func TestLastRequests(t *testing.T) {
	var records []RequestRecord
	for i := 0; i < 75; i++ {
		records = append(records, RequestRecord{Method: "GET", URL: strings.Repeat("a", i+1)})
	}
	got := LastRequests(records)
	require.Len(t, got, MaxRequestRecords)
	assert.Equal(t, 26, len(got[0].URL))
	assert.Equal(t, 75, len(got[49].URL))

	assert.Len(t, LastRequests(records[:3]), 3)
}

func TestTruncateURL(t *testing.T) {
	long := "https://example.com/" + strings.Repeat("x", 200)
	assert.Len(t, TruncateURL(long), 100)
	assert.Equal(t, "https://short", TruncateURL("https://short"))

	exact := strings.Repeat("x", 100)
	assert.Equal(t, exact, TruncateURL(exact))

	// é is two bytes; byte slicing would split the 100th character.
	accented := "https://site.test/" + strings.Repeat("x", 81) + "é" + strings.Repeat("y", 20)
	got := TruncateURL(accented)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 100, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "xé"))

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\\ufffd")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "element detached", OneLine("element detached"))
	assert.Equal(t, "Timeout 30000ms exceeded. Call log: - waiting for locator",
		OneLine("Timeout 30000ms exceeded.\nCall log:\r\n  - waiting for locator\n"))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, StatusSuccess, ClassifyStatus(200))
	assert.Equal(t, StatusSuccess, ClassifyStatus(302))
	assert.Equal(t, StatusSuccess, ClassifyStatus(399))
	assert.Equal(t, StatusFailed, ClassifyStatus(400))
	assert.Equal(t, StatusFailed, ClassifyStatus(503))
}

func TestNewErrorOutput(t *testing.T) {
	out := NewErrorOutput(&SessionError{Message: "net::ERR_ABORTED", Stack: "goroutine 1"})
	assert.Equal(t, "net::ERR_ABORTED", out.Error)
	assert.Equal(t, "goroutine 1", out.Stack)
	assert.Equal(t, []string{"Error: net::ERR_ABORTED"}, out.Actions)

	data, err := json.Marshal(NewErrorOutput(errors.New("x")))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"screenshots":[]`)
	assert.Contains(t, string(data), `"events":[]`)
}

func TestTrackingRun_Lifecycle(t *testing.T) {
	run := NewTrackingRun(TestConfiguration{URL: "https://example.com"}, "api")
	assert.Equal(t, RunStatusPending, run.Status)

	run.Start()
	assert.Equal(t, RunStatusRunning, run.Status)
	require.NotNil(t, run.StartedAt)

	result := NewSessionResult()
	result.Events = []TrackingEvent{{Platform: PlatformGTM}}
	result.DetectedTools = []Platform{PlatformGTM}
	result.ThankYouPage.Detected = true
	run.Complete(result)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.EventCount)
	assert.True(t, run.ThankYou)
	assert.True(t, run.Status.IsTerminal())

	timedOut := NewTrackingRun(TestConfiguration{URL: "https://example.com"}, "api")
	timedOut.Fail(ErrSessionTimeout(0))
	assert.Equal(t, RunStatusTimeout, timedOut.Status)
	assert.Equal(t, "Test timeout", timedOut.Error)

	failed := NewTrackingRun(TestConfiguration{URL: "https://example.com"}, "api")
	failed.Fail(errors.New("crash"))
	assert.Equal(t, RunStatusFailed, failed.Status)
	assert.Equal(t, "Test failed: crash", failed.Error)
}
