package session

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/testforge/trackingtester/internal/domain"
)

var (
	challengeKeywords   = []string{"robot", "challenge", "captcha"}
	challengeTitles     = []string{"just a moment"}
	challengeURLMarkers = []string{"/cdn-cgi/challenge-platform", "__cf_chl", "captcha-delivery.com", "/sorry/index"}
)

// IsChallenge reports whether the page looks like a bot challenge.
func IsChallenge(title, pageURL string) bool {
	t := strings.ToLower(title)
	u := strings.ToLower(pageURL)
	return containsAny(t, challengeKeywords) ||
		containsAny(u, challengeKeywords) ||
		containsAny(t, challengeTitles) ||
		containsAny(u, challengeURLMarkers)
}

var (
	thankYouURLKeywords  = []string{"thank", "bedankt", "dankje", "success", "confirm", "bevestig", "verzonden"}
	thankYouTextKeywords = []string{"thank you", "thanks", "bedankt", "dank je", "dank u", "success", "bevestiging", "verzonden", "ontvangen", "received"}
)

// DetectThankYou evaluates the confirmation signals. Any one of them marks
// the page as detected.
func DetectThankYou(beforeURL, pageURL, title, bodyText string) domain.ThankYouResult {
	ind := domain.ThankYouIndicators{
		URLMatch:     containsAny(strings.ToLower(pageURL), thankYouURLKeywords),
		TitleMatch:   containsAny(strings.ToLower(title), thankYouTextKeywords),
		ContentMatch: containsAny(strings.ToLower(bodyText), thankYouTextKeywords),
	}
	changed := beforeURL != "" && pageURL != beforeURL
	return domain.ThankYouResult{
		Detected:   changed || ind.URLMatch || ind.TitleMatch || ind.ContentMatch,
		URL:        pageURL,
		Title:      title,
		URLChanged: changed,
		Indicators: ind,
	}
}

// VisibleText returns the body text of html without scripts and styles,
// with whitespace collapsed.
func VisibleText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	body := doc.Find("body")
	body.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
