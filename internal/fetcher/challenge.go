package fetcher

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// challengePhrases appear in the title of interstitial pages, and in
// their body when the status is 403/503
var challengePhrases = []string{
	"just a moment",
	"checking your browser",
	"cf-browser-verification",
	"attention required! | cloudflare",
	"ddos-guard",
	"please wait while we are checking",
}

// challengeStatusMarkers only count together with a 403/503 status
var challengeStatusMarkers = []string{
	"cf-chl",
	"__cf_chl",
	"cf-ray",
	"cloudflare",
	"captcha",
}

const challengeSelector = "#cf-wrapper, #challenge-form, #challenge-running, #cf-challenge-running"

// IsChallenge reports whether a response is an anti-bot interstitial
// instead of real content. A 200 page is only a challenge by its title or
// challenge element ids, so synopses quoting a phrase still count as content.
func IsChallenge(status int, body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
		if containsAny(title, challengePhrases) {
			return true
		}
		if doc.Find(challengeSelector).Length() > 0 {
			return true
		}
	}

	if status != http.StatusForbidden && status != http.StatusServiceUnavailable {
		return false
	}
	lower := strings.ToLower(string(body))
	return containsAny(lower, challengePhrases) || containsAny(lower, challengeStatusMarkers)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
