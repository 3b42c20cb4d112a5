// Package parser turns raw pages into listing entries and detail records.
// Everything here is pure: no network access, no shared state. Missing
// optional fields resolve to absent values and malformed fragments are
// dropped rather than defaulted.
package parser

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/pkg/errors"
)

var (
	digitsRe  = regexp.MustCompile(`\d+`)
	decimalRe = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	yearRe    = regexp.MustCompile(`(?:^|\D)((?:19|20)\d{2})(?:\D|$)`)
	cssURLRe  = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)
	spaceRe   = regexp.MustCompile(`\s+`)

	arabicDigits = strings.NewReplacer(
		"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
		"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
	)
)

// Document parses a raw page into a goquery document
func Document(page *models.RawPage) (*goquery.Document, error) {
	if page == nil {
		return nil, errors.New("nil page")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse HTML")
	}
	return doc, nil
}

// FirstNumber returns the first run of digits in text, or nil when there is none
func FirstNumber(text string) *int {
	m := digitsRe.FindString(arabicDigits.Replace(text))
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

// FirstDecimal returns the first number in text, accepting a fractional part
func FirstDecimal(text string) *float64 {
	m := decimalRe.FindString(arabicDigits.Replace(text))
	if m == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return nil
	}
	return &f
}

// YearFromText finds a plausible four-digit release year
func YearFromText(text string) *int {
	m := yearRe.FindStringSubmatch(arabicDigits.Replace(text))
	if m == nil {
		return nil
	}
	n, _ := strconv.Atoi(m[1])
	return &n
}

// CleanTitle strips the profile's noise vocabulary and the release year
// from a title and collapses whitespace.
func CleanTitle(title string, noise []string, year *int) string {
	title = NormalizeText(title)

	words := make(map[string]bool, len(noise))
	for _, n := range noise {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if strings.Contains(n, " ") {
			title = replaceFold(title, n, " ")
			continue
		}
		words[n] = true
	}

	yearStr := ""
	if year != nil {
		yearStr = strconv.Itoa(*year)
	}

	var kept []string
	for _, tok := range strings.Fields(title) {
		bare := strings.Trim(tok, "()[]{}-–|:,.")
		if bare == "" || words[strings.ToLower(bare)] || (yearStr != "" && arabicDigits.Replace(bare) == yearStr) {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Trim(strings.Join(kept, " "), " -–|:")
}

func replaceFold(s, old, repl string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	for {
		i := strings.Index(lower, old)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(repl)
		s, lower = s[i+len(old):], lower[i+len(old):]
	}
}

// DetectKind decides movie vs series from the URL and title. It runs once
// per detail load, before any detail field is parsed.
func DetectKind(rawURL, title string, p *profile.SiteProfile) models.ContentKind {
	path := strings.ToLower(rawURL)
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}
	for _, marker := range p.SeriesURLMarkers {
		if marker != "" && strings.Contains(path, strings.ToLower(marker)) {
			return models.KindSeries
		}
	}
	if containsAny(title, p.SeriesMarkers) {
		return models.KindSeries
	}
	return models.KindMovie
}

func containsAny(text string, markers []string) bool {
	text = strings.ToLower(text)
	for _, m := range markers {
		if m != "" && strings.Contains(text, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// NormalizeText collapses runs of whitespace
func NormalizeText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// FirstText returns the first non-blank text along a selector fallback chain
func FirstText(sel *goquery.Selection, selectors []string) string {
	for _, css := range selectors {
		var found string
		sel.Find(css).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = NormalizeText(s.Text())
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// FirstAttr returns the first non-blank attribute value along a selector
// chain, trying attrs in priority order for every match.
func FirstAttr(sel *goquery.Selection, selectors, attrs []string) string {
	for _, css := range selectors {
		var found string
		sel.Find(css).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = attrOf(s, attrs)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func attrOf(s *goquery.Selection, attrs []string) string {
	for _, attr := range attrs {
		if v, ok := s.Attr(attr); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// imageURL extracts an image reference, unwrapping CSS url(...) values used
// by background-image lazy loaders.
func imageURL(sel *goquery.Selection, selectors, attrs []string, base string) string {
	for _, css := range selectors {
		var found string
		sel.Find(css).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = imageAttr(s, attrs, base)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// imageAttr reads the first usable image reference off one element.
// Inline data: placeholders are skipped.
func imageAttr(s *goquery.Selection, attrs []string, base string) string {
	for _, attr := range attrs {
		v, ok := s.Attr(attr)
		if !ok {
			continue
		}
		if m := cssURLRe.FindStringSubmatch(v); m != nil {
			v = m[1]
		}
		if v = ResolveURL(base, v); v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

// ResolveURL resolves ref against base. Script and fragment-only links
// resolve to "".
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "#" || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	if strings.HasPrefix(ref, "data:") {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return r.String()
	}
	return b.ResolveReference(r).String()
}

// collectSet gathers the non-blank texts of every match of every selector,
// keeping the first occurrence of each value.
func collectSet(sel *goquery.Selection, selectors []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, css := range selectors {
		sel.Find(css).Each(func(_ int, s *goquery.Selection) {
			v := NormalizeText(s.Text())
			if v == "" || seen[v] {
				return
			}
			seen[v] = true
			out = append(out, v)
		})
	}
	return out
}
