package resolver

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/parser"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/tidwall/gjson"
)

var (
	sourcesRe   = regexp.MustCompile(`(?s)sources\s*[:=]\s*(\[.*?\])\s*[,;})]`)
	fileRe      = regexp.MustCompile(`(?:file|src)\s*:\s*["']([^"']+)["']`)
	bareMediaRe = regexp.MustCompile(`(?:https?:)?//[^\s"'<>\\]+`)
	jsKeyRe     = regexp.MustCompile(`([{,]\s*)([A-Za-z_$][\w$]*)\s*:`)
	trailingRe  = regexp.MustCompile(`,\s*([}\]])`)
	qualityPRe  = regexp.MustCompile(`(?i)(2160|1080|720|480|360)p|4k`)
)

type mediaSource struct {
	url   string
	label string
}

// mediaElements lists the sources of <video> and <source> elements
func mediaElements(page *models.RawPage) []mediaSource {
	doc, err := parser.Document(page)
	if err != nil {
		return nil
	}
	base := page.BaseURL()

	var out []mediaSource
	doc.Find("video[src], source[src], video source[data-src]").Each(func(_ int, s *goquery.Selection) {
		src := s.AttrOr("src", s.AttrOr("data-src", ""))
		if u := parser.ResolveURL(base, src); u != "" {
			label := s.AttrOr("label", s.AttrOr("size", s.AttrOr("res", "")))
			out = append(out, mediaSource{url: u, label: label})
		}
	})
	return out
}

// scriptManifest reads player setup literals out of inline scripts. A
// sources array is normalized to JSON and read with gjson; a lone file
// literal or a bare media URL is accepted when no array is present.
func scriptManifest(page *models.RawPage, exts []string) []mediaSource {
	doc, err := parser.Document(page)
	if err != nil {
		return nil
	}
	base := page.BaseURL()

	var scripts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if body := strings.TrimSpace(s.Text()); body != "" {
			scripts = append(scripts, body)
		}
	})

	seen := make(map[string]bool)
	var out []mediaSource
	add := func(raw, label string) {
		u := parser.ResolveURL(base, strings.ReplaceAll(raw, `\/`, "/"))
		if u == "" || seen[u] || profile.MediaExtension(u, exts) == "" {
			return
		}
		seen[u] = true
		out = append(out, mediaSource{url: u, label: label})
	}

	for _, body := range scripts {
		for _, m := range sourcesRe.FindAllStringSubmatch(body, -1) {
			for _, src := range parseSources(m[1]) {
				add(src.url, src.label)
			}
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, body := range scripts {
		for _, m := range fileRe.FindAllStringSubmatch(body, -1) {
			add(m[1], "")
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, body := range scripts {
		for _, m := range bareMediaRe.FindAllString(body, -1) {
			add(m, "")
		}
	}
	return out
}

// parseSources reads a JavaScript sources array such as
// [{file:'a.m3u8',label:'720p'},"b.mp4"]
func parseSources(literal string) []mediaSource {
	doc := jsToJSON(literal)
	if !gjson.Valid(doc) {
		return nil
	}

	var out []mediaSource
	gjson.Parse(doc).ForEach(func(_, v gjson.Result) bool {
		switch {
		case v.Type == gjson.String:
			out = append(out, mediaSource{url: v.String()})
		case v.IsObject():
			u := firstNonEmpty(v, "file", "src", "url")
			if u != "" {
				out = append(out, mediaSource{url: u, label: firstNonEmpty(v, "label", "res", "quality", "size")})
			}
		}
		return true
	})
	return out
}

func firstNonEmpty(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(v.Get(k).String()); s != "" {
			return s
		}
	}
	return ""
}

// jsToJSON turns a relaxed object literal into JSON: single quotes become
// double quotes, bare keys are quoted and trailing commas are dropped.
func jsToJSON(literal string) string {
	s := strings.ReplaceAll(literal, "'", `"`)
	s = jsKeyRe.ReplaceAllString(s, `$1"$2":`)
	return trailingRe.ReplaceAllString(s, "$1")
}

// firstIframe returns the first nested player iframe of an embed page
func firstIframe(page *models.RawPage) string {
	doc, err := parser.Document(page)
	if err != nil {
		return ""
	}
	var found string
	doc.Find("iframe").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := s.AttrOr("src", "")
		if strings.TrimSpace(src) == "" || src == "about:blank" {
			src = s.AttrOr("data-src", "")
		}
		found = parser.ResolveURL(page.BaseURL(), src)
		return found == ""
	})
	return found
}

// qualityFromURL only trusts explicit "720p"-style tokens, since file
// names often carry unrelated digit runs.
func qualityFromURL(rawURL string) models.Quality {
	m := qualityPRe.FindString(rawURL)
	if m == "" {
		return models.QualityUnknown
	}
	return InferQuality(m)
}
