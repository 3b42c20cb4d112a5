package resolver

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/parser"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/alvarorichard/cimaresolver/internal/util"
)

// qualityAncestorDepth bounds the upward walk looking for a quality heading
const qualityAncestorDepth = 4

// embeddedURLRe pulls a URL out of attribute values such as
// onclick="player_iframe.location.href = 'https://...'"
var embeddedURLRe = regexp.MustCompile(`(?:https?:)?//[^'"\s<>)]+`)

// Discover lists the embed candidates of a watch page. A server-list
// widget is authoritative when present; only without one are iframes and
// anchors to known embed hosts considered.
func Discover(page *models.RawPage, p *profile.SiteProfile) []models.EmbedCandidate {
	doc, err := parser.Document(page)
	if err != nil {
		util.Debug("Watch page unparsable", "site", p.ID, "url", page.URL, "error", err)
		return nil
	}
	base := page.BaseURL()

	c := &collector{seen: make(map[string]bool)}
	discoverServers(doc, p, base, c)
	if len(c.out) > 0 {
		return c.out
	}

	discoverIframes(doc, p, base, c)
	discoverAnchors(doc, p, base, c)
	sort.SliceStable(c.out, func(i, j int) bool {
		return c.out[i].Origin.Priority() < c.out[j].Origin.Priority()
	})
	return c.out
}

type collector struct {
	seen map[string]bool
	out  []models.EmbedCandidate
}

func (c *collector) add(cand models.EmbedCandidate) {
	if cand.URL == "" || c.seen[cand.URL] {
		return
	}
	c.seen[cand.URL] = true
	c.out = append(c.out, cand)
}

func discoverServers(doc *goquery.Document, p *profile.SiteProfile, base string, c *collector) {
	if p.Servers.Item == "" {
		return
	}
	doc.Find(p.Servers.Item).Each(func(_ int, item *goquery.Selection) {
		link := serverLink(item, p.Servers.LinkAttrs, base)
		if link == "" {
			return
		}
		label := parser.FirstText(item, p.Servers.Label)
		if label == "" {
			label = parser.NormalizeText(item.Text())
		}
		c.add(models.EmbedCandidate{
			URL:         link,
			Origin:      models.OriginServerList,
			Label:       label,
			QualityHint: qualityHint(item, label, p.Servers.QualityText),
		})
	})
}

// serverLink reads the item's link attribute, falling back to the first
// descendant carrying one.
func serverLink(item *goquery.Selection, attrs []string, base string) string {
	for _, attr := range attrs {
		if v := extractURL(item.AttrOr(attr, ""), base); v != "" {
			return v
		}
	}
	for _, attr := range attrs {
		if v := extractURL(item.Find("["+attr+"]").First().AttrOr(attr, ""), base); v != "" {
			return v
		}
	}
	return ""
}

func extractURL(value, base string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(value, "http") && !strings.HasPrefix(value, "/") {
		// script-valued attribute: take the URL literal inside it
		m := embeddedURLRe.FindString(value)
		if m == "" {
			return ""
		}
		value = m
	}
	return parser.ResolveURL(base, value)
}

// qualityHint reads the tier from the item itself, then from headings that
// precede the item or one of its ancestors.
func qualityHint(item *goquery.Selection, label string, selectors []string) models.Quality {
	if q := InferQuality(label); q != models.QualityUnknown {
		return q
	}
	if q := InferQuality(parser.FirstText(item, selectors)); q != models.QualityUnknown {
		return q
	}

	node := item
	for depth := 0; depth < qualityAncestorDepth && node.Length() > 0; depth++ {
		for _, css := range selectors {
			if q := InferQuality(node.PrevAllFiltered(css).First().Text()); q != models.QualityUnknown {
				return q
			}
		}
		node = node.Parent()
	}
	return models.QualityUnknown
}

func discoverIframes(doc *goquery.Document, p *profile.SiteProfile, base string, c *collector) {
	for _, css := range p.Embeds.Iframes {
		doc.Find(css).Each(func(_ int, s *goquery.Selection) {
			src := s.AttrOr("src", "")
			if strings.TrimSpace(src) == "" || src == "about:blank" {
				src = s.AttrOr("data-src", "")
			}
			link := parser.ResolveURL(base, src)
			if link == "" || link == "about:blank" {
				return
			}
			c.add(models.EmbedCandidate{
				URL:         link,
				Origin:      models.OriginPrimaryIframe,
				Label:       hostOf(link),
				QualityHint: models.QualityUnknown,
			})
		})
	}
}

func discoverAnchors(doc *goquery.Document, p *profile.SiteProfile, base string, c *collector) {
	for _, css := range p.Embeds.Anchors {
		doc.Find(css).Each(func(_ int, s *goquery.Selection) {
			link := parser.ResolveURL(base, s.AttrOr("href", ""))
			if link == "" || !p.IsEmbedHost(hostOf(link)) {
				return
			}
			label := parser.NormalizeText(s.Text())
			if label == "" {
				label = hostOf(link)
			}
			c.add(models.EmbedCandidate{
				URL:         link,
				Origin:      models.OriginFallbackAnchor,
				Label:       label,
				QualityHint: InferQuality(label),
			})
		})
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// InferQuality maps free text such as a server label or file name to a
// quality tier.
func InferQuality(text string) models.Quality {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "2160") || strings.Contains(t, "4k"):
		return models.Quality2160
	case strings.Contains(t, "1080"):
		return models.Quality1080
	case strings.Contains(t, "720"):
		return models.Quality720
	case strings.Contains(t, "480"):
		return models.Quality480
	case strings.Contains(t, "360"):
		return models.Quality360
	default:
		return models.QualityUnknown
	}
}
