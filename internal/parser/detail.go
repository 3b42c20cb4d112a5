package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/alvarorichard/cimaresolver/internal/util"
)

// ParseDetail extracts the scalar fields of a detail page. The kind is
// decided by the caller beforehand and only recorded here; episodes are
// attached separately.
func ParseDetail(page *models.RawPage, p *profile.SiteProfile, kind models.ContentKind) models.DetailRecord {
	rec := models.DetailRecord{URL: page.URL, Kind: kind}

	doc, err := Document(page)
	if err != nil {
		util.Debug("Detail page unparsable", "site", p.ID, "url", page.URL, "error", err)
		return rec
	}
	base := page.BaseURL()
	sel := doc.Selection

	rawTitle := FirstText(sel, p.Detail.Title)
	if rawTitle == "" {
		rawTitle = metaContent(doc, "og:title")
	}

	rec.Year = FirstNumber(FirstText(sel, p.Detail.Year))
	if rec.Year == nil {
		rec.Year = YearFromText(rawTitle)
	}
	rec.Title = CleanTitle(rawTitle, p.TitleNoise, rec.Year)

	rec.Poster = imageURL(sel, p.Detail.Poster, p.PosterAttrs, base)
	if rec.Poster == "" {
		rec.Poster = ResolveURL(base, metaContent(doc, "og:image"))
	}

	rec.Synopsis = FirstText(sel, p.Detail.Synopsis)
	if rec.Synopsis == "" {
		rec.Synopsis = metaContent(doc, "og:description")
	}

	rec.Duration = FirstNumber(FirstText(sel, p.Detail.Duration))
	rec.Rating = FirstDecimal(FirstText(sel, p.Detail.Rating))
	rec.Tags = collectSet(sel, p.Detail.Tags)
	rec.Cast = parseCast(sel, p.Detail.Cast, p.PosterAttrs, base)

	return rec
}

func metaContent(doc *goquery.Document, property string) string {
	v, _ := doc.Find(`meta[property="` + property + `"]`).First().Attr("content")
	return strings.TrimSpace(v)
}

func parseCast(sel *goquery.Selection, cs profile.CastSelectors, attrs []string, base string) []models.CastMember {
	if cs.Item == "" {
		return nil
	}

	seen := make(map[string]bool)
	var cast []models.CastMember
	sel.Find(cs.Item).Each(func(_ int, item *goquery.Selection) {
		name := FirstText(item, cs.Name)
		if name == "" {
			name = attrOf(item, []string{"title"})
		}
		if name == "" || seen[name] {
			return
		}
		seen[name] = true

		image := imageURL(item, cs.Image, attrs, base)
		if image == "" {
			// the item itself may carry the lazy-loaded background
			image = imageAttr(item, attrs, base)
		}

		cast = append(cast, models.CastMember{
			Name:  name,
			Image: image,
			Role:  FirstText(item, cs.Role),
		})
	})
	return cast
}

// DetectPageKind decides the kind of a fetched detail page from its URL and
// raw title, and treats a page advertising seasons as a series.
func DetectPageKind(page *models.RawPage, p *profile.SiteProfile) models.ContentKind {
	doc, err := Document(page)
	if err != nil {
		return DetectKind(page.URL, "", p)
	}
	title := FirstText(doc.Selection, p.Detail.Title)
	if title == "" {
		title = metaContent(doc, "og:title")
	}
	if kind := DetectKind(page.URL, title, p); kind == models.KindSeries {
		return kind
	}
	if p.Seasons.Item != "" && doc.Find(p.Seasons.Item).Length() > 0 {
		return models.KindSeries
	}
	return models.KindMovie
}
