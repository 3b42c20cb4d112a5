package parser

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/alvarorichard/cimaresolver/internal/util"
)

// ParseListing extracts the items of a listing or search page. Fragments
// without both a title and a link are dropped.
func ParseListing(page *models.RawPage, p *profile.SiteProfile) []models.ListingEntry {
	doc, err := Document(page)
	if err != nil {
		util.Debug("Listing page unparsable", "site", p.ID, "url", page.URL, "error", err)
		return nil
	}

	base := page.BaseURL()
	seen := make(map[string]bool)
	var entries []models.ListingEntry

	doc.Find(p.Listing.Item).Each(func(i int, item *goquery.Selection) {
		entry, ok := parseListingItem(item, p, base)
		if !ok {
			util.Debug("Dropping listing fragment", "site", p.ID, "index", i)
			return
		}
		if seen[entry.URL] {
			return
		}
		seen[entry.URL] = true
		entries = append(entries, entry)
	})

	return entries
}

func parseListingItem(item *goquery.Selection, p *profile.SiteProfile, base string) (models.ListingEntry, bool) {
	rawTitle := FirstText(item, p.Listing.Title)
	if rawTitle == "" {
		rawTitle = attrOf(item, []string{"title"})
	}

	href := FirstAttr(item, p.Listing.Link, []string{"href"})
	if href == "" && goquery.NodeName(item) == "a" {
		href = attrOf(item, []string{"href"})
	}
	link := ResolveURL(base, href)

	year := FirstNumber(FirstText(item, p.Listing.Year))
	if year == nil {
		year = YearFromText(rawTitle)
	}
	title := CleanTitle(rawTitle, p.TitleNoise, year)

	if title == "" || link == "" {
		return models.ListingEntry{}, false
	}

	kind := DetectKind(link, rawTitle, p)
	if containsAny(FirstText(item, p.Listing.TypeHint), p.SeriesMarkers) {
		kind = models.KindSeries
	}

	return models.ListingEntry{
		Title:  title,
		URL:    link,
		Poster: imageURL(item, p.Listing.Poster, p.PosterAttrs, base),
		Kind:   kind,
		Year:   year,
	}, true
}
