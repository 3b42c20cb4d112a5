package parser

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/alvarorichard/cimaresolver/internal/util"
)

var episodeMarkerRe = regexp.MustCompile(`(?i)(?:الحلقة|حلقة|episode|ep)\s*[:#.-]?\s*(\d+)`)

// ParseSeasons lists the seasons a series page advertises. Seasons that
// carry neither a data identifier nor a page link are dropped.
func ParseSeasons(page *models.RawPage, p *profile.SiteProfile) []models.SeasonRef {
	if p.Seasons.Item == "" {
		return nil
	}
	doc, err := Document(page)
	if err != nil {
		util.Debug("Season list unparsable", "site", p.ID, "url", page.URL, "error", err)
		return nil
	}
	base := page.BaseURL()

	pagePost := ""
	if p.Seasons.PostSelector != "" && p.Seasons.PostAttr != "" {
		pagePost = FirstAttr(doc.Selection, []string{p.Seasons.PostSelector}, []string{p.Seasons.PostAttr})
	}

	var seasons []models.SeasonRef
	doc.Find(p.Seasons.Item).Each(func(i int, item *goquery.Selection) {
		s := models.SeasonRef{
			Label:  FirstText(item, p.Seasons.Label),
			PostID: pagePost,
		}
		if s.Label == "" {
			s.Label = NormalizeText(item.Text())
		}
		if p.Seasons.DataAttr != "" {
			s.DataID = attrOf(item, []string{p.Seasons.DataAttr})
		}
		if p.Seasons.PostAttr != "" {
			if post := attrOf(item, []string{p.Seasons.PostAttr}); post != "" {
				s.PostID = post
			}
		}

		switch {
		case goquery.NodeName(item) == "a":
			s.URL = ResolveURL(base, attrOf(item, []string{"href"}))
		case p.Seasons.Endpoint.URL == "" && s.DataID != "":
			// without an endpoint the data attribute is the season's page
			s.URL = ResolveURL(base, s.DataID)
		default:
			s.URL = ResolveURL(base, FirstAttr(item, []string{"a[href]"}, []string{"href"}))
		}

		s.Number = i + 1
		if p.Seasons.NumberAttr != "" {
			if n, err := strconv.Atoi(attrOf(item, []string{p.Seasons.NumberAttr})); err == nil {
				s.Number = n
			}
		} else if n := FirstNumber(s.Label); n != nil {
			s.Number = *n
		}

		if s.DataID == "" && s.URL == "" {
			util.Debug("Dropping season without identifier", "site", p.ID, "label", s.Label)
			return
		}
		seasons = append(seasons, s)
	})
	return seasons
}

// ParseEpisodes lists the episode anchors of a page, all attributed to season
func ParseEpisodes(page *models.RawPage, p *profile.SiteProfile, season int) []models.EpisodeRef {
	if p.Episodes.Item == "" {
		return nil
	}
	doc, err := Document(page)
	if err != nil {
		util.Debug("Episode list unparsable", "site", p.ID, "url", page.URL, "error", err)
		return nil
	}
	base := page.BaseURL()
	links := append(append([]string(nil), p.Episodes.Link...), "a")

	var episodes []models.EpisodeRef
	doc.Find(p.Episodes.Item).Each(func(_ int, item *goquery.Selection) {
		href := ""
		if goquery.NodeName(item) == "a" {
			href = attrOf(item, []string{"href"})
		}
		if href == "" {
			href = FirstAttr(item, links, []string{"href"})
		}
		link := ResolveURL(base, href)
		if link == "" {
			return
		}

		ep := models.EpisodeRef{
			URL:    link,
			Label:  FirstText(item, p.Episodes.Label),
			Season: season,
		}
		if ep.Label == "" {
			ep.Label = NormalizeText(item.Text())
		}
		if p.Episodes.NumberAttr != "" {
			ep.DataKey = attrOf(item, []string{p.Episodes.NumberAttr})
		}
		if ep.DataKey == "" {
			ep.DataKey = attrOf(item, []string{"data-id", "data-number"})
		}

		if n, err := strconv.Atoi(ep.DataKey); err == nil {
			ep.Episode = n
		} else {
			ep.Episode = EpisodeNumber(ep.Label)
		}
		episodes = append(episodes, ep)
	})
	return episodes
}

// EpisodeNumber reads the episode number from a label. A number following
// an episode marker wins over the last number in the label, so
// "الموسم 2 الحلقة 5" yields 5.
func EpisodeNumber(label string) int {
	label = arabicDigits.Replace(label)
	if m := episodeMarkerRe.FindStringSubmatch(label); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	all := digitsRe.FindAllString(label, -1)
	if len(all) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(all[len(all)-1])
	return n
}

// MergeEpisodes combines episode lists, keeping the first entry per URL,
// and orders them by season, episode, markup key and finally URL.
func MergeEpisodes(lists ...[]models.EpisodeRef) []models.EpisodeRef {
	seen := make(map[string]bool)
	var merged []models.EpisodeRef
	for _, list := range lists {
		for _, ep := range list {
			if ep.URL == "" || seen[ep.URL] {
				continue
			}
			seen[ep.URL] = true
			merged = append(merged, ep)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Season != b.Season {
			return a.Season < b.Season
		}
		if a.Episode != b.Episode {
			return a.Episode < b.Episode
		}
		if a.DataKey != b.DataKey {
			return lessKey(a.DataKey, b.DataKey)
		}
		return a.URL < b.URL
	})
	return merged
}

func lessKey(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
