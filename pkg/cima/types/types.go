// Package types provides public type definitions for the cima library
package types

import (
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/scraper"
)

// Title is a search or listing result
type Title struct {
	// Site is the id of the site the title came from, e.g. "arabseed"
	Site string
	// Name is the cleaned display title
	Name   string
	URL    string
	Poster string
	// Series is true when the title is a series rather than a movie
	Series bool
	// Year is zero when unknown
	Year int
}

// Episode points at one episode page
type Episode struct {
	URL     string
	Label   string
	Season  int
	Episode int
}

// Detail is a parsed detail page
type Detail struct {
	Site     string
	URL      string
	Name     string
	Poster   string
	Synopsis string
	Year     int
	// Duration in minutes, zero when unknown
	Duration int
	// Rating is zero when unknown
	Rating   float64
	Tags     []string
	Cast     []string
	Series   bool
	Episodes []Episode
}

// Link is a playable stream
type Link struct {
	URL string
	// Quality is a display label such as "1080p" or "Unknown"
	Quality string
	Label   string
	// HLS is true for segmented playlists
	HLS bool
	// Headers must be sent with every request for the stream
	Headers map[string]string
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// FromSearchHits converts search results
func FromSearchHits(hits []scraper.SearchHit) []*Title {
	out := make([]*Title, 0, len(hits))
	for _, h := range hits {
		out = append(out, FromEntry(h.Site, h.ListingEntry))
	}
	return out
}

// FromEntry converts one listing entry
func FromEntry(site string, e models.ListingEntry) *Title {
	return &Title{
		Site:   site,
		Name:   e.Title,
		URL:    e.URL,
		Poster: e.Poster,
		Series: e.Kind == models.KindSeries,
		Year:   intOrZero(e.Year),
	}
}

// FromDetail converts a detail record
func FromDetail(site string, d *models.DetailRecord) *Detail {
	out := &Detail{
		Site:     site,
		URL:      d.URL,
		Name:     d.Title,
		Poster:   d.Poster,
		Synopsis: d.Synopsis,
		Year:     intOrZero(d.Year),
		Duration: intOrZero(d.Duration),
		Tags:     d.Tags,
		Series:   d.IsSeries(),
	}
	if d.Rating != nil {
		out.Rating = *d.Rating
	}
	for _, c := range d.Cast {
		out.Cast = append(out.Cast, c.Name)
	}
	for _, ep := range d.Episodes {
		out.Episodes = append(out.Episodes, Episode{URL: ep.URL, Label: ep.Label, Season: ep.Season, Episode: ep.Episode})
	}
	return out
}

// FromStreamLink converts a resolved stream link
func FromStreamLink(l models.StreamLink) Link {
	return Link{
		URL:     l.URL,
		Quality: l.Quality.String(),
		Label:   l.Label,
		HLS:     l.IsSegmented,
		Headers: l.Headers(),
	}
}
