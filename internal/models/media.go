// Package models contains data structures for scraped media content
package models

import (
	"fmt"
	"strings"
)

// ContentKind represents the type of content a page describes
type ContentKind int

const (
	KindMovie ContentKind = iota
	KindSeries
)

// String returns the lowercase name of the kind
func (k ContentKind) String() string {
	if k == KindSeries {
		return "series"
	}
	return "movie"
}

// ListingEntry is one item of a listing or search page
type ListingEntry struct {
	Title  string
	URL    string
	Poster string
	Kind   ContentKind
	Year   *int
}

// CastMember is an actor or crew credit on a detail page
type CastMember struct {
	Name  string
	Image string
	Role  string
}

// SeasonRef identifies one season of a series as advertised by the
// detail page. DataID and PostID feed the episode-listing endpoint; URL is
// set instead when the season has a page of its own.
type SeasonRef struct {
	Number int
	DataID string
	PostID string
	URL    string
	Label  string
}

// EpisodeRef points at a single episode page
type EpisodeRef struct {
	URL     string
	Label   string
	Season  int
	Episode int
	// DataKey is the raw ordering key carried by the markup (data-*
	// attribute), used when numbers are missing or tied.
	DataKey string
}

// DetailRecord holds everything parsed from a title's detail page
type DetailRecord struct {
	URL      string
	Title    string
	Poster   string
	Synopsis string
	Year     *int
	Duration *int // minutes
	Rating   *float64
	Tags     []string
	Cast     []CastMember
	Kind     ContentKind
	Episodes []EpisodeRef
}

// IsSeries reports whether the record was parsed as a series
func (d *DetailRecord) IsSeries() bool {
	return d.Kind == KindSeries
}

// Summary returns a one-line description used by the CLI
func (d *DetailRecord) Summary() string {
	var parts []string
	parts = append(parts, d.Title)
	if d.Year != nil {
		parts = append(parts, fmt.Sprintf("(%d)", *d.Year))
	}
	parts = append(parts, "["+d.Kind.String()+"]")
	if d.IsSeries() {
		parts = append(parts, fmt.Sprintf("%d episodes", len(d.Episodes)))
	}
	return strings.Join(parts, " ")
}

// RawPage is genuine page content returned by the fetcher. A challenge
// page is never represented as a RawPage.
type RawPage struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Rendered   bool
}

// BaseURL returns the URL relative links on the page resolve against
func (p *RawPage) BaseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}
