// Package scraper exposes each site profile as a Provider: listing, search,
// detail loading and link resolution wired on top of the shared fetcher,
// parser and resolver.
package scraper

import (
	"context"
	"sort"
	"strings"

	"github.com/alvarorichard/cimaresolver/internal/fetcher"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/parser"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/alvarorichard/cimaresolver/internal/resolver"
	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/pkg/errors"
)

// seasonWorkers bounds concurrent season-list requests
const seasonWorkers = 4

// LinkStatus is the outcome of LoadLinks
type LinkStatus int

const (
	// NoSources means the page was reachable but carried no playable link
	NoSources LinkStatus = iota
	// LinksFound means at least one link was delivered to the callback
	LinksFound
)

func (s LinkStatus) String() string {
	if s == LinksFound {
		return "links found"
	}
	return "no sources"
}

// Provider is the per-site entry point
type Provider struct {
	profile  *profile.SiteProfile
	fetcher  *fetcher.Fetcher
	resolver *resolver.Resolver
}

// NewProvider creates the site session and resolver for p
func NewProvider(p *profile.SiteProfile, cfg fetcher.Config) (*Provider, error) {
	f, err := fetcher.New(p, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: create session", p.ID)
	}
	return &Provider{
		profile:  p,
		fetcher:  f,
		resolver: resolver.New(f, p),
	}, nil
}

// ID returns the site identifier
func (p *Provider) ID() string { return p.profile.ID }

// Name returns the display name of the site
func (p *Provider) Name() string { return p.profile.Name }

// Profile returns the site profile
func (p *Provider) Profile() *profile.SiteProfile { return p.profile }

// Sections lists the names of the browsable main-page sections
func (p *Provider) Sections() []string {
	names := make([]string, 0, len(p.profile.Sections))
	for _, s := range p.profile.Sections {
		names = append(names, s.Name)
	}
	return names
}

// MainPage returns one page of a listing section. Pages start at 1.
func (p *Provider) MainPage(ctx context.Context, section string, page int) ([]models.ListingEntry, error) {
	if page < 1 {
		page = 1
	}
	u, err := p.profile.SectionURL(section, page)
	if err != nil {
		return nil, err
	}

	raw, err := p.fetcher.Fetch(ctx, u, p.fetcher.DefaultOptions())
	if err != nil {
		return nil, errors.Wrapf(err, "%s: section %q page %d", p.ID(), section, page)
	}
	entries := parser.ParseListing(raw, p.profile)
	util.Debug("Main page parsed", "site", p.ID(), "section", section, "page", page, "entries", len(entries))
	return entries, nil
}

// Search queries every configured search endpoint concurrently. Endpoints
// that fail are logged and skipped; the search only fails when all of
// them did.
func (p *Provider) Search(ctx context.Context, query string) ([]models.ListingEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	endpoints := p.profile.Search
	if len(endpoints) == 0 {
		return nil, errors.Errorf("%s: no search endpoints configured", p.ID())
	}

	data := p.profile.Data()
	data.Query = query

	results := make([][]models.ListingEntry, len(endpoints))
	errs := make([]error, len(endpoints))
	tasks := make([]func(), len(endpoints))
	for i, ep := range endpoints {
		tasks[i] = func() {
			results[i], errs[i] = p.searchEndpoint(ctx, ep, data)
		}
	}
	util.ParallelExecute(len(tasks), tasks...)

	var (
		merged  []models.ListingEntry
		seen    = make(map[string]bool)
		failed  int
		lastErr error
	)
	for i, err := range errs {
		if err != nil {
			failed++
			lastErr = err
			util.Warn("Search endpoint failed", "site", p.ID(), "endpoint", endpoints[i].Name, "error", err)
			continue
		}
		for _, e := range results[i] {
			if seen[e.URL] {
				continue
			}
			seen[e.URL] = true
			merged = append(merged, e)
		}
	}

	if failed == len(endpoints) {
		return nil, errors.Wrapf(lastErr, "%s: all %d search endpoints failed", p.ID(), failed)
	}
	util.Debug("Search completed", "site", p.ID(), "query", query, "results", len(merged), "failedEndpoints", failed)
	return merged, nil
}

func (p *Provider) searchEndpoint(ctx context.Context, ep profile.Endpoint, data profile.TemplateData) ([]models.ListingEntry, error) {
	req, err := ep.Build(data)
	if err != nil {
		return nil, err
	}
	raw, err := p.fetcher.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return parser.ParseListing(raw, p.profile), nil
}

// Load fetches and parses a detail page. The kind is decided once up
// front; series get their episodes from the per-season lists, or from the
// flat list on the page when there are none.
func (p *Provider) Load(ctx context.Context, rawURL string) (*models.DetailRecord, error) {
	page, err := p.fetcher.Fetch(ctx, rawURL, p.fetcher.DefaultOptions())
	if err != nil {
		return nil, errors.Wrapf(err, "%s: load", p.ID())
	}

	kind := parser.DetectPageKind(page, p.profile)
	rec := parser.ParseDetail(page, p.profile, kind)
	if rec.Kind == models.KindSeries {
		rec.Episodes = p.loadEpisodes(ctx, page)
	}

	util.Debug("Detail loaded", "site", p.ID(), "url", rawURL, "kind", rec.Kind, "episodes", len(rec.Episodes))
	return &rec, nil
}

func (p *Provider) loadEpisodes(ctx context.Context, page *models.RawPage) []models.EpisodeRef {
	seasons := parser.ParseSeasons(page, p.profile)
	if len(seasons) == 0 {
		return parser.MergeEpisodes(parser.ParseEpisodes(page, p.profile, 1))
	}

	lists := make([][]models.EpisodeRef, len(seasons))
	tasks := make([]func(), len(seasons))
	for i, s := range seasons {
		tasks[i] = func() {
			eps, err := p.seasonEpisodes(ctx, page, s)
			if err != nil {
				util.Warn("Season list unavailable", "site", p.ID(), "season", s.Number, "error", err)
				return
			}
			lists[i] = eps
		}
	}
	util.ParallelExecute(seasonWorkers, tasks...)

	merged := parser.MergeEpisodes(lists...)
	if len(merged) == 0 {
		return parser.MergeEpisodes(parser.ParseEpisodes(page, p.profile, 1))
	}
	return merged
}

func (p *Provider) seasonEpisodes(ctx context.Context, page *models.RawPage, s models.SeasonRef) ([]models.EpisodeRef, error) {
	var (
		raw *models.RawPage
		err error
	)
	switch {
	case p.profile.Seasons.Endpoint.URL != "" && s.DataID != "":
		data := p.profile.Data()
		data.Season = s.DataID
		data.Post = s.PostID
		req, berr := p.profile.Seasons.Endpoint.Build(data)
		if berr != nil {
			return nil, berr
		}
		raw, err = p.fetcher.Do(ctx, req)
	case s.URL == page.URL || s.URL == page.FinalURL:
		raw = page
	case s.URL != "":
		raw, err = p.fetcher.Fetch(ctx, s.URL, p.fetcher.DefaultOptions())
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parser.ParseEpisodes(raw, p.profile, s.Number), nil
}

// LoadLinks resolves the stream links of a movie or episode page and hands
// them to cb, best quality first.
func (p *Provider) LoadLinks(ctx context.Context, rawURL string, cb func(models.StreamLink)) (LinkStatus, error) {
	page, err := p.fetcher.Fetch(ctx, rawURL, p.fetcher.DefaultOptions())
	if err != nil {
		return NoSources, errors.Wrapf(err, "%s: load links", p.ID())
	}

	links, err := p.resolver.Resolve(ctx, page)
	if err != nil {
		return NoSources, errors.Wrapf(err, "%s: resolve", p.ID())
	}
	if len(links) == 0 {
		util.Info("No playable sources found", "site", p.ID(), "url", rawURL)
		return NoSources, nil
	}

	SortByQuality(links)
	for _, l := range links {
		cb(l)
	}
	return LinksFound, nil
}

// SortByQuality orders links best quality first, keeping discovery order
// among equals.
func SortByQuality(links []models.StreamLink) {
	sort.SliceStable(links, func(i, j int) bool {
		return links[i].Quality > links[j].Quality
	})
}
