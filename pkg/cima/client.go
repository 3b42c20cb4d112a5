// Package cima provides a public API for searching Arabic streaming sites
// and resolving their pages to playable links. This package can be used as
// a library in other Go projects.
package cima

import (
	"context"
	"time"

	"github.com/alvarorichard/cimaresolver/internal/fetcher"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/alvarorichard/cimaresolver/internal/render"
	"github.com/alvarorichard/cimaresolver/internal/scraper"
	"github.com/alvarorichard/cimaresolver/pkg/cima/types"
)

// Options configure a Client
type Options struct {
	// ProfilesDir holds extra *.yaml site profiles that replace built-ins
	ProfilesDir string
	// Render enables the headless browser fallback for sites that allow it
	Render bool
	// SearchTimeout bounds SearchAll; zero uses the default
	SearchTimeout time.Duration
}

// Client is the main client for interacting with the registered sites
type Client struct {
	manager *scraper.Manager
	opts    Options
}

// NewClient loads the site profiles and creates one session per site.
// Close must be called to release the browser when Render is set.
func NewClient(opts Options) (*Client, error) {
	reg, err := profile.LoadWithOverrides(opts.ProfilesDir)
	if err != nil {
		return nil, err
	}
	cfg := fetcher.DefaultConfig()
	if opts.Render {
		cfg.Renderer = render.NewPlaywright(render.DefaultOptions())
	}
	m, err := scraper.NewManager(reg, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{manager: m, opts: opts}, nil
}

// Sites returns the ids of the available sites
func (c *Client) Sites() []string {
	var ids []string
	for _, p := range c.manager.Providers() {
		ids = append(ids, p.ID())
	}
	return ids
}

// Search searches one site, or every site when site is empty
func (c *Client) Search(ctx context.Context, query, site string) ([]*types.Title, error) {
	if site == "" {
		hits, err := c.manager.SearchAll(ctx, query, c.opts.SearchTimeout)
		if err != nil {
			return nil, err
		}
		return types.FromSearchHits(hits), nil
	}

	p, err := c.manager.Provider(site)
	if err != nil {
		return nil, err
	}
	entries, err := p.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Title, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.FromEntry(p.ID(), e))
	}
	return out, nil
}

// Load parses a detail page; series come with their episode list
func (c *Client) Load(ctx context.Context, site, pageURL string) (*types.Detail, error) {
	p, err := c.manager.Provider(site)
	if err != nil {
		return nil, err
	}
	rec, err := p.Load(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return types.FromDetail(p.ID(), rec), nil
}

// Links resolves a movie or episode page to its playable links, best
// quality first. A page without sources yields an empty slice and no error.
func (c *Client) Links(ctx context.Context, site, pageURL string) ([]types.Link, error) {
	p, err := c.manager.Provider(site)
	if err != nil {
		return nil, err
	}
	var links []types.Link
	if _, err := p.LoadLinks(ctx, pageURL, func(l models.StreamLink) {
		links = append(links, types.FromStreamLink(l))
	}); err != nil {
		return nil, err
	}
	return links, nil
}

// IsSiteUnavailable reports whether err means a site kept serving an
// anti-bot challenge
func IsSiteUnavailable(err error) bool {
	return scraper.IsSiteUnavailable(err)
}

// Close releases the shared browser, if any
func (c *Client) Close() error {
	return c.manager.Close()
}
