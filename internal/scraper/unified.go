package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alvarorichard/cimaresolver/internal/fetcher"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/pkg/errors"
)

// searchTimeout is the maximum time to wait for all sites
const searchTimeout = 15 * time.Second

// ErrNoResults is returned by SearchAll when no site had a match
var ErrNoResults = errors.New("no results")

// SearchHit is a listing entry tagged with the site it came from
type SearchHit struct {
	Site string
	models.ListingEntry
}

// Manager holds one Provider per registered site
type Manager struct {
	providers map[string]*Provider
	order     []string
	renderer  fetcher.Renderer
}

// NewManager creates a provider for every profile in reg. All providers
// share cfg's transport and renderer but get their own session.
func NewManager(reg *profile.Registry, cfg fetcher.Config) (*Manager, error) {
	m := &Manager{
		providers: make(map[string]*Provider),
		renderer:  cfg.Renderer,
	}
	if cfg.Transport == nil {
		cfg.Transport = util.NewTransport(util.DefaultTransportConfig())
	}

	for _, p := range reg.All() {
		prov, err := NewProvider(p, cfg)
		if err != nil {
			return nil, err
		}
		m.providers[p.ID] = prov
		m.order = append(m.order, p.ID)
	}
	return m, nil
}

// Provider returns the provider for a site id
func (m *Manager) Provider(id string) (*Provider, error) {
	if p, ok := m.providers[strings.ToLower(id)]; ok {
		return p, nil
	}
	return nil, errors.Wrapf(profile.ErrUnknownSite, "%q", id)
}

// Providers returns every provider ordered by site id
func (m *Manager) Providers() []*Provider {
	out := make([]*Provider, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.providers[id])
	}
	return out
}

// SearchAll searches every site concurrently. Sites that fail or time out
// are logged and skipped. timeout <= 0 uses the default budget.
func (m *Manager) SearchAll(ctx context.Context, query string, timeout time.Duration) ([]SearchHit, error) {
	if timeout <= 0 {
		timeout = searchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	util.Debug("Starting concurrent search across all sites", "query", query, "sites", len(m.order))

	type searchResult struct {
		site    string
		entries []models.ListingEntry
		err     error
	}

	resultChan := make(chan searchResult, len(m.order))
	var wg sync.WaitGroup
	for _, id := range m.order {
		wg.Add(1)
		go func(p *Provider) {
			defer wg.Done()
			entries, err := p.Search(ctx, query)
			resultChan <- searchResult{site: p.ID(), entries: entries, err: err}
		}(m.providers[id])
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	bySite := make(map[string][]models.ListingEntry)
	var searchErrors []string
	for res := range resultChan {
		if res.err != nil {
			util.Debug("Search error", "site", res.site, "error", res.err)
			searchErrors = append(searchErrors, fmt.Sprintf("%s: %v", res.site, res.err))
			if IsSiteUnavailable(res.err) {
				util.Warn("Site is behind an anti-bot challenge", "site", res.site)
			}
			continue
		}
		bySite[res.site] = res.entries
	}

	for _, errMsg := range searchErrors {
		util.Warn("Search source unavailable", "details", errMsg)
	}

	// results keep the stable site order regardless of completion order
	var hits []SearchHit
	for _, id := range m.order {
		for _, e := range bySite[id] {
			hits = append(hits, SearchHit{Site: id, ListingEntry: e})
		}
	}

	if len(hits) == 0 {
		if len(searchErrors) > 0 {
			return nil, errors.Wrapf(ErrNoResults, "%q (some sources failed: %s)", query, strings.Join(searchErrors, "; "))
		}
		return nil, errors.Wrapf(ErrNoResults, "%q", query)
	}

	util.Debug("Search summary", "query", query, "total", len(hits), "failedSites", len(searchErrors))
	return hits, nil
}

// IsSiteUnavailable reports whether err means the site kept serving an
// anti-bot challenge
func IsSiteUnavailable(err error) bool {
	return fetcher.IsBlocked(err)
}

// Close releases the shared renderer
func (m *Manager) Close() error {
	if m.renderer == nil {
		return nil
	}
	return m.renderer.Close()
}
