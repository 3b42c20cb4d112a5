// Package resolver turns a watch page into playable stream links. Embed
// candidates are discovered on the page, then each is resolved through a
// fixed chain of strategies: direct media, inline script manifest and a
// single relay hop into a nested iframe.
package resolver

import (
	"context"
	"sync"

	"github.com/alvarorichard/cimaresolver/internal/fetcher"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/parser"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds how many candidates are resolved at once
const DefaultWorkers = 4

// PageFetcher is the slice of the site session the resolver needs
type PageFetcher interface {
	Fetch(ctx context.Context, url string, opts fetcher.Options) (*models.RawPage, error)
}

// Resolver resolves the watch pages of one site
type Resolver struct {
	fetcher PageFetcher
	profile *profile.SiteProfile
	workers int
}

// New creates a resolver that fetches through f
func New(f PageFetcher, p *profile.SiteProfile) *Resolver {
	return &Resolver{fetcher: f, profile: p, workers: DefaultWorkers}
}

// Resolve returns the stream links reachable from page. A page without
// candidates yields no links and no error. The call only fails when no link
// was found and at least one candidate could not be fetched; links found
// before ctx expires are returned.
func (r *Resolver) Resolve(ctx context.Context, page *models.RawPage) ([]models.StreamLink, error) {
	timer := util.StartTimer(r.profile.ID + ".resolve")
	defer timer.Stop()

	candidates := Discover(page, r.profile)
	if len(candidates) == 0 {
		watch, err := r.watchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		if watch != nil {
			candidates = Discover(watch, r.profile)
			page = watch
		}
	}
	if len(candidates) == 0 {
		util.Debug("No embed candidates", "site", r.profile.ID, "url", page.URL)
		return nil, nil
	}
	util.Debug("Resolving candidates", "site", r.profile.ID, "url", page.URL, "candidates", len(candidates))

	results := make([][]models.StreamLink, len(candidates))
	var (
		mu       sync.Mutex
		firstErr error
		g        errgroup.Group
	)
	g.SetLimit(r.workers)

	for i, cand := range candidates {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			util.Count(r.profile.ID + ".candidate")
			links, err := r.resolveCandidate(ctx, page.URL, cand)
			if err != nil {
				util.Debug("Candidate failed", "site", r.profile.ID, "candidate", cand.URL, "error", err)
				if fetcher.IsTransport(err) {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
				return nil
			}
			results[i] = links
			return nil
		})
	}
	_ = g.Wait()

	links := dedupe(results)
	if len(links) > 0 {
		return links, nil
	}
	if firstErr != nil {
		return nil, errors.Wrap(firstErr, "no candidate could be resolved")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "resolve interrupted")
	}
	return nil, nil
}

// watchPage follows the profile's watch link when the detail page itself
// carries no player. It returns nil when there is no such link or the link
// is dead; only transport failures are errors.
func (r *Resolver) watchPage(ctx context.Context, page *models.RawPage) (*models.RawPage, error) {
	if len(r.profile.Servers.WatchLink) == 0 {
		return nil, nil
	}
	doc, err := parser.Document(page)
	if err != nil {
		return nil, nil
	}
	href := parser.FirstAttr(doc.Selection, r.profile.Servers.WatchLink, []string{"href"})
	link := parser.ResolveURL(page.BaseURL(), href)
	if link == "" || link == page.URL {
		return nil, nil
	}

	opts := fetcher.Options{
		UseFallback: r.profile.Fallback,
		Headers:     map[string]string{"Referer": page.URL},
	}
	watch, err := r.fetcher.Fetch(ctx, link, opts)
	if err != nil {
		if fetcher.IsTransport(err) {
			return nil, errors.Wrap(err, "fetch watch page")
		}
		util.Debug("Watch link unusable", "site", r.profile.ID, "url", link, "error", err)
		return nil, nil
	}
	return watch, nil
}

func (r *Resolver) resolveCandidate(ctx context.Context, referer string, cand models.EmbedCandidate) ([]models.StreamLink, error) {
	// Strategy 1, cheapest form: the candidate already is the media file
	if r.profile.IsMediaURL(cand.URL) {
		return []models.StreamLink{r.link(cand.URL, "", referer, cand)}, nil
	}

	embed, err := r.fetchEmbed(ctx, cand.URL, referer)
	if err != nil {
		return nil, err
	}
	if links := r.fromPage(embed, cand); len(links) > 0 {
		return links, nil
	}

	// Strategy 3: one relay hop into the first nested iframe
	nested := firstIframe(embed)
	if nested == "" || nested == cand.URL {
		return nil, nil
	}
	if r.profile.IsMediaURL(nested) {
		return []models.StreamLink{r.link(nested, "", cand.URL, cand)}, nil
	}
	relay, err := r.fetchEmbed(ctx, nested, cand.URL)
	if err != nil {
		return nil, err
	}
	return r.fromPage(relay, cand), nil
}

func (r *Resolver) fetchEmbed(ctx context.Context, rawURL, referer string) (*models.RawPage, error) {
	// Embed hosts are third parties; the site's render fallback does not
	// apply to them.
	return r.fetcher.Fetch(ctx, rawURL, fetcher.Options{
		Headers: map[string]string{"Referer": referer},
	})
}

// fromPage runs strategies 1 and 2 against an already fetched embed page
func (r *Resolver) fromPage(page *models.RawPage, cand models.EmbedCandidate) []models.StreamLink {
	referer := page.BaseURL()
	exts := r.profile.Embeds.MediaExtensions

	var links []models.StreamLink
	for _, src := range mediaElements(page) {
		if profile.MediaExtension(src.url, exts) != "" {
			links = append(links, r.link(src.url, src.label, referer, cand))
		}
	}
	if len(links) > 0 {
		return links
	}

	for _, src := range scriptManifest(page, exts) {
		links = append(links, r.link(src.url, src.label, referer, cand))
	}
	return links
}

func (r *Resolver) link(mediaURL, label, referer string, cand models.EmbedCandidate) models.StreamLink {
	// a per-source label beats the candidate-wide hint
	quality := InferQuality(label)
	if quality == models.QualityUnknown {
		quality = cand.QualityHint
	}
	if quality == models.QualityUnknown {
		quality = qualityFromURL(mediaURL)
	}

	name := cand.Label
	if label != "" && label != name {
		if name == "" {
			name = label
		} else {
			name += " - " + label
		}
	}
	if name == "" {
		name = hostOf(mediaURL)
	}

	return models.StreamLink{
		URL:         mediaURL,
		Label:       name,
		Quality:     quality,
		Referer:     referer,
		IsSegmented: profile.MediaExtension(mediaURL, []string{".m3u8"}) != "",
	}
}

func dedupe(results [][]models.StreamLink) []models.StreamLink {
	seen := make(map[string]bool)
	var out []models.StreamLink
	for _, links := range results {
		for _, l := range links {
			if seen[l.URL] {
				continue
			}
			seen[l.URL] = true
			out = append(out, l)
		}
	}
	return out
}

var _ PageFetcher = (*fetcher.Fetcher)(nil)
