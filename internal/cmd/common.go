package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/alvarorichard/cimaresolver/internal/fetcher"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/alvarorichard/cimaresolver/internal/render"
	"github.com/alvarorichard/cimaresolver/internal/scraper"
	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// loadRegistry reads the built-in profiles plus --profiles
func loadRegistry() (*profile.Registry, error) {
	reg, err := profile.LoadWithOverrides(profilesDir)
	if err != nil {
		return nil, errors.Wrap(err, "load site profiles")
	}
	return reg, nil
}

// newManager wires a Manager over every registered site. Callers must Close it.
func newManager() (*scraper.Manager, error) {
	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}

	cfg := fetcher.DefaultConfig()
	if !noRender {
		cfg.Renderer = render.NewPlaywright(render.DefaultOptions())
	} else {
		util.Debug("Render fallback disabled by flag")
	}
	return scraper.NewManager(reg, cfg)
}

// withProvider runs fn against the provider of site and closes the manager afterwards
func withProvider(cmd *cobra.Command, site string, fn func(ctx context.Context, p *scraper.Provider) error) error {
	m, err := newManager()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			util.Debug("Renderer shutdown failed", "error", cerr)
		}
	}()

	p, err := m.Provider(site)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, p)
}

func formatEntry(e models.ListingEntry) string {
	var b strings.Builder
	b.WriteString(e.Title)
	if e.Year != nil {
		fmt.Fprintf(&b, " (%d)", *e.Year)
	}
	if e.Kind == models.KindSeries {
		b.WriteString(" [series]")
	}
	return b.String()
}

func formatLink(l models.StreamLink) string {
	kind := "progressive"
	if l.IsSegmented {
		kind = "hls"
	}
	return fmt.Sprintf("%-7s %-11s %s", l.Quality, kind, l.Label)
}

func printEntries(w io.Writer, entries []models.ListingEntry) {
	for i, e := range entries {
		fmt.Fprintf(w, "%3d. %s\n     %s\n", i+1, formatEntry(e), e.URL)
	}
}

func printDetail(w io.Writer, rec *models.DetailRecord) {
	fmt.Fprintln(w, util.Title(rec.Summary()))
	if rec.Synopsis != "" {
		fmt.Fprintln(w, util.Truncate(rec.Synopsis, 280))
	}
	if rec.Duration != nil {
		fmt.Fprintf(w, "Duration: %d min\n", *rec.Duration)
	}
	if rec.Rating != nil {
		fmt.Fprintf(w, "Rating:   %.1f\n", *rec.Rating)
	}
	if len(rec.Tags) > 0 {
		fmt.Fprintf(w, "Tags:     %s\n", strings.Join(rec.Tags, ", "))
	}
	if len(rec.Cast) > 0 {
		names := make([]string, 0, len(rec.Cast))
		for _, c := range rec.Cast {
			names = append(names, c.Name)
		}
		fmt.Fprintf(w, "Cast:     %s\n", strings.Join(names, ", "))
	}
	if rec.Poster != "" {
		fmt.Fprintf(w, "Poster:   %s\n", rec.Poster)
	}
	for _, ep := range rec.Episodes {
		fmt.Fprintf(w, "  S%02dE%02d  %s\n           %s\n", ep.Season, ep.Episode, ep.Label, ep.URL)
	}
}

func printLink(w io.Writer, l models.StreamLink) {
	fmt.Fprintln(w, util.Success(formatLink(l)))
	fmt.Fprintf(w, "    %s\n", l.URL)
	headers := l.Headers()
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "    %s: %s\n", k, headers[k])
	}
}
