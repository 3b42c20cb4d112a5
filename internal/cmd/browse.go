package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/scraper"
	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/ktr0731/go-fuzzyfinder"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var browseCmd = &cobra.Command{
	Use:   "browse <site> <query>",
	Short: "Search a site and pick a title, episode and link interactively",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runBrowseCommand,
}

func runBrowseCommand(cmd *cobra.Command, args []string) error {
	query := strings.Join(args[1:], " ")

	return withProvider(cmd, args[0], func(ctx context.Context, p *scraper.Provider) error {
		entries, err := p.Search(ctx, query)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errors.Errorf("no results for %q on %s", query, p.ID())
		}

		entry, err := selectEntry(entries)
		if err != nil {
			return err
		}

		target := entry.URL
		rec, err := p.Load(ctx, entry.URL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), util.Title(rec.Summary()))

		if rec.IsSeries() && len(rec.Episodes) > 0 {
			ep, err := selectEpisode(rec.Episodes)
			if err != nil {
				return err
			}
			target = ep.URL
		}

		var links []models.StreamLink
		status, err := p.LoadLinks(ctx, target, func(l models.StreamLink) {
			links = append(links, l)
		})
		if err != nil {
			return err
		}
		if status == scraper.NoSources {
			fmt.Fprintln(cmd.OutOrStdout(), util.Warning("No playable sources on "+target))
			return nil
		}

		link, err := selectLink(links)
		if err != nil {
			return err
		}
		printLink(cmd.OutOrStdout(), link)
		return nil
	})
}

func selectEntry(entries []models.ListingEntry) (models.ListingEntry, error) {
	if len(entries) == 1 {
		return entries[0], nil
	}
	idx, err := fuzzyfinder.Find(
		entries,
		func(i int) string {
			return formatEntry(entries[i])
		},
		fuzzyfinder.WithPromptString("Select title: "),
		fuzzyfinder.WithPreviewWindow(func(i, w, h int) string {
			if i >= 0 && i < len(entries) {
				return fmt.Sprintf("URL: %s\nPoster: %s", entries[i].URL, entries[i].Poster)
			}
			return ""
		}),
	)
	if err != nil {
		return models.ListingEntry{}, errors.Wrap(err, "title selection cancelled")
	}
	return entries[idx], nil
}

func selectEpisode(episodes []models.EpisodeRef) (models.EpisodeRef, error) {
	idx, err := fuzzyfinder.Find(
		episodes,
		func(i int) string {
			return fmt.Sprintf("S%02dE%02d %s", episodes[i].Season, episodes[i].Episode, episodes[i].Label)
		},
		fuzzyfinder.WithPromptString("Select episode: "),
	)
	if err != nil {
		return models.EpisodeRef{}, errors.Wrap(err, "episode selection cancelled")
	}
	return episodes[idx], nil
}

func selectLink(links []models.StreamLink) (models.StreamLink, error) {
	if len(links) == 1 {
		return links[0], nil
	}
	idx, err := fuzzyfinder.Find(
		links,
		func(i int) string {
			return formatLink(links[i])
		},
		fuzzyfinder.WithPromptString("Select link: "),
		fuzzyfinder.WithPreviewWindow(func(i, w, h int) string {
			if i >= 0 && i < len(links) {
				return fmt.Sprintf("URL: %s\nReferer: %s", links[i].URL, links[i].Referer)
			}
			return ""
		}),
	)
	if err != nil {
		return models.StreamLink{}, errors.Wrap(err, "link selection cancelled")
	}
	return links[idx], nil
}

func init() {
	rootCmd.AddCommand(browseCmd)
}
