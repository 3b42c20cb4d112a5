package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/alvarorichard/cimaresolver/internal/scraper"
	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/spf13/cobra"
)

var searchSite string

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search one site or all of them",
	Long: `Search every registered site concurrently, or only the one given with --site.
Sites that fail or stay behind an anti-bot challenge are reported and skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearchCommand,
}

func runSearchCommand(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	w := cmd.OutOrStdout()

	if searchSite != "" {
		return withProvider(cmd, searchSite, func(ctx context.Context, p *scraper.Provider) error {
			entries, err := p.Search(ctx, query)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				util.Info("No results", "site", p.ID(), "query", query)
				return nil
			}
			printEntries(w, entries)
			return nil
		})
	}

	m, err := newManager()
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	hits, err := m.SearchAll(cmd.Context(), query, timeout)
	if err != nil {
		return err
	}
	site := ""
	for i, h := range hits {
		if h.Site != site {
			site = h.Site
			fmt.Fprintln(w, util.Title(site))
		}
		fmt.Fprintf(w, "%3d. %s\n     %s\n", i+1, formatEntry(h.ListingEntry), h.URL)
	}
	return nil
}

func init() {
	searchCmd.Flags().StringVarP(&searchSite, "site", "s", "", "Only search this site")
	rootCmd.AddCommand(searchCmd)
}
