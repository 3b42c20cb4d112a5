package cmd

import (
	"context"
	"strconv"

	"github.com/alvarorichard/cimaresolver/internal/scraper"
	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list <site> [section] [page]",
	Short: "Show one page of a site's listing section",
	Long: `Show one page of a listing section. The section defaults to the first one
the profile declares and the page defaults to 1. Run "cimaresolver sites" to see
the available sections.`,
	Args: cobra.RangeArgs(1, 3),
	RunE: runListCommand,
}

func runListCommand(cmd *cobra.Command, args []string) error {
	page := 1
	if len(args) == 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return errors.Errorf("invalid page %q", args[2])
		}
		page = n
	}

	return withProvider(cmd, args[0], func(ctx context.Context, p *scraper.Provider) error {
		section := ""
		if len(args) >= 2 {
			section = args[1]
		} else if sections := p.Sections(); len(sections) > 0 {
			section = sections[0]
		}
		if section == "" {
			return errors.Errorf("%s has no listing sections", p.ID())
		}

		entries, err := p.MainPage(ctx, section, page)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			util.Info("Section page is empty", "site", p.ID(), "section", section, "page", page)
			return nil
		}
		printEntries(cmd.OutOrStdout(), entries)
		return nil
	})
}

func init() {
	rootCmd.AddCommand(listCmd)
}
