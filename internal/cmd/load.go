package cmd

import (
	"context"

	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/scraper"
	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load <site> <url>",
	Short: "Parse a detail page and list its episodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProvider(cmd, args[0], func(ctx context.Context, p *scraper.Provider) error {
			rec, err := p.Load(ctx, args[1])
			if err != nil {
				return err
			}
			printDetail(cmd.OutOrStdout(), rec)
			return nil
		})
	},
}

var linksCmd = &cobra.Command{
	Use:   "links <site> <url>",
	Short: "Resolve the playable stream links of a movie or episode page",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProvider(cmd, args[0], func(ctx context.Context, p *scraper.Provider) error {
			status, err := p.LoadLinks(ctx, args[1], func(l models.StreamLink) {
				printLink(cmd.OutOrStdout(), l)
			})
			if err != nil {
				return err
			}
			if status == scraper.NoSources {
				util.Warn("No playable sources on page", "url", args[1])
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(loadCmd, linksCmd)
}
