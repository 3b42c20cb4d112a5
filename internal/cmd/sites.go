package cmd

import (
	"fmt"
	"strings"

	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/alvarorichard/cimaresolver/internal/version"
	"github.com/spf13/cobra"
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List the registered site profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, p := range reg.All() {
			fallback := ""
			if p.Fallback {
				fallback = " (render fallback)"
			}
			fmt.Fprintf(w, "%s  %s%s\n", util.Title(p.ID), p.BaseURL, fallback)
			var sections []string
			for _, s := range p.Sections {
				sections = append(sections, s.Name)
			}
			if len(sections) > 0 {
				fmt.Fprintf(w, "    sections: %s\n", strings.Join(sections, ", "))
			}
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.AddCommand(sitesCmd, versionCmd)
}
