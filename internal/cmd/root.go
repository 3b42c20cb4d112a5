package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/alvarorichard/cimaresolver/internal/version"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cimaresolver",
	Short: "Browse Arabic streaming sites and resolve playable links",
	Long: `cimaresolver scrapes listing, search and detail pages of Arabic streaming
sites described by YAML site profiles, and resolves their watch pages down to
direct stream URLs with quality and referer information.

Built-in profiles can be replaced with --profiles, and each site's base URL can
be overridden with CIMA_<ID>_BASE_URL.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		util.SetDebugMode(debug)
		util.StatsEnabled = showStats
		util.InitLogger()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if showStats {
			fmt.Fprintln(cmd.ErrOrStderr(), util.GetStats().Report())
		}
	},
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, util.ErrorHandler(err))
		stop()
		os.Exit(1)
	}
}

var (
	debug       bool
	showStats   bool
	noRender    bool
	profilesDir string
	timeout     time.Duration
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "Print request statistics on exit")
	rootCmd.PersistentFlags().BoolVar(&noRender, "no-render", false, "Never start the headless browser fallback")
	rootCmd.PersistentFlags().StringVar(&profilesDir, "profiles", "", "Directory of extra site profiles (*.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall deadline for the command")

	rootCmd.SetVersionTemplate(version.String() + "\n")
}
