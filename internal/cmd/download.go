package cmd

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/alvarorichard/cimaresolver/internal/download"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/alvarorichard/cimaresolver/internal/scraper"
	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	downloadOutput  string
	downloadQuality string
)

var downloadCmd = &cobra.Command{
	Use:   "download <site> <url>",
	Short: "Resolve a movie or episode page and save its best stream",
	Long: `Resolve the stream links of a movie or episode page and save one of them.
The best quality is chosen unless --quality names another tier (e.g. 720p).
Segmented streams are saved as MPEG-TS, progressive ones keep their extension.`,
	Args: cobra.ExactArgs(2),
	RunE: runDownloadCommand,
}

func runDownloadCommand(cmd *cobra.Command, args []string) error {
	return withProvider(cmd, args[0], func(ctx context.Context, p *scraper.Provider) error {
		var links []models.StreamLink
		status, err := p.LoadLinks(ctx, args[1], func(l models.StreamLink) {
			links = append(links, l)
		})
		if err != nil {
			return err
		}
		if status == scraper.NoSources {
			return errors.Errorf("no playable sources on %s", args[1])
		}

		link, err := pickLink(links, downloadQuality)
		if err != nil {
			return err
		}
		output := downloadOutput
		if output == "" {
			output = defaultOutputName(args[1], link, p.Profile().Embeds.MediaExtensions)
		}

		util.Info("Downloading", "quality", link.Quality, "output", output)
		bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
		w := cmd.ErrOrStderr()
		err = download.New(nil).Save(ctx, link, output, func(done, total int64) {
			if total <= 0 {
				fmt.Fprintf(w, "\r%d bytes", done)
				return
			}
			fmt.Fprintf(w, "\r%s", bar.ViewAs(float64(done)/float64(total)))
		})
		fmt.Fprintln(w)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), util.Success("Saved "+output))
		return nil
	})
}

// pickLink returns the first link of the wanted quality, or the first link
// when quality is empty. Links arrive best first.
func pickLink(links []models.StreamLink, quality string) (models.StreamLink, error) {
	if quality == "" {
		return links[0], nil
	}
	for _, l := range links {
		if strings.EqualFold(l.Quality.String(), quality) || strings.EqualFold(strings.TrimSuffix(l.Quality.String(), "p"), quality) {
			return l, nil
		}
	}
	return models.StreamLink{}, errors.Errorf("no %s link among %d found", quality, len(links))
}

func defaultOutputName(pageURL string, link models.StreamLink, exts []string) string {
	name := "stream"
	if u, err := url.Parse(pageURL); err == nil {
		if base := path.Base(strings.TrimRight(u.Path, "/")); base != "" && base != "." && base != "/" {
			if unescaped, err := url.PathUnescape(base); err == nil {
				base = unescaped
			}
			name = strings.NewReplacer("/", "-", "\\", "-", " ", "-").Replace(base)
		}
	}

	ext := ".mp4"
	if link.IsSegmented {
		ext = ".ts"
	} else if e := profile.MediaExtension(link.URL, exts); e != "" {
		ext = e
	}
	return name + ext
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Output file (default: derived from the page URL)")
	downloadCmd.Flags().StringVarP(&downloadQuality, "quality", "q", "", "Quality tier to save, e.g. 720p")
	rootCmd.AddCommand(downloadCmd)
}
