package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCommand executes the root command with args and returns its stdout
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		searchSite = ""
		profilesDir = ""
		noRender = false
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeProfile(t *testing.T, baseURL string) string {
	t.Helper()

	dir := t.TempDir()
	yaml := fmt.Sprintf(`id: local
name: Local
base_url: %s
sections:
  - name: Movies
    url: "{{.BaseURL}}/movies/?page={{.Page}}"
search:
  - name: all
    url: "{{.BaseURL}}/?s={{.Query}}"
listing:
  item: div.item
  title: [h3]
  year: [span.year]
`, baseURL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local.yaml"), []byte(yaml), 0o644))
	return dir
}

func listingServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `<html><body>
			<div class="item"><a href="/m/dune/"><h3>مشاهدة فيلم Dune</h3></a><span class="year">2021</span></div>
			<div class="item"><a href="/s/dark/"><h3>مسلسل Dark</h3></a></div>
		</body></html>`)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSitesCommandListsBuiltins(t *testing.T) {
	out, err := runCommand(t, "sites")
	require.NoError(t, err)

	assert.Contains(t, out, "arabseed")
	assert.Contains(t, out, "faselhd")
	assert.Contains(t, out, "mycima")
}

func TestSearchCommandSingleSite(t *testing.T) {
	server := listingServer(t)
	dir := writeProfile(t, server.URL)

	out, err := runCommand(t, "search", "--no-render", "--profiles", dir, "--site", "local", "dune")
	require.NoError(t, err)

	assert.Contains(t, out, "Dune (2021)")
	assert.Contains(t, out, server.URL+"/m/dune/")
}

func TestListCommandDefaultsToFirstSection(t *testing.T) {
	server := listingServer(t)
	dir := writeProfile(t, server.URL)

	out, err := runCommand(t, "list", "--no-render", "--profiles", dir, "local")
	require.NoError(t, err)
	assert.Contains(t, out, server.URL+"/s/dark/")
}

func TestListCommandRejectsBadPage(t *testing.T) {
	_, err := runCommand(t, "list", "--no-render", "local", "Movies", "two")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid page")
}

func TestUnknownSite(t *testing.T) {
	_, err := runCommand(t, "load", "--no-render", "nowhere", "https://example.test/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown site")
}

func TestFormatEntry(t *testing.T) {
	year := 2019
	assert.Equal(t, "Joker (2019)", formatEntry(models.ListingEntry{Title: "Joker", Year: &year}))
	assert.Equal(t, "Dark [series]", formatEntry(models.ListingEntry{Title: "Dark", Kind: models.KindSeries}))
}

func TestFormatLink(t *testing.T) {
	got := formatLink(models.StreamLink{Quality: models.Quality720, IsSegmented: true, Label: "سيرفر 1"})
	assert.Contains(t, got, "720p")
	assert.Contains(t, got, "hls")
	assert.Contains(t, got, "سيرفر 1")
}

func TestPickLink(t *testing.T) {
	links := []models.StreamLink{
		{URL: "a", Quality: models.Quality1080},
		{URL: "b", Quality: models.Quality720},
	}

	got, err := pickLink(links, "")
	require.NoError(t, err)
	assert.Equal(t, "a", got.URL)

	got, err = pickLink(links, "720")
	require.NoError(t, err)
	assert.Equal(t, "b", got.URL)

	_, err = pickLink(links, "480p")
	assert.Error(t, err)
}

func TestDefaultOutputName(t *testing.T) {
	exts := []string{".m3u8", ".mp4", ".mkv"}

	assert.Equal(t, "dark-s01e02.ts", defaultOutputName("https://site.test/episode/dark-s01e02/", models.StreamLink{IsSegmented: true}, exts))
	assert.Equal(t, "dune.mkv", defaultOutputName("https://site.test/m/dune/", models.StreamLink{URL: "https://cdn.test/v.mkv?x=1"}, exts))
	assert.Equal(t, "stream.mp4", defaultOutputName("https://site.test/", models.StreamLink{URL: "https://cdn.test/play"}, exts))
}
