package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alvarorichard/cimaresolver/internal/fetcher"
	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile(t *testing.T, baseURL string) *profile.SiteProfile {
	t.Helper()

	p := &profile.SiteProfile{
		ID:      "test",
		BaseURL: baseURL,
		Listing: profile.ListingSelectors{Item: "div.item", Title: []string{"h3"}},
		Servers: profile.ServerSelectors{
			Item:        "ul.servers li",
			LinkAttrs:   []string{"data-link", "onclick"},
			Label:       []string{"span"},
			QualityText: []string{"h3"},
		},
		Embeds: profile.EmbedSelectors{
			Anchors: []string{"a[href]"},
			Hosts:   []string{"vidhost"},
		},
	}
	_, err := profile.NewRegistry(p)
	require.NoError(t, err)
	return p
}

func newTestResolver(t *testing.T, p *profile.SiteProfile) *Resolver {
	t.Helper()

	cfg := fetcher.DefaultConfig()
	cfg.BackoffStep = 0
	cfg.Retries = 1
	f, err := fetcher.New(p, cfg)
	require.NoError(t, err)
	return New(f, p)
}

func html(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, body)
}

func watchPage(url, body string) *models.RawPage {
	return &models.RawPage{URL: url, StatusCode: http.StatusOK, Body: []byte(body)}
}

func TestResolveServerListToSegmentedStream(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/embed/1", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<html><body><video><source src="/hls/master.m3u8" type="application/x-mpegURL"></video></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := testProfile(t, server.URL)
	page := watchPage(server.URL+"/movie/dune/", fmt.Sprintf(`
		<div class="containerServers">
			<h3>سيرفرات المشاهدة 720p</h3>
			<ul class="servers"><li data-link="%s/embed/1"><span>سيرفر 1</span></li></ul>
		</div>`, server.URL))

	links, err := newTestResolver(t, p).Resolve(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, links, 1)

	link := links[0]
	assert.Equal(t, server.URL+"/hls/master.m3u8", link.URL)
	assert.True(t, link.IsSegmented)
	assert.Equal(t, models.Quality720, link.Quality)
	assert.Equal(t, server.URL+"/embed/1", link.Referer)
	assert.Equal(t, "سيرفر 1", link.Label)
}

func TestResolveWithoutCandidates(t *testing.T) {
	t.Parallel()

	p := testProfile(t, "https://site.test")
	page := watchPage("https://site.test/movie/", `<html><body><p>coming soon</p></body></html>`)

	links, err := newTestResolver(t, p).Resolve(context.Background(), page)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestResolveScriptManifest(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/e/abc", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<html><body><div id="player"></div>
		<script>
			jwplayer("player").setup({
				sources: [{file:'/v/a.mp4', label:'1080p'},{file:"/v/b.m3u8",label:"480p"},],
				image: "/poster.jpg"
			});
		</script></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := testProfile(t, server.URL)
	page := watchPage(server.URL+"/movie/", fmt.Sprintf(`<iframe src="%s/e/abc"></iframe>`, server.URL))

	links, err := newTestResolver(t, p).Resolve(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, links, 2)

	assert.Equal(t, server.URL+"/v/a.mp4", links[0].URL)
	assert.Equal(t, models.Quality1080, links[0].Quality)
	assert.False(t, links[0].IsSegmented)
	assert.Equal(t, models.Quality480, links[1].Quality)
	assert.True(t, links[1].IsSegmented)
}

func TestResolveRelayHop(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/embed/outer", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<html><body><iframe src="/relay/inner"></iframe></body></html>`)
	})
	mux.HandleFunc("/relay/inner", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Referer"), "/embed/outer")
		html(w, `<script>var cfg = {file:"https://cdn.test/x/index.m3u8"};</script>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := testProfile(t, server.URL)
	page := watchPage(server.URL+"/movie/", fmt.Sprintf(`<ul class="servers"><li data-link="%s/embed/outer"><span>Relay</span></li></ul>`, server.URL))

	links, err := newTestResolver(t, p).Resolve(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "https://cdn.test/x/index.m3u8", links[0].URL)
	assert.Equal(t, server.URL+"/relay/inner", links[0].Referer)
	assert.Equal(t, models.QualityUnknown, links[0].Quality)
}

func TestResolveDirectMediaCandidateIsNotFetched(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	p := testProfile(t, server.URL)
	page := watchPage(server.URL+"/movie/", fmt.Sprintf(
		`<ul class="servers"><li data-link="%s/files/movie.1080p.mp4?token=abc"><span>Direct</span></li></ul>`, server.URL))

	links, err := newTestResolver(t, p).Resolve(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, models.Quality1080, links[0].Quality)
	assert.Equal(t, server.URL+"/movie/", links[0].Referer)
	assert.Zero(t, hits.Load())
}

func TestResolveFailsOnlyWhenNothingFound(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/embed/ok", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<video src="/ok.mp4"></video>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := testProfile(t, server.URL)
	r := newTestResolver(t, p)

	onlyDead := watchPage(server.URL+"/movie/", fmt.Sprintf(
		`<ul class="servers"><li data-link="%s/embed/x"><span>Dead</span></li></ul>`, deadURL))
	_, err := r.Resolve(context.Background(), onlyDead)
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrNetwork)

	mixed := watchPage(server.URL+"/movie/", fmt.Sprintf(`<ul class="servers">
		<li data-link="%s/embed/x"><span>Dead</span></li>
		<li data-link="%s/embed/ok"><span>Alive</span></li>
	</ul>`, deadURL, server.URL))
	links, err := r.Resolve(context.Background(), mixed)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, server.URL+"/ok.mp4", links[0].URL)
}

func TestResolveCandidateWithoutMediaIsSkipped(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/embed/ad", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<html><body>advert</body></html>`)
	})
	mux.HandleFunc("/embed/gone", http.NotFound)
	server := httptest.NewServer(mux)
	defer server.Close()

	p := testProfile(t, server.URL)
	page := watchPage(server.URL+"/movie/", fmt.Sprintf(`<ul class="servers">
		<li data-link="%[1]s/embed/ad"><span>Ad</span></li>
		<li data-link="%[1]s/embed/gone"><span>Gone</span></li>
	</ul>`, server.URL))

	links, err := newTestResolver(t, p).Resolve(context.Background(), page)
	require.NoError(t, err, "status failures are not transport failures")
	assert.Empty(t, links)
}

func TestResolveDeduplicatesAndIsStable(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	for _, path := range []string{"/embed/a", "/embed/b"} {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			html(w, `<video><source src="/shared/master.m3u8"></video>`)
		})
	}
	server := httptest.NewServer(mux)
	defer server.Close()

	p := testProfile(t, server.URL)
	page := watchPage(server.URL+"/movie/", fmt.Sprintf(`<ul class="servers">
		<li data-link="%[1]s/embed/a"><span>A</span></li>
		<li data-link="%[1]s/embed/b"><span>B</span></li>
	</ul>`, server.URL))

	r := newTestResolver(t, p)
	first, err := r.Resolve(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "A", first[0].Label)

	second, err := r.Resolve(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveReturnsPartialResultsAtDeadline(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/embed/fast", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<video src="/fast.mp4"></video>`)
	})
	mux.HandleFunc("/embed/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := testProfile(t, server.URL)
	page := watchPage(server.URL+"/movie/", fmt.Sprintf(`<ul class="servers">
		<li data-link="%[1]s/embed/slow"><span>Slow</span></li>
		<li data-link="%[1]s/embed/fast"><span>Fast</span></li>
	</ul>`, server.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	links, err := newTestResolver(t, p).Resolve(ctx, page)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, server.URL+"/fast.mp4", links[0].URL)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestResolveFollowsWatchLink(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/watch/1", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<ul class="servers"><li data-link="/embed/1"><span>S1</span></li></ul>`)
	})
	mux.HandleFunc("/embed/1", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<video src="/v.mp4"></video>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := testProfile(t, server.URL)
	p.Servers.WatchLink = []string{"a.watchBTn"}
	page := watchPage(server.URL+"/movie/", `<a class="watchBTn" href="/watch/1">مشاهدة</a>`)

	links, err := newTestResolver(t, p).Resolve(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, server.URL+"/v.mp4", links[0].URL)
}

func TestResolveWatchLinkNotFound(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/watch/1", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := testProfile(t, server.URL)
	p.Servers.WatchLink = []string{"a.watchBTn"}
	page := watchPage(server.URL+"/movie/", `<a class="watchBTn" href="/watch/1">مشاهدة</a>`)

	links, err := newTestResolver(t, p).Resolve(context.Background(), page)
	require.NoError(t, err)
	assert.Empty(t, links)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolveWatchLinkUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := server.URL
	server.Close()

	p := testProfile(t, base)
	p.Servers.WatchLink = []string{"a.watchBTn"}
	page := watchPage(base+"/movie/", `<a class="watchBTn" href="/watch/1">مشاهدة</a>`)

	links, err := newTestResolver(t, p).Resolve(context.Background(), page)
	require.Error(t, err)
	assert.True(t, fetcher.IsTransport(err))
	assert.Empty(t, links)
}
