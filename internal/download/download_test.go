package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDownloader() *Downloader {
	d := New(http.DefaultTransport)
	d.Workers = 3
	d.Retries = 1
	d.RetryDelay = 0
	return d
}

func hlsServer(t *testing.T, segments int, fail func(i int) bool) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nlow/index.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=2500000\nhigh/index.m3u8\n")
	})
	mux.HandleFunc("/high/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:0\n")
		for i := 0; i < segments; i++ {
			fmt.Fprintf(&b, "#EXTINF:6.0,\nseg%03d.ts\n", i)
		}
		b.WriteString("#EXT-X-ENDLIST\n")
		_, _ = fmt.Fprint(w, b.String())
	})
	mux.HandleFunc("/high/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://embed.test/e/1" {
			http.Error(w, "missing referer", http.StatusForbidden)
			return
		}
		var i int
		if _, err := fmt.Sscanf(filepath.Base(r.URL.Path), "seg%03d.ts", &i); err != nil {
			http.NotFound(w, r)
			return
		}
		if fail != nil && fail(i) {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		_, _ = fmt.Fprintf(w, "[%d]", i)
	})
	mux.HandleFunc("/low/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("low bandwidth variant requested: %s", r.URL.Path)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestSaveSegmentedWritesSegmentsInOrder(t *testing.T) {
	t.Parallel()

	server := hlsServer(t, 12, nil)
	out := filepath.Join(t.TempDir(), "nested", "ep1.ts")

	var last int64
	link := models.StreamLink{URL: server.URL + "/master.m3u8", Referer: "https://embed.test/e/1", IsSegmented: true}
	err := newTestDownloader().Save(context.Background(), link, out, func(done, total int64) {
		assert.Equal(t, int64(12), total)
		atomic.StoreInt64(&last, done)
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var want strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&want, "[%d]", i)
	}
	assert.Equal(t, want.String(), string(data))
	assert.Equal(t, int64(12), atomic.LoadInt64(&last))
}

func TestSaveSegmentedToleratesMinorLoss(t *testing.T) {
	t.Parallel()

	server := hlsServer(t, 40, func(i int) bool { return i == 7 })
	out := filepath.Join(t.TempDir(), "ep.ts")

	link := models.StreamLink{URL: server.URL + "/master.m3u8", Referer: "https://embed.test/e/1", IsSegmented: true}
	require.NoError(t, newTestDownloader().Save(context.Background(), link, out, nil))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "[7]")
	assert.Contains(t, string(data), "[6][8]")
}

func TestSaveSegmentedFailsOnHeavyLoss(t *testing.T) {
	t.Parallel()

	server := hlsServer(t, 10, func(i int) bool { return i%2 == 0 })
	link := models.StreamLink{URL: server.URL + "/master.m3u8", Referer: "https://embed.test/e/1", IsSegmented: true}

	err := newTestDownloader().Save(context.Background(), link, filepath.Join(t.TempDir(), "ep.ts"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5/10 segments failed")
}

func TestSaveProgressiveFile(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 64<<10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://embed.test/e/2", r.Header.Get("Referer"))
		assert.Equal(t, "https://embed.test", r.Header.Get("Origin"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = fmt.Fprint(w, body)
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "movie.mp4")
	var got int64
	link := models.StreamLink{URL: server.URL + "/v.mp4", Referer: "https://embed.test/e/2"}
	require.NoError(t, newTestDownloader().Save(context.Background(), link, out, func(done, total int64) {
		got = done
	}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, data, len(body))
	assert.Equal(t, int64(len(body)), got)
}

func TestSaveRejectsBadStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	err := newTestDownloader().Save(context.Background(), models.StreamLink{URL: server.URL + "/v.mp4"}, filepath.Join(t.TempDir(), "v.mp4"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestParsePlaylists(t *testing.T) {
	t.Parallel()

	master := []string{
		"#EXTM3U",
		"#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720",
		"720/index.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=2560000,RESOLUTION=1920x1080",
		"https://cdn2.test/1080/index.m3u8",
	}
	variants := ParseMaster(master, "https://cdn.test/hls/master.m3u8?token=abc")
	require.Len(t, variants, 2)
	assert.Equal(t, "https://cdn.test/hls/720/index.m3u8", variants[0].URL)
	assert.Equal(t, "https://cdn2.test/1080/index.m3u8", BestVariant(variants).URL)

	media := []string{
		"#EXTM3U",
		"#EXT-X-TARGETDURATION:10",
		"#EXT-X-MEDIA-SEQUENCE:3",
		"#EXTINF:10.0,",
		"/abs/seg1.ts",
		"#EXTINF:10.0,",
		"seg2.ts?sig=1",
		"#EXT-X-ENDLIST",
	}
	assert.Nil(t, ParseMaster(media, "https://cdn.test/hls/index.m3u8"))
	pl := ParseMedia(media, "https://cdn.test/hls/index.m3u8")
	assert.Equal(t, 10.0, pl.TargetDuration)
	assert.Equal(t, 3, pl.MediaSequence)
	assert.True(t, pl.EndList)
	assert.Equal(t, []string{"https://cdn.test/abs/seg1.ts", "https://cdn.test/hls/seg2.ts?sig=1"}, pl.Segments)
}
