package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alvarorichard/cimaresolver/internal/fetcher"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestManager builds a Manager over the given site profiles
func createTestManager(t *testing.T, profiles ...*profile.SiteProfile) *Manager {
	t.Helper()

	reg, err := profile.NewRegistry(profiles...)
	require.NoError(t, err)
	m, err := NewManager(reg, testConfig())
	require.NoError(t, err)
	return m
}

func TestSearchAll_SkipsFailingSites(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, listing("Dune", "Heat"))
	}))
	defer server.Close()

	m := createTestManager(t,
		siteProfile("beta", server.URL),
		siteProfile("alpha", deadURL()),
		siteProfile("gamma", server.URL),
	)

	hits, err := m.SearchAll(context.Background(), "dune", 0)
	require.NoError(t, err)
	require.Len(t, hits, 4)

	assert.Equal(t, "beta", hits[0].Site)
	assert.Equal(t, "Dune", hits[0].Title)
	assert.Equal(t, "gamma", hits[2].Site)
}

func TestSearchAll_AllSitesFail(t *testing.T) {
	t.Parallel()

	m := createTestManager(t, siteProfile("alpha", deadURL()), siteProfile("beta", deadURL()))

	hits, err := m.SearchAll(context.Background(), "dune", 0)
	require.Error(t, err)
	assert.Nil(t, hits)
	assert.ErrorIs(t, err, ErrNoResults)
	assert.Contains(t, err.Error(), "some sources failed")
}

func TestSearchAll_NoMatches(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, listing())
	}))
	defer server.Close()

	m := createTestManager(t, siteProfile("alpha", server.URL))
	_, err := m.SearchAll(context.Background(), "nothing", 0)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestSearchAll_Timeout(t *testing.T) {
	t.Parallel()

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, listing("Dune"))
	}))
	defer fast.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	m := createTestManager(t, siteProfile("fast", fast.URL), siteProfile("slow", slow.URL))

	start := time.Now()
	hits, err := m.SearchAll(context.Background(), "dune", 300*time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	require.Len(t, hits, 1)
	assert.Equal(t, "fast", hits[0].Site)
}

func TestManagerProviderLookup(t *testing.T) {
	t.Parallel()

	m := createTestManager(t, siteProfile("ArabSeed", "https://site.test"))

	p, err := m.Provider("arabseed")
	require.NoError(t, err)
	assert.Equal(t, "arabseed", p.ID())

	p, err = m.Provider("ARABSEED")
	require.NoError(t, err)
	assert.Equal(t, "arabseed", p.ID())

	_, err = m.Provider("unknown")
	assert.ErrorIs(t, err, profile.ErrUnknownSite)

	assert.Len(t, m.Providers(), 1)
	assert.NoError(t, m.Close())
}

func TestIsSiteUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprint(w, `<title>Just a moment...</title>`)
	}))
	defer server.Close()

	m := createTestManager(t, siteProfile("blocked", server.URL))
	p, err := m.Provider("blocked")
	require.NoError(t, err)

	_, err = p.Load(context.Background(), server.URL+"/m/x/")
	require.Error(t, err)
	assert.True(t, IsSiteUnavailable(err))
	assert.False(t, IsSiteUnavailable(fetcher.ErrNetwork))
}
