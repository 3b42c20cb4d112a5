// Package fetcher retrieves pages for one site session. It retries through
// anti-bot interstitials, keeps the session's cookies and falls back to a
// scripted renderer when plain HTTP stays blocked.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/profile"
	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/pkg/errors"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	DefaultRetries     = 3
	DefaultBackoffStep = 1 * time.Second
	DefaultMaxBackoff  = 3 * time.Second
	DefaultTimeout     = 30 * time.Second

	maxBodyBytes = 10 << 20
)

// Renderer executes a page's JavaScript and returns the final DOM. It is
// the acquisition path of last resort for blocked GET requests.
type Renderer interface {
	Render(ctx context.Context, url, userAgent string) (*Rendered, error)
	Close() error
}

// Rendered is the output of a Renderer
type Rendered struct {
	URL     string
	HTML    string
	Cookies []*http.Cookie
}

// Options control a single Fetch call
type Options struct {
	Headers map[string]string
	// Form turns the request into a form-encoded POST
	Form        url.Values
	UseFallback bool
	// Timeout bounds each attempt; zero uses the fetcher default
	Timeout time.Duration
	// Retries is the attempt budget; zero uses the fetcher default
	Retries int
}

// Config holds the fetcher's retry policy and collaborators
type Config struct {
	Retries     int
	BackoffStep time.Duration
	MaxBackoff  time.Duration
	Timeout     time.Duration
	Transport   http.RoundTripper
	Renderer    Renderer
	Agents      *util.UserAgentPool
}

// DefaultConfig returns the standard retry policy
func DefaultConfig() Config {
	return Config{
		Retries:     DefaultRetries,
		BackoffStep: DefaultBackoffStep,
		MaxBackoff:  DefaultMaxBackoff,
		Timeout:     DefaultTimeout,
	}
}

// Fetcher is a site session. Its cookie jar and rate limiter belong to one
// profile so that one site's blocking never slows down another.
type Fetcher struct {
	profile  *profile.SiteProfile
	client   *http.Client
	jar      http.CookieJar
	limiter  *rate.Limiter
	renderer Renderer
	// agent is pinned for the session so clearance cookies stay valid
	agent string
	cfg   Config
}

// New creates the session for a profile
func New(p *profile.SiteProfile, cfg Config) (*Fetcher, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Wrap(err, "create cookie jar")
	}

	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	transport := cfg.Transport
	if transport == nil {
		transport = util.NewTransport(util.DefaultTransportConfig())
	}
	agent := p.UserAgent
	if agent == "" {
		agents := cfg.Agents
		if agents == nil {
			agents = util.GetUserAgentPool()
		}
		agent = agents.Random()
	}

	limit := rate.Inf
	if p.RateLimit > 0 {
		limit = rate.Limit(p.RateLimit)
	}

	return &Fetcher{
		profile: p,
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
		},
		jar:      jar,
		limiter:  rate.NewLimiter(limit, max(p.Burst, 1)),
		renderer: cfg.Renderer,
		agent:    agent,
		cfg:      cfg,
	}, nil
}

// Profile returns the profile this session serves
func (f *Fetcher) Profile() *profile.SiteProfile {
	return f.profile
}

// DefaultOptions returns options following the profile's fallback setting
func (f *Fetcher) DefaultOptions() Options {
	return Options{UseFallback: f.profile.Fallback}
}

// Do fetches a rendered profile request with the session defaults
func (f *Fetcher) Do(ctx context.Context, req profile.Request) (*models.RawPage, error) {
	opts := f.DefaultOptions()
	if req.Method == http.MethodPost || len(req.Form) > 0 {
		opts.Form = url.Values{}
		for k, v := range req.Form {
			opts.Form.Set(k, v)
		}
		opts.Headers = map[string]string{"X-Requested-With": "XMLHttpRequest"}
	}
	return f.Fetch(ctx, req.URL, opts)
}

// Fetch retrieves rawURL. The returned page is always genuine content:
// interstitials are retried with linear backoff, then rendered through the
// fallback when allowed, and otherwise reported as ErrBlocked.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*models.RawPage, error) {
	retries := opts.Retries
	if retries <= 0 {
		retries = f.cfg.Retries
	}

	timer := util.StartTimer(f.profile.ID + ".fetch")
	defer timer.Stop()

	var (
		lastErr    error
		lastKind   Kind
		lastStatus int
		blocked    bool
		attempts   int
	)

	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			util.Count(f.profile.ID + ".retry")
			if err := f.backoff(ctx, attempt-1); err != nil {
				lastErr, lastKind = err, KindNetwork
				break
			}
		}
		attempts = attempt

		page, status, kind, err := f.attempt(ctx, rawURL, opts)
		if err == nil {
			return page, nil
		}
		lastErr, lastKind, lastStatus = err, kind, status

		switch kind {
		case KindStatus:
			return nil, &FetchError{Kind: KindStatus, URL: rawURL, Status: status, Attempts: attempts, Err: err}
		case KindBlocked:
			blocked = true
			util.Count(f.profile.ID + ".blocked")
			util.Warn("Anti-bot challenge detected", "site", f.profile.ID, "url", rawURL, "attempt", attempt)
		default:
			util.Debug("Fetch attempt failed", "site", f.profile.ID, "url", rawURL, "attempt", attempt, "error", err)
		}

		if ctx.Err() != nil {
			break
		}
	}

	if blocked && opts.UseFallback && opts.Form == nil && f.renderer != nil && ctx.Err() == nil {
		return f.render(ctx, rawURL, attempts)
	}

	if blocked && lastKind != KindBlocked {
		// A challenge seen earlier still explains the failure better than
		// the last transient error.
		lastKind = KindBlocked
	}
	return nil, &FetchError{Kind: lastKind, URL: rawURL, Status: lastStatus, Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string, opts Options) (*models.RawPage, int, Kind, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, 0, KindNetwork, errors.Wrap(err, "rate limiter")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := f.newRequest(actx, rawURL, opts)
	if err != nil {
		return nil, 0, KindStatus, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, KindNetwork, errors.Wrap(err, "failed to make request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, KindNetwork, errors.Wrap(err, "failed to read response")
	}

	if IsChallenge(resp.StatusCode, body) {
		return nil, resp.StatusCode, KindBlocked, errors.Errorf("challenge page (status %d)", resp.StatusCode)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, resp.StatusCode, KindNetwork, errors.Errorf("server returned: %s", resp.Status)
	case resp.StatusCode >= 400:
		return nil, resp.StatusCode, KindStatus, errors.Errorf("server returned: %s", resp.Status)
	}

	return &models.RawPage{
		URL:        rawURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
	}, resp.StatusCode, 0, nil
}

func (f *Fetcher) newRequest(ctx context.Context, rawURL string, opts Options) (*http.Request, error) {
	method := http.MethodGet
	var body io.Reader
	if opts.Form != nil {
		method = http.MethodPost
		body = strings.NewReader(opts.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	f.decorateRequest(req)
	if opts.Form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (f *Fetcher) decorateRequest(req *http.Request) {
	req.Header.Set("User-Agent", f.agent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ar,en-US;q=0.9,en;q=0.8")
	req.Header.Set("Referer", strings.TrimRight(f.profile.BaseURL, "/")+"/")
	for k, v := range f.profile.Headers {
		req.Header.Set(k, v)
	}
}

// backoff waits step×n, capped at the configured maximum
func (f *Fetcher) backoff(ctx context.Context, n int) error {
	delay := time.Duration(n) * f.cfg.BackoffStep
	if delay > f.cfg.MaxBackoff {
		delay = f.cfg.MaxBackoff
	}
	if delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (f *Fetcher) render(ctx context.Context, rawURL string, attempts int) (*models.RawPage, error) {
	util.Info("Falling back to browser rendering", "site", f.profile.ID, "url", rawURL)
	util.Count(f.profile.ID + ".render")
	timer := util.StartTimer(f.profile.ID + ".render")
	defer timer.Stop()

	out, err := f.renderer.Render(ctx, rawURL, f.agent)
	if err != nil {
		return nil, &FetchError{Kind: KindBlocked, URL: rawURL, Attempts: attempts, Err: errors.Wrap(err, "render fallback")}
	}
	if IsChallenge(http.StatusOK, []byte(out.HTML)) {
		return nil, &FetchError{Kind: KindBlocked, URL: rawURL, Attempts: attempts, Err: errors.New("render fallback still on challenge page")}
	}

	final := out.URL
	if final == "" {
		final = rawURL
	}
	if u, err := url.Parse(final); err == nil && len(out.Cookies) > 0 {
		// Clearance cookies obtained by the browser are replayed by later
		// plain HTTP requests of this session.
		f.jar.SetCookies(u, out.Cookies)
	}

	return &models.RawPage{
		URL:        rawURL,
		FinalURL:   final,
		StatusCode: http.StatusOK,
		Body:       []byte(out.HTML),
		Rendered:   true,
	}, nil
}
