// Package render provides the scripted rendering fallback used when a site
// keeps answering plain HTTP requests with an anti-bot interstitial.
package render

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alvarorichard/cimaresolver/internal/fetcher"
	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/pkg/errors"
	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	challengePollInterval    = 500 * time.Millisecond
)

// Options configure the browser
type Options struct {
	Headless bool
	// InstallDriver downloads the driver and Chromium on first use
	InstallDriver     bool
	NavigationTimeout time.Duration
}

// DefaultOptions returns headless settings without driver installation
func DefaultOptions() Options {
	return Options{
		Headless:          true,
		NavigationTimeout: defaultNavigationTimeout,
	}
}

// Playwright renders pages in headless Chromium. The browser is started
// lazily on the first Render and shared by all site sessions; each render
// gets its own browser context so cookies never cross sites.
type Playwright struct {
	opts Options

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

var _ fetcher.Renderer = (*Playwright)(nil)

// NewPlaywright creates a renderer; no browser is launched yet
func NewPlaywright(opts Options) *Playwright {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = defaultNavigationTimeout
	}
	return &Playwright{opts: opts}
}

func (r *Playwright) start() (playwright.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil && r.browser.IsConnected() {
		return r.browser, nil
	}

	if r.opts.InstallDriver {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, errors.Wrap(err, "install playwright driver")
		}
	}

	if r.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, errors.Wrap(err, "start playwright")
		}
		r.pw = pw
	}

	browser, err := r.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(r.opts.Headless),
	})
	if err != nil {
		return nil, errors.Wrap(err, "launch chromium")
	}
	util.Debug("Chromium launched for render fallback")
	r.browser = browser
	return browser, nil
}

// Render loads rawURL, waits for the challenge to clear and returns the DOM
// together with the cookies the page set.
func (r *Playwright) Render(ctx context.Context, rawURL, userAgent string) (*fetcher.Rendered, error) {
	browser, err := r.start()
	if err != nil {
		return nil, err
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(userAgent),
		Locale:    playwright.String("ar"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create browser context")
	}
	defer func() { _ = bctx.Close() }()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, errors.Wrap(err, "open page")
	}

	timeout := r.opts.NavigationTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	if _, err := page.Goto(rawURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		return nil, errors.Wrapf(err, "navigate %s", rawURL)
	}

	if err := waitForClearance(ctx, page, timeout); err != nil {
		return nil, err
	}

	html, err := page.Content()
	if err != nil {
		return nil, errors.Wrap(err, "read rendered content")
	}

	pwCookies, err := bctx.Cookies()
	if err != nil {
		return nil, errors.Wrap(err, "read browser cookies")
	}

	return &fetcher.Rendered{
		URL:     page.URL(),
		HTML:    html,
		Cookies: convertCookies(pwCookies),
	}, nil
}

// waitForClearance polls the page title until the interstitial is gone
func waitForClearance(ctx context.Context, page playwright.Page, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		title, err := page.Title()
		if err != nil {
			return errors.Wrap(err, "read page title")
		}
		if !isChallengeTitle(title) {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("challenge did not clear before timeout")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(challengePollInterval):
		}
	}
}

func isChallengeTitle(title string) bool {
	title = strings.ToLower(title)
	return strings.Contains(title, "just a moment") ||
		strings.Contains(title, "checking your browser") ||
		strings.Contains(title, "attention required")
}

func convertCookies(in []playwright.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   strings.TrimPrefix(c.Domain, "."),
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, cookie)
	}
	return out
}

// Close shuts down the browser and the driver
func (r *Playwright) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			firstErr = err
		}
		r.browser = nil
	}
	if r.pw != nil {
		if err := r.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.pw = nil
	}
	return firstErr
}
