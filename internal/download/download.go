// Package download saves resolved stream links to disk. Segmented links
// are fetched segment by segment and concatenated; progressive links are
// copied as a single body.
package download

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/alvarorichard/cimaresolver/internal/models"
	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/pkg/errors"
)

const (
	defaultWorkers    = 8
	defaultRetries    = 5
	defaultRetryDelay = 1 * time.Second
	// maxSegmentLoss is the fraction of segments that may be lost before
	// a segmented download counts as failed
	maxSegmentLoss = 0.05
)

// ProgressFunc receives progress updates. For segmented downloads the unit
// is segments; for progressive downloads it is bytes and total is -1 when
// the server did not announce a length.
type ProgressFunc func(done, total int64)

// Downloader fetches stream links with the headers a player would send
type Downloader struct {
	client     *http.Client
	agents     *util.UserAgentPool
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

// New creates a downloader over transport. A nil transport gets a fresh
// one with HTTP/2 disabled; CDNs tend to reset multiplexed segment
// streams under concurrent load.
func New(transport http.RoundTripper) *Downloader {
	if transport == nil {
		t := util.NewTransport(util.DefaultTransportConfig())
		t.ForceAttemptHTTP2 = false
		t.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
		transport = t
	}
	return &Downloader{
		client:     &http.Client{Transport: transport},
		agents:     util.GetUserAgentPool(),
		Workers:    defaultWorkers,
		Retries:    defaultRetries,
		RetryDelay: defaultRetryDelay,
	}
}

// Save downloads link into output, creating parent directories as needed
func (d *Downloader) Save(ctx context.Context, link models.StreamLink, output string, progress ProgressFunc) error {
	output, err := sanitizeOutputPath(output)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	headers := link.Headers()
	headers["User-Agent"] = d.agents.Random()

	timer := util.StartTimer("download")
	defer timer.Stop()

	util.Debug("Starting download", "url", link.URL, "segmented", link.IsSegmented, "output", output)
	if link.IsSegmented {
		return d.saveSegmented(ctx, link.URL, output, headers, progress)
	}
	return d.saveFile(ctx, link.URL, output, headers, progress)
}

func sanitizeOutputPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("output path is empty")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", errors.Wrap(err, "resolve output path")
	}
	return abs, nil
}

func (d *Downloader) get(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "build request for %s", rawURL)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, errors.Errorf("get %s: HTTP %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}

func (d *Downloader) saveFile(ctx context.Context, rawURL, output string, headers map[string]string, progress ProgressFunc) error {
	resp, err := d.get(ctx, rawURL, headers)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := os.Create(output) // #nosec G304 - path cleaned by sanitizeOutputPath
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			util.Warn("Failed to close output file", "error", cerr)
		}
	}()

	var w io.Writer = out
	if progress != nil {
		w = &progressWriter{w: out, total: resp.ContentLength, report: progress}
		progress(0, resp.ContentLength)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return errors.Wrap(err, "write stream")
	}
	return nil
}

type progressWriter struct {
	w      io.Writer
	done   int64
	total  int64
	report ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	p.report(p.done, p.total)
	return n, err
}

// sleep waits d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
