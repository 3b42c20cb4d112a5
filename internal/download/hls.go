package download

import (
	"bufio"
	"context"
	"io"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/pkg/errors"
)

var bandwidthRe = regexp.MustCompile(`BANDWIDTH=(\d+)`)

// Playlist is a parsed HLS media playlist
type Playlist struct {
	TargetDuration float64
	MediaSequence  int
	EndList        bool
	Segments       []string
}

// Variant is one entry of a master playlist
type Variant struct {
	URL       string
	Bandwidth int
}

func (d *Downloader) readLines(ctx context.Context, rawURL string, headers map[string]string) ([]string, error) {
	resp, err := d.get(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read playlist %s", rawURL)
	}
	return lines, nil
}

// loadPlaylist fetches rawURL; a master playlist is followed to its
// highest-bandwidth variant.
func (d *Downloader) loadPlaylist(ctx context.Context, rawURL string, headers map[string]string) (*Playlist, error) {
	lines, err := d.readLines(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}

	if variants := ParseMaster(lines, rawURL); len(variants) > 0 {
		best := BestVariant(variants)
		util.Debug("Master playlist resolved", "variants", len(variants), "bandwidth", best.Bandwidth, "url", best.URL)
		lines, err = d.readLines(ctx, best.URL, headers)
		if err != nil {
			return nil, err
		}
		rawURL = best.URL
	}
	return ParseMedia(lines, rawURL), nil
}

// ParseMaster returns the variants of a master playlist, or nil for a
// media playlist
func ParseMaster(lines []string, base string) []Variant {
	var variants []Variant
	for i, line := range lines {
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") || i+1 >= len(lines) {
			continue
		}
		next := lines[i+1]
		if strings.HasPrefix(next, "#") {
			continue
		}
		v := Variant{URL: resolveRef(base, next)}
		if m := bandwidthRe.FindStringSubmatch(line); m != nil {
			v.Bandwidth, _ = strconv.Atoi(m[1])
		}
		variants = append(variants, v)
	}
	return variants
}

// BestVariant returns the highest-bandwidth variant, the first on ties
func BestVariant(variants []Variant) Variant {
	best := variants[0]
	for _, v := range variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

// ParseMedia parses a media playlist, resolving segment URIs against base
func ParseMedia(lines []string, base string) *Playlist {
	pl := &Playlist{}
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			pl.TargetDuration, _ = strconv.ParseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), 64)
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			pl.MediaSequence, _ = strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"))
		case strings.HasPrefix(line, "#EXT-X-ENDLIST"):
			pl.EndList = true
		case strings.HasPrefix(line, "#EXTINF:"):
			if i+1 < len(lines) && !strings.HasPrefix(lines[i+1], "#") {
				pl.Segments = append(pl.Segments, resolveRef(base, lines[i+1]))
			}
		}
	}
	return pl
}

func resolveRef(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func (d *Downloader) fetchSegment(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= d.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, d.RetryDelay*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}
		resp, err := d.get(ctx, rawURL, headers)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = errors.Wrapf(err, "read segment %s", rawURL)
			continue
		}
		return data, nil
	}
	return nil, lastErr
}

// saveSegmented downloads segments concurrently and writes them in order.
// Lost segments leave a gap; the download fails only when more than
// maxSegmentLoss of them are missing.
func (d *Downloader) saveSegmented(ctx context.Context, rawURL, output string, headers map[string]string, progress ProgressFunc) error {
	pl, err := d.loadPlaylist(ctx, rawURL, headers)
	if err != nil {
		return errors.Wrap(err, "load playlist")
	}
	total := len(pl.Segments)
	if total == 0 {
		return errors.New("playlist has no segments")
	}

	out, err := os.Create(output) // #nosec G304 - path cleaned by sanitizeOutputPath
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	defer func() { _ = out.Close() }()

	type result struct {
		index int
		data  []byte
		err   error
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int, total)
	results := make(chan result, total)
	var wg sync.WaitGroup
	for w := 0; w < max(d.Workers, 1); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					results <- result{index: i, err: ctx.Err()}
					continue
				}
				data, err := d.fetchSegment(ctx, pl.Segments[i], headers)
				results <- result{index: i, data: data, err: err}
			}
		}()
	}
	for i := range pl.Segments {
		jobs <- i
	}
	close(jobs)
	go func() {
		wg.Wait()
		close(results)
	}()

	if progress != nil {
		progress(0, int64(total))
	}

	pending := make(map[int][]byte)
	next, done, failed := 0, 0, 0
	var firstErr, writeErr error
	for res := range results {
		done++
		if res.err != nil {
			failed++
			if firstErr == nil {
				firstErr = res.err
			}
			util.Debug("Segment failed", "index", res.index, "error", res.err)
		}
		pending[res.index] = res.data

		for {
			data, ok := pending[next]
			if !ok {
				break
			}
			if len(data) > 0 && writeErr == nil {
				if _, err := out.Write(data); err != nil {
					writeErr = errors.Wrapf(err, "write segment %d", next)
					cancel()
				}
			}
			delete(pending, next)
			next++
		}
		if progress != nil {
			progress(int64(done), int64(total))
		}
	}

	if writeErr != nil {
		return writeErr
	}
	if err := ctx.Err(); err != nil && failed > 0 {
		return err
	}
	if failed > 0 {
		ratio := float64(failed) / float64(total)
		if ratio > maxSegmentLoss {
			return errors.Wrapf(firstErr, "download incomplete: %d/%d segments failed", failed, total)
		}
		util.Warn("Some segments could not be downloaded", "failed", failed, "total", total)
	}
	return nil
}
