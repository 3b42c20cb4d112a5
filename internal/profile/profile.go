// Package profile holds the per-site scraping configuration. A SiteProfile
// is data only: adapting to a markup change means editing a profile, not
// branching code.
package profile

import (
	"bytes"
	"net/http"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

// SiteProfile is the immutable configuration of one site. Profiles are
// built at startup and shared read-only across all requests for the site.
type SiteProfile struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Lang    string `yaml:"lang"`
	BaseURL string `yaml:"base_url"`

	// Fallback enables the scripted rendering path when the anti-bot
	// interstitial survives every retry.
	Fallback bool `yaml:"fallback"`
	// RateLimit is in requests per second; zero disables limiting.
	RateLimit float64           `yaml:"rate_limit"`
	Burst     int               `yaml:"burst"`
	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers"`

	Sections []Section  `yaml:"sections"`
	Search   []Endpoint `yaml:"search"`

	Listing  ListingSelectors `yaml:"listing"`
	Detail   DetailSelectors  `yaml:"detail"`
	Seasons  SeasonSelectors  `yaml:"seasons"`
	Episodes EpisodeSelectors `yaml:"episodes"`
	Servers  ServerSelectors  `yaml:"servers"`
	Embeds   EmbedSelectors   `yaml:"embeds"`

	// PosterAttrs are checked in order; lazy-load attributes come first.
	PosterAttrs      []string `yaml:"poster_attrs"`
	TitleNoise       []string `yaml:"title_noise"`
	SeriesMarkers    []string `yaml:"series_markers"`
	SeriesURLMarkers []string `yaml:"series_url_markers"`
}

// Section is a named listing endpoint, e.g. "Movies" → "{{.BaseURL}}/movies/?offset={{.Page}}"
type Section struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Endpoint is a request template. Form values are templates too; a
// non-empty Form makes the request a form-encoded POST.
type Endpoint struct {
	Name   string            `yaml:"name"`
	URL    string            `yaml:"url"`
	Method string            `yaml:"method"`
	Form   map[string]string `yaml:"form"`
}

// ListingSelectors locate item fragments on listing and search pages
type ListingSelectors struct {
	Item     string   `yaml:"item"`
	Title    []string `yaml:"title"`
	Link     []string `yaml:"link"`
	Poster   []string `yaml:"poster"`
	TypeHint []string `yaml:"type_hint"`
	Year     []string `yaml:"year"`
}

// DetailSelectors locate scalar fields on a detail page
type DetailSelectors struct {
	Title    []string      `yaml:"title"`
	Poster   []string      `yaml:"poster"`
	Synopsis []string      `yaml:"synopsis"`
	Year     []string      `yaml:"year"`
	Duration []string      `yaml:"duration"`
	Rating   []string      `yaml:"rating"`
	Tags     []string      `yaml:"tags"`
	Cast     CastSelectors `yaml:"cast"`
}

// CastSelectors locate cast entries; Name, Image and Role are relative to Item
type CastSelectors struct {
	Item  string   `yaml:"item"`
	Name  []string `yaml:"name"`
	Image []string `yaml:"image"`
	Role  []string `yaml:"role"`
}

// SeasonSelectors locate the season list of a series. Each season either
// links to its own page or is expanded through Endpoint, keyed by the
// season and post identifiers.
type SeasonSelectors struct {
	Item       string   `yaml:"item"`
	Label      []string `yaml:"label"`
	NumberAttr string   `yaml:"number_attr"`
	DataAttr   string   `yaml:"data_attr"`
	// PostSelector/PostAttr find the page-wide post identifier when the
	// season items do not carry one.
	PostSelector string   `yaml:"post_selector"`
	PostAttr     string   `yaml:"post_attr"`
	Endpoint     Endpoint `yaml:"endpoint"`
}

// EpisodeSelectors locate episode anchors on a detail or season page
type EpisodeSelectors struct {
	Item       string   `yaml:"item"`
	Link       []string `yaml:"link"`
	Label      []string `yaml:"label"`
	NumberAttr string   `yaml:"number_attr"`
}

// ServerSelectors locate the "server list" widget on a watch page
type ServerSelectors struct {
	Item        string   `yaml:"item"`
	LinkAttrs   []string `yaml:"link_attrs"`
	Label       []string `yaml:"label"`
	QualityText []string `yaml:"quality_text"`
	// WatchLink optionally points from the detail page to a separate
	// watch page that carries the server list.
	WatchLink []string `yaml:"watch_link"`
}

// EmbedSelectors describe the fallback candidate discovery and which
// URLs count as playable media.
type EmbedSelectors struct {
	Iframes []string `yaml:"iframes"`
	Anchors []string `yaml:"anchors"`
	// Hosts are substrings matched against anchor hosts.
	Hosts           []string `yaml:"hosts"`
	MediaExtensions []string `yaml:"media_extensions"`
}

// TemplateData is the input of section, search and season templates
type TemplateData struct {
	BaseURL string
	Page    int
	Query   string
	Season  string
	Post    string
}

// Data returns template data seeded with the profile's base URL
func (p *SiteProfile) Data() TemplateData {
	return TemplateData{BaseURL: strings.TrimRight(p.BaseURL, "/")}
}

// Render expands a profile template
func Render(tmpl string, data TemplateData) (string, error) {
	t, err := template.New("url").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", errors.Wrapf(err, "invalid template %q", tmpl)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "render template %q", tmpl)
	}
	return buf.String(), nil
}

// Request is a fully rendered endpoint
type Request struct {
	URL    string
	Method string
	Form   map[string]string
}

// Build renders the endpoint's URL and form fields
func (e Endpoint) Build(data TemplateData) (Request, error) {
	u, err := Render(e.URL, data)
	if err != nil {
		return Request{}, err
	}
	req := Request{URL: u, Method: strings.ToUpper(e.Method)}
	if len(e.Form) > 0 {
		req.Form = make(map[string]string, len(e.Form))
		for k, v := range e.Form {
			rv, err := Render(v, data)
			if err != nil {
				return Request{}, err
			}
			req.Form[k] = rv
		}
		if req.Method == "" {
			req.Method = http.MethodPost
		}
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	return req, nil
}

// Section returns the named section
func (p *SiteProfile) Section(name string) (Section, bool) {
	for _, s := range p.Sections {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Section{}, false
}

// SectionURL renders the URL of a listing section page
func (p *SiteProfile) SectionURL(name string, page int) (string, error) {
	s, ok := p.Section(name)
	if !ok {
		return "", errors.Errorf("%s: unknown section %q", p.ID, name)
	}
	data := p.Data()
	data.Page = page
	return Render(s.URL, data)
}

// IsEmbedHost reports whether host matches one of the known embed hosts
func (p *SiteProfile) IsEmbedHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range p.Embeds.Hosts {
		if h != "" && strings.Contains(host, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

// IsMediaURL reports whether the URL path ends in a playable extension
func (p *SiteProfile) IsMediaURL(rawURL string) bool {
	return MediaExtension(rawURL, p.Embeds.MediaExtensions) != ""
}

// MediaExtension returns the matching extension of rawURL's path, ignoring
// query and fragment, or "" when none matches.
func MediaExtension(rawURL string, exts []string) string {
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.ToLower(path)
	for _, ext := range exts {
		if strings.HasSuffix(path, strings.ToLower(ext)) {
			return ext
		}
	}
	return ""
}

func (p *SiteProfile) validate() error {
	switch {
	case p.ID == "":
		return errors.New("profile without id")
	case p.BaseURL == "":
		return errors.Errorf("%s: base_url is required", p.ID)
	case p.Listing.Item == "":
		return errors.Errorf("%s: listing.item is required", p.ID)
	case len(p.Listing.Title) == 0:
		return errors.Errorf("%s: listing.title is required", p.ID)
	}
	for _, s := range p.Sections {
		if _, err := template.New(s.Name).Parse(s.URL); err != nil {
			return errors.Wrapf(err, "%s: section %q", p.ID, s.Name)
		}
	}
	return nil
}

// DefaultPosterAttrs is used when a profile does not list its own
var DefaultPosterAttrs = []string{"data-src", "data-image", "data-lazy-src", "data-lazy-style", "data-original", "src"}

// DefaultMediaExtensions lists segmented and progressive stream extensions
var DefaultMediaExtensions = []string{".m3u8", ".mp4", ".mkv", ".webm"}

func (p *SiteProfile) applyDefaults() {
	if p.Name == "" {
		p.Name = p.ID
	}
	if len(p.PosterAttrs) == 0 {
		p.PosterAttrs = DefaultPosterAttrs
	}
	if len(p.Embeds.MediaExtensions) == 0 {
		p.Embeds.MediaExtensions = DefaultMediaExtensions
	}
	if len(p.Embeds.Iframes) == 0 {
		p.Embeds.Iframes = []string{"iframe[src]", "iframe[data-src]"}
	}
	if len(p.Servers.LinkAttrs) == 0 {
		p.Servers.LinkAttrs = []string{"data-link", "data-url", "data-src", "href"}
	}
	if len(p.Listing.Link) == 0 {
		p.Listing.Link = []string{"a"}
	}
	if p.Burst <= 0 {
		p.Burst = 1
	}
}
