package models

import "net/url"

// Quality is the resolution tier of a stream
type Quality int

const (
	QualityUnknown Quality = iota
	Quality360
	Quality480
	Quality720
	Quality1080
	Quality2160
)

// String returns the display label for the quality
func (q Quality) String() string {
	switch q {
	case Quality360:
		return "360p"
	case Quality480:
		return "480p"
	case Quality720:
		return "720p"
	case Quality1080:
		return "1080p"
	case Quality2160:
		return "2160p"
	default:
		return "Unknown"
	}
}

// CandidateOrigin tells where on the detail page an embed candidate was found
type CandidateOrigin string

const (
	OriginServerList     CandidateOrigin = "server-list"
	OriginPrimaryIframe  CandidateOrigin = "primary-iframe"
	OriginFallbackAnchor CandidateOrigin = "fallback-anchor"
)

// Priority orders origins; lower runs first
func (o CandidateOrigin) Priority() int {
	switch o {
	case OriginServerList:
		return 0
	case OriginPrimaryIframe:
		return 1
	case OriginFallbackAnchor:
		return 2
	default:
		return 3
	}
}

// EmbedCandidate is a URL that may lead to a playable stream
type EmbedCandidate struct {
	URL         string
	Origin      CandidateOrigin
	Label       string
	QualityHint Quality
}

// StreamLink is a resolved playable URL
type StreamLink struct {
	URL         string
	Label       string
	Quality     Quality
	Referer     string
	IsSegmented bool
}

// Headers returns the request headers a player must send for this link
func (s StreamLink) Headers() map[string]string {
	headers := make(map[string]string)
	if s.Referer != "" {
		headers["Referer"] = s.Referer
		if u, err := url.Parse(s.Referer); err == nil && u.Host != "" {
			headers["Origin"] = u.Scheme + "://" + u.Host
		}
	}
	return headers
}
