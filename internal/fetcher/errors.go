package fetcher

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a fetch failure
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindBlocked
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindBlocked:
		return "blocked"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

var (
	// ErrNetwork matches connection, timeout and 5xx failures that outlived the retry budget
	ErrNetwork = errors.New("network failure")
	// ErrBlocked matches an anti-bot interstitial that survived retries and fallback
	ErrBlocked = errors.New("blocked by anti-bot challenge")
	// ErrStatus matches a non-retryable HTTP status such as 404
	ErrStatus = errors.New("unexpected http status")
)

// FetchError is returned by Fetch. Use errors.Is with ErrNetwork, ErrBlocked
// or ErrStatus to branch on the kind.
type FetchError struct {
	Kind     Kind
	URL      string
	Status   int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel of the error's kind
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrBlocked:
		return e.Kind == KindBlocked
	case ErrStatus:
		return e.Kind == KindStatus
	}
	return false
}

// IsBlocked reports whether err is an anti-bot failure
func IsBlocked(err error) bool {
	return errors.Is(err, ErrBlocked)
}

// IsTransport reports whether err is a network or blocked failure, i.e.
// the site could not be reached rather than the page being absent.
func IsTransport(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrBlocked)
}
