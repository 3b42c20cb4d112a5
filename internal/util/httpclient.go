// Package util provides the shared HTTP transport, user-agent pool, logging
// and small concurrency helpers used by every site session.
package util

import (
	"crypto/tls"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"
)

// TransportConfig holds the tuning knobs of a site session transport
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	ExpectContinue      time.Duration
	KeepAlive           time.Duration
	DialTimeout         time.Duration
}

// DefaultTransportConfig returns the configuration used for scraping sessions.
// Streaming sites are slow to handshake behind their CDN, so the dial and
// TLS budgets are wider than a plain API client would use.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ExpectContinue:      1 * time.Second,
		KeepAlive:           30 * time.Second,
		DialTimeout:         10 * time.Second,
	}
}

// NewTransport creates an HTTP transport with the given config
func NewTransport(cfg TransportConfig) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout: cfg.ExpectContinue,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// UserAgentPool hands out browser user agents in random order
type UserAgentPool struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	agents []string
}

// DefaultUserAgents is the desktop browser set rotated across requests
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
}

// NewUserAgentPool creates a pool over agents, or DefaultUserAgents when empty
func NewUserAgentPool(agents ...string) *UserAgentPool {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	return &UserAgentPool{
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		agents: append([]string(nil), agents...),
	}
}

// Random returns one user agent from the pool
func (p *UserAgentPool) Random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agents[p.rnd.Intn(len(p.agents))]
}

var (
	sharedAgents     *UserAgentPool
	sharedAgentsOnce sync.Once
)

// GetUserAgentPool returns the process-wide user-agent pool
func GetUserAgentPool() *UserAgentPool {
	sharedAgentsOnce.Do(func() {
		sharedAgents = NewUserAgentPool()
	})
	return sharedAgents
}

// ParallelExecute executes multiple functions in parallel with a worker limit
// Returns when all functions complete. Safe for concurrent use.
func ParallelExecute(maxWorkers int, tasks ...func()) {
	if len(tasks) == 0 {
		return
	}

	workers := maxWorkers
	if workers <= 0 || len(tasks) < workers {
		workers = len(tasks)
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)

	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			semaphore <- struct{}{}        // Acquire
			defer func() { <-semaphore }() // Release
			task()
		}()
	}

	wg.Wait()
}
