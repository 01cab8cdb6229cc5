package proxy

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"marketmux/logger"
)

// Endpoint is one parsed outbound proxy. Immutable once parsed.
type Endpoint struct {
	u *url.URL
}

// URL returns the proxy URL for transport configuration.
func (e *Endpoint) URL() *url.URL {
	if e == nil {
		return nil
	}
	return e.u
}

// Redacted renders the endpoint with the password masked, for logs.
func (e *Endpoint) Redacted() string {
	if e == nil {
		return "none"
	}
	return e.u.Redacted()
}

// Parse accepts a pre-formed proxy URL (http://, https://, socks5://...) or
// the colon forms host:port:user:pass and host:port.
func Parse(raw string) (*Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty proxy string")
	}

	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "socks") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		return &Endpoint{u: u}, nil
	}

	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 4:
		u := &url.URL{
			Scheme: "http",
			Host:   parts[0] + ":" + parts[1],
			User:   url.UserPassword(parts[2], parts[3]),
		}
		return &Endpoint{u: u}, nil
	case 2:
		u := &url.URL{Scheme: "http", Host: parts[0] + ":" + parts[1]}
		return &Endpoint{u: u}, nil
	default:
		return nil, fmt.Errorf("unrecognized proxy format %q", raw)
	}
}

// Pool is an ordered list of endpoints consumed round-robin. A nil pool is
// valid and always yields nil.
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	cursor    int
	dropped   int
}

// FromEnv builds a pool from numbered environment variables prefix1..prefixN
// over the inclusive index range. Malformed entries are dropped and counted,
// never fatal.
func FromEnv(prefix string, from, to int) *Pool {
	log := logger.GetLogger().WithComponent("proxy_pool")
	p := &Pool{}
	for i := from; i <= to; i++ {
		raw := os.Getenv(prefix + strconv.Itoa(i))
		if raw == "" {
			continue
		}
		ep, err := Parse(raw)
		if err != nil {
			p.dropped++
			continue
		}
		p.endpoints = append(p.endpoints, ep)
	}
	log.WithFields(logger.Fields{
		"prefix":  prefix,
		"size":    len(p.endpoints),
		"dropped": p.dropped,
	}).Info("initialized proxy pool")
	return p
}

// Next returns the endpoint under the rotating cursor, or nil when the pool
// is empty; the caller falls back to a single configured proxy or no proxy.
func (p *Pool) Next() *Endpoint {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.endpoints) == 0 {
		return nil
	}
	ep := p.endpoints[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.endpoints)
	return ep
}

// Size reports how many endpoints survived parsing.
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Dropped reports how many configured strings failed to parse.
func (p *Pool) Dropped() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// At returns the endpoint at index i without advancing the cursor. Used by
// pollers that pin one proxy per market.
func (p *Pool) At(i int) *Endpoint {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.endpoints) {
		return nil
	}
	return p.endpoints[i]
}

// FromSingleEnv parses the named environment variable into an endpoint, or
// nil when unset or malformed.
func FromSingleEnv(name string) *Endpoint {
	if name == "" {
		return nil
	}
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	ep, err := Parse(raw)
	if err != nil {
		return nil
	}
	return ep
}

// Fallback resolves the generic proxy configuration checked after every
// venue-specific option: PROXY_URL, then HTTP_PROXY, then HTTPS_PROXY.
func Fallback() *Endpoint {
	for _, name := range []string{"PROXY_URL", "HTTP_PROXY", "HTTPS_PROXY"} {
		if ep := FromSingleEnv(name); ep != nil {
			return ep
		}
	}
	return nil
}
