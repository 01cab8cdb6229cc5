package server

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// responseCache holds rendered REST responses for a few milliseconds. The
// snapshot endpoints are hammered by dashboards polling in lockstep; a tiny
// TTL collapses those bursts into one render without serving stale data
// anyone would notice.
type responseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]*responseEntry
}

type responseEntry struct {
	plain   []byte
	gzipped []byte
	expires time.Time
}

func newResponseCache(ttl time.Duration, max int) *responseCache {
	if max <= 0 {
		max = 50
	}
	return &responseCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]*responseEntry, max),
	}
}

func (rc *responseCache) get(key string, build func() any) (*responseEntry, error) {
	now := time.Now()

	rc.mu.Lock()
	if entry, ok := rc.entries[key]; ok && now.Before(entry.expires) {
		rc.mu.Unlock()
		return entry, nil
	}
	rc.mu.Unlock()

	// Render outside the lock; concurrent misses may render twice, which is
	// cheaper than serializing every request behind one render.
	plain, err := json.Marshal(build())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	entry := &responseEntry{
		plain:   plain,
		gzipped: buf.Bytes(),
		expires: now.Add(rc.ttl),
	}

	rc.mu.Lock()
	if len(rc.entries) >= rc.max {
		for k, e := range rc.entries {
			if now.After(e.expires) {
				delete(rc.entries, k)
			}
		}
		// still full after pruning: drop everything rather than grow
		if len(rc.entries) >= rc.max {
			rc.entries = make(map[string]*responseEntry, rc.max)
		}
	}
	rc.entries[key] = entry
	rc.mu.Unlock()

	return entry, nil
}

func (e *responseEntry) write(c *gin.Context) {
	if strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
		c.Header("Content-Encoding", "gzip")
		c.Data(http.StatusOK, "application/json; charset=utf-8", e.gzipped)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", e.plain)
}
