// Package barcodelink resolves plant-internal barcodes to their canonical
// form through the organizational link service. Lookups are best-effort:
// every failure mode degrades to "no link" and the caller keeps the raw
// value, so the line never stops because the link service is down.
package barcodelink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/metrics"
)

const (
	// LookupTimeout bounds one link request. The aggregator calls lookups
	// inline during an inspection, so this stays short.
	LookupTimeout = 3 * time.Second

	cacheTTL    = time.Hour
	cachePrefix = "aoi:link:"
)

// Client calls the link service over HTTP. A circuit breaker stops hammering
// a dead upstream, and an optional Redis cache absorbs repeat lookups for
// the same barcode within an hour.
type Client struct {
	url     string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	cache   redis.UniversalClient
	metrics *metrics.Set
	log     *zap.Logger
}

// New builds a link client. cache and m may be nil.
func New(url string, cache redis.UniversalClient, m *metrics.Set, log *zap.Logger) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: LookupTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "barcode-link",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		cache:   cache,
		metrics: m,
		log:     log,
	}
}

// Lookup returns the linked form of raw, or "" when no link exists or the
// service is unreachable. The caller falls back to raw on "".
func (c *Client) Lookup(ctx context.Context, raw string) string {
	if c.url == "" || raw == "" {
		return ""
	}

	if linked, ok := c.cached(ctx, raw); ok {
		c.count("cached")
		return linked
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, raw)
	})
	if err != nil {
		c.count("failed")
		c.log.Warn("barcode link lookup failed, keeping raw value",
			zap.String("barcode", raw), zap.Error(err))
		return ""
	}

	linked := result.(string)
	c.store(ctx, raw, linked)
	if linked == "" {
		c.count("unlinked")
	} else {
		c.count("linked")
	}
	return linked
}

// fetch posts the raw barcode as a JSON string and normalizes the reply:
// one level of surrounding quotes is stripped, and a literal null (any
// case) means no linked data.
func (c *Client) fetch(ctx context.Context, raw string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, LookupTimeout)
	defer cancel()

	encoded, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &statusError{code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", err
	}

	linked := strings.TrimSpace(string(data))
	if len(linked) >= 2 && linked[0] == '"' && linked[len(linked)-1] == '"' {
		linked = linked[1 : len(linked)-1]
	}
	if strings.EqualFold(linked, "null") {
		return "", nil
	}
	return linked, nil
}

func (c *Client) cached(ctx context.Context, raw string) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	linked, err := c.cache.Get(ctx, cachePrefix+raw).Result()
	if err != nil {
		return "", false
	}
	return linked, true
}

func (c *Client) store(ctx context.Context, raw, linked string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, cachePrefix+raw, linked, cacheTTL).Err(); err != nil {
		c.log.Debug("link cache write failed", zap.Error(err))
	}
}

func (c *Client) count(outcome string) {
	if c.metrics != nil {
		c.metrics.LinkLookups.WithLabelValues(outcome).Inc()
	}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return "link service returned status " + http.StatusText(e.code)
}
