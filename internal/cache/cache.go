// Package cache holds the key/value stores behind the rendition existence
// cache.
package cache

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTTL is how long a confirmed rendition stays memoised.
const DefaultTTL = 30 * 24 * time.Hour

// Store is a key/value cache with per-entry expiry.
type Store interface {
	// Get returns the value stored at key. ok is false when the key is absent
	// or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Existence records that a derived URL is known to exist in storage. It only
// ever holds positive markers: a missing entry means "unknown, check storage".
type Existence struct {
	store  Store
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewExistence wraps store. A zero ttl selects DefaultTTL.
func NewExistence(store Store, ttl time.Duration, logger *slog.Logger) *Existence {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Existence{store: store, ttl: ttl, prefix: "rendition:", logger: logger}
}

// Known reports whether url carries a positive marker. Store errors are
// logged and reported as unknown.
func (e *Existence) Known(ctx context.Context, url string) bool {
	if url == "" {
		return false
	}
	_, ok, err := e.store.Get(ctx, e.prefix+url)
	if err != nil {
		e.logger.Warn("existence cache read failed", "url", url, "error", err)
		return false
	}
	return ok
}

// Remember sets the positive marker for url.
func (e *Existence) Remember(ctx context.Context, url string) error {
	if url == "" {
		return nil
	}
	return e.store.Set(ctx, e.prefix+url, "1", e.ttl)
}

// Forget evicts the marker for url.
func (e *Existence) Forget(ctx context.Context, url string) error {
	if url == "" {
		return nil
	}
	return e.store.Delete(ctx, e.prefix+url)
}
