package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds request rate per key (identity or source IP).
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

func (c RateLimitConfig) applyDefaults() RateLimitConfig {
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst == 0 {
		c.Burst = 20
	}
	return c
}

// keyedLimiter holds one token-bucket limiter per key, mirroring the
// mutex-protected per-peer state idiom used throughout torrent/scheduler
// (e.g. peerState) rather than a single shared limiter.
type keyedLimiter struct {
	config   RateLimitConfig
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newKeyedLimiter(config RateLimitConfig) *keyedLimiter {
	return &keyedLimiter{config: config.applyDefaults(), limiters: make(map[string]*rate.Limiter)}
}

func (k *keyedLimiter) allow(key string) bool {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(k.config.RequestsPerSecond), k.config.Burst)
		k.limiters[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}
