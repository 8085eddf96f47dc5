// Package ratelimiter throttles how fast the core accepts new sockets.
package ratelimiter

import (
	"golang.org/x/time/rate"
)

// Limiter is a token bucket over accepted connections. A nil *Limiter
// allows everything, so callers can keep it unset when throttling is off.
type Limiter struct {
	limiter *rate.Limiter
}

// New returns a limiter admitting perSecond connections on average with
// bursts of up to burst. perSecond <= 0 returns nil (unlimited). A burst
// below 1 is raised to 1 so the limiter can ever admit anything.
func New(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow consumes a token if one is available.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
