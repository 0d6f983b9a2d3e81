package reconnect

import (
	"math/rand/v2"
	"strings"
	"time"
)

const (
	DefaultBaseDelay      = 500 * time.Millisecond
	DefaultMaxDelay       = 30 * time.Second
	DefaultMinDelay       = 300 * time.Millisecond
	DefaultAuthRetryDelay = 300 * time.Millisecond
	DefaultJitterCap      = time.Second
	DefaultMaxAttempts    = 50
	DefaultRefreshTimeout = 10 * time.Second
)

// JitterFunc returns a duration in [0, n). n is always positive.
type JitterFunc func(n time.Duration) time.Duration

func randomJitter(n time.Duration) time.Duration {
	return time.Duration(rand.Int64N(int64(n)))
}

// BaseDelay is min(base * 2^(attempt-1), max) for a 1-based attempt.
func BaseDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= max || d > max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Delay adds jitter drawn from [0, min(jitterCap, base delay)) and clamps
// the result to minDelay.
func Delay(attempt int, cfg Config, jitter JitterFunc) time.Duration {
	d := BaseDelay(attempt, cfg.BaseDelay, cfg.MaxDelay)
	return withJitter(d, cfg.JitterCap, cfg.MinDelay, jitter)
}

func withJitter(d, jitterCap, minDelay time.Duration, jitter JitterFunc) time.Duration {
	window := jitterCap
	if d < window {
		window = d
	}
	if window > 0 && jitter != nil {
		d += jitter(window)
	}
	if d < minDelay {
		d = minDelay
	}
	return d
}

var authSignatures = []string{
	"unauthorized",
	"unauthorised",
	"jwt",
	"token expired",
	"invalid token",
	"authentication",
	"forbidden",
	"status 401",
	"status 403",
}

// IsAuthFailure reports whether a connection error reason looks like a
// rejected or expired credential.
func IsAuthFailure(reason string) bool {
	r := strings.ToLower(reason)
	if r == "" {
		return false
	}
	for _, sig := range authSignatures {
		if strings.Contains(r, sig) {
			return true
		}
	}
	return false
}
