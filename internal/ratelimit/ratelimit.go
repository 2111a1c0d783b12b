// Package ratelimit implements a per-key sliding-window rate limiter.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Limiter tracks request timestamps per key inside a sliding window.
// Separate instances guard separate request classes; they share nothing.
type Limiter struct {
	window time.Duration
	max    int

	mu     sync.Mutex
	events map[string][]time.Time

	now func() time.Time
}

// New builds a Limiter allowing max events per key per window.
func New(window time.Duration, max int) *Limiter {
	return &Limiter{
		window: window,
		max:    max,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records one attempt for key and reports whether it fits the
// window. A denied attempt is not recorded, so being over the limit does
// not push recovery further away.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.prune(key, now)
	if len(kept) >= l.max {
		return false
	}
	l.events[key] = append(kept, now)
	return true
}

// Remaining reports how many attempts key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	left := l.max - len(l.prune(key, l.now()))
	if left < 0 {
		return 0
	}
	return left
}

// RetryAfter returns how long until the oldest recorded attempt leaves the
// window, rounded up to whole seconds and clamped to [1s, window]. With no
// recorded attempts it returns 0.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.prune(key, now)
	if len(kept) == 0 {
		return 0
	}
	wait := kept[0].Add(l.window).Sub(now)
	secs := math.Ceil(wait.Seconds())
	if secs < 1 {
		secs = 1
	}
	if max := l.window.Seconds(); secs > max {
		secs = max
	}
	return time.Duration(secs) * time.Second
}

// Cleanup drops keys whose every event has aged out of the window.
// Intended to run periodically so idle keys do not accumulate.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key := range l.events {
		if len(l.prune(key, now)) == 0 {
			delete(l.events, key)
			removed++
		}
	}
	return removed
}

// prune drops aged-out events for key and returns the survivors. The map
// entry is updated in place; callers hold l.mu.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	events := l.events[key]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		events = events[i:]
		if len(events) == 0 {
			delete(l.events, key)
		} else {
			l.events[key] = events
		}
	}
	return events
}

// Stats summarises limiter occupancy.
type Stats struct {
	Keys          int `json:"keys"`
	Max           int `json:"max"`
	WindowSeconds int `json:"window_seconds"`
}

// Stats reports the number of tracked keys and the limiter parameters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Keys:          len(l.events),
		Max:           l.max,
		WindowSeconds: int(l.window.Seconds()),
	}
}
