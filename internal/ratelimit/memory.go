package ratelimit

import (
	"errors"
	"sync"
	"time"
)

var errUnexpectedReply = errors.New("unexpected redis reply shape")

// sweepInterval bounds how often the fallback map is scanned for expired
// entries. Sweeps piggyback on checks; there is no dedicated timer.
const sweepInterval = 5 * time.Minute

type memoryEntry struct {
	count   int
	resetAt time.Time
}

// memoryLimiter is the in-process fallback. Counters live in a plain map
// guarded by a mutex; expired entries are removed opportunistically.
type memoryLimiter struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry
	lastSweep time.Time
	now       func() time.Time
}

func newMemoryLimiter() *memoryLimiter {
	return &memoryLimiter{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (m *memoryLimiter) check(key string, limit Limit) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.maybeSweep(now)

	e, ok := m.entries[key]
	if !ok || !now.Before(e.resetAt) {
		m.entries[key] = &memoryEntry{count: 1, resetAt: now.Add(limit.Window)}
		return Result{Allowed: true, Remaining: limit.Requests - 1, ResetIn: limit.Window}
	}

	if e.count >= limit.Requests {
		return Result{Allowed: false, Remaining: 0, ResetIn: e.resetAt.Sub(now)}
	}

	e.count++
	return Result{
		Allowed:   true,
		Remaining: limit.Requests - e.count,
		ResetIn:   e.resetAt.Sub(now),
	}
}

// maybeSweep drops expired entries, at most once per sweepInterval.
// Caller holds m.mu.
func (m *memoryLimiter) maybeSweep(now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now
	for key, e := range m.entries {
		if !now.Before(e.resetAt) {
			delete(m.entries, key)
		}
	}
}

// millisToDuration converts a PTTL reply to a duration, defaulting to the
// full window when Redis reports no TTL (-1) or a missing key (-2).
func millisToDuration(ms int64, limit Limit) time.Duration {
	if ms < 0 {
		return limit.Window
	}
	return time.Duration(ms) * time.Millisecond
}
