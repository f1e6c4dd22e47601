// Package ratelimit bounds failed login attempts per username with a
// sliding window and a lockout period. State is in-memory; a process
// restart resets it.
package ratelimit

import (
	"sync"
	"time"
)

// Default limiter settings.
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 5 * time.Minute
	DefaultLockout     = 15 * time.Minute
)

// Settings holds the tunable limiter parameters.
type Settings struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

// DefaultSettings returns the standard attempt/window/lockout values.
func DefaultSettings() Settings {
	return Settings{
		MaxAttempts: DefaultMaxAttempts,
		Window:      DefaultWindow,
		Lockout:     DefaultLockout,
	}
}

type entry struct {
	attempts    int
	lastAttempt time.Time
	lockedUntil time.Time
}

// Outcome describes the limiter state after recording an attempt.
type Outcome struct {
	// Remaining is how many failed attempts are left before lockout.
	Remaining int
	// Locked is true when this attempt triggered the lockout.
	Locked bool
}

// Limiter tracks login attempts per username. All methods are safe for
// concurrent use; the compound read-modify-write in Allow and Record is
// serialized by the mutex.
type Limiter struct {
	mu       sync.Mutex
	settings Settings
	entries  map[string]*entry

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Limiter with the given settings.
func New(s Settings) *Limiter {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.Window <= 0 {
		s.Window = DefaultWindow
	}
	if s.Lockout <= 0 {
		s.Lockout = DefaultLockout
	}
	return &Limiter{
		settings: s,
		entries:  make(map[string]*entry),
		now:      time.Now,
	}
}

// UpdateSettings replaces the limiter parameters. Existing lockouts and
// counters keep their recorded horizons.
func (l *Limiter) UpdateSettings(s Settings) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.MaxAttempts > 0 {
		l.settings.MaxAttempts = s.MaxAttempts
	}
	if s.Window > 0 {
		l.settings.Window = s.Window
	}
	if s.Lockout > 0 {
		l.settings.Lockout = s.Lockout
	}
}

// Allow reports whether username may attempt a login now. When denied,
// retryMinutes is the remaining lockout time rounded up to whole minutes.
// Allow runs before any credential check, so a locked user is rejected
// even with the correct password.
func (l *Limiter) Allow(username string) (ok bool, retryMinutes int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, found := l.entries[username]
	if !found {
		return true, 0
	}
	now := l.now()

	if !e.lockedUntil.IsZero() {
		if now.Before(e.lockedUntil) {
			remaining := e.lockedUntil.Sub(now)
			minutes := int(remaining / time.Minute)
			if remaining%time.Minute != 0 {
				minutes++
			}
			return false, minutes
		}
		// Lockout expired.
		e.attempts = 0
		e.lockedUntil = time.Time{}
	}

	// Sliding window: stale counters reset.
	if !e.lastAttempt.IsZero() && now.Sub(e.lastAttempt) > l.settings.Window {
		e.attempts = 0
	}
	return true, 0
}

// Record registers the result of a login attempt. A success clears the
// counter; reaching MaxAttempts failures starts the lockout.
func (l *Limiter) Record(username string, success bool) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, found := l.entries[username]
	if !found {
		e = &entry{}
		l.entries[username] = e
	}
	now := l.now()
	e.lastAttempt = now

	if success {
		e.attempts = 0
		e.lockedUntil = time.Time{}
		return Outcome{Remaining: l.settings.MaxAttempts}
	}

	e.attempts++
	if e.attempts >= l.settings.MaxAttempts {
		e.lockedUntil = now.Add(l.settings.Lockout)
		return Outcome{Remaining: 0, Locked: true}
	}
	return Outcome{Remaining: l.settings.MaxAttempts - e.attempts}
}

// LockoutMinutes returns the configured lockout length in whole minutes.
func (l *Limiter) LockoutMinutes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.settings.Lockout / time.Minute)
}
