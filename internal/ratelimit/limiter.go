// Package ratelimit implements the jittered per-key cooldowns that keep the
// bot's query commands from being spammed.
package ratelimit

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Limiter hands out cooldowns drawn uniformly from [min, max) per key. The
// jitter keeps users from timing their retries to the exact second.
type Limiter struct {
	mu   sync.Mutex
	next map[string]time.Time
	min  time.Duration
	max  time.Duration
	clk  Clock
	rng  *mrand.Rand
}

func NewLimiter(min, max time.Duration, clk Clock) *Limiter {
	if clk == nil {
		clk = RealClock{}
	}
	if max < min {
		max = min
	}

	seed := func() int64 {
		var b [8]byte
		if _, err := rand.Read(b[:]); err == nil {
			return int64(binary.LittleEndian.Uint64(b[:]))
		}
		return time.Now().UnixNano()
	}()

	return &Limiter{
		next: make(map[string]time.Time),
		min:  min,
		max:  max,
		clk:  clk,
		rng:  mrand.New(mrand.NewSource(seed)),
	}
}

// TryKey consumes the key's cooldown if it has elapsed. When refused, the
// remaining wait is returned for the "try again in" reply.
func (l *Limiter) TryKey(key string) (bool, time.Duration) {
	now := l.clk.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.next[key]; ok && now.Before(until) {
		return false, until.Sub(now)
	}

	l.next[key] = now.Add(l.nextCooldown())
	return true, 0
}

// TryUser rate-limits one member's command use within a guild.
func (l *Limiter) TryUser(guildID, userID string) (bool, time.Duration) {
	return l.TryKey(guildID + ":" + userID)
}

// TryGuild rate-limits a guild-wide bucket, e.g. the shared leaderboard.
func (l *Limiter) TryGuild(guildID, bucket string) (bool, time.Duration) {
	return l.TryKey("g:" + guildID + "|b:" + bucket)
}

func (l *Limiter) nextCooldown() time.Duration {
	if l.min == l.max {
		return l.min
	}
	span := l.max - l.min

	jitter := time.Duration(l.rng.Int63n(int64(span)))
	return l.min + jitter
}
