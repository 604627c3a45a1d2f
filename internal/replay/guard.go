// Package replay tracks recently seen token identifiers so a captured token
// cannot be presented twice within its validity window. Signed tokens are
// not inherently single-use; this guard makes them so at the enforcement
// point.
package replay

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 64

// Guard is a sharded, process-wide map of tokenID → expiry. Check-and-record
// is atomic per tokenID: of N concurrent requests bearing the same
// identifier, exactly one observes "fresh".
type Guard struct {
	shards [shardCount]shard
	grace  time.Duration
	clock  func() time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewGuard creates a Guard. grace extends entry retention past token expiry
// to absorb clock skew between issuer and enforcement point.
func NewGuard(grace time.Duration, clock func() time.Time) *Guard {
	if clock == nil {
		clock = time.Now
	}
	g := &Guard{grace: grace, clock: clock}
	for i := range g.shards {
		g.shards[i].entries = make(map[string]time.Time)
	}
	return g
}

// CheckAndRecord atomically checks whether tokenID has been seen within its
// validity window. It returns true ("fresh") and records the identifier if
// not; it returns false ("replay") if it has.
func (g *Guard) CheckAndRecord(tokenID string, expiresAt time.Time) bool {
	now := g.clock()
	s := &g.shards[shardIndex(tokenID)]

	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, seen := s.entries[tokenID]; seen {
		if now.Before(prior.Add(g.grace)) {
			return false
		}
		// Prior entry expired: the identifier may be recorded again.
		// A legitimate issuer never reuses a jti, but an expired entry
		// must not pin memory or block the slot forever.
	}
	s.entries[tokenID] = expiresAt
	return true
}

// Sweep removes entries whose tokens have expired (plus grace) and returns
// how many were removed. Called periodically to bound memory.
func (g *Guard) Sweep() int {
	now := g.clock()
	removed := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		for id, exp := range s.entries {
			if now.After(exp.Add(g.grace)) {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len reports the number of tracked identifiers across all shards.
func (g *Guard) Len() int {
	n := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

func shardIndex(tokenID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tokenID))
	return int(h.Sum32() % shardCount)
}
