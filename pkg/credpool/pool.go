package credpool

import (
	"log/slog"
	"sync"
	"time"
)

// Credential is one upstream access credential handed out by the pool.
type Credential struct {
	Index int
	Key   string
}

// Masked returns a log-safe rendition of the credential key.
func (c Credential) Masked() string {
	if len(c.Key) <= 8 {
		return "****"
	}
	return c.Key[:4] + "…" + c.Key[len(c.Key)-4:]
}

type entry struct {
	key           string
	quarantinedAt time.Time // zero value means available
}

// Pool holds a set of interchangeable upstream credentials with round-robin
// rotation and cooldown-based quarantine. Exactly one entry is current at any
// time. All operations are safe under concurrent turns.
type Pool struct {
	mu       sync.Mutex
	entries  []entry
	current  int
	cooldown time.Duration
	now      func() time.Time // injectable clock for tests
}

// New builds a pool over the given keys. At least one key is required;
// construction with an empty list panics early rather than failing later
// inside the retry loop.
func New(keys []string, cooldown time.Duration) *Pool {
	if len(keys) == 0 {
		panic("credpool: no credentials configured")
	}
	entries := make([]entry, len(keys))
	for i, k := range keys {
		entries[i] = entry{key: k}
	}
	return &Pool{
		entries:  entries,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	return len(p.entries)
}

// Current returns the credential the pool currently points at.
func (p *Pool) Current() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Credential{Index: p.current, Key: p.entries[p.current].key}
}

// MarkFailed quarantines the credential at the given index, recording the
// quarantine timestamp used for cooldown release.
func (p *Pool) MarkFailed(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.entries) {
		return
	}
	p.entries[index].quarantinedAt = p.now()
	slog.Warn("Credential quarantined",
		"index", index,
		"key", Credential{Index: index, Key: p.entries[index].key}.Masked(),
	)
}

// Rotate advances round-robin to the next non-quarantined credential and
// reports whether the current credential changed. Entries whose cooldown has
// elapsed are released first. If every entry is quarantined the pool clears
// all quarantines and resets to index 0: retrying known-bad credentials beats
// refusing all traffic.
//
// With a single credential Rotate is a no-op returning false.
func (p *Pool) Rotate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 1 {
		return false
	}

	p.releaseCooled()

	for step := 1; step < len(p.entries); step++ {
		idx := (p.current + step) % len(p.entries)
		if p.entries[idx].quarantinedAt.IsZero() {
			p.current = idx
			slog.Info("Rotated to credential", "index", idx)
			return true
		}
	}

	// Full cycle found nothing usable: fail open.
	slog.Warn("All credentials quarantined, resetting pool")
	for i := range p.entries {
		p.entries[i].quarantinedAt = time.Time{}
	}
	p.current = 0
	return true
}

// releaseCooled un-quarantines entries whose cooldown has elapsed.
// Caller must hold the lock.
func (p *Pool) releaseCooled() {
	now := p.now()
	for i := range p.entries {
		q := p.entries[i].quarantinedAt
		if !q.IsZero() && now.Sub(q) >= p.cooldown {
			p.entries[i].quarantinedAt = time.Time{}
		}
	}
}
