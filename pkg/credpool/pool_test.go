package credpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCurrentStartsAtFirstKey(t *testing.T) {
	p := New([]string{"alpha", "beta"}, time.Minute)
	c := p.Current()
	assert.Equal(t, 0, c.Index)
	assert.Equal(t, "alpha", c.Key)
}

func TestRotateSkipsQuarantined(t *testing.T) {
	p := New([]string{"a", "b", "c"}, time.Minute)
	p.MarkFailed(0)
	p.MarkFailed(1)

	assert.True(t, p.Rotate())
	assert.Equal(t, 2, p.Current().Index)
}

func TestRotateSingleCredentialIsNoOp(t *testing.T) {
	p := New([]string{"only"}, time.Minute)
	p.MarkFailed(0)

	assert.False(t, p.Rotate())
	assert.Equal(t, 0, p.Current().Index)
}

func TestRotateFailsOpenWhenAllQuarantined(t *testing.T) {
	p := New([]string{"a", "b", "c"}, time.Minute)
	for i := 0; i < 3; i++ {
		p.MarkFailed(i)
	}

	assert.True(t, p.Rotate())
	assert.Equal(t, 0, p.Current().Index)

	// The reset cleared every quarantine: rotation works again.
	assert.True(t, p.Rotate())
	assert.Equal(t, 1, p.Current().Index)
}

// Rotation safety: with N credentials and a rate-limit on every call,
// at most N rotations happen before the pool resets.
func TestRotationBoundedByPoolSize(t *testing.T) {
	const n = 4
	keys := make([]string, n)
	for i := range keys {
		keys[i] = string(rune('a' + i))
	}
	p := New(keys, time.Hour)

	rotations := 0
	for i := 0; i < n; i++ {
		p.MarkFailed(p.Current().Index)
		if p.Rotate() {
			rotations++
		}
	}
	assert.LessOrEqual(t, rotations, n)
	// After the fail-open reset every credential is usable again.
	assert.Equal(t, 0, p.Current().Index)
	p.MarkFailed(p.Current().Index)
	assert.True(t, p.Rotate())
}

func TestCooldownReleasesQuarantine(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := New([]string{"a", "b"}, time.Minute)
	p.now = func() time.Time { return clock }

	p.MarkFailed(0)
	assert.True(t, p.Rotate())
	assert.Equal(t, 1, p.Current().Index)

	// Before cooldown: rotating away from index 1 finds nothing better and
	// either stays or resets; quarantine of 0 still holds.
	p.MarkFailed(1)
	clock = clock.Add(30 * time.Second)
	p.Rotate()

	// After cooldown both entries are eligible again.
	clock = clock.Add(2 * time.Minute)
	assert.True(t, p.Rotate())
}

func TestMaskedKey(t *testing.T) {
	assert.Equal(t, "****", Credential{Key: "short"}.Masked())
	assert.Equal(t, "AIza…wxyz", Credential{Key: "AIzaSomethingLongwxyz"}.Masked())
}

func TestConcurrentRotateAndMark(t *testing.T) {
	p := New([]string{"a", "b", "c", "d"}, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c := p.Current()
				p.MarkFailed(c.Index)
				p.Rotate()
			}
		}()
	}
	wg.Wait()

	idx := p.Current().Index
	assert.GreaterOrEqual(t, idx, 0)
	assert.Less(t, idx, 4)
}
