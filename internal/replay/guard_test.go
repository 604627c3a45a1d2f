package replay

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndRecord_FreshThenReplay(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g := NewGuard(time.Minute, func() time.Time { return now })

	exp := now.Add(time.Hour)
	assert.True(t, g.CheckAndRecord("tok-1", exp))
	assert.False(t, g.CheckAndRecord("tok-1", exp))
	assert.False(t, g.CheckAndRecord("tok-1", exp))
}

func TestCheckAndRecord_DistinctIdentifiers(t *testing.T) {
	g := NewGuard(time.Minute, nil)

	exp := time.Now().Add(time.Hour)
	assert.True(t, g.CheckAndRecord("tok-1", exp))
	assert.True(t, g.CheckAndRecord("tok-2", exp))
	assert.Equal(t, 2, g.Len())
}

func TestCheckAndRecord_ExpiredEntryIsReusable(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	g := NewGuard(time.Minute, func() time.Time { return *clock })

	exp := now.Add(time.Hour)
	assert.True(t, g.CheckAndRecord("tok-1", exp))

	// Within expiry plus grace the slot stays blocked.
	later := now.Add(time.Hour + 30*time.Second)
	clock = &later
	assert.False(t, g.CheckAndRecord("tok-1", exp))

	// Past expiry plus grace of the recorded entry it may be taken again.
	muchLater := now.Add(2 * time.Hour)
	clock = &muchLater
	assert.True(t, g.CheckAndRecord("tok-1", exp))
}

func TestCheckAndRecord_ConcurrentSameIdentifier(t *testing.T) {
	g := NewGuard(time.Minute, nil)
	exp := time.Now().Add(time.Hour)

	const workers = 64
	var fresh atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if g.CheckAndRecord("tok-contended", exp) {
				fresh.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	g := NewGuard(time.Minute, func() time.Time { return *clock })

	for i := 0; i < 100; i++ {
		g.CheckAndRecord(fmt.Sprintf("short-%d", i), now.Add(time.Minute))
	}
	for i := 0; i < 50; i++ {
		g.CheckAndRecord(fmt.Sprintf("long-%d", i), now.Add(time.Hour))
	}
	assert.Equal(t, 150, g.Len())

	// Nothing has aged past expiry plus grace yet.
	assert.Equal(t, 0, g.Sweep())

	later := now.Add(5 * time.Minute)
	clock = &later
	assert.Equal(t, 100, g.Sweep())
	assert.Equal(t, 50, g.Len())
}
