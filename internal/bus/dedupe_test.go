package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupeCache_FirstSeenIsNotDuplicate(t *testing.T) {
	c := NewDedupeCache(time.Minute, 10)
	assert.False(t, c.IsDuplicate("wamid.1"))
	assert.True(t, c.IsDuplicate("wamid.1"))
	assert.False(t, c.IsDuplicate("wamid.2"))
}

func TestDedupeCache_EmptyKeyNeverDuplicate(t *testing.T) {
	c := NewDedupeCache(time.Minute, 10)
	assert.False(t, c.IsDuplicate(""))
	assert.False(t, c.IsDuplicate(""))
	assert.Equal(t, 0, c.Len())
}

func TestDedupeCache_Expiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewDedupeCache(time.Minute, 10)
	c.now = func() time.Time { return now }

	assert.False(t, c.IsDuplicate("k"))
	now = now.Add(59 * time.Second)
	assert.True(t, c.IsDuplicate("k"))
	now = now.Add(2 * time.Second)
	assert.False(t, c.IsDuplicate("k"))
}

func TestDedupeCache_EvictsOldest(t *testing.T) {
	c := NewDedupeCache(time.Hour, 2)
	c.IsDuplicate("a")
	c.IsDuplicate("b")
	c.IsDuplicate("c")

	assert.Equal(t, 2, c.Len())
	assert.False(t, c.IsDuplicate("a"), "oldest key should have been evicted")
}

func TestDedupeCache_Concurrent(t *testing.T) {
	c := NewDedupeCache(time.Hour, 1000)
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if !c.IsDuplicate(fmt.Sprintf("k%d", i%5)) {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, fresh)
}
