package coordinator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockReleaseDropsEntry(t *testing.T) {
	c := &Coordinator{locks: map[string]*uploadLock{}}

	unlock := c.lock("upload-1")
	c.mu.Lock()
	assert.Len(t, c.locks, 1)
	c.mu.Unlock()

	unlock()

	c.mu.Lock()
	assert.Len(t, c.locks, 0)
	c.mu.Unlock()
}

func TestLockContendedEntryDroppedByLastHolder(t *testing.T) {
	c := &Coordinator{locks: map[string]*uploadLock{}}

	unlock := c.lock("upload-1")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := c.lock("upload-1")
			u()
		}()
	}

	unlock()
	wg.Wait()

	c.mu.Lock()
	assert.Len(t, c.locks, 0)
	c.mu.Unlock()
}
