package cluster

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var km keyedMutex
	const workers = 50

	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			unlock := km.lock("group-a")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var km keyedMutex

	unlock := km.lock("group-a")
	unlock()
	unlock = km.lock("group-b")
	unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks)
}

func TestKeyedMutexIndependentKeysDoNotBlock(t *testing.T) {
	var km keyedMutex

	unlockA := km.lock("group-a")
	done := make(chan struct{})
	go func() {
		unlockB := km.lock("group-b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
