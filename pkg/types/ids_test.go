package types

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntityID_StrictlyIncreasing(t *testing.T) {
	prev := NewEntityID()
	for i := 0; i < 1000; i++ {
		id := NewEntityID()
		require.Greater(t, uint64(id), uint64(prev))
		prev = id
	}
}

func TestNewEntityID_ConcurrentUnique(t *testing.T) {
	const n = 8
	const per = 500

	var mu sync.Mutex
	seen := make(map[EntityID]struct{}, n*per)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]EntityID, 0, per)
			for j := 0; j < per; j++ {
				local = append(local, NewEntityID())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n*per)
}

func TestTopicID_IsLocalTo(t *testing.T) {
	id := TopicID{TopicName: "T", EntityID: 1, ProcessID: 10, HostName: "h1"}
	assert.True(t, id.IsLocalTo("h1"))
	assert.False(t, id.IsLocalTo("h2"))
	assert.Contains(t, id.String(), "T@h1/10")
}
