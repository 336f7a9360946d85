package tracking

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_FilteredDelivery(t *testing.T) {
	h := NewHub[int](4)
	even := h.Subscribe(func(v int) bool { return v%2 == 0 })
	all := h.Subscribe(nil)
	require.NotEqual(t, even.ID, all.ID)

	assert.Equal(t, 2, h.Publish(2))
	assert.Equal(t, 1, h.Publish(3))

	assert.Equal(t, 2, <-even.C)
	assert.Equal(t, 2, <-all.C)
	assert.Equal(t, 3, <-all.C)
}

func TestHub_FullBufferDropsOldest(t *testing.T) {
	h := NewHub[int](2)
	sub := h.Subscribe(nil)
	for i := 1; i <= 5; i++ {
		h.Publish(i)
	}
	assert.Equal(t, 4, <-sub.C)
	assert.Equal(t, 5, <-sub.C)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub[string](0)
	sub := h.Subscribe(nil)
	h.Unsubscribe(sub)
	h.Unsubscribe(sub) // second call is a no-op

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Zero(t, h.Publish("x"))
	assert.Zero(t, h.Len())
}

func TestHub_Close(t *testing.T) {
	h := NewHub[int](1)
	sub := h.Subscribe(nil)
	h.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	late := h.Subscribe(nil)
	_, ok = <-late.C
	assert.False(t, ok, "subscribing after close yields a closed channel")
	assert.Zero(t, h.Publish(1))
}

func TestHub_ConcurrentPublishNeverBlocks(t *testing.T) {
	h := NewHub[int](1)
	subs := make([]*Subscription[int], 8)
	for i := range subs {
		subs[i] = h.Subscribe(nil)
	}
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				h.Publish(i)
			}
		}()
	}
	wg.Wait()
	for _, s := range subs {
		assert.Len(t, s.C, 1)
	}
}
