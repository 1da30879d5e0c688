package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"
)

func TestOpsQueue(t *testing.T) {
	t.Run("runs in order", func(t *testing.T) {
		oq := NewOpsQueue(logger.GetLogger(), "test")
		oq.Start()

		var mu sync.Mutex
		var got []int
		for i := 0; i < 1000; i++ {
			i := i
			require.True(t, oq.Enqueue(func() {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
			}))
		}
		oq.Stop()
		<-oq.Done()

		require.Len(t, got, 1000)
		for i, v := range got {
			require.Equal(t, i, v)
		}
	})

	t.Run("drains queued ops on stop", func(t *testing.T) {
		oq := NewOpsQueue(logger.GetLogger(), "test")

		block := make(chan struct{})
		ran := make(chan int, 3)
		oq.Enqueue(func() { <-block; ran <- 0 })
		oq.Enqueue(func() { ran <- 1 })
		oq.Start()
		oq.Enqueue(func() { ran <- 2 })
		oq.Stop()

		require.False(t, oq.Enqueue(func() { ran <- 3 }))
		close(block)

		select {
		case <-oq.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("queue did not stop")
		}
		close(ran)
		var order []int
		for v := range ran {
			order = append(order, v)
		}
		require.Equal(t, []int{0, 1, 2}, order)
	})

	t.Run("stop before start", func(t *testing.T) {
		oq := NewOpsQueue(logger.GetLogger(), "test")
		oq.Stop()
		oq.Stop()
		<-oq.Done()
		oq.Start()
		require.False(t, oq.Enqueue(func() {}))
		require.Equal(t, 0, oq.Len())
	})
}
