package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunPending_ExecutesInOrder(t *testing.T) {
	l := New()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}

	n := l.RunPending()
	assert.Equal(t, 5, n)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, 0, l.RunPending())
}

func TestRunPending_DrainsFunctionsPostedWhileDraining(t *testing.T) {
	l := New()

	ran := false
	l.Post(func() {
		l.Post(func() { ran = true })
	})

	assert.Equal(t, 2, l.RunPending())
	assert.True(t, ran)
}

func TestPost_FromLoopCallbackNeverBlocks(t *testing.T) {
	l := New()

	// a callback queueing far more work than any fixed buffer could hold,
	// the way a large-group teardown queues one cancel per member
	const burst = 10000
	ran := 0
	l.Post(func() {
		for i := 0; i < burst; i++ {
			l.Post(func() { ran++ })
		}
	})

	assert.Equal(t, burst+1, l.RunPending())
	assert.Equal(t, burst, ran)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	executed := make(chan struct{})
	l.Post(func() { close(executed) })

	select {
	case <-executed:
	case <-time.After(2 * time.Second):
		t.Fatal("posted function never ran")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}
