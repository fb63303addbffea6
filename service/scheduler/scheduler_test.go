package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsJobOnInterval(t *testing.T) {
	var runs atomic.Int32

	s := New()
	s.Add("counter", 10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})
	s.Start()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	s.Stop()
}

func TestSchedulerStopIsDeterministic(t *testing.T) {
	var runs atomic.Int32

	s := New()
	s.Add("counter", 5*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})
	s.Start()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 1
	}, time.Second, time.Millisecond)

	s.Stop()
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop returns")
}

func TestSchedulerJobSeesCancellation(t *testing.T) {
	cancelled := make(chan struct{})

	s := New()
	s.Add("watcher", 5*time.Millisecond, func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})
	s.Start()

	time.Sleep(10 * time.Millisecond)
	s.Stop()

	select {
	case <-cancelled:
	default:
		t.Fatal("job context was not cancelled on Stop")
	}
}
