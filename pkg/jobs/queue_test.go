package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueueRunsAndDrainsJobs(t *testing.T) {
	q := NewQueue(1, 4, time.Millisecond, zap.NewNop())
	q.Start()

	var ran []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		err := q.Enqueue(Job{Name: name, Run: func(context.Context) error {
			ran = append(ran, name)
			return nil
		}})
		require.NoError(t, err)
	}
	q.Stop()

	require.Equal(t, []string{"first", "second", "third"}, ran)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	q := NewQueue(1, 1, time.Millisecond, zap.NewNop())
	q.Start()

	attempts := 0
	err := q.Enqueue(Job{Name: "flaky", MaxRetries: 2, Run: func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("sink unavailable")
		}
		return nil
	}})
	require.NoError(t, err)
	q.Stop()

	require.Equal(t, 3, attempts)
}

func TestQueueGivesUpAfterRetries(t *testing.T) {
	q := NewQueue(1, 1, time.Millisecond, zap.NewNop())
	q.Start()

	attempts := 0
	err := q.Enqueue(Job{Name: "doomed", MaxRetries: 1, Run: func(context.Context) error {
		attempts++
		return errors.New("sink unavailable")
	}})
	require.NoError(t, err)
	q.Stop()

	require.Equal(t, 2, attempts)
}

func TestQueueFullDropsJob(t *testing.T) {
	q := NewQueue(1, 1, time.Millisecond, zap.NewNop())
	q.Start()

	entered := make(chan struct{})
	gate := make(chan struct{})
	err := q.Enqueue(Job{Name: "blocker", Run: func(context.Context) error {
		close(entered)
		<-gate
		return nil
	}})
	require.NoError(t, err)
	<-entered

	buffered := false
	require.NoError(t, q.Enqueue(Job{Name: "buffered", Run: func(context.Context) error {
		buffered = true
		return nil
	}}))
	require.ErrorIs(t, q.Enqueue(Job{Name: "overflow", Run: func(context.Context) error { return nil }}), ErrQueueFull)

	close(gate)
	q.Stop()

	// Stop drains jobs accepted before the shutdown.
	require.True(t, buffered)
}

func TestQueueStopDuringEnqueueBursts(t *testing.T) {
	q := NewQueue(2, 8, time.Millisecond, zap.NewNop())
	q.Start()

	noop := func(context.Context) error { return nil }
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				err := q.Enqueue(Job{Name: "burst", Run: noop})
				if err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, ErrQueueFull) {
					t.Errorf("unexpected enqueue error: %v", err)
				}
			}
		}()
	}
	q.Stop()
	wg.Wait()

	q.Stop()
	require.ErrorIs(t, q.Enqueue(Job{Name: "late", Run: noop}), ErrStopped)
}
