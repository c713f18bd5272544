package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UniQw/fileq/internal/pq"
	"github.com/stretchr/testify/require"
)

func newQueue(keys ...string) *pq.Queue {
	q := pq.New()
	for i, k := range keys {
		q.Put(k, 2, uint64(i+1))
	}
	return q
}

func TestRuntime_StartStop_Idempotent(t *testing.T) {
	q := newQueue()
	rt := New(q, Config{Workers: 2, PollInterval: 10 * time.Millisecond}, func(string) (func(context.Context), bool) {
		return nil, false
	})

	// start/stop multiple times should be safe
	rt.Start()
	rt.Start()
	require.True(t, rt.Running())
	time.Sleep(30 * time.Millisecond)
	rt.Stop()
	rt.Stop()
	require.False(t, rt.Running())

	// restart after stop
	rt.Start()
	require.True(t, rt.Running())
	rt.Stop()
}

func TestRuntime_DispatchesAllKeys(t *testing.T) {
	q := newQueue("a", "b", "c", "d", "e")
	var mu sync.Mutex
	var ran []string
	rt := New(q, Config{Workers: 2, ExecutorSize: 3, PollInterval: 10 * time.Millisecond}, func(key string) (func(context.Context), bool) {
		return func(context.Context) {
			mu.Lock()
			ran = append(ran, key)
			mu.Unlock()
		}, true
	})
	rt.Start()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 5
	}, 2*time.Second, 5*time.Millisecond)
	rt.Stop()
	require.NoError(t, rt.Drain(context.Background()))
	require.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, ran)
	require.Equal(t, 0, q.Unfinished(), "every dequeue must be acknowledged")
}

func TestRuntime_DroppedKeysAreAcknowledged(t *testing.T) {
	q := newQueue("x", "y")
	var claims atomic.Int32
	rt := New(q, Config{Workers: 1, PollInterval: 10 * time.Millisecond}, func(string) (func(context.Context), bool) {
		claims.Add(1)
		return nil, false
	})
	rt.Start()
	require.Eventually(t, func() bool { return claims.Load() == 2 }, time.Second, 5*time.Millisecond)
	rt.Stop()
	require.True(t, q.Empty())
	require.Equal(t, 0, q.Unfinished())
}

func TestRuntime_ExecutorBoundsConcurrency(t *testing.T) {
	keys := []string{"k1", "k2", "k3", "k4", "k5", "k6"}
	q := newQueue(keys...)
	var cur, peak atomic.Int32
	var finished atomic.Int32
	rt := New(q, Config{Workers: 3, ExecutorSize: 2, PollInterval: 10 * time.Millisecond}, func(string) (func(context.Context), bool) {
		return func(context.Context) {
			n := cur.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			cur.Add(-1)
			finished.Add(1)
		}, true
	})
	rt.Start()
	require.Eventually(t, func() bool { return finished.Load() == int32(len(keys)) }, 3*time.Second, 5*time.Millisecond)
	rt.Stop()
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRuntime_SlowBodyDoesNotBlockDispatch(t *testing.T) {
	q := newQueue("slow", "fast")
	release := make(chan struct{})
	fastRan := make(chan struct{})
	rt := New(q, Config{Workers: 1, ExecutorSize: 2, PollInterval: 10 * time.Millisecond}, func(key string) (func(context.Context), bool) {
		if key == "slow" {
			return func(ctx context.Context) {
				select {
				case <-release:
				case <-ctx.Done():
				}
			}, true
		}
		return func(context.Context) { close(fastRan) }, true
	})
	rt.Start()
	defer rt.Stop()

	select {
	case <-fastRan:
	case <-time.After(time.Second):
		t.Fatal("single dispatcher was blocked by a running body")
	}
	close(release)
}

func TestRuntime_StopCancelsBodyContext(t *testing.T) {
	q := newQueue("long")
	started := make(chan struct{})
	rt := New(q, Config{Workers: 1, PollInterval: 10 * time.Millisecond}, func(string) (func(context.Context), bool) {
		return func(ctx context.Context) {
			close(started)
			<-ctx.Done()
		}, true
	})
	rt.Start()
	<-started
	require.Equal(t, 1, rt.InFlight())
	rt.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rt.Drain(ctx))
	require.Equal(t, 0, rt.InFlight())
}

func TestRuntime_ConfigDefaults(t *testing.T) {
	rt := New(newQueue(), Config{}, nil)
	require.Equal(t, 1, rt.CfgWorkers())
	require.Equal(t, 1, rt.CfgExecutorSize())
}
