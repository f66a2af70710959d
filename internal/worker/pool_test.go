package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	cfg := Config{
		Workers:   4,
		QueueSize: 100,
	}

	pool := NewPool(cfg)
	defer pool.Close()

	if pool.workers != 4 {
		t.Errorf("workers = %d, want 4", pool.workers)
	}

	if pool.queueSize != 100 {
		t.Errorf("queueSize = %d, want 100", pool.queueSize)
	}
}

func TestNewPool_Defaults(t *testing.T) {
	cfg := Config{} // No configuration

	pool := NewPool(cfg)
	defer pool.Close()

	if pool.workers == 0 {
		t.Error("should have default workers")
	}

	if pool.queueSize == 0 {
		t.Error("should have default queue size")
	}
}

func TestSubmit_Success(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 10})
	defer pool.Close()

	var executed atomic.Bool
	job := JobFunc(func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	err := pool.Submit(context.Background(), job)
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	if !executed.Load() {
		t.Error("job was not executed")
	}

	stats := pool.GetStats()
	if stats.Completed != 1 {
		t.Errorf("completed = %d, want 1", stats.Completed)
	}
}

func TestSubmit_JobError(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 10})
	defer pool.Close()

	expectedErr := errors.New("job failed")
	job := JobFunc(func(ctx context.Context) error {
		return expectedErr
	})

	err := pool.Submit(context.Background(), job)
	if err != expectedErr {
		t.Errorf("Submit() error = %v, want %v", err, expectedErr)
	}

	stats := pool.GetStats()
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
}

func TestSubmit_ContextCanceled(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 10})
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	job := JobFunc(func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})

	err := pool.Submit(ctx, job)
	if err != context.Canceled && err != ErrJobTimeout {
		t.Errorf("Submit() error = %v, want context.Canceled or ErrJobTimeout", err)
	}
}

func TestSubmit_Panic(t *testing.T) {
	var panicCaught atomic.Bool
	pool := NewPool(Config{
		Workers:   2,
		QueueSize: 10,
		PanicHandler: func(r interface{}) {
			panicCaught.Store(true)
		},
	})
	defer pool.Close()

	job := JobFunc(func(ctx context.Context) error {
		panic("test panic")
	})

	err := pool.Submit(context.Background(), job)
	if err == nil {
		t.Error("Submit() should return error when job panics")
	}

	if !panicCaught.Load() {
		t.Error("panic handler was not called")
	}

	stats := pool.GetStats()
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
}

func TestClose(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 10})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				return nil
			}))
		}()
	}
	wg.Wait()

	err := pool.Close()
	if err != nil {
		t.Errorf("Close() error: %v", err)
	}

	err = pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
		return nil
	}))
	if err != ErrPoolClosed {
		t.Errorf("Submit after close error = %v, want ErrPoolClosed", err)
	}
}

func TestConcurrency(t *testing.T) {
	pool := NewPool(Config{Workers: 4, QueueSize: 100})
	defer pool.Close()

	const jobs = 100
	var completed atomic.Uint64

	var wg sync.WaitGroup
	wg.Add(jobs)

	for i := 0; i < jobs; i++ {
		go func() {
			defer wg.Done()

			job := JobFunc(func(ctx context.Context) error {
				time.Sleep(time.Millisecond)
				completed.Add(1)
				return nil
			})

			if err := pool.Submit(context.Background(), job); err != nil {
				t.Errorf("Submit() error: %v", err)
			}
		}()
	}

	wg.Wait()

	if completed.Load() != jobs {
		t.Errorf("completed = %d, want %d", completed.Load(), jobs)
	}

	stats := pool.GetStats()
	if stats.Submitted != jobs {
		t.Errorf("submitted = %d, want %d", stats.Submitted, jobs)
	}
	if stats.Completed != jobs {
		t.Errorf("completed = %d, want %d", stats.Completed, jobs)
	}
}

func TestStats(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 10})
	defer pool.Close()

	pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
		return nil
	}))
	pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
		return errors.New("fail")
	}))

	stats := pool.GetStats()
	if stats.Submitted != 2 {
		t.Errorf("submitted = %d, want 2", stats.Submitted)
	}
	if stats.Completed != 1 {
		t.Errorf("completed = %d, want 1", stats.Completed)
	}
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
}

func TestQueueTimeout(t *testing.T) {
	pool := NewPool(Config{
		Workers:      1,
		QueueSize:    1,
		QueueTimeout: 50 * time.Millisecond,
	})
	defer pool.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		}))
	}()
	go func() {
		defer wg.Done()
		pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		}))
	}()
	time.Sleep(10 * time.Millisecond) // let both occupy the worker and the queue slot

	err := pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
		return nil
	}))

	if err != ErrJobTimeout {
		t.Errorf("Submit() error = %v, want ErrJobTimeout", err)
	}

	stats := pool.GetStats()
	if stats.TimedOut == 0 {
		t.Error("timed out count should be non-zero")
	}

	wg.Wait()
}

func TestQueueDepth(t *testing.T) {
	pool := NewPool(Config{Workers: 1, QueueSize: 100})
	defer pool.Close()

	go pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}))
	time.Sleep(10 * time.Millisecond) // ensure the blocker is running before queuing more

	for i := 0; i < 10; i++ {
		go pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
			return nil
		}))
	}
	time.Sleep(10 * time.Millisecond)

	depth := pool.QueueDepth()
	if depth > 11 {
		t.Errorf("queue depth = %d, seems too high", depth)
	}
}

// BenchmarkSubmit measures worker pool overhead under sequential submission.
func BenchmarkSubmit(b *testing.B) {
	pool := NewPool(Config{Workers: 4, QueueSize: 1000})
	defer pool.Close()

	job := JobFunc(func(ctx context.Context) error {
		return nil
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.Submit(context.Background(), job)
	}
}

// BenchmarkSubmitConcurrent measures worker pool overhead under concurrent submission.
func BenchmarkSubmitConcurrent(b *testing.B) {
	pool := NewPool(Config{Workers: 4, QueueSize: 10000})
	defer pool.Close()

	job := JobFunc(func(ctx context.Context) error {
		return nil
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			pool.Submit(context.Background(), job)
		}
	})
}
