package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockJob implements the Job interface for testing
type MockJob struct {
	id       string
	jobType  string
	duration time.Duration
	err      error
	executed int32
}

func NewMockJob(id, jobType string, duration time.Duration, err error) *MockJob {
	return &MockJob{
		id:       id,
		jobType:  jobType,
		duration: duration,
		err:      err,
	}
}

func (m *MockJob) Execute(ctx context.Context) error {
	atomic.AddInt32(&m.executed, 1)
	if m.duration > 0 {
		select {
		case <-time.After(m.duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func (m *MockJob) ID() string {
	return m.id
}

func (m *MockJob) Type() string {
	return m.jobType
}

func (m *MockJob) ExecutedCount() int32 {
	return atomic.LoadInt32(&m.executed)
}

func TestNewPool(t *testing.T) {
	t.Run("creates pool with valid configuration", func(t *testing.T) {
		config := Config{
			Size:            5,
			QueueSize:       100,
			MaxRetries:      3,
			RetryDelay:      time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       10,
		}

		pool := New(config)

		assert.NotNil(t, pool)
		assert.Equal(t, config.Size, cap(pool.workers))
		assert.Equal(t, config.QueueSize, cap(pool.jobs))
		assert.Equal(t, config.QueueSize, cap(pool.results))
	})

	t.Run("creates pool with default values", func(t *testing.T) {
		pool := New(Config{})

		assert.NotNil(t, pool)
		assert.NotNil(t, pool.ctx)
		assert.NotNil(t, pool.cancel)
	})
}

func TestPoolLifecycle(t *testing.T) {
	t.Run("start and shutdown pool successfully", func(t *testing.T) {
		config := Config{
			Size:            2,
			QueueSize:       10,
			MaxRetries:      1,
			RetryDelay:      100 * time.Millisecond,
			ShutdownTimeout: 2 * time.Second,
		}

		pool := New(config)
		pool.Start()

		job := NewMockJob("test-1", "module", 10*time.Millisecond, nil)
		err := pool.Submit(job)
		assert.NoError(t, err)

		time.Sleep(50 * time.Millisecond)

		err = pool.Shutdown()
		assert.NoError(t, err)

		assert.Equal(t, int32(1), job.ExecutedCount())
	})

	t.Run("handles multiple start calls gracefully", func(t *testing.T) {
		pool := New(Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})

		pool.Start()
		pool.Start()

		err := pool.Shutdown()
		assert.NoError(t, err)
	})
}

func TestJobSubmission(t *testing.T) {
	config := Config{
		Size:            3,
		QueueSize:       5,
		MaxRetries:      2,
		RetryDelay:      50 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	}

	pool := New(config)
	pool.Start()
	defer pool.Shutdown()

	t.Run("submits and executes jobs successfully", func(t *testing.T) {
		jobs := make([]*MockJob, 3)
		for i := 0; i < 3; i++ {
			jobs[i] = NewMockJob(fmt.Sprintf("job-%d", i), "module", 10*time.Millisecond, nil)
			err := pool.Submit(jobs[i])
			assert.NoError(t, err)
		}

		time.Sleep(200 * time.Millisecond)

		for i, job := range jobs {
			assert.Equal(t, int32(1), job.ExecutedCount(), "Job %d should be executed once", i)
		}
	})

	t.Run("returns error when submitting to shut down pool", func(t *testing.T) {
		shutdownPool := New(Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
		shutdownPool.Start()
		shutdownPool.Shutdown()

		err := shutdownPool.Submit(NewMockJob("test", "module", 0, nil))
		assert.Error(t, err)
	})
}

func TestJobExecution(t *testing.T) {
	config := Config{
		Size:            2,
		QueueSize:       10,
		MaxRetries:      3,
		RetryDelay:      10 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	}

	pool := New(config)
	pool.Start()
	defer pool.Shutdown()

	t.Run("executes successful jobs", func(t *testing.T) {
		job := NewMockJob("success-job", "module", 5*time.Millisecond, nil)
		err := pool.Submit(job)
		require.NoError(t, err)

		time.Sleep(100 * time.Millisecond)

		assert.Equal(t, int32(1), job.ExecutedCount())
	})

	t.Run("retries failed jobs", func(t *testing.T) {
		failingJob := NewMockJob("failing-job", "module", 5*time.Millisecond, errors.New("job failed"))
		err := pool.Submit(failingJob)
		require.NoError(t, err)

		time.Sleep(200 * time.Millisecond)

		executed := failingJob.ExecutedCount()
		assert.Greater(t, executed, int32(1), "Job should be retried")
		assert.LessOrEqual(t, executed, int32(config.MaxRetries+1), "Job should not exceed max retries")
	})
}

func TestJobTimeout(t *testing.T) {
	config := Config{
		Size:            1,
		QueueSize:       5,
		MaxRetries:      0,
		JobTimeout:      30 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	}

	pool := New(config)
	pool.Start()
	defer pool.Shutdown()

	slowJob := NewMockJob("slow", "module", time.Second, nil)
	require.NoError(t, pool.Submit(slowJob))

	select {
	case result := <-pool.Results():
		assert.Equal(t, "slow", result.JobID)
		assert.ErrorIs(t, result.Error, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("Should receive timeout result")
	}
}

func TestConcurrentJobProcessing(t *testing.T) {
	config := Config{
		Size:            5,
		QueueSize:       50,
		MaxRetries:      1,
		RetryDelay:      10 * time.Millisecond,
		ShutdownTimeout: 3 * time.Second,
	}

	pool := New(config)
	pool.Start()
	defer pool.Shutdown()

	const numJobs = 20
	jobs := make([]*MockJob, numJobs)

	start := time.Now()
	for i := 0; i < numJobs; i++ {
		jobs[i] = NewMockJob(fmt.Sprintf("concurrent-job-%d", i), "module", 50*time.Millisecond, nil)
		err := pool.Submit(jobs[i])
		require.NoError(t, err)
	}

	time.Sleep(500 * time.Millisecond)
	duration := time.Since(start)

	// With 5 workers, 20 jobs of 50ms each finish in about 4 batches.
	assert.Less(t, duration, 600*time.Millisecond, "Concurrent processing should be faster than sequential")

	for i, job := range jobs {
		assert.Equal(t, int32(1), job.ExecutedCount(), "Job %d should be executed", i)
	}
}

func TestResultCollection(t *testing.T) {
	config := Config{
		Size:            2,
		QueueSize:       5,
		MaxRetries:      1,
		RetryDelay:      10 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	}

	pool := New(config)
	pool.Start()

	successJob := NewMockJob("success", "module", 5*time.Millisecond, nil)
	err := pool.Submit(successJob)
	require.NoError(t, err)

	select {
	case result := <-pool.Results():
		assert.Equal(t, "success", result.JobID)
		assert.Equal(t, "module", result.JobType)
		assert.NoError(t, result.Error)
		assert.GreaterOrEqual(t, result.Duration, time.Duration(0))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Should receive result within timeout")
	}

	pool.Shutdown()
}

func TestGracefulShutdown(t *testing.T) {
	t.Run("waits for in-progress jobs to complete", func(t *testing.T) {
		config := Config{
			Size:            2,
			QueueSize:       5,
			MaxRetries:      1,
			ShutdownTimeout: 3 * time.Second,
		}

		pool := New(config)
		pool.Start()

		shortJob1 := NewMockJob("short-1", "module", 10*time.Millisecond, nil)
		shortJob2 := NewMockJob("short-2", "module", 10*time.Millisecond, nil)

		require.NoError(t, pool.Submit(shortJob1))
		require.NoError(t, pool.Submit(shortJob2))

		time.Sleep(20 * time.Millisecond)

		start := time.Now()
		err := pool.Shutdown()
		shutdownDuration := time.Since(start)

		assert.NoError(t, err)
		assert.Less(t, shutdownDuration, 2*time.Second, "Should not timeout")

		assert.GreaterOrEqual(t, shortJob1.ExecutedCount(), int32(1))
		assert.GreaterOrEqual(t, shortJob2.ExecutedCount(), int32(1))
	})

	t.Run("respects shutdown timeout", func(t *testing.T) {
		config := Config{
			Size:            1,
			QueueSize:       2,
			MaxRetries:      1,
			ShutdownTimeout: 100 * time.Millisecond,
		}

		pool := New(config)
		pool.Start()

		veryLongJob := NewMockJob("very-long", "module", 5*time.Second, nil)
		require.NoError(t, pool.Submit(veryLongJob))

		time.Sleep(20 * time.Millisecond)

		start := time.Now()
		_ = pool.Shutdown()
		shutdownDuration := time.Since(start)

		assert.Less(t, shutdownDuration, 200*time.Millisecond, "Should respect shutdown timeout")
	})

	t.Run("shutdown without start is safe", func(t *testing.T) {
		pool := New(Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
		assert.NoError(t, pool.Shutdown())
	})

	t.Run("multiple shutdown calls are safe", func(t *testing.T) {
		pool := New(Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
		pool.Start()

		assert.NoError(t, pool.Shutdown())
		assert.NoError(t, pool.Shutdown())
		assert.NoError(t, pool.Shutdown())
	})
}

func TestRateLimiting(t *testing.T) {
	config := Config{
		Size:            5,
		QueueSize:       20,
		MaxRetries:      1,
		ShutdownTimeout: 2 * time.Second,
		RateLimit:       5, // 5 jobs per second
	}

	pool := New(config)
	pool.Start()
	defer pool.Shutdown()

	const numJobs = 10
	jobs := make([]*MockJob, numJobs)

	start := time.Now()
	for i := 0; i < numJobs; i++ {
		jobs[i] = NewMockJob(fmt.Sprintf("rate-job-%d", i), "module", time.Millisecond, nil)
		require.NoError(t, pool.Submit(jobs[i]))
	}

	time.Sleep(3 * time.Second)
	duration := time.Since(start)

	expectedMinTime := time.Duration(numJobs/config.RateLimit) * time.Second
	assert.GreaterOrEqual(t, duration, expectedMinTime-100*time.Millisecond,
		"Rate limiting should slow down job processing")

	for i, job := range jobs {
		assert.Equal(t, int32(1), job.ExecutedCount(), "Job %d should complete", i)
	}
}

func TestConcurrentSubmission(t *testing.T) {
	config := Config{
		Size:            3,
		QueueSize:       100,
		MaxRetries:      1,
		ShutdownTimeout: 3 * time.Second,
	}

	pool := New(config)
	pool.Start()
	defer pool.Shutdown()

	const numRoutines = 10
	const jobsPerRoutine = 5
	var wg sync.WaitGroup
	jobs := make([]*MockJob, numRoutines*jobsPerRoutine)

	for r := 0; r < numRoutines; r++ {
		wg.Add(1)
		go func(routineID int) {
			defer wg.Done()
			for j := 0; j < jobsPerRoutine; j++ {
				jobID := routineID*jobsPerRoutine + j
				jobs[jobID] = NewMockJob(
					fmt.Sprintf("concurrent-%d-%d", routineID, j),
					"module",
					20*time.Millisecond,
					nil,
				)
				assert.NoError(t, pool.Submit(jobs[jobID]))
			}
		}(r)
	}

	wg.Wait()
	time.Sleep(time.Second)

	for i, job := range jobs {
		if job != nil {
			assert.Equal(t, int32(1), job.ExecutedCount(), "Job %d should be executed", i)
		}
	}
}

func TestSubmitWait(t *testing.T) {
	t.Run("blocks until queue space frees up", func(t *testing.T) {
		config := Config{
			Size:            1,
			QueueSize:       1,
			ShutdownTimeout: 2 * time.Second,
		}

		pool := New(config)
		pool.Start()
		defer pool.Shutdown()

		// One job on the worker, one filling the queue.
		running := NewMockJob("running", "module", 50*time.Millisecond, nil)
		queued := NewMockJob("queued", "module", 50*time.Millisecond, nil)
		require.NoError(t, pool.Submit(running))
		require.NoError(t, pool.Submit(queued))

		waiting := NewMockJob("waiting", "module", 10*time.Millisecond, nil)
		err := pool.SubmitWait(context.Background(), waiting)
		assert.NoError(t, err)

		time.Sleep(300 * time.Millisecond)
		assert.Equal(t, int32(1), waiting.ExecutedCount())
	})

	t.Run("returns when context is canceled", func(t *testing.T) {
		// Never started, so the queue never drains.
		pool := New(Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
		require.NoError(t, pool.Submit(NewMockJob("filler", "module", 0, nil)))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := pool.SubmitWait(ctx, NewMockJob("blocked", "module", 0, nil))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("returns error on shut down pool", func(t *testing.T) {
		pool := New(Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
		pool.Start()
		require.NoError(t, pool.Shutdown())

		err := pool.SubmitWait(context.Background(), NewMockJob("late", "module", 0, nil))
		assert.Error(t, err)
	})
}

func TestModuleJob(t *testing.T) {
	var gotModule, gotTarget string
	job := NewModuleJob("scan-1", "dns", "example.com",
		func(_ context.Context, module, target string) error {
			gotModule = module
			gotTarget = target
			return nil
		})

	assert.Equal(t, "scan-1/dns", job.ID())
	assert.Equal(t, "module", job.Type())
	assert.Equal(t, "dns", job.Module())
	assert.Equal(t, "scan-1", job.ScanID())

	require.NoError(t, job.Execute(context.Background()))
	assert.Equal(t, "dns", gotModule)
	assert.Equal(t, "example.com", gotTarget)
}

func BenchmarkPoolThroughput(b *testing.B) {
	config := Config{
		Size:            10,
		QueueSize:       1000,
		MaxRetries:      1,
		ShutdownTimeout: 5 * time.Second,
	}

	pool := New(config)
	pool.Start()
	defer pool.Shutdown()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		jobID := 0
		for pb.Next() {
			job := NewMockJob(fmt.Sprintf("bench-%d", jobID), "benchmark", 0, nil)
			if err := pool.Submit(job); err != nil {
				b.Error(err)
			}
			jobID++
		}
	})
}
