package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type transientErr struct{ msg string }

func (e *transientErr) Error() string     { return e.msg }
func (e *transientErr) IsRetriable() bool { return true }

func testConfig() Config {
	return Config{
		Concurrency:        4,
		MaxAttempts:        3,
		BackoffBase:        5 * time.Millisecond,
		CompletedRetention: time.Hour,
		FailedRetention:    24 * time.Hour,
		JanitorInterval:    time.Hour,
	}
}

func startRunner(t *testing.T, cfg Config, h Handler, opts ...Option) *Runner {
	t.Helper()
	r := NewRunner(cfg, h, opts...)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.Stop(ctx)
	})
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{8, 128 * time.Second},
		{64, maxBackoff},
	}
	for _, tt := range tests {
		if got := Backoff(time.Second, tt.attempt); got != tt.want {
			t.Errorf("Backoff(1s, %d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	if o := Classify(nil); o.Kind != KindSuccess {
		t.Errorf("nil classified as %s", o.Kind)
	}
	if o := Classify(fmt.Errorf("wrapped: %w", &transientErr{"x"})); o.Kind != KindRetryable {
		t.Errorf("retriable error classified as %s", o.Kind)
	}
	if o := Classify(errors.New("boom")); o.Kind != KindFatal {
		t.Errorf("plain error classified as %s", o.Kind)
	}

	cause := errors.New("database is locked")
	marked := fmt.Errorf("failed to persist routing: %w", Transient(cause))
	if o := Classify(marked); o.Kind != KindRetryable {
		t.Errorf("transient error classified as %s", o.Kind)
	}
	if !errors.Is(marked, cause) || marked.Error() != "failed to persist routing: database is locked" {
		t.Errorf("transient wrapper changed the error: %v", marked)
	}
	if Transient(nil) != nil {
		t.Error("Transient(nil) must stay nil")
	}
}

func TestRunnerSuccess(t *testing.T) {
	var calls atomic.Int32
	r := startRunner(t, testConfig(), func(ctx context.Context, id string, attempt int) Outcome {
		calls.Add(1)
		if attempt != 1 {
			t.Errorf("attempt = %d, want 1", attempt)
		}
		return Success()
	})

	ok, err := r.Enqueue("o-1")
	if err != nil || !ok {
		t.Fatalf("Enqueue = %v, %v", ok, err)
	}
	waitFor(t, "success", func() bool { return r.Metrics().Succeeded == 1 })

	info, _ := r.Job("o-1")
	if info.State != StateSucceeded || info.Attempts != 1 || info.Err != nil {
		t.Errorf("unexpected job %+v", info)
	}
	m := r.Metrics()
	if m.Total != 1 || m.Active != 0 || m.Waiting != 0 || m.Failed != 0 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestRunnerEnqueueIdempotent(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	r := startRunner(t, testConfig(), func(ctx context.Context, id string, attempt int) Outcome {
		calls.Add(1)
		<-release
		return Success()
	})

	if ok, _ := r.Enqueue("o-1"); !ok {
		t.Fatal("first enqueue rejected")
	}
	waitFor(t, "active", func() bool { return r.Metrics().Active == 1 })
	if ok, err := r.Enqueue("o-1"); ok || err != nil {
		t.Errorf("enqueue of active id = %v, %v; want false, nil", ok, err)
	}

	close(release)
	waitFor(t, "success", func() bool { return r.Metrics().Succeeded == 1 })

	// finished ids stay deduplicated for the retention window
	if ok, _ := r.Enqueue("o-1"); ok {
		t.Error("enqueue within retention accepted")
	}
	if n := r.prune(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Errorf("pruned %d jobs, want 1", n)
	}
	if ok, _ := r.Enqueue("o-1"); !ok {
		t.Error("enqueue after retention rejected")
	}
	waitFor(t, "second run", func() bool { return calls.Load() == 2 })
}

func TestRunnerSingleFlightPerID(t *testing.T) {
	var running, maxRunning, calls atomic.Int32
	r := startRunner(t, testConfig(), func(ctx context.Context, id string, attempt int) Outcome {
		calls.Add(1)
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return Success()
	})

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := r.Enqueue("same"); ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	waitFor(t, "success", func() bool { return r.Metrics().Succeeded == 1 })

	if accepted.Load() != 1 || calls.Load() != 1 || maxRunning.Load() != 1 {
		t.Errorf("accepted=%d calls=%d max=%d, want 1/1/1", accepted.Load(), calls.Load(), maxRunning.Load())
	}
}

func TestRunnerRetriesUpToCap(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	var starts []time.Time
	var pms []PostMortem

	r := startRunner(t, testConfig(), func(ctx context.Context, id string, attempt int) Outcome {
		mu.Lock()
		attempts = append(attempts, attempt)
		starts = append(starts, time.Now())
		mu.Unlock()
		return Retryable(&transientErr{fmt.Sprintf("attempt %d failed", attempt)})
	}, WithPostMortemSink(func(pm PostMortem) {
		mu.Lock()
		pms = append(pms, pm)
		mu.Unlock()
	}))

	r.Enqueue("o-1")
	waitFor(t, "failure", func() bool { return r.Metrics().Failed == 1 })

	mu.Lock()
	defer mu.Unlock()

	if len(attempts) != 3 || attempts[0] != 1 || attempts[1] != 2 || attempts[2] != 3 {
		t.Fatalf("attempts = %v, want [1 2 3]", attempts)
	}
	// back-off doubles from the base
	if gap := starts[1].Sub(starts[0]); gap < 5*time.Millisecond {
		t.Errorf("first retry after %s, want >= 5ms", gap)
	}
	if gap := starts[2].Sub(starts[1]); gap < 10*time.Millisecond {
		t.Errorf("second retry after %s, want >= 10ms", gap)
	}

	info, _ := r.Job("o-1")
	var exhausted *RetryExhaustedError
	if !errors.As(info.Err, &exhausted) {
		t.Fatalf("final error = %v, want RetryExhaustedError", info.Err)
	}
	if exhausted.Attempts != 3 || len(exhausted.Errs) != 3 {
		t.Errorf("unexpected exhausted error %+v", exhausted)
	}

	if len(pms) != 1 {
		t.Fatalf("post-mortems = %d, want 1", len(pms))
	}
	pm := pms[0]
	if pm.OrderID != "o-1" || pm.Attempts != 3 || len(pm.Errors) != 3 || pm.FinalError == "" {
		t.Errorf("unexpected post-mortem %+v", pm)
	}
	if pm.Errors[0] != "attempt 1 failed" || pm.Errors[2] != "attempt 3 failed" {
		t.Errorf("error history = %v", pm.Errors)
	}
}

func TestRunnerRetryThenSuccess(t *testing.T) {
	r := startRunner(t, testConfig(), func(ctx context.Context, id string, attempt int) Outcome {
		if attempt < 3 {
			return Retryable(&transientErr{"not yet"})
		}
		return Success()
	})

	r.Enqueue("o-1")
	waitFor(t, "success", func() bool { return r.Metrics().Succeeded == 1 })

	info, _ := r.Job("o-1")
	if info.Attempts != 3 || info.State != StateSucceeded {
		t.Errorf("unexpected job %+v", info)
	}
	if r.Metrics().Failed != 0 {
		t.Error("recovered job counted as failed")
	}
}

func TestRunnerFatalNotRetried(t *testing.T) {
	errMissing := errors.New("order not found")
	var calls atomic.Int32
	var pmCount atomic.Int32
	r := startRunner(t, testConfig(), func(ctx context.Context, id string, attempt int) Outcome {
		calls.Add(1)
		return Fatal(errMissing)
	}, WithPostMortemSink(func(PostMortem) { pmCount.Add(1) }))

	r.Enqueue("o-1")
	waitFor(t, "failure", func() bool { return r.Metrics().Failed == 1 })

	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("fatal job ran %d times, want 1", calls.Load())
	}
	info, _ := r.Job("o-1")
	if !errors.Is(info.Err, errMissing) {
		t.Errorf("final error = %v", info.Err)
	}
	if pmCount.Load() != 1 {
		t.Errorf("post-mortems = %d, want 1", pmCount.Load())
	}
}

func TestRunnerPanicIsFatal(t *testing.T) {
	r := startRunner(t, testConfig(), func(ctx context.Context, id string, attempt int) Outcome {
		panic("bad handler")
	}, WithPostMortemSink(func(PostMortem) {}))

	r.Enqueue("o-1")
	waitFor(t, "failure", func() bool { return r.Metrics().Failed == 1 })
	if info, _ := r.Job("o-1"); info.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", info.Attempts)
	}
}

func TestRunnerConcurrencyBound(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 3

	var running, maxRunning atomic.Int32
	r := startRunner(t, cfg, func(ctx context.Context, id string, attempt int) Outcome {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return Success()
	})

	for i := 0; i < 12; i++ {
		r.Enqueue(fmt.Sprintf("o-%d", i))
	}
	waitFor(t, "all jobs", func() bool { return r.Metrics().Succeeded == 12 })

	if maxRunning.Load() > 3 {
		t.Errorf("max concurrent attempts = %d, want <= 3", maxRunning.Load())
	}
	if maxRunning.Load() < 2 {
		t.Errorf("max concurrent attempts = %d, workers not running in parallel", maxRunning.Load())
	}
}

func TestRunnerRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 2
	cfg.RateWindow = time.Hour

	var calls atomic.Int32
	r := startRunner(t, cfg, func(ctx context.Context, id string, attempt int) Outcome {
		calls.Add(1)
		return Success()
	})

	for i := 0; i < 5; i++ {
		r.Enqueue(fmt.Sprintf("o-%d", i))
	}
	waitFor(t, "burst", func() bool { return calls.Load() == 2 })
	time.Sleep(50 * time.Millisecond)

	if calls.Load() != 2 {
		t.Errorf("started %d attempts, want the burst of 2", calls.Load())
	}
	if m := r.Metrics(); m.Waiting != 3 {
		t.Errorf("waiting = %d, want 3", m.Waiting)
	}
}

func TestRunnerDelayedMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.BackoffBase = time.Hour

	r := startRunner(t, cfg, func(ctx context.Context, id string, attempt int) Outcome {
		return Retryable(&transientErr{"later"})
	})

	r.Enqueue("o-1")
	waitFor(t, "delayed", func() bool { return r.Metrics().Delayed == 1 })

	m := r.Metrics()
	if m.Active != 0 || m.Waiting != 0 || m.Total != 1 {
		t.Errorf("unexpected metrics %+v", m)
	}
	if info, _ := r.Job("o-1"); info.State != StateDelayed {
		t.Errorf("state = %s, want delayed", info.State)
	}
}

func TestRunnerStopDrainsInFlight(t *testing.T) {
	r := NewRunner(testConfig(), nil)
	var completed atomic.Bool
	started := make(chan struct{})
	r.handler = func(ctx context.Context, id string, attempt int) Outcome {
		close(started)
		select {
		case <-time.After(50 * time.Millisecond):
			completed.Store(true)
			return Success()
		case <-ctx.Done():
			return Retryable(ctx.Err())
		}
	}
	r.Start(context.Background())

	r.Enqueue("o-1")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !completed.Load() {
		t.Error("in-flight attempt was not allowed to finish")
	}
	if _, err := r.Enqueue("o-2"); !errors.Is(err, ErrRunnerStopped) {
		t.Errorf("enqueue after stop = %v, want ErrRunnerStopped", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrRunnerStopped) {
		t.Errorf("restart = %v, want ErrRunnerStopped", err)
	}
}

func TestRunnerStopDeadlineCancelsInFlight(t *testing.T) {
	r := NewRunner(testConfig(), nil)
	var cancelled atomic.Bool
	started := make(chan struct{})
	r.handler = func(ctx context.Context, id string, attempt int) Outcome {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return Retryable(ctx.Err())
	}
	r.Start(context.Background())

	r.Enqueue("o-1")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop = %v, want deadline exceeded", err)
	}
	if !cancelled.Load() {
		t.Error("running attempt was not cancelled")
	}
}

func TestRunnerStopCancelsPendingRetries(t *testing.T) {
	cfg := testConfig()
	cfg.BackoffBase = 30 * time.Millisecond

	var calls atomic.Int32
	r := NewRunner(cfg, func(ctx context.Context, id string, attempt int) Outcome {
		calls.Add(1)
		return Retryable(&transientErr{"again"})
	})
	r.Start(context.Background())

	r.Enqueue("o-1")
	waitFor(t, "delayed", func() bool { return r.Metrics().Delayed == 1 })
	r.Stop(context.Background())

	time.Sleep(80 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("attempts after stop = %d, want 1", calls.Load())
	}
}

func TestRunnerEnqueueBeforeStart(t *testing.T) {
	done := make(chan string, 1)
	r := NewRunner(testConfig(), func(ctx context.Context, id string, attempt int) Outcome {
		done <- id
		return Success()
	})
	if ok, err := r.Enqueue("early"); !ok || err != nil {
		t.Fatalf("Enqueue = %v, %v", ok, err)
	}
	if _, err := r.Enqueue(""); !errors.Is(err, ErrInvalidJobID) {
		t.Errorf("empty id = %v, want ErrInvalidJobID", err)
	}

	r.Start(context.Background())
	defer r.Stop(context.Background())

	select {
	case id := <-done:
		if id != "early" {
			t.Errorf("ran %s, want early", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job enqueued before start never ran")
	}
}

func TestRunnerResumeContinuesAttemptNumbering(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	r := startRunner(t, testConfig(), func(ctx context.Context, id string, attempt int) Outcome {
		mu.Lock()
		attempts = append(attempts, attempt)
		mu.Unlock()
		return Retryable(&transientErr{"venue down"})
	})

	ok, err := r.Resume("o-1", 1)
	if err != nil || !ok {
		t.Fatalf("Resume = %v, %v", ok, err)
	}
	waitFor(t, "exhaustion", func() bool { return r.Metrics().Failed == 1 })

	mu.Lock()
	got := append([]int(nil), attempts...)
	mu.Unlock()
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("attempts = %v, want [2 3]", got)
	}
	if info, _ := r.Job("o-1"); info.Attempts != 3 || info.State != StateFailed {
		t.Errorf("job = %+v", info)
	}

	// nothing left to try
	if ok, err := r.Resume("o-2", 3); ok || err != nil {
		t.Errorf("Resume at cap = %v, %v", ok, err)
	}
	// already tracked
	if ok, _ := r.Resume("o-1", 0); ok {
		t.Error("Resume scheduled a tracked job")
	}
}
