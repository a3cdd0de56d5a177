package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ksred/klear-swap/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrRunnerStopped = errors.New("job runner stopped")
	ErrInvalidJobID  = errors.New("job id must not be empty")
)

// Handler runs one attempt of a job. attempt starts at 1.
type Handler func(ctx context.Context, id string, attempt int) Outcome

// Config controls concurrency, throughput and retry behavior
type Config struct {
	Concurrency        int
	RateLimit          int           // attempts started per RateWindow
	RateWindow         time.Duration
	MaxAttempts        int
	BackoffBase        time.Duration
	CompletedRetention time.Duration // how long a succeeded id stays deduplicated
	FailedRetention    time.Duration
	JanitorInterval    time.Duration
}

// DefaultConfig matches the production queue settings
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		RateLimit:          100,
		RateWindow:         time.Minute,
		MaxAttempts:        3,
		BackoffBase:        time.Second,
		CompletedRetention: time.Hour,
		FailedRetention:    24 * time.Hour,
		JanitorInterval:    time.Minute,
	}
}

// State is the lifecycle position of a job
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// JobInfo is a snapshot of one job
type JobInfo struct {
	ID       string
	State    State
	Attempts int
	Err      error
}

type job struct {
	id         string
	state      State
	attempts   int
	errs       []error
	finalErr   error
	finishedAt time.Time
	timer      *time.Timer
}

// Option customizes a Runner
type Option func(*Runner)

// WithPostMortemSink replaces the default log sink for permanently failed jobs
func WithPostMortemSink(sink PostMortemSink) Option {
	return func(r *Runner) {
		if sink != nil {
			r.postMortem = sink
		}
	}
}

// Runner executes jobs keyed by id with bounded concurrency, a start-rate
// limit and exponential back-off between attempts. Each id has at most one
// job, so at most one attempt per id is ever in flight.
type Runner struct {
	cfg        Config
	handler    Handler
	postMortem PostMortemSink
	limiter    *rate.Limiter
	logger     zerolog.Logger

	mu        sync.Mutex
	jobs      map[string]*job
	waiting   []string
	delayed   int
	active    int
	succeeded int64
	failed    int64
	total     int64
	started   bool
	stopping  bool

	wake         chan struct{}
	intakeCtx    context.Context
	intakeCancel context.CancelFunc
	jobCtx       context.Context
	jobCancel    context.CancelFunc
	wg           sync.WaitGroup
}

// NewRunner creates a runner. Zero config values fall back to DefaultConfig.
func NewRunner(cfg Config, handler Handler, opts ...Option) *Runner {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = def.JanitorInterval
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(float64(cfg.RateLimit) / cfg.RateWindow.Seconds())
		burst = cfg.RateLimit
	}

	r := &Runner{
		cfg:        cfg,
		handler:    handler,
		postMortem: LogPostMortem,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     log.With().Str("component", "queue").Logger(),
		jobs:       make(map[string]*job),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the workers and the janitor. Cancelling ctx stops intake
// but lets running attempts finish; use Stop to drain.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopping {
		return ErrRunnerStopped
	}
	if r.started {
		return nil
	}
	r.started = true
	r.intakeCtx, r.intakeCancel = context.WithCancel(ctx)
	r.jobCtx, r.jobCancel = context.WithCancel(context.WithoutCancel(ctx))

	r.logger.Info().
		Int("concurrency", r.cfg.Concurrency).
		Int("rate_limit", r.cfg.RateLimit).
		Dur("rate_window", r.cfg.RateWindow).
		Int("max_attempts", r.cfg.MaxAttempts).
		Msg("starting job runner")

	for i := 0; i < r.cfg.Concurrency; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.janitor()

	return nil
}

// Stop refuses new jobs, cancels pending retries and waits for in-flight
// attempts. If ctx expires first, running attempts are cancelled.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	for _, j := range r.jobs {
		if j.timer != nil {
			j.timer.Stop()
			j.timer = nil
		}
	}
	started := r.started
	r.mu.Unlock()

	if !started {
		return nil
	}

	r.logger.Info().Msg("stopping job runner")
	r.intakeCancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.jobCancel()
		r.logger.Info().Msg("job runner stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn().Msg("drain deadline reached, cancelling running jobs")
		r.jobCancel()
		<-done
		return ctx.Err()
	}
}

// Enqueue schedules a job for id. It returns false without error when a job
// for id already exists: waiting, delayed, active, or finished within its
// retention window.
func (r *Runner) Enqueue(id string) (bool, error) {
	return r.enqueue(id, 0)
}

// Resume schedules a job for id that already used attempts attempts, for
// example in a previous process. The next attempt is numbered attempts+1 and
// the usual cap applies; a job with no attempts left is not scheduled.
func (r *Runner) Resume(id string, attempts int) (bool, error) {
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= r.cfg.MaxAttempts {
		return false, nil
	}
	return r.enqueue(id, attempts)
}

func (r *Runner) enqueue(id string, attempts int) (bool, error) {
	if id == "" {
		return false, ErrInvalidJobID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopping {
		return false, ErrRunnerStopped
	}
	if j, ok := r.jobs[id]; ok {
		r.logger.Debug().Str("order_id", id).Str("state", string(j.state)).Msg("duplicate enqueue ignored")
		return false, nil
	}

	r.jobs[id] = &job{id: id, state: StateWaiting, attempts: attempts}
	r.waiting = append(r.waiting, id)
	r.total++
	r.signal()

	r.logger.Debug().Str("order_id", id).Int("prior_attempts", attempts).Msg("job enqueued")
	return true, nil
}

// Metrics returns a live snapshot of the runner
func (r *Runner) Metrics() types.QueueMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return types.QueueMetrics{
		Waiting:   len(r.waiting),
		Delayed:   r.delayed,
		Active:    r.active,
		Succeeded: r.succeeded,
		Failed:    r.failed,
		Total:     r.total,
	}
}

// Job returns the current state of the job for id
func (r *Runner) Job(id string) (JobInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return JobInfo{ID: j.id, State: j.state, Attempts: j.attempts, Err: j.finalErr}, true
}

// signal wakes one idle worker. Caller holds mu.
func (r *Runner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) worker(n int) {
	defer r.wg.Done()
	logger := r.logger.With().Int("worker", n).Logger()

	for {
		if err := r.limiter.Wait(r.intakeCtx); err != nil {
			return
		}
		id, attempt, ok := r.next()
		if !ok {
			logger.Debug().Msg("worker exiting")
			return
		}
		r.process(id, attempt)
	}
}

// next blocks until a job is waiting or intake stops, and marks it active
func (r *Runner) next() (string, int, bool) {
	for {
		r.mu.Lock()
		if r.stopping {
			r.mu.Unlock()
			return "", 0, false
		}
		if len(r.waiting) > 0 {
			id := r.waiting[0]
			r.waiting = r.waiting[1:]
			if len(r.waiting) > 0 {
				r.signal()
			}
			j := r.jobs[id]
			j.state = StateActive
			j.attempts++
			r.active++
			attempt := j.attempts
			r.mu.Unlock()
			return id, attempt, true
		}
		r.mu.Unlock()

		select {
		case <-r.wake:
		case <-r.intakeCtx.Done():
			return "", 0, false
		}
	}
}

func (r *Runner) process(id string, attempt int) {
	logger := r.logger.With().Str("order_id", id).Int("attempt", attempt).Logger()
	logger.Info().Msg("processing job")

	start := time.Now()
	outcome := r.run(id, attempt)

	var pm *PostMortem
	var finalErr error

	r.mu.Lock()
	r.active--
	j := r.jobs[id]
	now := time.Now()

	switch outcome.Kind {
	case KindSuccess:
		j.state = StateSucceeded
		j.finishedAt = now
		r.succeeded++
		logger.Info().Dur("duration", time.Since(start)).Msg("job completed")

	case KindRetryable:
		j.errs = append(j.errs, outcome.Err)
		if attempt < r.cfg.MaxAttempts {
			j.state = StateDelayed
			r.delayed++
			if r.stopping {
				logger.Warn().Err(outcome.Err).Msg("job attempt failed, retry abandoned on shutdown")
				break
			}
			delay := Backoff(r.cfg.BackoffBase, attempt)
			j.timer = time.AfterFunc(delay, func() { r.promote(id) })
			logger.Warn().Err(outcome.Err).Dur("retry_in", delay).Msg("job attempt failed, retrying")
			break
		}
		j.finalErr = &RetryExhaustedError{JobID: id, Attempts: attempt, Errs: append([]error(nil), j.errs...)}
		pm = r.fail(j, now)

	default:
		err := outcome.Err
		if err == nil {
			err = fmt.Errorf("job %s failed without error", id)
		}
		j.errs = append(j.errs, err)
		j.finalErr = err
		pm = r.fail(j, now)
	}
	if pm != nil {
		finalErr = j.finalErr
	}
	r.mu.Unlock()

	if pm != nil {
		logger.Error().Err(finalErr).Msg("job failed permanently")
		r.postMortem(*pm)
	}
}

// fail finishes j as failed. Caller holds mu.
func (r *Runner) fail(j *job, now time.Time) *PostMortem {
	j.state = StateFailed
	j.finishedAt = now
	r.failed++
	pm := newPostMortem(j.id, j.attempts, j.finalErr, j.errs, now)
	return &pm
}

// run invokes the handler, turning a panic into a fatal outcome
func (r *Runner) run(id string, attempt int) (outcome Outcome) {
	defer func() {
		if p := recover(); p != nil {
			outcome = Fatal(fmt.Errorf("job %s panicked: %v", id, p))
		}
	}()
	return r.handler(r.jobCtx, id, attempt)
}

// promote moves a delayed job back to the waiting list
func (r *Runner) promote(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.state != StateDelayed || r.stopping {
		return
	}
	j.timer = nil
	j.state = StateWaiting
	r.delayed--
	r.waiting = append(r.waiting, id)
	r.signal()
}

func (r *Runner) janitor() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.intakeCtx.Done():
			return
		case now := <-ticker.C:
			if n := r.prune(now); n > 0 {
				r.logger.Debug().Int("pruned", n).Msg("pruned finished jobs")
			}
		}
	}
}

// prune forgets finished jobs whose retention window has passed, making
// their ids enqueueable again
func (r *Runner) prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for id, j := range r.jobs {
		var keep time.Duration
		switch j.state {
		case StateSucceeded:
			keep = r.cfg.CompletedRetention
		case StateFailed:
			keep = r.cfg.FailedRetention
		default:
			continue
		}
		if now.Sub(j.finishedAt) >= keep {
			delete(r.jobs, id)
			pruned++
		}
	}
	return pruned
}
