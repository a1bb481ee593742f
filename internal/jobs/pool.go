package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"event-rsvp/internal/apperr"
)

// Handler runs one job. The returned value is stored as the job's
// result on success.
type Handler func(ctx context.Context, job *Job) (any, error)

type task struct {
	handler Handler
	policy  RetryPolicy
}

// Pool runs registered handlers on a fixed number of workers.
type Pool struct {
	queue        *Queue
	concurrency  int
	pollInterval time.Duration
	log          zerolog.Logger

	mu    sync.RWMutex
	tasks map[string]task
}

// NewPool returns a pool of concurrency workers over queue.
func NewPool(queue *Queue, concurrency int, log zerolog.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		queue:        queue,
		concurrency:  concurrency,
		pollInterval: time.Second,
		log:          log.With().Str("component", "worker").Logger(),
		tasks:        make(map[string]task),
	}
}

// Register binds a handler and its retry policy to a job name.
func (p *Pool) Register(name string, handler Handler, policy RetryPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks[name] = task{handler: handler, policy: policy}
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight job has returned.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info().Int("workers", p.concurrency).Msg("Worker pool started")

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.work(ctx, worker)
		}(i)
	}
	wg.Wait()

	p.log.Info().Msg("Worker pool stopped")
	return nil
}

func (p *Pool) work(ctx context.Context, worker int) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		ran, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.Error().Err(err).Int("worker", worker).Msg("Error running job")
		}
		if ran {
			timer.Reset(0)
		} else {
			timer.Reset(p.pollInterval)
		}
	}
}

// RunOnce claims and runs a single due job. It reports whether a job
// was found. Handler failures are recorded on the job, not returned.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.queue.claim(ctx)
	if err != nil || job == nil {
		return false, err
	}
	return true, p.execute(ctx, job)
}

// Drain runs due jobs until none remain.
func (p *Pool) Drain(ctx context.Context) error {
	for {
		ran, err := p.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
}

func (p *Pool) execute(ctx context.Context, job *Job) error {
	log := p.log.With().Str("job_id", job.ID).Str("job", job.Name).Int("attempt", job.Attempt).Logger()

	p.mu.RLock()
	t, ok := p.tasks[job.Name]
	p.mu.RUnlock()
	if !ok {
		log.Error().Msg("No handler registered for job")
		return p.queue.fail(ctx, job, fmt.Errorf("no handler registered for %q", job.Name))
	}

	result, err := invoke(ctx, t.handler, job)
	if err == nil {
		log.Debug().Msg("Job succeeded")
		return p.queue.succeed(ctx, job, result)
	}

	if retry, delay := t.policy.Next(job.Attempt, err); retry {
		log.Warn().Err(err).Dur("retry_in", delay).Msg("Job failed, retrying")
		return p.queue.reschedule(ctx, job, delay, err)
	}

	log.Error().Err(err).Str("kind", string(apperr.KindOf(err))).Msg("Job failed permanently")
	return p.queue.fail(ctx, job, err)
}

// invoke runs the handler, turning a panic into an error so one bad
// job cannot take the worker down.
func invoke(ctx context.Context, handler Handler, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}
