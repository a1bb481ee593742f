package reminders

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Enqueuer is satisfied by *jobs.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args any) (string, error)
}

// Scheduler queues a reminder run on a cron schedule. The run itself
// happens on a worker.
type Scheduler struct {
	cron  *cron.Cron
	queue Enqueuer
	log   zerolog.Logger
}

// NewScheduler parses schedule, a standard five field cron expression.
func NewScheduler(schedule string, queue Enqueuer, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:  cron.New(),
		queue: queue,
		log:   log.With().Str("component", "scheduler").Logger(),
	}
	if _, err := s.cron.AddFunc(schedule, s.fire); err != nil {
		return nil, fmt.Errorf("invalid reminder schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) fire() {
	id, err := s.queue.Enqueue(context.Background(), TaskSendReminders, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to queue reminder run")
		return
	}
	s.log.Debug().Str("job_id", id).Msg("Queued reminder run")
}

// Run starts the schedule and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.log.Info().Msg("Reminder scheduler started")
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
