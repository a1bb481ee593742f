// Package reminders texts attendees ahead of an event. Each event is
// reminded at most once per window: the window's latch is claimed
// before the batch goes out, so overlapping runs cannot both send.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"event-rsvp/internal/clock"
	"event-rsvp/internal/jobs"
	"event-rsvp/internal/models"
	"event-rsvp/internal/storage"
)

// TaskSendReminders is the job name of one reminder run.
const TaskSendReminders = "reminders.send"

const timeLayout = "03:04 PM MST"

// Sender makes one delivery attempt. *notify.Dispatcher satisfies it.
type Sender interface {
	Deliver(ctx context.Context, phone, message string) (string, error)
}

// Window is a reminder threshold and the start-time range it covers,
// relative to the run time.
type Window struct {
	Name     models.ReminderWindow
	From, To time.Duration
	message  func(e *models.Event, when, url string) string
}

// Windows run in this order.
var Windows = []Window{
	{
		Name: models.Reminder24h,
		From: 23*time.Hour + 30*time.Minute,
		To:   24*time.Hour + 30*time.Minute,
		message: func(e *models.Event, when, url string) string {
			return fmt.Sprintf("Reminder: %s is tomorrow at %s. Location: %s %s", e.Title, when, e.Location, url)
		},
	},
	{
		Name: models.Reminder1h,
		From: 30 * time.Minute,
		To:   90 * time.Minute,
		message: func(e *models.Event, when, url string) string {
			return fmt.Sprintf("Starting soon: %s at %s. Location: %s %s", e.Title, when, e.Location, url)
		},
	},
}

// Summary tallies one run.
type Summary struct {
	Events int `cbor:"events"`
	Sent   int `cbor:"sent"`
	Errors int `cbor:"errors"`
}

// Service sends reminders.
type Service struct {
	store  *storage.Storage
	sender Sender
	clock  clock.Clock
	domain string
	log    zerolog.Logger
}

// NewService returns a Service. domain builds the short links.
func NewService(store *storage.Storage, sender Sender, clk clock.Clock, domain string, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		sender: sender,
		clock:  clk,
		domain: domain,
		log:    log.With().Str("component", "reminders").Logger(),
	}
}

// Register binds the reminder job to pool.
func (s *Service) Register(pool *jobs.Pool) {
	pool.Register(TaskSendReminders, func(ctx context.Context, job *jobs.Job) (any, error) {
		return s.Run(ctx)
	}, jobs.DefaultRetryPolicy)
}

// Run processes every window. A failing window does not stop the
// next one; their errors are returned together so the job retries.
// Events already latched are skipped on the retry.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	now := s.clock.Now()
	summary := &Summary{}

	var errs []error
	for _, w := range Windows {
		if err := s.runWindow(ctx, w, now, summary); err != nil {
			s.log.Error().Err(err).Str("window", string(w.Name)).Msg("Reminder window failed")
			errs = append(errs, fmt.Errorf("%s reminders: %w", w.Name, err))
		}
	}

	s.log.Info().Int("events", summary.Events).Int("sent", summary.Sent).Int("errors", summary.Errors).
		Msg("Reminder run completed")
	if err := errors.Join(errs...); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Service) runWindow(ctx context.Context, w Window, now time.Time, summary *Summary) error {
	from, to := now.Add(w.From), now.Add(w.To)
	candidates, err := s.store.ListReminderCandidates(ctx, w.Name, from, to)
	if err != nil {
		return err
	}

	for i := range candidates {
		event := &candidates[i]
		if event.StartAt.Before(from) || event.StartAt.After(to) {
			continue
		}

		// Recipients are read before the latch so a failed read leaves
		// the event for the retry.
		phones, err := s.store.ListRSVPPhones(ctx, event.ID, models.RSVPAttending)
		if err != nil {
			return err
		}

		claimed, err := s.store.ClaimReminder(ctx, event.ID, w.Name, now)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		summary.Events++

		message := w.message(event, event.FormatStart(timeLayout), event.ShortURL(s.domain))
		for _, phone := range phones {
			if _, err := s.sender.Deliver(ctx, phone, message); err != nil {
				s.log.Error().Err(err).Str("phone", phone).Str("event_id", event.ID).
					Str("window", string(w.Name)).Msg("Failed to send reminder")
				summary.Errors++
				continue
			}
			summary.Sent++
		}
		s.log.Info().Str("event_id", event.ID).Str("window", string(w.Name)).Int("recipients", len(phones)).
			Msg("Marked reminder sent")
	}
	return nil
}
