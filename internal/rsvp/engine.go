// Package rsvp records attendance. Submit enforces the event's rules:
// RSVPs may be closed, maybe may be disallowed, required questions must
// be answered and capacity only counts distinct attending guests.
package rsvp

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/clock"
	"event-rsvp/internal/models"
	"event-rsvp/internal/storage"
)

const confirmationLayout = "January 02 at 03:04 PM"

// Notifier queues a text message. *notify.Dispatcher satisfies it.
type Notifier interface {
	SendSingle(ctx context.Context, phone, message string) (string, error)
}

// Submission is one RSVP request. Answers are keyed by question id.
type Submission struct {
	EventID string
	UserID  string
	Status  models.RSVPStatus
	Answers map[int64]string
}

// Outcome is the stored RSVP and whether this call created it.
type Outcome struct {
	RSVP    *models.RSVP `json:"rsvp"`
	Created bool         `json:"created"`
}

// Engine applies RSVP submissions.
type Engine struct {
	store    *storage.Storage
	notifier Notifier
	clock    clock.Clock
	domain   string
	log      zerolog.Logger
}

// NewEngine returns an Engine. domain builds the short link in
// confirmation texts.
func NewEngine(store *storage.Storage, notifier Notifier, clk clock.Clock, domain string, log zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		clock:    clk,
		domain:   domain,
		log:      log.With().Str("component", "rsvp").Logger(),
	}
}

// Submit creates or updates the user's RSVP.
func (e *Engine) Submit(ctx context.Context, sub Submission) (*Outcome, error) {
	if !sub.Status.Valid() {
		return nil, apperr.New(apperr.KindValidation, "Please select a valid RSVP status.")
	}

	event, err := e.store.GetActiveEvent(ctx, sub.EventID)
	if err != nil {
		return nil, err
	}
	user, err := e.store.GetUser(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()

	if event.CreatedBy == user.ID {
		r, created, err := e.store.UpsertRSVP(ctx, event.ID, user.ID, models.RSVPAttending, now)
		if err != nil {
			return nil, err
		}
		return &Outcome{RSVP: r, Created: created}, nil
	}

	existing, err := e.store.FindRSVP(ctx, event.ID, user.ID)
	if err != nil {
		return nil, err
	}

	if !event.AllowRSVP && (sub.Status != models.RSVPNotAttending || existing == nil) {
		return nil, apperr.New(apperr.KindValidation, "This event has closed RSVPs.")
	}
	if sub.Status == models.RSVPMaybe && !event.AllowMaybeRSVP {
		return nil, apperr.New(apperr.KindValidation, "This event doesn't allow maybe responses.")
	}

	questions, err := e.store.ListQuestions(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	answers := make(map[int64]string, len(questions))
	for _, q := range questions {
		answers[q.ID] = strings.TrimSpace(sub.Answers[q.ID])
	}
	if sub.Status.RequiresAnswers() {
		if err := checkRequired(questions, answers); err != nil {
			return nil, err
		}
	}

	var outcome Outcome
	err = e.store.InTx(ctx, func(q *storage.Queries) error {
		// Re-read inside the write lock so two guests cannot take the
		// last seat together.
		current, err := q.FindRSVP(ctx, event.ID, user.ID)
		if err != nil {
			return err
		}
		alreadyAttending := current != nil && current.Status == models.RSVPAttending
		if sub.Status == models.RSVPAttending && !alreadyAttending {
			attending, err := q.CountAttending(ctx, event.ID)
			if err != nil {
				return err
			}
			if event.IsFull(attending) {
				return apperr.New(apperr.KindConflict, "This event is full.")
			}
		}

		r, created, err := q.UpsertRSVP(ctx, event.ID, user.ID, sub.Status, now)
		if err != nil {
			return err
		}
		outcome = Outcome{RSVP: r, Created: created}

		if sub.Status == models.RSVPNotAttending {
			return q.DeleteAnswers(ctx, r.ID)
		}
		for _, question := range questions {
			text := answers[question.ID]
			if text != "" || question.IsRequired {
				err = q.UpsertAnswer(ctx, r.ID, event.ID, question.ID, text, now)
			} else {
				err = q.DeleteAnswer(ctx, r.ID, question.ID)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	action := "updated"
	if outcome.Created {
		action = "added"
	}
	e.log.Info().Str("event_id", event.ID).Str("user_id", user.ID).Str("status", string(sub.Status)).
		Msgf("RSVP %s", action)

	e.confirm(ctx, event, user, sub.Status)
	return &outcome, nil
}

func checkRequired(questions []models.EventQuestion, answers map[int64]string) error {
	var missing []string
	for _, q := range questions {
		if q.IsRequired && answers[q.ID] == "" {
			missing = append(missing, q.Text)
		}
	}
	switch len(missing) {
	case 0:
		return nil
	case 1:
		return apperr.Newf(apperr.KindValidation, "Please answer the required question: %s", missing[0])
	}
	return apperr.Newf(apperr.KindValidation, "Please answer the required questions: %s", strings.Join(missing, "; "))
}

// confirm queues the confirmation text. A failure is logged and the
// RSVP stands.
func (e *Engine) confirm(ctx context.Context, event *models.Event, user *models.User, status models.RSVPStatus) {
	message := fmt.Sprintf("You're RSVPed as '%s' for %s on %s. %s",
		status, event.Title, event.FormatStart(confirmationLayout), event.ShortURL(e.domain))
	if _, err := e.notifier.SendSingle(ctx, user.PhoneNumber, message); err != nil {
		e.log.Warn().Err(err).Str("phone", user.PhoneNumber).Msg("Failed to queue RSVP confirmation")
	}
}
