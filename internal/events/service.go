// Package events manages events and their organizing team: creation,
// editing, invitations, text blasts, cover uploads and share codes.
package events

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/clock"
	"event-rsvp/internal/config"
	"event-rsvp/internal/models"
	"event-rsvp/internal/phone"
	"event-rsvp/internal/storage"
)

// InputTimeLayout is the wire format of start and end times. They are
// read as wall-clock times in the event's timezone.
const InputTimeLayout = "2006-01-02T15:04"

const shortCodeAttempts = 5

// Notifier queues text messages. *notify.Dispatcher satisfies it.
type Notifier interface {
	SendSingle(ctx context.Context, phone, message string) (string, error)
	SendBulk(ctx context.Context, phones []string, message string) (string, error)
}

// CoverQueue starts the image pipeline for a staged upload.
// *media.Processor satisfies it.
type CoverQueue interface {
	Enqueue(ctx context.Context, eventID, tempPath string) (string, error)
}

// Service implements event management.
type Service struct {
	store    *storage.Storage
	notifier Notifier
	covers   CoverQueue
	phones   *phone.Formatter
	cfg      *config.Config
	clock    clock.Clock
	log      zerolog.Logger
	random   io.Reader
}

// NewService returns a Service.
func NewService(store *storage.Storage, notifier Notifier, covers CoverQueue, phones *phone.Formatter, cfg *config.Config, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		covers:   covers,
		phones:   phones,
		cfg:      cfg,
		clock:    clk,
		log:      log.With().Str("component", "events").Logger(),
		random:   rand.Reader,
	}
}

// Input is the organizer-editable part of an event.
type Input struct {
	Title                string                  `json:"title"`
	Description          string                  `json:"description"`
	Location             string                  `json:"location"`
	Start                string                  `json:"start"`
	End                  string                  `json:"end"`
	Timezone             string                  `json:"timezone"`
	PhotoAlbumURL        string                  `json:"photo_album_url"`
	MaxAttendees         *int                    `json:"max_attendees"`
	HideAttendeeCount    *bool                   `json:"hide_attendee_count"`
	IsListed             *bool                   `json:"is_listed"`
	AllowRSVP            *bool                   `json:"allow_rsvp"`
	AllowMaybeRSVP       *bool                   `json:"allow_maybe_rsvp"`
	AutoRemindersEnabled *bool                   `json:"auto_reminders_enabled"`
	Questions            []storage.QuestionInput `json:"questions"`
}

// setFlag copies an optional setting; nil keeps the current value.
func setFlag(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// apply validates in and copies it onto e. requireFuture rejects a
// start time that is not after now.
func (in *Input) apply(e *models.Event, now time.Time, requireFuture bool) ([]storage.QuestionInput, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.New(apperr.KindValidation, "Please enter a title.")
	}

	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "Please choose a valid timezone.")
	}

	start, err := time.ParseInLocation(InputTimeLayout, strings.TrimSpace(in.Start), loc)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "Please enter a valid start date and time.")
	}
	if requireFuture && !start.After(now) {
		return nil, apperr.New(apperr.KindValidation, "The event must start in the future.")
	}

	var end *time.Time
	if raw := strings.TrimSpace(in.End); raw != "" {
		parsed, err := time.ParseInLocation(InputTimeLayout, raw, loc)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, err, "Please enter a valid end date and time.")
		}
		if parsed.Before(start) {
			return nil, apperr.New(apperr.KindValidation, "The event can't end before it starts.")
		}
		parsed = parsed.UTC()
		end = &parsed
	}

	if in.MaxAttendees != nil && *in.MaxAttendees < 1 {
		return nil, apperr.New(apperr.KindValidation, "Max attendees must be at least 1.")
	}

	var questions []storage.QuestionInput
	for _, q := range in.Questions {
		if text := strings.TrimSpace(q.Text); text != "" {
			questions = append(questions, storage.QuestionInput{Text: text, Required: q.Required})
		}
	}
	if len(questions) > models.MaxQuestions {
		return nil, apperr.Newf(apperr.KindValidation, "Events can have at most %d questions.", models.MaxQuestions)
	}

	e.Title = title
	e.Description = strings.TrimSpace(in.Description)
	e.Location = strings.TrimSpace(in.Location)
	e.StartAt = start.UTC()
	e.EndAt = end
	e.Timezone = tz
	e.PhotoAlbumURL = strings.TrimSpace(in.PhotoAlbumURL)
	e.MaxAttendees = in.MaxAttendees
	setFlag(&e.HideAttendeeCount, in.HideAttendeeCount)
	setFlag(&e.IsListed, in.IsListed)
	setFlag(&e.AllowRSVP, in.AllowRSVP)
	setFlag(&e.AllowMaybeRSVP, in.AllowMaybeRSVP)
	setFlag(&e.AutoRemindersEnabled, in.AutoRemindersEnabled)
	return questions, nil
}

// CreateEvent creates an event owned by userID. The creator is
// recorded as attending.
func (s *Service) CreateEvent(ctx context.Context, userID string, in Input) (*models.Event, error) {
	if !s.cfg.CanCreateEvents(userID) {
		return nil, apperr.New(apperr.KindPermission, "You don't have permission to create events.")
	}
	creator, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	event := &models.Event{
		ID:                   uuid.NewString(),
		CoverStatus:          models.CoverComplete,
		CreatedBy:            creator.ID,
		IsActive:             true,
		IsListed:             true,
		AllowRSVP:            true,
		AllowMaybeRSVP:       true,
		AutoRemindersEnabled: true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	questions, err := in.apply(event, now, true)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		event.ShortCode, err = s.newShortCode()
		if err != nil {
			return nil, err
		}
		err = s.store.InTx(ctx, func(q *storage.Queries) error {
			if err := q.InsertEvent(ctx, event); err != nil {
				return err
			}
			if err := q.SyncQuestions(ctx, event.ID, questions, now); err != nil {
				return err
			}
			_, _, err := q.UpsertRSVP(ctx, event.ID, creator.ID, models.RSVPAttending, now)
			return err
		})
		if !errors.Is(err, storage.ErrDuplicate) || attempt+1 >= shortCodeAttempts {
			break
		}
		s.log.Warn().Str("short_code", event.ShortCode).Msg("Short code collision, retrying")
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("event_id", event.ID).Str("user_id", creator.ID).Msg("Event created")
	return event, nil
}

// newShortCode draws six random bytes, giving eight URL-safe characters.
func (s *Service) newShortCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("failed to generate short code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// UpdateEvent edits an event. Only organizers may edit. Questions are
// matched by position so answers to unchanged questions survive.
func (s *Service) UpdateEvent(ctx context.Context, userID, eventID string, in Input) (*models.Event, error) {
	event, err := s.organizerEvent(ctx, userID, eventID, "Only organizers can edit this event.")
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	previousStart := event.StartAt
	questions, err := in.apply(event, now, false)
	if err != nil {
		return nil, err
	}
	if !event.StartAt.Equal(previousStart) && !event.StartAt.After(now) {
		return nil, apperr.New(apperr.KindValidation, "The event must start in the future.")
	}
	event.UpdatedAt = now

	err = s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := q.UpdateEventDetails(ctx, event); err != nil {
			return err
		}
		return q.SyncQuestions(ctx, event.ID, questions, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("event_id", event.ID).Str("user_id", userID).Msg("Event updated")
	return event, nil
}

// DeleteEvent deactivates an event. Only its creator may delete it.
func (s *Service) DeleteEvent(ctx context.Context, userID, eventID string) error {
	event, err := s.store.GetActiveEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.CreatedBy != userID {
		return apperr.New(apperr.KindPermission, "Only the event creator can delete this event.")
	}
	if err := s.store.DeactivateEvent(ctx, event.ID, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info().Str("event_id", event.ID).Str("user_id", userID).Msg("Event deleted")
	return nil
}

// Details is an event with what its page shows.
type Details struct {
	Event          *models.Event          `json:"event"`
	Questions      []models.EventQuestion `json:"questions"`
	AttendingCount *int                   `json:"attending_count,omitempty"`
	ShortURL       string                 `json:"short_url"`
	Blasts         []models.TextBlast     `json:"text_blasts"`
	IsOrganizer    bool                   `json:"is_organizer"`
	MyRSVP         *models.RSVP           `json:"my_rsvp,omitempty"`
}

// GetEvent returns an active event's page data for viewerID, which may
// be empty for anonymous viewers.
func (s *Service) GetEvent(ctx context.Context, viewerID, eventID string) (*Details, error) {
	event, err := s.store.GetActiveEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return s.details(ctx, viewerID, event)
}

// GetEventByShortCode resolves a share link.
func (s *Service) GetEventByShortCode(ctx context.Context, viewerID, code string) (*Details, error) {
	event, err := s.store.GetEventByShortCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.details(ctx, viewerID, event)
}

func (s *Service) details(ctx context.Context, viewerID string, event *models.Event) (*Details, error) {
	d := &Details{Event: event, ShortURL: event.ShortURL(s.cfg.SiteDomain)}

	var err error
	if d.Questions, err = s.store.ListQuestions(ctx, event.ID); err != nil {
		return nil, err
	}
	if d.Blasts, err = s.store.ListDisplayedTextBlasts(ctx, event.ID); err != nil {
		return nil, err
	}
	if viewerID != "" {
		if d.IsOrganizer, err = s.isOrganizer(ctx, event, viewerID); err != nil {
			return nil, err
		}
		if d.MyRSVP, err = s.store.FindRSVP(ctx, event.ID, viewerID); err != nil {
			return nil, err
		}
	}
	if !event.HideAttendeeCount || d.IsOrganizer {
		n, err := s.store.CountAttending(ctx, event.ID)
		if err != nil {
			return nil, err
		}
		d.AttendingCount = &n
	}
	return d, nil
}

func (s *Service) isOrganizer(ctx context.Context, event *models.Event, userID string) (bool, error) {
	if event.CreatedBy == userID {
		return true, nil
	}
	return s.store.IsCoOrganizer(ctx, event.ID, userID)
}

// organizerEvent loads an active event and checks userID organizes it.
func (s *Service) organizerEvent(ctx context.Context, userID, eventID, denied string) (*models.Event, error) {
	event, err := s.store.GetActiveEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	ok, err := s.isOrganizer(ctx, event, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindPermission, denied)
	}
	return event, nil
}
