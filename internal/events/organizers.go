package events

import (
	"context"
	"fmt"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/models"
	"event-rsvp/internal/storage"
)

// Organizers returns the creator followed by co-organizers.
func (s *Service) Organizers(ctx context.Context, eventID string) ([]models.User, error) {
	event, err := s.store.GetActiveEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	creator, err := s.store.GetUser(ctx, event.CreatedBy)
	if err != nil {
		return nil, err
	}
	others, err := s.store.ListCoOrganizers(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	return append([]models.User{*creator}, others...), nil
}

// InviteOrganizer adds an existing user to the organizing team and
// texts them about it.
func (s *Service) InviteOrganizer(ctx context.Context, userID, eventID, rawPhone string) (*models.User, error) {
	event, err := s.organizerEvent(ctx, userID, eventID, "Only organizers can add other organizers.")
	if err != nil {
		return nil, err
	}
	number, err := s.phones.Normalize(rawPhone)
	if err != nil {
		return nil, err
	}

	var invitee *models.User
	err = s.store.InTx(ctx, func(q *storage.Queries) error {
		count, err := q.CountCoOrganizers(ctx, event.ID)
		if err != nil {
			return err
		}
		if count+1 >= models.MaxOrganizers {
			return apperr.Newf(apperr.KindValidation, "Events can have at most %d organizers.", models.MaxOrganizers)
		}

		invitee, err = q.GetUserByPhone(ctx, number)
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.New(apperr.KindNotFound, "We couldn't find a user with this phone number. They need to sign up first.")
		}
		if err != nil {
			return err
		}
		if invitee.ID == event.CreatedBy {
			return apperr.New(apperr.KindConflict, "This person already created the event.")
		}
		return q.AddCoOrganizer(ctx, event.ID, invitee.ID, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("You've been added as an organizer for '%s' on %s. %s",
		event.Title, event.FormatStart(inviteTimeLayout), event.ShortURL(s.cfg.SiteDomain))
	if _, err := s.notifier.SendSingle(ctx, invitee.PhoneNumber, message); err != nil {
		s.log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to queue organizer notification")
	}

	s.log.Info().Str("event_id", event.ID).Str("organizer_id", invitee.ID).Msg("Organizer added")
	return invitee, nil
}

// LeaveEvent removes userID from the organizing team.
func (s *Service) LeaveEvent(ctx context.Context, userID, eventID string) error {
	event, err := s.store.GetActiveEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.CreatedBy == userID {
		return apperr.New(apperr.KindValidation, "You created this event, so you can't leave it. Delete the event instead.")
	}
	removed, err := s.store.RemoveCoOrganizer(ctx, event.ID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.New(apperr.KindValidation, "You're not an organizer of this event.")
	}
	s.log.Info().Str("event_id", event.ID).Str("user_id", userID).Msg("Organizer left")
	return nil
}
