package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/models"
	"event-rsvp/internal/phone"
	"event-rsvp/internal/storage"
)

const inviteTimeLayout = "Jan 02 at 03:04 PM MST"

// InviteResult tallies one invitation batch.
type InviteResult struct {
	Sent           int      `json:"sent"`
	AlreadyInvited int      `json:"already_invited"`
	Invalid        []string `json:"invalid"`
}

// InviteGuests texts an invitation to each number in raw, a comma or
// newline separated list. Numbers already invited are skipped.
// Organizers and guests who are attending or maybe may invite.
func (s *Service) InviteGuests(ctx context.Context, userID, eventID, raw string) (*InviteResult, error) {
	event, err := s.store.GetActiveEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	allowed, err := s.isOrganizer(ctx, event, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		allowed, err = s.store.HasRSVPStatus(ctx, event.ID, userID, models.RSVPAttending, models.RSVPMaybe)
		if err != nil {
			return nil, err
		}
	}
	if !allowed {
		return nil, apperr.New(apperr.KindPermission, "Only organizers and guests who RSVPed can send invites.")
	}

	entries := phone.SplitList(raw)
	if len(entries) == 0 {
		return nil, apperr.New(apperr.KindValidation, "Please enter at least one phone number.")
	}
	if len(entries) > models.MaxInvitesPerBatch {
		return nil, apperr.Newf(apperr.KindValidation, "You can send a maximum of %d invites at once.", models.MaxInvitesPerBatch)
	}

	inviter, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &InviteResult{Invalid: []string{}}
	var recipients []string
	seen := make(map[string]bool)
	now := s.clock.Now()
	err = s.store.InTx(ctx, func(q *storage.Queries) error {
		for _, entry := range entries {
			number, err := s.phones.Normalize(entry)
			if err != nil {
				result.Invalid = append(result.Invalid, entry)
				continue
			}
			if seen[number] {
				continue
			}
			seen[number] = true

			created, err := q.InsertInvitation(ctx, &models.EventInvitation{
				EventID:     event.ID,
				PhoneNumber: number,
				InvitedBy:   inviter.ID,
				InvitedAt:   now,
			})
			if err != nil {
				return err
			}
			if !created {
				result.AlreadyInvited++
				continue
			}
			recipients = append(recipients, number)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(recipients) > 0 {
		name := inviter.Name
		if name == "" {
			name = "Someone"
		}
		message := fmt.Sprintf("%s invited you to '%s' on %s. RSVP: %s",
			name, event.Title, event.FormatStart(inviteTimeLayout), event.ShortURL(s.cfg.SiteDomain))
		if _, err := s.notifier.SendBulk(ctx, recipients, message); err != nil {
			// Unsent numbers must not count as already invited on retry.
			if derr := s.store.DeleteInvitations(ctx, event.ID, recipients); derr != nil {
				s.log.Error().Err(derr).Str("event_id", event.ID).Msg("Failed to roll back invitations")
			}
			return nil, err
		}
		result.Sent = len(recipients)
	}

	s.log.Info().
		Str("event_id", event.ID).
		Int("sent", result.Sent).
		Int("already_invited", result.AlreadyInvited).
		Int("invalid", len(result.Invalid)).
		Msg("Invitations sent")
	return result, nil
}

// BlastInput is an organizer's broadcast request.
type BlastInput struct {
	Message       string               `json:"message"`
	Audience      models.BlastAudience `json:"sent_to"`
	DisplayOnPage bool                 `json:"display_on_page"`
}

// SendTextBlast broadcasts a message to the chosen RSVP holders. The
// per-event limit is reserved atomically with the record.
func (s *Service) SendTextBlast(ctx context.Context, userID, eventID string, in BlastInput) (*models.TextBlast, error) {
	event, err := s.organizerEvent(ctx, userID, eventID, "Only organizers can send text blasts.")
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(in.Message)
	if text == "" {
		return nil, apperr.New(apperr.KindValidation, "Please enter a message.")
	}
	switch in.Audience {
	case models.AudienceAttending, models.AudienceMaybe, models.AudienceBoth:
	case "":
		in.Audience = models.AudienceAttending
	default:
		return nil, apperr.New(apperr.KindValidation, "Please choose who should receive this message.")
	}

	message := fmt.Sprintf("[%s] %s %s", event.Title, text, event.ShortURL(s.cfg.SiteDomain))
	now := s.clock.Now().UTC()
	var (
		blast      *models.TextBlast
		recipients []string
	)
	err = s.store.InTx(ctx, func(q *storage.Queries) error {
		var err error
		recipients, err = q.ListRSVPPhones(ctx, event.ID, in.Audience.Statuses()...)
		if err != nil {
			return err
		}
		if len(recipients) == 0 {
			return apperr.New(apperr.KindValidation, "We couldn't find any recipients for this selection.")
		}

		reserved, err := q.ReserveTextBlast(ctx, event.ID, models.MaxTextBlasts, now)
		if err != nil {
			return err
		}
		if !reserved {
			return apperr.Newf(apperr.KindValidation, "You've reached the text blast limit (%d per event).", models.MaxTextBlasts)
		}

		blast = &models.TextBlast{
			ID:             uuid.NewString(),
			EventID:        event.ID,
			SentBy:         userID,
			Message:        text,
			SentTo:         in.Audience,
			RecipientCount: len(recipients),
			DisplayOnPage:  in.DisplayOnPage,
			CreatedAt:      now,
		}
		return q.InsertTextBlast(ctx, blast)
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.notifier.SendBulk(ctx, recipients, message); err != nil {
		rerr := s.store.InTx(ctx, func(q *storage.Queries) error {
			return q.ReleaseTextBlast(ctx, event.ID, blast.ID, now)
		})
		if rerr != nil {
			s.log.Error().Err(rerr).Str("event_id", event.ID).Msg("Failed to release text blast")
		}
		return nil, err
	}

	s.log.Info().
		Str("event_id", event.ID).
		Str("audience", string(in.Audience)).
		Int("recipients", len(recipients)).
		Msg("Text blast queued")
	return blast, nil
}
