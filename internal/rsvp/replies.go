package rsvp

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/clock"
	"event-rsvp/internal/models"
	"event-rsvp/internal/storage"
)

var replyKeywords = []struct {
	status   models.RSVPStatus
	keywords []string
}{
	{models.RSVPNotAttending, []string{"no", "nope", "decline", "declining", "not coming", "can't come", "cant come", "won't come", "can't make it", "❌"}},
	{models.RSVPMaybe, []string{"maybe", "not sure", "might", "perhaps", "🤔"}},
	{models.RSVPAttending, []string{"yes", "yep", "yeah", "accept", "accepting", "attending", "coming", "will come", "will be there", "✅"}},
}

// ReplyHandler turns a text reply to an invitation into an RSVP for
// the event the sender was most recently invited to.
type ReplyHandler struct {
	engine   *Engine
	store    *storage.Storage
	notifier Notifier
	clock    clock.Clock
	domain   string
	log      zerolog.Logger
}

// NewReplyHandler returns a ReplyHandler.
func NewReplyHandler(engine *Engine, store *storage.Storage, notifier Notifier, clk clock.Clock, domain string, log zerolog.Logger) *ReplyHandler {
	return &ReplyHandler{
		engine:   engine,
		store:    store,
		notifier: notifier,
		clock:    clk,
		domain:   domain,
		log:      log.With().Str("component", "rsvp-replies").Logger(),
	}
}

// HandleReply processes one incoming message. Messages that are not a
// clear answer, or come from numbers with no open invitation, are
// ignored.
func (h *ReplyHandler) HandleReply(ctx context.Context, phone, text string) error {
	status, ok := ParseReply(text)
	if !ok {
		return nil
	}

	event, err := h.invitedEvent(ctx, phone)
	if err != nil || event == nil {
		return err
	}

	user, _, err := h.store.GetOrCreateUser(ctx, phone, h.clock.Now())
	if err != nil {
		return err
	}

	_, err = h.engine.Submit(ctx, Submission{EventID: event.ID, UserID: user.ID, Status: status})
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) == apperr.KindInternal {
		return fmt.Errorf("failed to record reply: %w", err)
	}

	// Rule violations go back to the guest with a link to finish on
	// the event page.
	h.log.Info().Err(err).Str("phone", phone).Str("event_id", event.ID).Msg("Reply rejected")
	message := fmt.Sprintf("%s %s", apperr.UserMessage(err), event.ShortURL(h.domain))
	if _, err := h.notifier.SendSingle(ctx, phone, message); err != nil {
		return fmt.Errorf("failed to queue reply: %w", err)
	}
	return nil
}

func (h *ReplyHandler) invitedEvent(ctx context.Context, phone string) (*models.Event, error) {
	events, err := h.store.ListInvitedEvents(ctx, phone)
	if err != nil {
		return nil, err
	}
	now := h.clock.Now()
	for i := range events {
		if !events[i].IsPast(now) {
			return &events[i], nil
		}
	}
	return nil, nil
}

// ParseReply maps free text to an RSVP status. Keywords match whole
// words; declines are checked first so "not coming" is not read as
// "coming".
func ParseReply(text string) (models.RSVPStatus, bool) {
	normalized := " " + strings.Join(strings.FieldsFunc(strings.ToLower(text), isSeparator), " ") + " "
	for _, entry := range replyKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(normalized, " "+keyword+" ") {
				return entry.status, true
			}
		}
	}
	return "", false
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'')
}
