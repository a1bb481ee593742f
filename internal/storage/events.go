package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/models"
)

// QuestionInput is one questionnaire row as submitted by an organizer.
type QuestionInput struct {
	Text     string `json:"text"`
	Required bool   `json:"is_required"`
}

// InsertEvent stores a new event. A short code collision returns an
// error wrapping ErrDuplicate so the caller can pick another code.
func (q *Queries) InsertEvent(ctx context.Context, e *models.Event) error {
	_, err := q.namedExec(ctx, `
		INSERT INTO events (
			id, title, description, location, start_at, end_at, timezone,
			cover_photo_status, cover_photo_avif_url, cover_photo_webp_url, photo_album_url,
			created_by, short_code, max_attendees, is_active, hide_attendee_count, is_listed,
			allow_rsvp, allow_maybe_rsvp, auto_reminders_enabled,
			reminder_24h_sent, reminder_1h_sent, text_blast_count, created_at, updated_at
		) VALUES (
			:id, :title, :description, :location, :start_at, :end_at, :timezone,
			:cover_photo_status, :cover_photo_avif_url, :cover_photo_webp_url, :photo_album_url,
			:created_by, :short_code, :max_attendees, :is_active, :hide_attendee_count, :is_listed,
			:allow_rsvp, :allow_maybe_rsvp, :auto_reminders_enabled,
			:reminder_24h_sent, :reminder_1h_sent, :text_blast_count, :created_at, :updated_at
		)`, e)
	if isUniqueViolation(err) {
		return fmt.Errorf("short code %q: %w", e.ShortCode, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// UpdateEventDetails writes the organizer-editable fields.
func (q *Queries) UpdateEventDetails(ctx context.Context, e *models.Event) error {
	res, err := q.namedExec(ctx, `
		UPDATE events SET
			title = :title,
			description = :description,
			location = :location,
			start_at = :start_at,
			end_at = :end_at,
			timezone = :timezone,
			photo_album_url = :photo_album_url,
			max_attendees = :max_attendees,
			hide_attendee_count = :hide_attendee_count,
			is_listed = :is_listed,
			allow_rsvp = :allow_rsvp,
			allow_maybe_rsvp = :allow_maybe_rsvp,
			auto_reminders_enabled = :auto_reminders_enabled,
			updated_at = :updated_at
		WHERE id = :id`, e)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return requireRow(res, "event")
}

// GetEvent loads an event by id, active or not.
func (q *Queries) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	if err := q.get(ctx, &e, "event", `SELECT * FROM events WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetActiveEvent loads an event that has not been deleted.
func (q *Queries) GetActiveEvent(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	if err := q.get(ctx, &e, "event", `SELECT * FROM events WHERE id = ? AND is_active = 1`, id); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEventByShortCode resolves a share link.
func (q *Queries) GetEventByShortCode(ctx context.Context, code string) (*models.Event, error) {
	var e models.Event
	if err := q.get(ctx, &e, "event", `SELECT * FROM events WHERE short_code = ? AND is_active = 1`, code); err != nil {
		return nil, err
	}
	return &e, nil
}

// DeactivateEvent hides an event from every listing.
func (q *Queries) DeactivateEvent(ctx context.Context, id string, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE events SET is_active = 0, updated_at = ? WHERE id = ?`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate event: %w", err)
	}
	return requireRow(res, "event")
}

// SetCoverStatus records the cover photo pipeline state.
func (q *Queries) SetCoverStatus(ctx context.Context, id string, status models.CoverStatus, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE events SET cover_photo_status = ?, updated_at = ? WHERE id = ?`, status, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set cover status: %w", err)
	}
	return requireRow(res, "event")
}

// ResetCover clears derivatives ahead of a new upload.
func (q *Queries) ResetCover(ctx context.Context, id string, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE events
		 SET cover_photo_status = ?, cover_photo_avif_url = '', cover_photo_webp_url = '', updated_at = ?
		 WHERE id = ?`, models.CoverPending, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to reset cover: %w", err)
	}
	return requireRow(res, "event")
}

// SetCoverDerivatives stores the derivative URLs and marks the cover
// complete in one statement.
func (q *Queries) SetCoverDerivatives(ctx context.Context, id, avifURL, webpURL string, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE events
		 SET cover_photo_avif_url = ?, cover_photo_webp_url = ?, cover_photo_status = ?, updated_at = ?
		 WHERE id = ?`, avifURL, webpURL, models.CoverComplete, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to store cover derivatives: %w", err)
	}
	return requireRow(res, "event")
}

// candidateSlack widens the SQL start_at range so rows written with a
// non-UTC offset still come back; callers apply the exact bounds.
const candidateSlack = 24 * time.Hour

// ListReminderCandidates returns active events with auto reminders on
// whose latch for window is still open and which start roughly between
// from and to.
func (q *Queries) ListReminderCandidates(ctx context.Context, window models.ReminderWindow, from, to time.Time) ([]models.Event, error) {
	column, err := latchColumn(window)
	if err != nil {
		return nil, err
	}
	var events []models.Event
	query := `SELECT * FROM events
		WHERE is_active = 1 AND auto_reminders_enabled = 1 AND ` + column + ` = 0
		AND start_at >= ? AND start_at <= ?
		ORDER BY start_at`
	err = q.selectAll(ctx, &events, query,
		from.UTC().Add(-candidateSlack), to.UTC().Add(candidateSlack))
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder candidates: %w", err)
	}
	return events, nil
}

// ClaimReminder flips the latch for window from false to true. Only
// the caller that observes true may send that batch.
func (q *Queries) ClaimReminder(ctx context.Context, id string, window models.ReminderWindow, now time.Time) (bool, error) {
	column, err := latchColumn(window)
	if err != nil {
		return false, err
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE events SET `+column+` = 1, updated_at = ? WHERE id = ? AND `+column+` = 0`,
		now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim reminder: %w", err)
	}
	return rowsChanged(res)
}

func latchColumn(window models.ReminderWindow) (string, error) {
	switch window {
	case models.Reminder24h:
		return "reminder_24h_sent", nil
	case models.Reminder1h:
		return "reminder_1h_sent", nil
	}
	return "", fmt.Errorf("unknown reminder window %q", window)
}

// ListQuestions returns the questionnaire in display order.
func (q *Queries) ListQuestions(ctx context.Context, eventID string) ([]models.EventQuestion, error) {
	var questions []models.EventQuestion
	err := q.selectAll(ctx, &questions,
		`SELECT * FROM event_questions WHERE event_id = ? ORDER BY position, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	return questions, nil
}

// SyncQuestions reshapes the questionnaire to match entries. Existing
// rows are updated in place by position so their answers survive;
// surplus rows are deleted along with their answers.
func (q *Queries) SyncQuestions(ctx context.Context, eventID string, entries []QuestionInput, now time.Time) error {
	existing, err := q.ListQuestions(ctx, eventID)
	if err != nil {
		return err
	}

	for order, entry := range entries {
		if order < len(existing) {
			question := existing[order]
			if question.Text == entry.Text && question.IsRequired == entry.Required && question.Order == order {
				continue
			}
			_, err = q.db.ExecContext(ctx,
				`UPDATE event_questions SET text = ?, is_required = ?, position = ? WHERE id = ?`,
				entry.Text, entry.Required, order, question.ID)
		} else {
			_, err = q.db.ExecContext(ctx,
				`INSERT INTO event_questions (event_id, text, is_required, position, created_at) VALUES (?, ?, ?, ?, ?)`,
				eventID, entry.Text, entry.Required, order, now.UTC())
		}
		if err != nil {
			return fmt.Errorf("failed to save question: %w", err)
		}
	}

	for _, question := range existing[min(len(entries), len(existing)):] {
		if _, err := q.db.ExecContext(ctx, `DELETE FROM event_questions WHERE id = ?`, question.ID); err != nil {
			return fmt.Errorf("failed to delete question: %w", err)
		}
	}
	return nil
}

// ListCoOrganizers returns the organizers other than the creator.
func (q *Queries) ListCoOrganizers(ctx context.Context, eventID string) ([]models.User, error) {
	var users []models.User
	err := q.selectAll(ctx, &users,
		`SELECT u.* FROM users u
		 JOIN event_organizers o ON o.user_id = u.id
		 WHERE o.event_id = ?
		 ORDER BY o.added_at`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizers: %w", err)
	}
	return users, nil
}

// IsCoOrganizer reports whether userID was added as an organizer.
func (q *Queries) IsCoOrganizer(ctx context.Context, eventID, userID string) (bool, error) {
	return q.exists(ctx, `SELECT 1 FROM event_organizers WHERE event_id = ? AND user_id = ?`, eventID, userID)
}

// CountCoOrganizers counts organizers other than the creator.
func (q *Queries) CountCoOrganizers(ctx context.Context, eventID string) (int, error) {
	var n int
	if err := q.getRow(ctx, &n, `SELECT COUNT(*) FROM event_organizers WHERE event_id = ?`, eventID); err != nil {
		return 0, fmt.Errorf("failed to count organizers: %w", err)
	}
	return n, nil
}

// AddCoOrganizer adds userID to the organizing team.
func (q *Queries) AddCoOrganizer(ctx context.Context, eventID, userID string, now time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO event_organizers (event_id, user_id, added_at) VALUES (?, ?, ?)`,
		eventID, userID, now.UTC())
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindConflict, "This person is already an organizer.")
	}
	if err != nil {
		return fmt.Errorf("failed to add organizer: %w", err)
	}
	return nil
}

// RemoveCoOrganizer reports whether a row was removed.
func (q *Queries) RemoveCoOrganizer(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM event_organizers WHERE event_id = ? AND user_id = ?`, eventID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove organizer: %w", err)
	}
	return rowsChanged(res)
}

// ReserveTextBlast bumps the blast counter unless limit is reached.
func (q *Queries) ReserveTextBlast(ctx context.Context, eventID string, limit int, now time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE events SET text_blast_count = text_blast_count + 1, updated_at = ?
		 WHERE id = ? AND text_blast_count < ?`, now.UTC(), eventID, limit)
	if err != nil {
		return false, fmt.Errorf("failed to reserve text blast: %w", err)
	}
	return rowsChanged(res)
}

// ReleaseTextBlast undoes a reservation whose blast was never sent and
// removes its record.
func (q *Queries) ReleaseTextBlast(ctx context.Context, eventID, blastID string, now time.Time) error {
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM text_blasts WHERE id = ? AND event_id = ?`, blastID, eventID); err != nil {
		return fmt.Errorf("failed to delete text blast: %w", err)
	}
	_, err := q.db.ExecContext(ctx,
		`UPDATE events SET text_blast_count = text_blast_count - 1, updated_at = ?
		 WHERE id = ? AND text_blast_count > 0`, now.UTC(), eventID)
	if err != nil {
		return fmt.Errorf("failed to release text blast: %w", err)
	}
	return nil
}

// InsertTextBlast appends a blast record.
func (q *Queries) InsertTextBlast(ctx context.Context, b *models.TextBlast) error {
	_, err := q.namedExec(ctx, `
		INSERT INTO text_blasts (id, event_id, sent_by, message, sent_to, recipient_count, display_on_page, created_at)
		VALUES (:id, :event_id, :sent_by, :message, :sent_to, :recipient_count, :display_on_page, :created_at)`, b)
	if err != nil {
		return fmt.Errorf("failed to record text blast: %w", err)
	}
	return nil
}

// ListDisplayedTextBlasts returns blasts organizers chose to show on
// the event page, newest first.
func (q *Queries) ListDisplayedTextBlasts(ctx context.Context, eventID string) ([]models.TextBlast, error) {
	var blasts []models.TextBlast
	err := q.selectAll(ctx, &blasts,
		`SELECT * FROM text_blasts WHERE event_id = ? AND display_on_page = 1 ORDER BY created_at DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list text blasts: %w", err)
	}
	return blasts, nil
}

// InsertInvitation records an invitation; false means the number was
// already invited to the event.
func (q *Queries) InsertInvitation(ctx context.Context, inv *models.EventInvitation) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO event_invitations (event_id, phone_number, invited_by, invited_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT(event_id, phone_number) DO NOTHING`,
		inv.EventID, inv.PhoneNumber, inv.InvitedBy, inv.InvitedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record invitation: %w", err)
	}
	return rowsChanged(res)
}

// DeleteInvitations removes the invitations of phones to eventID.
func (q *Queries) DeleteInvitations(ctx context.Context, eventID string, phones []string) error {
	if len(phones) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`DELETE FROM event_invitations WHERE event_id = ? AND phone_number IN (?)`, eventID, phones)
	if err != nil {
		return fmt.Errorf("failed to build invitation delete: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete invitations: %w", err)
	}
	return nil
}

// ListInvitedEvents returns active events phone was invited to, most
// recent invitation first.
func (q *Queries) ListInvitedEvents(ctx context.Context, phone string) ([]models.Event, error) {
	var events []models.Event
	err := q.selectAll(ctx, &events,
		`SELECT e.* FROM events e
		 JOIN event_invitations i ON i.event_id = e.id
		 WHERE i.phone_number = ? AND e.is_active = 1
		 ORDER BY i.invited_at DESC`, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return events, nil
}
