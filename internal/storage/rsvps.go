package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"event-rsvp/internal/models"
)

// FindRSVP returns the user's RSVP for the event, or nil if none.
func (q *Queries) FindRSVP(ctx context.Context, eventID, userID string) (*models.RSVP, error) {
	var r models.RSVP
	err := q.getRow(ctx, &r, `SELECT * FROM rsvps WHERE event_id = ? AND user_id = ?`, eventID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rsvp: %w", err)
	}
	return &r, nil
}

// CountAttending counts attending RSVPs. The creator's implicit
// attendance never occupies a seat.
func (q *Queries) CountAttending(ctx context.Context, eventID string) (int, error) {
	var n int
	err := q.getRow(ctx, &n,
		`SELECT COUNT(*) FROM rsvps r
		 JOIN events e ON e.id = r.event_id
		 WHERE r.event_id = ? AND r.status = ? AND r.user_id <> e.created_by`,
		eventID, models.RSVPAttending)
	if err != nil {
		return 0, fmt.Errorf("failed to count attendees: %w", err)
	}
	return n, nil
}

// UpsertRSVP creates or updates the (user, event) RSVP in a single
// statement. created reports whether the row is new.
func (q *Queries) UpsertRSVP(ctx context.Context, eventID, userID string, status models.RSVPStatus, now time.Time) (*models.RSVP, bool, error) {
	id := uuid.NewString()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO rsvps (id, user_id, event_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, event_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		id, userID, eventID, status, now.UTC(), now.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to save rsvp: %w", err)
	}

	r, err := q.FindRSVP(ctx, eventID, userID)
	if err != nil {
		return nil, false, err
	}
	if r == nil {
		return nil, false, fmt.Errorf("rsvp for user %s vanished after upsert", userID)
	}
	return r, r.ID == id, nil
}

// UpsertAnswer writes the answer for a question, but only while the
// question still belongs to eventID.
func (q *Queries) UpsertAnswer(ctx context.Context, rsvpID, eventID string, questionID int64, answer string, now time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO rsvp_answers (rsvp_id, question_id, answer, updated_at)
		 SELECT ?, id, ?, ? FROM event_questions WHERE id = ? AND event_id = ?
		 ON CONFLICT(rsvp_id, question_id) DO UPDATE SET answer = excluded.answer, updated_at = excluded.updated_at`,
		rsvpID, answer, now.UTC(), questionID, eventID)
	if err != nil {
		return fmt.Errorf("failed to save answer: %w", err)
	}
	return nil
}

// DeleteAnswer removes the answer to one question.
func (q *Queries) DeleteAnswer(ctx context.Context, rsvpID string, questionID int64) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM rsvp_answers WHERE rsvp_id = ? AND question_id = ?`, rsvpID, questionID)
	if err != nil {
		return fmt.Errorf("failed to delete answer: %w", err)
	}
	return nil
}

// DeleteAnswers removes every answer of an RSVP.
func (q *Queries) DeleteAnswers(ctx context.Context, rsvpID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM rsvp_answers WHERE rsvp_id = ?`, rsvpID); err != nil {
		return fmt.Errorf("failed to delete answers: %w", err)
	}
	return nil
}

// ListAnswers returns an RSVP's answers in question order.
func (q *Queries) ListAnswers(ctx context.Context, rsvpID string) ([]models.RSVPAnswer, error) {
	var answers []models.RSVPAnswer
	err := q.selectAll(ctx, &answers,
		`SELECT a.* FROM rsvp_answers a
		 JOIN event_questions eq ON eq.id = a.question_id
		 WHERE a.rsvp_id = ?
		 ORDER BY eq.position, eq.id`, rsvpID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	return answers, nil
}

// HasRSVPStatus reports whether the user holds an RSVP in one of statuses.
func (q *Queries) HasRSVPStatus(ctx context.Context, eventID, userID string, statuses ...models.RSVPStatus) (bool, error) {
	query, args, err := sqlx.In(
		`SELECT 1 FROM rsvps WHERE event_id = ? AND user_id = ? AND status IN (?)`,
		eventID, userID, statuses)
	if err != nil {
		return false, fmt.Errorf("failed to build rsvp query: %w", err)
	}
	return q.exists(ctx, query, args...)
}

// ListRSVPPhones returns the phone numbers of guests holding an RSVP in
// statuses. The creator is never a recipient of their own event's texts.
func (q *Queries) ListRSVPPhones(ctx context.Context, eventID string, statuses ...models.RSVPStatus) ([]string, error) {
	query, args, err := sqlx.In(
		`SELECT u.phone_number FROM rsvps r
		 JOIN users u ON u.id = r.user_id
		 JOIN events e ON e.id = r.event_id
		 WHERE r.event_id = ? AND r.status IN (?) AND r.user_id <> e.created_by
		 ORDER BY r.created_at`,
		eventID, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to build recipient query: %w", err)
	}
	var phones []string
	if err := q.selectAll(ctx, &phones, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return phones, nil
}

// Attendee is an RSVP joined with its user, for organizer listings.
type Attendee struct {
	UserID      string            `db:"user_id" json:"user_id"`
	Name        string            `db:"name" json:"name"`
	PhoneNumber string            `db:"phone_number" json:"phone_number"`
	RSVPID      string            `db:"rsvp_id" json:"rsvp_id"`
	Status      models.RSVPStatus `db:"status" json:"status"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// ListAttendees returns every RSVP of the event grouped by status and
// sorted by name.
func (q *Queries) ListAttendees(ctx context.Context, eventID string) ([]Attendee, error) {
	var attendees []Attendee
	err := q.selectAll(ctx, &attendees,
		`SELECT u.id AS user_id, u.name, u.phone_number, r.id AS rsvp_id, r.status, r.updated_at
		 FROM rsvps r
		 JOIN users u ON u.id = r.user_id
		 WHERE r.event_id = ?
		 ORDER BY r.status, u.name, u.phone_number`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendees: %w", err)
	}
	return attendees, nil
}

// ListEventAnswers returns every answer given for the event.
func (q *Queries) ListEventAnswers(ctx context.Context, eventID string) ([]models.RSVPAnswer, error) {
	var answers []models.RSVPAnswer
	err := q.selectAll(ctx, &answers,
		`SELECT a.* FROM rsvp_answers a
		 JOIN rsvps r ON r.id = a.rsvp_id
		 WHERE r.event_id = ?`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	return answers, nil
}
